// Package export writes investigation results to an XLSX workbook.
package export

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/research-agent/internal/model"
)

// Sheet names in the exported workbook.
const (
	SummarySheet = "Summary"
	DetailSheet  = "Details"
)

var entityColumns = []string{"Entity ID", "Name", "Website", "City", "State"}

var detailColumns = []string{
	"Entity ID", "Entity", "Criterion ID", "Answer", "Confidence", "Status",
	"Verified", "Verification", "Verification Score", "Iterations", "Tool Calls",
	"Input Tokens", "Output Tokens", "Cost (USD)", "Explanation", "Evidence",
	"Sources", "Error", "Timestamp",
}

// Build lays out one summary row per entity, with an answer and confidence
// column pair per criterion, and one detail row per stored result.
// Criteria are written in the order given.
func Build(entities []model.Entity, criteria []model.Criterion) (*xlsx.File, error) {
	f := xlsx.NewFile()

	summary, err := f.AddSheet(SummarySheet)
	if err != nil {
		return nil, eris.Wrap(err, "export: add summary sheet")
	}
	header := append([]string{}, entityColumns...)
	for _, c := range criteria {
		label := c.Name
		if label == "" {
			label = c.ID
		}
		header = append(header, label, label+" Confidence")
	}
	addStrings(summary.AddRow(), header)

	details, err := f.AddSheet(DetailSheet)
	if err != nil {
		return nil, eris.Wrap(err, "export: add detail sheet")
	}
	addStrings(details.AddRow(), detailColumns)

	for _, e := range entities {
		row := summary.AddRow()
		addStrings(row, []string{e.ID, e.Name, e.Website, e.City, e.State})
		for _, c := range criteria {
			r, ok := e.Results[c.ID]
			if !ok {
				addStrings(row, []string{"", ""})
				continue
			}
			addStrings(row, []string{r.Answer, string(r.Confidence)})
			writeDetail(details.AddRow(), e, r)
		}
	}
	return f, nil
}

// Write builds the workbook and saves it to path.
func Write(path string, entities []model.Entity, criteria []model.Criterion) error {
	f, err := Build(entities, criteria)
	if err != nil {
		return err
	}
	if err := f.Save(path); err != nil {
		return eris.Wrapf(err, "export: save %s", path)
	}
	return nil
}

func writeDetail(row *xlsx.Row, e model.Entity, r model.Result) {
	var vStatus string
	var vScore float64
	if r.Verification != nil {
		vStatus = string(r.Verification.Status)
		vScore = r.Verification.Score
	}

	addStrings(row, []string{e.ID, e.Name, r.CriterionID, r.Answer, string(r.Confidence), string(r.Status)})
	row.AddCell().SetBool(r.Verified)
	row.AddCell().SetString(vStatus)
	row.AddCell().SetFloat(vScore)
	row.AddCell().SetInt(r.Iterations)
	row.AddCell().SetInt(len(r.ToolCalls))
	row.AddCell().SetInt(r.TokenUsage.InputTokens)
	row.AddCell().SetInt(r.TokenUsage.OutputTokens)
	row.AddCell().SetFloat(r.CostBreakdown.Total)

	var ts string
	if !r.Timestamp.IsZero() {
		ts = r.Timestamp.UTC().Format(time.RFC3339)
	}
	addStrings(row, []string{r.Explanation, r.Evidence, flattenSources(r.Sources), r.Error, ts})
}

func addStrings(row *xlsx.Row, values []string) {
	for _, v := range values {
		row.AddCell().SetString(v)
	}
}

func flattenSources(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
