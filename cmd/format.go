package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/research-agent/internal/investigate"
	"github.com/sells-group/research-agent/internal/model"
)

// printSummary writes a batch's results and cost.
func printSummary(ctx context.Context, out io.Writer, env *agentEnv, st *model.InvestigationState) {
	names := make(map[string]string, len(env.Entities))
	for _, e := range env.Entities {
		names[e.ID] = e.Name
	}

	var results []resultRow
	for _, entityID := range st.EntityIDs {
		stored, err := env.Store.GetResults(ctx, entityID)
		if err != nil {
			zap.L().Warn("load results", zap.String("entity", entityID), zap.Error(err))
			continue
		}
		byCrit := make(map[string]model.Result, len(stored))
		for _, r := range stored {
			byCrit[r.CriterionID] = r
		}
		for _, critID := range st.CriterionIDs {
			if r, ok := byCrit[critID]; ok {
				results = append(results, resultRow{Entity: nameOr(names, entityID), Result: r})
			}
		}
	}

	_, _ = fmt.Fprintf(out, "Investigation %s: %s (%d/%d pairs)\n\n", st.ID, st.Status, st.Completed(), st.Total())
	formatResults(out, results)
	_, _ = fmt.Fprintf(out, "\nCost: model $%.4f  tools $%.4f  verification $%.4f  total $%.4f\n",
		st.Cost.Model, st.Cost.Tools, st.Cost.Verification, st.Cost.Total)
	if st.Error != "" {
		_, _ = fmt.Fprintf(out, "Error: %s\n", st.Error)
	}
}

type resultRow struct {
	Entity string
	Result model.Result
}

// formatResults writes a tabular list of results to w.
func formatResults(out io.Writer, rows []resultRow) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ENTITY\tCRITERION\tANSWER\tCONFIDENCE\tSTATUS\tITER\tVERIFIED\tCOST")
	_, _ = fmt.Fprintln(w, "------\t---------\t------\t----------\t------\t----\t--------\t----")

	for _, row := range rows {
		r := row.Result
		verified := ""
		if r.Verified && r.Verification != nil {
			verified = string(r.Verification.Status)
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%s\t$%.4f\n",
			truncate(row.Entity, 30),
			r.CriterionID,
			truncate(r.Answer, 40),
			r.Confidence,
			r.Status,
			r.Iterations,
			verified,
			r.CostBreakdown.Total,
		)
	}
	_ = w.Flush()
}

// formatStates writes a tabular list of investigations to w.
func formatStates(out io.Writer, states []model.InvestigationState) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tMODE\tSTATUS\tPROGRESS\tCOST\tUPDATED")
	_, _ = fmt.Fprintln(w, "--\t----\t------\t--------\t----\t-------")

	for _, st := range states {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d/%d\t$%.4f\t%s\n",
			truncateID(st.ID),
			st.Mode,
			st.Status,
			st.Completed(),
			st.Total(),
			st.Cost.Total,
			st.UpdatedAt.Format("2006-01-02 15:04"),
		)
	}
	_ = w.Flush()
}

// formatState writes one investigation with its cursor and findings.
func formatState(out io.Writer, st *model.InvestigationState) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "ID:\t%s\n", st.ID)
	_, _ = fmt.Fprintf(w, "Mode:\t%s\n", st.Mode)
	_, _ = fmt.Fprintf(w, "Status:\t%s\n", st.Status)
	_, _ = fmt.Fprintf(w, "Progress:\t%d/%d\n", st.Completed(), st.Total())
	if entityID, criterionID, ok := st.Current(); ok {
		_, _ = fmt.Fprintf(w, "Next pair:\t%s / %s\n", entityID, criterionID)
	}
	if st.Pending != nil {
		_, _ = fmt.Fprintf(w, "Pending:\t%s / %s after %d tool calls\n",
			st.Pending.EntityID, st.Pending.CriterionID, st.Pending.Iterations)
	}
	_, _ = fmt.Fprintf(w, "Cost:\t$%.4f\n", st.Cost.Total)
	_, _ = fmt.Fprintf(w, "Created:\t%s\n", st.CreatedAt.Format(time.RFC3339))
	_, _ = fmt.Fprintf(w, "Updated:\t%s\n", st.UpdatedAt.Format(time.RFC3339))
	if st.Error != "" {
		_, _ = fmt.Fprintf(w, "Error:\t%s\n", st.Error)
	}
	_ = w.Flush()

	for _, entityID := range st.EntityIDs {
		findings := investigate.SortedFindings(st, entityID)
		reason, disqualified := st.Disqualified[entityID]
		if len(findings) == 0 && !disqualified {
			continue
		}
		_, _ = fmt.Fprintf(out, "\n%s\n", entityID)
		if disqualified {
			_, _ = fmt.Fprintf(out, "  disqualified by %s\n", reason)
		}
		for _, f := range findings {
			_, _ = fmt.Fprintf(out, "  %s\n", f)
		}
	}
}

func nameOr(names map[string]string, id string) string {
	if n := names[id]; n != "" {
		return n
	}
	return id
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n-3] + "..."
	}
	return s
}

// truncateID returns the first 8 characters of a UUID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
