// Package registry loads the criteria and target entities an investigation
// runs over, from local YAML/JSON files or from Notion databases.
package registry

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/jomei/notionapi"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/research-agent/internal/model"
	"github.com/sells-group/research-agent/pkg/notion"
)

// StatusActive is the Notion status of criteria that should be loaded.
const StatusActive = "Active"

// LoadCriteriaFromFile reads a YAML or JSON array of criteria, chosen by the
// file extension, and returns them sorted by Order.
func LoadCriteriaFromFile(path string) ([]model.Criterion, error) {
	var criteria []model.Criterion
	if err := decodeFile(path, &criteria); err != nil {
		return nil, eris.Wrap(err, "registry: load criteria")
	}
	for i := range criteria {
		criteria[i].PositiveToken = strings.TrimSpace(criteria[i].PositiveToken)
	}
	model.SortCriteria(criteria)
	return criteria, nil
}

// LoadCriteriaRegistry queries the Notion criteria database for all active
// criteria. Pages without a question are skipped with a warning.
func LoadCriteriaRegistry(ctx context.Context, client notion.Client, dbID string) ([]model.Criterion, error) {
	pages, err := notion.QueryByStatus(ctx, client, dbID, StatusActive)
	if err != nil {
		return nil, eris.Wrap(err, "registry: load criteria registry")
	}

	var criteria []model.Criterion
	for _, p := range pages {
		c, err := parseCriterionPage(p)
		if err != nil {
			zap.L().Warn("registry: skipping malformed criterion page",
				zap.String("page_id", string(p.ID)),
				zap.Error(err),
			)
			continue
		}
		criteria = append(criteria, c)
	}

	model.SortCriteria(criteria)
	return criteria, nil
}

func parseCriterionPage(p notionapi.Page) (model.Criterion, error) {
	c := model.Criterion{
		ID:              richText(p, "Key"),
		Name:            title(p, "Name"),
		Question:        richText(p, "Question"),
		PositiveToken:   selectName(p, "PositiveToken"),
		Guidance:        richText(p, "Guidance"),
		FirstQuery:      richText(p, "FirstQuery"),
		Role:            richText(p, "Role"),
		DependsOn:       richText(p, "DependsOn"),
		SalesforceField: richText(p, "SalesforceField"),
	}

	if prop, ok := p.Properties["Disqualifying"]; ok {
		if cp, ok := prop.(*notionapi.CheckboxProperty); ok {
			c.Disqualifying = cp.Checkbox
		}
	}
	if prop, ok := p.Properties["Order"]; ok {
		if np, ok := prop.(*notionapi.NumberProperty); ok {
			c.Order = int(np.Number)
		}
	}

	if c.ID == "" {
		c.ID = string(p.ID)
	}
	if c.Question == "" {
		return c, eris.New("missing Question property")
	}
	return c, nil
}

func title(p notionapi.Page, name string) string {
	if prop, ok := p.Properties[name]; ok {
		if tp, ok := prop.(*notionapi.TitleProperty); ok {
			return strings.TrimSpace(notion.PlainText(tp.Title))
		}
	}
	return ""
}

func richText(p notionapi.Page, name string) string {
	if prop, ok := p.Properties[name]; ok {
		if rtp, ok := prop.(*notionapi.RichTextProperty); ok {
			return strings.TrimSpace(notion.PlainText(rtp.RichText))
		}
	}
	return ""
}

func selectName(p notionapi.Page, name string) string {
	if prop, ok := p.Properties[name]; ok {
		if sp, ok := prop.(*notionapi.SelectProperty); ok {
			return strings.TrimSpace(sp.Select.Name)
		}
	}
	return ""
}

func decodeFile(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return eris.Wrapf(err, "read %s", path)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		if err := json.Unmarshal(data, v); err != nil {
			return eris.Wrapf(err, "unmarshal %s", path)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, v); err != nil {
			return eris.Wrapf(err, "unmarshal %s", path)
		}
	default:
		return eris.Errorf("unsupported file type %q", filepath.Ext(path))
	}
	return nil
}
