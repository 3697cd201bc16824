package registry

import (
	"context"
	"strings"

	"github.com/jomei/notionapi"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/research-agent/internal/model"
	"github.com/sells-group/research-agent/pkg/notion"
)

// Entity page statuses in the Notion entities database.
const (
	StatusQueued     = "Queued"
	StatusResearched = "Researched"
)

// LoadEntitiesFromFile reads a YAML or JSON array of entities. Entities
// without an ID get a slug of their name.
func LoadEntitiesFromFile(path string) ([]model.Entity, error) {
	var entities []model.Entity
	if err := decodeFile(path, &entities); err != nil {
		return nil, eris.Wrap(err, "registry: load entities")
	}
	for i := range entities {
		if entities[i].ID == "" {
			entities[i].ID = slug(entities[i].Name)
		}
	}
	return entities, nil
}

// LoadEntities queries the Notion entities database for queued companies.
// The page ID doubles as the entity ID.
func LoadEntities(ctx context.Context, client notion.Client, dbID string) ([]model.Entity, error) {
	pages, err := notion.QueryByStatus(ctx, client, dbID, StatusQueued)
	if err != nil {
		return nil, eris.Wrap(err, "registry: load entities")
	}

	var entities []model.Entity
	for _, p := range pages {
		e, err := parseEntityPage(p)
		if err != nil {
			zap.L().Warn("registry: skipping malformed entity page",
				zap.String("page_id", string(p.ID)),
				zap.Error(err),
			)
			continue
		}
		entities = append(entities, e)
	}
	return entities, nil
}

func parseEntityPage(p notionapi.Page) (model.Entity, error) {
	e := model.Entity{
		ID:           string(p.ID),
		NotionPageID: string(p.ID),
		Name:         title(p, "Name"),
		City:         richText(p, "City"),
		State:        richText(p, "State"),
		Location:     richText(p, "Location"),
		SalesforceID: richText(p, "SalesforceID"),
	}

	if prop, ok := p.Properties["Website"]; ok {
		if up, ok := prop.(*notionapi.URLProperty); ok {
			e.Website = strings.TrimSpace(up.URL)
		}
	}

	if e.Name == "" {
		return e, eris.New("missing Name property")
	}
	return e, nil
}

// MarkResearched flags an entity's Notion page once its batch finishes.
// Entities not loaded from Notion are ignored.
func MarkResearched(ctx context.Context, client notion.Client, e model.Entity) error {
	if e.NotionPageID == "" {
		return nil
	}
	return eris.Wrapf(notion.SetStatus(ctx, client, e.NotionPageID, StatusResearched),
		"registry: mark %s researched", e.ID)
}

func slug(name string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			dash = false
		case !dash && b.Len() > 0:
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}
