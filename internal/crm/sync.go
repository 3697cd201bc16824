// Package crm pushes investigation answers onto Salesforce Accounts and
// flags the matching Notion entity pages.
package crm

import (
	"context"
	"net/url"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/research-agent/internal/model"
	"github.com/sells-group/research-agent/internal/registry"
	"github.com/sells-group/research-agent/pkg/notion"
	"github.com/sells-group/research-agent/pkg/salesforce"
)

const lookupConcurrency = 4

// Report summarizes one sync run.
type Report struct {
	Updated int      `json:"updated"`
	Skipped int      `json:"skipped"`
	Failed  int      `json:"failed"`
	Errors  []string `json:"errors,omitempty"`
}

// Syncer maps criterion answers to Account fields.
type Syncer struct {
	sf       salesforce.Client
	notion   notion.Client
	criteria []model.Criterion
	dryRun   bool
}

// Option configures a Syncer.
type Option func(*Syncer)

// WithNotion marks synced entities' Notion pages as researched.
func WithNotion(c notion.Client) Option {
	return func(s *Syncer) { s.notion = c }
}

// WithDryRun builds updates without sending them.
func WithDryRun(dry bool) Option {
	return func(s *Syncer) { s.dryRun = dry }
}

// NewSyncer creates a Syncer over the criteria that name a Salesforce field.
func NewSyncer(sf salesforce.Client, criteria []model.Criterion, opts ...Option) *Syncer {
	s := &Syncer{sf: sf}
	for _, c := range criteria {
		if c.SalesforceField != "" {
			s.criteria = append(s.criteria, c)
		}
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Fields resolves the writable Account fields for the configured criteria.
// Criteria whose field is missing or read-only are dropped with a warning.
func (s *Syncer) Fields(ctx context.Context) (map[string]salesforce.SObjectField, error) {
	desc, err := s.sf.DescribeSObject(ctx, "Account")
	if err != nil {
		return nil, eris.Wrap(err, "crm: describe account")
	}

	fields := make(map[string]salesforce.SObjectField, len(s.criteria))
	for _, c := range s.criteria {
		f := desc.Field(c.SalesforceField)
		if f == nil || !f.Updateable {
			zap.L().Warn("crm: salesforce field not writable",
				zap.String("criterion", c.ID),
				zap.String("field", c.SalesforceField),
			)
			continue
		}
		fields[c.ID] = *f
	}
	return fields, nil
}

// BuildFields converts an entity's terminal, known results into Account
// field values. Checkbox fields take true for the positive token.
func BuildFields(e model.Entity, criteria []model.Criterion, fields map[string]salesforce.SObjectField) map[string]any {
	out := make(map[string]any)
	for _, c := range criteria {
		f, ok := fields[c.ID]
		if !ok {
			continue
		}
		r, ok := e.Results[c.ID]
		if !ok || !r.Terminal() || r.IsUnknown() {
			continue
		}
		if f.Type == "boolean" {
			out[f.Name] = strings.EqualFold(r.Answer, c.Positive())
			continue
		}
		val := r.Answer
		if f.Length > 0 && len(val) > f.Length {
			val = val[:f.Length]
		}
		out[f.Name] = val
	}
	return out
}

// Sync pushes every entity's answers to its Account. Entities without a
// Salesforce ID are matched by website.
func (s *Syncer) Sync(ctx context.Context, entities []model.Entity) (*Report, error) {
	report := &Report{}
	if len(s.criteria) == 0 {
		report.Skipped = len(entities)
		return report, nil
	}

	fields, err := s.Fields(ctx)
	if err != nil {
		return nil, err
	}

	ids, err := s.resolveAccounts(ctx, entities)
	if err != nil {
		return nil, err
	}

	var updates []salesforce.AccountUpdate
	var synced []model.Entity
	for i, e := range entities {
		values := BuildFields(e, s.criteria, fields)
		if ids[i] == "" || len(values) == 0 {
			report.Skipped++
			continue
		}
		updates = append(updates, salesforce.AccountUpdate{ID: ids[i], Fields: values})
		synced = append(synced, e)
	}

	if s.dryRun {
		report.Updated = len(updates)
		return report, nil
	}

	results, err := salesforce.BulkUpdateAccounts(ctx, s.sf, updates)
	for i, r := range results {
		if r.Success {
			report.Updated++
			s.markResearched(ctx, synced[i])
			continue
		}
		report.Failed++
		report.Errors = append(report.Errors, r.ID+": "+strings.Join(r.Errors, "; "))
	}
	if err != nil {
		report.Failed += len(updates) - len(results)
		return report, eris.Wrap(err, "crm: sync")
	}
	return report, nil
}

func (s *Syncer) resolveAccounts(ctx context.Context, entities []model.Entity) ([]string, error) {
	ids := make([]string, len(entities))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(lookupConcurrency)

	for i, e := range entities {
		if e.SalesforceID != "" {
			ids[i] = e.SalesforceID
			continue
		}
		host := websiteHost(e.Website)
		if host == "" {
			continue
		}
		g.Go(func() error {
			acct, err := salesforce.FindAccountByWebsite(gctx, s.sf, host)
			if err != nil {
				return eris.Wrapf(err, "crm: match %s", e.Name)
			}
			if acct == nil {
				zap.L().Debug("crm: no account for website",
					zap.String("entity", e.Name),
					zap.String("website", host),
				)
				return nil
			}
			ids[i] = acct.ID
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return ids, nil
}

func (s *Syncer) markResearched(ctx context.Context, e model.Entity) {
	if s.notion == nil {
		return
	}
	if err := registry.MarkResearched(ctx, s.notion, e); err != nil {
		zap.L().Warn("crm: notion status update failed",
			zap.String("entity", e.Name),
			zap.Error(err),
		)
	}
}

// websiteHost reduces a website to its bare host for LIKE matching.
func websiteHost(website string) string {
	website = strings.TrimSpace(website)
	if website == "" {
		return ""
	}
	if !strings.Contains(website, "://") {
		website = "https://" + website
	}
	u, err := url.Parse(website)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}
