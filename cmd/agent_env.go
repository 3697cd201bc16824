package main

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/research-agent/internal/control"
	"github.com/sells-group/research-agent/internal/cost"
	"github.com/sells-group/research-agent/internal/events"
	"github.com/sells-group/research-agent/internal/investigate"
	"github.com/sells-group/research-agent/internal/llm"
	"github.com/sells-group/research-agent/internal/model"
	"github.com/sells-group/research-agent/internal/registry"
	"github.com/sells-group/research-agent/internal/store"
	"github.com/sells-group/research-agent/internal/tools"
	anthropicpkg "github.com/sells-group/research-agent/pkg/anthropic"
	"github.com/sells-group/research-agent/pkg/gemini"
	"github.com/sells-group/research-agent/pkg/jina"
	"github.com/sells-group/research-agent/pkg/notion"
	"github.com/sells-group/research-agent/pkg/perplexity"
	sfpkg "github.com/sells-group/research-agent/pkg/salesforce"
)

// agentEnv holds everything the investigate, resume and serve commands
// need. Callers should defer env.Close().
type agentEnv struct {
	Store    store.Store
	Notion   notion.Client // nil when Notion is not configured
	Criteria []model.Criterion
	Entities []model.Entity
	Bus      *events.Bus
	Ledger   *cost.Ledger
	Runner   *investigate.Runner
}

// Close releases resources held by the environment.
func (e *agentEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// agentFlags are command-line overrides of the agent config.
type agentFlags struct {
	maxIterations        int
	pauseBetweenSearches bool
	verify               bool
}

func (f agentFlags) apply() {
	if f.maxIterations > 0 {
		cfg.Agent.MaxIterations = f.maxIterations
	}
	if f.pauseBetweenSearches {
		cfg.Agent.PauseBetweenSearches = true
	}
	if f.verify {
		cfg.Agent.VerifyResults = true
	}
}

// initData validates config for mode, opens the store and loads criteria
// and entities.
func initData(ctx context.Context, mode string) (*agentEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	env := &agentEnv{
		Notion: initNotion(),
		Bus:    events.NewBus(0),
		Ledger: cost.NewLedger(),
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	env.Store = st

	env.Criteria, env.Entities, err = loadRegistry(ctx, env.Notion)
	if err != nil {
		env.Close()
		return nil, err
	}
	return env, nil
}

// initAgent builds on initData and wires the model, tools and runner.
func initAgent(ctx context.Context, mode string, approver investigate.Approver, sinks ...events.Sink) (*agentEnv, error) {
	env, err := initData(ctx, mode)
	if err != nil {
		return nil, err
	}

	m, err := initModel(ctx)
	if err != nil {
		env.Close()
		return nil, err
	}

	calc := cost.NewCalculator(cfg.Pricing)
	reg, err := initTools(calc)
	if err != nil {
		env.Close()
		return nil, err
	}

	exec := tools.NewExecutor(reg, control.New(), tools.ExecutorConfig{
		CacheTTL:         cfg.CacheTTL(),
		RateLimit:        cfg.Tools.RateLimit,
		Retry:            cfg.Retry.Resilience(),
		BreakerThreshold: cfg.Tools.BreakerThreshold,
		BreakerCooldown:  time.Duration(cfg.Tools.BreakerCooldownSecs) * time.Second,
	})

	temp := cfg.LLM.Temperature
	sink := events.Multi(append([]events.Sink{env.Bus}, sinks...)...)
	ctrl := investigate.NewController(m, exec, calc, sink, approver, investigate.Options{
		MaxIterations:        cfg.Agent.MaxIterations,
		PauseBetweenSearches: cfg.Agent.PauseBetweenSearches,
		VerifyResults:        cfg.Agent.VerifyResults,
		VerifyTool:           cfg.Tools.VerifyTool,
		MaxReminders:         cfg.Agent.MaxReminders,
		MaxContextChars:      cfg.Agent.MaxContextChars,
		MaxTokens:            cfg.LLM.MaxTokens,
		Temperature:          &temp,
		Retry:                cfg.Retry.Resilience(),
	})

	catalog := investigate.NewCatalog(env.Entities, env.Criteria)
	env.Runner = investigate.NewRunner(ctrl, catalog, env.Store, env.Ledger, sink)

	zap.L().Info("agent ready",
		zap.String("provider", m.Provider()),
		zap.String("model", m.Name()),
		zap.Strings("tools", reg.Names()),
		zap.Int("criteria", len(env.Criteria)),
		zap.Int("entities", len(env.Entities)),
		zap.Int("max_iterations", cfg.Agent.MaxIterations),
		zap.Bool("verify", cfg.Agent.VerifyResults),
	)
	return env, nil
}

func initStore(ctx context.Context) (store.Store, error) {
	st, err := store.Open(ctx, cfg.Store.Driver, cfg.Store.DatabaseURL, &store.PoolConfig{
		MaxConns: cfg.Store.MaxConns,
		MinConns: cfg.Store.MinConns,
	})
	if err != nil {
		return nil, eris.Wrap(err, "open store")
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

func initNotion() notion.Client {
	if cfg.Notion.Token == "" {
		return nil
	}
	return notion.NewClient(cfg.Notion.Token, notion.WithRateLimit(cfg.Notion.RateLimit))
}

// loadRegistry reads criteria and entities from the configured files,
// falling back to the Notion databases.
func loadRegistry(ctx context.Context, nc notion.Client) ([]model.Criterion, []model.Entity, error) {
	criteria, err := loadCriteria(ctx, nc)
	if err != nil {
		return nil, nil, err
	}
	entities, err := loadEntities(ctx, nc)
	if err != nil {
		return nil, nil, err
	}

	zap.L().Info("registry loaded",
		zap.Int("criteria", len(criteria)),
		zap.Int("entities", len(entities)),
	)
	return criteria, entities, nil
}

func loadCriteria(ctx context.Context, nc notion.Client) ([]model.Criterion, error) {
	var (
		criteria []model.Criterion
		err      error
	)
	switch {
	case cfg.Criteria != "":
		criteria, err = registry.LoadCriteriaFromFile(cfg.Criteria)
	case nc != nil && cfg.Notion.CriteriaDB != "":
		criteria, err = registry.LoadCriteriaRegistry(ctx, nc, cfg.Notion.CriteriaDB)
	default:
		err = eris.New("no criteria source configured")
	}
	if err != nil {
		return nil, eris.Wrap(err, "load criteria")
	}
	if err := registry.Validate(criteria); err != nil {
		return nil, err
	}
	return criteria, nil
}

func loadEntities(ctx context.Context, nc notion.Client) ([]model.Entity, error) {
	var (
		entities []model.Entity
		err      error
	)
	switch {
	case cfg.Entities != "":
		entities, err = registry.LoadEntitiesFromFile(cfg.Entities)
	case nc != nil && cfg.Notion.EntitiesDB != "":
		entities, err = registry.LoadEntities(ctx, nc, cfg.Notion.EntitiesDB)
	default:
		err = eris.New("no entities source configured")
	}
	return entities, eris.Wrap(err, "load entities")
}

func initModel(ctx context.Context) (llm.Model, error) {
	switch cfg.LLM.Provider {
	case cost.ProviderAnthropic:
		var opts []anthropicpkg.Option
		if cfg.Anthropic.BaseURL != "" {
			opts = append(opts, anthropicpkg.WithBaseURL(cfg.Anthropic.BaseURL))
		}
		client := anthropicpkg.NewClient(cfg.Anthropic.Key, opts...)
		return llm.NewAnthropic(client, cfg.Anthropic.Model, cfg.Anthropic.CacheTTL), nil
	case cost.ProviderGemini:
		client, err := gemini.NewClient(ctx, gemini.Config{
			APIKey:  cfg.Gemini.Key,
			Model:   cfg.Gemini.Model,
			BaseURL: cfg.Gemini.BaseURL,
		})
		if err != nil {
			return nil, eris.Wrap(err, "init gemini")
		}
		return llm.NewGemini(client, cfg.Gemini.Model), nil
	default:
		return nil, eris.Errorf("unsupported llm provider: %s", cfg.LLM.Provider)
	}
}

func initTools(calc *cost.Calculator) (*tools.Registry, error) {
	var enabled []tools.Tool
	for _, name := range cfg.Tools.Enabled {
		switch name {
		case cost.ToolSearch:
			client := perplexity.NewClient(cfg.Perplexity.Key,
				perplexity.WithBaseURL(cfg.Perplexity.BaseURL),
				perplexity.WithModel(cfg.Perplexity.Model),
			)
			enabled = append(enabled, tools.NewSearch(client, calc, cfg.Perplexity.Model))
		case cost.ToolJinaSearch:
			opts := []jina.Option{jina.WithBaseURL(cfg.Jina.BaseURL)}
			if cfg.Jina.SearchBaseURL != "" {
				opts = append(opts, jina.WithSearchBaseURL(cfg.Jina.SearchBaseURL))
			}
			enabled = append(enabled, tools.NewJinaSearch(jina.NewClient(cfg.Jina.Key, opts...), calc))
		case cost.ToolFetchPage:
			timeout := time.Duration(cfg.Tools.FetchTimeoutSecs) * time.Second
			enabled = append(enabled, tools.NewFetchPage(&http.Client{Timeout: timeout}))
		default:
			return nil, eris.Errorf("unknown tool: %s", name)
		}
	}
	reg, err := tools.NewRegistry(enabled...)
	return reg, eris.Wrap(err, "init tools")
}

func initSalesforce() (sfpkg.Client, error) {
	pemData, err := os.ReadFile(cfg.Salesforce.KeyPath)
	if err != nil {
		return nil, eris.Wrap(err, "read salesforce JWT private key")
	}
	client, err := sfpkg.Connect(
		cfg.Salesforce.LoginURL,
		cfg.Salesforce.Username,
		cfg.Salesforce.ClientID,
		string(pemData),
		sfpkg.WithRateLimit(cfg.Salesforce.RateLimit),
	)
	return client, eris.Wrap(err, "init salesforce")
}
