package main

import (
	"context"
	"time"

	"github.com/k-capehart/go-salesforce/v3"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/intel-engine/internal/classify"
	"github.com/sells-group/intel-engine/internal/cost"
	"github.com/sells-group/intel-engine/internal/delivery"
	"github.com/sells-group/intel-engine/internal/hierarchy"
	"github.com/sells-group/intel-engine/internal/manager"
	"github.com/sells-group/intel-engine/internal/model"
	"github.com/sells-group/intel-engine/internal/pipeline"
	"github.com/sells-group/intel-engine/internal/provider"
	"github.com/sells-group/intel-engine/internal/queue"
	"github.com/sells-group/intel-engine/internal/ratelimit"
	"github.com/sells-group/intel-engine/internal/resilience"
	"github.com/sells-group/intel-engine/internal/store"
	"github.com/sells-group/intel-engine/internal/temperature"
	"github.com/sells-group/intel-engine/pkg/claude"
	"github.com/sells-group/intel-engine/pkg/jina"
	"github.com/sells-group/intel-engine/pkg/perplexity"
	sfpkg "github.com/sells-group/intel-engine/pkg/salesforce"
	"github.com/sells-group/intel-engine/pkg/websearch"
)

// engineEnv holds the initialized store, provider registry, and pipeline
// needed by the run/batch/serve commands.
type engineEnv struct {
	Store        store.Store
	Registry     *provider.Registry
	Limiter      *ratelimit.Limiter
	Breakers     *resilience.ProviderBreakers
	Costs        *cost.Tracker
	Temperatures *temperature.Manager
	Manager      *manager.Manager
	Orchestrator *pipeline.Orchestrator
	Deliverer    *delivery.Deliverer
}

// Close releases resources held by the engine environment.
func (e *engineEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initEngine sets up the store, provider clients, and the stage pipeline.
// Callers should defer env.Close().
func initEngine(ctx context.Context, mode string) (*engineEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	reg, claudeClient := initProviders()

	limiter := ratelimit.New(limiterConfig())
	breakers := resilience.NewProviderBreakers(resilience.BreakerConfig{
		FailureThreshold: cfg.Circuit.FailureThreshold,
		Cooldown:         time.Duration(cfg.Circuit.CooldownSecs) * time.Second,
	})
	costs := cost.NewTracker()

	classifier, err := initClassifier()
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	proc, err := hierarchy.New(hierarchy.Config{
		MinCoverage: cfg.Hierarchy.MinCoverage,
		MaxPerTier:  cfg.Hierarchy.MaxPerTier,
	}, classifier)
	if err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "init hierarchy processor")
	}

	temps, err := temperature.NewManager(temperature.Config{
		Values:   cfg.Temperature.Values,
		CacheTTL: time.Duration(cfg.Temperature.CacheTTLMins) * time.Minute,
	})
	if err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "init temperature manager")
	}

	mgr := manager.New(manager.Config{
		ProviderTimeout:  time.Duration(cfg.Pipeline.ProviderTimeoutSecs) * time.Second,
		ProviderCacheTTL: time.Duration(cfg.Pipeline.ProviderCacheTTLMins) * time.Minute,
	}, reg, limiter, breakers, costs, proc, temps, st)

	publisher := queue.NewWebhookPublisher(cfg.Queue.WebhookURL)

	orch := pipeline.New(pipeline.Config{
		MaxRetries: cfg.Pipeline.MaxRetries,
		RetryDelay: time.Duration(cfg.Pipeline.RetryDelaySecs) * time.Second,
	}, publisher, st)

	orch.RegisterHandler(model.StageCollection, pipeline.NewCollectionHandler(mgr))
	orch.RegisterHandler(model.StageVerification, pipeline.NewVerificationHandler(classifier, pipeline.DefaultVerifyConfig()))
	orch.RegisterHandler(model.StageMerging, pipeline.NewMergingHandler())

	var synth pipeline.Synthesizer
	if claudeClient != nil {
		synth = pipeline.NewClaudeSynthesizer(claudeClient, cfg.Providers.Claude.Model, int64(cfg.Providers.Claude.MaxTokens))
	}
	orch.RegisterHandler(model.StageSummary, pipeline.NewSummaryHandler(synth))

	var deliverer *delivery.Deliverer
	if cfg.Salesforce.Enabled {
		sfClient, sfErr := initSalesforce()
		if sfErr != nil {
			_ = st.Close()
			return nil, sfErr
		}
		deliverer = delivery.New(sfClient, publisher, cfg.Salesforce.Object)
	}

	zap.L().Info("engine initialized",
		zap.Strings("providers", reg.List()),
		zap.String("store", cfg.Store.Driver),
		zap.Bool("salesforce", cfg.Salesforce.Enabled),
	)

	return &engineEnv{
		Store:        st,
		Registry:     reg,
		Limiter:      limiter,
		Breakers:     breakers,
		Costs:        costs,
		Temperatures: temps,
		Manager:      mgr,
		Orchestrator: orch,
		Deliverer:    deliverer,
	}, nil
}

// initProviders builds the registry from the enabled provider configs. The
// Anthropic client is returned separately so the summary synthesizer can
// share it.
func initProviders() (*provider.Registry, claude.Client) {
	reg := provider.NewRegistry()

	if p := cfg.Providers.Perplexity; p.Enabled {
		client := perplexity.NewClient(p.Key,
			perplexity.WithBaseURL(p.BaseURL),
			perplexity.WithModel(p.Model),
		)
		reg.Register(provider.NewPerplexityProvider(client, p.Model, p.CostPerQuery))
	}

	if j := cfg.Providers.Jina; j.Enabled {
		client := jina.NewClient(j.Key, jina.WithBaseURL(j.SearchURL))
		reg.Register(provider.NewJinaProvider(client, cost.NewCalculator(cost.DefaultRates()), j.CostPerQuery))
	}

	var claudeClient claude.Client
	if c := cfg.Providers.Claude; c.Enabled {
		claudeClient = claude.NewClient(c.Key)
		reg.Register(provider.NewClaudeProvider(claudeClient, c.Model, c.MaxTokens))
	}

	if w := cfg.Providers.WebSearch; w.Enabled {
		client := websearch.NewClient(w.Key, w.EngineID, websearch.WithBaseURL(w.BaseURL))
		reg.Register(provider.NewWebSearchProvider(client, w.CostPerQuery))
	}

	return reg, claudeClient
}

// limiterConfig converts the rate limit configuration into limiter quotas.
func limiterConfig() ratelimit.Config {
	quotas := make(map[string]ratelimit.Quota, len(cfg.RateLimit.Providers))
	for name, q := range cfg.RateLimit.Providers {
		quotas[name] = ratelimit.Quota{
			PerMinute: q.PerMinute,
			PerHour:   q.PerHour,
			PerDay:    q.PerDay,
		}
	}
	return ratelimit.Config{
		Default: ratelimit.Quota{
			PerMinute: cfg.RateLimit.Default.PerMinute,
			PerHour:   cfg.RateLimit.Default.PerHour,
			PerDay:    cfg.RateLimit.Default.PerDay,
		},
		Quotas:              quotas,
		CategoryMultipliers: cfg.RateLimit.CategoryMultipliers,
	}
}

// initClassifier loads classification rules from the configured path, falling
// back to the built-in defaults.
func initClassifier() (*classify.Classifier, error) {
	if cfg.Classify.RulesPath == "" {
		return classify.New(classify.DefaultRules()), nil
	}
	rules, err := classify.LoadRules(cfg.Classify.RulesPath)
	if err != nil {
		return nil, eris.Wrap(err, "load classification rules")
	}
	return classify.New(rules), nil
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		path := cfg.Store.Path
		if path == "" {
			path = "intel.db"
		}
		return store.NewSQLite(path)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, nil)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

func initSalesforce() (sfpkg.Client, error) {
	sf, err := salesforce.Init(salesforce.Creds{
		Domain:         cfg.Salesforce.Domain,
		ConsumerKey:    cfg.Salesforce.ConsumerKey,
		ConsumerSecret: cfg.Salesforce.ConsumerSecret,
	})
	if err != nil {
		return nil, eris.Wrap(err, "init salesforce")
	}
	return sfpkg.NewClient(sf), nil
}
