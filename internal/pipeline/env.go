// Package pipeline wires the shared run context and the ingest flow.
package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/parentmap/venue-pipeline/internal/audit"
	"github.com/parentmap/venue-pipeline/internal/cache"
	"github.com/parentmap/venue-pipeline/internal/config"
	"github.com/parentmap/venue-pipeline/internal/fetcher"
	"github.com/parentmap/venue-pipeline/internal/freshness"
	"github.com/parentmap/venue-pipeline/internal/model"
	"github.com/parentmap/venue-pipeline/internal/resilience"
	"github.com/parentmap/venue-pipeline/internal/source"
	"github.com/parentmap/venue-pipeline/internal/store"
	"github.com/parentmap/venue-pipeline/internal/validation"
	anthropicpkg "github.com/parentmap/venue-pipeline/pkg/anthropic"
	"github.com/parentmap/venue-pipeline/pkg/google"
	"github.com/parentmap/venue-pipeline/pkg/jina"
	"github.com/parentmap/venue-pipeline/pkg/perplexity"
)

// Breaker names.
const (
	searchService    = "search"
	reasoningService = "reasoning"
)

// Env holds every client a command needs. It is built once per process and
// torn down with Close.
type Env struct {
	Config    *config.Config
	Cache     cache.Cache
	Fetcher   *fetcher.Client
	Store     store.Store
	Audit     *audit.Logger
	Breakers  *resilience.ServiceBreakers
	Validator *validation.Validator
	Scheduler *freshness.RiskScheduler
	Checker   *freshness.Checker
	Sources   *source.Client
}

// New opens the cache and store and builds the validation stack. The audit
// logger writes under a fresh run id.
func New(ctx context.Context, cfg *config.Config) (*Env, error) {
	c, err := cache.Open(ctx, cfg.Cache.Driver, cfg.Cache.Path, cfg.Cache.RedisURL)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: open cache")
	}

	st, err := store.Open(ctx, cfg.Store.Driver, cfg.Store.DatabaseURL)
	if err != nil {
		_ = c.Close()
		return nil, eris.Wrap(err, "pipeline: open store")
	}

	env := &Env{
		Config:   cfg,
		Cache:    c,
		Store:    st,
		Fetcher:  fetcher.New(FetchOptions(cfg), c),
		Breakers: resilience.NewServiceBreakers(resilience.CircuitConfig(cfg.Breaker.FailureThreshold, cfg.Breaker.ResetTimeoutSecs)),
	}

	search := searchCapability(cfg, env.Breakers.Get(searchService))
	reasoner := reasoningCapability(cfg, env.Breakers.Get(reasoningService))

	env.Validator = validation.New(
		validation.NewCheapValidator(env.Fetcher, c),
		validation.NewEvidenceCollector(search, cfg.Validation.MaxEvidence),
		validation.NewAdjudicator(reasoner, cfg.Validation.PromptEvidence),
		validation.Options{
			Schedule:        Schedule(cfg),
			MinEvidenceURLs: cfg.Validation.MinEvidenceURLs,
		},
	)
	env.Sources = source.New(env.Fetcher)

	if err := env.StartRun(uuid.NewString()); err != nil {
		env.Close()
		return nil, err
	}

	zap.L().Info("pipeline environment ready",
		zap.String("run_id", env.Audit.RunID()),
		zap.String("store", cfg.Store.Driver),
		zap.String("cache", cfg.Cache.Driver),
		zap.String("search", cfg.Search.Provider),
		zap.String("reasoning", cfg.Reasoning.Provider),
	)
	return env, nil
}

// StartRun points the audit logger, scheduler and checker at a new run id.
// Long-running processes call it before each scheduled run.
func (e *Env) StartRun(runID string) error {
	a, err := audit.New(e.Config.Log.Dir, runID)
	if err != nil {
		return eris.Wrap(err, "pipeline: audit logger")
	}
	e.Audit = a
	e.Scheduler = freshness.NewRiskScheduler(e.Store, a, Schedule(e.Config))
	e.Checker = freshness.NewChecker(e.Store, e.Validator, a, e.Scheduler, e.Fetcher.MaxConcurrent())
	return nil
}

// Ingester returns an ingest flow bound to the current run.
func (e *Env) Ingester() *Ingester {
	return NewIngester(e.Sources, e.Validator, e.Store, e.Audit)
}

// Close releases the store and cache.
func (e *Env) Close() {
	if e.Store != nil {
		if err := e.Store.Close(); err != nil {
			zap.L().Warn("pipeline: close store", zap.Error(err))
		}
	}
	if e.Cache != nil {
		if err := e.Cache.Close(); err != nil {
			zap.L().Warn("pipeline: close cache", zap.Error(err))
		}
	}
}

// FetchOptions maps the http section onto fetcher options.
func FetchOptions(cfg *config.Config) fetcher.Options {
	return fetcher.Options{
		UserAgent:         cfg.HTTP.UserAgent,
		Timeout:           time.Duration(cfg.HTTP.TimeoutSecs) * time.Second,
		ConnectTimeout:    time.Duration(cfg.HTTP.ConnectTimeoutSecs) * time.Second,
		WriteTimeout:      time.Duration(cfg.HTTP.WriteTimeoutSecs) * time.Second,
		RequestsPerMinute: cfg.HTTP.RateLimitPerMinute,
		MaxConcurrent:     cfg.HTTP.MaxConcurrentRequests,
		CacheTTL:          time.Duration(cfg.Cache.TTLHours) * time.Hour,
		Retry:             resilience.DefaultRetryConfig().WithAttempts(cfg.HTTP.Retries),
	}
}

// Schedule returns the configured tier intervals.
func Schedule(cfg *config.Config) model.Schedule {
	return model.Schedule{
		HighDays:   cfg.Schedule.RiskTierHighDays,
		MediumDays: cfg.Schedule.RiskTierMediumDays,
		LowDays:    cfg.Schedule.RiskTierLowDays,
	}
}

// searchCapability returns nil when no provider is configured.
func searchCapability(cfg *config.Config, cb *resilience.CircuitBreaker) validation.SearchCapability {
	switch cfg.Search.Provider {
	case "jina":
		var opts []jina.Option
		if cfg.Jina.SearchBaseURL != "" {
			opts = append(opts, jina.WithSearchBaseURL(cfg.Jina.SearchBaseURL))
		}
		return validation.NewJinaSearch(jina.NewClient(cfg.Jina.Key, opts...), cb,
			jina.WithCountry(cfg.Search.Country),
			jina.WithLanguage(cfg.Search.Language),
			jina.WithNum(cfg.Search.Results),
		)
	case "google":
		var opts []google.Option
		if cfg.Google.BaseURL != "" {
			opts = append(opts, google.WithBaseURL(cfg.Google.BaseURL))
		}
		return validation.NewGoogleSearch(google.NewClient(cfg.Google.Key, cfg.Google.CX, opts...), cfg.Search.Results, cb)
	default:
		zap.L().Warn("no search provider configured, evidence collection disabled")
		return nil
	}
}

// reasoningCapability returns nil when no provider is configured.
func reasoningCapability(cfg *config.Config, cb *resilience.CircuitBreaker) validation.ReasoningCapability {
	switch cfg.Reasoning.Provider {
	case "anthropic":
		return validation.NewAnthropicReasoner(anthropicpkg.NewClient(cfg.Anthropic.Key), cfg.Anthropic.Model, cfg.Anthropic.MaxTokens, cb)
	case "perplexity":
		client := perplexity.NewClient(cfg.Perplexity.Key,
			perplexity.WithBaseURL(cfg.Perplexity.BaseURL),
			perplexity.WithModel(cfg.Perplexity.Model),
		)
		return validation.NewPerplexityReasoner(client, cfg.Perplexity.Model, cb)
	default:
		zap.L().Warn("no reasoning provider configured, adjudication goes to review")
		return nil
	}
}
