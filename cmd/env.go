package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/record-gate/internal/config"
	"github.com/sells-group/record-gate/internal/enrich"
	"github.com/sells-group/record-gate/internal/evidence"
	"github.com/sells-group/record-gate/internal/model"
	"github.com/sells-group/record-gate/internal/monitoring"
	"github.com/sells-group/record-gate/internal/pipeline"
	"github.com/sells-group/record-gate/internal/resilience"
	"github.com/sells-group/record-gate/internal/rules"
	"github.com/sells-group/record-gate/internal/store"
)

// runEnv holds everything a validation run needs besides its inputs. It is
// shared by the validate and serve commands.
type runEnv struct {
	Store    store.Store // nil when persistence is off
	Rules    *rules.Rules
	Dedupe   rules.DedupeSpec
	Pipeline config.PipelineConfig
	Pages    pipeline.PageFiller // used only when a run asks for page fetching
	Enricher *enrich.Chain       // nil when no providers are configured
	Alerter  *monitoring.Alerter
}

// Close releases resources held by the environment.
func (e *runEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initEnv builds the run environment from cfg. withStore=false skips
// persistence regardless of the configured driver.
func initEnv(ctx context.Context, c *config.Config, withStore bool) (*runEnv, error) {
	env := &runEnv{
		Rules:    rules.Default(),
		Dedupe:   dedupeDefaults(c.Dedupe),
		Pipeline: c.Pipeline,
		Pages:    newPageFetcher(c.Fetch),
		Enricher: newEnricher(c),
		Alerter:  monitoring.NewAlerter(c.Monitoring),
	}

	if withStore && c.Store.Driver != "none" && c.Store.Driver != "" {
		st, err := initStore(ctx, c.Store)
		if err != nil {
			return nil, err
		}
		if err := st.Migrate(ctx); err != nil {
			_ = st.Close()
			return nil, eris.Wrap(err, "migrate store")
		}
		env.Store = st
	}
	return env, nil
}

func initStore(ctx context.Context, c config.StoreConfig) (store.Store, error) {
	switch c.Driver {
	case "sqlite":
		dsn := c.DatabaseURL
		if dsn == "" {
			dsn = "record-gate.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, c.DatabaseURL, &store.PoolConfig{
			MaxConns: c.MaxConns,
			MinConns: c.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", c.Driver)
	}
}

func dedupeDefaults(c config.DedupeConfig) rules.DedupeSpec {
	fuzzy := c.Fuzzy
	return rules.DedupeSpec{
		Keys:           c.KeyFields,
		Fuzzy:          &fuzzy,
		Threshold:      c.FuzzyThreshold,
		SourcePriority: c.SourcePriority,
	}
}

func newPageFetcher(c config.FetchConfig) *evidence.Fetcher {
	return evidence.NewFetcher(evidence.FetchOptions{
		UserAgent:         c.UserAgent,
		Timeout:           c.Timeout(),
		MaxBodyBytes:      c.MaxBodyBytes,
		RequestsPerSecond: c.RequestsPerSecond,
		Concurrency:       c.Concurrency,
		Retry:             resilience.RetryFromConfig(c.Retries, 0, 0),
	})
}

func newEnricher(c *config.Config) *enrich.Chain {
	if len(c.Enrich.Providers) == 0 {
		return nil
	}
	breakers := resilience.NewServiceBreakers(resilience.BreakerFromConfig(5, 30*time.Second))

	providers := make([]enrich.Provider, 0, len(c.Enrich.Providers))
	for _, p := range c.Enrich.Providers {
		providers = append(providers, enrich.NewHTTPProvider(enrich.HTTPProviderConfig{
			Name:              p.Name,
			URL:               p.URL,
			APIKey:            p.APIKey,
			Fields:            p.Fields,
			RequestsPerSecond: p.RequestsPerSecond,
			Timeout:           time.Duration(p.TimeoutSecs) * time.Second,
			Retry:             resilience.RetryFromConfig(c.Fetch.Retries, 0, 0),
		}, breakers.Get(p.Name)))
	}
	return enrich.NewChain(c.Enrich.Concurrency, providers...)
}

// validate runs one batch through the pipeline and, when a store is
// configured, records the run and every record's outcome.
func (e *runEnv) validate(ctx context.Context, spec *rules.RunSpec, records []*model.Record, set evidence.Set, fetchPages bool) (*pipeline.Result, error) {
	if spec == nil {
		return nil, eris.Wrap(rules.ErrInvalidSpec, "validate: nil run spec")
	}
	spec.Complete(e.Dedupe)

	opts := pipeline.Options{
		Concurrency:               e.Pipeline.Concurrency,
		RequireSourceVerification: e.Pipeline.RequireSourceVerification,
		PageMatchPass:             e.Pipeline.PageMatchPass,
		PageMatchUncertain:        e.Pipeline.PageMatchUncertain,
		Enricher:                  e.Enricher,
	}
	if fetchPages {
		opts.Pages = e.Pages
	}

	var run *model.Run
	if e.Store != nil {
		var err error
		run, err = e.Store.CreateRun(ctx, spec.Name)
		if err != nil {
			return nil, eris.Wrap(err, "validate: create run")
		}
		opts.RunID = run.ID
	}

	res, err := e.execute(ctx, spec, records, set, opts)
	if err != nil {
		if run != nil {
			if ferr := e.Store.FailRun(ctx, run.ID, err); ferr != nil {
				zap.L().Warn("validate: record run failure", zap.String("run_id", run.ID), zap.Error(ferr))
			}
		}
		return nil, err
	}

	if run != nil {
		if err := e.persist(ctx, res); err != nil {
			return res, err
		}
	}
	if e.Alerter.Enabled() {
		e.Alerter.SendAlerts(ctx, e.Alerter.EvaluateRun(res.Report))
	}
	return res, nil
}

func (e *runEnv) execute(ctx context.Context, spec *rules.RunSpec, records []*model.Record, set evidence.Set, opts pipeline.Options) (*pipeline.Result, error) {
	p, err := pipeline.New(e.Rules, spec, opts)
	if err != nil {
		return nil, err
	}
	return p.Run(ctx, records, set)
}

func (e *runEnv) persist(ctx context.Context, res *pipeline.Result) error {
	rows := make([]store.RunRecord, 0, len(res.Clean)+len(res.Rejected))
	for _, rec := range res.Clean {
		row, err := store.NewRunRecord(res.RunID, rec, nil)
		if err != nil {
			return err
		}
		rows = append(rows, row)
	}
	for _, rej := range res.Rejected {
		row, err := store.NewRunRecord(res.RunID, rej.Record, rej.Reasons)
		if err != nil {
			return err
		}
		rows = append(rows, row)
	}

	if err := e.Store.SaveRecords(ctx, res.RunID, rows); err != nil {
		return eris.Wrap(err, "validate: save records")
	}
	if err := e.Store.CompleteRun(ctx, res.RunID, &res.Report); err != nil {
		return eris.Wrap(err, "validate: complete run")
	}
	return nil
}
