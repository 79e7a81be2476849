package commands

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/stevedore-io/stevedore/pkg/config"
	"github.com/stevedore-io/stevedore/pkg/engine"
	"github.com/stevedore-io/stevedore/pkg/gateway"
	"github.com/stevedore-io/stevedore/pkg/gateway/fake"
	"github.com/stevedore-io/stevedore/pkg/policy"
	"github.com/stevedore-io/stevedore/pkg/state"
	"github.com/stevedore-io/stevedore/pkg/status"
	"github.com/stevedore-io/stevedore/pkg/stores"
	"github.com/stevedore-io/stevedore/pkg/telemetry"
)

// agent bundles the reconciler with the collaborators the commands share:
// telemetry, the SQLite state cache, the engine gateway, and the status
// egress chain.
type agent struct {
	cfg      *config.AgentConfig
	tel      *telemetry.Telemetry
	logger   zerolog.Logger
	cache    *stores.SQLiteStore
	store    *state.Store
	gw       gateway.Gateway
	rec      *engine.Reconciler
	reporter status.Reporter

	// orphansSeen tracks which orphan ids have been egressed, so a sweep
	// after each run reports an orphan once per appearance.
	orphansSeen map[string]bool
}

// buildAgent assembles the reconciler stack from the agent config. daemon
// selects the long-running extras on top of what one-shot commands need:
// event-bus status egress and policy hot reload.
func buildAgent(ctx context.Context, cfg *config.AgentConfig, engineName string, daemon bool) (*agent, error) {
	tel, err := telemetry.New(cfg.Telemetry.Build())
	if err != nil {
		return nil, fmt.Errorf("initialize telemetry: %w", err)
	}
	logger := tel.Logger.Zerolog()

	cache, err := openCache(ctx, cfg)
	if err != nil {
		return nil, err
	}

	gw, err := newGateway(engineName)
	if err != nil {
		_ = cache.Close()
		return nil, err
	}

	store := state.NewStore()

	reporter := status.MultiReporter{status.NewLogReporter(logger)}
	if daemon {
		reporter = append(reporter, status.NewBusReporter(tel.Events))
	}
	store.Subscribe(status.Observer(reporter))
	store.Subscribe(stores.Observer(cache, store, logger))

	gate, err := buildPolicyGate(ctx, cfg, tel, logger, daemon)
	if err != nil {
		_ = cache.Close()
		return nil, err
	}

	a := &agent{
		cfg:         cfg,
		tel:         tel,
		logger:      logger,
		cache:       cache,
		store:       store,
		gw:          gw,
		reporter:    reporter,
		orphansSeen: make(map[string]bool),
	}

	a.rec = engine.NewReconciler(engine.Config{
		Gateway: gw,
		Store:   store,
		Cache:   cache,
		Policy:  gate,
		Logger:  logger,
		Options: cfg.Engine.Options(),
		Orphans: cfg.OrphanPolicy(),
		OnRun:   a.onRun,
	})
	return a, nil
}

// buildPolicyGate wires the OPA admission gate. A disabled policy section
// returns a nil gate, which the reconciler treats as admit-all.
func buildPolicyGate(ctx context.Context, cfg *config.AgentConfig, tel *telemetry.Telemetry, logger zerolog.Logger, daemon bool) (engine.PolicyGate, error) {
	if !cfg.Policy.Enabled {
		return nil, nil
	}

	polEngine, err := policy.NewEngine(logger)
	if err != nil {
		return nil, fmt.Errorf("initialize policy engine: %w", err)
	}
	if len(cfg.Policy.Paths) > 0 {
		if err := polEngine.LoadPaths(ctx, cfg.Policy.Paths); err != nil {
			return nil, err
		}
		if daemon {
			if err := polEngine.Watch(ctx, cfg.Policy.Paths); err != nil {
				logger.Warn().Err(err).Msg("Policy hot reload unavailable")
			}
		}
	}

	var events *telemetry.EventPublisher
	if daemon {
		events = tel.Events
	}
	return policy.NewGate(polEngine, events, logger), nil
}

// newGateway resolves the --engine flag. Only the in-memory fake engine is
// linked into this build; concrete engine adapters satisfy gateway.Gateway
// out of tree and register here.
func newGateway(name string) (gateway.Gateway, error) {
	switch name {
	case "fake":
		return fake.New(), nil
	default:
		return nil, fmt.Errorf("unknown engine adapter %q: this build links only \"fake\"", name)
	}
}

// openCache opens and migrates the SQLite state cache under the data
// directory, creating both as needed.
func openCache(ctx context.Context, cfg *config.AgentConfig) (*stores.SQLiteStore, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	cache, err := stores.NewSQLiteStore(stores.Config{Path: cfg.StatePath()})
	if err != nil {
		return nil, err
	}
	if err := cache.Init(ctx); err != nil {
		return nil, fmt.Errorf("open state cache: %w", err)
	}
	if err := cache.Migrate(ctx); err != nil {
		_ = cache.Close()
		return nil, fmt.Errorf("migrate state cache: %w", err)
	}
	return cache, nil
}

// onRun receives every finished reconcile run: it egresses the run update,
// persists the run record, and sweeps for unclaimed engine objects.
func (a *agent) onRun(res engine.RunResult) {
	ctx := context.Background()

	a.reporter.ReportRun(ctx, status.FromRunResult(&res))
	if err := a.cache.SaveRun(ctx, &res); err != nil {
		a.logger.Warn().Err(err).Str("run_id", res.ID).Msg("Run record not cached")
	}
	a.sweepOrphans(ctx)
}

// sweepOrphans egresses entries still orphan-flagged after a run. The run
// has already claimed every desired id, so what remains flagged is genuinely
// unclaimed. An orphan that goes away and reappears is reported again.
func (a *agent) sweepOrphans(ctx context.Context) {
	current := make(map[string]bool)
	for _, e := range a.store.List() {
		if !e.Orphan {
			continue
		}
		current[string(e.ID)] = true
		if !a.orphansSeen[string(e.ID)] {
			a.reporter.ReportResource(ctx, status.FromEntry(e))
		}
	}
	a.orphansSeen = current
}

// Close releases the cache and flushes telemetry.
func (a *agent) Close() {
	if err := a.cache.Close(); err != nil {
		a.logger.Warn().Err(err).Msg("State cache close failed")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.tel.Shutdown(ctx); err != nil {
		a.logger.Warn().Err(err).Msg("Telemetry shutdown incomplete")
	}
}
