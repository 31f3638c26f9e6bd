// Package app assembles the runnerd components from a loaded configuration.
package app

import (
	"context"
	"fmt"
	"math/rand"

	"github.com/wolfram-laube/backoffice/internal/bandit"
	"github.com/wolfram-laube/backoffice/internal/config"
	"github.com/wolfram-laube/backoffice/internal/decision"
	"github.com/wolfram-laube/backoffice/internal/fleet"
	"github.com/wolfram-laube/backoffice/internal/lifecycle"
	"github.com/wolfram-laube/backoffice/internal/logging"
	"github.com/wolfram-laube/backoffice/internal/observability"
	"github.com/wolfram-laube/backoffice/internal/ontology"
	"github.com/wolfram-laube/backoffice/internal/requirements"
	"github.com/wolfram-laube/backoffice/internal/solver"
	"github.com/wolfram-laube/backoffice/internal/state"
)

// App holds the wired components of one runnerd instance.
type App struct {
	Config    config.Config
	Logger    *observability.Logger
	Metrics   *observability.MetricsCollector
	Ontology  *ontology.Ontology
	Parser    *requirements.Parser
	Solver    *solver.Solver
	Backend   state.Backend
	Engine    *bandit.Engine
	Prober    *fleet.Prober
	Lifecycle *lifecycle.Controller
	Facade    *decision.Facade

	closers []func() error
}

// New wires every component from cfg. The returned App owns the state
// backend; call Close when done.
func New(ctx context.Context, cfg config.Config) (*App, error) {
	obsLogger := observability.NewLogger(cfg.Log)
	a := &App{Config: cfg, Logger: obsLogger}

	metrics := &observability.MetricsCollector{}
	if cfg.Metrics.Enabled {
		var err error
		metrics, err = observability.NewMetricsCollector(cfg.Metrics)
		if err != nil {
			return nil, fmt.Errorf("init metrics: %w", err)
		}
	}
	a.Metrics = metrics

	onto := ontology.New(
		ontology.WithImplications(cfg.Implications),
		ontology.WithLogger(logging.FromObservability(obsLogger, "ontology")),
	)
	for _, r := range cfg.Runners {
		if _, err := onto.Register(ontology.RegisterInput{
			RunnerKey:     r.RunnerKey,
			DisplayName:   r.DisplayName,
			Tags:          r.Tags,
			Capabilities:  r.Capabilities,
			CostPerMinute: r.CostPerMinute,
			ExecutorClass: r.ExecutorClass,
		}); err != nil {
			return nil, fmt.Errorf("register runner %q: %w", r.RunnerKey, err)
		}
	}
	a.Ontology = onto
	a.Parser = requirements.NewParser(cfg.TagMappings)
	a.Solver = solver.New(onto)

	backend, err := a.newBackend(ctx, cfg.State)
	if err != nil {
		return nil, err
	}
	a.Backend = backend

	banditOpts := bandit.Options{
		Strategy: bandit.NewStrategy(cfg.Bandit.Algorithm),
		Logger:   logging.FromObservability(obsLogger, "bandit"),
		Metrics:  metrics,
	}
	if cfg.Bandit.Seed != 0 {
		banditOpts.Rand = rand.New(rand.NewSource(cfg.Bandit.Seed))
	}
	a.Engine = bandit.NewEngine(backend, onto, banditOpts)

	if cfg.Fleet.BaseURL != "" || len(cfg.Fleet.Runners) > 0 {
		a.Prober = fleet.NewProber(fleet.Config{
			BaseURL: cfg.Fleet.BaseURL,
			Token:   cfg.Fleet.Token,
			Timeout: cfg.Fleet.Timeout.Std(),
			Runners: cfg.Fleet.Runners,
		}, logging.FromObservability(obsLogger, "fleet"))
	}

	cloud, err := newCloudController(cfg.Lifecycle, logging.FromObservability(obsLogger, "lifecycle"))
	if err != nil {
		return nil, err
	}
	a.Lifecycle = lifecycle.NewController(lifecycle.Options{
		Cloud:       cloud,
		IdleDelay:   cfg.Lifecycle.IdleDelay.Std(),
		ManagedKeys: cfg.Lifecycle.ManagedKeys,
		Logger:      logging.FromObservability(obsLogger, "lifecycle"),
		Metrics:     metrics,
	})

	facade, err := decision.New(decision.Options{
		Parser:    a.Parser,
		Ontology:  onto,
		Solver:    a.Solver,
		Engine:    a.Engine,
		Prober:    a.Prober,
		Lifecycle: a.Lifecycle,
		Logger:    logging.FromObservability(obsLogger, "decision"),
		Metrics:   metrics,
	})
	if err != nil {
		return nil, err
	}
	a.Facade = facade
	return a, nil
}

// ComponentLogger returns a printf-style logger scoped to one component.
func (a *App) ComponentLogger(component string) logging.Logger {
	return logging.FromObservability(a.Logger, component)
}

// RunnerKeysByID maps the status-API runner IDs to runner keys for webhook
// resolution.
func (a *App) RunnerKeysByID() map[int]string {
	out := make(map[int]string, len(a.Config.Fleet.Runners))
	for _, ref := range a.Config.Fleet.Runners {
		out[ref.ID] = ref.RunnerKey
	}
	return out
}

// Close releases backend resources.
func (a *App) Close() error {
	var firstErr error
	for _, closeFn := range a.closers {
		if err := closeFn(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (a *App) newBackend(ctx context.Context, cfg config.StateConfig) (state.Backend, error) {
	switch cfg.Backend {
	case "", "memory":
		return state.NewMemoryBackend(), nil
	case "file":
		return state.NewFileBackend(cfg.FilePath), nil
	case "object":
		return state.NewObjectBackend(state.ObjectConfig{
			Endpoint:  cfg.ObjectEndpoint,
			AccessKey: cfg.ObjectAccessKey,
			SecretKey: cfg.ObjectSecretKey,
			UseSSL:    cfg.ObjectUseSSL,
			Bucket:    cfg.ObjectBucket,
			Key:       cfg.ObjectKey,
		})
	case "postgres":
		backend, err := state.NewPostgresBackend(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, backend.Close)
		return backend, nil
	default:
		return nil, fmt.Errorf("unknown state backend %q", cfg.Backend)
	}
}

func newCloudController(cfg config.LifecycleConfig, logger logging.Logger) (lifecycle.CloudController, error) {
	switch cfg.CloudDriver {
	case "", "noop":
		return &lifecycle.NoopController{Logger: logger}, nil
	case "exec":
		return &lifecycle.ExecController{
			StartCommand: cfg.StartCmd,
			StopCommand:  cfg.StopCmd,
			Logger:       logger,
		}, nil
	default:
		return nil, fmt.Errorf("unknown cloud driver %q", cfg.CloudDriver)
	}
}
