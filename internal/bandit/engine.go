// Package bandit learns which runner performs best from observed job
// outcomes. The engine holds no long-lived state: every operation is a
// load-mutate-save cycle against the state backend, so the process can be
// restarted or replicated at any time.
package bandit

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"time"

	"github.com/wolfram-laube/backoffice/internal/logging"
	"github.com/wolfram-laube/backoffice/internal/observability"
	"github.com/wolfram-laube/backoffice/internal/ontology"
	"github.com/wolfram-laube/backoffice/internal/state"
)

// UnknownRunnerError rejects observations for runner keys the ontology has
// never seen, so typos and stale identifiers cannot grow the statistics.
type UnknownRunnerError struct {
	RunnerKey string
}

func (e *UnknownRunnerError) Error() string {
	return fmt.Sprintf("cannot record outcome for unknown runner %q", e.RunnerKey)
}

// ArmSnapshot is the read-only view of one arm for diagnostics.
type ArmSnapshot struct {
	Pulls       int     `json:"pulls"`
	MeanReward  float64 `json:"mean_reward"`
	SuccessRate float64 `json:"success_rate"`
	AvgDuration float64 `json:"avg_duration"`
}

// Engine selects arms and folds outcome observations into durable statistics.
type Engine struct {
	backend  state.Backend
	ontology *ontology.Ontology
	strategy Strategy
	rng      *rand.Rand
	logger   logging.Logger
	metrics  *observability.MetricsCollector
}

// Options configures an Engine.
type Options struct {
	Strategy Strategy
	Rand     *rand.Rand
	Logger   logging.Logger
	Metrics  *observability.MetricsCollector
}

// NewEngine creates an engine over backend and onto. A nil strategy defaults
// to UCB1, a nil Rand to a time-seeded source.
func NewEngine(backend state.Backend, onto *ontology.Ontology, opts Options) *Engine {
	strategy := opts.Strategy
	if strategy == nil {
		strategy = &UCB1{C: 2.0}
	}
	rng := opts.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = &observability.MetricsCollector{}
	}
	return &Engine{
		backend:  backend,
		ontology: onto,
		strategy: strategy,
		rng:      rng,
		logger:   logging.OrNop(opts.Logger),
		metrics:  metrics,
	}
}

// StrategyName reports the configured selection algorithm.
func (e *Engine) StrategyName() string {
	return e.strategy.Name()
}

// Select picks one runner out of feasibleKeys, or returns an empty Choice
// when the set is empty. Statistics are loaded fresh from the backend; an
// unreachable backend degrades to "no prior knowledge" rather than failing
// the selection.
func (e *Engine) Select(ctx context.Context, feasibleKeys []string) Choice {
	if len(feasibleKeys) == 0 {
		return Choice{}
	}
	doc := e.loadOrEmpty(ctx)
	return e.strategy.Select(feasibleKeys, doc, e.rng)
}

// Update folds one observation into the arm statistics and returns the
// credited reward. The runner must be registered in the ontology. A failed
// save loses this observation's learning effect but is not an error for the
// caller.
func (e *Engine) Update(ctx context.Context, runnerKey string, success bool, durationSeconds, costPerMinute float64) (float64, error) {
	if !e.ontology.Known(runnerKey) {
		return 0, &UnknownRunnerError{RunnerKey: runnerKey}
	}

	reward := Reward(success, durationSeconds, costPerMinute)

	doc := e.loadOrEmpty(ctx)
	rec := doc.Runners[runnerKey]
	rec.Pulls++
	rec.TotalReward += reward
	rec.TotalDuration += durationSeconds
	if success {
		rec.Successes++
	} else {
		rec.Failures++
	}
	doc.Runners[runnerKey] = rec
	doc.TotalPulls++
	doc.Algorithm = e.strategy.Name()

	if err := e.backend.Save(ctx, doc); err != nil {
		e.metrics.RecordStateFailure(ctx, "save")
		e.logger.Warn("bandit: failed to persist observation for %s, learning effect lost: %v", runnerKey, err)
	}
	return reward, nil
}

// Stats returns the diagnostic snapshot of every arm with recorded state.
func (e *Engine) Stats(ctx context.Context) map[string]ArmSnapshot {
	doc := e.loadOrEmpty(ctx)
	out := make(map[string]ArmSnapshot, len(doc.Runners))
	for key, rec := range doc.Runners {
		snap := ArmSnapshot{Pulls: rec.Pulls, SuccessRate: 0.5}
		if rec.Pulls > 0 {
			snap.MeanReward = rec.TotalReward / float64(rec.Pulls)
			snap.AvgDuration = rec.TotalDuration / float64(rec.Pulls)
		}
		if outcomes := rec.Successes + rec.Failures; outcomes > 0 {
			snap.SuccessRate = float64(rec.Successes) / float64(outcomes)
		}
		out[key] = snap
	}
	return out
}

// TotalPulls reports the global observation count.
func (e *Engine) TotalPulls(ctx context.Context) int {
	return e.loadOrEmpty(ctx).TotalPulls
}

// Reset clears all arm statistics in one save. Unlike Update, a failed save
// here is surfaced: an administrative reset that silently did nothing would
// be worse than an error.
func (e *Engine) Reset(ctx context.Context) error {
	doc := state.NewDocument()
	doc.Algorithm = e.strategy.Name()
	if err := e.backend.Save(ctx, doc); err != nil {
		e.metrics.RecordStateFailure(ctx, "save")
		return fmt.Errorf("failed to reset arm statistics: %w", err)
	}
	e.logger.Info("bandit: arm statistics reset")
	return nil
}

// KnownArms returns the keys with recorded statistics in lexical order.
func (e *Engine) KnownArms(ctx context.Context) []string {
	doc := e.loadOrEmpty(ctx)
	keys := make([]string, 0, len(doc.Runners))
	for key := range doc.Runners {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func (e *Engine) loadOrEmpty(ctx context.Context) state.Document {
	doc, err := e.backend.Load(ctx)
	if err != nil {
		e.metrics.RecordStateFailure(ctx, "load")
		e.logger.Warn("bandit: state backend unreachable, starting from empty statistics: %v", err)
		return state.NewDocument()
	}
	if doc.Runners == nil {
		doc.Runners = map[string]state.ArmRecord{}
	}
	return doc
}
