// Package decision is the front door of the selection pipeline: it parses a
// job declaration, narrows runners symbolically, filters them by live
// availability and lets the bandit pick among what remains. Every call is
// stateless apart from the bandit's persisted arm statistics and a small
// in-memory log of recent decisions.
package decision

import (
	"context"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfram-laube/backoffice/internal/bandit"
	"github.com/wolfram-laube/backoffice/internal/fleet"
	"github.com/wolfram-laube/backoffice/internal/lifecycle"
	"github.com/wolfram-laube/backoffice/internal/logging"
	"github.com/wolfram-laube/backoffice/internal/observability"
	"github.com/wolfram-laube/backoffice/internal/ontology"
	"github.com/wolfram-laube/backoffice/internal/requirements"
	"github.com/wolfram-laube/backoffice/internal/solver"
)

// defaultDecisionLogSize bounds the in-memory decision history.
const defaultDecisionLogSize = 256

// Decision is the full record of one selection, kept for the decision log
// and returned to API callers.
type Decision struct {
	JobName              string    `json:"job_name"`
	Timestamp            time.Time `json:"timestamp"`
	RequiredCapabilities []string  `json:"required_capabilities"`
	PreferredTraits      []string  `json:"preferred_traits,omitempty"`
	FeasibleRunners      []string  `json:"feasible_runners"`
	OnlineRunners        []string  `json:"online_runners,omitempty"`
	AvailabilityKnown    bool      `json:"availability_known"`
	SelectedRunner       string    `json:"selected_runner"`
	Confidence           float64   `json:"confidence"`
	Exploring            bool      `json:"exploring"`
	CapacityStarted      bool      `json:"capacity_started,omitempty"`
	SymbolicReasoning    string    `json:"symbolic_reasoning"`
	StatisticalReasoning string    `json:"statistical_reasoning"`
	SolveTimeMs          float64   `json:"solve_time_ms"`
	Notes                []string  `json:"notes,omitempty"`
}

// Selected reports whether the pipeline produced a runner at all.
func (d Decision) Selected() bool {
	return d.SelectedRunner != ""
}

// Facade wires the parser, solver, prober, bandit and lifecycle controller
// into one SelectRunner/ReportOutcome surface.
type Facade struct {
	parser    *requirements.Parser
	ontology  *ontology.Ontology
	solver    *solver.Solver
	engine    *bandit.Engine
	prober    *fleet.Prober
	lifecycle *lifecycle.Controller
	logger    logging.Logger
	metrics   *observability.MetricsCollector
	recent    *lru.Cache[string, Decision]
	clock     func() time.Time
}

// Options configures a Facade. Ontology, Engine and Solver are required;
// Prober and Lifecycle may be nil, which disables availability filtering and
// capacity management respectively.
type Options struct {
	Parser    *requirements.Parser
	Ontology  *ontology.Ontology
	Solver    *solver.Solver
	Engine    *bandit.Engine
	Prober    *fleet.Prober
	Lifecycle *lifecycle.Controller
	Logger    logging.Logger
	Metrics   *observability.MetricsCollector
	LogSize   int
	Clock     func() time.Time
}

// New builds the façade. The decision log LRU never fails to initialize for
// positive sizes, so the error from lru.New is treated as a programmer
// mistake.
func New(opts Options) (*Facade, error) {
	if opts.Ontology == nil || opts.Solver == nil || opts.Engine == nil {
		return nil, fmt.Errorf("decision: ontology, solver and engine are required")
	}
	parser := opts.Parser
	if parser == nil {
		parser = requirements.NewParser(nil)
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = &observability.MetricsCollector{}
	}
	size := opts.LogSize
	if size <= 0 {
		size = defaultDecisionLogSize
	}
	recent, err := lru.New[string, Decision](size)
	if err != nil {
		return nil, fmt.Errorf("decision: init decision log: %w", err)
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Facade{
		parser:    parser,
		ontology:  opts.Ontology,
		solver:    opts.Solver,
		engine:    opts.Engine,
		prober:    opts.Prober,
		lifecycle: opts.Lifecycle,
		logger:    logging.OrNop(opts.Logger),
		metrics:   metrics,
		recent:    recent,
		clock:     clock,
	}, nil
}

// SelectRunner runs the full pipeline for one job declaration. It always
// returns a Decision; an empty SelectedRunner means no runner can satisfy
// the job and the symbolic reasoning says why.
func (f *Facade) SelectRunner(ctx context.Context, decl requirements.Declaration, jobName string) Decision {
	ctx, span := observability.StartSpan(ctx, "decision.select",
		attribute.String("job", jobName))
	defer span.End()

	req := f.parser.Parse(decl, jobName)
	result := f.solver.Solve(req)
	f.metrics.RecordSolveDuration(ctx, float64(result.SolveTime.Microseconds())/1000.0)

	d := Decision{
		JobName:              jobName,
		Timestamp:            f.clock(),
		RequiredCapabilities: req.Required,
		PreferredTraits:      req.Preferred,
		FeasibleRunners:      result.FeasibleKeys(),
		SymbolicReasoning:    result.Explanation,
		SolveTimeMs:          float64(result.SolveTime.Microseconds()) / 1000.0,
	}

	if !result.Feasible {
		f.metrics.RecordInfeasible(ctx)
		d.StatisticalReasoning = "no feasible runners, bandit not consulted"
		f.logger.Warn("decision: job %q infeasible: %s", jobName, result.Explanation)
		f.record(d)
		return d
	}

	candidates := d.FeasibleRunners
	if f.prober != nil {
		probe := f.prober.OnlineRunnerKeys(ctx)
		if probe.Unknown {
			d.Notes = append(d.Notes, "availability unknown ("+probe.Reason+"), considering all feasible runners")
			f.logger.Warn("decision: availability unknown (%s), skipping online filter", probe.Reason)
		} else {
			d.AvailabilityKnown = true
			d.OnlineRunners = probe.OnlineKeys()
			candidates = intersect(candidates, probe.Online)
		}
	}

	if len(candidates) == 0 && d.AvailabilityKnown {
		// Feasible runners exist but none is online. Power capacity up and
		// answer optimistically with the best-ranked runner so the job can
		// queue against it.
		top := result.Best()
		d.SelectedRunner = top
		d.Confidence = 0.5
		d.StatisticalReasoning = "no feasible runner online, starting on-demand capacity and selecting " + top + " optimistically"
		if f.lifecycle != nil {
			started, err := f.lifecycle.EnsureCapacity(ctx)
			if err != nil {
				d.Notes = append(d.Notes, "capacity start failed: "+err.Error())
			} else {
				d.CapacityStarted = started
				f.lifecycle.ArmIdleShutdown(0)
			}
		} else {
			d.Notes = append(d.Notes, "no lifecycle controller configured, cannot start capacity")
		}
		f.metrics.RecordSelection(ctx, top, f.engine.StrategyName())
		f.record(d)
		return d
	}

	choice := f.engine.Select(ctx, candidates)
	d.SelectedRunner = choice.RunnerKey
	d.Confidence = choice.Confidence
	d.Exploring = choice.Exploring
	d.StatisticalReasoning = choice.Reasoning
	if choice.RunnerKey != "" && f.lifecycle != nil {
		// Selection activity pushes the idle deadline out.
		f.lifecycle.ArmIdleShutdown(0)
	}
	f.metrics.RecordSelection(ctx, choice.RunnerKey, f.engine.StrategyName())
	f.logger.Info("decision: job %q -> %s (confidence %.2f, exploring %t)",
		jobName, choice.RunnerKey, choice.Confidence, choice.Exploring)
	f.record(d)
	return d
}

// ReportOutcome feeds one finished job back into the bandit. A negative
// costPerMinute means "use the rate registered for this runner". An unknown
// runner is an error so the caller learns its feedback went nowhere.
func (f *Facade) ReportOutcome(ctx context.Context, runnerKey string, success bool, durationSeconds, costPerMinute float64) (float64, error) {
	ctx, span := observability.StartSpan(ctx, "decision.outcome",
		attribute.String("runner", runnerKey))
	defer span.End()

	if costPerMinute < 0 {
		profile, err := f.ontology.Profile(runnerKey)
		if err != nil {
			return 0, err
		}
		costPerMinute = profile.CostPerMinute
	}
	reward, err := f.engine.Update(ctx, runnerKey, success, durationSeconds, costPerMinute)
	if err != nil {
		return 0, err
	}
	f.metrics.RecordOutcome(ctx, runnerKey, success, reward)
	return reward, nil
}

// Stats exposes the bandit's per-arm statistics.
func (f *Facade) Stats(ctx context.Context) map[string]bandit.ArmSnapshot {
	return f.engine.Stats(ctx)
}

// Reset wipes learned statistics.
func (f *Facade) Reset(ctx context.Context) error {
	return f.engine.Reset(ctx)
}

// RecentDecisions returns the in-memory decision log, most recent last.
func (f *Facade) RecentDecisions() []Decision {
	keys := f.recent.Keys()
	out := make([]Decision, 0, len(keys))
	for _, k := range keys {
		if d, ok := f.recent.Peek(k); ok {
			out = append(out, d)
		}
	}
	return out
}

func (f *Facade) record(d Decision) {
	key := fmt.Sprintf("%s@%d", d.JobName, d.Timestamp.UnixNano())
	f.recent.Add(key, d)
}

func intersect(keys []string, online map[string]struct{}) []string {
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if _, ok := online[k]; ok {
			out = append(out, k)
		}
	}
	return out
}
