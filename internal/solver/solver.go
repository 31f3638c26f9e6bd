// Package solver computes the feasible runner set for a requirement. It is
// the symbolic half of the selection engine: hard constraints prune, soft
// preferences only rank. Output ordering is fully deterministic.
package solver

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/wolfram-laube/backoffice/internal/ontology"
	"github.com/wolfram-laube/backoffice/internal/requirements"
)

// RankedRunner is one feasible runner with its preference score.
type RankedRunner struct {
	RunnerKey string  `json:"runner_key"`
	Score     float64 `json:"score"`
}

// Result is the outcome of a solve. An empty Ranked list is a legitimate
// "no runner can run this job" answer, not an error.
type Result struct {
	Feasible    bool
	Ranked      []RankedRunner
	Pruned      map[string]string
	Requirement requirements.Requirement
	SolveTime   time.Duration
	Explanation string
}

// Best returns the top-ranked runner key, or "" when infeasible.
func (r Result) Best() string {
	if len(r.Ranked) == 0 {
		return ""
	}
	return r.Ranked[0].RunnerKey
}

// FeasibleKeys returns the ranked runner keys in order.
func (r Result) FeasibleKeys() []string {
	keys := make([]string, len(r.Ranked))
	for i, rr := range r.Ranked {
		keys[i] = rr.RunnerKey
	}
	return keys
}

// Solver filters and ranks runner profiles against requirements.
type Solver struct {
	ontology *ontology.Ontology
}

// New creates a Solver over the given ontology.
func New(onto *ontology.Ontology) *Solver {
	return &Solver{ontology: onto}
}

// Solve computes the feasible set for req over every registered runner.
// A runner is feasible iff its closed capability set is a superset of
// req.Required. Ranking: preference score descending, then cost per minute
// ascending, then runner key lexical. Two calls with identical inputs return
// identical ordering.
func (s *Solver) Solve(req requirements.Requirement) Result {
	start := time.Now()

	profiles := s.ontology.Profiles()
	pruned := make(map[string]string)
	ranked := make([]RankedRunner, 0, len(profiles))
	costs := make(map[string]float64, len(profiles))

	for _, profile := range profiles {
		caps := map[string]struct{}(profile.Capabilities)
		missing := missingCapabilities(req.Required, caps)
		if len(missing) > 0 {
			pruned[profile.RunnerKey] = "missing: " + strings.Join(missing, ", ")
			continue
		}
		ranked = append(ranked, RankedRunner{
			RunnerKey: profile.RunnerKey,
			Score:     req.PreferenceScore(caps),
		})
		costs[profile.RunnerKey] = profile.CostPerMinute
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		ci, cj := costs[ranked[i].RunnerKey], costs[ranked[j].RunnerKey]
		if ci != cj {
			return ci < cj
		}
		return ranked[i].RunnerKey < ranked[j].RunnerKey
	})

	result := Result{
		Feasible:    len(ranked) > 0,
		Ranked:      ranked,
		Pruned:      pruned,
		Requirement: req,
		SolveTime:   time.Since(start),
	}
	if result.Feasible {
		result.Explanation = s.explain(req, ranked, pruned, costs)
	} else {
		result.Explanation = s.explainInfeasible(req, pruned)
	}
	return result
}

func (s *Solver) explain(req requirements.Requirement, ranked []RankedRunner, pruned map[string]string, costs map[string]float64) string {
	var b strings.Builder

	required := strings.Join(req.Required, ", ")
	if required == "" {
		required = "none"
	}
	fmt.Fprintf(&b, "Job requires: %s\n", required)
	if len(req.Preferred) > 0 {
		fmt.Fprintf(&b, "Prefers: %s\n", strings.Join(req.Preferred, ", "))
	}
	fmt.Fprintf(&b, "Feasible runners: %d\n", len(ranked))

	top := ranked
	if len(top) > 3 {
		top = top[:3]
	}
	for _, rr := range top {
		fmt.Fprintf(&b, "  - %s (score: %.2f, cost: %.3f/min)\n", rr.RunnerKey, rr.Score, costs[rr.RunnerKey])
	}
	if len(pruned) > 0 {
		fmt.Fprintf(&b, "Pruned: %d runners", len(pruned))
	}
	return strings.TrimRight(b.String(), "\n")
}

func (s *Solver) explainInfeasible(req requirements.Requirement, pruned map[string]string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "No feasible runner found\n")
	fmt.Fprintf(&b, "Required capabilities: %s\n", strings.Join(req.Required, ", "))
	if len(pruned) > 0 {
		b.WriteString("Reasons:\n")
		keys := make([]string, 0, len(pruned))
		for key := range pruned {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			fmt.Fprintf(&b, "  - %s: %s\n", key, pruned[key])
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func missingCapabilities(required []string, caps map[string]struct{}) []string {
	var missing []string
	for _, c := range required {
		if _, ok := caps[c]; !ok {
			missing = append(missing, c)
		}
	}
	return missing
}
