package solver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfram-laube/backoffice/internal/ontology"
	"github.com/wolfram-laube/backoffice/internal/requirements"
)

func fleetOntology(t *testing.T) *ontology.Ontology {
	t.Helper()
	o := ontology.New()
	registrations := []ontology.RegisterInput{
		{RunnerKey: "hetzner-docker", Capabilities: []string{"docker", "x86_64"}, CostPerMinute: 0.002},
		{RunnerKey: "gcp-spot", Capabilities: []string{"docker", "gcp", "nordic", "x86_64"}, CostPerMinute: 0.008},
		{RunnerKey: "gcp-gpu", Capabilities: []string{"docker", "gcp", "gpu"}, CostPerMinute: 0.05},
		{RunnerKey: "mac-mini", Capabilities: []string{"shell", "macos", "arm64"}, CostPerMinute: 0.01},
	}
	for _, in := range registrations {
		_, err := o.Register(in)
		require.NoError(t, err)
	}
	return o
}

func TestSolveFeasibilityIsSubsetCheck(t *testing.T) {
	s := New(fleetOntology(t))

	result := s.Solve(requirements.Requirement{Required: []string{"docker"}})
	assert.True(t, result.Feasible)
	assert.ElementsMatch(t, []string{"hetzner-docker", "gcp-spot", "gcp-gpu"}, result.FeasibleKeys())
	assert.Contains(t, result.Pruned, "mac-mini")
	assert.Equal(t, "missing: docker", result.Pruned["mac-mini"])
}

func TestSolveUsesClosedCapabilities(t *testing.T) {
	s := New(fleetOntology(t))

	// No runner declares linux, but docker implies it.
	result := s.Solve(requirements.Requirement{Required: []string{"linux"}})
	assert.True(t, result.Feasible)
	assert.ElementsMatch(t, []string{"hetzner-docker", "gcp-spot", "gcp-gpu"}, result.FeasibleKeys())
}

func TestSolveInfeasible(t *testing.T) {
	s := New(fleetOntology(t))

	result := s.Solve(requirements.Requirement{Required: []string{"windows"}})
	assert.False(t, result.Feasible)
	assert.Empty(t, result.Ranked)
	assert.Equal(t, "", result.Best())
	assert.Len(t, result.Pruned, 4)
	assert.Contains(t, result.Explanation, "No feasible runner found")
}

func TestSolveRankingOrder(t *testing.T) {
	s := New(fleetOntology(t))

	// Prefer gpu: gcp-gpu scores 1.0, the others 0. Among the zero scorers
	// the cheaper runner comes first.
	result := s.Solve(requirements.Requirement{
		Required:  []string{"docker"},
		Preferred: []string{"gpu"},
	})
	require.True(t, result.Feasible)
	assert.Equal(t, []string{"gcp-gpu", "hetzner-docker", "gcp-spot"}, result.FeasibleKeys())
	assert.Equal(t, 1.0, result.Ranked[0].Score)
}

func TestSolveTieBreakByCostThenKey(t *testing.T) {
	o := ontology.New()
	for _, in := range []ontology.RegisterInput{
		{RunnerKey: "b-runner", Capabilities: []string{"docker"}, CostPerMinute: 0.01},
		{RunnerKey: "a-runner", Capabilities: []string{"docker"}, CostPerMinute: 0.01},
		{RunnerKey: "cheap", Capabilities: []string{"docker"}, CostPerMinute: 0.001},
	} {
		_, err := o.Register(in)
		require.NoError(t, err)
	}
	s := New(o)

	result := s.Solve(requirements.Requirement{Required: []string{"docker"}})
	assert.Equal(t, []string{"cheap", "a-runner", "b-runner"}, result.FeasibleKeys())
}

func TestSolveDeterministic(t *testing.T) {
	s := New(fleetOntology(t))
	req := requirements.Requirement{Required: []string{"docker"}, Preferred: []string{"gcp", "gpu"}}

	first := s.Solve(req)
	for i := 0; i < 10; i++ {
		again := s.Solve(req)
		assert.Equal(t, first.FeasibleKeys(), again.FeasibleKeys())
	}
}

func TestSolveMonotonicity(t *testing.T) {
	s := New(fleetOntology(t))

	loose := s.Solve(requirements.Requirement{Required: []string{"docker"}})
	tight := s.Solve(requirements.Requirement{Required: []string{"docker", "gpu"}})

	// Adding a constraint can only shrink the feasible set.
	assert.Subset(t, loose.FeasibleKeys(), tight.FeasibleKeys())
	assert.Equal(t, []string{"gcp-gpu"}, tight.FeasibleKeys())
}

func TestSolvePreferencesNeverExclude(t *testing.T) {
	s := New(fleetOntology(t))

	result := s.Solve(requirements.Requirement{
		Required:  []string{"docker"},
		Preferred: []string{"no-such-capability"},
	})
	assert.True(t, result.Feasible)
	assert.Len(t, result.Ranked, 3)
}

func TestSolveEmptyRequirementMatchesEveryRunner(t *testing.T) {
	s := New(fleetOntology(t))

	result := s.Solve(requirements.Requirement{})
	assert.True(t, result.Feasible)
	assert.Len(t, result.Ranked, 4)
	// All score 1.0: order is pure cost ascending.
	assert.Equal(t, "hetzner-docker", result.Best())
}

func TestSolveExplanationMentionsTopRunners(t *testing.T) {
	s := New(fleetOntology(t))

	result := s.Solve(requirements.Requirement{Required: []string{"docker"}, Preferred: []string{"gpu"}})
	assert.Contains(t, result.Explanation, "Job requires: docker")
	assert.Contains(t, result.Explanation, "Prefers: gpu")
	assert.Contains(t, result.Explanation, "gcp-gpu")
}
