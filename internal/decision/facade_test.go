package decision

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfram-laube/backoffice/internal/bandit"
	"github.com/wolfram-laube/backoffice/internal/fleet"
	"github.com/wolfram-laube/backoffice/internal/lifecycle"
	"github.com/wolfram-laube/backoffice/internal/ontology"
	"github.com/wolfram-laube/backoffice/internal/requirements"
	"github.com/wolfram-laube/backoffice/internal/solver"
	"github.com/wolfram-laube/backoffice/internal/state"
)

type recordingCloud struct {
	starts int
	stops  int
}

func (c *recordingCloud) Start(ctx context.Context) error { c.starts++; return nil }
func (c *recordingCloud) Stop(ctx context.Context) error  { c.stops++; return nil }

func testOntology(t *testing.T) *ontology.Ontology {
	t.Helper()
	o := ontology.New()
	for _, in := range []ontology.RegisterInput{
		{RunnerKey: "gcp-spot", Capabilities: []string{"docker", "gcp"}, CostPerMinute: 0.008},
		{RunnerKey: "hetzner-docker", Capabilities: []string{"docker"}, CostPerMinute: 0.002},
		{RunnerKey: "mac-mini", Capabilities: []string{"shell", "macos"}, CostPerMinute: 0.01},
	} {
		_, err := o.Register(in)
		require.NoError(t, err)
	}
	return o
}

type facadeFixture struct {
	facade *Facade
	cloud  *recordingCloud
	lc     *lifecycle.Controller
}

func newFixture(t *testing.T, prober *fleet.Prober) facadeFixture {
	t.Helper()
	onto := testOntology(t)
	engine := bandit.NewEngine(state.NewMemoryBackend(), onto, bandit.Options{
		Rand: rand.New(rand.NewSource(1)),
	})
	cloud := &recordingCloud{}
	lc := lifecycle.NewController(lifecycle.Options{
		Cloud:       cloud,
		IdleDelay:   5 * time.Minute,
		ManagedKeys: []string{"gcp-spot"},
	})
	facade, err := New(Options{
		Ontology:  onto,
		Solver:    solver.New(onto),
		Engine:    engine,
		Prober:    prober,
		Lifecycle: lc,
	})
	require.NoError(t, err)
	return facadeFixture{facade: facade, cloud: cloud, lc: lc}
}

func TestSelectRunnerInfeasible(t *testing.T) {
	fx := newFixture(t, nil)

	d := fx.facade.SelectRunner(context.Background(), requirements.Declaration{Tags: []string{"windows"}}, "win-build")
	assert.False(t, d.Selected())
	assert.Empty(t, d.FeasibleRunners)
	assert.Contains(t, d.SymbolicReasoning, "No feasible runner found")
	assert.Contains(t, d.StatisticalReasoning, "bandit not consulted")
}

func TestSelectRunnerWithoutProber(t *testing.T) {
	fx := newFixture(t, nil)

	d := fx.facade.SelectRunner(context.Background(), requirements.Declaration{Tags: []string{"docker"}}, "build")
	assert.True(t, d.Selected())
	assert.ElementsMatch(t, []string{"gcp-spot", "hetzner-docker"}, d.FeasibleRunners)
	assert.False(t, d.AvailabilityKnown)
	// Cold start: the bandit explores.
	assert.True(t, d.Exploring)

	// Selection activity re-arms the idle shutdown timer.
	assert.True(t, fx.lc.CurrentStatus().ShutdownPending)
}

func TestSelectRunnerUnknownAvailabilityConsidersAll(t *testing.T) {
	// A prober without a token always answers unknown.
	prober := fleet.NewProber(fleet.Config{}, nil)
	fx := newFixture(t, prober)

	d := fx.facade.SelectRunner(context.Background(), requirements.Declaration{Tags: []string{"docker"}}, "build")
	assert.True(t, d.Selected())
	assert.False(t, d.AvailabilityKnown)
	require.NotEmpty(t, d.Notes)
	assert.Contains(t, d.Notes[0], "availability unknown")
	assert.Equal(t, 0, fx.cloud.starts, "unknown availability must not start capacity")
}

func statusServer(t *testing.T, statuses map[int]string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	for id, status := range statuses {
		id, status := id, status
		mux.HandleFunc(fmt.Sprintf("/runners/%d", id), func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprintf(w, `{"status": %q}`, status)
		})
	}
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func proberFor(t *testing.T, srv *httptest.Server) *fleet.Prober {
	t.Helper()
	return fleet.NewProber(fleet.Config{
		BaseURL: srv.URL,
		Token:   "secret",
		Runners: []fleet.RunnerRef{
			{ID: 1, RunnerKey: "gcp-spot"},
			{ID: 2, RunnerKey: "hetzner-docker"},
			{ID: 3, RunnerKey: "mac-mini"},
		},
	}, nil)
}

func TestSelectRunnerFiltersByAvailability(t *testing.T) {
	srv := statusServer(t, map[int]string{1: "offline", 2: "online", 3: "online"})
	fx := newFixture(t, proberFor(t, srv))

	d := fx.facade.SelectRunner(context.Background(), requirements.Declaration{Tags: []string{"docker"}}, "build")
	assert.True(t, d.AvailabilityKnown)
	assert.Equal(t, "hetzner-docker", d.SelectedRunner, "only the online feasible runner may be picked")
}

func TestSelectRunnerStartsCapacityWhenFleetDown(t *testing.T) {
	srv := statusServer(t, map[int]string{1: "offline", 2: "offline", 3: "online"})
	fx := newFixture(t, proberFor(t, srv))

	d := fx.facade.SelectRunner(context.Background(), requirements.Declaration{Tags: []string{"docker"}}, "build")
	assert.True(t, d.Selected())
	assert.True(t, d.CapacityStarted)
	assert.Equal(t, 1, fx.cloud.starts)
	// Optimistic answer: the solver's top-ranked docker runner (lowest cost).
	assert.Equal(t, "hetzner-docker", d.SelectedRunner)
	assert.Equal(t, 0.5, d.Confidence)

	// A second selection before the idle timeout must not start capacity again.
	d2 := fx.facade.SelectRunner(context.Background(), requirements.Declaration{Tags: []string{"docker"}}, "build-2")
	assert.False(t, d2.CapacityStarted)
	assert.Equal(t, 1, fx.cloud.starts)
}

func TestReportOutcomeFeedsTheBandit(t *testing.T) {
	fx := newFixture(t, nil)
	ctx := context.Background()

	reward, err := fx.facade.ReportOutcome(ctx, "gcp-spot", true, 600, -1)
	require.NoError(t, err)
	assert.Greater(t, reward, 0.0)

	stats := fx.facade.Stats(ctx)
	require.Contains(t, stats, "gcp-spot")
	assert.Equal(t, 1, stats["gcp-spot"].Pulls)
}

func TestReportOutcomeExplicitCostOverridesProfile(t *testing.T) {
	fx := newFixture(t, nil)
	ctx := context.Background()

	// 10 minutes at an explicit zero cost rate.
	reward, err := fx.facade.ReportOutcome(ctx, "gcp-spot", true, 600, 0)
	require.NoError(t, err)
	assert.InDelta(t, 1.0/10.1, reward, 1e-9)

	// The registered rate (0.008/min) adds a cost penalty.
	rewardProfile, err := fx.facade.ReportOutcome(ctx, "gcp-spot", true, 600, -1)
	require.NoError(t, err)
	assert.Less(t, rewardProfile, reward)
}

func TestReportOutcomeUnknownRunner(t *testing.T) {
	fx := newFixture(t, nil)

	_, err := fx.facade.ReportOutcome(context.Background(), "ghost", true, 60, -1)
	var notFound *ontology.NotFoundError
	require.True(t, errors.As(err, &notFound))
}

func TestResetClearsStats(t *testing.T) {
	fx := newFixture(t, nil)
	ctx := context.Background()

	_, err := fx.facade.ReportOutcome(ctx, "gcp-spot", true, 600, -1)
	require.NoError(t, err)
	require.NoError(t, fx.facade.Reset(ctx))
	assert.Empty(t, fx.facade.Stats(ctx))
}

func TestRecentDecisionsAreLogged(t *testing.T) {
	fx := newFixture(t, nil)
	ctx := context.Background()

	fx.facade.SelectRunner(ctx, requirements.Declaration{Tags: []string{"docker"}}, "one")
	fx.facade.SelectRunner(ctx, requirements.Declaration{Tags: []string{"windows"}}, "two")

	decisions := fx.facade.RecentDecisions()
	require.Len(t, decisions, 2)
	assert.Equal(t, "one", decisions[0].JobName)
	assert.Equal(t, "two", decisions[1].JobName)
}

func TestSelectionsConvergeWithFeedback(t *testing.T) {
	fx := newFixture(t, nil)
	ctx := context.Background()

	// hetzner is consistently fast, gcp-spot consistently slow.
	for i := 0; i < 25; i++ {
		_, err := fx.facade.ReportOutcome(ctx, "hetzner-docker", true, 120, -1)
		require.NoError(t, err)
		_, err = fx.facade.ReportOutcome(ctx, "gcp-spot", true, 1800, -1)
		require.NoError(t, err)
	}

	d := fx.facade.SelectRunner(ctx, requirements.Declaration{Tags: []string{"docker"}}, "build")
	assert.Equal(t, "hetzner-docker", d.SelectedRunner)
	assert.False(t, d.Exploring)
}
