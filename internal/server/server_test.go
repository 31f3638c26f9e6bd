package server

import (
	"bytes"
	"context"
	"encoding/json"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfram-laube/backoffice/internal/bandit"
	"github.com/wolfram-laube/backoffice/internal/decision"
	"github.com/wolfram-laube/backoffice/internal/lifecycle"
	"github.com/wolfram-laube/backoffice/internal/ontology"
	"github.com/wolfram-laube/backoffice/internal/solver"
	"github.com/wolfram-laube/backoffice/internal/state"
)

type stubCloud struct{ starts, stops int }

func (c *stubCloud) Start(ctx context.Context) error { c.starts++; return nil }
func (c *stubCloud) Stop(ctx context.Context) error  { c.stops++; return nil }

func newTestServer(t *testing.T, webhookSecret string) (*Server, *lifecycle.Controller) {
	t.Helper()
	onto := ontology.New()
	for _, in := range []ontology.RegisterInput{
		{RunnerKey: "gcp-spot", Capabilities: []string{"docker", "gcp"}, CostPerMinute: 0.008},
		{RunnerKey: "hetzner-docker", Capabilities: []string{"docker"}, CostPerMinute: 0.002},
	} {
		_, err := onto.Register(in)
		require.NoError(t, err)
	}
	engine := bandit.NewEngine(state.NewMemoryBackend(), onto, bandit.Options{
		Rand: rand.New(rand.NewSource(1)),
	})
	lc := lifecycle.NewController(lifecycle.Options{
		Cloud:       &stubCloud{},
		IdleDelay:   time.Minute,
		ManagedKeys: []string{"gcp-spot"},
	})
	facade, err := decision.New(decision.Options{
		Ontology:  onto,
		Solver:    solver.New(onto),
		Engine:    engine,
		Lifecycle: lc,
	})
	require.NoError(t, err)

	srv := New(Config{
		Addr:          ":0",
		WebhookSecret: webhookSecret,
		RunnerKeys:    map[int]string{42: "gcp-spot"},
	}, facade, lc, nil, nil)
	return srv, lc
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t, "")
	rec := doJSON(t, srv.Handler(), http.MethodGet, "/healthz", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSelectEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, "")

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/api/v1/select", map[string]any{
		"job_name":    "build",
		"declaration": map[string]any{"tags": []string{"docker"}},
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var d decision.Decision
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &d))
	assert.NotEmpty(t, d.SelectedRunner)
	assert.Equal(t, "build", d.JobName)
}

func TestSelectEndpointInfeasible(t *testing.T) {
	srv, _ := newTestServer(t, "")

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/api/v1/select", map[string]any{
		"job_name":    "win",
		"declaration": map[string]any{"tags": []string{"windows"}},
	}, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestSelectEndpointValidation(t *testing.T) {
	srv, _ := newTestServer(t, "")

	// job_name is required.
	rec := doJSON(t, srv.Handler(), http.MethodPost, "/api/v1/select", map[string]any{
		"declaration": map[string]any{"tags": []string{"docker"}},
	}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestOutcomeEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, "")

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/api/v1/outcome", map[string]any{
		"runner_key":       "gcp-spot",
		"success":          true,
		"duration_seconds": 600,
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Greater(t, resp["reward"].(float64), 0.0)
}

func TestOutcomeEndpointUnknownRunner(t *testing.T) {
	srv, _ := newTestServer(t, "")

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/api/v1/outcome", map[string]any{
		"runner_key": "ghost",
		"success":    true,
	}, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestOutcomeEndpointExplicitCost(t *testing.T) {
	srv, _ := newTestServer(t, "")

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/api/v1/outcome", map[string]any{
		"runner_key":       "gcp-spot",
		"success":          true,
		"duration_seconds": 600,
		"cost_per_minute":  0,
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.InDelta(t, 1.0/10.1, resp["reward"].(float64), 1e-9)

	rec = doJSON(t, srv.Handler(), http.MethodPost, "/api/v1/outcome", map[string]any{
		"runner_key":       "gcp-spot",
		"duration_seconds": 60,
		"cost_per_minute":  -0.5,
	}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestOutcomeEndpointNegativeDuration(t *testing.T) {
	srv, _ := newTestServer(t, "")

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/api/v1/outcome", map[string]any{
		"runner_key":       "gcp-spot",
		"duration_seconds": -1,
	}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStatsAndResetEndpoints(t *testing.T) {
	srv, _ := newTestServer(t, "")

	doJSON(t, srv.Handler(), http.MethodPost, "/api/v1/outcome", map[string]any{
		"runner_key": "gcp-spot", "success": true, "duration_seconds": 60,
	}, nil)

	rec := doJSON(t, srv.Handler(), http.MethodGet, "/api/v1/stats", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "gcp-spot")

	rec = doJSON(t, srv.Handler(), http.MethodPost, "/api/v1/reset", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, srv.Handler(), http.MethodGet, "/api/v1/stats", nil, nil)
	assert.NotContains(t, rec.Body.String(), "gcp-spot")
}

func TestDecisionsEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, "")

	doJSON(t, srv.Handler(), http.MethodPost, "/api/v1/select", map[string]any{
		"job_name":    "build",
		"declaration": map[string]any{"tags": []string{"docker"}},
	}, nil)

	rec := doJSON(t, srv.Handler(), http.MethodGet, "/api/v1/decisions", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "build")
}

func TestLifecycleEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, "")
	rec := doJSON(t, srv.Handler(), http.MethodGet, "/api/v1/lifecycle", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "auto_started")
}

func TestWebhookRejectsBadToken(t *testing.T) {
	srv, _ := newTestServer(t, "hunter2")

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/webhook", map[string]any{
		"object_kind": "build",
	}, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doJSON(t, srv.Handler(), http.MethodPost, "/webhook", map[string]any{
		"object_kind": "build",
	}, map[string]string{"X-Gitlab-Token": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestWebhookJobLifecycle(t *testing.T) {
	srv, lc := newTestServer(t, "hunter2")
	auth := map[string]string{"X-Gitlab-Token": "hunter2"}

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/webhook", map[string]any{
		"object_kind":  "build",
		"build_status": "running",
		"runner":       map[string]any{"id": 42},
	}, auth)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, lc.CurrentStatus().ActiveManagedJobs)

	rec = doJSON(t, srv.Handler(), http.MethodPost, "/webhook", map[string]any{
		"object_kind":    "build",
		"build_status":   "success",
		"build_duration": 300,
		"runner":         map[string]any{"id": 42},
	}, auth)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, lc.CurrentStatus().ActiveManagedJobs)
	assert.Contains(t, rec.Body.String(), "reward")

	// The outcome reached the bandit.
	recStats := doJSON(t, srv.Handler(), http.MethodGet, "/api/v1/stats", nil, nil)
	assert.Contains(t, recStats.Body.String(), "gcp-spot")
}

func TestWebhookIgnoresNonJobEvents(t *testing.T) {
	srv, _ := newTestServer(t, "")

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/webhook", map[string]any{
		"object_kind": "pipeline",
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ignored")
}

func TestWebhookUnknownRunnerIgnored(t *testing.T) {
	srv, _ := newTestServer(t, "")

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/webhook", map[string]any{
		"object_kind":  "build",
		"build_status": "success",
		"runner":       map[string]any{"id": 7, "description": "unregistered"},
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ignored")
}
