package observability

import (
	"context"
	"fmt"
	"net/http"

	promclient "github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// MetricsCollector manages the engine's metrics. A zero-value collector (or
// one created with Enabled=false) is a safe no-op.
type MetricsCollector struct {
	meter metric.Meter

	selections    metric.Int64Counter
	infeasible    metric.Int64Counter
	outcomes      metric.Int64Counter
	rewards       metric.Float64Histogram
	solveDuration metric.Float64Histogram

	capacityStarts metric.Int64Counter
	capacityStops  metric.Int64Counter
	probeFailures  metric.Int64Counter
	stateFailures  metric.Int64Counter
}

// MetricsConfig configures the metrics collector.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// NewMetricsCollector creates a metrics collector backed by an otel meter with
// a Prometheus exporter registered as the global meter provider.
func NewMetricsCollector(config MetricsConfig) (*MetricsCollector, error) {
	if !config.Enabled {
		return &MetricsCollector{}, nil
	}

	exporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(provider)

	meter := provider.Meter("runnerd")
	c := &MetricsCollector{meter: meter}

	if c.selections, err = meter.Int64Counter(
		"runnerd.selections.total",
		metric.WithDescription("Runner selections, by runner and algorithm"),
		metric.WithUnit("{selection}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create selections counter: %w", err)
	}
	if c.infeasible, err = meter.Int64Counter(
		"runnerd.selections.infeasible",
		metric.WithDescription("Selection requests no registered runner could satisfy"),
		metric.WithUnit("{request}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create infeasible counter: %w", err)
	}
	if c.outcomes, err = meter.Int64Counter(
		"runnerd.outcomes.total",
		metric.WithDescription("Observed job outcomes, by runner and result"),
		metric.WithUnit("{outcome}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create outcomes counter: %w", err)
	}
	if c.rewards, err = meter.Float64Histogram(
		"runnerd.reward",
		metric.WithDescription("Reward credited per observation"),
	); err != nil {
		return nil, fmt.Errorf("failed to create reward histogram: %w", err)
	}
	if c.solveDuration, err = meter.Float64Histogram(
		"runnerd.solve.duration",
		metric.WithDescription("End-to-end selection latency"),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, fmt.Errorf("failed to create solve duration histogram: %w", err)
	}
	if c.capacityStarts, err = meter.Int64Counter(
		"runnerd.capacity.starts",
		metric.WithDescription("On-demand capacity start commands issued"),
	); err != nil {
		return nil, fmt.Errorf("failed to create capacity starts counter: %w", err)
	}
	if c.capacityStops, err = meter.Int64Counter(
		"runnerd.capacity.stops",
		metric.WithDescription("On-demand capacity stop commands issued"),
	); err != nil {
		return nil, fmt.Errorf("failed to create capacity stops counter: %w", err)
	}
	if c.probeFailures, err = meter.Int64Counter(
		"runnerd.probe.failures",
		metric.WithDescription("Fleet availability probes that returned unknown"),
	); err != nil {
		return nil, fmt.Errorf("failed to create probe failures counter: %w", err)
	}
	if c.stateFailures, err = meter.Int64Counter(
		"runnerd.state.failures",
		metric.WithDescription("State backend load/save failures absorbed by the engine"),
	); err != nil {
		return nil, fmt.Errorf("failed to create state failures counter: %w", err)
	}

	return c, nil
}

// Handler returns the HTTP handler that serves the Prometheus scrape endpoint.
func (c *MetricsCollector) Handler() http.Handler {
	return promclient.Handler()
}

// RecordSelection records a completed selection decision.
func (c *MetricsCollector) RecordSelection(ctx context.Context, runner, algorithm string) {
	if c.selections == nil {
		return
	}
	c.selections.Add(ctx, 1, metric.WithAttributes(
		attribute.String("runner", runner),
		attribute.String("algorithm", algorithm),
	))
}

// RecordInfeasible records a selection request with an empty feasible set.
func (c *MetricsCollector) RecordInfeasible(ctx context.Context) {
	if c.infeasible == nil {
		return
	}
	c.infeasible.Add(ctx, 1)
}

// RecordOutcome records an observed job outcome and its credited reward.
func (c *MetricsCollector) RecordOutcome(ctx context.Context, runner string, success bool, reward float64) {
	if c.outcomes == nil {
		return
	}
	c.outcomes.Add(ctx, 1, metric.WithAttributes(
		attribute.String("runner", runner),
		attribute.Bool("success", success),
	))
	c.rewards.Record(ctx, reward, metric.WithAttributes(attribute.String("runner", runner)))
}

// RecordSolveDuration records selection latency in milliseconds.
func (c *MetricsCollector) RecordSolveDuration(ctx context.Context, ms float64) {
	if c.solveDuration == nil {
		return
	}
	c.solveDuration.Record(ctx, ms)
}

// RecordCapacityStart counts a capacity start command.
func (c *MetricsCollector) RecordCapacityStart(ctx context.Context, ok bool) {
	if c.capacityStarts == nil {
		return
	}
	c.capacityStarts.Add(ctx, 1, metric.WithAttributes(attribute.Bool("ok", ok)))
}

// RecordCapacityStop counts a capacity stop command.
func (c *MetricsCollector) RecordCapacityStop(ctx context.Context, ok bool) {
	if c.capacityStops == nil {
		return
	}
	c.capacityStops.Add(ctx, 1, metric.WithAttributes(attribute.Bool("ok", ok)))
}

// RecordProbeFailure counts an availability probe that came back unknown.
func (c *MetricsCollector) RecordProbeFailure(ctx context.Context) {
	if c.probeFailures == nil {
		return
	}
	c.probeFailures.Add(ctx, 1)
}

// RecordStateFailure counts a state backend failure, by operation.
func (c *MetricsCollector) RecordStateFailure(ctx context.Context, op string) {
	if c.stateFailures == nil {
		return
	}
	c.stateFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("op", op)))
}
