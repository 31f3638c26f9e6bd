// Package lifecycle powers on-demand capacity up when the fleet is offline
// and back down after an idle period. The controller only ever stops
// capacity it started itself: manually started machines are never touched.
//
// The idle shutdown is a plain deadline checked by a periodic tick, not a
// timer callback. Cancelling is overwriting the deadline, so re-arming never
// stacks pending stops.
package lifecycle

import (
	"context"
	"sync"
	"time"

	"github.com/wolfram-laube/backoffice/internal/logging"
	"github.com/wolfram-laube/backoffice/internal/observability"
)

// DefaultIdleDelay is how long the fleet must stay idle before auto-started
// capacity is stopped again.
const DefaultIdleDelay = 5 * time.Minute

// Status is a read-only snapshot of the controller state.
type Status struct {
	AutoStarted        bool       `json:"auto_started"`
	StartedAt          *time.Time `json:"started_at,omitempty"`
	ShutdownPending    bool       `json:"shutdown_pending"`
	ShutdownDeadline   *time.Time `json:"shutdown_deadline,omitempty"`
	ActiveManagedJobs  int        `json:"active_managed_jobs"`
	IdleDelaySeconds   float64    `json:"idle_delay_seconds"`
	SecondsSinceFinish *float64   `json:"seconds_since_last_job,omitempty"`
}

// Options configures a Controller.
type Options struct {
	Cloud       CloudController
	IdleDelay   time.Duration
	ManagedKeys []string // runners living on the managed capacity
	Logger      logging.Logger
	Metrics     *observability.MetricsCollector
	Clock       func() time.Time // test hook
}

// Controller tracks whether this process started the on-demand capacity and
// drives the idle auto-stop.
type Controller struct {
	mu sync.Mutex

	cloud     CloudController
	idleDelay time.Duration
	managed   map[string]struct{}
	logger    logging.Logger
	metrics   *observability.MetricsCollector
	clock     func() time.Time

	autoStarted     bool
	startedAt       time.Time
	deadline        time.Time // zero = no shutdown armed
	activeJobs      int
	lastJobFinished time.Time
}

// NewController creates a controller in the initial state (nothing started
// by us, nothing armed).
func NewController(opts Options) *Controller {
	cloud := opts.Cloud
	if cloud == nil {
		cloud = &NoopController{Logger: opts.Logger}
	}
	idleDelay := opts.IdleDelay
	if idleDelay <= 0 {
		idleDelay = DefaultIdleDelay
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = &observability.MetricsCollector{}
	}
	managed := make(map[string]struct{}, len(opts.ManagedKeys))
	for _, key := range opts.ManagedKeys {
		managed[key] = struct{}{}
	}
	return &Controller{
		cloud:     cloud,
		idleDelay: idleDelay,
		managed:   managed,
		logger:    logging.OrNop(opts.Logger),
		metrics:   metrics,
		clock:     clock,
	}
}

// EnsureCapacity issues a start command unless capacity is already
// auto-started. Returns whether a start was issued and the command error, if
// any; a failed start leaves the controller in its initial state so a later
// call can retry.
func (c *Controller) EnsureCapacity(ctx context.Context) (bool, error) {
	c.mu.Lock()
	if c.autoStarted {
		c.mu.Unlock()
		return false, nil
	}
	c.mu.Unlock()

	err := c.cloud.Start(ctx)
	c.metrics.RecordCapacityStart(ctx, err == nil)
	if err != nil {
		c.logger.Error("lifecycle: capacity start failed: %v", err)
		return true, err
	}

	c.mu.Lock()
	c.autoStarted = true
	c.startedAt = c.clock()
	c.activeJobs = 0
	c.deadline = time.Time{}
	c.mu.Unlock()
	c.logger.Info("lifecycle: on-demand capacity start issued, idle auto-stop after %s", c.idleDelay)
	return true, nil
}

// ArmIdleShutdown (re)schedules the idle stop for delay from now. A delay of
// zero uses the configured default. Re-arming replaces the deadline, it
// never stacks.
func (c *Controller) ArmIdleShutdown(delay time.Duration) {
	if delay <= 0 {
		delay = c.idleDelay
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deadline = c.clock().Add(delay)
}

// CancelShutdown drops any pending idle stop.
func (c *Controller) CancelShutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.deadline.IsZero() {
		c.logger.Info("lifecycle: pending shutdown cancelled (new activity)")
	}
	c.deadline = time.Time{}
}

// RecordJobStarted notes a job starting on a managed runner; it cancels any
// pending stop.
func (c *Controller) RecordJobStarted(runnerKey string) {
	if !c.isManaged(runnerKey) {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.activeJobs < 0 {
		c.activeJobs = 0
	}
	c.activeJobs++
	c.deadline = time.Time{}
	c.logger.Info("lifecycle: managed job started, ~%d active", c.activeJobs)
}

// RecordJobFinished notes a job finishing on a managed runner. When this was
// the last active job on auto-started capacity the idle stop is armed.
// Returns whether a stop is now pending.
func (c *Controller) RecordJobFinished(runnerKey string) bool {
	if !c.isManaged(runnerKey) {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.activeJobs--
	if c.activeJobs < 0 {
		c.activeJobs = 0
	}
	c.lastJobFinished = c.clock()
	if !c.autoStarted {
		c.logger.Info("lifecycle: capacity was not auto-started, skipping auto-stop")
		return false
	}
	if c.activeJobs > 0 {
		c.logger.Info("lifecycle: managed job finished, ~%d still active", c.activeJobs)
		return false
	}
	c.deadline = c.clock().Add(c.idleDelay)
	c.logger.Info("lifecycle: last managed job finished, stop scheduled in %s", c.idleDelay)
	return true
}

// Tick fires the idle stop when its deadline has passed. The stop command is
// only ever issued for capacity this controller started; otherwise the
// deadline is discarded. A successful stop resets the controller to its
// initial state.
func (c *Controller) Tick(ctx context.Context, now time.Time) {
	c.mu.Lock()
	if c.deadline.IsZero() || now.Before(c.deadline) {
		c.mu.Unlock()
		return
	}
	// Deadline reached; decide under the lock, act outside it.
	c.deadline = time.Time{}
	if !c.autoStarted {
		c.mu.Unlock()
		c.logger.Info("lifecycle: idle deadline reached but capacity was not auto-started, nothing to stop")
		return
	}
	if c.activeJobs > 0 {
		c.mu.Unlock()
		c.logger.Info("lifecycle: idle deadline reached but jobs are active, aborting stop")
		return
	}
	c.mu.Unlock()

	c.logger.Info("lifecycle: idle timeout reached, stopping on-demand capacity")
	err := c.cloud.Stop(ctx)
	c.metrics.RecordCapacityStop(ctx, err == nil)
	if err != nil {
		c.logger.Error("lifecycle: capacity stop failed: %v", err)
		return
	}
	c.mu.Lock()
	c.autoStarted = false
	c.startedAt = time.Time{}
	c.activeJobs = 0
	c.lastJobFinished = time.Time{}
	c.mu.Unlock()
	c.logger.Info("lifecycle: capacity stopped, state reset")
}

// Run drives Tick on a fixed period until ctx is done.
func (c *Controller) Run(ctx context.Context, period time.Duration) error {
	if period <= 0 {
		period = time.Second
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			c.Tick(ctx, now)
		}
	}
}

// CurrentStatus returns a snapshot for diagnostics.
func (c *Controller) CurrentStatus() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	status := Status{
		AutoStarted:       c.autoStarted,
		ShutdownPending:   !c.deadline.IsZero(),
		ActiveManagedJobs: c.activeJobs,
		IdleDelaySeconds:  c.idleDelay.Seconds(),
	}
	if !c.startedAt.IsZero() {
		t := c.startedAt
		status.StartedAt = &t
	}
	if !c.deadline.IsZero() {
		t := c.deadline
		status.ShutdownDeadline = &t
	}
	if !c.lastJobFinished.IsZero() {
		secs := c.clock().Sub(c.lastJobFinished).Seconds()
		status.SecondsSinceFinish = &secs
	}
	return status
}

// AutoStarted reports whether this controller started the capacity.
func (c *Controller) AutoStarted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.autoStarted
}

func (c *Controller) isManaged(runnerKey string) bool {
	if len(c.managed) == 0 {
		return false
	}
	_, ok := c.managed[runnerKey]
	return ok
}
