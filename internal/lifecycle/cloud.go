package lifecycle

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/wolfram-laube/backoffice/internal/logging"
)

// CloudController issues start/stop commands against the control plane that
// owns the on-demand capacity.
type CloudController interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// NoopController logs instead of acting. Default when no control plane is
// configured.
type NoopController struct {
	Logger logging.Logger
}

func (c *NoopController) Start(ctx context.Context) error {
	logging.OrNop(c.Logger).Info("lifecycle: no control plane configured, start is a no-op")
	return nil
}

func (c *NoopController) Stop(ctx context.Context) error {
	logging.OrNop(c.Logger).Info("lifecycle: no control plane configured, stop is a no-op")
	return nil
}

// ExecController shells out to configured commands, e.g.
// ["gcloud", "compute", "instances", "start", "ci-runner", "--zone", "..."].
// Keeping the control plane behind argv avoids binding the engine to one
// cloud SDK.
type ExecController struct {
	StartCommand []string
	StopCommand  []string
	Logger       logging.Logger
}

func (c *ExecController) Start(ctx context.Context) error {
	return c.run(ctx, "start", c.StartCommand)
}

func (c *ExecController) Stop(ctx context.Context) error {
	return c.run(ctx, "stop", c.StopCommand)
}

func (c *ExecController) run(ctx context.Context, action string, argv []string) error {
	if len(argv) == 0 {
		return fmt.Errorf("no %s command configured", action)
	}
	logger := logging.OrNop(c.Logger)
	logger.Info("lifecycle: running %s command: %s", action, strings.Join(argv, " "))
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s command failed: %w (output: %s)", action, err, strings.TrimSpace(string(out)))
	}
	return nil
}
