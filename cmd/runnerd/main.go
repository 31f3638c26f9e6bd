// runnerd selects CI runners for jobs: a constraint solver narrows the
// fleet to feasible runners, a bandit picks among them from observed
// outcomes, and a lifecycle controller powers on-demand capacity up and
// down.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/wolfram-laube/backoffice/internal/app"
	"github.com/wolfram-laube/backoffice/internal/config"
	"github.com/wolfram-laube/backoffice/internal/observability"
	"github.com/wolfram-laube/backoffice/internal/server"
)

var (
	green  = color.New(color.FgGreen).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	cyan   = color.New(color.FgCyan).SprintFunc()
	bold   = color.New(color.Bold).SprintFunc()
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, red("error: ")+err.Error())
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "runnerd",
		Short: "CI runner selection engine",
		Long: `runnerd picks the best CI runner for each job.

Jobs are parsed into capability requirements, matched against the runner
fleet's capability ontology, filtered by live availability and finally
ranked by a multi-armed bandit that learns from job outcomes.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to runnerd config file (YAML)")

	viper.SetEnvPrefix("RUNNERD")
	viper.AutomaticEnv()

	rootCmd.AddCommand(newServeCommand(&configPath))
	rootCmd.AddCommand(newRecommendCommand(&configPath))
	rootCmd.AddCommand(newStatsCommand(&configPath))
	rootCmd.AddCommand(newResetCommand(&configPath))
	return rootCmd
}

// resolveConfigPath lets RUNNERD_CONFIG stand in when --config is not given.
func resolveConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	return viper.GetString("config")
}

func buildApp(ctx context.Context, configPath string) (*app.App, error) {
	cfg, err := config.Load(resolveConfigPath(configPath))
	if err != nil {
		return nil, err
	}
	return app.New(ctx, cfg)
}

func newServeCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the selection API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := buildApp(ctx, *configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			shutdownTracing, err := observability.InitTracing(ctx, a.Config.Tracing)
			if err != nil {
				return fmt.Errorf("init tracing: %w", err)
			}
			defer shutdownTracing(context.Background()) //nolint:errcheck

			srv := server.New(server.Config{
				Addr:            a.Config.Server.Addr,
				WebhookSecret:   a.Config.Server.WebhookSecret,
				AllowOrigins:    a.Config.Server.AllowOrigins,
				ShutdownTimeout: a.Config.Server.ShutdownTimeout.Std(),
				RunnerKeys:      a.RunnerKeysByID(),
			}, a.Facade, a.Lifecycle, a.Metrics, a.ComponentLogger("server"))

			a.Logger.Info("runnerd starting",
				"addr", a.Config.Server.Addr,
				"algorithm", a.Engine.StrategyName(),
				"runners", len(a.Config.Runners))

			group, ctx := errgroup.WithContext(ctx)
			group.Go(func() error { return srv.Run(ctx) })
			group.Go(func() error {
				err := a.Lifecycle.Run(ctx, a.Config.Lifecycle.TickPeriod.Std())
				if err == context.Canceled {
					return nil
				}
				return err
			})
			if err := group.Wait(); err != nil && err != context.Canceled {
				return err
			}
			return nil
		},
	}
}
