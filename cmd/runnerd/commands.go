package main

import (
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/wolfram-laube/backoffice/internal/decision"
	"github.com/wolfram-laube/backoffice/internal/requirements"
)

func newRecommendCommand(configPath *string) *cobra.Command {
	var (
		jobName string
		tags    []string
		image   string
	)

	cmd := &cobra.Command{
		Use:   "recommend [ci-file]",
		Short: "Recommend runners for the jobs in a CI definition file, or for --tags",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 && len(tags) == 0 && image == "" {
				return fmt.Errorf("pass a CI file or at least one of --tags/--image")
			}
			a, err := buildApp(cmd.Context(), *configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			if len(args) == 0 {
				name := jobName
				if name == "" {
					name = "ad-hoc"
				}
				d := a.Facade.SelectRunner(cmd.Context(), requirements.Declaration{Tags: tags, Image: image}, name)
				printDecision(name, d)
				return nil
			}

			raw, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read CI file: %w", err)
			}
			decls, err := a.Parser.Declarations(raw)
			if err != nil {
				return fmt.Errorf("parse CI file: %w", err)
			}
			if len(decls) == 0 {
				fmt.Println(yellow("no jobs found in " + args[0]))
				return nil
			}

			names := make([]string, 0, len(decls))
			for name := range decls {
				if jobName != "" && name != jobName {
					continue
				}
				names = append(names, name)
			}
			sort.Strings(names)
			if len(names) == 0 {
				return fmt.Errorf("job %q not found in %s", jobName, args[0])
			}

			for _, name := range names {
				d := a.Facade.SelectRunner(cmd.Context(), decls[name], name)
				printDecision(name, d)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&jobName, "job", "", "recommend only for this job")
	cmd.Flags().StringSliceVar(&tags, "tags", nil, "job tags for an ad-hoc recommendation")
	cmd.Flags().StringVar(&image, "image", "", "container image for an ad-hoc recommendation")
	return cmd
}

func printDecision(name string, d decision.Decision) {
	fmt.Println(bold(name))
	if !d.Selected() {
		fmt.Printf("  %s\n", red("infeasible: ")+d.SymbolicReasoning)
		return
	}
	mode := "exploit"
	if d.Exploring {
		mode = "explore"
	}
	fmt.Printf("  %s %s (confidence %.2f, %s)\n", green("->"), bold(d.SelectedRunner), d.Confidence, mode)
	fmt.Printf("  %s %s\n", cyan("feasible:"), fmt.Sprint(d.FeasibleRunners))
	fmt.Printf("  %s %s\n", cyan("why:"), d.StatisticalReasoning)
}

func newStatsCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show learned per-runner statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(cmd.Context(), *configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			stats := a.Facade.Stats(cmd.Context())
			if len(stats) == 0 {
				fmt.Println(yellow("no statistics recorded yet"))
				return nil
			}
			keys := make([]string, 0, len(stats))
			for key := range stats {
				keys = append(keys, key)
			}
			sort.Strings(keys)

			fmt.Printf("%s  %8s  %12s  %12s  %12s\n", bold("runner"), "pulls", "mean reward", "success rate", "avg duration")
			for _, key := range keys {
				arm := stats[key]
				fmt.Printf("%-20s  %8d  %12.4f  %12.2f  %10.1fs\n",
					key, arm.Pulls, arm.MeanReward, arm.SuccessRate, arm.AvgDuration)
			}
			return nil
		},
	}
}

func newResetCommand(configPath *string) *cobra.Command {
	var confirmed bool

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Wipe learned statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !confirmed {
				return fmt.Errorf("refusing to wipe statistics without --yes")
			}
			a, err := buildApp(cmd.Context(), *configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.Facade.Reset(cmd.Context()); err != nil {
				return err
			}
			fmt.Println(green("statistics reset"))
			return nil
		},
	}
	cmd.Flags().BoolVar(&confirmed, "yes", false, "confirm the reset")
	return cmd
}
