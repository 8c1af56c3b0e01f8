package cmd

import (
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/inference-sim/raylab/sim"
	"github.com/inference-sim/raylab/sim/runner"
	"github.com/inference-sim/raylab/sim/trace"
)

var logLevel string // Log verbosity level

// rootCmd is the base command for the CLI
var rootCmd = &cobra.Command{
	Use:   "raylab",
	Short: "Tick-driven simulator of a GPU cluster serving LLM inference",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level, err := logrus.ParseLevel(logLevel)
		if err != nil {
			logrus.Fatalf("Invalid log level: %s", logLevel)
		}
		logrus.SetLevel(level)
	},
}

// runCmd executes a headless simulation for a fixed number of ticks
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the simulation headless and print summary metrics",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := resolveRunConfig(cmd)
		if err != nil {
			logrus.Fatalf("%v", err)
		}
		if cfg.Ticks <= 0 {
			logrus.Fatalf("--ticks must be positive, got %d", cfg.Ticks)
		}

		snap, st, err := runHeadless(cfg)
		if err != nil {
			logrus.Fatalf("simulation failed: %v", err)
		}
		sim.Summarize(snap.State).Print()
		if st != nil {
			printTraceSummary(cmd.OutOrStdout(), trace.Summarize(st))
		}
	},
}

// runHeadless steps a fresh simulation cfg.Ticks times, applying scenario
// events just before their tick. The returned snapshot carries the controls
// in force at the end of the run.
func runHeadless(cfg runConfig) (runner.Snapshot, *trace.SimulationTrace, error) {
	engine, st := cfg.newEngine()
	initial, err := engine.InitialState(cfg.Specs, cfg.Models)
	if err != nil {
		return runner.Snapshot{}, nil, err
	}
	r := runner.New(engine, initial, cfg.Controls)

	logrus.Infof("starting run: %d ticks, seed %d, %d workers, models %v",
		cfg.Ticks, cfg.Seed, len(initial.Nodes)-1, cfg.Models)
	events := cfg.Events
	for tick := int64(1); tick <= cfg.Ticks; tick++ {
		for len(events) > 0 && events[0].Tick == tick {
			for _, c := range runner.EventCommands(events[0]) {
				if err := r.Apply(c); err != nil {
					return runner.Snapshot{}, nil, fmt.Errorf("event at tick %d: %w", tick, err)
				}
			}
			events = events[1:]
		}
		r.Step(1)
	}
	if len(events) > 0 {
		logrus.Warnf("%d scenario events scheduled after tick %d were not applied", len(events), cfg.Ticks)
	}

	final := r.Snapshot()
	logrus.Infof("run finished at tick %d: %d completed, %d failed",
		final.State.Tick, final.State.Stats.Completed, final.State.Stats.Failed)
	return final, st, nil
}

func printTraceSummary(w io.Writer, s *trace.TraceSummary) {
	fmt.Fprintln(w, "=== Decision Trace ===")
	fmt.Fprintf(w, "Total Decisions      : %d\n", s.TotalDecisions)
	fmt.Fprintf(w, "Placed               : %d\n", s.PlacedCount)
	fmt.Fprintf(w, "Rejected             : %d\n", s.FailedCount)
	fmt.Fprintf(w, "Distributed          : %d\n", s.DistributedCount)
	fmt.Fprintf(w, "Mean Group Size      : %.2f\n", s.MeanGroupSize)
	fmt.Fprintf(w, "Unique Targets       : %d\n", s.UniqueTargets)

	printCounts(w, "Target", s.TargetDistribution)
	printCounts(w, "Fault", s.FaultDistribution)
}

func printCounts(w io.Writer, label string, counts map[string]int) {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(w, "  %s %-14s: %d\n", label, k, counts[k])
	}
}

// Execute runs the CLI root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log", "error", "Log level (trace, debug, info, warn, error, fatal, panic)")

	registerSimFlags(runCmd)

	// Attach subcommands to `root`
	rootCmd.AddCommand(runCmd)
}
