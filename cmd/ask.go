package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/inference-sim/raylab/tutor"
)

var askTimeout time.Duration // Deadline for the tutor answer

// askCmd runs a short headless simulation and asks the tutor about it
var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Simulate, then ask the tutor a question about the resulting cluster state",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := resolveRunConfig(cmd)
		if err != nil {
			logrus.Fatalf("%v", err)
		}
		t, err := newTutor(tutorKind)
		if err != nil {
			logrus.Fatalf("%v", err)
		}

		clusterContext, err := askContext(cfg)
		if err != nil {
			logrus.Fatalf("simulation failed: %v", err)
		}

		ctx, cancel := context.WithTimeout(context.Background(), askTimeout)
		defer cancel()
		answer, err := t.Ask(ctx, strings.Join(args, " "), clusterContext)
		if err != nil {
			logrus.Fatalf("tutor: %v", err)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Context: %s\n\n%s\n", clusterContext, answer)
	},
}

// askContext runs cfg headless and describes the final state together with
// the controls in force at the end of the run.
func askContext(cfg runConfig) (string, error) {
	snap, _, err := runHeadless(cfg)
	if err != nil {
		return "", err
	}
	return tutor.Summarize(snap.State, snap.Controls), nil
}

func init() {
	registerSimFlags(askCmd)
	registerTutorFlags(askCmd)
	askCmd.Flags().DurationVar(&askTimeout, "timeout", 30*time.Second, "Deadline for the tutor answer")

	rootCmd.AddCommand(askCmd)
}
