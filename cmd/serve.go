package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/inference-sim/raylab/server"
	"github.com/inference-sim/raylab/sim/runner"
	"github.com/inference-sim/raylab/tutor"
)

var (
	listenAddr string // HTTP listen address
	autostart  bool   // Start ticking without waiting for a start command

	// Tutor backend
	tutorKind  string
	tutorURL   string
	tutorModel string
	tutorKey   string
)

// serveCmd runs the simulation in real time behind the HTTP API
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the simulation in real time and serve state, controls and metrics over HTTP",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := resolveRunConfig(cmd)
		if err != nil {
			logrus.Fatalf("%v", err)
		}
		t, err := newTutor(tutorKind)
		if err != nil {
			logrus.Fatalf("%v", err)
		}

		engine, _ := cfg.newEngine()
		initial, err := engine.InitialState(cfg.Specs, cfg.Models)
		if err != nil {
			logrus.Fatalf("%v", err)
		}
		r := runner.New(engine, initial, cfg.Controls)
		if autostart {
			if err := r.Apply(runner.Command{Type: runner.CmdStart}); err != nil {
				logrus.Fatalf("%v", err)
			}
		}

		srv, err := server.New(r, t)
		if err != nil {
			logrus.Fatalf("%v", err)
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		fmt.Fprintf(cmd.OutOrStdout(), "Serving on http://%s (websocket /ws, metrics /metrics)\n", listenAddr)
		if err := serve(ctx, r, srv, listenAddr); err != nil {
			logrus.Fatalf("server failed: %v", err)
		}
	},
}

// serve runs the runner loop and the HTTP server until ctx is cancelled or
// either of them fails.
func serve(ctx context.Context, r *runner.Runner, srv *server.Server, addr string) error {
	snapshots, unsubscribe := r.Subscribe()
	defer unsubscribe()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return r.Run(ctx) })
	g.Go(func() error { return srv.Run(ctx, addr, snapshots) })
	return g.Wait()
}

func newTutor(kind string) (tutor.Tutor, error) {
	switch kind {
	case "demo":
		return tutor.DemoTutor{}, nil
	case "openai":
		key := tutorKey
		if key == "" {
			key = os.Getenv("OPENAI_API_KEY")
		}
		if key == "" && tutorURL == "" {
			return nil, fmt.Errorf("--tutor openai needs --tutor-key, OPENAI_API_KEY or a --tutor-url")
		}
		return tutor.NewOpenAITutor(tutorURL, key, tutorModel), nil
	default:
		return nil, fmt.Errorf("unknown tutor %q (demo, openai)", kind)
	}
}

func registerTutorFlags(c *cobra.Command) {
	c.Flags().StringVar(&tutorKind, "tutor", "demo", "Tutor backend (demo, openai)")
	c.Flags().StringVar(&tutorURL, "tutor-url", "", "Base URL of an OpenAI-compatible endpoint")
	c.Flags().StringVar(&tutorModel, "tutor-model", tutor.DefaultModel, "Model name sent to the tutor endpoint")
	c.Flags().StringVar(&tutorKey, "tutor-key", "", "API key for the tutor endpoint (default $OPENAI_API_KEY)")
}

func init() {
	registerSimFlags(serveCmd)
	registerTutorFlags(serveCmd)
	serveCmd.Flags().StringVar(&listenAddr, "addr", "localhost:8080", "HTTP listen address")
	serveCmd.Flags().BoolVar(&autostart, "autostart", false, "Start ticking immediately instead of waiting for a start command")

	rootCmd.AddCommand(serveCmd)
}
