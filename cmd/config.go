package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/inference-sim/raylab/sim"
	"github.com/inference-sim/raylab/sim/trace"
)

// defaultModelID is served when neither --models nor the scenario name one.
const defaultModelID = "tiny-llama"

var (
	// Run parameters
	seed         int64  // Seed for every RNG stream of the run
	ticks        int64  // Number of ticks for headless runs
	stallTimeout int    // Ticks a request may wait on an offline node before failing
	catalogPath  string // Catalog YAML replacing the embedded defaults
	scenarioPath string // Scenario YAML
	traceLevel   string // Decision trace verbosity

	// Operator controls
	targetUsers int
	balancer    string
	placement   string
	network     string
	models      []string

	// Hardware
	template    string
	nodeCount   int
	gpusPerNode int
	gpuType     string
)

// registerSimFlags binds the flags shared by every command that builds a
// simulation.
func registerSimFlags(c *cobra.Command) {
	d := sim.DefaultControls()
	f := c.Flags()

	f.Int64Var(&seed, "seed", 42, "Seed for user behavior, placement and telemetry noise")
	f.Int64Var(&ticks, "ticks", 1000, "Number of ticks to simulate (80ms each)")
	f.IntVar(&stallTimeout, "stall-timeout", sim.DefaultStallTimeoutTicks, "Ticks a request may stall on an offline node before failing (0 = never)")
	f.StringVar(&catalogPath, "catalog", "", "Path to a catalog YAML replacing the built-in models, GPUs and templates")
	f.StringVar(&scenarioPath, "scenario", "", "Path to a scenario YAML (flags override its values when set)")
	f.StringVar(&traceLevel, "trace", string(trace.TraceLevelNone), "Decision trace level (none, decisions)")

	f.IntVar(&targetUsers, "users", d.TargetUsers, "Target number of concurrent virtual users")
	f.StringVar(&balancer, "balancer", string(d.Balancer), "Load balancing strategy (RANDOM, ROUND_ROBIN, LEAST_CONNECTIONS)")
	f.StringVar(&placement, "placement", string(d.Placement), "Placement strategy (PACK, STRICT_PACK, SPREAD)")
	f.StringVar(&network, "network", string(d.Network), "Network fabric (ETH_10G, ETH_100G, IB_400G)")
	f.StringSliceVar(&models, "models", []string{defaultModelID}, "Comma-separated active model IDs")

	f.StringVar(&template, "template", "", "Hardware template ID (see `raylab catalog`)")
	f.IntVar(&nodeCount, "nodes", 10, "Number of worker nodes")
	f.IntVar(&gpusPerNode, "gpus-per-node", 2, "GPUs per worker node")
	f.StringVar(&gpuType, "gpu", "A100", "GPU type of every worker node")
}

// runConfig is the resolved input of one simulation.
type runConfig struct {
	Catalog           *sim.Catalog
	Seed              int64
	Ticks             int64
	StallTimeoutTicks int
	Controls          sim.Controls
	Specs             []sim.NodeGroupSpec
	Models            []string
	Events            []sim.ScenarioEvent
	TraceLevel        trace.TraceLevel
}

// resolveRunConfig merges built-in defaults, the scenario file and the
// command line, in that order. A flag only overrides the scenario when the
// user set it explicitly.
func resolveRunConfig(c *cobra.Command) (runConfig, error) {
	changed := c.Flags().Changed

	cat := sim.DefaultCatalog()
	if catalogPath != "" {
		loaded, err := sim.LoadCatalog(catalogPath)
		if err != nil {
			return runConfig{}, err
		}
		cat = loaded
	}

	var sc sim.Scenario
	if scenarioPath != "" {
		loaded, err := sim.LoadScenario(scenarioPath)
		if err != nil {
			return runConfig{}, err
		}
		if err := loaded.Validate(cat); err != nil {
			return runConfig{}, fmt.Errorf("scenario %s: %w", scenarioPath, err)
		}
		sc = *loaded
	}

	if !trace.IsValidTraceLevel(traceLevel) {
		return runConfig{}, fmt.Errorf("unknown trace level %q", traceLevel)
	}
	if stallTimeout < 0 {
		return runConfig{}, fmt.Errorf("--stall-timeout must be >= 0, got %d", stallTimeout)
	}

	cfg := runConfig{
		Catalog:           cat,
		Seed:              seed,
		Ticks:             ticks,
		StallTimeoutTicks: stallTimeout,
		Events:            sc.Events,
		TraceLevel:        trace.TraceLevel(traceLevel),
	}
	if sc.Seed != nil && !changed("seed") {
		cfg.Seed = *sc.Seed
	}
	if sc.Ticks > 0 && !changed("ticks") {
		cfg.Ticks = sc.Ticks
	}
	if sc.StallTimeoutTicks != nil && !changed("stall-timeout") {
		cfg.StallTimeoutTicks = *sc.StallTimeoutTicks
	}

	var fromFlags sim.ScenarioControls
	if changed("users") {
		fromFlags.TargetUsers = &targetUsers
	}
	if changed("balancer") {
		fromFlags.Balancer = sim.BalancingStrategy(balancer)
	}
	if changed("placement") {
		fromFlags.Placement = sim.PlacementStrategy(placement)
	}
	if changed("network") {
		fromFlags.Network = sim.NetworkSpeed(network)
	}
	cfg.Controls = fromFlags.ApplyTo(sc.Controls.ApplyTo(sim.DefaultControls()))
	if err := cfg.Controls.Validate(cat); err != nil {
		return runConfig{}, err
	}

	specs, err := resolveHardware(changed, cat, sc.Hardware)
	if err != nil {
		return runConfig{}, err
	}
	cfg.Specs = specs

	switch {
	case changed("models"):
		cfg.Models = models
	case sc.Models != nil:
		cfg.Models = sc.Models
	default:
		cfg.Models = defaultModels(cat)
	}
	if err := cat.ValidateModelIDs(cfg.Models); err != nil {
		return runConfig{}, err
	}
	return cfg, nil
}

func resolveHardware(changed func(string) bool, cat *sim.Catalog, hw sim.ScenarioHardware) ([]sim.NodeGroupSpec, error) {
	groupFlags := changed("nodes") || changed("gpus-per-node") || changed("gpu")
	switch {
	case template != "" && groupFlags:
		return nil, errors.New("--template cannot be combined with --nodes, --gpus-per-node or --gpu")
	case template != "":
		tpl, err := cat.Template(template)
		if err != nil {
			return nil, err
		}
		return tpl.Specs, nil
	case groupFlags || (hw.Template == "" && len(hw.Groups) == 0):
		return []sim.NodeGroupSpec{{Count: nodeCount, GPUType: sim.GPUType(gpuType), GPUsPerNode: gpusPerNode}}, nil
	default:
		return hw.Specs(cat)
	}
}

// defaultModels falls back to the first catalog model when a custom
// catalog does not carry the default one.
func defaultModels(cat *sim.Catalog) []string {
	if _, ok := cat.Model(defaultModelID); ok {
		return []string{defaultModelID}
	}
	return cat.ModelIDs()[:1]
}

// newEngine builds the engine and, when tracing is on, the trace it fills.
func (cfg runConfig) newEngine() (*sim.Engine, *trace.SimulationTrace) {
	var st *trace.SimulationTrace
	tc := trace.TraceConfig{Level: cfg.TraceLevel}
	if tc.Enabled() {
		st = trace.NewSimulationTrace(tc)
	}
	engine := sim.NewEngine(cfg.Catalog, sim.EngineConfig{
		Seed:              cfg.Seed,
		StallTimeoutTicks: cfg.StallTimeoutTicks,
		Trace:             st,
	})
	return engine, st
}
