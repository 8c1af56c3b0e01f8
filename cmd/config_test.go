package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inference-sim/raylab/sim"
	"github.com/inference-sim/raylab/sim/trace"
)

// newFlagCommand binds the simulation flags to a fresh command, which also
// resets every flag variable to its default, then sets the given flags.
func newFlagCommand(t *testing.T, set map[string]string) *cobra.Command {
	t.Helper()
	c := &cobra.Command{Use: "test"}
	registerSimFlags(c)
	for name, value := range set {
		require.NoError(t, c.Flags().Set(name, value), name)
	}
	return c
}

func writeScenario(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scenario.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestResolveRunConfig_Defaults(t *testing.T) {
	cfg, err := resolveRunConfig(newFlagCommand(t, nil))
	require.NoError(t, err)

	assert.Equal(t, int64(42), cfg.Seed)
	assert.Equal(t, int64(1000), cfg.Ticks)
	assert.Equal(t, sim.DefaultStallTimeoutTicks, cfg.StallTimeoutTicks)
	assert.Equal(t, sim.DefaultControls(), cfg.Controls)
	assert.Equal(t, []sim.NodeGroupSpec{{Count: 10, GPUType: "A100", GPUsPerNode: 2}}, cfg.Specs)
	assert.Equal(t, []string{"tiny-llama"}, cfg.Models)
	assert.Equal(t, trace.TraceLevelNone, cfg.TraceLevel)
	assert.Empty(t, cfg.Events)
}

func TestResolveRunConfig_ScenarioThenFlags(t *testing.T) {
	path := writeScenario(t, `
seed: 7
ticks: 300
stall_timeout_ticks: 40
controls:
  target_users: 12
  balancer: ROUND_ROBIN
  network: ETH_100G
hardware:
  template: hybrid-cluster
models: [gemma-2-27b]
events:
  - tick: 50
    node: server-1
    online: false
`)

	// GIVEN a scenario file and explicit flags for seed and users only
	c := newFlagCommand(t, map[string]string{"scenario": path, "seed": "9", "users": "3"})

	// WHEN the configuration is resolved
	cfg, err := resolveRunConfig(c)
	require.NoError(t, err)

	// THEN explicit flags beat the scenario and the scenario beats defaults
	assert.Equal(t, int64(9), cfg.Seed)
	assert.Equal(t, 3, cfg.Controls.TargetUsers)
	assert.Equal(t, int64(300), cfg.Ticks)
	assert.Equal(t, 40, cfg.StallTimeoutTicks)
	assert.Equal(t, sim.BalanceRoundRobin, cfg.Controls.Balancer)
	assert.Equal(t, sim.NetworkEth100G, cfg.Controls.Network)
	assert.Equal(t, sim.PlacementPack, cfg.Controls.Placement)
	assert.Len(t, cfg.Specs, 2)
	assert.Equal(t, []string{"gemma-2-27b"}, cfg.Models)
	require.Len(t, cfg.Events, 1)
	assert.Equal(t, int64(50), cfg.Events[0].Tick)
}

func TestResolveRunConfig_GroupFlagsOverrideScenarioHardware(t *testing.T) {
	path := writeScenario(t, "hardware:\n  template: dense-l40s\n")
	cfg, err := resolveRunConfig(newFlagCommand(t, map[string]string{"scenario": path, "gpu": "H100"}))
	require.NoError(t, err)
	assert.Equal(t, []sim.NodeGroupSpec{{Count: 10, GPUType: "H100", GPUsPerNode: 2}}, cfg.Specs)
}

func TestResolveRunConfig_Errors(t *testing.T) {
	badScenario := writeScenario(t, "controls:\n  placement: BEST_FIT\n")
	tests := []struct {
		name    string
		set     map[string]string
		wantMsg string
	}{
		{"unknown trace level", map[string]string{"trace": "verbose"}, "trace level"},
		{"negative stall timeout", map[string]string{"stall-timeout": "-1"}, "stall-timeout"},
		{"unknown balancer", map[string]string{"balancer": "WEIGHTED"}, "WEIGHTED"},
		{"unknown network", map[string]string{"network": "ETH_1G"}, "ETH_1G"},
		{"too many users", map[string]string{"users": "5000"}, "target users must be in [0, 200]"},
		{"template with group flags", map[string]string{"template": "standard-a100", "nodes": "4"}, "cannot be combined"},
		{"unknown template", map[string]string{"template": "mystery"}, "mystery"},
		{"unknown model", map[string]string{"models": "tiny-llama,gpt-9"}, "gpt-9"},
		{"missing scenario", map[string]string{"scenario": filepath.Join(t.TempDir(), "none.yaml")}, "reading scenario"},
		{"invalid scenario", map[string]string{"scenario": badScenario}, "BEST_FIT"},
		{"missing catalog", map[string]string{"catalog": filepath.Join(t.TempDir(), "none.yaml")}, "catalog"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := resolveRunConfig(newFlagCommand(t, tt.set))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestResolveRunConfig_TemplateFlag(t *testing.T) {
	cfg, err := resolveRunConfig(newFlagCommand(t, map[string]string{"template": "dense-l40s"}))
	require.NoError(t, err)
	assert.Equal(t, []sim.NodeGroupSpec{{Count: 20, GPUType: "L40S", GPUsPerNode: 8}}, cfg.Specs)
}

func TestRunConfig_NewEngineTracesOnlyWhenEnabled(t *testing.T) {
	cfg, err := resolveRunConfig(newFlagCommand(t, nil))
	require.NoError(t, err)
	_, st := cfg.newEngine()
	assert.Nil(t, st)

	cfg.TraceLevel = trace.TraceLevelDecisions
	_, st = cfg.newEngine()
	assert.NotNil(t, st)
}

func TestDefaultModels_FallsBackToFirstModel(t *testing.T) {
	base := sim.DefaultCatalog()
	cat := &sim.Catalog{
		Models:      []sim.ModelConfig{{ID: "only", TPSize: 1, TokensPerSec: 10}},
		GPUs:        base.GPUs,
		Networks:    base.Networks,
		UserNames:   base.UserNames,
		UserAvatars: base.UserAvatars,
		Prompts:     base.Prompts,
	}
	require.NoError(t, cat.Validate())
	assert.Equal(t, []string{"only"}, defaultModels(cat))
	assert.Equal(t, []string{"tiny-llama"}, defaultModels(base))
}
