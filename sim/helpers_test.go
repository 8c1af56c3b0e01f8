package sim

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// testCatalog returns the default hardware tables with models replaced.
func testCatalog(t *testing.T, models ...ModelConfig) *Catalog {
	t.Helper()
	base := DefaultCatalog()
	cat := &Catalog{
		Models:      models,
		GPUs:        base.GPUs,
		Networks:    base.Networks,
		Templates:   base.Templates,
		UserNames:   base.UserNames,
		UserAvatars: base.UserAvatars,
		Prompts:     base.Prompts,
	}
	require.NoError(t, cat.Validate())
	return cat
}

// worker builds an online rack-assigned worker with the given GPU utilization.
func worker(id, rack string, vramGB, gpuUtil float64) ClusterNode {
	return ClusterNode{
		ID:          id,
		Role:        RoleWorker,
		GPUType:     "A100",
		GPUCount:    1,
		TotalVRAMGB: vramGB,
		RackID:      rack,
		GPUUtil:     gpuUtil,
		Status:      StatusIdle,
	}
}

func newTestState(t *testing.T, e *Engine, specs []NodeGroupSpec, models ...string) SimulationState {
	t.Helper()
	s, err := e.InitialState(specs, models)
	require.NoError(t, err)
	return s
}

// step runs n ticks and returns the final state and cursor.
func step(e *Engine, s SimulationState, c Controls, n int) (SimulationState, Controls) {
	for i := 0; i < n; i++ {
		s, c.Cursor = e.Tick(s, c)
	}
	return s, c
}

func testControls(users int, b BalancingStrategy, n NetworkSpeed, p PlacementStrategy) Controls {
	return Controls{TargetUsers: users, Balancer: b, Network: n, Placement: p}
}
