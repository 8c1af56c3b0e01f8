package sim

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildCluster_HeadThenWorkers(t *testing.T) {
	cat := DefaultCatalog()

	// GIVEN a heterogeneous two-group layout
	nodes, err := cat.BuildCluster([]NodeGroupSpec{
		{Count: 2, GPUType: "A100", GPUsPerNode: 2},
		{Count: 3, GPUType: "L40S", GPUsPerNode: 4},
	})
	require.NoError(t, err)

	// THEN the head comes first and workers are numbered across groups
	require.Len(t, nodes, 6)
	assert.Equal(t, HeadNodeID, nodes[0].ID)
	assert.False(t, nodes[0].IsWorker())

	wantIDs := []string{"server-1", "server-2", "server-3", "server-4", "server-5"}
	wantRacks := []string{Rack1, Rack2, Rack1, Rack2, Rack1}
	for i, n := range nodes[1:] {
		assert.Equal(t, wantIDs[i], n.ID)
		assert.Equal(t, wantRacks[i], n.RackID)
		assert.True(t, n.IsWorker())
		assert.Equal(t, StatusIdle, n.Status)
	}

	// AND VRAM is per-GPU VRAM times GPUs per node
	assert.InDelta(t, 160.0, nodes[1].TotalVRAMGB, 1e-9)
	assert.InDelta(t, 192.0, nodes[3].TotalVRAMGB, 1e-9)
	assert.Equal(t, GPUType("L40S"), nodes[5].GPUType)
}

func TestBuildCluster_AtLimits(t *testing.T) {
	nodes, err := DefaultCatalog().BuildCluster([]NodeGroupSpec{{Count: MaxWorkers, GPUType: "A100", GPUsPerNode: MaxGPUsPerNode}})
	require.NoError(t, err)
	assert.Len(t, nodes, MaxWorkers+1)
}

func TestBuildCluster_Idempotent(t *testing.T) {
	cat := DefaultCatalog()
	a, err := cat.BuildFromTemplate("hybrid-cluster")
	require.NoError(t, err)
	b, err := cat.BuildFromTemplate("hybrid-cluster")
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Len(t, a, 31)
}

func TestBuildCluster_Rejects(t *testing.T) {
	cat := DefaultCatalog()
	tests := []struct {
		name  string
		specs []NodeGroupSpec
	}{
		{"no groups", nil},
		{"zero count", []NodeGroupSpec{{Count: 0, GPUType: "A100", GPUsPerNode: 1}}},
		{"zero gpus", []NodeGroupSpec{{Count: 1, GPUType: "A100", GPUsPerNode: 0}}},
		{"unknown gpu", []NodeGroupSpec{{Count: 1, GPUType: "TPU", GPUsPerNode: 1}}},
		{"huge group", []NodeGroupSpec{{Count: 1 << 40, GPUType: "A100", GPUsPerNode: 1 << 20}}},
		{"too many gpus", []NodeGroupSpec{{Count: 1, GPUType: "A100", GPUsPerNode: MaxGPUsPerNode + 1}}},
		{"too many workers across groups", []NodeGroupSpec{
			{Count: MaxWorkers, GPUType: "A100", GPUsPerNode: 1},
			{Count: 1, GPUType: "H100", GPUsPerNode: 1},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := cat.BuildCluster(tt.specs)
			assert.Error(t, err)
		})
	}
}

func TestClusterNode_TakeOfflineResetsReadings(t *testing.T) {
	n := worker("server-1", Rack1, 80, 90)
	n.VRAMUtil, n.NetUtil, n.TempC, n.ActiveTokens = 70, 40, 66, 3

	n.takeOffline()

	assert.False(t, n.Online())
	assert.Equal(t, StatusOffline, n.Status)
	assert.Zero(t, n.GPUUtil)
	assert.Zero(t, n.VRAMUtil)
	assert.Zero(t, n.NetUtil)
	assert.Zero(t, n.ActiveTokens)
	assert.Equal(t, AmbientTempC, n.TempC)
}

func TestOnlineWorkers_SkipsHeadAndOffline(t *testing.T) {
	nodes := []ClusterNode{
		{ID: HeadNodeID, Role: RoleHead},
		worker("server-1", Rack1, 80, 0),
		worker("server-2", Rack2, 80, 0),
		worker("server-3", Rack1, 80, 0),
	}
	nodes[2].takeOffline()

	online := onlineWorkers(nodes)
	require.Len(t, online, 2)
	assert.Equal(t, "server-1", online[0].ID)
	assert.Equal(t, "server-3", online[1].ID)
}

func TestEnums_MarshalByName(t *testing.T) {
	for _, tc := range []struct {
		v    interface{ MarshalText() ([]byte, error) }
		want string
	}{
		{RoleHead, "HEAD"},
		{StatusError, "ERROR"},
		{StageDecode, "DECODE"},
		{UserReading, "READING"},
	} {
		got, err := tc.v.MarshalText()
		require.NoError(t, err)
		assert.Equal(t, tc.want, string(got))
	}
}
