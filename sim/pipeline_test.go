package sim

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testEnv(t *testing.T, nodes []ClusterNode, throttle float64) pipelineEnv {
	t.Helper()
	cat := DefaultCatalog()
	fabric, err := cat.Network(NetworkIB400G)
	require.NoError(t, err)
	return pipelineEnv{
		Tick:         10,
		Fabric:       fabric,
		Throttle:     throttle,
		StallTimeout: DefaultStallTimeoutTicks,
		Nodes:        indexNodes(nodes),
		GPUs:         cat.GPUs,
		Model: func(string) ModelConfig {
			return ModelConfig{ID: "m", TPSize: 1, TokensPerSec: 100}
		},
	}
}

func TestTransferSpeed(t *testing.T) {
	assert.InDelta(t, 20.0, transferSpeed(1), 1e-9)
	assert.InDelta(t, 20.0, transferSpeed(2), 1e-9)
	assert.InDelta(t, 10.0, transferSpeed(4), 1e-9)
	assert.Less(t, transferSpeed(50), transferSpeed(10))
}

func TestComputeIncrement(t *testing.T) {
	// 100 tok/s at 12.5 ticks/s processes 8 tokens per tick; 8 of 80 tokens is 10%.
	assert.InDelta(t, 10.0, computeIncrement(100, 1, 1, 1, 80), 1e-9)
	assert.InDelta(t, 5.0, computeIncrement(100, 1, 0.5, 1, 80), 1e-9)
	assert.InDelta(t, 25.0, computeIncrement(100, 1, 1, 2.5, 80), 1e-9)
	assert.InDelta(t, 200.0, computeIncrement(100, PrefillAmplification, 1, 1, 80), 1e-9)
	// zero tokens must not divide by zero
	assert.InDelta(t, 800.0, computeIncrement(100, 1, 1, 1, 0), 1e-9)
}

func TestAdvanceRequests_StagesMoveForwardAndResetProgress(t *testing.T) {
	nodes := []ClusterNode{worker("server-1", Rack1, 80, 0)}
	env := testEnv(t, nodes, 1)

	reqs := []RequestPacket{{ID: "r", ModelID: "m", TargetNodeID: "server-1", PromptTokens: 80, OutputTokens: 80, StartTick: 2}}

	// GIVEN a fresh request in transfer
	// WHEN it is advanced tick by tick
	var stages []RequestStage
	var finished completion
	for tick := int64(3); tick < 100; tick++ {
		env.Tick = tick
		res := advanceRequests(reqs, env)
		if c, ok := res.Finished["r"]; ok {
			finished = c
			assert.Empty(t, res.Requests)
			assert.Len(t, res.Latencies, 1)
			break
		}
		require.Len(t, res.Requests, 1)
		r := res.Requests[0]

		// THEN progress stays in [0, 100) and stages never regress
		assert.GreaterOrEqual(t, r.Progress, 0.0)
		assert.Less(t, r.Progress, 100.0)
		if len(stages) > 0 {
			assert.GreaterOrEqual(t, r.Stage, stages[len(stages)-1])
			if r.Stage != stages[len(stages)-1] {
				assert.Zero(t, r.Progress, "progress resets at stage boundary")
			}
		}
		stages = append(stages, r.Stage)
		reqs = res.Requests
	}

	// AND transfer takes 5 ticks, prefill 1 tick, decode 10 ticks
	require.NotZero(t, finished.LatencyMs)
	assert.Equal(t, StageTransfer, stages[0])
	assert.Contains(t, stages, StageDecode)
	assert.InDelta(t, 6*MsPerTick, finished.Request.TTFTMs, 1e-9)
	assert.InDelta(t, 16*MsPerTick, finished.LatencyMs, 1e-9)
}

func TestAdvanceRequests_ThrottleSlowsDecode(t *testing.T) {
	nodes := []ClusterNode{worker("server-1", Rack1, 80, 0)}
	req := RequestPacket{ID: "r", ModelID: "m", Stage: StageDecode, TargetNodeID: "server-1", OutputTokens: 400}

	full := advanceRequests([]RequestPacket{req}, testEnv(t, nodes, 1.0))
	throttled := advanceRequests([]RequestPacket{req}, testEnv(t, nodes, throttleFactor(80, 50)))

	require.Len(t, full.Requests, 1)
	require.Len(t, throttled.Requests, 1)
	assert.Less(t, throttled.Requests[0].Progress, full.Requests[0].Progress)
	assert.Greater(t, throttled.Requests[0].Progress, 0.0)
}

func TestAdvanceRequests_GroupRunsAtSlowestMember(t *testing.T) {
	fast := worker("server-1", Rack1, 80, 0)
	fast.GPUType = "H100"
	slow := worker("server-2", Rack2, 80, 0)
	slow.GPUType = "L4"
	env := testEnv(t, []ClusterNode{fast, slow}, 1)

	req := RequestPacket{ID: "r", ModelID: "m", Stage: StageDecode, TargetNodeIDs: []string{"server-1", "server-2"}, OutputTokens: 80}
	res := advanceRequests([]RequestPacket{req}, env)

	require.Len(t, res.Requests, 1)
	assert.InDelta(t, computeIncrement(100, 1, 1, 0.4, 80), res.Requests[0].Progress, 1e-9)
}

func TestAdvanceRequests_StallsOnOfflineHost(t *testing.T) {
	// GIVEN a distributed request with one offline member
	a := worker("server-1", Rack1, 80, 0)
	b := worker("server-2", Rack2, 80, 0)
	b.takeOffline()
	env := testEnv(t, []ClusterNode{a, b}, 1)
	env.StallTimeout = 3
	req := RequestPacket{ID: "r", ModelID: "m", Stage: StagePrefill, Progress: 40, TargetNodeIDs: []string{"server-1", "server-2"}, PromptTokens: 50}

	// WHEN it is advanced
	reqs := []RequestPacket{req}
	for i := 1; i < 3; i++ {
		res := advanceRequests(reqs, env)

		// THEN progress is frozen and the stall counter grows
		require.Len(t, res.Requests, 1)
		assert.Equal(t, 40.0, res.Requests[0].Progress)
		assert.Equal(t, StagePrefill, res.Requests[0].Stage)
		assert.Equal(t, i, res.Requests[0].StalledTicks)
		reqs = res.Requests
	}

	// AND it fails once the timeout is reached
	res := advanceRequests(reqs, env)
	assert.Empty(t, res.Requests)
	require.Len(t, res.Failed, 1)
	assert.Equal(t, 3, res.Failed[0].StalledTicks)
}

func TestAdvanceRequests_ZeroTimeoutStallsForever(t *testing.T) {
	n := worker("server-1", Rack1, 80, 0)
	n.takeOffline()
	env := testEnv(t, []ClusterNode{n}, 1)
	env.StallTimeout = 0

	reqs := []RequestPacket{{ID: "r", ModelID: "m", TargetNodeID: "server-1", PromptTokens: 10, OutputTokens: 10}}
	for i := 0; i < 1000; i++ {
		reqs = advanceRequests(reqs, env).Requests
	}
	require.Len(t, reqs, 1)
	assert.Equal(t, 1000, reqs[0].StalledTicks)
}

func TestAdvanceRequests_StallCounterResetsWhenBackOnline(t *testing.T) {
	n := worker("server-1", Rack1, 80, 0)
	env := testEnv(t, []ClusterNode{n}, 1)
	req := RequestPacket{ID: "r", ModelID: "m", TargetNodeID: "server-1", StalledTicks: 7, PromptTokens: 10, OutputTokens: 10}

	res := advanceRequests([]RequestPacket{req}, env)

	require.Len(t, res.Requests, 1)
	assert.Zero(t, res.Requests[0].StalledTicks)
	assert.InDelta(t, 20.0, res.Requests[0].Progress, 1e-9)
}
