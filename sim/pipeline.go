package sim

import (
	"fmt"
	"math"
	"time"
)

// Tick timing. One tick is 80ms of simulated and wall-clock time.
const (
	TicksPerSecond = 12.5
	MsPerTick      = 80.0
	TickInterval   = 80 * time.Millisecond
)

const (
	// PrefillAmplification is how much faster prompt tokens are processed
	// than output tokens are generated.
	PrefillAmplification = 20.0

	// TransferBaseSpeed is the per-tick transfer progress on a fabric with
	// latency factor <= 2.
	TransferBaseSpeed = 20.0

	// DefaultStallTimeoutTicks is how long a request may sit on an offline
	// node before it is failed (20s).
	DefaultStallTimeoutTicks = 250
)

// transferSpeed is the per-tick transfer progress (percent) for a fabric
// with the given latency factor.
func transferSpeed(latency float64) float64 {
	return TransferBaseSpeed / math.Max(1, math.Log2(latency))
}

// computeIncrement is the per-tick progress (percent) of a compute stage that
// must process tokens at tokensPerSec, scaled by throttle and perf.
func computeIncrement(tokensPerSec, amplification, throttle, perf float64, tokens int) float64 {
	processed := tokensPerSec * amplification * throttle * perf / TicksPerSecond
	return processed / float64(max(tokens, 1)) * 100
}

// completion is a request that left the pipeline during this tick.
type completion struct {
	Request   RequestPacket
	LatencyMs float64
}

// pipelineResult is the outcome of advancing every live request once.
type pipelineResult struct {
	Requests  []RequestPacket       // still live, in original order
	Finished  map[string]completion // decode reached 100%
	Failed    []RequestPacket       // stalled past the timeout
	TTFTs     []float64             // prefill completions this tick, ms
	Latencies []float64             // decode completions this tick, ms
}

// pipelineEnv carries the per-tick inputs of advanceRequests.
type pipelineEnv struct {
	Tick         int64
	Fabric       NetworkFabric
	Throttle     float64
	StallTimeout int // 0 disables failure of stalled requests
	Nodes        map[string]*ClusterNode
	GPUs         map[GPUType]GPUSpec
	Model        func(id string) ModelConfig
}

// perfFactor returns the compute multiplier for a request and whether every
// host is online. A tensor-parallel group runs at its slowest member's pace.
func (env pipelineEnv) perfFactor(r RequestPacket) (float64, bool) {
	perf := math.Inf(1)
	for _, id := range r.NodeIDs() {
		n, ok := env.Nodes[id]
		if !ok || !n.Online() {
			return 0, false
		}
		perf = math.Min(perf, env.GPUs[n.GPUType].PerfFactor)
	}
	return perf, true
}

// advanceRequests moves every live request one tick through
// transfer → prefill → decode. Progress resets at each boundary and never
// moves backwards; requests on offline hosts stall instead.
func advanceRequests(requests []RequestPacket, env pipelineEnv) pipelineResult {
	res := pipelineResult{
		Requests: make([]RequestPacket, 0, len(requests)),
		Finished: make(map[string]completion),
	}
	elapsedMs := func(r RequestPacket) float64 {
		return float64(env.Tick-r.StartTick) * MsPerTick
	}

	for _, r := range requests {
		perf, online := env.perfFactor(r)
		if !online {
			r.StalledTicks++
			if env.StallTimeout > 0 && r.StalledTicks >= env.StallTimeout {
				res.Failed = append(res.Failed, r)
				continue
			}
			res.Requests = append(res.Requests, r)
			continue
		}
		r.StalledTicks = 0

		m := env.Model(r.ModelID)
		switch r.Stage {
		case StageTransfer:
			r.Progress += transferSpeed(env.Fabric.Latency)
			if r.Progress >= 100 {
				r.Stage, r.Progress = StagePrefill, 0
			}
		case StagePrefill:
			r.Progress += computeIncrement(m.TokensPerSec, PrefillAmplification, env.Throttle, perf, r.PromptTokens)
			if r.Progress >= 100 {
				r.Stage, r.Progress = StageDecode, 0
				r.TTFTMs = elapsedMs(r)
				res.TTFTs = append(res.TTFTs, r.TTFTMs)
			}
		case StageDecode:
			r.Progress += computeIncrement(m.TokensPerSec, 1, env.Throttle, perf, r.OutputTokens)
			if r.Progress >= 100 {
				latency := elapsedMs(r)
				res.Finished[r.ID] = completion{Request: r, LatencyMs: latency}
				res.Latencies = append(res.Latencies, latency)
				continue
			}
		default:
			panic(fmt.Sprintf("unknown request stage %d", int(r.Stage)))
		}
		res.Requests = append(res.Requests, r)
	}
	return res
}
