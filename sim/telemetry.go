package sim

import (
	"math/rand"

	"gonum.org/v1/gonum/stat"
)

// Per-request bandwidth demand in GB/s. Sharded models pay for AllReduce
// traffic on both the inter-node fabric and NVLink.
const (
	ShardedNetDemandGBs    = 5.0
	ShardedNVLinkDemandGBs = 150.0
	SingleNetDemandGBs     = 0.1
	SingleNVLinkDemandGBs  = 5.0
)

const (
	// KVCachePerRequestGB is the VRAM a computing request adds on each host.
	KVCachePerRequestGB = 0.4

	prefillLoad = 20.0 // GPU util points per prefilling request
	decodeLoad  = 5.0  // GPU util points per decoding request

	headLoadPerTransfer = 5.0
	headLoadCeiling     = 80.0

	gpuAlpha  = 0.2
	vramAlpha = 0.1
	netAlpha  = 0.2

	baseTempC     = 30.0
	tempPerUtil   = 0.4
	computingUtil = 2.0 // GPU util above which a worker reports COMPUTING

	// ThroughputPerDecode is the tokens/s credited to each decoding request.
	ThroughputPerDecode = 10.0

	latencyKeep = 0.8
	ttftKeep    = 0.7
	idleDecay   = 0.95

	// NetworkLimitScale converts the fabric's per-node capacity into the
	// cluster ceiling shown next to total bandwidth.
	NetworkLimitScale = 10.0
)

// bandwidthDemand is the per-node demand of one tick.
type bandwidthDemand struct {
	Net    map[string]float64
	NVLink map[string]float64
	Max    float64 // largest per-node network demand
}

// computeDemand sums the bandwidth demand of every request (any stage) on
// each online worker.
func computeDemand(nodes []ClusterNode, requests []RequestPacket) bandwidthDemand {
	d := bandwidthDemand{Net: make(map[string]float64), NVLink: make(map[string]float64)}
	online := make(map[string]bool, len(nodes))
	for _, n := range nodes {
		if n.IsWorker() && n.Online() {
			online[n.ID] = true
		}
	}
	for _, r := range requests {
		net, nvlink := SingleNetDemandGBs, SingleNVLinkDemandGBs
		if r.TPSize > 1 {
			net, nvlink = ShardedNetDemandGBs, ShardedNVLinkDemandGBs
		}
		for _, id := range r.NodeIDs() {
			if !online[id] {
				continue
			}
			d.Net[id] += net
			d.NVLink[id] += nvlink
		}
	}
	for _, v := range d.Net {
		d.Max = max(d.Max, v)
	}
	return d
}

// throttleFactor is the uniform slowdown applied when the busiest node's
// demand exceeds the fabric capacity. Always in (0, 1].
func throttleFactor(maxDemand, capacity float64) float64 {
	if maxDemand > capacity {
		return capacity / maxDemand
	}
	return 1.0
}

// smooth moves cur a fraction alpha of the way toward target.
func smooth(cur, target, alpha float64) float64 {
	return cur + (target-cur)*alpha
}

// nodeUpdate carries the per-tick inputs of updateNodes.
type nodeUpdate struct {
	Requests     []RequestPacket // live after the pipeline advanced
	ActiveModels []ModelConfig
	Demand       bandwidthDemand
	Fabric       NetworkFabric
	Rand         *rand.Rand
}

// updateNodes recomputes every node's readings in place and returns the VRAM
// footprint (GB) of each active model summed over the cluster.
func updateNodes(nodes []ClusterNode, in nodeUpdate) map[string]float64 {
	modelVRAM := make(map[string]float64, len(in.ActiveModels))
	for _, m := range in.ActiveModels {
		modelVRAM[m.ID] = 0
	}

	transferring := 0
	for _, r := range in.Requests {
		if r.Stage == StageTransfer {
			transferring++
		}
	}

	for i := range nodes {
		n := &nodes[i]
		switch {
		case !n.IsWorker():
			n.GPUUtil = smooth(n.GPUUtil, min(headLoadCeiling, headLoadPerTransfer*float64(transferring)), gpuAlpha)
			n.Status = StatusIdle
			if transferring > 0 {
				n.Status = StatusComputing
			}
		case !n.Online():
			n.takeOffline()
		default:
			updateWorker(n, in, modelVRAM)
		}
	}
	return modelVRAM
}

func updateWorker(n *ClusterNode, in nodeUpdate, modelVRAM map[string]float64) {
	var load float64
	hosted := 0
	perModel := make(map[string]int)
	for _, r := range in.Requests {
		if !r.Computing() || !r.Hosts(n.ID) {
			continue
		}
		hosted++
		perModel[r.ModelID]++
		if r.Stage == StagePrefill {
			load += prefillLoad
		} else {
			load += decodeLoad
		}
	}

	var vramGB float64
	for _, m := range in.ActiveModels {
		weights := m.WeightsPerNodeGB()
		if n.TotalVRAMGB < weights {
			continue
		}
		gb := weights + KVCachePerRequestGB*float64(perModel[m.ID])
		vramGB += gb
		// Per-model usage counts sharded models everywhere and single-GPU
		// models only where they are serving.
		if m.TPSize > 1 || perModel[m.ID] > 0 {
			modelVRAM[m.ID] += gb
		}
	}
	vramTarget := vramGB / n.TotalVRAMGB * 100

	n.GPUUtil = smooth(n.GPUUtil, min(100, load), gpuAlpha)
	n.VRAMUtil = smooth(n.VRAMUtil, min(100, vramTarget), vramAlpha)
	n.NetUtil = smooth(n.NetUtil, min(100, in.Demand.Net[n.ID]/in.Fabric.BandwidthGBs*100), netAlpha)
	n.TempC = baseTempC + tempPerUtil*n.GPUUtil + in.Rand.Float64()
	n.ActiveTokens = hosted

	switch {
	case vramTarget > 100:
		n.Status = StatusError
	case n.GPUUtil > computingUtil:
		n.Status = StatusComputing
	default:
		n.Status = StatusIdle
	}
}

// rollUpInput carries everything the cluster metric point is derived from.
type rollUpInput struct {
	Tick        int64
	Nodes       []ClusterNode
	Requests    []RequestPacket
	Pipeline    pipelineResult
	Demand      bandwidthDemand
	Fabric      NetworkFabric
	Throttle    float64
	ActiveUsers int
	ModelVRAM   map[string]float64
	Model       func(id string) ModelConfig
}

// rollUp folds one tick into a MetricPoint. Latency and TTFT are smoothed
// from the previous point and decay toward zero while the cluster is idle.
func rollUp(prev *MetricPoint, in rollUpInput) MetricPoint {
	p := MetricPoint{
		Tick:             in.Tick,
		NetworkLimit:     in.Fabric.BandwidthGBs * NetworkLimitScale,
		ActiveUsers:      in.ActiveUsers,
		ThrottleFactor:   in.Throttle,
		NodeActiveTokens: make(map[string]int, len(in.Nodes)),
		NodeGPUUtil:      make(map[string]float64, len(in.Nodes)),
		NodeVRAMUtil:     make(map[string]float64, len(in.Nodes)),
		NodeNetUtil:      make(map[string]float64, len(in.Nodes)),
		NodeTemp:         make(map[string]float64, len(in.Nodes)),
		ModelVRAMUsage:   in.ModelVRAM,
	}
	if prev != nil {
		p.AvgLatencyMs = prev.AvgLatencyMs
		p.AvgTTFTMs = prev.AvgTTFTMs
	}

	var costPerMinute float64
	for _, r := range in.Requests {
		switch r.Stage {
		case StageTransfer:
			p.QueueDepth++
		case StageDecode:
			p.TotalThroughput += ThroughputPerDecode
		}
		m := in.Model(r.ModelID)
		costPerMinute += m.TokensPerSec / 1000 * m.CostPer1kTokens / 60
	}
	p.EstimatedCostPerHour = costPerMinute * 3600

	if len(in.Pipeline.Latencies) > 0 {
		p.AvgLatencyMs = p.AvgLatencyMs*latencyKeep + stat.Mean(in.Pipeline.Latencies, nil)*(1-latencyKeep)
	}
	if len(in.Pipeline.TTFTs) > 0 {
		p.AvgTTFTMs = p.AvgTTFTMs*ttftKeep + stat.Mean(in.Pipeline.TTFTs, nil)*(1-ttftKeep)
	} else if len(in.Requests) == 0 {
		p.AvgLatencyMs *= idleDecay
		p.AvgTTFTMs *= idleDecay
	}

	utils := make([]float64, len(in.Nodes))
	temps := make([]float64, len(in.Nodes))
	for i, n := range in.Nodes {
		utils[i], temps[i] = n.GPUUtil, n.TempC
		p.NodeActiveTokens[n.ID] = n.ActiveTokens
		p.NodeGPUUtil[n.ID] = n.GPUUtil
		p.NodeVRAMUtil[n.ID] = n.VRAMUtil
		p.NodeNetUtil[n.ID] = n.NetUtil
		p.NodeTemp[n.ID] = n.TempC
		if n.IsWorker() && n.Online() {
			p.TotalBandwidth += min(in.Demand.Net[n.ID], in.Fabric.BandwidthGBs)
			p.TotalNVLinkBandwidth += in.Demand.NVLink[n.ID]
		}
	}
	if len(in.Nodes) > 0 {
		p.ClusterUtilization = stat.Mean(utils, nil)
		p.AvgGPUTemp = stat.Mean(temps, nil)
	}
	return p
}
