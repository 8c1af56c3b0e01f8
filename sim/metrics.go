// Tracks cluster-wide metric points and end-of-run statistics.

package sim

import (
	"fmt"

	"gonum.org/v1/gonum/stat"
)

// HistoryLimit is the number of metric points kept in the rolling history.
const HistoryLimit = 300

// MetricPoint is one immutable per-tick snapshot of cluster metrics.
type MetricPoint struct {
	Tick                 int64   `json:"timestamp"`
	TotalThroughput      float64 `json:"totalThroughput"` // tokens/s proxy
	AvgLatencyMs         float64 `json:"avgLatency"`      // smoothed end-to-end latency
	AvgTTFTMs            float64 `json:"avgTtft"`         // smoothed time to first token
	ClusterUtilization   float64 `json:"clusterUtilization"`
	TotalBandwidth       float64 `json:"totalBandwidth"`       // inter-node GB/s
	TotalNVLinkBandwidth float64 `json:"totalNvLinkBandwidth"` // intra-node GB/s
	NetworkLimit         float64 `json:"networkLimit"`
	QueueDepth           int     `json:"queueDepth"` // requests still transferring
	ActiveUsers          int     `json:"activeUsers"`
	EstimatedCostPerHour float64 `json:"estimatedCostPerHour"`
	AvgGPUTemp           float64 `json:"avgGpuTemp"`
	ThrottleFactor       float64 `json:"throttleFactor"`

	NodeActiveTokens map[string]int     `json:"nodeActiveTokens"`
	NodeGPUUtil      map[string]float64 `json:"nodeGpuUtil"`
	NodeVRAMUtil     map[string]float64 `json:"nodeVramUtil"`
	NodeNetUtil      map[string]float64 `json:"nodeNetUtil"`
	NodeTemp         map[string]float64 `json:"nodeTemp"`
	ModelVRAMUsage   map[string]float64 `json:"modelVramUsage"` // GB across the cluster
}

// appendHistory appends p and evicts the oldest points beyond HistoryLimit.
func appendHistory(history []MetricPoint, p MetricPoint) []MetricPoint {
	history = append(history, p)
	if over := len(history) - HistoryLimit; over > 0 {
		history = append([]MetricPoint(nil), history[over:]...)
	}
	return history
}

// RunStats are cumulative counters carried in the snapshot. They survive
// history eviction and reconfiguration.
type RunStats struct {
	Completed       int     `json:"completed"`
	Failed          int     `json:"failed"`          // stalled past the timeout
	PlacementFaults int     `json:"placementFaults"` // requests never created
	TokensServed    int     `json:"tokensServed"`
	Revenue         float64 `json:"revenue"`
}

// RunSummary aggregates a snapshot for final reporting.
type RunSummary struct {
	Ticks           int64
	Stats           RunStats
	LiveRequests    int
	Users           int
	FinalLatencyMs  float64
	FinalTTFTMs     float64
	PeakLatencyMs   float64
	MeanUtilization float64 // over the retained history
	MeanThroughput  float64
}

// Summarize computes a RunSummary from a snapshot.
func Summarize(state SimulationState) RunSummary {
	s := RunSummary{
		Ticks:        state.Tick,
		Stats:        state.Stats,
		LiveRequests: len(state.Requests),
		Users:        len(state.Users),
	}
	if last := state.LatestMetric(); last != nil {
		s.FinalLatencyMs = last.AvgLatencyMs
		s.FinalTTFTMs = last.AvgTTFTMs
	}
	if len(state.History) == 0 {
		return s
	}
	utils := make([]float64, len(state.History))
	throughput := make([]float64, len(state.History))
	for i, p := range state.History {
		utils[i] = p.ClusterUtilization
		throughput[i] = p.TotalThroughput
		s.PeakLatencyMs = max(s.PeakLatencyMs, p.AvgLatencyMs)
	}
	s.MeanUtilization = stat.Mean(utils, nil)
	s.MeanThroughput = stat.Mean(throughput, nil)
	return s
}

// Print displays the summary at the end of a run.
func (s RunSummary) Print() {
	fmt.Println("=== Simulation Metrics ===")
	fmt.Printf("Ticks                : %d (%.1fs)\n", s.Ticks, float64(s.Ticks)*MsPerTick/1000)
	fmt.Printf("Users                : %d\n", s.Users)
	fmt.Printf("Completed Requests   : %d\n", s.Stats.Completed)
	fmt.Printf("Failed Requests      : %d\n", s.Stats.Failed)
	fmt.Printf("Placement Faults     : %d\n", s.Stats.PlacementFaults)
	fmt.Printf("Live Requests        : %d\n", s.LiveRequests)
	fmt.Printf("Tokens Served        : %d\n", s.Stats.TokensServed)
	fmt.Printf("Revenue              : $%.4f\n", s.Stats.Revenue)
	if s.Stats.Completed > 0 {
		fmt.Printf("Smoothed Latency     : %.2f ms\n", s.FinalLatencyMs)
		fmt.Printf("Smoothed TTFT        : %.2f ms\n", s.FinalTTFTMs)
		fmt.Printf("Peak Latency         : %.2f ms\n", s.PeakLatencyMs)
	}
	fmt.Printf("Mean GPU Utilization : %.2f %%\n", s.MeanUtilization)
	fmt.Printf("Mean Throughput      : %.2f tok/s\n", s.MeanThroughput)
}
