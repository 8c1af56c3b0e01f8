// Package tutor answers free-text questions about a running simulation.
// It reads a textual summary of the latest snapshot and never touches
// engine state.
package tutor

import (
	"context"
	"fmt"
	"strings"

	"github.com/inference-sim/raylab/sim"
)

// Tutor answers a question given a cluster context summary.
type Tutor interface {
	Ask(ctx context.Context, question, clusterContext string) (string, error)
}

// Summarize renders the context string a tutor is given: active models,
// controls and the headline numbers of the latest metric point.
func Summarize(state sim.SimulationState, controls sim.Controls) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Active Models: %s.", strings.Join(state.ActiveModelIDs, ", "))
	online, workers := 0, 0
	for _, n := range state.Nodes {
		if !n.IsWorker() {
			continue
		}
		workers++
		if n.Online() {
			online++
		}
	}
	fmt.Fprintf(&b, " Workers: %d/%d online.", online, workers)
	fmt.Fprintf(&b, " Network: %s. Placement: %s. Load balancing: %s.", controls.Network, controls.Placement, controls.Balancer)
	fmt.Fprintf(&b, " Users: %d. Live requests: %d.", len(state.Users), len(state.Requests))

	m := state.LatestMetric()
	if m == nil {
		b.WriteString(" Throughput: 0.")
		return b.String()
	}
	fmt.Fprintf(&b, " Throughput: %.0f.", m.TotalThroughput)
	fmt.Fprintf(&b, " Avg latency: %.0fms. Avg TTFT: %.0fms.", m.AvgLatencyMs, m.AvgTTFTMs)
	fmt.Fprintf(&b, " GPU util: %.1f%%. Bandwidth: %.1f/%.1f GB/s. Throttle: %.2f.", m.ClusterUtilization, m.TotalBandwidth, m.NetworkLimit, m.ThrottleFactor)
	fmt.Fprintf(&b, " Est. cost: $%.2f/h.", m.EstimatedCostPerHour)
	return b.String()
}

func prompt(question, clusterContext string) string {
	return fmt.Sprintf(`Current Simulation Context:
%s

User Question: %q

Provide a concise, technical, but easy-to-understand answer (max 3 sentences).
Explain how it relates to the current simulation of nodes and tokens.`, clusterContext, question)
}

const systemPrompt = "You are an expert AI Infrastructure Engineer teaching a student about GPU Clusters, Ray, and vLLM."
