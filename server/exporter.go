package server

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/inference-sim/raylab/sim"
)

const namespace = "raylab"

// Exporter mirrors the latest snapshot into Prometheus metrics.
// Observe must be called from a single goroutine.
type Exporter struct {
	registry *prometheus.Registry

	tick        prometheus.Gauge
	throughput  prometheus.Gauge
	latency     prometheus.Gauge
	ttft        prometheus.Gauge
	utilization prometheus.Gauge
	bandwidth   prometheus.Gauge
	nvlink      prometheus.Gauge
	netLimit    prometheus.Gauge
	queueDepth  prometheus.Gauge
	users       prometheus.Gauge
	costPerHour prometheus.Gauge
	avgTemp     prometheus.Gauge
	throttle    prometheus.Gauge

	nodeGPU    *prometheus.GaugeVec
	nodeVRAM   *prometheus.GaugeVec
	nodeNet    *prometheus.GaugeVec
	nodeTemp   *prometheus.GaugeVec
	nodeActive *prometheus.GaugeVec
	modelVRAM  *prometheus.GaugeVec

	requests *prometheus.CounterVec
	last     sim.RunStats
}

func gauge(name, help string) prometheus.Gauge {
	return prometheus.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: name, Help: help})
}

func gaugeVec(name, help, label string) *prometheus.GaugeVec {
	return prometheus.NewGaugeVec(prometheus.GaugeOpts{Namespace: namespace, Name: name, Help: help}, []string{label})
}

// NewExporter creates an exporter with its own registry.
func NewExporter() (*Exporter, error) {
	e := &Exporter{
		registry:    prometheus.NewRegistry(),
		tick:        gauge("tick", "Current simulation tick"),
		throughput:  gauge("throughput_tokens_per_second", "Decode throughput proxy"),
		latency:     gauge("latency_ms", "Smoothed end-to-end request latency"),
		ttft:        gauge("ttft_ms", "Smoothed time to first token"),
		utilization: gauge("cluster_gpu_utilization_percent", "Mean GPU utilization across all nodes"),
		bandwidth:   gauge("network_bandwidth_gbps", "Aggregate inter-node bandwidth in GB/s"),
		nvlink:      gauge("nvlink_bandwidth_gbps", "Aggregate intra-node NVLink bandwidth in GB/s"),
		netLimit:    gauge("network_limit_gbps", "Cluster network bandwidth ceiling in GB/s"),
		queueDepth:  gauge("queue_depth", "Requests still in network transfer"),
		users:       gauge("active_users", "Synthetic user population"),
		costPerHour: gauge("estimated_cost_per_hour_dollars", "Projected hourly cost of live requests"),
		avgTemp:     gauge("gpu_temperature_celsius", "Mean GPU temperature across all nodes"),
		throttle:    gauge("throttle_factor", "Network contention slowdown applied this tick (1 = none)"),
		nodeGPU:     gaugeVec("node_gpu_utilization_percent", "GPU utilization per node", "node"),
		nodeVRAM:    gaugeVec("node_vram_utilization_percent", "VRAM utilization per node", "node"),
		nodeNet:     gaugeVec("node_network_utilization_percent", "NIC utilization per node", "node"),
		nodeTemp:    gaugeVec("node_temperature_celsius", "Temperature per node", "node"),
		nodeActive:  gaugeVec("node_active_requests", "Requests in prefill or decode per node", "node"),
		modelVRAM:   gaugeVec("model_vram_gb", "VRAM footprint per active model across the cluster", "model"),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Requests by outcome",
		}, []string{"outcome"}),
	}

	collectors := []prometheus.Collector{
		e.tick, e.throughput, e.latency, e.ttft, e.utilization, e.bandwidth, e.nvlink,
		e.netLimit, e.queueDepth, e.users, e.costPerHour, e.avgTemp, e.throttle,
		e.nodeGPU, e.nodeVRAM, e.nodeNet, e.nodeTemp, e.nodeActive, e.modelVRAM,
		e.requests,
	}
	for _, c := range collectors {
		if err := e.registry.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register metric: %w", err)
		}
	}
	return e, nil
}

// Registry returns the exporter's registry.
func (e *Exporter) Registry() *prometheus.Registry {
	return e.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (e *Exporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}

// Observe updates every metric from state. Per-node and per-model series are
// reset first so removed nodes and deactivated models disappear.
func (e *Exporter) Observe(state sim.SimulationState) {
	e.tick.Set(float64(state.Tick))
	e.users.Set(float64(len(state.Users)))

	outcomes := []struct {
		name      string
		cur, prev float64
	}{
		{"completed", float64(state.Stats.Completed), float64(e.last.Completed)},
		{"failed", float64(state.Stats.Failed), float64(e.last.Failed)},
		{"rejected", float64(state.Stats.PlacementFaults), float64(e.last.PlacementFaults)},
	}
	for _, o := range outcomes {
		if d := o.cur - o.prev; d > 0 {
			e.requests.WithLabelValues(o.name).Add(d)
		}
	}
	e.last = state.Stats

	m := state.LatestMetric()
	if m == nil {
		return
	}
	e.throughput.Set(m.TotalThroughput)
	e.latency.Set(m.AvgLatencyMs)
	e.ttft.Set(m.AvgTTFTMs)
	e.utilization.Set(m.ClusterUtilization)
	e.bandwidth.Set(m.TotalBandwidth)
	e.nvlink.Set(m.TotalNVLinkBandwidth)
	e.netLimit.Set(m.NetworkLimit)
	e.queueDepth.Set(float64(m.QueueDepth))
	e.costPerHour.Set(m.EstimatedCostPerHour)
	e.avgTemp.Set(m.AvgGPUTemp)
	e.throttle.Set(m.ThrottleFactor)

	for _, vec := range []*prometheus.GaugeVec{e.nodeGPU, e.nodeVRAM, e.nodeNet, e.nodeTemp, e.nodeActive, e.modelVRAM} {
		vec.Reset()
	}
	for _, n := range state.Nodes {
		e.nodeGPU.WithLabelValues(n.ID).Set(n.GPUUtil)
		e.nodeVRAM.WithLabelValues(n.ID).Set(n.VRAMUtil)
		e.nodeNet.WithLabelValues(n.ID).Set(n.NetUtil)
		e.nodeTemp.WithLabelValues(n.ID).Set(n.TempC)
		e.nodeActive.WithLabelValues(n.ID).Set(float64(n.ActiveTokens))
	}
	for model, gb := range m.ModelVRAMUsage {
		e.modelVRAM.WithLabelValues(model).Set(gb)
	}
}
