package sim

import (
	"bytes"
	"io"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendHistory_EvictsOldest(t *testing.T) {
	var h []MetricPoint
	for i := 1; i <= HistoryLimit+25; i++ {
		h = appendHistory(h, MetricPoint{Tick: int64(i)})
	}
	require.Len(t, h, HistoryLimit)
	assert.Equal(t, int64(26), h[0].Tick)
	assert.Equal(t, int64(HistoryLimit+25), h[len(h)-1].Tick)
}

func TestSummarize(t *testing.T) {
	state := SimulationState{
		Tick:     30,
		Requests: []RequestPacket{{ID: "r"}},
		Users:    []VirtualUser{{ID: "a"}, {ID: "b"}},
		Stats:    RunStats{Completed: 4, Failed: 1, TokensServed: 900, Revenue: 0.25},
		History: []MetricPoint{
			{ClusterUtilization: 10, TotalThroughput: 20, AvgLatencyMs: 500},
			{ClusterUtilization: 30, TotalThroughput: 40, AvgLatencyMs: 900, AvgTTFTMs: 120},
			{ClusterUtilization: 50, TotalThroughput: 0, AvgLatencyMs: 700, AvgTTFTMs: 100},
		},
	}

	s := Summarize(state)

	assert.Equal(t, int64(30), s.Ticks)
	assert.Equal(t, 1, s.LiveRequests)
	assert.Equal(t, 2, s.Users)
	assert.Equal(t, 4, s.Stats.Completed)
	assert.InDelta(t, 700.0, s.FinalLatencyMs, 1e-9)
	assert.InDelta(t, 100.0, s.FinalTTFTMs, 1e-9)
	assert.InDelta(t, 900.0, s.PeakLatencyMs, 1e-9)
	assert.InDelta(t, 30.0, s.MeanUtilization, 1e-9)
	assert.InDelta(t, 20.0, s.MeanThroughput, 1e-9)
}

func TestSummarize_EmptyState(t *testing.T) {
	s := Summarize(SimulationState{})
	assert.Zero(t, s.MeanUtilization)
	assert.Zero(t, s.PeakLatencyMs)
}

func TestRunSummary_PrintsToStdout(t *testing.T) {
	// Capture stdout
	old := os.Stdout
	r, w, _ := os.Pipe()
	os.Stdout = w

	// WHEN Print is called
	RunSummary{Ticks: 125, Stats: RunStats{Completed: 3}}.Print()

	// Restore stdout and read captured output
	_ = w.Close()
	os.Stdout = old
	var buf bytes.Buffer
	_, _ = io.Copy(&buf, r)
	output := buf.String()

	// THEN the header and counters appear
	assert.Contains(t, output, "=== Simulation Metrics ===")
	assert.Contains(t, output, "(10.0s)")
	assert.Contains(t, output, "Completed Requests   : 3")
	assert.Contains(t, output, "Peak Latency")
}
