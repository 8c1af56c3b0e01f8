package trace

import (
	"math"
	"testing"
)

func TestSummarize_NilTrace_ZeroValues(t *testing.T) {
	// GIVEN no trace at all
	// WHEN summarized
	summary := Summarize(nil)

	// THEN maps are usable and counts zero
	if summary.TotalDecisions != 0 || summary.UniqueTargets != 0 {
		t.Errorf("expected zero summary, got %+v", summary)
	}
	if summary.TargetDistribution == nil || summary.FaultDistribution == nil {
		t.Error("expected non-nil distributions")
	}
}

func TestSummarize_EmptyTrace_ZeroValues(t *testing.T) {
	// GIVEN an empty trace
	st := NewSimulationTrace(TraceConfig{Level: TraceLevelDecisions})

	// WHEN summarized
	summary := Summarize(st)

	// THEN all counts are zero
	if summary.TotalDecisions != 0 {
		t.Errorf("expected 0 total decisions, got %d", summary.TotalDecisions)
	}
	if summary.PlacedCount != 0 || summary.FailedCount != 0 {
		t.Error("expected 0 placed and failed")
	}
	if summary.MeanGroupSize != 0 {
		t.Errorf("expected 0 mean group size, got %f", summary.MeanGroupSize)
	}
	if len(summary.TargetDistribution) != 0 {
		t.Error("expected empty target distribution")
	}
}

func TestSummarize_PopulatedTrace_CorrectCounts(t *testing.T) {
	// GIVEN a trace with single-node and tensor-parallel placements plus failures
	st := NewSimulationTrace(TraceConfig{Level: TraceLevelDecisions})
	st.RecordPlacement(PlacementRecord{RequestID: "r1", Targets: []string{"server-1"}})
	st.RecordPlacement(PlacementRecord{RequestID: "r2", Targets: []string{"server-1"}})
	st.RecordPlacement(PlacementRecord{RequestID: "r3", Targets: []string{"server-1", "server-3", "server-5", "server-7"}})
	st.RecordFailure(FailureRecord{UserID: "u1", Kind: "policy-rejected"})
	st.RecordFailure(FailureRecord{UserID: "u2", Kind: "policy-rejected"})
	st.RecordFailure(FailureRecord{RequestID: "r2", Kind: "stall-timeout"})

	// WHEN summarized
	summary := Summarize(st)

	// THEN counts match
	if summary.TotalDecisions != 6 {
		t.Errorf("expected 6 total decisions, got %d", summary.TotalDecisions)
	}
	if summary.PlacedCount != 3 || summary.FailedCount != 3 {
		t.Errorf("expected 3 placed and 3 failed, got %d/%d", summary.PlacedCount, summary.FailedCount)
	}
	if summary.DistributedCount != 1 {
		t.Errorf("expected 1 distributed placement, got %d", summary.DistributedCount)
	}
	if summary.UniqueTargets != 4 {
		t.Errorf("expected 4 unique targets, got %d", summary.UniqueTargets)
	}
	if summary.TargetDistribution["server-1"] != 3 {
		t.Errorf("expected server-1 to host 3 requests, got %d", summary.TargetDistribution["server-1"])
	}
	if summary.FaultDistribution["policy-rejected"] != 2 || summary.FaultDistribution["stall-timeout"] != 1 {
		t.Errorf("unexpected fault distribution %v", summary.FaultDistribution)
	}
	if math.Abs(summary.MeanGroupSize-2.0) > 1e-9 {
		t.Errorf("expected mean group size 2.0, got %f", summary.MeanGroupSize)
	}
}
