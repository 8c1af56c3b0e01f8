package trace

// TraceSummary aggregates statistics from a SimulationTrace.
type TraceSummary struct {
	TotalDecisions     int
	PlacedCount        int
	FailedCount        int
	DistributedCount   int // placements spanning more than one node
	MeanGroupSize      float64
	UniqueTargets      int
	TargetDistribution map[string]int // node ID → count of requests placed on it
	FaultDistribution  map[string]int // failure kind → count
}

// Summarize computes aggregate statistics from a SimulationTrace.
// Safe for nil or empty traces (returns zero-value fields).
func Summarize(st *SimulationTrace) *TraceSummary {
	summary := &TraceSummary{
		TargetDistribution: make(map[string]int),
		FaultDistribution:  make(map[string]int),
	}
	if st == nil {
		return summary
	}

	summary.PlacedCount = len(st.Placements)
	summary.FailedCount = len(st.Failures)
	summary.TotalDecisions = summary.PlacedCount + summary.FailedCount

	if len(st.Placements) > 0 {
		totalTargets := 0
		for _, p := range st.Placements {
			for _, id := range p.Targets {
				summary.TargetDistribution[id]++
			}
			totalTargets += len(p.Targets)
			if len(p.Targets) > 1 {
				summary.DistributedCount++
			}
		}
		summary.MeanGroupSize = float64(totalTargets) / float64(len(st.Placements))
	}
	for _, f := range st.Failures {
		summary.FaultDistribution[f.Kind]++
	}

	summary.UniqueTargets = len(summary.TargetDistribution)

	return summary
}
