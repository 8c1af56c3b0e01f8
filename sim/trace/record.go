// Package trace provides decision-trace recording for placement analysis.
// This package has no dependencies on sim/; it stores pure data types.
package trace

// PlacementRecord captures a single successful placement decision.
type PlacementRecord struct {
	RequestID string
	Tick      int64
	ModelID   string
	Placement string   // placement strategy in effect
	Balancer  string   // load-balancing strategy in effect
	Targets   []string // one node id, or the whole tensor-parallel group
	Reason    string
}

// FailureRecord captures a request that never reached, or never left, the cluster.
type FailureRecord struct {
	RequestID string // empty for placement faults, which never get an id
	UserID    string
	Tick      int64
	ModelID   string
	Kind      string // fault kind, or "stall-timeout"
	Message   string
}
