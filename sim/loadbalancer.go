package sim

import (
	"fmt"
	"math/rand"
)

// BalancingStrategy selects among equally eligible nodes of a candidate pool.
type BalancingStrategy string

const (
	BalanceRandom           BalancingStrategy = "RANDOM"
	BalanceRoundRobin       BalancingStrategy = "ROUND_ROBIN"
	BalanceLeastConnections BalancingStrategy = "LEAST_CONNECTIONS"
)

// ValidBalancingStrategies is the set of recognized load-balancing strategy names.
var ValidBalancingStrategies = map[BalancingStrategy]bool{"": true, BalanceRandom: true, BalanceRoundRobin: true, BalanceLeastConnections: true}

// BalancerState is the mutable context a balancer reads and advances while
// placing the requests of one tick.
type BalancerState struct {
	// Cursor is the persistent round-robin position, carried across ticks
	// by the orchestrator.
	Cursor int
	// Connections counts live requests per node id, including requests
	// placed earlier in the same tick.
	Connections map[string]int
	Rand        *rand.Rand
}

// LoadBalancingPolicy picks one member of a non-empty candidate pool.
type LoadBalancingPolicy interface {
	// Select returns the index into pool of the chosen node.
	Select(pool []ClusterNode, st *BalancerState) int
}

// RoundRobin advances the shared cursor modulo the pool size before picking.
type RoundRobin struct{}

// Select implements LoadBalancingPolicy for RoundRobin.
func (RoundRobin) Select(pool []ClusterNode, st *BalancerState) int {
	if len(pool) == 0 {
		panic("RoundRobin.Select: empty pool")
	}
	n := len(pool)
	st.Cursor = ((st.Cursor+1)%n + n) % n
	return st.Cursor
}

// LeastConnections picks the node with the fewest live requests.
// Ties are broken by first occurrence in pool order.
type LeastConnections struct{}

// Select implements LoadBalancingPolicy for LeastConnections.
func (LeastConnections) Select(pool []ClusterNode, st *BalancerState) int {
	if len(pool) == 0 {
		panic("LeastConnections.Select: empty pool")
	}
	best := 0
	bestCount := st.Connections[pool[0].ID]
	for i := 1; i < len(pool); i++ {
		if c := st.Connections[pool[i].ID]; c < bestCount {
			best, bestCount = i, c
		}
	}
	return best
}

// NewLoadBalancingPolicy creates a load balancer of the specified type.
// Empty string defaults to RANDOM. Panics on unrecognized names.
func NewLoadBalancingPolicy(strategy BalancingStrategy) LoadBalancingPolicy {
	switch strategy {
	case "", BalanceRandom:
		return RandomBalancer{}
	case BalanceRoundRobin:
		return RoundRobin{}
	case BalanceLeastConnections:
		return LeastConnections{}
	default:
		panic(fmt.Sprintf("unknown load balancing strategy %q", strategy))
	}
}

// countConnections counts live requests per hosting node.
func countConnections(requests []RequestPacket) map[string]int {
	counts := make(map[string]int)
	for _, r := range requests {
		for _, id := range r.NodeIDs() {
			counts[id]++
		}
	}
	return counts
}
