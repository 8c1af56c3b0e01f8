package sim

import (
	"fmt"

	"gonum.org/v1/gonum/stat"
)

// PlacementStrategy selects which racks may host a new single-node request.
type PlacementStrategy string

const (
	PlacementPack       PlacementStrategy = "PACK"        // fill rack-1 first, spill when hot
	PlacementSpread     PlacementStrategy = "SPREAD"      // use every online worker
	PlacementStrictPack PlacementStrategy = "STRICT_PACK" // rack-1 only, fail when hot or absent
)

// ValidPlacementStrategies is the set of recognized placement strategy names.
var ValidPlacementStrategies = map[PlacementStrategy]bool{"": true, PlacementPack: true, PlacementSpread: true, PlacementStrictPack: true}

// Mean GPU utilization above which a rack counts as full.
const (
	PackHighWater       = 85.0
	StrictPackHighWater = 95.0
)

// PlacementPolicy narrows the online workers down to the candidate pool a
// load balancer may choose from. An empty pool rejects the request.
type PlacementPolicy interface {
	CandidatePool(online []ClusterNode) []ClusterNode
}

// Pack prefers rack-1 while its mean GPU utilization is under PackHighWater,
// then rack-2 under the same mark, then the whole online pool.
type Pack struct{}

// CandidatePool implements PlacementPolicy for Pack.
func (Pack) CandidatePool(online []ClusterNode) []ClusterNode {
	rack1, rack2 := splitRacks(online)
	switch {
	case len(rack1) > 0 && meanGPUUtil(rack1) < PackHighWater:
		return rack1
	case len(rack2) > 0 && meanGPUUtil(rack2) < PackHighWater:
		return rack2
	default:
		return online
	}
}

// StrictPack only ever places on rack-1 and only while it is under
// StrictPackHighWater.
type StrictPack struct{}

// CandidatePool implements PlacementPolicy for StrictPack.
func (StrictPack) CandidatePool(online []ClusterNode) []ClusterNode {
	rack1, _ := splitRacks(online)
	if len(rack1) > 0 && meanGPUUtil(rack1) < StrictPackHighWater {
		return rack1
	}
	return nil
}

// Spread always offers the full online pool.
type Spread struct{}

// CandidatePool implements PlacementPolicy for Spread.
func (Spread) CandidatePool(online []ClusterNode) []ClusterNode {
	return online
}

// NewPlacementPolicy creates a placement policy by name.
// Empty string defaults to PACK. Panics on unrecognized names.
func NewPlacementPolicy(strategy PlacementStrategy) PlacementPolicy {
	switch strategy {
	case "", PlacementPack:
		return Pack{}
	case PlacementStrictPack:
		return StrictPack{}
	case PlacementSpread:
		return Spread{}
	default:
		panic(fmt.Sprintf("unknown placement strategy %q", strategy))
	}
}

func splitRacks(nodes []ClusterNode) (rack1, rack2 []ClusterNode) {
	for _, n := range nodes {
		switch n.RackID {
		case Rack1:
			rack1 = append(rack1, n)
		case Rack2:
			rack2 = append(rack2, n)
		}
	}
	return rack1, rack2
}

func meanGPUUtil(nodes []ClusterNode) float64 {
	if len(nodes) == 0 {
		return 0
	}
	utils := make([]float64, len(nodes))
	for i, n := range nodes {
		utils[i] = n.GPUUtil
	}
	return stat.Mean(utils, nil)
}
