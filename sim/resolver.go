package sim

import (
	"fmt"
)

// FaultKind classifies why a request could not be placed.
type FaultKind int

const (
	FaultNoOnlineNodes     FaultKind = iota // every worker is offline
	FaultInsufficientNodes                  // fewer online workers than the model's TP size
	FaultPolicyRejected                     // placement strategy produced an empty pool
	FaultVRAMCapacity                       // no online node has room for the model weights
)

func (k FaultKind) String() string {
	switch k {
	case FaultNoOnlineNodes:
		return "no-online-nodes"
	case FaultInsufficientNodes:
		return "insufficient-nodes"
	case FaultPolicyRejected:
		return "policy-rejected"
	case FaultVRAMCapacity:
		return "vram-capacity"
	default:
		panic(fmt.Sprintf("unknown fault kind %d", int(k)))
	}
}

// PlacementError reports a placement fault. The tick turns it into an
// activity log entry; it never aborts the simulation.
type PlacementError struct {
	Kind     FaultKind
	ModelID  string
	TPSize   int
	Strategy PlacementStrategy
	Online   int
}

func (e *PlacementError) Error() string {
	switch e.Kind {
	case FaultNoOnlineNodes:
		return "Request Failed: Cluster Offline."
	case FaultInsufficientNodes:
		return fmt.Sprintf("Placement Failed: Insufficient healthy nodes for TP=%d (%d online)", e.TPSize, e.Online)
	case FaultPolicyRejected:
		return fmt.Sprintf("Placement Failed: Strategy %s rejected request (Rack full/offline).", e.Strategy)
	case FaultVRAMCapacity:
		return fmt.Sprintf("Placement Failed: No node has enough VRAM for %s", e.ModelID)
	default:
		return fmt.Sprintf("Placement Failed: %s", e.Kind)
	}
}

// Placement is the outcome of a successful resolution. Exactly one of
// NodeID and NodeIDs is set, mirroring RequestPacket.
type Placement struct {
	NodeID  string
	NodeIDs []string
	Reason  string
}

// Targets returns every chosen node id.
func (p Placement) Targets() []string {
	if len(p.NodeIDs) > 0 {
		return p.NodeIDs
	}
	return []string{p.NodeID}
}

// Resolver composes a placement policy with a load-balancing policy.
type Resolver struct {
	Strategy  PlacementStrategy
	Balancing BalancingStrategy
	placement PlacementPolicy
	balancer  LoadBalancingPolicy
}

// NewResolver builds a resolver from strategy names.
// Panics on unrecognized names.
func NewResolver(placement PlacementStrategy, balancing BalancingStrategy) *Resolver {
	return &Resolver{
		Strategy:  placement,
		Balancing: balancing,
		placement: NewPlacementPolicy(placement),
		balancer:  NewLoadBalancingPolicy(balancing),
	}
}

// Resolve selects the node(s) that will serve a new request for model.
// online must hold the online workers in index order.
func (r *Resolver) Resolve(model ModelConfig, online []ClusterNode, st *BalancerState) (Placement, error) {
	fault := func(kind FaultKind) error {
		return &PlacementError{Kind: kind, ModelID: model.ID, TPSize: model.TPSize, Strategy: r.Strategy, Online: len(online)}
	}
	if len(online) == 0 {
		return Placement{}, fault(FaultNoOnlineNodes)
	}
	if model.Sharded() {
		return r.resolveGroup(model, online, fault)
	}

	capable := nodesWithCapacity(online, model.WeightsPerNodeGB())
	if len(capable) == 0 {
		return Placement{}, fault(FaultVRAMCapacity)
	}
	pool := r.placement.CandidatePool(capable)
	if len(pool) == 0 {
		return Placement{}, fault(FaultPolicyRejected)
	}
	target := pool[r.balancer.Select(pool, st)]
	return Placement{
		NodeID: target.ID,
		Reason: fmt.Sprintf("%s/%s pool=%d", r.strategyName(), r.balancingName(), len(pool)),
	}, nil
}

// resolveGroup places a tensor-parallel model: rack-1 alone if it has enough
// workers, else rack-2 alone, else the first TPSize workers in index order.
// Only count sufficiency matters; there is no ring topology.
func (r *Resolver) resolveGroup(model ModelConfig, online []ClusterNode, fault func(FaultKind) error) (Placement, error) {
	if len(online) < model.TPSize {
		return Placement{}, fault(FaultInsufficientNodes)
	}
	capable := nodesWithCapacity(online, model.WeightsPerNodeGB())
	if len(capable) < model.TPSize {
		return Placement{}, fault(FaultVRAMCapacity)
	}

	rack1, rack2 := splitRacks(capable)
	group, reason := capable, "span-racks"
	switch {
	case len(rack1) >= model.TPSize:
		group, reason = rack1, Rack1
	case len(rack2) >= model.TPSize:
		group, reason = rack2, Rack2
	}
	ids := make([]string, model.TPSize)
	for i := range ids {
		ids[i] = group[i].ID
	}
	return Placement{NodeIDs: ids, Reason: fmt.Sprintf("tp=%d %s", model.TPSize, reason)}, nil
}

func (r *Resolver) strategyName() PlacementStrategy {
	if r.Strategy == "" {
		return PlacementPack
	}
	return r.Strategy
}

func (r *Resolver) balancingName() BalancingStrategy {
	if r.Balancing == "" {
		return BalanceRandom
	}
	return r.Balancing
}

func nodesWithCapacity(nodes []ClusterNode, needGB float64) []ClusterNode {
	out := make([]ClusterNode, 0, len(nodes))
	for _, n := range nodes {
		if n.TotalVRAMGB >= needGB {
			out = append(out, n)
		}
	}
	return out
}
