package sim

import (
	"errors"
	"fmt"
	"maps"
	"slices"
)

// SimulationState is one complete snapshot. The engine never mutates a
// snapshot it was given; Tick works on a Clone.
type SimulationState struct {
	Tick           int64           `json:"systemTime"`
	Nodes          []ClusterNode   `json:"nodes"`
	Requests       []RequestPacket `json:"requests"`
	History        []MetricPoint   `json:"metricsHistory"`
	ActiveModelIDs []string        `json:"activeModelIds"`
	Users          []VirtualUser   `json:"virtualUsers"`
	Log            []LogEntry      `json:"activityLog"`
	Stats          RunStats        `json:"stats"`
}

// Clone returns a deep copy. Metric points are shared since they are never
// modified after being appended.
func (s SimulationState) Clone() SimulationState {
	out := s
	out.Nodes = slices.Clone(s.Nodes)
	out.Requests = slices.Clone(s.Requests)
	for i := range out.Requests {
		out.Requests[i].TargetNodeIDs = slices.Clone(out.Requests[i].TargetNodeIDs)
	}
	out.History = slices.Clone(s.History)
	out.ActiveModelIDs = slices.Clone(s.ActiveModelIDs)
	out.Users = slices.Clone(s.Users)
	out.Log = slices.Clone(s.Log)
	return out
}

// LatestMetric returns the newest metric point, or nil before the first tick.
func (s SimulationState) LatestMetric() *MetricPoint {
	if len(s.History) == 0 {
		return nil
	}
	return &s.History[len(s.History)-1]
}

// Node returns the node with the given id.
func (s SimulationState) Node(id string) (ClusterNode, bool) {
	i := slices.IndexFunc(s.Nodes, func(n ClusterNode) bool { return n.ID == id })
	if i < 0 {
		return ClusterNode{}, false
	}
	return s.Nodes[i], true
}

// User returns the user with the given id.
func (s SimulationState) User(id string) (VirtualUser, bool) {
	i := slices.IndexFunc(s.Users, func(u VirtualUser) bool { return u.ID == id })
	if i < 0 {
		return VirtualUser{}, false
	}
	return s.Users[i], true
}

// Request returns the live request with the given id.
func (s SimulationState) Request(id string) (RequestPacket, bool) {
	i := slices.IndexFunc(s.Requests, func(r RequestPacket) bool { return r.ID == id })
	if i < 0 {
		return RequestPacket{}, false
	}
	return s.Requests[i], true
}

// Controls are the operator-facing knobs read by every tick.
type Controls struct {
	TargetUsers int               `json:"targetUsers" yaml:"target_users"`
	Balancer    BalancingStrategy `json:"balancer" yaml:"balancer"`
	Network     NetworkSpeed      `json:"network" yaml:"network"`
	Placement   PlacementStrategy `json:"placement" yaml:"placement"`
	// Cursor is the persistent round-robin position.
	Cursor int `json:"cursor" yaml:"-"`
}

// DefaultControls mirror the initial settings of an interactive session.
func DefaultControls() Controls {
	return Controls{
		TargetUsers: 5,
		Balancer:    BalanceRandom,
		Network:     NetworkIB400G,
		Placement:   PlacementPack,
	}
}

// Validate checks that every strategy name is recognized and the network
// resolves in cat.
func (c Controls) Validate(cat *Catalog) error {
	var errs []error
	if c.TargetUsers < 0 || c.TargetUsers > MaxTargetUsers {
		errs = append(errs, fmt.Errorf("target users must be in [0, %d], got %d", MaxTargetUsers, c.TargetUsers))
	}
	if c.Cursor < 0 {
		errs = append(errs, fmt.Errorf("round-robin cursor must be >= 0, got %d", c.Cursor))
	}
	if !ValidBalancingStrategies[c.Balancer] {
		errs = append(errs, fmt.Errorf("unknown load balancing strategy %q; valid: %v", c.Balancer, sortedKeys(ValidBalancingStrategies)))
	}
	if !ValidPlacementStrategies[c.Placement] {
		errs = append(errs, fmt.Errorf("unknown placement strategy %q; valid: %v", c.Placement, sortedKeys(ValidPlacementStrategies)))
	}
	if _, err := cat.Network(c.Network); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func sortedKeys[K ~string](m map[K]bool) []K {
	keys := slices.Collect(maps.Keys(m))
	keys = slices.DeleteFunc(keys, func(k K) bool { return k == "" })
	slices.Sort(keys)
	return keys
}
