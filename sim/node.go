package sim

import (
	"fmt"
)

// NodeRole distinguishes the Ray head node from GPU workers.
type NodeRole int

const (
	RoleHead NodeRole = iota
	RoleWorker
)

func (r NodeRole) String() string {
	switch r {
	case RoleHead:
		return "HEAD"
	case RoleWorker:
		return "WORKER"
	default:
		panic(fmt.Sprintf("unknown node role %d", int(r)))
	}
}

// MarshalText renders the role by name in JSON snapshots.
func (r NodeRole) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText parses a role name written by MarshalText.
func (r *NodeRole) UnmarshalText(text []byte) error {
	return parseEnum(text, "node role", r, RoleHead, RoleWorker)
}

// NodeStatus is the operational status of a node.
type NodeStatus int

const (
	StatusIdle NodeStatus = iota
	StatusComputing
	StatusError // VRAM over-committed; still schedulable
	StatusOffline
)

func (s NodeStatus) String() string {
	switch s {
	case StatusIdle:
		return "IDLE"
	case StatusComputing:
		return "COMPUTING"
	case StatusError:
		return "ERROR"
	case StatusOffline:
		return "OFFLINE"
	default:
		panic(fmt.Sprintf("unknown node status %d", int(s)))
	}
}

// MarshalText renders the status by name in JSON snapshots.
func (s NodeStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a status name written by MarshalText.
func (s *NodeStatus) UnmarshalText(text []byte) error {
	return parseEnum(text, "node status", s, StatusIdle, StatusComputing, StatusError, StatusOffline)
}

// parseEnum sets *dst to the member of values whose String matches text.
func parseEnum[T interface {
	~int
	fmt.Stringer
}](text []byte, kind string, dst *T, values ...T) error {
	for _, v := range values {
		if v.String() == string(text) {
			*dst = v
			return nil
		}
	}
	return fmt.Errorf("unknown %s %q", kind, text)
}

const (
	HeadNodeID = "head-1"
	Rack1      = "rack-1"
	Rack2      = "rack-2"

	// AmbientTempC is the temperature an offline node reports.
	AmbientTempC = 20.0

	headNodeVRAMGB   = 32.0
	headNodeVRAMUtil = 5.0
	headNodeTempC    = 45.0
	workerIdleTempC  = 30.0
)

// ClusterNode is one physical server: the head node or a GPU worker.
// Hardware fields are fixed at build time; readings are rewritten every tick.
type ClusterNode struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Role        NodeRole `json:"role"`
	GPUType     GPUType  `json:"gpuType"`
	GPUCount    int      `json:"gpuCount"`
	TotalVRAMGB float64  `json:"totalVramGb"`
	RackID      string   `json:"rackId,omitempty"`

	GPUUtil      float64    `json:"gpuUtil"`  // 0-100
	VRAMUtil     float64    `json:"vramUtil"` // 0-100
	NetUtil      float64    `json:"netUtil"`  // 0-100, NIC usage relative to fabric capacity
	TempC        float64    `json:"temp"`
	Status       NodeStatus `json:"status"`
	ActiveTokens int        `json:"activeTokens"` // requests in prefill or decode on this node
}

// IsWorker reports whether the node hosts model replicas.
func (n ClusterNode) IsWorker() bool {
	return n.Role == RoleWorker
}

// Online reports whether the node can accept and progress work.
func (n ClusterNode) Online() bool {
	return n.Status != StatusOffline
}

// takeOffline snaps readings to baseline. Offline transitions are the one
// place readings change without smoothing.
func (n *ClusterNode) takeOffline() {
	n.Status = StatusOffline
	n.GPUUtil = 0
	n.VRAMUtil = 0
	n.NetUtil = 0
	n.ActiveTokens = 0
	n.TempC = AmbientTempC
}

// BuildCluster returns the head node followed by the workers of every group,
// numbered server-1..N across groups. Odd-numbered workers go to rack-1,
// even-numbered ones to rack-2.
func (c *Catalog) BuildCluster(specs []NodeGroupSpec) ([]ClusterNode, error) {
	if len(specs) == 0 {
		return nil, fmt.Errorf("cluster needs at least one node group")
	}
	if err := c.validateSpecs(specs); err != nil {
		return nil, err
	}

	nodes := []ClusterNode{{
		ID:          HeadNodeID,
		Name:        "Ray Head Node",
		Role:        RoleHead,
		GPUType:     "L4",
		GPUCount:    0,
		TotalVRAMGB: headNodeVRAMGB,
		VRAMUtil:    headNodeVRAMUtil,
		TempC:       headNodeTempC,
		Status:      StatusIdle,
	}}

	index := 1
	for _, spec := range specs {
		gpu := c.GPUs[spec.GPUType]
		for i := 0; i < spec.Count; i++ {
			rack := Rack1
			if index%2 == 0 {
				rack = Rack2
			}
			nodes = append(nodes, ClusterNode{
				ID:          fmt.Sprintf("server-%d", index),
				Name:        fmt.Sprintf("Server %d (%dx %s)", index, spec.GPUsPerNode, spec.GPUType),
				Role:        RoleWorker,
				GPUType:     spec.GPUType,
				GPUCount:    spec.GPUsPerNode,
				TotalVRAMGB: gpu.VRAMGB * float64(spec.GPUsPerNode),
				RackID:      rack,
				TempC:       workerIdleTempC,
				Status:      StatusIdle,
			})
			index++
		}
	}
	return nodes, nil
}

// BuildFromTemplate builds the cluster described by a named template.
func (c *Catalog) BuildFromTemplate(id string) ([]ClusterNode, error) {
	tpl, err := c.Template(id)
	if err != nil {
		return nil, err
	}
	return c.BuildCluster(tpl.Specs)
}

func onlineWorkers(nodes []ClusterNode) []ClusterNode {
	out := make([]ClusterNode, 0, len(nodes))
	for _, n := range nodes {
		if n.IsWorker() && n.Online() {
			out = append(out, n)
		}
	}
	return out
}

func indexNodes(nodes []ClusterNode) map[string]*ClusterNode {
	idx := make(map[string]*ClusterNode, len(nodes))
	for i := range nodes {
		idx[nodes[i].ID] = &nodes[i]
	}
	return idx
}
