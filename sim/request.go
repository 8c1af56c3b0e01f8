// Defines the RequestPacket struct that models one simulated inference call.
// Tracks the pipeline stage, per-stage progress, token counts and placement.

package sim

import (
	"fmt"
	"slices"
)

// RequestStage is the pipeline stage of a request. Stages only move forward:
// transfer → prefill → decode → removed.
type RequestStage int

const (
	StageTransfer RequestStage = iota // network hop between head and worker(s)
	StagePrefill                      // prompt processing, ends at first token
	StageDecode                       // output token generation
)

func (s RequestStage) String() string {
	switch s {
	case StageTransfer:
		return "TRANSFER"
	case StagePrefill:
		return "PREFILL"
	case StageDecode:
		return "DECODE"
	default:
		panic(fmt.Sprintf("unknown request stage %d", int(s)))
	}
}

// MarshalText renders the stage by name in JSON snapshots.
func (s RequestStage) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a stage name written by MarshalText.
func (s *RequestStage) UnmarshalText(text []byte) error {
	return parseEnum(text, "request stage", s, StageTransfer, StagePrefill, StageDecode)
}

// RequestPacket is one in-flight inference call.
type RequestPacket struct {
	ID      string       `json:"id"`
	ModelID string       `json:"modelId"`
	UserID  string       `json:"userId"`
	Stage   RequestStage `json:"stage"`

	Progress float64 `json:"progress"` // 0-100 within the current stage, reset at every stage boundary

	PromptTokens int `json:"promptTokens"`
	OutputTokens int `json:"outputTokens"`
	TPSize       int `json:"parallelShards"` // snapshot of the model's TP size at creation

	// Exactly one of TargetNodeID (TP == 1) and TargetNodeIDs (TP > 1) is set.
	TargetNodeID  string   `json:"targetNodeId,omitempty"`
	TargetNodeIDs []string `json:"targetNodeIds,omitempty"`

	Color        string  `json:"color"`
	StartTick    int64   `json:"startTime"`
	TTFTMs       float64 `json:"ttft,omitempty"`
	StalledTicks int     `json:"stalledTicks,omitempty"` // consecutive ticks frozen by an offline host
}

// Distributed reports whether the request spans a tensor-parallel group.
func (r RequestPacket) Distributed() bool {
	return len(r.TargetNodeIDs) > 0
}

// NodeIDs returns every node hosting the request.
func (r RequestPacket) NodeIDs() []string {
	if r.Distributed() {
		return r.TargetNodeIDs
	}
	return []string{r.TargetNodeID}
}

// Hosts reports whether nodeID takes part in serving the request.
func (r RequestPacket) Hosts(nodeID string) bool {
	if r.Distributed() {
		return slices.Contains(r.TargetNodeIDs, nodeID)
	}
	return r.TargetNodeID == nodeID
}

// Computing reports whether the request occupies GPU time (prefill or decode).
func (r RequestPacket) Computing() bool {
	return r.Stage != StageTransfer
}

// TotalTokens is the billable token count.
func (r RequestPacket) TotalTokens() int {
	return r.PromptTokens + r.OutputTokens
}
