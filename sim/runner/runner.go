// Package runner drives a sim.Engine on a fixed timer, applies operator
// commands between ticks and fans snapshots out to subscribers.
package runner

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/inference-sim/raylab/sim"
)

// CommandType names an operator action.
type CommandType string

const (
	CmdStart       CommandType = "start"
	CmdStop        CommandType = "stop"
	CmdControls    CommandType = "controls"
	CmdReconfigure CommandType = "reconfigure"
	CmdToggleNode  CommandType = "toggle-node"
	CmdModels      CommandType = "models"
)

// Command is one operator action. Only the fields relevant to Type are read.
type Command struct {
	Type     CommandType           `json:"type"`
	Controls *sim.ScenarioControls `json:"controls,omitempty"` // CmdControls
	Template string                `json:"template,omitempty"` // CmdReconfigure, alternative to Specs
	Specs    []sim.NodeGroupSpec   `json:"specs,omitempty"`    // CmdReconfigure
	NodeID   string                `json:"nodeId,omitempty"`   // CmdToggleNode
	Online   *bool                 `json:"online,omitempty"`   // CmdToggleNode; nil flips
	Models   []string              `json:"models,omitempty"`   // CmdModels
}

// EventCommands translates a scripted scenario event into commands.
func EventCommands(ev sim.ScenarioEvent) []Command {
	var cmds []Command
	if ev.Node != "" {
		cmds = append(cmds, Command{Type: CmdToggleNode, NodeID: ev.Node, Online: ev.Online})
	}
	if !ev.Controls.IsZero() {
		c := ev.Controls
		cmds = append(cmds, Command{Type: CmdControls, Controls: &c})
	}
	if ev.Models != nil {
		cmds = append(cmds, Command{Type: CmdModels, Models: ev.Models})
	}
	return cmds
}

// Snapshot is the published view of the runner. State is never mutated
// after publication and may be shared between readers.
type Snapshot struct {
	State    sim.SimulationState `json:"state"`
	Controls sim.Controls        `json:"controls"`
	Running  bool                `json:"running"`
}

type request struct {
	cmd   Command
	reply chan error
}

// Runner owns the current snapshot and the round-robin cursor. While Run is
// active only its goroutine touches them; use Submit to change anything.
type Runner struct {
	engine   *sim.Engine
	interval time.Duration
	commands chan request

	state    sim.SimulationState
	controls sim.Controls
	running  bool

	mu          sync.Mutex
	subscribers map[int]chan Snapshot
	nextSub     int
}

// Option configures a Runner.
type Option func(*Runner)

// WithInterval overrides the tick period.
func WithInterval(d time.Duration) Option {
	return func(r *Runner) { r.interval = d }
}

// New creates a stopped runner. Panics if controls are invalid for the
// engine's catalog.
func New(engine *sim.Engine, initial sim.SimulationState, controls sim.Controls, opts ...Option) *Runner {
	if err := controls.Validate(engine.Catalog()); err != nil {
		panic(fmt.Sprintf("runner: invalid controls: %v", err))
	}
	r := &Runner{
		engine:      engine,
		interval:    sim.TickInterval,
		commands:    make(chan request),
		state:       initial,
		controls:    controls,
		subscribers: make(map[int]chan Snapshot),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Snapshot returns the current view. Not safe to call while Run is active;
// subscribe instead.
func (r *Runner) Snapshot() Snapshot {
	return Snapshot{State: r.state, Controls: r.controls, Running: r.running}
}

// Subscribe registers a receiver of published snapshots. Slow receivers only
// ever see the latest snapshot. The returned func unsubscribes.
func (r *Runner) Subscribe() (<-chan Snapshot, func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.nextSub
	r.nextSub++
	ch := make(chan Snapshot, 1)
	r.subscribers[id] = ch
	return ch, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.subscribers, id)
	}
}

func (r *Runner) publish() {
	snap := r.Snapshot()
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ch := range r.subscribers {
		select {
		case ch <- snap:
		default:
			// drop the stale snapshot; this goroutine is the only sender
			select {
			case <-ch:
			default:
			}
			ch <- snap
		}
	}
}

// Apply executes a command immediately. Not safe to call while Run is active.
func (r *Runner) Apply(cmd Command) error {
	switch cmd.Type {
	case CmdStart:
		r.running = true
		logrus.Infof("simulation started at tick %d", r.state.Tick)
	case CmdStop:
		r.running = false
		logrus.Infof("simulation stopped at tick %d", r.state.Tick)
	case CmdControls:
		if cmd.Controls == nil {
			return fmt.Errorf("%s: missing controls", cmd.Type)
		}
		next := cmd.Controls.ApplyTo(r.controls)
		if err := next.Validate(r.engine.Catalog()); err != nil {
			return fmt.Errorf("%s: %w", cmd.Type, err)
		}
		r.controls = next
	case CmdReconfigure:
		var (
			next sim.SimulationState
			err  error
		)
		if cmd.Template != "" {
			next, err = r.engine.ReconfigureTemplate(r.state, cmd.Template)
		} else {
			next, err = r.engine.Reconfigure(r.state, cmd.Specs)
		}
		if err != nil {
			return fmt.Errorf("%s: %w", cmd.Type, err)
		}
		r.state = next
		r.controls.Cursor = 0
	case CmdToggleNode:
		online := true
		if cmd.Online != nil {
			online = *cmd.Online
		} else if n, ok := r.state.Node(cmd.NodeID); ok {
			online = !n.Online()
		}
		next, err := r.engine.SetNodeOnline(r.state, cmd.NodeID, online)
		if err != nil {
			return fmt.Errorf("%s: %w", cmd.Type, err)
		}
		r.state = next
	case CmdModels:
		next, err := r.engine.SetActiveModels(r.state, cmd.Models)
		if err != nil {
			return fmt.Errorf("%s: %w", cmd.Type, err)
		}
		r.state = next
	default:
		return fmt.Errorf("unknown command %q", cmd.Type)
	}
	return nil
}

// Step runs n ticks synchronously regardless of the running flag and
// publishes after each. Not safe to call while Run is active.
func (r *Runner) Step(n int) Snapshot {
	for i := 0; i < n; i++ {
		r.tick()
	}
	return r.Snapshot()
}

func (r *Runner) tick() {
	next, cursor := r.engine.Tick(r.state, r.controls)
	r.state = next
	r.controls.Cursor = cursor
	r.publish()
}

// Submit hands cmd to the Run loop and waits for it to be applied.
func (r *Runner) Submit(ctx context.Context, cmd Command) error {
	req := request{cmd: cmd, reply: make(chan error, 1)}
	select {
	case r.commands <- req:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-req.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run ticks every interval while the running flag is set and applies
// submitted commands between ticks. The timer is stopped while a command is
// applied so no tick observes a half-applied change. Returns nil when ctx is
// cancelled.
func (r *Runner) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	r.publish()

	for {
		select {
		case <-ctx.Done():
			logrus.Infof("runner stopped at tick %d", r.state.Tick)
			return nil
		case req := <-r.commands:
			ticker.Stop()
			err := r.Apply(req.cmd)
			req.reply <- err
			if err != nil {
				logrus.Warnf("command %s rejected: %v", req.cmd.Type, err)
			}
			ticker.Reset(r.interval)
			r.publish()
		case <-ticker.C:
			if r.running {
				r.tick()
			}
		}
	}
}
