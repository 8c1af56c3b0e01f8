// sim/simulator.go
package sim

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/inference-sim/raylab/sim/trace"
)

// EngineConfig holds the per-run parameters of an Engine.
type EngineConfig struct {
	Seed int64
	// StallTimeoutTicks fails a request after this many consecutive ticks on
	// an offline node. Zero lets stalled requests wait forever.
	StallTimeoutTicks int
	// Trace receives placement decisions and failures when non-nil.
	Trace *trace.SimulationTrace
}

// Engine computes state transitions. It owns the run's RNG streams and so
// must be driven from a single goroutine.
type Engine struct {
	catalog *Catalog
	cfg     EngineConfig
	rng     *PartitionedRNG
}

// NewEngine creates an engine over a validated catalog.
func NewEngine(cat *Catalog, cfg EngineConfig) *Engine {
	return &Engine{
		catalog: cat,
		cfg:     cfg,
		rng:     NewPartitionedRNG(NewSimulationKey(cfg.Seed)),
	}
}

// Catalog returns the catalog the engine reads.
func (e *Engine) Catalog() *Catalog {
	return e.catalog
}

// InitialState builds the cluster and returns a snapshot at tick 0 with no
// users; the first tick grows the population.
func (e *Engine) InitialState(specs []NodeGroupSpec, modelIDs []string) (SimulationState, error) {
	nodes, err := e.catalog.BuildCluster(specs)
	if err != nil {
		return SimulationState{}, fmt.Errorf("building cluster: %w", err)
	}
	if err := e.catalog.ValidateModelIDs(modelIDs); err != nil {
		return SimulationState{}, fmt.Errorf("active models: %w", err)
	}
	return SimulationState{
		Nodes:          nodes,
		ActiveModelIDs: append([]string(nil), modelIDs...),
	}, nil
}

// Reconfigure replaces the hardware. Live requests, metric history and the
// tick counter are cleared since node identities change.
func (e *Engine) Reconfigure(state SimulationState, specs []NodeGroupSpec) (SimulationState, error) {
	nodes, err := e.catalog.BuildCluster(specs)
	if err != nil {
		return state, fmt.Errorf("building cluster: %w", err)
	}
	return replaceNodes(state, nodes), nil
}

// ReconfigureTemplate replaces the hardware with a named template.
func (e *Engine) ReconfigureTemplate(state SimulationState, id string) (SimulationState, error) {
	nodes, err := e.catalog.BuildFromTemplate(id)
	if err != nil {
		return state, err
	}
	return replaceNodes(state, nodes), nil
}

func replaceNodes(state SimulationState, nodes []ClusterNode) SimulationState {
	next := state.Clone()
	next.Nodes = nodes
	next.Requests = nil
	next.History = nil
	next.Tick = 0
	logrus.Infof("cluster reconfigured: %d workers", len(nodes)-1)
	return next
}

// SetActiveModels switches the served models. Live requests, history and the
// activity log are cleared.
func (e *Engine) SetActiveModels(state SimulationState, ids []string) (SimulationState, error) {
	if err := e.catalog.ValidateModelIDs(ids); err != nil {
		return state, fmt.Errorf("active models: %w", err)
	}
	next := state.Clone()
	next.ActiveModelIDs = append([]string(nil), ids...)
	next.Requests = nil
	next.History = nil
	next.Log = nil
	logrus.Infof("active models set to %v", ids)
	return next, nil
}

// SetNodeOnline toggles one worker. Going offline resets its readings at
// once; coming back online leaves it idle at baseline.
func (e *Engine) SetNodeOnline(state SimulationState, id string, online bool) (SimulationState, error) {
	next := state.Clone()
	n, ok := indexNodes(next.Nodes)[id]
	if !ok {
		return state, fmt.Errorf("unknown node %q", id)
	}
	if !n.IsWorker() {
		return state, fmt.Errorf("node %q is the head node and cannot be toggled", id)
	}
	switch {
	case !online && n.Online():
		n.takeOffline()
		logrus.Infof("node %s taken offline", id)
	case online && !n.Online():
		n.Status = StatusIdle
		logrus.Infof("node %s back online", id)
	}
	return next, nil
}

// Tick computes the snapshot after prev under controls and returns it with
// the advanced round-robin cursor. prev is not modified. Faults never abort
// the tick: they become log entries and counters.
//
// Panics if controls name an unknown strategy or network; callers validate
// controls with Controls.Validate.
func (e *Engine) Tick(prev SimulationState, controls Controls) (SimulationState, int) {
	fabric, err := e.catalog.Network(controls.Network)
	if err != nil {
		panic(err)
	}
	resolver := NewResolver(controls.Placement, controls.Balancer)

	s := prev.Clone()
	s.Tick++
	s.Users = resizePopulation(s.Users, controls.TargetUsers, e.rng.ForSubsystem(SubsystemUsers), e.catalog)

	var log activityLog
	online := onlineWorkers(s.Nodes)
	bs := &BalancerState{
		Cursor:      controls.Cursor,
		Connections: countConnections(s.Requests),
		Rand:        e.rng.ForSubsystem(SubsystemPlacement),
	}
	for i := range s.Users {
		e.advanceUser(&s, &s.Users[i], resolver, online, bs, &log)
	}

	demand := computeDemand(s.Nodes, s.Requests)
	throttle := throttleFactor(demand.Max, fabric.BandwidthGBs)
	res := advanceRequests(s.Requests, pipelineEnv{
		Tick:         s.Tick,
		Fabric:       fabric,
		Throttle:     throttle,
		StallTimeout: e.cfg.StallTimeoutTicks,
		Nodes:        indexNodes(s.Nodes),
		GPUs:         e.catalog.GPUs,
		Model:        e.catalog.mustModel,
	})
	s.Requests = res.Requests
	e.settleUsers(&s, res, &log)

	active := make([]ModelConfig, len(s.ActiveModelIDs))
	for i, id := range s.ActiveModelIDs {
		active[i] = e.catalog.mustModel(id)
	}
	modelVRAM := updateNodes(s.Nodes, nodeUpdate{
		Requests:     s.Requests,
		ActiveModels: active,
		Demand:       demand,
		Fabric:       fabric,
		Rand:         e.rng.ForSubsystem(SubsystemTelemetry),
	})

	point := rollUp(prev.LatestMetric(), rollUpInput{
		Tick:        s.Tick,
		Nodes:       s.Nodes,
		Requests:    s.Requests,
		Pipeline:    res,
		Demand:      demand,
		Fabric:      fabric,
		Throttle:    throttle,
		ActiveUsers: len(s.Users),
		ModelVRAM:   modelVRAM,
		Model:       e.catalog.mustModel,
	})
	s.History = appendHistory(s.History, point)
	s.Log = mergeLog(s.Log, log)
	return s, bs.Cursor
}

// advanceUser runs one step of a user's lifecycle. Waiting users are moved
// on by settleUsers once their request finishes.
func (e *Engine) advanceUser(s *SimulationState, u *VirtualUser, resolver *Resolver, online []ClusterNode, bs *BalancerState, log *activityLog) {
	switch u.State {
	case UserIdle:
		u.Timer--
		if u.Timer <= 0 {
			u.State, u.Timer = UserComposing, ComposeTicks
		}
	case UserComposing:
		u.Timer--
		if u.Timer <= 0 {
			e.dispatch(s, u, resolver, online, bs, log)
		}
	case UserWaiting:
	case UserReading:
		u.Timer--
		if u.Timer <= 0 {
			u.State, u.Timer = UserIdle, randomIdleTicks(e.rng.ForSubsystem(SubsystemUsers))
		}
	default:
		panic(fmt.Sprintf("unknown user state %d", int(u.State)))
	}
}

// dispatch turns a composed prompt into a live request, or logs the
// placement fault and sends the user back to idle with a penalty.
func (e *Engine) dispatch(s *SimulationState, u *VirtualUser, resolver *Resolver, online []ClusterNode, bs *BalancerState, log *activityLog) {
	if len(s.ActiveModelIDs) == 0 {
		u.State, u.Timer = UserIdle, NoModelIdleTicks
		return
	}
	rng := e.rng.ForSubsystem(SubsystemUsers)
	prompt := e.catalog.Prompts[rng.Intn(len(e.catalog.Prompts))]
	model := e.catalog.mustModel(s.ActiveModelIDs[rng.Intn(len(s.ActiveModelIDs))])
	log.add(promptEntry(s.Tick, *u, prompt.Text))

	placement, err := resolver.Resolve(model, online, bs)
	if err != nil {
		kind := "unknown"
		var perr *PlacementError
		if errors.As(err, &perr) {
			kind = perr.Kind.String()
		}
		logrus.Debugf("[tick %d] %s: %v", s.Tick, u.ID, err)
		log.add(systemEntry(s.Tick, u.ID, LogPlacementError, err.Error()))
		s.Stats.PlacementFaults++
		e.recordFailure(trace.FailureRecord{UserID: u.ID, Tick: s.Tick, ModelID: model.ID, Kind: kind, Message: err.Error()})
		u.State, u.Timer = UserIdle, PlacementPenaltyTicks
		return
	}

	req := RequestPacket{
		ID:           fmt.Sprintf("req-%d-%s", s.Tick, u.ID),
		ModelID:      model.ID,
		UserID:       u.ID,
		Stage:        StageTransfer,
		PromptTokens: prompt.Tokens/2 + 10,
		OutputTokens: prompt.Tokens,
		TPSize:       model.TPSize,
		Color:        u.Color,
		StartTick:    s.Tick,
	}
	if model.Sharded() {
		req.TargetNodeIDs = placement.NodeIDs
	} else {
		req.TargetNodeID = placement.NodeID
	}
	s.Requests = append(s.Requests, req)
	for _, id := range placement.Targets() {
		bs.Connections[id]++
	}
	logrus.Debugf("[tick %d] placed %s (%s) on %v: %s", s.Tick, req.ID, model.ID, placement.Targets(), placement.Reason)
	if e.tracing() {
		e.cfg.Trace.RecordPlacement(trace.PlacementRecord{
			RequestID: req.ID,
			Tick:      s.Tick,
			ModelID:   model.ID,
			Placement: string(resolver.strategyName()),
			Balancer:  string(resolver.balancingName()),
			Targets:   placement.Targets(),
			Reason:    placement.Reason,
		})
	}
	u.State, u.CurrentRequestID = UserWaiting, req.ID
}

// settleUsers bills users whose request finished this tick, returns users
// whose request failed to idle, and releases waiting users whose request no
// longer exists (cleared by a reconfiguration).
func (e *Engine) settleUsers(s *SimulationState, res pipelineResult, log *activityLog) {
	for _, c := range res.Finished {
		s.Stats.Completed++
		s.Stats.TokensServed += c.Request.TotalTokens()
	}

	failed := make(map[string]RequestPacket, len(res.Failed))
	for _, r := range res.Failed {
		failed[r.ID] = r
		msg := fmt.Sprintf("Request Failed: %s stalled on offline node(s) %v for %d ticks", r.ID, r.NodeIDs(), r.StalledTicks)
		logrus.Warnf("[tick %d] %s", s.Tick, msg)
		log.add(systemEntry(s.Tick, r.UserID, LogRequestFailed, msg))
		s.Stats.Failed++
		e.recordFailure(trace.FailureRecord{RequestID: r.ID, UserID: r.UserID, Tick: s.Tick, ModelID: r.ModelID, Kind: "stall-timeout", Message: msg})
	}

	live := make(map[string]bool, len(s.Requests))
	for _, r := range s.Requests {
		live[r.ID] = true
	}

	for i := range s.Users {
		u := &s.Users[i]
		if u.State != UserWaiting {
			continue
		}
		if c, ok := res.Finished[u.CurrentRequestID]; ok {
			m := e.catalog.mustModel(c.Request.ModelID)
			tokens := c.Request.TotalTokens()
			cost := float64(tokens) / 1000 * m.CostPer1kTokens
			u.TotalCost += cost
			u.TotalTokens += tokens
			u.RequestCount++
			s.Stats.Revenue += cost
			log.add(responseEntry(s.Tick, *u, c))
			u.State, u.Timer, u.CurrentRequestID = UserReading, ReadTicks, ""
			continue
		}
		if _, ok := failed[u.CurrentRequestID]; ok {
			u.State, u.Timer, u.CurrentRequestID = UserIdle, PlacementPenaltyTicks, ""
			continue
		}
		if !live[u.CurrentRequestID] {
			u.State, u.Timer, u.CurrentRequestID = UserIdle, randomIdleTicks(e.rng.ForSubsystem(SubsystemUsers)), ""
		}
	}
}

func (e *Engine) tracing() bool {
	return e.cfg.Trace != nil && e.cfg.Trace.Config.Enabled()
}

func (e *Engine) recordFailure(rec trace.FailureRecord) {
	if e.tracing() {
		e.cfg.Trace.RecordFailure(rec)
	}
}
