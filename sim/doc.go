// Package sim provides the tick-driven simulation engine for an LLM inference
// cluster: a Ray head node in front of GPU workers serving one or more models.
//
// # Reading Guide
//
// Start with these three files to understand the simulation kernel:
//   - simulator.go: Engine.Tick, the pure transition from one SimulationState to the next
//   - pipeline.go: the transfer → prefill → decode request state machine
//   - telemetry.go: bandwidth demand, throttling and smoothed node readings
//
// # Architecture
//
// Every tick runs the same fixed sequence:
//  1. resize the user population toward Controls.TargetUsers
//  2. advance each user; users that finish composing dispatch a request
//     through a Resolver (PlacementPolicy + LoadBalancingPolicy)
//  3. compute per-node bandwidth demand and the global throttle factor
//  4. advance every live request; stalled requests on offline nodes wait
//     and eventually fail
//  5. bill users whose request finished
//  6. recompute node readings and roll them up into a MetricPoint
//
// Static lookup data (models, GPUs, network fabrics, hardware templates,
// user and prompt corpora) lives in a Catalog. The default catalog is
// embedded from defaults.yaml.
//
// Sub-packages:
//   - sim/trace/: placement decision recording
//   - sim/runner/: fixed-interval orchestration, commands and snapshot fan-out
//
// # Key Interfaces
//
//   - PlacementPolicy: narrow online workers to a candidate pool (PACK, STRICT_PACK, SPREAD)
//   - LoadBalancingPolicy: pick one node from the pool (RANDOM, ROUND_ROBIN, LEAST_CONNECTIONS)
package sim
