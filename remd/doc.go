// Package remd provides the replica-exchange coordination core.
//
// # Reading Guide
//
// Start with these files:
//   - state.go: the Replica State and the replica set helpers
//   - shape.go: validation of values crossing the communicator boundary
//   - runner.go: the per-step protocol shared by leader and workers
//   - mapper.go: rank to replica assignment, including multiplexing
//
// # Architecture
//
// The remd package defines the interfaces and the coordination loop;
// implementations live in sub-packages:
//   - remd/comm/: Communicator implementations (in-process, TCP)
//   - remd/engine/: reference Simulation Engine
//   - remd/ladder/: leader-side exchange decisions
//   - remd/trace/: exchange decision trace
//   - remd/store/: setup and checkpoint persistence
//   - remd/ensemble/: multi-device ensemble orchestration
//
// # Key Interfaces
//
//   - Engine: prepare, minimize-then-advance, advance, energy
//   - WorkerCommunicator / LeaderCommunicator: the two halves of the exchange protocol
//   - Ladder: permutes states between Hamiltonians from a gathered energy matrix
//   - ThresholdAdjuster: optional per-step adaptation hook
//   - Checkpointer: durable per-block state snapshots
package remd
