package drone

import "context"

// State is one node of the drone state machine. Run performs at most one
// externally observable round-trip (or sleep) and returns the successor
// state. The transition table is encoded in each state's Run method, not as
// a separate mutable structure, so it can never be shared (and corrupted)
// across drones.
//
// Run bodies catch only *AuthError/*TimeoutError, and only in Request
// (which then moves to Down) and Booting (which self-loops). Every other
// error propagates to the caller. The orchestrator treats a context
// cancellation as the start of teardown and any other error as fatal:
// record the failure, move the drone to Down, and best-effort clean up.
type State interface {
	// Name is the state's identity as recorded in the registry.
	Name() string
	Run(ctx context.Context, d *Drone) (State, error)
}

// TeardownState returns the state a drone cancelled externally should enter
// next, given its current state, and zeroes d.Supply: once teardown starts
// the drone is no longer offering capacity, the same invariant AvailableState
// itself enforces on its own drain/shutdown transitions (states.go:121-127).
// Cancellation during Request goes straight to Down with no stop or
// terminate call (DeployResource has already been called with the
// cancelled context); cancellation while Available drains
// cleanly; cancellation once the resource is already being stopped skips
// ahead to Cleanup instead of repeating the stop; any other in-flight state
// proceeds through Cleanup.
func TeardownState(current State, d *Drone) State {
	d.setSupply(0)
	switch current.(type) {
	case RequestState:
		return DownState{}
	case AvailableState:
		return DrainState{}
	case ShutDownState, ShuttingDownState:
		return CleanupState{}
	case DownState:
		return DownState{}
	case CleanupState:
		return CleanupState{}
	default:
		return CleanupState{}
	}
}
