// Package registry holds the durable record of each drone's last observed
// state, independent of the live orchestrator loop that drives it.
package registry

import (
	"context"
	"time"

	"github.com/r3e-network/dronectl/drone"
)

// Record is one drone's last observed snapshot. It is what the
// observability API (and Prune) reason about; it never includes agent
// handles or anything else live-process-only.
type Record struct {
	DroneUUID  string
	State      string
	Site       string
	Attributes drone.Attributes
	LastSeen   time.Time
}

// Registry is the durable store of drone records. Implementations must
// serialize writes per DroneUUID and must never let a caller observe a
// transition that a later Upsert rolls back: Upsert calls for the same
// DroneUUID must be applied in the order they are issued.
type Registry interface {
	// Upsert records a transition. Called on every state change.
	Upsert(ctx context.Context, rec Record) error

	// GetResourceState returns the last recorded state name, or ok=false if
	// drone_uuid is unknown.
	GetResourceState(ctx context.Context, droneUUID string) (state string, ok bool, err error)

	// GetResources returns every known record, in no particular order.
	GetResources(ctx context.Context) ([]Record, error)

	// Prune deletes terminal records (State == "DownState") last seen before
	// olderThan. Returns the number of records removed.
	Prune(ctx context.Context, olderThan time.Time) (int, error)
}
