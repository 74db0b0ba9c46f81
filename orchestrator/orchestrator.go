// Package orchestrator drives the fleet of drones: spawning them, running
// each one's state machine to completion, and keeping the registry current.
package orchestrator

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/r3e-network/dronectl/drone"
	"github.com/r3e-network/dronectl/infrastructure/logging"
	"github.com/r3e-network/dronectl/registry"
)

// Orchestrator tracks the set of live drones and runs each one's state
// machine concurrently, independently, with no cross-drone ordering
// guarantee.
type Orchestrator struct {
	registry registry.Registry
	logger   *logging.Logger
	metrics  drone.MetricsRecorder
	pacing   drone.Pacing

	mu     sync.RWMutex
	drones map[string]*droneHandle
}

type droneHandle struct {
	drone  *drone.Drone
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates an Orchestrator backed by reg. logger and metrics may be nil;
// a nil logger discards log output, a nil metrics recorder is a no-op.
// Every spawned drone uses drone.DefaultPacing; use NewWithPacing to
// override it (tests do, to avoid waiting out real sleeps).
func New(reg registry.Registry, logger *logging.Logger, metrics drone.MetricsRecorder) *Orchestrator {
	return NewWithPacing(reg, logger, metrics, drone.DefaultPacing())
}

// NewWithPacing is New with an explicit per-drone Pacing override.
func NewWithPacing(reg registry.Registry, logger *logging.Logger, metrics drone.MetricsRecorder, pacing drone.Pacing) *Orchestrator {
	return &Orchestrator{
		registry: reg,
		logger:   logger,
		metrics:  metrics,
		pacing:   pacing,
		drones:   make(map[string]*droneHandle),
	}
}

// Spawn creates a new drone in RequestState and starts its run loop in a
// background goroutine. A context derived from ctx governs the drone's
// lifetime; cancelling ctx or calling the returned stop function ends it
// early and drives it through teardown. The returned done channel is closed
// when the run loop exits.
func (o *Orchestrator) Spawn(ctx context.Context, uniqueID string, maximumDemand float64, site drone.SiteAgent, batch drone.BatchSystemAgent) (stop func(), done <-chan struct{}) {
	d := drone.New(uniqueID, maximumDemand, site, batch)
	d.Pacing = o.pacing
	if o.metrics != nil {
		d.Metrics = o.metrics
	}

	runCtx, cancel := context.WithCancel(ctx)
	handle := &droneHandle{drone: d, cancel: cancel, done: make(chan struct{})}

	o.mu.Lock()
	o.drones[uniqueID] = handle
	o.mu.Unlock()

	go o.runDrone(runCtx, handle)

	return cancel, handle.done
}

// Lookup returns the live drone for uniqueID, if any is currently tracked.
func (o *Orchestrator) Lookup(uniqueID string) (*drone.Drone, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	h, ok := o.drones[uniqueID]
	if !ok {
		return nil, false
	}
	return h.drone, true
}

// Live returns the unique IDs of every drone currently tracked in-process.
func (o *Orchestrator) Live() []string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	ids := make([]string, 0, len(o.drones))
	for id := range o.drones {
		ids = append(ids, id)
	}
	return ids
}

func (o *Orchestrator) runDrone(ctx context.Context, h *droneHandle) {
	defer close(h.done)
	d := h.drone

	for {
		current := d.State
		o.persist(ctx, d)

		next, err := current.Run(ctx, d)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				// §5: cancellation drains the drone through the real
				// teardown chain of states rather than jumping straight to
				// Down. Once teardown has started it must run to
				// completion, so the rest of the loop uses an
				// uncancelled context for its I/O.
				o.logCancellation(ctx, d, current)
				d.State = drone.TeardownState(current, d)
				ctx = context.Background()
				continue
			}

			// §4.4: any other run error is fatal. The drone goes straight
			// to Down; cleanup makes a best-effort attempt to terminate
			// whatever the site agent may have provisioned.
			o.logError(ctx, d, current, err)
			d.State = drone.DownState{}
			o.persist(ctx, d)
			o.cleanup(ctx, d)
			break
		}

		if next == nil {
			// Implementation error: a state must always return a successor.
			o.logFatalNilState(ctx, d, current)
			next = drone.DownState{}
		}

		d.State = next
		if o.metrics != nil {
			o.metrics.RecordTransition(next.Name())
		}

		if _, ok := next.(drone.DownState); ok {
			o.persist(ctx, d)
			break
		}
	}

	o.mu.Lock()
	delete(o.drones, d.UniqueID)
	o.mu.Unlock()
}

func (o *Orchestrator) persist(ctx context.Context, d *drone.Drone) {
	rec := registry.Record{
		DroneUUID:  d.UniqueID,
		State:      d.State.Name(),
		Attributes: d.Attributes,
		LastSeen:   time.Now(),
	}
	if err := o.registry.Upsert(ctx, rec); err != nil && o.logger != nil {
		o.logger.WithContext(ctx).WithError(err).Error("registry upsert failed")
	}
}

// cleanup makes a best-effort attempt to terminate whatever site resource
// the drone may have provisioned, after a fatal error has already forced it
// to Down. Failures here are logged, never retried: the drone is already
// gone from the orchestrator's perspective.
func (o *Orchestrator) cleanup(ctx context.Context, d *drone.Drone) {
	if d.Attributes.ResourceID == "" || d.SiteAgent == nil {
		return
	}
	cleanupCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := d.SiteAgent.TerminateResource(cleanupCtx, d.Attributes); err != nil && o.logger != nil {
		o.logger.WithContext(ctx).WithError(err).Warn("best-effort cleanup terminate_resource failed")
	}
}

func (o *Orchestrator) logError(ctx context.Context, d *drone.Drone, state drone.State, err error) {
	if o.logger == nil {
		return
	}
	o.logger.WithContext(ctx).WithError(err).WithFields(map[string]interface{}{
		"drone_uuid": d.UniqueID,
		"state":      state.Name(),
	}).Error("drone run failed, forcing teardown")
}

func (o *Orchestrator) logCancellation(ctx context.Context, d *drone.Drone, state drone.State) {
	if o.logger == nil {
		return
	}
	o.logger.WithContext(ctx).WithFields(map[string]interface{}{
		"drone_uuid": d.UniqueID,
		"state":      state.Name(),
	}).Info("drone cancelled, draining through teardown chain")
}

func (o *Orchestrator) logFatalNilState(ctx context.Context, d *drone.Drone, state drone.State) {
	if o.logger == nil {
		return
	}
	o.logger.WithContext(ctx).WithFields(map[string]interface{}{
		"drone_uuid": d.UniqueID,
		"state":      state.Name(),
	}).Error("state.Run returned a nil successor, forcing Down")
}
