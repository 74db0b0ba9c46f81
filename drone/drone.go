package drone

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"
)

// MetricsRecorder is the narrow observability seam states use to report
// agent call latency and transitions, without pulling the metrics package
// into the drone package's dependency graph.
type MetricsRecorder interface {
	ObserveAgentCall(agent, operation string, duration time.Duration)
	RecordTransition(toState string)
}

type noopMetrics struct{}

func (noopMetrics) ObserveAgentCall(string, string, time.Duration) {}
func (noopMetrics) RecordTransition(string)                        {}

// Pacing configures the time a drone's states spend sleeping.
// AvailabilityInterval governs Available's periodic poll (default 10s);
// StepPacing is the small delay every other polling state backs off by
// between agent calls, so a flapping agent cannot spin a drone's goroutine
// at full CPU.
type Pacing struct {
	AvailabilityInterval time.Duration
	StepPacing           time.Duration
}

// DefaultPacing matches the spec's stated defaults.
func DefaultPacing() Pacing {
	return Pacing{AvailabilityInterval: 10 * time.Second, StepPacing: 500 * time.Millisecond}
}

// Drone is the in-memory actor for one managed resource. Exactly one State
// is current at any time; orchestrator.Orchestrator drives Drone.State.Run
// in a loop until it reaches DownState.
type Drone struct {
	UniqueID   string
	Attributes Attributes
	State      State

	MaximumDemand float64
	Supply        float64
	Allocation    float64
	Utilisation   float64

	SiteAgent        SiteAgent
	BatchSystemAgent BatchSystemAgent

	Pacing  Pacing
	Metrics MetricsRecorder

	mu     sync.RWMutex
	demand float64
}

// New creates a drone in RequestState with the given identity and agent
// bindings. maximumDemand is the drone's nominal capacity; demand starts
// equal to it (upstream has asked for the drone, or it wouldn't exist yet).
func New(uniqueID string, maximumDemand float64, site SiteAgent, batch BatchSystemAgent) *Drone {
	return &Drone{
		UniqueID:         uniqueID,
		State:            RequestState{},
		MaximumDemand:    maximumDemand,
		SiteAgent:        site,
		BatchSystemAgent: batch,
		Pacing:           DefaultPacing(),
		Metrics:          noopMetrics{},
		demand:           maximumDemand,
	}
}

// Demand returns the current upstream demand signal.
func (d *Drone) Demand() float64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.demand
}

// SetDemand updates the upstream demand signal. Safe to call concurrently
// with the drone's own run loop (e.g. from an HTTP handler).
func (d *Drone) SetDemand(v float64) error {
	if v < 0 {
		return fmt.Errorf("demand must be >= 0, got %v", v)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.demand = v
	return nil
}

// setSupply records the drone's currently offered capacity.
func (d *Drone) setSupply(v float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Supply = v
}

// NewUniqueID generates an identifier matching ^\S+-[A-Fa-f0-9]{10}$.
func NewUniqueID(prefix string) (string, error) {
	buf := make([]byte, 5)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return fmt.Sprintf("%s-%s", prefix, hex.EncodeToString(buf)), nil
}

// sleep blocks for d, or returns ctx.Err() early if ctx is cancelled first.
// A non-positive d is a no-op, so a zero Pacing disables sleeping
// altogether; with DefaultPacing both StepPacing and the Available interval
// are positive. The Available interval sleep is the suspension point §5
// requires.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
