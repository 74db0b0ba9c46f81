package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/r3e-network/dronectl/drone"
	"github.com/r3e-network/dronectl/registry"
)

// scriptedSite walks through a fixed sequence of ResourceStatus values on
// successive ResourceStatus calls, mirroring S1's "Booting then Running".
type scriptedSite struct {
	mu           sync.Mutex
	statuses     []drone.ResourceStatus
	idx          int
	deployErr    error
	stopCalls    int
	terminateCalls int
}

func (s *scriptedSite) DeployResource(ctx context.Context, uniqueID string) (drone.Attributes, error) {
	if s.deployErr != nil {
		return drone.Attributes{}, s.deployErr
	}
	return drone.Attributes{ResourceID: "r-1", DNSName: "h-1", ResourceStatus: drone.ResourceStatusBooting}, nil
}

func (s *scriptedSite) ResourceStatus(ctx context.Context, attrs drone.Attributes) (drone.Attributes, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	status := s.statuses[s.idx]
	if s.idx < len(s.statuses)-1 {
		s.idx++
	}
	return drone.Attributes{ResourceStatus: status}, nil
}

func (s *scriptedSite) StopResource(ctx context.Context, attrs drone.Attributes) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopCalls++
	return nil
}

func (s *scriptedSite) TerminateResource(ctx context.Context, attrs drone.Attributes) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.terminateCalls++
	return nil
}

type scriptedBatch struct {
	mu       sync.Mutex
	statuses []drone.MachineStatus
	idx      int
}

func (b *scriptedBatch) IntegrateMachine(ctx context.Context, dnsName string) error { return nil }

func (b *scriptedBatch) GetMachineStatus(ctx context.Context, dnsName string) (drone.MachineStatus, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	status := b.statuses[b.idx]
	if b.idx < len(b.statuses)-1 {
		b.idx++
	}
	return status, nil
}

func (b *scriptedBatch) DrainMachine(ctx context.Context, dnsName string) error       { return nil }
func (b *scriptedBatch) DisintegrateMachine(ctx context.Context, dnsName string) error { return nil }
func (b *scriptedBatch) GetAllocation(ctx context.Context, dnsName string) (float64, error) {
	return 0.5, nil
}
func (b *scriptedBatch) GetUtilisation(ctx context.Context, dnsName string) (float64, error) {
	return 0.5, nil
}

func waitForState(t *testing.T, reg registry.Registry, droneUUID, want string, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		state, ok, _ := reg.GetResourceState(context.Background(), droneUUID)
		if ok && state == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s to reach %s", droneUUID, want)
}

// TestHappyPathReachesAvailable grounds S1: Request through Integrating
// lands in Available with supply == maximum_demand.
func TestHappyPathReachesAvailable(t *testing.T) {
	reg := registry.NewMemoryRegistry()
	orch := NewWithPacing(reg, nil, nil, drone.Pacing{AvailabilityInterval: 100 * time.Millisecond, StepPacing: time.Millisecond})

	site := &scriptedSite{statuses: []drone.ResourceStatus{drone.ResourceStatusBooting, drone.ResourceStatusRunning}}
	batch := &scriptedBatch{statuses: []drone.MachineStatus{drone.MachineStatusNotAvailable, drone.MachineStatusAvailable}}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stop, done := orch.Spawn(ctx, "test-0011223344", 1.0, site, batch)
	defer stop()

	waitForState(t, reg, "test-0011223344", "AvailableState", time.Second)

	d, ok := orch.Lookup("test-0011223344")
	if !ok {
		t.Fatal("expected drone to still be tracked")
	}
	// Supply is set by AvailableState's first poll, one AvailabilityInterval
	// after the state is recorded.
	deadline := time.Now().Add(time.Second)
	for d.Supply != 1.0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if d.Supply != 1.0 {
		t.Fatalf("expected supply == maximum demand, got %v", d.Supply)
	}

	select {
	case <-done:
		t.Fatal("drone should not have terminated yet")
	default:
	}
}

// TestTransientAuthErrorInRequest grounds S2.
func TestTransientAuthErrorInRequest(t *testing.T) {
	reg := registry.NewMemoryRegistry()
	orch := NewWithPacing(reg, nil, nil, drone.Pacing{AvailabilityInterval: 100 * time.Millisecond, StepPacing: time.Millisecond})

	site := &scriptedSite{deployErr: &drone.AuthError{Op: "deploy_resource", Err: errors.New("bad creds")}}
	batch := &scriptedBatch{statuses: []drone.MachineStatus{drone.MachineStatusAvailable}}

	ctx := context.Background()
	_, done := orch.Spawn(ctx, "test-aabbccddee", 1.0, site, batch)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("expected drone run loop to finish")
	}

	state, ok, _ := reg.GetResourceState(ctx, "test-aabbccddee")
	if !ok || state != "DownState" {
		t.Fatalf("expected DownState, got %q ok=%v", state, ok)
	}
	if site.stopCalls != 0 || site.terminateCalls != 0 {
		t.Fatalf("expected no stop/terminate calls, got stop=%d terminate=%d", site.stopCalls, site.terminateCalls)
	}
}

// TestCancellationDrainsFromAvailable exercises TeardownState's Available
// case end to end: cancelling a drone parked in Available drives it through
// Drain/Draining/Disintegrate/ShutDown/ShuttingDown/Cleanup to Down, calling
// stop and terminate exactly once each (S3's teardown half).
func TestCancellationDrainsFromAvailable(t *testing.T) {
	reg := registry.NewMemoryRegistry()
	orch := NewWithPacing(reg, nil, nil, drone.Pacing{AvailabilityInterval: 100 * time.Millisecond, StepPacing: time.Millisecond})

	site := &scriptedSite{statuses: []drone.ResourceStatus{drone.ResourceStatusBooting, drone.ResourceStatusRunning, drone.ResourceStatusStopped}}
	batch := &scriptedBatch{statuses: []drone.MachineStatus{drone.MachineStatusAvailable, drone.MachineStatusAvailable, drone.MachineStatusDrained}}

	ctx := context.Background()
	stop, done := orch.Spawn(ctx, "test-0a1b2c3d4e", 1.0, site, batch)
	waitForState(t, reg, "test-0a1b2c3d4e", "AvailableState", time.Second)

	stop()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("expected drone to finish tearing down")
	}

	state, ok, _ := reg.GetResourceState(ctx, "test-0a1b2c3d4e")
	if !ok || state != "DownState" {
		t.Fatalf("expected DownState after teardown, got %q ok=%v", state, ok)
	}
	if site.stopCalls != 1 {
		t.Fatalf("expected exactly one stop_resource call, got %d", site.stopCalls)
	}
	if site.terminateCalls != 1 {
		t.Fatalf("expected exactly one terminate_resource call, got %d", site.terminateCalls)
	}
}

// TestCancellationZeroesSupply grounds invariant 2 (spec §8): a drone
// cancelled out of Available must not be left recorded with nonzero Supply
// while it drains toward Down.
func TestCancellationZeroesSupply(t *testing.T) {
	reg := registry.NewMemoryRegistry()
	orch := NewWithPacing(reg, nil, nil, drone.Pacing{AvailabilityInterval: 100 * time.Millisecond, StepPacing: time.Millisecond})

	site := &scriptedSite{statuses: []drone.ResourceStatus{drone.ResourceStatusBooting, drone.ResourceStatusRunning, drone.ResourceStatusStopped}}
	batch := &scriptedBatch{statuses: []drone.MachineStatus{drone.MachineStatusAvailable, drone.MachineStatusAvailable, drone.MachineStatusDrained}}

	ctx := context.Background()
	stop, done := orch.Spawn(ctx, "test-1a2b3c4d5e", 1.0, site, batch)
	waitForState(t, reg, "test-1a2b3c4d5e", "AvailableState", time.Second)

	d, ok := orch.Lookup("test-1a2b3c4d5e")
	if !ok {
		t.Fatal("expected drone to still be tracked before stop")
	}
	// Supply is set by AvailableState's first poll, one AvailabilityInterval
	// after the state is recorded.
	deadline := time.Now().Add(time.Second)
	for d.Supply != 1.0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if d.Supply != 1.0 {
		t.Fatalf("expected Supply == MaximumDemand before teardown, got %v", d.Supply)
	}

	stop()

	deadline = time.Now().Add(time.Second)
	for d.Supply != 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if d.Supply != 0 {
		t.Fatalf("expected Supply zeroed once teardown begins, got %v", d.Supply)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("expected drone to finish tearing down")
	}
}
