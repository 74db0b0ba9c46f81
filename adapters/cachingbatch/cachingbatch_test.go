package cachingbatch

import (
	"context"
	"testing"
	"time"

	"github.com/r3e-network/dronectl/drone"
)

type countingBatch struct {
	statusCalls int
	status      drone.MachineStatus
}

func (b *countingBatch) IntegrateMachine(ctx context.Context, dnsName string) error { return nil }
func (b *countingBatch) GetMachineStatus(ctx context.Context, dnsName string) (drone.MachineStatus, error) {
	b.statusCalls++
	return b.status, nil
}
func (b *countingBatch) DrainMachine(ctx context.Context, dnsName string) error       { return nil }
func (b *countingBatch) DisintegrateMachine(ctx context.Context, dnsName string) error { return nil }
func (b *countingBatch) GetAllocation(ctx context.Context, dnsName string) (float64, error) {
	return 0.5, nil
}
func (b *countingBatch) GetUtilisation(ctx context.Context, dnsName string) (float64, error) {
	return 0.5, nil
}

func TestGetMachineStatusIsCachedWithinMaxAge(t *testing.T) {
	inner := &countingBatch{status: drone.MachineStatusAvailable}
	agent := New(inner, time.Minute)

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		status, err := agent.GetMachineStatus(ctx, "host-1")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if status != drone.MachineStatusAvailable {
			t.Fatalf("unexpected status: %v", status)
		}
	}
	if inner.statusCalls != 1 {
		t.Fatalf("expected exactly one underlying call, got %d", inner.statusCalls)
	}
}

func TestDrainMachineInvalidatesCachedStatus(t *testing.T) {
	inner := &countingBatch{status: drone.MachineStatusAvailable}
	agent := New(inner, time.Minute)

	ctx := context.Background()
	if _, err := agent.GetMachineStatus(ctx, "host-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := agent.DrainMachine(ctx, "host-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	inner.status = drone.MachineStatusDrained
	status, err := agent.GetMachineStatus(ctx, "host-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status != drone.MachineStatusDrained {
		t.Fatalf("expected fresh status after invalidation, got %v", status)
	}
	if inner.statusCalls != 2 {
		t.Fatalf("expected two underlying calls, got %d", inner.statusCalls)
	}
}

func TestZeroMaxAgeDisablesCaching(t *testing.T) {
	inner := &countingBatch{status: drone.MachineStatusAvailable}
	agent := New(inner, 0)

	ctx := context.Background()
	agent.GetMachineStatus(ctx, "host-1")
	agent.GetMachineStatus(ctx, "host-1")
	if inner.statusCalls != 2 {
		t.Fatalf("expected caching disabled, got %d calls", inner.statusCalls)
	}
}
