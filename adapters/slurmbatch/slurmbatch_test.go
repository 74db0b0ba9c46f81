package slurmbatch

import (
	"context"
	"strings"
	"testing"

	"github.com/r3e-network/dronectl/drone"
)

const sinfoOutput = `mixed      2/2/0/4   6000    24000   VM-1   host-10-18-1-1
mixed      3/1/0/4   15853   22011   VM-2   host-10-18-1-2
mixed      1/3/0/4   18268   22011   VM-3   host-10-18-1-4
mixed      3/1/0/4   17803   22011   VM-4   host-10-18-1-7
draining   0/4/0/4   17803   22011   draining_m   draining_m
idle       0/4/0/4   17803   22011   idle_m   idle_m
drained    0/4/0/4   17803   22011   drained_m   drained_m
powerup    0/4/0/4   17803   22011   pwr_up_m   pwr_up_m`

func fixedRunner(output string) commandRunner {
	return func(ctx context.Context, command string) (string, error) {
		return output, nil
	}
}

func TestGetMachineStatus(t *testing.T) {
	a := newWithRunner("test_part", fixedRunner(sinfoOutput))
	ctx := context.Background()

	cases := map[string]drone.MachineStatus{
		"VM-1":       drone.MachineStatusAvailable,
		"not_exists": drone.MachineStatusNotAvailable,
		"draining_m": drone.MachineStatusDraining,
		"idle_m":     drone.MachineStatusAvailable,
		"drained_m":  drone.MachineStatusNotAvailable,
		"pwr_up_m":   drone.MachineStatusNotAvailable,
	}
	for dnsName, want := range cases {
		got, err := a.GetMachineStatus(ctx, dnsName)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", dnsName, err)
		}
		if got != want {
			t.Errorf("%s: got %v, want %v", dnsName, got, want)
		}
	}
}

func TestGetAllocationAndUtilisation(t *testing.T) {
	a := newWithRunner("test_part", fixedRunner(sinfoOutput))
	ctx := context.Background()

	alloc, err := a.GetAllocation(ctx, "VM-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if alloc != 0.5 {
		t.Errorf("expected allocation 0.5 (max of 0.5 cpu, 0.25 mem), got %v", alloc)
	}

	util, err := a.GetUtilisation(ctx, "VM-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if util != 0.25 {
		t.Errorf("expected utilisation 0.25 (min of 0.5 cpu, 0.25 mem), got %v", util)
	}

	alloc, err = a.GetAllocation(ctx, "not_exists")
	if err != nil || alloc != 0 {
		t.Errorf("expected 0 allocation for unknown node, got %v err %v", alloc, err)
	}
}

func TestDrainMachineUsesNodeHost(t *testing.T) {
	var captured string
	runner := func(ctx context.Context, command string) (string, error) {
		if strings.HasPrefix(command, "scontrol") {
			captured = command
			return "", nil
		}
		return sinfoOutput, nil
	}
	a := newWithRunner("test_part", runner)

	if err := a.DrainMachine(context.Background(), "VM-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "scontrol update NodeName=host-10-18-1-1 State=DRAIN Reason='dronectl'"
	if captured != want {
		t.Errorf("got command %q, want %q", captured, want)
	}
}

func TestSinfoCommandIncludesPartition(t *testing.T) {
	a := New("test_part")
	if !strings.Contains(a.sinfoCommand(), "--partition=test_part") {
		t.Errorf("expected partition filter in command, got %q", a.sinfoCommand())
	}
	withoutPartition := New("")
	if strings.Contains(withoutPartition.sinfoCommand(), "--partition") {
		t.Errorf("expected no partition filter, got %q", withoutPartition.sinfoCommand())
	}
}
