package drone

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"
)

type stubSite struct {
	deployAttrs Attributes
	deployErr   error
	statusAttrs Attributes
	statusErr   error
	stopErr     error
	terminateErr error
}

func (s *stubSite) DeployResource(ctx context.Context, uniqueID string) (Attributes, error) {
	return s.deployAttrs, s.deployErr
}
func (s *stubSite) ResourceStatus(ctx context.Context, attrs Attributes) (Attributes, error) {
	return s.statusAttrs, s.statusErr
}
func (s *stubSite) StopResource(ctx context.Context, attrs Attributes) error      { return s.stopErr }
func (s *stubSite) TerminateResource(ctx context.Context, attrs Attributes) error { return s.terminateErr }

type stubBatch struct {
	status      MachineStatus
	statusErr   error
	integrateErr error
	drainErr    error
	allocation  float64
	utilisation float64
}

func (b *stubBatch) IntegrateMachine(ctx context.Context, dnsName string) error { return b.integrateErr }
func (b *stubBatch) GetMachineStatus(ctx context.Context, dnsName string) (MachineStatus, error) {
	return b.status, b.statusErr
}
func (b *stubBatch) DrainMachine(ctx context.Context, dnsName string) error       { return b.drainErr }
func (b *stubBatch) DisintegrateMachine(ctx context.Context, dnsName string) error { return nil }
func (b *stubBatch) GetAllocation(ctx context.Context, dnsName string) (float64, error) {
	return b.allocation, nil
}
func (b *stubBatch) GetUtilisation(ctx context.Context, dnsName string) (float64, error) {
	return b.utilisation, nil
}

func newTestDrone(site SiteAgent, batch BatchSystemAgent) *Drone {
	d := New("test-0011223344", 1.0, site, batch)
	d.Pacing = Pacing{} // no sleeps in tests
	return d
}

func TestRequestStateSuccess(t *testing.T) {
	site := &stubSite{deployAttrs: Attributes{ResourceID: "r-1", DNSName: "d-1"}}
	d := newTestDrone(site, &stubBatch{})

	next, err := RequestState{}.Run(context.Background(), d)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if next.Name() != "BootingState" {
		t.Fatalf("expected BootingState, got %s", next.Name())
	}
	if d.Attributes.ResourceID != "r-1" || d.Attributes.DNSName != "d-1" {
		t.Fatalf("attributes not merged: %+v", d.Attributes)
	}
}

func TestRequestStateAuthErrorGoesDown(t *testing.T) {
	site := &stubSite{deployErr: &AuthError{Op: "deploy_resource", Err: errors.New("bad creds")}}
	d := newTestDrone(site, &stubBatch{})

	next, err := RequestState{}.Run(context.Background(), d)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if next.Name() != "DownState" {
		t.Fatalf("expected DownState, got %s", next.Name())
	}
}

func TestRequestStateOtherErrorFatal(t *testing.T) {
	site := &stubSite{deployErr: errors.New("boom")}
	d := newTestDrone(site, &stubBatch{})

	_, err := RequestState{}.Run(context.Background(), d)
	if err == nil {
		t.Fatal("expected error")
	}
	var siteErr *SiteError
	if !errors.As(err, &siteErr) {
		t.Fatalf("expected *SiteError, got %T", err)
	}
}

func TestBootingStateSelfLoopsOnAuthError(t *testing.T) {
	site := &stubSite{statusErr: &AuthError{Op: "resource_status", Err: errors.New("expired")}}
	d := newTestDrone(site, &stubBatch{})

	next, err := BootingState{}.Run(context.Background(), d)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if next.Name() != "BootingState" {
		t.Fatalf("expected self-loop, got %s", next.Name())
	}
}

func TestBootingStateTransitionsOnRunning(t *testing.T) {
	site := &stubSite{statusAttrs: Attributes{ResourceStatus: ResourceStatusRunning}}
	d := newTestDrone(site, &stubBatch{})

	next, err := BootingState{}.Run(context.Background(), d)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if next.Name() != "IntegrateState" {
		t.Fatalf("expected IntegrateState, got %s", next.Name())
	}
}

func TestBootingStateUnexpectedStatusFatal(t *testing.T) {
	site := &stubSite{statusAttrs: Attributes{ResourceStatus: ResourceStatusDeleted}}
	d := newTestDrone(site, &stubBatch{})

	_, err := BootingState{}.Run(context.Background(), d)
	if err == nil {
		t.Fatal("expected error for unexpected status")
	}
}

func TestIntegratingStateSelfLoopsOnNotAvailable(t *testing.T) {
	batch := &stubBatch{status: MachineStatusNotAvailable}
	d := newTestDrone(&stubSite{}, batch)

	next, err := IntegratingState{}.Run(context.Background(), d)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if next.Name() != "IntegratingState" {
		t.Fatalf("expected self-loop, got %s", next.Name())
	}
}

func TestIntegratingStateGoesAvailable(t *testing.T) {
	batch := &stubBatch{status: MachineStatusAvailable}
	d := newTestDrone(&stubSite{}, batch)

	next, err := IntegratingState{}.Run(context.Background(), d)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if next.Name() != "AvailableState" {
		t.Fatalf("expected AvailableState, got %s", next.Name())
	}
}

func TestAvailableStateDrainsOnZeroDemand(t *testing.T) {
	batch := &stubBatch{allocation: 0.5, utilisation: 0.3}
	d := newTestDrone(&stubSite{}, batch)
	if err := d.SetDemand(0); err != nil {
		t.Fatal(err)
	}

	next, err := AvailableState{}.Run(context.Background(), d)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if next.Name() != "DrainState" {
		t.Fatalf("expected DrainState, got %s", next.Name())
	}
	if d.Supply != 0 {
		t.Fatalf("expected supply zeroed on drain, got %v", d.Supply)
	}
}

func TestAvailableStateShutsDownOnUnhealthyMachine(t *testing.T) {
	batch := &stubBatch{status: MachineStatusNotAvailable}
	d := newTestDrone(&stubSite{}, batch)

	next, err := AvailableState{}.Run(context.Background(), d)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if next.Name() != "ShutDownState" {
		t.Fatalf("expected ShutDownState, got %s", next.Name())
	}
	if d.Supply != 0 {
		t.Fatalf("expected supply zeroed, got %v", d.Supply)
	}
}

func TestAvailableStateSetsSupplyWhenHealthy(t *testing.T) {
	batch := &stubBatch{status: MachineStatusAvailable, allocation: 0.5, utilisation: 0.3}
	d := newTestDrone(&stubSite{}, batch)

	next, err := AvailableState{}.Run(context.Background(), d)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if next.Name() != "AvailableState" {
		t.Fatalf("expected self-loop, got %s", next.Name())
	}
	if d.Supply != d.MaximumDemand {
		t.Fatalf("expected supply == maximum demand, got %v", d.Supply)
	}
	if d.Allocation != 0.5 || d.Utilisation != 0.3 {
		t.Fatalf("allocation/utilisation not recorded: %v %v", d.Allocation, d.Utilisation)
	}
}

func TestAvailableStateSelfLoopsWithDemand(t *testing.T) {
	d := newTestDrone(&stubSite{}, &stubBatch{})

	next, err := AvailableState{}.Run(context.Background(), d)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if next.Name() != "AvailableState" {
		t.Fatalf("expected self-loop, got %s", next.Name())
	}
}

func TestAvailableStateRespectsCancellation(t *testing.T) {
	d := newTestDrone(&stubSite{}, &stubBatch{})
	d.Pacing.AvailabilityInterval = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := AvailableState{}.Run(ctx, d)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestDrainingStateTreatsAvailableAsSelfLoop(t *testing.T) {
	batch := &stubBatch{status: MachineStatusAvailable}
	d := newTestDrone(&stubSite{}, batch)

	next, err := DrainingState{}.Run(context.Background(), d)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if next.Name() != "DrainingState" {
		t.Fatalf("expected self-loop on Available, got %s", next.Name())
	}
}

func TestDrainingStateDisintegratesOnDrained(t *testing.T) {
	batch := &stubBatch{status: MachineStatusDrained}
	d := newTestDrone(&stubSite{}, batch)

	next, err := DrainingState{}.Run(context.Background(), d)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if next.Name() != "DisintegrateState" {
		t.Fatalf("expected DisintegrateState, got %s", next.Name())
	}
}

func TestShuttingDownStateWaitsOutBooting(t *testing.T) {
	site := &stubSite{statusAttrs: Attributes{ResourceStatus: ResourceStatusBooting}}
	d := newTestDrone(site, &stubBatch{})

	next, err := ShuttingDownState{}.Run(context.Background(), d)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if next.Name() != "ShuttingDownState" {
		t.Fatalf("expected self-loop on Booting race, got %s", next.Name())
	}
}

func TestShuttingDownStateAcceptsDeletedAsStopped(t *testing.T) {
	site := &stubSite{statusAttrs: Attributes{ResourceStatus: ResourceStatusDeleted}}
	d := newTestDrone(site, &stubBatch{})

	next, err := ShuttingDownState{}.Run(context.Background(), d)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if next.Name() != "CleanupState" {
		t.Fatalf("expected CleanupState, got %s", next.Name())
	}
}

func TestCleanupStateTerminates(t *testing.T) {
	d := newTestDrone(&stubSite{}, &stubBatch{})

	next, err := CleanupState{}.Run(context.Background(), d)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if next.Name() != "DownState" {
		t.Fatalf("expected DownState, got %s", next.Name())
	}
}

func TestTeardownState(t *testing.T) {
	cases := []struct {
		current State
		want    string
	}{
		{RequestState{}, "DownState"},
		{BootingState{}, "CleanupState"},
		{AvailableState{}, "DrainState"},
		{ShutDownState{}, "CleanupState"},
		{ShuttingDownState{}, "CleanupState"},
		{CleanupState{}, "CleanupState"},
		{DownState{}, "DownState"},
	}
	for _, tc := range cases {
		d := newTestDrone(&stubSite{}, &stubBatch{})
		d.setSupply(d.MaximumDemand)

		got := TeardownState(tc.current, d)
		if got.Name() != tc.want {
			t.Errorf("TeardownState(%s) = %s, want %s", tc.current.Name(), got.Name(), tc.want)
		}
		if d.Supply != 0 {
			t.Errorf("TeardownState(%s): Supply = %v, want 0", tc.current.Name(), d.Supply)
		}
	}
}

func TestNewUniqueIDFormat(t *testing.T) {
	id, err := NewUniqueID("drone")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	re := regexp.MustCompile(`^drone-[0-9a-f]{10}$`)
	if !re.MatchString(id) {
		t.Fatalf("unexpected id format: %s", id)
	}
}

func TestSetDemandRejectsNegative(t *testing.T) {
	d := newTestDrone(&stubSite{}, &stubBatch{})
	if err := d.SetDemand(-1); err == nil {
		t.Fatal("expected error for negative demand")
	}
}

func TestAttributesMergeIsSticky(t *testing.T) {
	a := Attributes{ResourceID: "r-1", DNSName: "d-1", ResourceStatus: ResourceStatusBooting}
	b := a.Merge(Attributes{ResourceStatus: ResourceStatusRunning})
	if b.ResourceID != "r-1" || b.DNSName != "d-1" {
		t.Fatalf("sticky fields lost: %+v", b)
	}
	if b.ResourceStatus != ResourceStatusRunning {
		t.Fatalf("status not overlaid: %+v", b)
	}
}
