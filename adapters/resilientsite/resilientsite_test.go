package resilientsite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/r3e-network/dronectl/drone"
	"github.com/r3e-network/dronectl/infrastructure/resilience"
)

type failingSite struct {
	calls int
	err   error
}

func (f *failingSite) DeployResource(ctx context.Context, uniqueID string) (drone.Attributes, error) {
	f.calls++
	return drone.Attributes{}, f.err
}
func (f *failingSite) ResourceStatus(ctx context.Context, attrs drone.Attributes) (drone.Attributes, error) {
	f.calls++
	return drone.Attributes{}, f.err
}
func (f *failingSite) StopResource(ctx context.Context, attrs drone.Attributes) error {
	f.calls++
	return f.err
}
func (f *failingSite) TerminateResource(ctx context.Context, attrs drone.Attributes) error {
	f.calls++
	return f.err
}

func TestCircuitOpensAfterMaxFailures(t *testing.T) {
	inner := &failingSite{err: errors.New("boom")}
	agent := New(inner, resilience.Config{MaxFailures: 2, Timeout: time.Minute, HalfOpenMax: 1})

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if _, err := agent.DeployResource(ctx, "d-1"); err == nil {
			t.Fatalf("expected failure on call %d", i)
		}
	}

	callsBeforeOpen := inner.calls
	_, err := agent.DeployResource(ctx, "d-1")
	if err == nil {
		t.Fatal("expected circuit-open error")
	}
	var siteErr *drone.SiteError
	if !errors.As(err, &siteErr) {
		t.Fatalf("expected *drone.SiteError, got %T", err)
	}
	if inner.calls != callsBeforeOpen {
		t.Fatalf("expected breaker to short-circuit the underlying call, got %d calls", inner.calls)
	}
}
