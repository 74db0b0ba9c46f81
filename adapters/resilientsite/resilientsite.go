// Package resilientsite decorates a drone.SiteAgent with a circuit breaker,
// so a provider outage trips open after a run of failures instead of every
// drone hammering it call after call.
package resilientsite

import (
	"context"
	"errors"

	"github.com/r3e-network/dronectl/drone"
	"github.com/r3e-network/dronectl/infrastructure/resilience"
)

// Agent wraps next, tripping breaker open after Config.MaxFailures
// consecutive failures and rejecting calls with *drone.SiteError until
// Config.Timeout has passed.
type Agent struct {
	next    drone.SiteAgent
	breaker *resilience.CircuitBreaker
}

// New wraps next with a circuit breaker configured by cfg.
func New(next drone.SiteAgent, cfg resilience.Config) *Agent {
	return &Agent{next: next, breaker: resilience.New(cfg)}
}

func tripToSiteError(op string, err error) error {
	if errors.Is(err, resilience.ErrCircuitOpen) || errors.Is(err, resilience.ErrTooManyRequests) {
		return &drone.SiteError{Op: op, Err: err}
	}
	return err
}

func (a *Agent) DeployResource(ctx context.Context, uniqueID string) (drone.Attributes, error) {
	var attrs drone.Attributes
	err := a.breaker.Execute(ctx, func() error {
		var innerErr error
		attrs, innerErr = a.next.DeployResource(ctx, uniqueID)
		return innerErr
	})
	return attrs, tripToSiteError("deploy_resource", err)
}

func (a *Agent) ResourceStatus(ctx context.Context, attrs drone.Attributes) (drone.Attributes, error) {
	var result drone.Attributes
	err := a.breaker.Execute(ctx, func() error {
		var innerErr error
		result, innerErr = a.next.ResourceStatus(ctx, attrs)
		return innerErr
	})
	return result, tripToSiteError("resource_status", err)
}

func (a *Agent) StopResource(ctx context.Context, attrs drone.Attributes) error {
	err := a.breaker.Execute(ctx, func() error {
		return a.next.StopResource(ctx, attrs)
	})
	return tripToSiteError("stop_resource", err)
}

func (a *Agent) TerminateResource(ctx context.Context, attrs drone.Attributes) error {
	err := a.breaker.Execute(ctx, func() error {
		return a.next.TerminateResource(ctx, attrs)
	})
	return tripToSiteError("terminate_resource", err)
}

var _ drone.SiteAgent = (*Agent)(nil)
