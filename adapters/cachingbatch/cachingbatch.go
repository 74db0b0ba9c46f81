// Package cachingbatch wraps a drone.BatchSystemAgent with a freshness
// window, so repeated polls from many drones against the same machine
// within BatchSystem.max_age hit an in-process cache instead of the
// underlying batch system.
package cachingbatch

import (
	"context"
	"time"

	"github.com/r3e-network/dronectl/drone"
	"github.com/r3e-network/dronectl/infrastructure/cache"
)

// Agent decorates a drone.BatchSystemAgent, caching the read-only status
// queries (GetMachineStatus, GetAllocation, GetUtilisation) for maxAge.
// Mutating calls (IntegrateMachine, DrainMachine, DisintegrateMachine)
// always pass through, and invalidate the wrapped machine's cached status
// so a drone doesn't observe its own stale pre-transition state.
type Agent struct {
	next   drone.BatchSystemAgent
	status *cache.TTLCache
	alloc  *cache.TTLCache
	util   *cache.TTLCache
}

// New wraps next with a cache whose entries live for maxAge. A maxAge of
// zero disables caching: every call passes straight through, matching
// BatchSystem.max_age's documented "0 disables caching" behaviour.
func New(next drone.BatchSystemAgent, maxAge time.Duration) drone.BatchSystemAgent {
	if maxAge <= 0 {
		return next
	}
	return &Agent{
		next:   next,
		status: cache.NewTTLCache(maxAge),
		alloc:  cache.NewTTLCache(maxAge),
		util:   cache.NewTTLCache(maxAge),
	}
}

func (a *Agent) IntegrateMachine(ctx context.Context, dnsName string) error {
	err := a.next.IntegrateMachine(ctx, dnsName)
	a.invalidate(dnsName)
	return err
}

func (a *Agent) GetMachineStatus(ctx context.Context, dnsName string) (drone.MachineStatus, error) {
	if v, ok := a.status.Get(ctx, dnsName); ok {
		return v.(drone.MachineStatus), nil
	}
	status, err := a.next.GetMachineStatus(ctx, dnsName)
	if err != nil {
		return status, err
	}
	a.status.Set(ctx, dnsName, status)
	return status, nil
}

func (a *Agent) DrainMachine(ctx context.Context, dnsName string) error {
	err := a.next.DrainMachine(ctx, dnsName)
	a.invalidate(dnsName)
	return err
}

func (a *Agent) DisintegrateMachine(ctx context.Context, dnsName string) error {
	err := a.next.DisintegrateMachine(ctx, dnsName)
	a.invalidate(dnsName)
	return err
}

func (a *Agent) GetAllocation(ctx context.Context, dnsName string) (float64, error) {
	if v, ok := a.alloc.Get(ctx, dnsName); ok {
		return v.(float64), nil
	}
	val, err := a.next.GetAllocation(ctx, dnsName)
	if err != nil {
		return 0, err
	}
	a.alloc.Set(ctx, dnsName, val)
	return val, nil
}

func (a *Agent) GetUtilisation(ctx context.Context, dnsName string) (float64, error) {
	if v, ok := a.util.Get(ctx, dnsName); ok {
		return v.(float64), nil
	}
	val, err := a.next.GetUtilisation(ctx, dnsName)
	if err != nil {
		return 0, err
	}
	a.util.Set(ctx, dnsName, val)
	return val, nil
}

func (a *Agent) invalidate(dnsName string) {
	ctx := context.Background()
	a.status.Delete(ctx, dnsName)
	a.alloc.Delete(ctx, dnsName)
	a.util.Delete(ctx, dnsName)
}
