// Package mockagents provides in-memory SiteAgent and BatchSystemAgent
// implementations for local demos and integration tests, standing in for a
// real cloud provider and workload scheduler.
package mockagents

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/r3e-network/dronectl/drone"
)

// SiteAgent simulates a cloud provider: DeployResource starts a resource in
// Booting, and a background clock advances it to Running after bootDelay.
type SiteAgent struct {
	mu        sync.Mutex
	resources map[string]*simResource
	bootDelay time.Duration
}

type simResource struct {
	attrs    drone.Attributes
	deployed time.Time
	stopped  bool
}

// NewSiteAgent returns a SiteAgent whose resources take bootDelay to reach
// Running.
func NewSiteAgent(bootDelay time.Duration) *SiteAgent {
	return &SiteAgent{resources: make(map[string]*simResource), bootDelay: bootDelay}
}

func (a *SiteAgent) DeployResource(ctx context.Context, uniqueID string) (drone.Attributes, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	resourceID := "res-" + uniqueID
	if r, ok := a.resources[resourceID]; ok {
		return r.attrs, nil
	}
	attrs := drone.Attributes{
		ResourceID:     resourceID,
		DNSName:        fmt.Sprintf("%s.mock.internal", uniqueID),
		ResourceStatus: drone.ResourceStatusBooting,
	}
	a.resources[resourceID] = &simResource{attrs: attrs, deployed: time.Now()}
	return attrs, nil
}

func (a *SiteAgent) ResourceStatus(ctx context.Context, attrs drone.Attributes) (drone.Attributes, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	r, ok := a.resources[attrs.ResourceID]
	if !ok {
		return drone.Attributes{ResourceStatus: drone.ResourceStatusDeleted}, nil
	}
	if r.stopped {
		r.attrs.ResourceStatus = drone.ResourceStatusStopped
	} else if time.Since(r.deployed) >= a.bootDelay {
		r.attrs.ResourceStatus = drone.ResourceStatusRunning
	}
	return r.attrs, nil
}

func (a *SiteAgent) StopResource(ctx context.Context, attrs drone.Attributes) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if r, ok := a.resources[attrs.ResourceID]; ok {
		r.stopped = true
	}
	return nil
}

func (a *SiteAgent) TerminateResource(ctx context.Context, attrs drone.Attributes) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.resources, attrs.ResourceID)
	return nil
}

// BatchSystemAgent simulates a scheduler: a machine becomes Available
// integrationDelay after IntegrateMachine is called, and stays so until
// drained or disintegrated.
type BatchSystemAgent struct {
	mu                sync.Mutex
	machines          map[string]*simMachine
	integrationDelay  time.Duration
}

type simMachine struct {
	integratedAt time.Time
	status       drone.MachineStatus
}

// NewBatchSystemAgent returns a BatchSystemAgent whose machines take
// integrationDelay to become Available after integration.
func NewBatchSystemAgent(integrationDelay time.Duration) *BatchSystemAgent {
	return &BatchSystemAgent{machines: make(map[string]*simMachine), integrationDelay: integrationDelay}
}

func (b *BatchSystemAgent) IntegrateMachine(ctx context.Context, dnsName string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.machines[dnsName]; ok {
		return nil
	}
	b.machines[dnsName] = &simMachine{integratedAt: time.Now(), status: drone.MachineStatusNotAvailable}
	return nil
}

func (b *BatchSystemAgent) GetMachineStatus(ctx context.Context, dnsName string) (drone.MachineStatus, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	m, ok := b.machines[dnsName]
	if !ok {
		return drone.MachineStatusNotAvailable, nil
	}
	if m.status == drone.MachineStatusNotAvailable && time.Since(m.integratedAt) >= b.integrationDelay {
		m.status = drone.MachineStatusAvailable
	}
	return m.status, nil
}

func (b *BatchSystemAgent) DrainMachine(ctx context.Context, dnsName string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if m, ok := b.machines[dnsName]; ok {
		m.status = drone.MachineStatusDrained
	}
	return nil
}

func (b *BatchSystemAgent) DisintegrateMachine(ctx context.Context, dnsName string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.machines, dnsName)
	return nil
}

func (b *BatchSystemAgent) GetAllocation(ctx context.Context, dnsName string) (float64, error) {
	return 1.0, nil
}

func (b *BatchSystemAgent) GetUtilisation(ctx context.Context, dnsName string) (float64, error) {
	return 1.0, nil
}

var (
	_ drone.SiteAgent        = (*SiteAgent)(nil)
	_ drone.BatchSystemAgent = (*BatchSystemAgent)(nil)
)
