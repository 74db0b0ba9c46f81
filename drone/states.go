package drone

import (
	"context"
	"fmt"
	"time"
)

// RequestState asks the site agent to create the resource. AuthError or
// TimeoutError here means the site never accepted the request: there is
// nothing to tear down, so the drone goes straight to Down.
type RequestState struct{}

func (RequestState) Name() string { return "RequestState" }

func (s RequestState) Run(ctx context.Context, d *Drone) (State, error) {
	start := time.Now()
	attrs, err := d.SiteAgent.DeployResource(ctx, d.UniqueID)
	d.Metrics.ObserveAgentCall("site", "deploy_resource", time.Since(start))
	if err != nil {
		if isRetryable(err) {
			return DownState{}, nil
		}
		return nil, &SiteError{Op: "deploy_resource", Err: err}
	}
	d.Attributes = d.Attributes.Merge(attrs)
	return BootingState{}, nil
}

// BootingState polls the site agent until the resource reports Running.
// AuthError/TimeoutError self-loop (the only state that does): a
// transient credentials or timeout hiccup while booting is worth retrying,
// not worth tearing the whole drone down for.
type BootingState struct{}

func (BootingState) Name() string { return "BootingState" }

func (s BootingState) Run(ctx context.Context, d *Drone) (State, error) {
	if err := sleep(ctx, d.Pacing.StepPacing); err != nil {
		return nil, err
	}
	start := time.Now()
	attrs, err := d.SiteAgent.ResourceStatus(ctx, d.Attributes)
	d.Metrics.ObserveAgentCall("site", "resource_status", time.Since(start))
	if err != nil {
		if isRetryable(err) {
			return s, nil
		}
		return nil, &SiteError{Op: "resource_status", Err: err}
	}
	d.Attributes = d.Attributes.Merge(attrs)
	switch d.Attributes.ResourceStatus {
	case ResourceStatusBooting:
		return s, nil
	case ResourceStatusRunning:
		return IntegrateState{}, nil
	default:
		return nil, fmt.Errorf("booting: unexpected resource status %q", d.Attributes.ResourceStatus)
	}
}

// IntegrateState registers the now-running machine with the batch system.
type IntegrateState struct{}

func (IntegrateState) Name() string { return "IntegrateState" }

func (s IntegrateState) Run(ctx context.Context, d *Drone) (State, error) {
	start := time.Now()
	err := d.BatchSystemAgent.IntegrateMachine(ctx, d.Attributes.DNSName)
	d.Metrics.ObserveAgentCall("batch", "integrate_machine", time.Since(start))
	if err != nil {
		return nil, &BatchError{Op: "integrate_machine", Err: err}
	}
	return IntegratingState{}, nil
}

// IntegratingState waits for the batch system to mark the machine available.
type IntegratingState struct{}

func (IntegratingState) Name() string { return "IntegratingState" }

func (s IntegratingState) Run(ctx context.Context, d *Drone) (State, error) {
	if err := sleep(ctx, d.Pacing.StepPacing); err != nil {
		return nil, err
	}
	start := time.Now()
	status, err := d.BatchSystemAgent.GetMachineStatus(ctx, d.Attributes.DNSName)
	d.Metrics.ObserveAgentCall("batch", "get_machine_status", time.Since(start))
	if err != nil {
		return nil, &BatchError{Op: "get_machine_status", Err: err}
	}
	switch status {
	case MachineStatusNotAvailable:
		return s, nil
	case MachineStatusAvailable:
		return AvailableState{}, nil
	default:
		return nil, fmt.Errorf("integrating: unexpected machine status %q", status)
	}
}

// AvailableState is the drone's steady state. The demand check always
// precedes the machine-health check: an upstream demand drop must drain
// cleanly even when the node itself is unhealthy. The interval sleep is
// this state's suspension point.
type AvailableState struct{}

func (AvailableState) Name() string { return "AvailableState" }

func (s AvailableState) Run(ctx context.Context, d *Drone) (State, error) {
	if err := sleep(ctx, d.Pacing.AvailabilityInterval); err != nil {
		return nil, err
	}
	start := time.Now()
	status, err := d.BatchSystemAgent.GetMachineStatus(ctx, d.Attributes.DNSName)
	d.Metrics.ObserveAgentCall("batch", "get_machine_status", time.Since(start))
	if err != nil {
		return nil, &BatchError{Op: "get_machine_status", Err: err}
	}

	if d.Demand() <= 0 {
		d.setSupply(0)
		return DrainState{}, nil
	}
	if status == MachineStatusNotAvailable {
		d.setSupply(0)
		return ShutDownState{}, nil
	}

	start = time.Now()
	allocation, err := d.BatchSystemAgent.GetAllocation(ctx, d.Attributes.DNSName)
	d.Metrics.ObserveAgentCall("batch", "get_allocation", time.Since(start))
	if err != nil {
		return nil, &BatchError{Op: "get_allocation", Err: err}
	}
	start = time.Now()
	utilisation, err := d.BatchSystemAgent.GetUtilisation(ctx, d.Attributes.DNSName)
	d.Metrics.ObserveAgentCall("batch", "get_utilisation", time.Since(start))
	if err != nil {
		return nil, &BatchError{Op: "get_utilisation", Err: err}
	}
	d.mu.Lock()
	d.Allocation = allocation
	d.Utilisation = utilisation
	d.mu.Unlock()
	d.setSupply(d.MaximumDemand)

	return s, nil
}

// DrainState asks the batch system to stop scheduling new work on the
// machine. No status merge: draining is fire-and-forget, DrainingState polls
// for completion.
type DrainState struct{}

func (DrainState) Name() string { return "DrainState" }

func (s DrainState) Run(ctx context.Context, d *Drone) (State, error) {
	start := time.Now()
	err := d.BatchSystemAgent.DrainMachine(ctx, d.Attributes.DNSName)
	d.Metrics.ObserveAgentCall("batch", "drain_machine", time.Since(start))
	if err != nil {
		return nil, &BatchError{Op: "drain_machine", Err: err}
	}
	return DrainingState{}, nil
}

// DrainingState waits for running jobs to finish. Available is a deliberate
// self-loop here, not a bug: a machine can flap back to Available under the
// batch system's own scheduling before jobs actually finish draining.
type DrainingState struct{}

func (DrainingState) Name() string { return "DrainingState" }

func (s DrainingState) Run(ctx context.Context, d *Drone) (State, error) {
	if err := sleep(ctx, d.Pacing.StepPacing); err != nil {
		return nil, err
	}
	start := time.Now()
	status, err := d.BatchSystemAgent.GetMachineStatus(ctx, d.Attributes.DNSName)
	d.Metrics.ObserveAgentCall("batch", "get_machine_status", time.Since(start))
	if err != nil {
		return nil, &BatchError{Op: "get_machine_status", Err: err}
	}
	switch status {
	case MachineStatusDraining, MachineStatusAvailable:
		return s, nil
	case MachineStatusDrained:
		return DisintegrateState{}, nil
	default:
		return nil, fmt.Errorf("draining: unexpected machine status %q", status)
	}
}

// DisintegrateState performs no I/O of its own; it exists as a named point
// in the table between the machine leaving the batch system's rotation and
// the site agent being asked to stop the resource.
type DisintegrateState struct{}

func (DisintegrateState) Name() string { return "DisintegrateState" }

func (s DisintegrateState) Run(ctx context.Context, d *Drone) (State, error) {
	return ShutDownState{}, nil
}

// ShutDownState requests graceful shutdown from the site agent.
type ShutDownState struct{}

func (ShutDownState) Name() string { return "ShutDownState" }

func (s ShutDownState) Run(ctx context.Context, d *Drone) (State, error) {
	start := time.Now()
	err := d.SiteAgent.StopResource(ctx, d.Attributes)
	d.Metrics.ObserveAgentCall("site", "stop_resource", time.Since(start))
	if err != nil {
		return nil, &SiteError{Op: "stop_resource", Err: err}
	}
	return ShuttingDownState{}, nil
}

// ShuttingDownState polls for the resource actually stopping. Booting here
// means the site agent raced a restart in under us; the drone keeps
// waiting for Stopped rather than treating it as fatal. Deleted
// is accepted as equivalent to Stopped: some site agents skip the
// intermediate Stopped status entirely when terminate races shutdown.
type ShuttingDownState struct{}

func (ShuttingDownState) Name() string { return "ShuttingDownState" }

func (s ShuttingDownState) Run(ctx context.Context, d *Drone) (State, error) {
	if err := sleep(ctx, d.Pacing.StepPacing); err != nil {
		return nil, err
	}
	start := time.Now()
	attrs, err := d.SiteAgent.ResourceStatus(ctx, d.Attributes)
	d.Metrics.ObserveAgentCall("site", "resource_status", time.Since(start))
	if err != nil {
		return nil, &SiteError{Op: "resource_status", Err: err}
	}
	d.Attributes = d.Attributes.Merge(attrs)
	switch d.Attributes.ResourceStatus {
	case ResourceStatusRunning:
		return s, nil
	case ResourceStatusBooting:
		return s, nil
	case ResourceStatusStopped, ResourceStatusDeleted:
		return CleanupState{}, nil
	default:
		return nil, fmt.Errorf("shutting down: unexpected resource status %q", d.Attributes.ResourceStatus)
	}
}

// CleanupState asks the site agent to destroy the resource permanently.
type CleanupState struct{}

func (CleanupState) Name() string { return "CleanupState" }

func (s CleanupState) Run(ctx context.Context, d *Drone) (State, error) {
	start := time.Now()
	err := d.SiteAgent.TerminateResource(ctx, d.Attributes)
	d.Metrics.ObserveAgentCall("site", "terminate_resource", time.Since(start))
	if err != nil {
		return nil, &SiteError{Op: "terminate_resource", Err: err}
	}
	return DownState{}, nil
}

// DownState is terminal: the orchestrator removes the drone once it
// observes this state.
type DownState struct{}

func (DownState) Name() string { return "DownState" }

func (s DownState) Run(ctx context.Context, d *Drone) (State, error) {
	return s, nil
}
