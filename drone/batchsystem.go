package drone

import "context"

// BatchSystemAgent is the contract to a workload scheduler (Slurm/HTCondor
// style). Failures are surfaced as *BatchError or, for shell-out adapters,
// *ExecutionFailure.
type BatchSystemAgent interface {
	// IntegrateMachine registers dnsName as a node in the batch system.
	IntegrateMachine(ctx context.Context, dnsName string) error

	// GetMachineStatus returns the node's current integration status.
	GetMachineStatus(ctx context.Context, dnsName string) (MachineStatus, error)

	// DrainMachine requests the batch system stop scheduling new work on
	// dnsName while letting running jobs finish.
	DrainMachine(ctx context.Context, dnsName string) error

	// DisintegrateMachine removes dnsName from the batch system's node
	// list. Not called by the state machine itself (Disintegrate performs
	// no I/O, see states.go) but part of the adapter contract.
	DisintegrateMachine(ctx context.Context, dnsName string) error

	// GetAllocation returns the most recent allocation ratio in [0, 1].
	GetAllocation(ctx context.Context, dnsName string) (float64, error)

	// GetUtilisation returns the most recent utilisation ratio in [0, 1].
	GetUtilisation(ctx context.Context, dnsName string) (float64, error)
}
