package drone

import "context"

// SiteAgent is the contract to a cloud/VM provider. Every call may fail with
// *AuthError or *TimeoutError; any other failure must be surfaced as
// *SiteError. All operations are idempotent keyed by the resource identity
// passed in.
type SiteAgent interface {
	// DeployResource creates the resource and returns its initial
	// attributes, including ResourceID and DNSName. Idempotent keyed by
	// uniqueID: calling it twice for the same drone must not create two
	// resources.
	DeployResource(ctx context.Context, uniqueID string) (Attributes, error)

	// ResourceStatus returns refreshed attributes for the resource
	// described by attrs, with ResourceStatus always set.
	ResourceStatus(ctx context.Context, attrs Attributes) (Attributes, error)

	// StopResource requests graceful shutdown. Idempotent.
	StopResource(ctx context.Context, attrs Attributes) error

	// TerminateResource destroys the resource. Idempotent; may return
	// before the resource is fully gone — callers observe the final
	// Deleted status via ResourceStatus.
	TerminateResource(ctx context.Context, attrs Attributes) error
}
