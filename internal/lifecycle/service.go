package lifecycle

import "context"

// Service represents a lifecycle-managed component: the reconciler loop, the
// balance sweeper, and each request-router transport all implement this so
// the supervisor can start and stop them deterministically.
type Service interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// DescriptorProvider optionally advertises service metadata.
type DescriptorProvider interface {
	Descriptor() Descriptor
}
