package fleet

import "context"

type Node interface {
	Name() string
	// Terminate releases the node resources. Calling it more than once has no effect.
	Terminate() error
}

// Describer is implemented by nodes that can report details for auditing and listings.
type Describer interface {
	Describe() map[string]string
}

type Provisioner interface {
	Provision(ctx context.Context, nodeName string) (Node, error)
	// Sweep destroys the provider resources of nodes for which keep returns false.
	Sweep(ctx context.Context, keep func(nodeName string) bool) error
	// Shutdown releases the provisioner own resources.
	Shutdown()
	// Wait blocks until every node was terminated and Shutdown was called.
	Wait()
}
