package phases

import (
	"context"
	"fmt"
	"sync"

	"github.com/williamhogman/sparkmesh/internal/cluster"
	"github.com/williamhogman/sparkmesh/internal/types"
)

// Target is the node a phase executor acts on, with the cluster it belongs to
type Target struct {
	Node    types.Node
	Cluster *cluster.ClusterConfig
}

// Executor provisions one phase on one node. Executors must be idempotent:
// running one against an already converged node changes nothing.
type Executor interface {
	Execute(ctx context.Context, target Target) error
}

// ExecutorFunc adapts a function to Executor
type ExecutorFunc func(ctx context.Context, target Target) error

func (f ExecutorFunc) Execute(ctx context.Context, target Target) error {
	return f(ctx, target)
}

// Registry maps phases to their executors. It is built explicitly by the
// entry point and passed to the orchestrator.
type Registry struct {
	mu        sync.RWMutex
	executors map[types.Phase]Executor
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{executors: make(map[types.Phase]Executor)}
}

// Register binds an executor to a phase, replacing any previous binding
func (r *Registry) Register(phase types.Phase, executor Executor) *Registry {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executors[phase] = executor
	return r
}

// Lookup returns the executor for a phase
func (r *Registry) Lookup(phase types.Phase) (Executor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.executors[phase]
	return e, ok
}

// Require returns an error naming the first phase with no executor
func (r *Registry) Require(phases ...types.Phase) error {
	for _, p := range phases {
		if _, ok := r.Lookup(p); !ok {
			return fmt.Errorf("no executor registered for phase %s", p)
		}
	}
	return nil
}
