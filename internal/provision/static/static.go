// Package static attaches to pre-provisioned hosts: the cluster description
// already carries reachable addresses, so create and destroy are no-ops.
package static

import (
	"context"
	"fmt"
	"sync"

	"github.com/idoudali/ai-hyperscaler-on-workstation-sub009/internal/cluster"
	"github.com/idoudali/ai-hyperscaler-on-workstation-sub009/internal/provision"
)

type Backend struct {
	mu    sync.Mutex
	known map[string]cluster.Spec
}

func New() *Backend {
	return &Backend{known: map[string]cluster.Spec{}}
}

func (b *Backend) Name() string { return "static" }

func (b *Backend) Create(ctx context.Context, spec cluster.Spec) error {
	_ = ctx
	for _, n := range spec.Nodes {
		if n.Addr == "" {
			return fmt.Errorf("static backend: node %s has no address", n.Name)
		}
	}
	b.mu.Lock()
	b.known[spec.Name] = spec
	b.mu.Unlock()
	return nil
}

func (b *Backend) Destroy(ctx context.Context, name string) error {
	_ = ctx
	b.mu.Lock()
	delete(b.known, name)
	b.mu.Unlock()
	return nil
}

func (b *Backend) Status(ctx context.Context, name string) (provision.ClusterStatus, error) {
	_ = ctx
	b.mu.Lock()
	spec, ok := b.known[name]
	b.mu.Unlock()
	status := provision.ClusterStatus{Name: name}
	if !ok {
		return status, nil
	}
	for _, n := range spec.Nodes {
		status.Nodes = append(status.Nodes, provision.NodeStatus{
			Name:  n.Name,
			Power: provision.PowerOn,
			IP:    n.Addr,
		})
	}
	return status, nil
}
