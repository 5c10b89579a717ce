// Package provision defines the narrow interface to the external cluster
// provisioning backend. Only power state and address information is
// consumed; everything else about the backend is a black box.
package provision

import (
	"context"

	"github.com/idoudali/ai-hyperscaler-on-workstation-sub009/internal/cluster"
)

// PowerState is the observed power state of one virtual node.
type PowerState string

const (
	PowerOn      PowerState = "on"
	PowerOff     PowerState = "off"
	PowerUnknown PowerState = "unknown"
)

// NodeStatus is the backend's view of one node.
type NodeStatus struct {
	Name  string
	Power PowerState
	IP    string
}

// ClusterStatus is the backend's view of a whole cluster.
type ClusterStatus struct {
	Name  string
	Nodes []NodeStatus
}

// AllPoweredOn reports whether every node in the status is powered on.
func (s ClusterStatus) AllPoweredOn() bool {
	if len(s.Nodes) == 0 {
		return false
	}
	for _, n := range s.Nodes {
		if n.Power != PowerOn {
			return false
		}
	}
	return true
}

// Addrs returns the name->IP mapping for nodes with a known address.
func (s ClusterStatus) Addrs() map[string]string {
	out := map[string]string{}
	for _, n := range s.Nodes {
		if n.IP != "" {
			out[n.Name] = n.IP
		}
	}
	return out
}

// Backend creates, destroys and reports on clusters of virtual nodes.
type Backend interface {
	Name() string
	Create(ctx context.Context, spec cluster.Spec) error
	Destroy(ctx context.Context, name string) error
	Status(ctx context.Context, name string) (ClusterStatus, error)
}
