package cluster

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Role is a typed tag describing what a node does in the cluster.
type Role string

const (
	RoleController Role = "controller"
	RoleCompute    Role = "compute"
	RoleGPU        Role = "gpu"
)

// Node is a single addressable machine within a cluster.
type Node struct {
	Name    string `yaml:"name"`
	Role    Role   `yaml:"role"`
	Addr    string `yaml:"addr"`
	SSHUser string `yaml:"ssh_user"`
	SSHPort int    `yaml:"ssh_port"`
}

// Spec is the declarative description of a cluster under test. It is loaded
// once at workflow start and treated as read-only afterwards.
type Spec struct {
	Name  string `yaml:"name"`
	Nodes []Node `yaml:"nodes"`
}

// LoadSpec reads and validates a cluster description from a YAML file.
func LoadSpec(path string) (Spec, error) {
	var spec Spec
	data, err := os.ReadFile(path)
	if err != nil {
		return spec, fmt.Errorf("read cluster spec: %w", err)
	}
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return spec, fmt.Errorf("parse cluster spec: %w", err)
	}
	if err := spec.Validate(); err != nil {
		return spec, err
	}
	return spec, nil
}

// Validate checks structural invariants: non-empty name, at least one node,
// node names unique within the spec.
func (s Spec) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("cluster spec: name is required")
	}
	if len(s.Nodes) == 0 {
		return fmt.Errorf("cluster spec %s: at least one node is required", s.Name)
	}
	seen := map[string]bool{}
	for _, n := range s.Nodes {
		if n.Name == "" {
			return fmt.Errorf("cluster spec %s: node with empty name", s.Name)
		}
		if seen[n.Name] {
			return fmt.Errorf("cluster spec %s: duplicate node name %s", s.Name, n.Name)
		}
		seen[n.Name] = true
		if n.Role == "" {
			return fmt.Errorf("cluster spec %s: node %s has no role", s.Name, n.Name)
		}
	}
	return nil
}

// SelectNodes returns the nodes carrying the given role tag, in spec order.
func SelectNodes(s Spec, role Role) []Node {
	var out []Node
	for _, n := range s.Nodes {
		if n.Role == role {
			out = append(out, n)
		}
	}
	return out
}

// FindNode returns the node with the given name.
func FindNode(s Spec, name string) (Node, bool) {
	for _, n := range s.Nodes {
		if n.Name == name {
			return n, true
		}
	}
	return Node{}, false
}

// WithAddrs returns a copy of the spec with node addresses replaced by the
// given name->address mapping. Nodes absent from the mapping keep their
// declared address. The input spec is not modified.
func WithAddrs(s Spec, addrs map[string]string) Spec {
	out := Spec{Name: s.Name, Nodes: make([]Node, len(s.Nodes))}
	copy(out.Nodes, s.Nodes)
	for i, n := range out.Nodes {
		if ip, ok := addrs[n.Name]; ok && ip != "" {
			out.Nodes[i].Addr = ip
		}
	}
	return out
}
