package deploy

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/idoudali/ai-hyperscaler-on-workstation-sub009/internal/cluster"
)

// groupFor maps a role tag to its inventory group name.
func groupFor(role cluster.Role) string {
	switch role {
	case cluster.RoleController:
		return "controllers"
	case cluster.RoleCompute:
		return "compute_nodes"
	case cluster.RoleGPU:
		return "gpu_nodes"
	default:
		return string(role) + "_nodes"
	}
}

// GenerateInventory renders an INI inventory for the configuration tool,
// grouping hosts by role tag:
//
//	[controllers]
//	ctl-01 ansible_host=192.168.100.10 ansible_user=admin ansible_port=22
func GenerateInventory(spec cluster.Spec, defaultUser string, defaultPort int) string {
	groups := map[string][]cluster.Node{}
	for _, n := range spec.Nodes {
		g := groupFor(n.Role)
		groups[g] = append(groups[g], n)
	}
	names := make([]string, 0, len(groups))
	for g := range groups {
		names = append(names, g)
	}
	sort.Strings(names)

	var b strings.Builder
	fmt.Fprintf(&b, "# generated for cluster %s\n", spec.Name)
	for _, g := range names {
		fmt.Fprintf(&b, "\n[%s]\n", g)
		for _, n := range groups[g] {
			user := n.SSHUser
			if user == "" {
				user = defaultUser
			}
			port := n.SSHPort
			if port == 0 {
				port = defaultPort
			}
			fmt.Fprintf(&b, "%s ansible_host=%s ansible_user=%s ansible_port=%d\n", n.Name, n.Addr, user, port)
		}
	}
	b.WriteString("\n[all:vars]\n")
	fmt.Fprintf(&b, "cluster_name=%s\n", spec.Name)
	return b.String()
}

// WriteInventory writes the generated inventory to path.
func WriteInventory(spec cluster.Spec, defaultUser string, defaultPort int, path string) error {
	content := GenerateInventory(spec, defaultUser, defaultPort)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return fmt.Errorf("write inventory: %w", err)
	}
	return nil
}
