// Package virtcmd provisions clusters through a local hypervisor CLI
// (virsh-compatible). Domains are expected to be pre-defined as
// <cluster>-<node>; create and destroy map to domain power operations.
package virtcmd

import (
	"bufio"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/idoudali/ai-hyperscaler-on-workstation-sub009/internal/cluster"
	"github.com/idoudali/ai-hyperscaler-on-workstation-sub009/internal/provision"
)

type Backend struct {
	binary string
	uri    string
	// nodes per cluster name, remembered from Create so Status and
	// Destroy know which domains belong to the cluster.
	domains map[string][]string
}

func New(binary, uri string) *Backend {
	return &Backend{binary: binary, uri: uri, domains: map[string][]string{}}
}

func (b *Backend) Name() string { return "virtcmd" }

func (b *Backend) run(ctx context.Context, args ...string) (string, error) {
	full := append([]string{"-c", b.uri}, args...)
	cmd := exec.CommandContext(ctx, b.binary, full...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return string(out), fmt.Errorf("%s %s: %w: %s", b.binary, strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	return string(out), nil
}

func domainName(clusterName, nodeName string) string {
	return clusterName + "-" + nodeName
}

func (b *Backend) Create(ctx context.Context, spec cluster.Spec) error {
	var names []string
	for _, n := range spec.Nodes {
		dom := domainName(spec.Name, n.Name)
		names = append(names, n.Name)
		if _, err := b.run(ctx, "start", dom); err != nil {
			// Already-running domains are fine; anything else is a
			// provisioning failure.
			if !strings.Contains(err.Error(), "already active") {
				return fmt.Errorf("start domain %s: %w", dom, err)
			}
			log.Debug().Str("domain", dom).Msg("domain already active")
		}
	}
	b.domains[spec.Name] = names
	return nil
}

func (b *Backend) Destroy(ctx context.Context, name string) error {
	nodes, ok := b.domains[name]
	if !ok {
		nodes = b.discoverDomains(ctx, name)
	}
	for _, n := range nodes {
		dom := domainName(name, n)
		if _, err := b.run(ctx, "destroy", dom); err != nil {
			if strings.Contains(err.Error(), "not running") ||
				strings.Contains(err.Error(), "domain is not running") {
				continue
			}
			return fmt.Errorf("destroy domain %s: %w", dom, err)
		}
	}
	delete(b.domains, name)
	return nil
}

func (b *Backend) Status(ctx context.Context, name string) (provision.ClusterStatus, error) {
	nodes, ok := b.domains[name]
	if !ok {
		nodes = b.discoverDomains(ctx, name)
	}
	status := provision.ClusterStatus{Name: name}
	for _, n := range nodes {
		dom := domainName(name, n)
		ns := provision.NodeStatus{Name: n, Power: provision.PowerUnknown}
		if out, err := b.run(ctx, "domstate", dom); err == nil {
			switch strings.TrimSpace(out) {
			case "running":
				ns.Power = provision.PowerOn
			case "shut off", "shutoff":
				ns.Power = provision.PowerOff
			}
		}
		if ns.Power == provision.PowerOn {
			if out, err := b.run(ctx, "domifaddr", dom); err == nil {
				ns.IP = parseIfAddr(out)
			}
		}
		status.Nodes = append(status.Nodes, ns)
	}
	return status, nil
}

// discoverDomains lists all domains and keeps those prefixed by the cluster
// name, used when Status or Destroy runs in a fresh process that never
// called Create.
func (b *Backend) discoverDomains(ctx context.Context, name string) []string {
	out, err := b.run(ctx, "list", "--all", "--name")
	if err != nil {
		return nil
	}
	var nodes []string
	prefix := name + "-"
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		dom := strings.TrimSpace(sc.Text())
		if strings.HasPrefix(dom, prefix) {
			nodes = append(nodes, strings.TrimPrefix(dom, prefix))
		}
	}
	return nodes
}

// parseIfAddr extracts the first IPv4 address from `domifaddr` output:
//
//	Name  MAC address          Protocol     Address
//	-------------------------------------------------
//	vnet0 52:54:00:xx:xx:xx    ipv4         192.168.122.15/24
func parseIfAddr(out string) string {
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) >= 4 && fields[2] == "ipv4" {
			addr := fields[3]
			if i := strings.IndexByte(addr, '/'); i > 0 {
				addr = addr[:i]
			}
			return addr
		}
	}
	return ""
}
