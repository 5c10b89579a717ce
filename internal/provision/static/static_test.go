package static

import (
	"context"
	"testing"

	"github.com/idoudali/ai-hyperscaler-on-workstation-sub009/internal/cluster"
)

func TestCreateRequiresAddresses(t *testing.T) {
	b := New()
	err := b.Create(context.Background(), cluster.Spec{
		Name:  "c",
		Nodes: []cluster.Node{{Name: "ctl-01", Role: cluster.RoleController}},
	})
	if err == nil {
		t.Fatalf("expected error for node without address")
	}
}

func TestStatusReportsDeclaredAddresses(t *testing.T) {
	b := New()
	spec := cluster.Spec{
		Name: "c",
		Nodes: []cluster.Node{
			{Name: "ctl-01", Role: cluster.RoleController, Addr: "10.0.0.1"},
			{Name: "cmp-01", Role: cluster.RoleCompute, Addr: "10.0.0.2"},
		},
	}
	if err := b.Create(context.Background(), spec); err != nil {
		t.Fatalf("create: %v", err)
	}
	status, err := b.Status(context.Background(), "c")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !status.AllPoweredOn() {
		t.Errorf("attached hosts report powered on")
	}
	addrs := status.Addrs()
	if addrs["cmp-01"] != "10.0.0.2" {
		t.Errorf("unexpected addrs: %v", addrs)
	}
}

func TestDestroyForgetsCluster(t *testing.T) {
	b := New()
	spec := cluster.Spec{Name: "c", Nodes: []cluster.Node{{Name: "n", Role: cluster.RoleCompute, Addr: "10.0.0.1"}}}
	if err := b.Create(context.Background(), spec); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := b.Destroy(context.Background(), "c"); err != nil {
		t.Fatalf("destroy: %v", err)
	}
	status, err := b.Status(context.Background(), "c")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if len(status.Nodes) != 0 {
		t.Errorf("destroyed cluster still reports nodes: %+v", status.Nodes)
	}
	if status.AllPoweredOn() {
		t.Errorf("empty cluster must not report all powered on")
	}
}
