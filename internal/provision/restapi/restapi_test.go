package restapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/idoudali/ai-hyperscaler-on-workstation-sub009/internal/cluster"
	"github.com/idoudali/ai-hyperscaler-on-workstation-sub009/internal/provision"
)

func testCluster() cluster.Spec {
	return cluster.Spec{
		Name: "hpc-test",
		Nodes: []cluster.Node{
			{Name: "ctl-01", Role: cluster.RoleController},
			{Name: "cmp-01", Role: cluster.RoleCompute},
		},
	}
}

func TestCreateSendsSpecWithAuth(t *testing.T) {
	var got createRequest
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/clusters" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		auth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	b := New(srv.URL, "tok")
	if err := b.Create(context.Background(), testCluster()); err != nil {
		t.Fatalf("create: %v", err)
	}
	if auth != "Bearer tok" {
		t.Errorf("auth header: %q", auth)
	}
	if got.Name != "hpc-test" || len(got.Nodes) != 2 || got.Nodes[1].Role != "compute" {
		t.Errorf("unexpected payload: %+v", got)
	}
}

func TestDestroy(t *testing.T) {
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.Method + " " + r.URL.Path
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	b := New(srv.URL, "tok")
	if err := b.Destroy(context.Background(), "hpc-test"); err != nil {
		t.Fatalf("destroy: %v", err)
	}
	if path != "DELETE /v1/clusters/hpc-test" {
		t.Errorf("unexpected request: %s", path)
	}
}

func TestStatusMapsPowerStrings(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"name": "hpc-test",
			"nodes": [
				{"name": "ctl-01", "power": "running", "ip": "10.0.0.1"},
				{"name": "cmp-01", "power": "stopped", "ip": ""},
				{"name": "cmp-02", "power": "booting", "ip": ""}
			]
		}`))
	}))
	defer srv.Close()

	b := New(srv.URL, "tok")
	status, err := b.Status(context.Background(), "hpc-test")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if len(status.Nodes) != 3 {
		t.Fatalf("expected 3 nodes, got %d", len(status.Nodes))
	}
	if status.Nodes[0].Power != provision.PowerOn || status.Nodes[0].IP != "10.0.0.1" {
		t.Errorf("running node mapped wrong: %+v", status.Nodes[0])
	}
	if status.Nodes[1].Power != provision.PowerOff {
		t.Errorf("stopped node mapped wrong: %+v", status.Nodes[1])
	}
	if status.Nodes[2].Power != provision.PowerUnknown {
		t.Errorf("unknown power string must map to unknown: %+v", status.Nodes[2])
	}
	if status.AllPoweredOn() {
		t.Errorf("AllPoweredOn must be false")
	}
}

func TestServerErrorIsRetriedThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	b := New(srv.URL, "tok")
	if err := b.Create(context.Background(), testCluster()); err != nil {
		t.Fatalf("create: %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("expected 2 attempts, got %d", calls.Load())
	}
}

func TestClientErrorIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "no such cluster", http.StatusNotFound)
	}))
	defer srv.Close()

	b := New(srv.URL, "tok")
	_, err := b.Status(context.Background(), "nope")
	if err == nil {
		t.Fatalf("expected error")
	}
	if calls.Load() != 1 {
		t.Errorf("404 must not be retried, got %d attempts", calls.Load())
	}
}
