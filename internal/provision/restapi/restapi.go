// Package restapi drives a JSON/HTTP provisioning service exposing
// create/destroy/status for named clusters of virtual nodes.
package restapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/idoudali/ai-hyperscaler-on-workstation-sub009/internal/cluster"
	"github.com/idoudali/ai-hyperscaler-on-workstation-sub009/internal/provision"
)

type Backend struct {
	endpoint string
	token    string
	client   *provision.RetryableHTTPClient
}

func New(endpoint, token string) *Backend {
	return &Backend{
		endpoint: endpoint,
		token:    token,
		client:   provision.NewRetryableHTTPClient(30 * time.Second),
	}
}

func (b *Backend) Name() string { return "restapi" }

type createRequest struct {
	Name  string       `json:"name"`
	Nodes []createNode `json:"nodes"`
}

type createNode struct {
	Name string `json:"name"`
	Role string `json:"role"`
}

type statusResponse struct {
	Name  string `json:"name"`
	Nodes []struct {
		Name  string `json:"name"`
		Power string `json:"power"`
		IP    string `json:"ip"`
	} `json:"nodes"`
}

func (b *Backend) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		rd = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, b.endpoint+path, rd)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+b.token)
	req.Header.Set("Content-Type", "application/json")
	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, bytes.TrimSpace(msg))
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

func (b *Backend) Create(ctx context.Context, spec cluster.Spec) error {
	req := createRequest{Name: spec.Name}
	for _, n := range spec.Nodes {
		req.Nodes = append(req.Nodes, createNode{Name: n.Name, Role: string(n.Role)})
	}
	return b.do(ctx, http.MethodPost, "/v1/clusters", req, nil)
}

func (b *Backend) Destroy(ctx context.Context, name string) error {
	return b.do(ctx, http.MethodDelete, "/v1/clusters/"+name, nil, nil)
}

func (b *Backend) Status(ctx context.Context, name string) (provision.ClusterStatus, error) {
	var sr statusResponse
	if err := b.do(ctx, http.MethodGet, "/v1/clusters/"+name, nil, &sr); err != nil {
		return provision.ClusterStatus{}, err
	}
	status := provision.ClusterStatus{Name: sr.Name}
	for _, n := range sr.Nodes {
		power := provision.PowerUnknown
		switch n.Power {
		case "on", "running":
			power = provision.PowerOn
		case "off", "stopped":
			power = provision.PowerOff
		}
		status.Nodes = append(status.Nodes, provision.NodeStatus{Name: n.Name, Power: power, IP: n.IP})
	}
	return status, nil
}
