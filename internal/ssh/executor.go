package ssh

import (
	"context"
	"fmt"
	"time"

	xssh "golang.org/x/crypto/ssh"

	"github.com/idoudali/ai-hyperscaler-on-workstation-sub009/internal/cluster"
)

// Executor runs commands and pushes files on cluster nodes over SSH. It
// carries the credential and host-verification material resolved once at
// startup so per-node clients can be built without touching config again.
type Executor struct {
	Signer      xssh.Signer
	KnownHosts  xssh.HostKeyCallback
	DefaultUser string
	DefaultPort int
	Timeout     time.Duration
	Retries     int
	Backoff     time.Duration
}

// NewExecutor loads the private key and known_hosts callback from the given
// paths and returns an executor usable for every node in the inventory.
func NewExecutor(keyPath, knownHostsPath, defaultUser string, defaultPort int) (*Executor, error) {
	signer, err := LoadPrivateKeySigner(keyPath)
	if err != nil {
		return nil, err
	}
	kh, err := LoadKnownHostsCallback(knownHostsPath)
	if err != nil {
		return nil, err
	}
	return &Executor{
		Signer:      signer,
		KnownHosts:  kh,
		DefaultUser: defaultUser,
		DefaultPort: defaultPort,
		Timeout:     15 * time.Second,
		Backoff:     500 * time.Millisecond,
	}, nil
}

func (e *Executor) clientFor(node cluster.Node) *Client {
	user := node.SSHUser
	if user == "" {
		user = e.DefaultUser
	}
	port := node.SSHPort
	if port == 0 {
		port = e.DefaultPort
	}
	return &Client{
		Addr:       fmt.Sprintf("%s:%d", node.Addr, port),
		User:       user,
		Signer:     e.Signer,
		KnownHosts: e.KnownHosts,
		Timeout:    e.Timeout,
		Retries:    e.Retries,
		Backoff:    e.Backoff,
	}
}

// Run executes one command on a node. A non-zero remote exit is reported in
// the Result, not as an error.
func (e *Executor) Run(ctx context.Context, node cluster.Node, command string) (Result, error) {
	return e.clientFor(node).RunCommand(ctx, command)
}

// PushDir uploads a directory tree to a node.
func (e *Executor) PushDir(ctx context.Context, node cluster.Node, localDir, remoteDir string) error {
	cli, err := Dial(ctx, e.clientFor(node))
	if err != nil {
		return fmt.Errorf("dial %s: %w", node.Name, err)
	}
	defer cli.Close()
	return PushDir(ctx, cli, localDir, remoteDir)
}
