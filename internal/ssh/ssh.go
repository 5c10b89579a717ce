package ssh

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	xssh "golang.org/x/crypto/ssh"
)

type Dialer interface {
	Dial(network, addr string) (net.Conn, error)
}

type NetDialer struct{ Timeout time.Duration }

func (d NetDialer) Dial(network, addr string) (net.Conn, error) {
	nd := &net.Dialer{Timeout: d.Timeout}
	return nd.Dial(network, addr)
}

// Result is the outcome of one remote command execution.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

type Client struct {
	Addr       string
	User       string
	Signer     xssh.Signer
	KnownHosts xssh.HostKeyCallback
	Timeout    time.Duration
	Retries    int
	Backoff    time.Duration
	Dialer     Dialer
}

func (c *Client) makeConfig() (*xssh.ClientConfig, error) {
	if c.Signer == nil {
		return nil, errors.New("ssh: signer required")
	}
	if c.KnownHosts == nil {
		c.KnownHosts = xssh.InsecureIgnoreHostKey() // replaced by strict callback by caller normally
	}
	return &xssh.ClientConfig{
		User:            c.User,
		Auth:            []xssh.AuthMethod{xssh.PublicKeys(c.Signer)},
		HostKeyCallback: c.KnownHosts,
		Timeout:         c.Timeout,
	}, nil
}

// connect dials the host through the configured Dialer (NetDialer with the
// client timeout when unset) and completes the SSH handshake.
func (c *Client) connect(cfg *xssh.ClientConfig) (*xssh.Client, error) {
	d := c.Dialer
	if d == nil {
		d = NetDialer{Timeout: c.Timeout}
	}
	conn, err := d.Dial("tcp", c.Addr)
	if err != nil {
		return nil, err
	}
	cc, chans, reqs, err := xssh.NewClientConn(conn, c.Addr, cfg)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	return xssh.NewClient(cc, chans, reqs), nil
}

// RunCommand executes a remote command with retries and basic backoff on
// connection-level failures. A command that runs and exits non-zero is not a
// connection failure: its exit code is reported in Result with a nil error.
func (c *Client) RunCommand(ctx context.Context, command string) (Result, error) {
	cfg, err := c.makeConfig()
	if err != nil {
		return Result{ExitCode: -1}, err
	}
	var lastErr error
	retries := c.Retries
	if retries < 0 {
		retries = 0
	}
	backoff := c.Backoff
	if backoff <= 0 {
		backoff = 500 * time.Millisecond
	}
	for attempt := 0; attempt <= retries; attempt++ {
		select {
		case <-ctx.Done():
			return Result{ExitCode: -1}, ctx.Err()
		default:
		}
		cli, err := c.connect(cfg)
		if err != nil {
			lastErr = fmt.Errorf("dial %s: %w", c.Addr, err)
		} else {
			res, err := runSession(cli, command)
			_ = cli.Close()
			if err == nil {
				return res, nil
			}
			lastErr = err
		}
		if attempt < retries {
			select {
			case <-ctx.Done():
				return Result{ExitCode: -1}, ctx.Err()
			case <-time.After(backoff * time.Duration(attempt+1)):
			}
		}
	}
	return Result{ExitCode: -1}, lastErr
}

func runSession(cli *xssh.Client, command string) (Result, error) {
	session, err := cli.NewSession()
	if err != nil {
		return Result{ExitCode: -1}, fmt.Errorf("new session: %w", err)
	}
	defer session.Close()
	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr
	err = session.Run(command)
	res := Result{Stdout: stdout.String(), Stderr: stderr.String()}
	if err == nil {
		return res, nil
	}
	var exitErr *xssh.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitStatus()
		return res, nil
	}
	res.ExitCode = -1
	return res, fmt.Errorf("run command: %w", err)
}

// Dial establishes an SSH connection using the provided client configuration.
// The caller is responsible for closing the returned client.
func Dial(ctx context.Context, c *Client) (*xssh.Client, error) {
	cfg, err := c.makeConfig()
	if err != nil {
		return nil, err
	}
	type res struct {
		cli *xssh.Client
		err error
	}
	ch := make(chan res, 1)
	go func() {
		cli, err := c.connect(cfg)
		ch <- res{cli: cli, err: err}
	}()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		return r.cli, r.err
	}
}
