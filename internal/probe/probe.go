// Package probe implements the connectivity prober: it retries a read-only
// remote command against a node until it succeeds or the attempt/time budget
// runs out. An unreachable node is an expected outcome reported in the
// result, never an error.
package probe

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/rs/zerolog"

	"github.com/idoudali/ai-hyperscaler-on-workstation-sub009/internal/cluster"
	"github.com/idoudali/ai-hyperscaler-on-workstation-sub009/internal/pool"
	gssh "github.com/idoudali/ai-hyperscaler-on-workstation-sub009/internal/ssh"
)

// DefaultCommand is the read-only command probed against nodes. Probe
// commands must be idempotent by convention of the caller.
const DefaultCommand = "true"

// Runner executes a command on a node. *ssh.Executor satisfies this.
type Runner interface {
	Run(ctx context.Context, node cluster.Node, command string) (gssh.Result, error)
}

// Policy bounds one node's probing: at most MaxAttempts attempts within
// Timeout overall, with exponential backoff between attempts.
type Policy struct {
	MaxAttempts   int
	Timeout       time.Duration
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// DefaultPolicy caps probing at 20 attempts within 5 minutes, backing off
// from 1s by a factor of 2 up to 15s with jitter.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:   20,
		Timeout:       5 * time.Minute,
		InitialDelay:  time.Second,
		MaxDelay:      15 * time.Second,
		BackoffFactor: 2.0,
	}
}

// delay computes the backoff before attempt n (0-based) with +/-25% jitter.
func (p Policy) delay(attempt int) time.Duration {
	d := float64(p.InitialDelay) * math.Pow(p.BackoffFactor, float64(attempt))
	d += d * 0.25 * (2*rand.Float64() - 1)
	if d > float64(p.MaxDelay) {
		d = float64(p.MaxDelay)
	}
	return time.Duration(d)
}

// Result records the outcome of probing one node.
type Result struct {
	Node      cluster.Node
	Attempts  int
	Succeeded bool
	Elapsed   time.Duration
	Err       error
}

// Prober probes node connectivity through a Runner.
type Prober struct {
	runner Runner
	policy Policy
	log    zerolog.Logger
}

func New(runner Runner, policy Policy, log zerolog.Logger) *Prober {
	return &Prober{runner: runner, policy: policy, log: log}
}

// Probe retries command on node until it exits zero, the overall timeout
// elapses, or the attempt budget is exhausted. Whether the host was
// unreachable or reachable-but-failing is not diagnosed; both count as a
// failed attempt.
func (p *Prober) Probe(ctx context.Context, node cluster.Node, command string) Result {
	if command == "" {
		command = DefaultCommand
	}
	start := time.Now()
	deadline := start.Add(p.policy.Timeout)
	res := Result{Node: node}
	var lastErr error
	for attempt := 0; attempt < p.policy.MaxAttempts; attempt++ {
		if ctx.Err() != nil {
			res.Err = ctx.Err()
			break
		}
		res.Attempts++
		out, err := p.runner.Run(ctx, node, command)
		if err == nil && out.ExitCode == 0 {
			res.Succeeded = true
			res.Elapsed = time.Since(start)
			p.log.Debug().Str("node", node.Name).Int("attempts", res.Attempts).
				Dur("elapsed", res.Elapsed).Msg("node reachable")
			return res
		}
		if err != nil {
			lastErr = err
		}
		p.log.Debug().Str("node", node.Name).Int("attempt", res.Attempts).
			Err(err).Msg("probe attempt failed")
		wait := p.policy.delay(attempt)
		if time.Now().Add(wait).After(deadline) {
			break
		}
		select {
		case <-ctx.Done():
			res.Err = ctx.Err()
			res.Elapsed = time.Since(start)
			return res
		case <-time.After(wait):
		}
	}
	res.Elapsed = time.Since(start)
	if res.Err == nil {
		res.Err = lastErr
	}
	p.log.Warn().Str("node", node.Name).Int("attempts", res.Attempts).
		Dur("elapsed", res.Elapsed).Msg("node never became reachable")
	return res
}

// ProbeAll probes every node concurrently through the bounded worker pool
// and returns one result per node, in input order. One node's failure never
// aborts its siblings.
func (p *Prober) ProbeAll(ctx context.Context, nodes []cluster.Node, command string, concurrency int) []Result {
	results := make([]Result, len(nodes))
	pool.Run(ctx, len(nodes), concurrency, func(ctx context.Context, i int) error {
		results[i] = p.Probe(ctx, nodes[i], command)
		return nil
	})
	return results
}

// AllSucceeded reports whether every result in rs succeeded.
func AllSucceeded(rs []Result) bool {
	for _, r := range rs {
		if !r.Succeeded {
			return false
		}
	}
	return true
}
