// This file is part of nucypher-sub003.
//
// nucypher-sub003 is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// nucypher-sub003 is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with nucypher-sub003. If not, see <https://www.gnu.org/licenses/>.

// Package decryption implements the threshold decryption client: a thin,
// opinionated user of package pool that fans encrypted request bytes out
// to a set of nodes and waits for a threshold of responses (spec §4.2).
package decryption

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"golang.org/x/time/rate"

	"github.com/nucypher/nucypher-sub003/internal/learner"
	"github.com/nucypher/nucypher-sub003/internal/middleware"
	"github.com/nucypher/nucypher-sub003/pool"
)

// DefaultRequestRate caps outbound per-node HTTP round trips when no
// WithRequestRate option overrides it. Generous enough to never throttle
// a single threshold round under normal conditions, it exists to bound
// request bursts against a node that is itself rate-limiting.
const DefaultRequestRate rate.Limit = 50

// DefaultTimeout is the deadline applied when no WithTimeout option is
// given, per spec §4.2 step 3 ("deadline = D (default 30 s)").
const DefaultTimeout = 30 * time.Second

// DefaultStaggerTimeout is the launch stagger between producer batches,
// per spec §4.2 step 3.
const DefaultStaggerTimeout = 3 * time.Second

// batchSizeRatio and concurrencyRatio are the fixed multipliers on the
// threshold used to size the pool, per spec §4.2 step 3.
const (
	batchSizeRatio   = 1.25
	concurrencyRatio = 1.5
)

// Option configures a single GatherEncryptedDecryptionShares call.
type Option func(*settings)

type settings struct {
	timeout        time.Duration
	staggerTimeout time.Duration
}

// WithTimeout overrides the default 30s deadline.
func WithTimeout(d time.Duration) Option {
	return func(s *settings) { s.timeout = d }
}

// WithStaggerTimeout overrides the default 3s launch stagger.
func WithStaggerTimeout(d time.Duration) Option {
	return func(s *settings) { s.staggerTimeout = d }
}

// ClientOption configures a Client at construction time.
type ClientOption func(*Client)

// WithRequestRate overrides the per-node HTTP round trip budget.
func WithRequestRate(limit rate.Limit) ClientOption {
	return func(c *Client) { c.limiter = rate.NewLimiter(limit, 1) }
}

// Client gathers encrypted decryption shares from a set of nodes,
// treating the worker pool's concurrency, batching, and deadline
// handling as an implementation detail behind a single call.
type Client struct {
	learner   learner.Learner
	transport middleware.NetworkMiddleware
	limiter   *rate.Limiter
	log       log.Logger
}

// New constructs a Client.
func New(l learner.Learner, transport middleware.NetworkMiddleware, opts ...ClientOption) *Client {
	c := &Client{
		learner:   l,
		transport: transport,
		limiter:   rate.NewLimiter(DefaultRequestRate, 1),
		log:       log.New("component", "decryption-client"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GatherEncryptedDecryptionShares sends each value in requests to its key
// node and waits until threshold succeed, the deadline elapses, or the
// node list is exhausted. It never returns pool.ErrTimedOut or
// pool.ErrOutOfValues to the caller: per spec §4.2 step 4, "return
// whatever succeeded so that the caller can decide whether reconstruction
// is still possible." Any other error (a failure of the learner, or of
// the underlying pool's value factory) is propagated.
func (c *Client) GatherEncryptedDecryptionShares(
	ctx context.Context,
	requests map[common.Address][]byte,
	threshold int,
	opts ...Option,
) (successes map[common.Address][]byte, failures map[common.Address]string, err error) {
	cfg := settings{timeout: DefaultTimeout, staggerTimeout: DefaultStaggerTimeout}
	for _, opt := range opts {
		opt(&cfg)
	}

	nodes := make([]common.Address, 0, len(requests))
	for node := range requests {
		nodes = append(nodes, node)
	}

	if err := c.ensureDiscovery(ctx, nodes, threshold); err != nil {
		return nil, nil, err
	}

	rand.Shuffle(len(nodes), func(i, j int) { nodes[i], nodes[j] = nodes[j], nodes[i] })

	batchSize := pool.CeilRatio(threshold, batchSizeRatio)
	concurrency := pool.CeilRatio(threshold, concurrencyRatio)
	factory := pool.NewBatchFactory(nodes, threshold, batchSize)

	worker := func(ctx context.Context, node common.Address) ([]byte, error) {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		return c.transport.SendRequest(ctx, node, requests[node])
	}

	p := pool.New(worker, factory, threshold, cfg.timeout, cfg.staggerTimeout, concurrency)
	p.Start()

	_, blockErr := p.BlockUntilTargetSuccesses(ctx)
	p.Cancel()
	joinErr := p.Join()

	successSnapshot := p.GetSuccesses()
	failureSnapshot := p.GetFailures()

	failures = make(map[common.Address]string, len(failureSnapshot))
	for node, f := range failureSnapshot {
		failures[node] = f.Error()
	}

	if blockErr != nil && !errors.Is(blockErr, pool.ErrTimedOut) && !errors.Is(blockErr, pool.ErrOutOfValues) {
		c.log.Error("decryption share gathering aborted", "err", blockErr)
		return successSnapshot, failures, blockErr
	}
	if joinErr != nil {
		c.log.Error("decryption share gathering aborted", "err", joinErr)
		return successSnapshot, failures, joinErr
	}

	c.log.Info("gathered decryption shares",
		"threshold", threshold,
		"requested", len(requests),
		"succeeded", len(successSnapshot),
		"failed", len(failures),
	)
	return successSnapshot, failures, nil
}

// ensureDiscovery implements spec §4.2 step 1: proceed immediately if
// enough requested nodes are already known, otherwise block the learner
// for the remainder.
func (c *Client) ensureDiscovery(ctx context.Context, nodes []common.Address, threshold int) error {
	known := c.learner.KnownNodes()
	knownRequested := 0
	for _, n := range nodes {
		if _, ok := known[n]; ok {
			knownRequested++
		}
	}
	if knownRequested >= threshold {
		return nil
	}
	allowMissing := len(nodes) - threshold
	if allowMissing < 0 {
		allowMissing = 0
	}
	return c.learner.BlockUntilSpecificNodesAreKnown(ctx, nodes, allowMissing)
}
