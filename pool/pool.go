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

// Package pool implements a bounded-parallel worker pool that runs a
// user-supplied operation against a lazily produced stream of values,
// accumulating successes and failures until a target success count is
// reached, a deadline expires, or the value stream is exhausted.
package pool

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/pkg/errors"
	"golang.org/x/sync/semaphore"
)

// ErrTimedOut is returned by BlockUntilTargetSuccesses when the pool's
// deadline elapses before the target number of successes is reached.
var ErrTimedOut = errors.New("worker pool: timed out before target successes reached")

// ErrOutOfValues is returned by BlockUntilTargetSuccesses when the value
// factory is exhausted before the target number of successes is reached.
var ErrOutOfValues = errors.New("worker pool: value factory exhausted before target successes reached")

// Worker is the user-supplied operation run against each value drawn from
// the value factory. It may return an error; errors never escape the pool,
// they are captured as a Failure. The context is cancelled the moment the
// pool is cancelled, so a well-behaved worker should observe ctx.Done().
type Worker[V comparable, R any] func(ctx context.Context, value V) (R, error)

// ValueFactory lazily produces batches of work. It is called with the
// current number of recorded successes so it can shrink its batches toward
// the remaining shortfall. Returning a nil or empty slice (with a nil
// error) signals exhaustion. An error aborts the pool.
type ValueFactory[V comparable] func(currentSuccesses int) ([]V, error)

// Success is a terminal worker outcome that did not return an error.
type Success[V comparable, R any] struct {
	Value  V
	Result R
}

// Failure is a terminal worker outcome that returned (or panicked with) an
// error. Err is decorated with a stack trace (via github.com/pkg/errors)
// so %+v renders a human-readable traceback, per the spec's requirement
// that failures carry "sufficient info to reconstruct a traceback."
type Failure[V comparable] struct {
	Value V
	Err   error
}

func (f *Failure[V]) Error() string {
	return fmt.Sprintf("%v: %v", f.Value, f.Err)
}

// result is the sum type pushed onto the pool's internal result queue.
// Exactly one of success/failure/cancelled/producerStopped is set.
type result[V comparable, R any] struct {
	success         *Success[V, R]
	failure         *Failure[V]
	cancelled       bool
	producerStopped bool
}

type sentinelKind int

const (
	sentinelNone sentinelKind = iota
	sentinelTimedOut
	sentinelOutOfValues
)

// targetOutcome is what the target future slot resolves to: either a
// snapshot of the successes map taken the moment the target was reached,
// or a sentinel explaining why the pool gave up before reaching it.
type targetOutcome[V comparable, R any] struct {
	snapshot map[V]R
	sentinel sentinelKind
}

// Pool runs Worker against values drawn from ValueFactory with bounded
// parallelism, gating callers on a target number of distinct successes.
// See the package doc and spec §4.1 for the full contract.
type Pool[V comparable, R any] struct {
	worker  Worker[V, R]
	factory ValueFactory[V]

	targetSuccesses int
	timeout         time.Duration
	stagger         time.Duration
	poolSize        int64

	sem *semaphore.Weighted

	resultQueue *unboundedQueue[result[V, R]]

	mu        sync.Mutex
	successes map[V]R
	failures  map[V]*Failure[V]

	startedTasks  atomic.Int64
	finishedTasks atomic.Int64

	ctx         context.Context
	cancelFn    context.CancelFunc
	targetSet   *futureSlot[targetOutcome[V, R]]
	producerErr *futureSlot[error]

	stopOnce sync.Once
	wg       sync.WaitGroup

	log log.Logger
}

// DefaultPoolSize is used when New is called with poolSize <= 0.
const DefaultPoolSize = 16

// New constructs a Pool. It does not start any goroutines; call Start.
func New[V comparable, R any](
	worker Worker[V, R],
	factory ValueFactory[V],
	targetSuccesses int,
	timeout time.Duration,
	stagger time.Duration,
	poolSize int,
) *Pool[V, R] {
	if poolSize <= 0 {
		poolSize = DefaultPoolSize
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool[V, R]{
		worker:          worker,
		factory:         factory,
		targetSuccesses: targetSuccesses,
		timeout:         timeout,
		stagger:         stagger,
		poolSize:        int64(poolSize),
		sem:             semaphore.NewWeighted(int64(poolSize)),
		resultQueue:     newUnboundedQueue[result[V, R]](),
		successes:       make(map[V]R),
		failures:        make(map[V]*Failure[V]),
		ctx:             ctx,
		cancelFn:        cancel,
		targetSet:       newFutureSlot[targetOutcome[V, R]](),
		producerErr:     newFutureSlot[error](),
		log:             log.New("component", "workerpool"),
	}
}

// Start spawns the producer, result-processor and deadline-watcher
// goroutines. It is not idempotent: calling it twice will start a second
// set of coordinating goroutines racing the first, which is undefined
// behavior per spec §4.1.
func (p *Pool[V, R]) Start() {
	p.wg.Add(3)
	go p.runProducer()
	go p.runResultProcessor()
	go p.runDeadlineWatcher()
}

// Cancel sets the cancellation signal. Idempotent. Enqueued-but-not-yet-run
// work short-circuits to a cancelled outcome; in-flight workers are not
// pre-empted.
func (p *Pool[V, R]) Cancel() {
	p.cancelFn()
}

func (p *Pool[V, R]) stopExecutionPool() {
	p.stopOnce.Do(func() {
		// Draining the semaphore here would require knowing exactly how
		// many slots are outstanding; instead we rely on context
		// cancellation to stop new acquisitions and let in-flight
		// workers finish naturally, matching the Python ThreadPool.stop()
		// semantics (workers already running are not interrupted).
		p.log.Debug("worker pool execution stopped")
	})
}

// Join blocks until the producer, result-processor and deadline-watcher
// goroutines have all returned, then shuts down the execution pool
// defensively (in case the result processor's shutdown path was somehow
// skipped). Safe to call from multiple goroutines and multiple times.
func (p *Pool[V, R]) Join() error {
	p.wg.Wait()
	p.stopExecutionPool()
	return p.checkProducerError()
}

func (p *Pool[V, R]) checkProducerError() error {
	if v, ok := p.producerErr.peek(); ok {
		return v
	}
	return nil
}

// BlockUntilTargetSuccesses blocks on the target future slot. It returns a
// snapshot of the successes map taken the moment the target was reached,
// raises ErrTimedOut if the deadline watcher fired first, ErrOutOfValues if
// the producer exhausted the factory first, or propagates a factory error.
// The supplied context governs only how long the caller is willing to wait
// for the *slot itself* to resolve; it is independent of the pool's own
// deadline.
func (p *Pool[V, R]) BlockUntilTargetSuccesses(ctx context.Context) (map[V]R, error) {
	if err := p.checkProducerError(); err != nil {
		return nil, err
	}
	outcome, err := p.targetSet.get(ctx)
	if err != nil {
		return nil, err
	}
	switch outcome.sentinel {
	case sentinelTimedOut:
		return nil, fmt.Errorf("%w (failures recorded: %d)", ErrTimedOut, len(p.GetFailures()))
	case sentinelOutOfValues:
		// producerErr is set before producerStopped is pushed, so if the
		// factory itself errored, it is visible here race-free: report it
		// instead of masking it as plain exhaustion.
		if err := p.checkProducerError(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w (failures recorded: %d)", ErrOutOfValues, len(p.GetFailures()))
	default:
		return outcome.snapshot, nil
	}
}

// GetSuccesses returns a snapshot of the successes map. Safe at any time.
func (p *Pool[V, R]) GetSuccesses() map[V]R {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[V]R, len(p.successes))
	for k, v := range p.successes {
		out[k] = v
	}
	return out
}

// GetFailures returns a snapshot of the failures map. Safe at any time.
func (p *Pool[V, R]) GetFailures() map[V]*Failure[V] {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[V]*Failure[V], len(p.failures))
	for k, v := range p.failures {
		out[k] = v
	}
	return out
}
