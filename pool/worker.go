package pool

import (
	"time"

	"github.com/pkg/errors"
)

// dispatch schedules value for execution: a goroutine acquires a slot on
// the bounded execution pool (the semaphore), then invokes the worker
// wrapper. It never blocks the caller (the producer) beyond goroutine
// creation — concurrency is bounded by the semaphore, not by the producer.
func (p *Pool[V, R]) dispatch(value V) {
	go func() {
		// Observe cancellation before consuming a slot at all.
		select {
		case <-p.ctx.Done():
			p.resultQueue.push(result[V, R]{cancelled: true})
			return
		default:
		}

		if err := p.sem.Acquire(p.ctx, 1); err != nil {
			// ctx was cancelled while waiting for a free slot.
			p.resultQueue.push(result[V, R]{cancelled: true})
			return
		}
		defer p.sem.Release(1)

		// Re-observe cancellation at the moment of would-be invocation,
		// per spec §4.1's worker-wrapper contract: "first observe
		// cancellation (return Cancelled immediately if set)".
		select {
		case <-p.ctx.Done():
			p.resultQueue.push(result[V, R]{cancelled: true})
			return
		default:
		}

		res, err := p.invokeWorker(value)
		if err != nil {
			p.resultQueue.push(result[V, R]{failure: &Failure[V]{Value: value, Err: errors.WithStack(err)}})
			return
		}
		p.resultQueue.push(result[V, R]{success: &Success[V, R]{Value: value, Result: res}})
	}()
}

// invokeWorker calls the user worker, converting a panic into an error so
// that, per spec §4.1, "no exception escapes the wrapper."
func (p *Pool[V, R]) invokeWorker(value V) (r R, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = errors.Errorf("worker panicked: %v", rec)
		}
	}()
	return p.worker(p.ctx, value)
}

// runProducer repeatedly calls the value factory, dispatching each batch
// to the execution pool and sleeping stagger between batches, until the
// factory is exhausted, the factory errors, or the pool is cancelled.
func (p *Pool[V, R]) runProducer() {
	defer p.wg.Done()

producerLoop:
	for {
		select {
		case <-p.ctx.Done():
			break producerLoop
		default:
		}

		successCount := len(p.GetSuccesses())
		batch, err := p.factory(successCount)
		if err != nil {
			p.producerErr.set(err)
			p.Cancel()
			break producerLoop
		}
		if len(batch) == 0 {
			break producerLoop
		}

		p.startedTasks.Add(int64(len(batch)))
		for _, v := range batch {
			p.dispatch(v)
		}

		if p.stagger <= 0 {
			continue
		}
		timer := time.NewTimer(p.stagger)
		select {
		case <-timer.C:
		case <-p.ctx.Done():
			timer.Stop()
			break producerLoop
		}
	}

	p.resultQueue.push(result[V, R]{producerStopped: true})
}

// runResultProcessor drains the result queue, updating the successes and
// failures maps, and resolves the target future slot the first time the
// success count reaches the target (or the producer exhausts first).
func (p *Pool[V, R]) runResultProcessor() {
	defer p.wg.Done()

	targetReached := false
	if p.targetSuccesses <= 0 {
		// spec §4.1: "target_successes == 0: the target slot is set
		// immediately by the result processor on entry."
		p.targetSet.set(targetOutcome[V, R]{snapshot: map[V]R{}})
		targetReached = true
	}

	producerStopped := false
	for {
		res := p.resultQueue.pop()

		if res.producerStopped {
			producerStopped = true
		} else {
			p.finishedTasks.Add(1)
			switch {
			case res.success != nil:
				p.mu.Lock()
				p.successes[res.success.Value] = res.success.Result
				count := len(p.successes)
				p.mu.Unlock()
				if !targetReached && count == p.targetSuccesses {
					targetReached = true
					p.targetSet.set(targetOutcome[V, R]{snapshot: p.GetSuccesses()})
				}
			case res.failure != nil:
				p.mu.Lock()
				p.failures[res.failure.Value] = res.failure
				p.mu.Unlock()
			default:
				// cancelled: acknowledged, never stored.
			}
		}

		if producerStopped && p.finishedTasks.Load() == p.startedTasks.Load() {
			// Cancel also stops the deadline watcher, which would
			// otherwise fire TimedOut after we've already resolved.
			p.Cancel()
			if !targetReached {
				p.targetSet.set(targetOutcome[V, R]{sentinel: sentinelOutOfValues})
			}
			break
		}
	}

	p.stopExecutionPool()
}

// runDeadlineWatcher is the sole authority for timeout: it races the
// cancellation signal on a bounded wait, and on firing first, resolves the
// target slot with the TimedOut sentinel and cancels the pool.
func (p *Pool[V, R]) runDeadlineWatcher() {
	defer p.wg.Done()

	timer := time.NewTimer(p.timeout)
	defer timer.Stop()

	select {
	case <-timer.C:
		p.targetSet.set(targetOutcome[V, R]{sentinel: sentinelTimedOut})
		p.Cancel()
	case <-p.ctx.Done():
	}
}
