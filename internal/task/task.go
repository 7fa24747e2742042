// Package task implements a periodic, self-healing scheduler loop. It is
// the Go binding of nucypher/utilities/task.py's SimpleTask, which wraps a
// Twisted LoopingCall; the Go rendition swaps the Twisted reactor for a
// time.Ticker and a context.Context for shutdown, and SimpleTask's
// handle_errors restart-on-uncaught-exception behavior for a
// recover()-based restart loop (spec §7: "Uncaught exceptions in a tick
// restart the scheduled task after logging").
package task

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/log"
)

// Periodic runs Run on a fixed interval until Stop is called, restarting
// itself if Run panics.
type Periodic struct {
	interval time.Duration
	run      func(ctx context.Context) error
	log      log.Logger

	mu      sync.Mutex
	running atomic.Bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// New constructs a Periodic task. The interval can be changed before Start
// via SetInterval (the tracker does this once it has sampled the chain's
// average block time).
func New(interval time.Duration, run func(ctx context.Context) error, logger log.Logger) *Periodic {
	if logger == nil {
		logger = log.New("component", "periodic-task")
	}
	return &Periodic{interval: interval, run: run, log: logger}
}

// SetInterval updates the tick interval. Safe to call before Start; calling
// it after Start takes effect on the next tick.
func (p *Periodic) SetInterval(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.interval = d
}

// Running reports whether the task's loop goroutine is currently active.
func (p *Periodic) Running() bool {
	return p.running.Load()
}

// Start begins the periodic loop. If runNow is true, Run is invoked
// immediately before the first tick wait, mirroring SimpleTask.start(now=).
// Start is a no-op if the task is already running.
func (p *Periodic) Start(ctx context.Context, runNow bool) {
	if !p.running.CompareAndSwap(false, true) {
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	p.mu.Lock()
	p.cancel = cancel
	p.done = make(chan struct{})
	p.mu.Unlock()

	go p.loop(loopCtx, runNow)
}

// Stop cancels the periodic loop and waits for it to exit.
func (p *Periodic) Stop() {
	p.mu.Lock()
	cancel := p.cancel
	done := p.done
	p.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	p.running.Store(false)
}

func (p *Periodic) loop(ctx context.Context, runNow bool) {
	defer close(p.done)
	defer p.running.Store(false)

	if runNow {
		p.tickWithRecovery(ctx)
	}

	for {
		p.mu.Lock()
		interval := p.interval
		p.mu.Unlock()

		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			p.tickWithRecovery(ctx)
		}
	}
}

// tickWithRecovery runs one tick, logging and swallowing any panic or
// returned error so the loop keeps going — the self-healing recovery path
// of spec §7.
func (p *Periodic) tickWithRecovery(ctx context.Context) {
	defer func() {
		if rec := recover(); rec != nil {
			p.log.Error("periodic task panicked, restarting on next tick", "recovered", rec)
		}
	}()
	if err := p.run(ctx); err != nil {
		p.log.Warn("periodic task tick failed", "err", err)
	}
}
