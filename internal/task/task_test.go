package task

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPeriodicRunsOnInterval(t *testing.T) {
	var ticks atomic.Int32
	p := New(20*time.Millisecond, func(ctx context.Context) error {
		ticks.Add(1)
		return nil
	}, nil)

	ctx := context.Background()
	p.Start(ctx, false)
	time.Sleep(90 * time.Millisecond)
	p.Stop()

	assert.GreaterOrEqual(t, int(ticks.Load()), 2)
}

func TestPeriodicRunNow(t *testing.T) {
	var ticks atomic.Int32
	p := New(time.Hour, func(ctx context.Context) error {
		ticks.Add(1)
		return nil
	}, nil)

	p.Start(context.Background(), true)
	time.Sleep(10 * time.Millisecond)
	p.Stop()

	assert.Equal(t, int32(1), ticks.Load())
}

func TestPeriodicRecoversFromPanic(t *testing.T) {
	var ticks atomic.Int32
	p := New(10*time.Millisecond, func(ctx context.Context) error {
		n := ticks.Add(1)
		if n == 1 {
			panic("boom")
		}
		return nil
	}, nil)

	p.Start(context.Background(), false)
	time.Sleep(60 * time.Millisecond)
	p.Stop()

	assert.GreaterOrEqual(t, int(ticks.Load()), 2)
}

func TestPeriodicStartIsIdempotent(t *testing.T) {
	var ticks atomic.Int32
	p := New(10*time.Millisecond, func(ctx context.Context) error {
		ticks.Add(1)
		return nil
	}, nil)

	ctx := context.Background()
	p.Start(ctx, false)
	p.Start(ctx, false)
	require.True(t, p.Running())
	time.Sleep(30 * time.Millisecond)
	p.Stop()
	assert.False(t, p.Running())
}
