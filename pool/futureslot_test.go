package pool

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFutureSlotSetOnceWins(t *testing.T) {
	f := newFutureSlot[int]()
	f.set(1)
	f.set(2)

	v, ok := f.peek()
	require.True(t, ok)
	assert.Equal(t, 1, v)
}

func TestFutureSlotGetBlocksUntilSet(t *testing.T) {
	f := newFutureSlot[string]()
	go func() {
		time.Sleep(20 * time.Millisecond)
		f.set("done")
	}()

	v, err := f.get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "done", v)
}

func TestFutureSlotGetRespectsContext(t *testing.T) {
	f := newFutureSlot[string]()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := f.get(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestFutureSlotIsSet(t *testing.T) {
	f := newFutureSlot[int]()
	assert.False(t, f.isSet())
	f.set(42)
	assert.True(t, f.isSet())
}
