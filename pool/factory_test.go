package pool_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nucypher/nucypher-sub003/pool"
)

func TestBatchFactoryShrinksTowardShortfall(t *testing.T) {
	values := []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}
	factory := pool.NewBatchFactory(values, 5, 4)

	batch1, err := factory(0)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2, 3}, batch1)

	// 3 successes recorded so far: shortfall is 2, batch shrinks to 2.
	batch2, err := factory(3)
	require.NoError(t, err)
	assert.Equal(t, []int{4, 5}, batch2)

	// Target already met: factory reports exhaustion even with values left.
	batch3, err := factory(5)
	require.NoError(t, err)
	assert.Empty(t, batch3)
}

func TestBatchFactoryExhaustsUnderlyingValues(t *testing.T) {
	values := []int{0, 1, 2}
	factory := pool.NewBatchFactory(values, 10, 2)

	batch1, _ := factory(0)
	assert.Equal(t, []int{0, 1}, batch1)
	batch2, _ := factory(0)
	assert.Equal(t, []int{2}, batch2)
	batch3, _ := factory(0)
	assert.Empty(t, batch3)
}

func TestAllAtOnceFactoryYieldsOnce(t *testing.T) {
	factory := pool.NewAllAtOnceFactory([]int{1, 2, 3})
	batch1, err := factory(0)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, batch1)

	batch2, err := factory(0)
	require.NoError(t, err)
	assert.Empty(t, batch2)
}

func TestCeilRatio(t *testing.T) {
	assert.Equal(t, 13, pool.CeilRatio(10, 1.25))
	assert.Equal(t, 15, pool.CeilRatio(10, 1.5))
	assert.Equal(t, 0, pool.CeilRatio(0, 1.25))
}
