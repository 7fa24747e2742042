package txtracker

import (
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateTrackPreservesFirstSeenOnReplace(t *testing.T) {
	s := newState()
	first := time.Now()
	s.track(1, common.HexToHash("0x1"), first)

	later := first.Add(time.Minute)
	s.track(1, common.HexToHash("0x2"), later)

	tx, ok := s.get(1)
	require.True(t, ok)
	assert.Equal(t, common.HexToHash("0x2"), tx.TxHash)
	assert.True(t, tx.FirstSeen.Equal(first), "replacing a nonce's hash must not reset its first-seen time")
}

func TestStateUntrackRemovesEntry(t *testing.T) {
	s := newState()
	s.track(5, common.HexToHash("0x5"), time.Now())
	require.Equal(t, 1, s.len())

	ok := s.untrack(5)
	assert.True(t, ok)
	assert.Equal(t, 0, s.len())

	ok = s.untrack(5)
	assert.False(t, ok)
}

func TestStateSingleEntryPerNonce(t *testing.T) {
	s := newState()
	for i := 0; i < 3; i++ {
		s.track(9, common.HexToHash("0xabc"), time.Now())
	}
	assert.Equal(t, 1, s.len())
}

func TestStateAsHashMap(t *testing.T) {
	s := newState()
	s.track(1, common.HexToHash("0x1"), time.Now())
	s.track(2, common.HexToHash("0x2"), time.Now())

	m := s.asHashMap()
	assert.Equal(t, common.HexToHash("0x1"), m[1])
	assert.Equal(t, common.HexToHash("0x2"), m[2])
	assert.Len(t, m, 2)
}
