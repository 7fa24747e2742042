package txtracker

import (
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// pendingTx is the Go binding of spec §3's PendingTx{nonce, tx_hash,
// first_seen_timestamp}.
type pendingTx struct {
	Nonce     uint64
	TxHash    common.Hash
	FirstSeen time.Time
}

// state is the in-memory Nonce->PendingTx map guarded by a mutex, backed by
// a JSON file on disk (see persist.go). Exactly one entry per nonce, per
// spec §3 invariant 1.
type state struct {
	mu  sync.RWMutex
	txs map[uint64]pendingTx
}

func newState() *state {
	return &state{txs: make(map[uint64]pendingTx)}
}

// track records or replaces the tx-hash tracked at nonce, preserving the
// original FirstSeen timestamp on replacement (spec §3 invariant 1).
func (s *state) track(nonce uint64, hash common.Hash, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.txs[nonce]
	firstSeen := now
	if ok {
		firstSeen = existing.FirstSeen
	}
	s.txs[nonce] = pendingTx{Nonce: nonce, TxHash: hash, FirstSeen: firstSeen}
}

// untrack removes a nonce from the tracked set. Returns false if the nonce
// was not tracked.
func (s *state) untrack(nonce uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.txs[nonce]
	delete(s.txs, nonce)
	return ok
}

// snapshot returns a stable copy of the tracked set, safe to range over
// while the tracker concurrently applies track/untrack (spec §4.3's "never
// mutate while iterating").
func (s *state) snapshot() []pendingTx {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]pendingTx, 0, len(s.txs))
	for _, tx := range s.txs {
		out = append(out, tx)
	}
	return out
}

func (s *state) get(nonce uint64) (pendingTx, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tx, ok := s.txs[nonce]
	return tx, ok
}

func (s *state) len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.txs)
}

// asHashMap returns the Nonce->TxHash view persisted to disk.
func (s *state) asHashMap() map[uint64]common.Hash {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[uint64]common.Hash, len(s.txs))
	for nonce, tx := range s.txs {
		out[nonce] = tx.TxHash
	}
	return out
}
