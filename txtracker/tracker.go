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

// Package txtracker tracks pending EVM transactions by nonce, applies
// EIP-1559 fee-bump replacement when they stall, leaves a transaction at
// its current hash when a bump would exceed the spending cap, drops it from
// tracking once its timeout elapses, cancels pending nonces it did not
// originate at startup, and persists the nonce->tx-hash map across
// restarts. See spec §4.3.
package txtracker

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"
	"golang.org/x/time/rate"

	"github.com/nucypher/nucypher-sub003/internal/task"
)

// Defaults matching spec §4.3.
const (
	DefaultMaxTipGwei      = 10
	DefaultTimeout         = time.Hour
	DefaultBlockInterval   = 20
	DefaultBlockSampleSize = 100_000
	DefaultRPCThrottle     = 500 * time.Millisecond
)

// Hooks are the optional upcalls spec §3 calls on_track/on_finalize.
type Hooks struct {
	OnTrack    func(txs map[uint64]common.Hash)
	OnFinalize func(nonces []uint64)
}

// Option configures a Tracker at construction time.
type Option func(*Tracker)

// WithHooks installs the on_track/on_finalize upcalls.
func WithHooks(h Hooks) Option {
	return func(t *Tracker) {
		t.hooks = h
	}
}

// WithBlockInterval overrides the BLOCK_INTERVAL constant (default 20).
func WithBlockInterval(n int) Option {
	return func(t *Tracker) {
		t.blockInterval = n
	}
}

// WithBlockSampleSize overrides BLOCK_SAMPLE_SIZE (default 100_000).
func WithBlockSampleSize(n uint64) Option {
	return func(t *Tracker) {
		t.blockSampleSize = n
	}
}

// WithRPCThrottle overrides the inter-RPC throttle within a tick.
func WithRPCThrottle(d time.Duration) Option {
	return func(t *Tracker) {
		t.rpcThrottle = d
	}
}

// WithLogger overrides the tracker's logger.
func WithLogger(l log.Logger) Option {
	return func(t *Tracker) {
		t.log = l
	}
}

// Tracker is the Go binding of nucypher's TransactionTracker (spec §4.3).
type Tracker struct {
	chain  ChainClient
	signer Signer

	feePolicy FeePolicy
	timeout   time.Duration

	hooks Hooks

	state       *state
	persistPath string

	blockInterval   int
	blockSampleSize uint64
	rpcThrottle     time.Duration

	task *task.Periodic
	log  log.Logger
}

// New constructs a Tracker. It does not touch disk or the chain until
// Start is called.
func New(chain ChainClient, signer Signer, maxTipWei *big.Int, timeout time.Duration, persistPath string, opts ...Option) *Tracker {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	t := &Tracker{
		chain:  chain,
		signer: signer,
		feePolicy: FeePolicy{
			MaxTip:           maxTipWei,
			BumpFactor:       DefaultBumpFactor,
			CancelBumpFactor: DefaultCancelBumpFactor,
		},
		timeout:         timeout,
		state:           newState(),
		persistPath:     persistPath,
		blockInterval:   DefaultBlockInterval,
		blockSampleSize: DefaultBlockSampleSize,
		rpcThrottle:     DefaultRPCThrottle,
		log:             log.New("component", "txtracker"),
	}
	for _, opt := range opts {
		opt(t)
	}
	// A placeholder interval; Start overwrites it once it has sampled the
	// chain's average block time, before the periodic loop ever ticks.
	t.task = task.New(time.Minute, t.run, t.log)
	return t
}

// Track records txs in memory, persists the state file, and fires
// OnTrack. Per spec §3 invariant 1, replacing a nonce's tx-hash preserves
// its original FirstSeen timestamp.
func (t *Tracker) Track(txs map[uint64]common.Hash) error {
	if len(txs) == 0 {
		return nil
	}
	now := time.Now()
	for nonce, hash := range txs {
		t.state.track(nonce, hash, now)
		t.log.Info("tracking transaction", "nonce", nonce, "txHash", hash.Hex())
	}
	if err := t.persist(); err != nil {
		return err
	}
	if t.hooks.OnTrack != nil {
		t.hooks.OnTrack(txs)
	}
	return nil
}

// Untrack drops nonces from the tracked set, persists, and fires
// OnFinalize.
func (t *Tracker) Untrack(nonces []uint64) error {
	if len(nonces) == 0 {
		return nil
	}
	for _, nonce := range nonces {
		t.state.untrack(nonce)
		t.log.Info("stopped tracking transaction", "nonce", nonce)
	}
	if err := t.persist(); err != nil {
		return err
	}
	if t.hooks.OnFinalize != nil {
		t.hooks.OnFinalize(nonces)
	}
	return nil
}

// persist rewrites the disk file. Per spec §7, a failed write is logged
// but not fatal mid-run: the in-memory map stays authoritative.
func (t *Tracker) persist() error {
	if err := writeFile(t.persistPath, t.state.asHashMap()); err != nil {
		t.log.Error("failed to persist transaction tracker state", "err", err)
		return err
	}
	return nil
}

// Tracked returns a snapshot of the currently tracked (nonce, txHash)
// pairs.
func (t *Tracker) Tracked() map[uint64]common.Hash {
	return t.state.asHashMap()
}

// IsTracked reports whether nonce currently has a tracked tx-hash.
func (t *Tracker) IsTracked(nonce uint64) bool {
	_, ok := t.state.get(nonce)
	return ok
}

// Start initializes state from disk, reconciles it against the chain's
// pending set, samples the average block time to size the polling
// interval, and schedules the periodic run loop. See spec §4.3 "Startup
// reconciliation."
func (t *Tracker) Start(ctx context.Context, runNow bool) error {
	t.log.Info("starting transaction tracker")

	account := t.signer.Address()
	pendingCount, err := t.chain.PendingNonceAt(ctx, account)
	if err != nil {
		return fmt.Errorf("txtracker: get pending transaction count: %w", err)
	}
	latestCount, err := t.chain.NonceAt(ctx, account, nil)
	if err != nil {
		return fmt.Errorf("txtracker: get latest transaction count: %w", err)
	}

	pendingNonces := make([]uint64, 0, pendingCount-latestCount)
	for n := latestCount; n < pendingCount; n++ {
		pendingNonces = append(pendingNonces, n)
	}
	t.log.Info("detected pending transactions", "count", len(pendingNonces), "nonces", pendingNonces)

	if err := t.restoreState(pendingNonces); err != nil {
		return err
	}
	if err := t.handleUntrackedTransactions(ctx, pendingNonces); err != nil {
		return err
	}

	avgBlockTime, err := t.estimateAverageBlockTime(ctx)
	if err != nil {
		t.log.Warn("failed to estimate average block time, falling back to default interval", "err", err)
		avgBlockTime = 0
	}
	interval := time.Duration(avgBlockTime * float64(t.blockInterval) * float64(time.Second))
	if interval <= 0 {
		interval = DefaultTimeout / 360 // a conservative fallback, never zero
	}
	t.task.SetInterval(interval)
	t.log.Info("set tracking interval",
		"avgBlockTimeSeconds", avgBlockTime,
		"interval", interval,
		"maxTipWei", t.feePolicy.MaxTip,
	)

	t.task.Start(ctx, runNow)
	return nil
}

// Stop halts the periodic loop.
func (t *Tracker) Stop() {
	t.task.Stop()
}

// restoreState reads the disk file and adopts its contents into memory,
// logging any divergence from the chain-reported pending set but
// otherwise accepting it as-is (spec §4.3 step 2).
func (t *Tracker) restoreState(pendingNonces []uint64) error {
	records := readFile(t.persistPath)
	if len(records) > 0 {
		t.log.Debug("loaded persisted transaction state", "count", len(records))
	}

	pendingSet := make(map[uint64]struct{}, len(pendingNonces))
	for _, n := range pendingNonces {
		pendingSet[n] = struct{}{}
	}
	switch {
	case len(pendingNonces) == 0:
		t.log.Info("no pending transactions to track")
	case sameNonceSet(records, pendingSet):
		t.log.Info("all cached transactions are tracked")
	default:
		var diff []uint64
		for n := range pendingSet {
			if _, ok := records[n]; !ok {
				diff = append(diff, n)
			}
		}
		t.log.Warn("untracked nonces detected on restore", "nonces", diff)
	}

	return t.Track(records)
}

func sameNonceSet(records map[uint64]common.Hash, pending map[uint64]struct{}) bool {
	if len(records) != len(pending) {
		return false
	}
	for n := range pending {
		if _, ok := records[n]; !ok {
			return false
		}
	}
	return true
}

// handleUntrackedTransactions cancels every pending nonce this tracker did
// not already restore from disk — "the tracker refuses to steward
// transactions it did not originate" (spec §4.3 step 3).
func (t *Tracker) handleUntrackedTransactions(ctx context.Context, pendingNonces []uint64) error {
	var untracked []uint64
	for _, n := range pendingNonces {
		if !t.IsTracked(n) {
			untracked = append(untracked, n)
		}
	}
	if len(untracked) == 0 {
		return nil
	}
	t.log.Warn("cancelling untracked pending transactions", "nonces", untracked)
	return t.cancelTransactions(ctx, untracked)
}

// cancelTransactions issues a cancellation for each nonce, throttling
// between broadcasts, then tracks the resulting hashes as one batch.
func (t *Tracker) cancelTransactions(ctx context.Context, nonces []uint64) error {
	limiter := rate.NewLimiter(rate.Every(t.rpcThrottle), 1)
	replacements := make(map[uint64]common.Hash, len(nonces))
	for _, nonce := range nonces {
		if err := limiter.Wait(ctx); err != nil {
			return err
		}
		hash, err := t.CancelTransaction(ctx, nonce)
		if err != nil {
			t.log.Error("failed to broadcast cancellation", "nonce", nonce, "err", err)
			continue
		}
		replacements[nonce] = hash
	}
	return t.Track(replacements)
}

// estimateAverageBlockTime samples BlockSampleSize blocks back from the
// chain tip, matching nucypher's _get_average_blocktime (spec SPEC_FULL §6.1).
func (t *Tracker) estimateAverageBlockTime(ctx context.Context) (float64, error) {
	latest, err := t.chain.HeaderByNumber(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("txtracker: fetch latest header: %w", err)
	}
	if latest.Number.Sign() == 0 {
		return 0, nil
	}
	sampleBlockNumber := new(big.Int).Sub(latest.Number, new(big.Int).SetUint64(t.blockSampleSize))
	if sampleBlockNumber.Sign() <= 0 {
		return 0, nil
	}
	base, err := t.chain.HeaderByNumber(ctx, sampleBlockNumber)
	if err != nil {
		return 0, fmt.Errorf("txtracker: fetch sample header: %w", err)
	}
	elapsed := float64(latest.Time - base.Time)
	return elapsed / float64(t.blockSampleSize), nil
}

// SpeedupTransaction signs and broadcasts a fee-bumped replacement for
// txHash. It returns ErrTransactionFinalized if the chain reports the
// original as already included, and ErrSpendingCapExceeded if the
// recomputed tip would exceed the fee policy's MaxTip — in which case no
// send_raw_transaction is issued (spec §8 property 5).
func (t *Tracker) SpeedupTransaction(ctx context.Context, txHash common.Hash) (common.Hash, error) {
	tx, isPending, err := t.chain.TransactionByHash(ctx, txHash)
	if err != nil {
		if isNotFound(err) {
			// Open question (spec §9): a reorg can transiently drop a tx
			// from the mempool. This tracker follows the reference's
			// simpler policy and treats a first not-found as finalized.
			return common.Hash{}, ErrTransactionFinalized
		}
		return common.Hash{}, fmt.Errorf("txtracker: get transaction: %w", err)
	}
	if !isPending {
		return common.Hash{}, ErrTransactionFinalized
	}

	newTip, newMaxFee, err := t.calculateSpeedupFee(ctx, tx)
	if err != nil {
		return common.Hash{}, err
	}
	if t.feePolicy.MaxTip != nil && newTip.Cmp(t.feePolicy.MaxTip) > 0 {
		return common.Hash{}, ErrSpendingCapExceeded
	}

	chainID, err := t.chain.ChainID(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("txtracker: get chain id: %w", err)
	}
	replacement := t.makeSpeedupTransaction(chainID, tx, newTip, newMaxFee)
	t.log.Info("speeding up transaction", "nonce", tx.Nonce(), "tipWei", newTip, "maxFeeWei", newMaxFee)
	return t.signAndSend(ctx, replacement)
}

// CancelTransaction signs and broadcasts a zero-value self-send at nonce
// with an aggressively bumped fee (spec §4.3).
func (t *Tracker) CancelTransaction(ctx context.Context, nonce uint64) (common.Hash, error) {
	chainID, err := t.chain.ChainID(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("txtracker: get chain id: %w", err)
	}
	tip, maxFee, err := t.calculateCancelFee(ctx)
	if err != nil {
		return common.Hash{}, err
	}
	tx := makeCancellationTransaction(chainID, nonce, t.signer.Address(), tip, maxFee)
	t.log.Info("cancelling transaction", "nonce", nonce, "tipWei", tip, "maxFeeWei", maxFee)
	return t.signAndSend(ctx, tx)
}

func (t *Tracker) signAndSend(ctx context.Context, tx *types.Transaction) (common.Hash, error) {
	signed, err := t.signer.SignTx(tx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("txtracker: sign transaction: %w", err)
	}
	if err := t.chain.SendTransaction(ctx, signed); err != nil {
		t.log.Error("transaction broadcast failed", "nonce", signed.Nonce(), "err", err)
		return common.Hash{}, fmt.Errorf("txtracker: send raw transaction: %w", err)
	}
	t.log.Info("broadcast transaction", "nonce", signed.Nonce(), "txHash", signed.Hash().Hex())
	return signed.Hash(), nil
}

func isNotFound(err error) bool {
	return err != nil && (err == ethereum.NotFound || err.Error() == ethereum.NotFound.Error())
}

// run is the periodic tick body (spec §4.3/§7): every tracked transaction
// is either dropped for having exceeded timeout, sped up, found already
// finalized, or left alone after an RPC error or a spending-cap refusal.
// It never mutates the tracked set while iterating its snapshot.
func (t *Tracker) run(ctx context.Context) error {
	txs := t.state.snapshot()
	if len(txs) == 0 {
		return nil
	}

	limiter := rate.NewLimiter(rate.Every(t.rpcThrottle), 1)
	replacements := make(map[uint64]common.Hash)
	var finalized []uint64

	for _, tx := range txs {
		if time.Since(tx.FirstSeen) > t.timeout {
			t.log.Warn("transaction exceeded timeout, dropping from tracking", "nonce", tx.Nonce, "txHash", tx.TxHash.Hex())
			finalized = append(finalized, tx.Nonce)
			continue
		}

		if err := limiter.Wait(ctx); err != nil {
			return err
		}

		newHash, err := t.SpeedupTransaction(ctx, tx.TxHash)
		switch {
		case err == nil:
			replacements[tx.Nonce] = newHash
		case errors.Is(err, ErrTransactionFinalized):
			t.log.Info("transaction finalized", "nonce", tx.Nonce, "txHash", tx.TxHash.Hex())
			finalized = append(finalized, tx.Nonce)
		case errors.Is(err, ErrSpendingCapExceeded):
			t.log.Warn("speed-up would exceed spending cap, leaving transaction in place", "nonce", tx.Nonce, "txHash", tx.TxHash.Hex())
		default:
			t.log.Error("failed to speed up transaction, will retry next tick", "nonce", tx.Nonce, "err", err)
		}
	}

	if err := t.Track(replacements); err != nil {
		return err
	}
	return t.Untrack(finalized)
}
