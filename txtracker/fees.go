package txtracker

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"
	"github.com/holiman/uint256"
)

// FeePolicy is the Go binding of spec §3's FeePolicy entity.
type FeePolicy struct {
	MaxTip           *big.Int
	BumpFactor       float64
	CancelBumpFactor float64
}

// DefaultBumpFactor and DefaultCancelBumpFactor match spec §3's defaults.
const (
	DefaultBumpFactor       = 1.2
	DefaultCancelBumpFactor = 2.0
)

// gweiToFloat renders wei as a gwei *big.Float for log lines, following
// go-ethereum's own wei<->gwei convention (1 gwei = 1e9 wei).
func gweiToFloat(wei *big.Int) *big.Float {
	if wei == nil {
		return new(big.Float)
	}
	return new(big.Float).Quo(new(big.Float).SetInt(wei), big.NewFloat(1e9))
}

func logGasWeather(logger log.Logger, baseFee, tip *big.Int) {
	logger.Info("current gas conditions",
		"baseFeeGwei", gweiToFloat(baseFee).Text('f', 4),
		"tipGwei", gweiToFloat(tip).Text('f', 4),
	)
}

// bumpUint256 multiplies wei by factor (expressed as a float) and rounds to
// the nearest integer, matching the Python reference's round(x * factor).
// The multiplication is done on a big.Float; the rounded result is passed
// through a uint256.Int and converted back to *big.Int (a result that does
// not fit in 256 bits is returned as the plain *big.Int).
func bumpUint256(wei *big.Int, factor float64) *big.Int {
	if wei == nil {
		wei = new(big.Int)
	}
	scaled := new(big.Float).Mul(new(big.Float).SetInt(wei), big.NewFloat(factor))
	scaled.Add(scaled, big.NewFloat(0.5)) // big.Float.Int truncates; bias to round-to-nearest
	rounded, _ := scaled.Int(nil)
	u, overflow := uint256.FromBig(rounded)
	if overflow {
		return rounded
	}
	return u.ToBig()
}

func maxBig(a, b *big.Int) *big.Int {
	if a.Cmp(b) >= 0 {
		return a
	}
	return b
}

// calculateSpeedupFee computes (newTip, newMaxFeePerGas) for a replacement
// of tx, per spec §4.3: "new_tip = round(max(existing_tx.tip, current_tip)
// * 1.2); new_max_fee = round(max(existing_tx.max_fee * 1.2, 2*base_fee +
// new_tip))".
func (t *Tracker) calculateSpeedupFee(ctx context.Context, tx *types.Transaction) (newTip, newMaxFee *big.Int, err error) {
	header, err := t.chain.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("txtracker: fetch latest header: %w", err)
	}
	currentTip, err := t.chain.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("txtracker: suggest gas tip cap: %w", err)
	}
	baseFee := header.BaseFee

	logGasWeather(t.log, baseFee, currentTip)

	increasedTip := bumpUint256(maxBig(tx.GasTipCap(), currentTip), t.feePolicy.BumpFactor)
	bumpedExisting := bumpUint256(tx.GasFeeCap(), t.feePolicy.BumpFactor)
	floor := new(big.Int).Add(new(big.Int).Mul(baseFee, big.NewInt(2)), increasedTip)
	newMaxFee = maxBig(bumpedExisting, floor)

	return increasedTip, newMaxFee, nil
}

// calculateCancelFee computes (tip, maxFeePerGas) for a cancellation
// replacement, per spec §4.3: "tip = current_tip * 2; max_fee = 2*base_fee
// + tip."
func (t *Tracker) calculateCancelFee(ctx context.Context) (tip, maxFee *big.Int, err error) {
	header, err := t.chain.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("txtracker: fetch latest header: %w", err)
	}
	currentTip, err := t.chain.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("txtracker: suggest gas tip cap: %w", err)
	}
	tip = bumpUint256(currentTip, t.feePolicy.CancelBumpFactor)
	maxFee = new(big.Int).Add(new(big.Int).Mul(header.BaseFee, big.NewInt(2)), tip)
	return tip, maxFee, nil
}

// makeSpeedupTransaction builds a fresh type-2 replacement envelope for
// tx. Because it is built from scratch via types.NewTx rather than by
// mutating an RPC response object, it structurally cannot carry over the
// block-inclusion metadata, legacy gasPrice, or raw input payload that the
// Python reference has to explicitly strip in _prepare_transaction.
func (t *Tracker) makeSpeedupTransaction(chainID *big.Int, tx *types.Transaction, tip, maxFee *big.Int) *types.Transaction {
	return types.NewTx(&types.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     tx.Nonce(),
		GasTipCap: tip,
		GasFeeCap: maxFee,
		Gas:       tx.Gas(),
		To:        tx.To(),
		Value:     tx.Value(),
		Data:      tx.Data(),
	})
}

// cancelGas is the fixed gas limit for a zero-value self-send cancellation,
// per spec §4.3.
const cancelGas = 21000

// makeCancellationTransaction builds the zero-value self-send cancellation
// envelope described in spec §4.3.
func makeCancellationTransaction(chainID *big.Int, nonce uint64, from common.Address, tip, maxFee *big.Int) *types.Transaction {
	return types.NewTx(&types.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: maxFee,
		Gas:       cancelGas,
		To:        &from,
		Value:     big.NewInt(0),
	})
}
