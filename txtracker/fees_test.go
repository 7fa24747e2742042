package txtracker

import (
	"context"
	"math/big"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTracker(t *testing.T, chain *fakeChain, maxTipGwei int64) (*Tracker, *fakeSigner) {
	t.Helper()
	signer := &fakeSigner{address: common.HexToAddress("0xA11CE")}
	maxTip := new(big.Int).Mul(big.NewInt(maxTipGwei), big.NewInt(1_000_000_000))
	path := filepath.Join(t.TempDir(), "txs-cache.json")
	tr := New(chain, signer, maxTip, 0, path)
	return tr, signer
}

func TestCalculateSpeedupFeeBumpsTipAndFee(t *testing.T) {
	chain := newFakeChain()
	chain.tip = big.NewInt(500_000_000) // 0.5 gwei, below tx's own tip
	tr, _ := newTestTracker(t, chain, 50)

	existing := types.NewTx(&types.DynamicFeeTx{
		ChainID:   chain.chainID,
		Nonce:     7,
		GasTipCap: big.NewInt(1_000_000_000), // 1 gwei
		GasFeeCap: big.NewInt(10_000_000_000),
		Gas:       21000,
		Value:     big.NewInt(0),
	})

	newTip, newMaxFee, err := tr.calculateSpeedupFee(context.Background(), existing)
	require.NoError(t, err)

	// max(1 gwei existing, 0.5 gwei suggested) * 1.2 = 1.2 gwei
	assert.Equal(t, big.NewInt(1_200_000_000), newTip)

	// floor = 2*baseFee + newTip = 2*30 + 1.2 = 61.2 gwei; bumpedExisting = 10*1.2 = 12 gwei
	floor := new(big.Int).Add(new(big.Int).Mul(chain.latest.BaseFee, big.NewInt(2)), newTip)
	assert.Equal(t, floor, newMaxFee)
}

func TestCalculateCancelFeeDoublesTip(t *testing.T) {
	chain := newFakeChain()
	tr, _ := newTestTracker(t, chain, 50)

	tip, maxFee, err := tr.calculateCancelFee(context.Background())
	require.NoError(t, err)

	assert.Equal(t, new(big.Int).Mul(chain.tip, big.NewInt(2)), tip)
	expectedMaxFee := new(big.Int).Add(new(big.Int).Mul(chain.latest.BaseFee, big.NewInt(2)), tip)
	assert.Equal(t, expectedMaxFee, maxFee)
}

func TestSpeedupTransactionRespectsSpendingCap(t *testing.T) {
	chain := newFakeChain()
	chain.tip = big.NewInt(9_000_000_000) // 9 gwei suggested tip
	tr, _ := newTestTracker(t, chain, 10)  // max tip 10 gwei

	existing := types.NewTx(&types.DynamicFeeTx{
		ChainID:   chain.chainID,
		Nonce:     42,
		GasTipCap: big.NewInt(8_000_000_000), // 8 gwei
		GasFeeCap: big.NewInt(80_000_000_000),
		Gas:       21000,
		Value:     big.NewInt(0),
	})
	chain.addPending(existing)

	_, err := tr.SpeedupTransaction(context.Background(), existing.Hash())
	require.ErrorIs(t, err, ErrSpendingCapExceeded)
	assert.Equal(t, 0, chain.sentCount(), "no replacement should be broadcast when the new tip exceeds the cap")
}

func TestSpeedupTransactionFinalized(t *testing.T) {
	chain := newFakeChain()
	tr, _ := newTestTracker(t, chain, 50)

	existing := types.NewTx(&types.DynamicFeeTx{ChainID: chain.chainID, Nonce: 1, GasTipCap: big.NewInt(1), GasFeeCap: big.NewInt(1), Gas: 21000, Value: big.NewInt(0)})
	chain.addPending(existing)
	chain.finalize(existing.Hash())

	_, err := tr.SpeedupTransaction(context.Background(), existing.Hash())
	require.ErrorIs(t, err, ErrTransactionFinalized)
}

func TestSpeedupTransactionNotFoundTreatedAsFinalized(t *testing.T) {
	chain := newFakeChain()
	tr, _ := newTestTracker(t, chain, 50)

	_, err := tr.SpeedupTransaction(context.Background(), common.HexToHash("0xdead"))
	require.ErrorIs(t, err, ErrTransactionFinalized)
}
