package txtracker

import (
	"context"
	"math/big"
	"sync"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// fakeTx pairs a transaction with the mempool/inclusion state the fake
// chain reports for it.
type fakeTx struct {
	tx        *types.Transaction
	isPending bool
}

// fakeChain is an in-memory ChainClient for exercising Tracker without a
// real node, grounded on the teacher's own test doubles for ethclient.
type fakeChain struct {
	mu sync.Mutex

	pendingNonce uint64
	latestNonce  uint64
	chainID      *big.Int
	tip          *big.Int
	headers      map[int64]*types.Header
	latest       *types.Header

	txs  map[common.Hash]fakeTx
	sent []*types.Transaction

	sendErr error
}

func newFakeChain() *fakeChain {
	latest := &types.Header{Number: big.NewInt(1_000_000), BaseFee: big.NewInt(30_000_000_000), Time: 1_700_000_000}
	return &fakeChain{
		chainID: big.NewInt(1337),
		tip:     big.NewInt(1_000_000_000), // 1 gwei
		headers: map[int64]*types.Header{latest.Number.Int64(): latest},
		latest:  latest,
		txs:     make(map[common.Hash]fakeTx),
	}
}

func (c *fakeChain) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pendingNonce, nil
}

func (c *fakeChain) NonceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.latestNonce, nil
}

func (c *fakeChain) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if number == nil {
		return c.latest, nil
	}
	h, ok := c.headers[number.Int64()]
	if !ok {
		return nil, ethereum.NotFound
	}
	return h, nil
}

func (c *fakeChain) SuggestGasTipCap(ctx context.Context) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return new(big.Int).Set(c.tip), nil
}

func (c *fakeChain) TransactionByHash(ctx context.Context, txHash common.Hash) (*types.Transaction, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.txs[txHash]
	if !ok {
		return nil, false, ethereum.NotFound
	}
	return rec.tx, rec.isPending, nil
}

func (c *fakeChain) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.txs[txHash]
	if !ok || rec.isPending {
		return nil, ethereum.NotFound
	}
	return &types.Receipt{TxHash: txHash, Status: types.ReceiptStatusSuccessful}, nil
}

func (c *fakeChain) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	c.sent = append(c.sent, tx)
	c.txs[tx.Hash()] = fakeTx{tx: tx, isPending: true}
	return nil
}

func (c *fakeChain) ChainID(ctx context.Context) (*big.Int, error) {
	return c.chainID, nil
}

// addPending registers hash as an in-flight transaction the fake chain
// will answer TransactionByHash/SpeedupTransaction calls about.
func (c *fakeChain) addPending(tx *types.Transaction) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.txs[tx.Hash()] = fakeTx{tx: tx, isPending: true}
}

// finalize marks hash as mined, so a future SpeedupTransaction call sees
// it as no longer pending.
func (c *fakeChain) finalize(hash common.Hash) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec := c.txs[hash]
	rec.isPending = false
	c.txs[hash] = rec
}

func (c *fakeChain) sentCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sent)
}

// fakeSigner signs by stamping the sender's address into the tx's To field
// cache only conceptually; it returns tx unchanged since *types.Transaction
// is immutable and signature validity is outside this package's concerns.
type fakeSigner struct {
	address common.Address
}

func (s *fakeSigner) Address() common.Address {
	return s.address
}

func (s *fakeSigner) SignTx(tx *types.Transaction) (*types.Transaction, error) {
	return tx, nil
}
