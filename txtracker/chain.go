package txtracker

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// ChainClient is the minimal structural subset of *ethclient.Client's
// method set the tracker needs. A real *ethclient.Client satisfies this
// interface with no adapter; tests use a fake. This binds spec §6's RPC
// dependency list ("get_transaction_count", "get_block", "max_priority_fee",
// "get_transaction", "get_transaction_receipt", "send_raw_transaction",
// "chain_id") onto go-ethereum's real client API one-for-one:
//
//	get_transaction_count(addr, 'pending') -> PendingNonceAt
//	get_transaction_count(addr, 'latest')  -> NonceAt(ctx, addr, nil)
//	get_block('latest')                    -> HeaderByNumber(ctx, nil)
//	get_block(n)                           -> HeaderByNumber(ctx, n)
//	max_priority_fee                       -> SuggestGasTipCap
//	get_transaction(hash)                  -> TransactionByHash
//	get_transaction_receipt(hash)          -> TransactionReceipt
//	send_raw_transaction(signed)           -> SendTransaction
//	chain_id                               -> ChainID
type ChainClient interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	NonceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (uint64, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	TransactionByHash(ctx context.Context, txHash common.Hash) (tx *types.Transaction, isPending bool, err error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	ChainID(ctx context.Context) (*big.Int, error)
}

// Signer produces a signed copy of a transaction without ever exposing the
// private key to the tracker, per spec §6: "The tracker never holds the
// private key itself." Its shape mirrors go-ethereum's
// accounts/abi/bind.SignerFn / bind.TransactOpts.Signer.
type Signer interface {
	Address() common.Address
	SignTx(tx *types.Transaction) (*types.Transaction, error)
}
