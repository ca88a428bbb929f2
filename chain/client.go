// Package chain defines the chain client capabilities the submitter needs and
// a few adapters around them.
//
// The interfaces are kept minimal so that *ethclient.Client satisfies Client
// directly, while tests can use the in-memory chain from testutil.
package chain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

// Reader reads the chain state used for pricing and finalization.
type Reader interface {
	// NonceAt returns the transaction count of account at blockNumber, nil
	// meaning the latest block.
	NonceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
	// TransactionReceipt returns ethereum.NotFound while the tx is not mined.
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// Sender broadcasts signed transactions.
type Sender interface {
	SendTransaction(ctx context.Context, tx *types.Transaction) error
}

// Estimator estimates gas limits.
type Estimator interface {
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
}

// Client is the full capability set of one chain endpoint.
type Client interface {
	Reader
	Sender
	Estimator
	ChainID(ctx context.Context) (*big.Int, error)
}

var _ Client = (*ethclient.Client)(nil)

// Dial connects to an RPC endpoint.
func Dial(ctx context.Context, rawURL string) (*ethclient.Client, error) {
	return ethclient.DialContext(ctx, rawURL)
}
