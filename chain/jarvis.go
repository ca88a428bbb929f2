package chain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	jarviscommon "github.com/tranvictor/jarvis/common"
	"github.com/tranvictor/jarvis/networks"
	"github.com/tranvictor/jarvis/util"
)

// JarvisReader is the subset of the jarvis reader used by JarvisClient.
type JarvisReader interface {
	GetMinedNonce(addr string) (uint64, error)
	SuggestedGasSettings() (gasPrice float64, tipCapGwei float64, err error)
	EstimateExactGas(from, to string, gasPrice float64, value *big.Int, data []byte) (uint64, error)
	TxInfoFromHash(hash string) (jarviscommon.TxInfo, error)
	CurrentBlock() (uint64, error)
}

// JarvisBroadcaster is the subset of the jarvis broadcaster used by
// JarvisClient.
type JarvisBroadcaster interface {
	BroadcastTx(tx *types.Transaction) (hash string, broadcasted bool, err error)
}

// JarvisClient exposes jarvis' multi node reader and broadcaster as a Client.
// Jarvis calls do not take a context; cancellation is only checked before
// each call.
type JarvisClient struct {
	network     networks.Network
	reader      JarvisReader
	broadcaster JarvisBroadcaster
}

var _ Client = (*JarvisClient)(nil)

// NewJarvisClient builds the reader and broadcaster for network from the
// nodes jarvis knows about.
func NewJarvisClient(network networks.Network) (*JarvisClient, error) {
	r, err := util.EthReader(network)
	if err != nil {
		return nil, fmt.Errorf("couldn't get reader: %w", err)
	}
	b, err := util.EthBroadcaster(network)
	if err != nil {
		return nil, fmt.Errorf("couldn't get broadcaster: %w", err)
	}
	return NewJarvisClientWith(network, r, b), nil
}

// NewJarvisClientWith wraps already constructed jarvis components.
func NewJarvisClientWith(network networks.Network, r JarvisReader, b JarvisBroadcaster) *JarvisClient {
	return &JarvisClient{network: network, reader: r, broadcaster: b}
}

// Network the client talks to.
func (c *JarvisClient) Network() networks.Network {
	return c.network
}

func (c *JarvisClient) ChainID(ctx context.Context) (*big.Int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return new(big.Int).SetUint64(c.network.GetChainID()), nil
}

// NonceAt only supports the latest block.
func (c *JarvisClient) NonceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if blockNumber != nil {
		return 0, fmt.Errorf("jarvis reader cannot read nonce at block %s", blockNumber)
	}
	return c.reader.GetMinedNonce(account.Hex())
}

func (c *JarvisClient) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	gasPrice, _, err := c.reader.SuggestedGasSettings()
	if err != nil {
		return nil, err
	}
	return jarviscommon.GweiToWei(gasPrice), nil
}

func (c *JarvisClient) SuggestGasTipCap(ctx context.Context) (*big.Int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	_, tipCap, err := c.reader.SuggestedGasSettings()
	if err != nil {
		return nil, err
	}
	return jarviscommon.GweiToWei(tipCap), nil
}

func (c *JarvisClient) BlockNumber(ctx context.Context) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return c.reader.CurrentBlock()
}

// TransactionReceipt maps jarvis' pending and not found states to
// ethereum.NotFound.
func (c *JarvisClient) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	info, err := c.reader.TxInfoFromHash(txHash.Hex())
	if err != nil {
		return nil, err
	}
	if info.Receipt == nil {
		return nil, ethereum.NotFound
	}
	return info.Receipt, nil
}

func (c *JarvisClient) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	to := ""
	if msg.To != nil {
		to = msg.To.Hex()
	}
	gasPrice := 0.0
	if msg.GasPrice != nil {
		gasPrice = jarviscommon.BigToFloat(msg.GasPrice, 9)
	}
	value := msg.Value
	if value == nil {
		value = big.NewInt(0)
	}
	return c.reader.EstimateExactGas(msg.From.Hex(), to, gasPrice, value, msg.Data)
}

// SendTransaction succeeds when at least one node accepted tx.
func (c *JarvisClient) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, broadcasted, err := c.broadcaster.BroadcastTx(tx)
	if broadcasted {
		return nil
	}
	if err != nil {
		return err
	}
	return ErrNotBroadcasted
}
