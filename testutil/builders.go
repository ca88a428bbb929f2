package testutil

import (
	"crypto/ecdsa"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// NewLegacyTx creates an unsigned legacy transfer.
func NewLegacyTx(nonce uint64, to common.Address, value *big.Int, gasPrice *big.Int) *types.Transaction {
	return types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      21000,
		To:       &to,
		Value:    value,
	})
}

// SignedLegacyTx creates a legacy transfer signed by key for chainID.
func SignedLegacyTx(key *ecdsa.PrivateKey, chainID *big.Int, nonce uint64, gasPrice *big.Int) *types.Transaction {
	tx, err := types.SignTx(NewLegacyTx(nonce, TestAddr2, OneEth, gasPrice), types.LatestSignerForChainID(chainID), key)
	if err != nil {
		panic(err)
	}
	return tx
}

// NewReceipt creates a receipt for tx mined in blockNumber.
func NewReceipt(tx *types.Transaction, status uint64, blockNumber uint64) *types.Receipt {
	return &types.Receipt{
		Status:            status,
		TxHash:            tx.Hash(),
		BlockNumber:       new(big.Int).SetUint64(blockNumber),
		BlockHash:         common.BigToHash(new(big.Int).SetUint64(blockNumber)),
		GasUsed:           tx.Gas(),
		CumulativeGasUsed: tx.Gas(),
	}
}

// Gwei converts n gwei to wei.
func Gwei(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1_000_000_000))
}
