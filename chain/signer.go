package chain

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/tranvictor/jarvis/util/account"
)

// Signer signs transactions for one address.
type Signer interface {
	Address() common.Address
	Sign(ctx context.Context, tx *types.Transaction) (*types.Transaction, error)
}

// PkSigner signs with an in-memory private key.
type PkSigner struct {
	pk      *ecdsa.PrivateKey
	address common.Address
	chainID *big.Int
}

var _ Signer = (*PkSigner)(nil)

func NewPkSigner(pk *ecdsa.PrivateKey, chainID *big.Int) *PkSigner {
	return &PkSigner{
		pk:      pk,
		address: crypto.PubkeyToAddress(pk.PublicKey),
		chainID: chainID,
	}
}

// NewPkSignerFromHex parses a hex encoded private key, with or without 0x.
func NewPkSignerFromHex(hexKey string, chainID *big.Int) (*PkSigner, error) {
	if len(hexKey) > 1 && hexKey[:2] == "0x" {
		hexKey = hexKey[2:]
	}
	pk, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return NewPkSigner(pk, chainID), nil
}

func (s *PkSigner) Address() common.Address {
	return s.address
}

func (s *PkSigner) Sign(_ context.Context, tx *types.Transaction) (*types.Transaction, error) {
	return types.SignTx(tx, types.LatestSignerForChainID(s.chainID), s.pk)
}

// JarvisSigner signs with a jarvis account.
type JarvisSigner struct {
	acc     *account.Account
	chainID *big.Int
}

var _ Signer = (*JarvisSigner)(nil)

func NewJarvisSigner(acc *account.Account, chainID *big.Int) *JarvisSigner {
	return &JarvisSigner{acc: acc, chainID: chainID}
}

func (s *JarvisSigner) Address() common.Address {
	return s.acc.Address()
}

func (s *JarvisSigner) Sign(_ context.Context, tx *types.Transaction) (*types.Transaction, error) {
	signer, signed, err := s.acc.SignTx(tx, s.chainID)
	if err != nil {
		return nil, err
	}
	if signer != s.acc.Address() {
		return nil, fmt.Errorf("signed by %s, expected %s", signer.Hex(), s.acc.Address().Hex())
	}
	return signed, nil
}
