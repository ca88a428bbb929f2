package testutil

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	// TestAddr1 is a plain address used where no key is needed
	TestAddr1 = common.HexToAddress("0x1111111111111111111111111111111111111111")
	// TestAddr2 is the default recipient
	TestAddr2 = common.HexToAddress("0x2222222222222222222222222222222222222222")
	// TestAddr3 is an additional test address
	TestAddr3 = common.HexToAddress("0x3333333333333333333333333333333333333333")
)

var (
	TestPrivateKeyHex      = "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"
	TestPrivateKey1, _     = crypto.HexToECDSA(TestPrivateKeyHex)
	TestPrivateKey1Address = crypto.PubkeyToAddress(TestPrivateKey1.PublicKey)

	TestPrivateKey2, _     = crypto.HexToECDSA("fedcba9876543210fedcba9876543210fedcba9876543210fedcba9876543210")
	TestPrivateKey2Address = crypto.PubkeyToAddress(TestPrivateKey2.PublicKey)
)

var (
	// OneEth represents 1 ETH in wei
	OneEth = big.NewInt(1000000000000000000)
	// TwentyGwei represents 20 gwei
	TwentyGwei = big.NewInt(20000000000)
	// TwoGwei represents 2 gwei
	TwoGwei = big.NewInt(2000000000)
)

var (
	ChainIDMainnet = big.NewInt(1)
	// ChainIDDev is the chain id used by the fake chain in tests
	ChainIDDev = big.NewInt(1337)
)
