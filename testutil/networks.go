package testutil

import (
	"strconv"
	"time"
)

// MockNetwork is a jarvis network that never touches real nodes.
type MockNetwork struct {
	ChainIDValue       uint64
	NameValue          string
	SyncTxSupported    bool
	BlockTimeValue     time.Duration
	GasPriceValue      float64
	NodeVariableName   string
	NativeTokenSymbol  string
	NativeTokenDecimal uint64
}

// NewMockNetwork creates a network with mainnet like defaults.
func NewMockNetwork(chainID uint64, name string, syncTxSupported bool) *MockNetwork {
	return &MockNetwork{
		ChainIDValue:       chainID,
		NameValue:          name,
		SyncTxSupported:    syncTxSupported,
		BlockTimeValue:     12 * time.Second,
		GasPriceValue:      20.0,
		NodeVariableName:   "MOCK_NODE",
		NativeTokenSymbol:  "ETH",
		NativeTokenDecimal: 18,
	}
}

// Network interface implementation

func (m *MockNetwork) GetName() string                            { return m.NameValue }
func (m *MockNetwork) GetChainID() uint64                         { return m.ChainIDValue }
func (m *MockNetwork) GetAlternativeNames() []string              { return nil }
func (m *MockNetwork) GetNativeTokenSymbol() string               { return m.NativeTokenSymbol }
func (m *MockNetwork) GetNativeTokenDecimal() uint64              { return m.NativeTokenDecimal }
func (m *MockNetwork) GetBlockTime() time.Duration                { return m.BlockTimeValue }
func (m *MockNetwork) GetNodeVariableName() string                { return m.NodeVariableName }
func (m *MockNetwork) GetDefaultNodes() map[string]string         { return nil }
func (m *MockNetwork) GetBlockExplorerAPIKeyVariableName() string { return "" }
func (m *MockNetwork) GetBlockExplorerAPIURL() string             { return "" }
func (m *MockNetwork) RecommendedGasPrice() (float64, error)      { return m.GasPriceValue, nil }
func (m *MockNetwork) GetABIString(address string) (string, error) {
	return "", nil
}
func (m *MockNetwork) IsSyncTxSupported() bool   { return m.SyncTxSupported }
func (m *MockNetwork) MultiCallContract() string { return "" }
func (m *MockNetwork) MarshalJSON() ([]byte, error) {
	return []byte(`{"chainID":` + strconv.FormatUint(m.ChainIDValue, 10) + `}`), nil
}
func (m *MockNetwork) UnmarshalJSON([]byte) error { return nil }
