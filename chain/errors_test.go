package chain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core"
	"github.com/ethereum/go-ethereum/core/txpool"
	"github.com/stretchr/testify/assert"
)

func TestIsReplacement(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"wrapped nonce too low", fmt.Errorf("send: %w", core.ErrNonceTooLow), true},
		{"rpc nonce too low", errors.New("nonce too low: address 0xabc, tx: 1 state: 2"), true},
		{"underpriced", errors.New("replacement transaction underpriced"), true},
		{"already known", txpool.ErrAlreadyKnown, true},
		{"insufficient funds", core.ErrInsufficientFunds, false},
		{"random", errors.New("connection refused"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsReplacement(tt.err))
		})
	}
}

func TestIsNotFound(t *testing.T) {
	assert.True(t, IsNotFound(ethereum.NotFound))
	assert.True(t, IsNotFound(errors.New("transaction indexing in progress")))
	assert.False(t, IsNotFound(errors.New("boom")))
	assert.False(t, IsNotFound(nil))
}

func TestIsExecutionReverted(t *testing.T) {
	assert.True(t, IsExecutionReverted(errors.New("execution reverted: not owner")))
	assert.False(t, IsExecutionReverted(nil))
}
