package finalization

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseWhat(t *testing.T) {
	for _, w := range []What{Receipt, Confirmations, NonceIncrease} {
		parsed, err := ParseWhat(w.String())
		require.NoError(t, err)
		assert.Equal(t, w, parsed)
	}
	_, err := ParseWhat("blocks")
	assert.ErrorIs(t, err, ErrInvalidPolicy)
}

func TestPolicy_Validate(t *testing.T) {
	tests := []struct {
		name    string
		policy  Policy
		wantErr bool
	}{
		{"receipt", ForReceipt(), false},
		{"confirmations", ForConfirmations(3), false},
		{"zero confirmations", ForConfirmations(0), true},
		{"nonce increase", ForNonceIncrease(time.Second, nil), false},
		{"nonce increase without poll", ForNonceIncrease(0, nil), true},
		{"negative timeout", ForReceipt().WithTimeout(-time.Second), true},
		{"unknown", Policy{What: What(9)}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.policy.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidPolicy)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestPolicy_String(t *testing.T) {
	assert.Equal(t, "receipt", ForReceipt().String())
	assert.Equal(t, "confirmations(3)", ForConfirmations(3).String())
	assert.Equal(t, "nonceIncrease(1s)", ForNonceIncrease(time.Second, &Extra{}).String())
	assert.Contains(t, ForNonceIncrease(time.Second, &Extra{Blocks: 2}).String(), "extra 2 blocks")
}
