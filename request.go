package submitter

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/tranvictor/submitter/finalization"
)

// TxRequest represents a transaction request with builder pattern
type TxRequest struct {
	s *Submitter

	txType           uint8
	from             common.Address
	to               *common.Address
	value            *big.Int
	data             []byte
	gasLimit         uint64
	extraGasLimit    uint64
	gasBufferPercent float64
	gasPrice         *big.Int
	nonce            *uint64

	plan   Plan
	policy finalization.Policy

	beforeSendHook Hook
	afterSendHook  Hook
	txMinedHook    TxMinedHook

	idempotencyKey string
}

// R creates a new transaction request (similar to go-resty's R() method).
// The request inherits default configuration from the Submitter.
func (s *Submitter) R() *TxRequest {
	defaults := s.Defaults()
	return &TxRequest{
		s:                s,
		value:            big.NewInt(0),
		txType:           defaults.TxType,
		extraGasLimit:    defaults.ExtraGasLimit,
		gasBufferPercent: defaults.GasBufferPercent,
		plan:             append(Plan(nil), defaults.Plan...),
		policy:           defaults.Policy,
	}
}

// SetTxType sets the transaction type
func (r *TxRequest) SetTxType(txType uint8) *TxRequest {
	r.txType = txType
	return r
}

// SetFrom sets the from address
func (r *TxRequest) SetFrom(from common.Address) *TxRequest {
	r.from = from
	return r
}

// SetTo sets the to address
func (r *TxRequest) SetTo(to common.Address) *TxRequest {
	r.to = &to
	return r
}

// SetContractCreation clears the recipient, the transaction deploys data.
func (r *TxRequest) SetContractCreation() *TxRequest {
	r.to = nil
	return r
}

// SetValue sets the transaction value
func (r *TxRequest) SetValue(value *big.Int) *TxRequest {
	if value != nil {
		r.value = value
	}
	return r
}

// SetData sets the transaction data
func (r *TxRequest) SetData(data []byte) *TxRequest {
	r.data = data
	return r
}

// SetGasLimit sets the gas limit, 0 estimates it
func (r *TxRequest) SetGasLimit(gasLimit uint64) *TxRequest {
	r.gasLimit = gasLimit
	return r
}

// SetExtraGasLimit sets the extra gas limit
func (r *TxRequest) SetExtraGasLimit(extraGasLimit uint64) *TxRequest {
	r.extraGasLimit = extraGasLimit
	return r
}

// SetGasBufferPercent sets the share added to estimated gas limits
func (r *TxRequest) SetGasBufferPercent(percent float64) *TxRequest {
	r.gasBufferPercent = percent
	return r
}

// SetGasPrice fixes the base gas price in wei instead of asking the node.
// Price factors of the plan still apply.
func (r *TxRequest) SetGasPrice(gasPrice *big.Int) *TxRequest {
	r.gasPrice = gasPrice
	return r
}

// SetNonce skips reading the nonce from the chain.
func (r *TxRequest) SetNonce(nonce uint64) *TxRequest {
	r.nonce = &nonce
	return r
}

// SetPlan sets the resubmission plan
func (r *TxRequest) SetPlan(plan Plan) *TxRequest {
	r.plan = plan
	return r
}

// SetPolicy sets the finalization policy
func (r *TxRequest) SetPolicy(policy finalization.Policy) *TxRequest {
	r.policy = policy
	return r
}

// SetBeforeSendHook sets the hook called before signing each attempt
func (r *TxRequest) SetBeforeSendHook(hook Hook) *TxRequest {
	r.beforeSendHook = hook
	return r
}

// SetAfterSendHook sets the hook called after broadcasting each attempt
func (r *TxRequest) SetAfterSendHook(hook Hook) *TxRequest {
	r.afterSendHook = hook
	return r
}

// SetTxMinedHook sets the hook called with the final receipt
func (r *TxRequest) SetTxMinedHook(hook TxMinedHook) *TxRequest {
	r.txMinedHook = hook
	return r
}

// SetIdempotencyKey sets a unique key to prevent duplicate submissions.
// If the key already confirmed, the stored receipt is returned without
// sending anything. Requires an idempotency store on the Submitter.
func (r *TxRequest) SetIdempotencyKey(key string) *TxRequest {
	r.idempotencyKey = key
	return r
}

// Submit sends the request and waits for it to finalize.
func (r *TxRequest) Submit(ctx context.Context) (*types.Receipt, error) {
	return r.s.Submit(ctx, r)
}

func (r *TxRequest) validate() error {
	if r.from == (common.Address{}) {
		return ErrFromAddressZero
	}
	if r.txType != types.LegacyTxType && r.txType != types.DynamicFeeTxType {
		return ErrUnsupportedTxType
	}
	if err := r.plan.Validate(); err != nil {
		return err
	}
	return r.policy.Validate()
}
