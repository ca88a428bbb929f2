package submitter

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/tranvictor/submitter/finalization"
)

const (
	DefaultLockWaitTimeout  = 2 * time.Minute
	DefaultReplacedGrace    = 5 * time.Second
	DefaultNonceSyncTimeout = 30 * time.Second
	DefaultNonceSyncPoll    = 100 * time.Millisecond
)

// ResubmitEntry schedules one broadcast After the submission started, priced
// at PriceFactor times the highest network gas price seen so far.
type ResubmitEntry struct {
	After       time.Duration
	PriceFactor float64
}

// Plan lists the broadcasts of one submission. All of them reuse the same
// nonce.
type Plan []ResubmitEntry

// DefaultPlan sends once at the network price.
func DefaultPlan() Plan {
	return Plan{{After: 0, PriceFactor: 1}}
}

// Normalize returns a copy of p ordered by delay, with an immediate
// {0, 1} entry prepended when no entry fires at submission start.
func (p Plan) Normalize() Plan {
	out := make(Plan, 0, len(p)+1)
	hasImmediate := false
	for _, e := range p {
		if e.After == 0 {
			hasImmediate = true
		}
	}
	if !hasImmediate {
		out = append(out, ResubmitEntry{After: 0, PriceFactor: 1})
	}
	out = append(out, p...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].After < out[j].After })
	return out
}

func (p Plan) Validate() error {
	for i, e := range p {
		if e.After < 0 {
			return fmt.Errorf("%w: entry %d has negative delay %s", ErrInvalidPlan, i, e.After)
		}
		if !(e.PriceFactor > 0) || math.IsInf(e.PriceFactor, 1) {
			return fmt.Errorf("%w: entry %d has price factor %v, want a positive finite number", ErrInvalidPlan, i, e.PriceFactor)
		}
	}
	return nil
}

// Defaults holds configuration inherited by every TxRequest built with R.
type Defaults struct {
	Plan   Plan
	Policy finalization.Policy
	// TxType is types.LegacyTxType or types.DynamicFeeTxType.
	TxType uint8

	ExtraGasLimit uint64
	// GasBufferPercent is added on top of estimated gas limits, 0.2 = 20%.
	GasBufferPercent float64

	// ReplacedGrace is how long receipt waits keep going after an attempt
	// failed because its nonce was taken or replaced, so that the attempt
	// which took it can still report its receipt.
	ReplacedGrace time.Duration
	// NonceSyncTimeout bounds how long a stale on-chain nonce is re-read.
	NonceSyncTimeout time.Duration
}

func defaultDefaults() Defaults {
	return Defaults{
		Plan:             DefaultPlan(),
		Policy:           finalization.ForReceipt(),
		ReplacedGrace:    DefaultReplacedGrace,
		NonceSyncTimeout: DefaultNonceSyncTimeout,
	}
}
