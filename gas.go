package submitter

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/big"
	"sync"

	"github.com/tranvictor/submitter/chain"
)

// gasPricer prices the attempts of one submission. It keeps the highest
// base price seen so far and never returns less than the previous price, so
// every attempt is a valid replacement of the ones before it even when the
// network price drops in between.
type gasPricer struct {
	mu     sync.Mutex
	client chain.Reader
	// explicit replaces the network price when set.
	explicit *big.Int
	dynamic  bool

	highWater    *big.Int
	tipHighWater *big.Int
	lastPrice    *big.Int
	lastTip      *big.Int
}

func newGasPricer(client chain.Reader, explicit *big.Int, dynamic bool) *gasPricer {
	return &gasPricer{client: client, explicit: explicit, dynamic: dynamic}
}

// next returns the gas price (fee cap for dynamic fee transactions) and tip
// cap of the next attempt. Tip is nil for legacy transactions.
func (p *gasPricer) next(ctx context.Context, factor float64) (price, tip *big.Int, err error) {
	base := p.explicit
	if base == nil {
		base, err = p.client.SuggestGasPrice(ctx)
		if err != nil {
			return nil, nil, errors.Join(ErrGetGasPriceFailed, fmt.Errorf("couldn't get gas price: %w", err))
		}
	}
	var baseTip *big.Int
	if p.dynamic {
		baseTip, err = p.client.SuggestGasTipCap(ctx)
		if err != nil {
			return nil, nil, errors.Join(ErrGetGasPriceFailed, fmt.Errorf("couldn't get tip cap: %w", err))
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.highWater = bigMax(p.highWater, base)
	price = bigMax(scale(p.highWater, factor), p.lastPrice)
	p.lastPrice = price

	if p.dynamic {
		p.tipHighWater = bigMax(p.tipHighWater, baseTip)
		tip = bigMax(scale(p.tipHighWater, factor), p.lastTip)
		if tip.Cmp(price) > 0 {
			tip = new(big.Int).Set(price)
		}
		p.lastTip = tip
		tip = new(big.Int).Set(tip)
	}
	return new(big.Int).Set(price), tip, nil
}

// scale returns x*factor rounded to the nearest integer. A factor that is
// not a finite number leaves x unchanged.
func scale(x *big.Int, factor float64) *big.Int {
	if math.IsNaN(factor) || math.IsInf(factor, 0) {
		return new(big.Int).Set(x)
	}
	f := new(big.Float).SetInt(x)
	f.Mul(f, big.NewFloat(factor))
	f.Add(f, big.NewFloat(0.5))
	out, _ := f.Int(nil)
	return out
}

// bigMax treats nil as smaller than any value.
func bigMax(a, b *big.Int) *big.Int {
	if a == nil {
		return b
	}
	if b == nil || a.Cmp(b) >= 0 {
		return a
	}
	return b
}

// applyGasBuffer adds percent of estimated and then extra to an estimated gas
// limit.
func applyGasBuffer(estimated uint64, percent float64, extra uint64) uint64 {
	return estimated + uint64(float64(estimated)*percent) + extra
}
