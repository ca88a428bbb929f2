package submitter

import (
	"context"
	"math"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tranvictor/submitter/testutil"
)

func TestApplyGasBuffer(t *testing.T) {
	tests := []struct {
		name      string
		estimated uint64
		percent   float64
		extra     uint64
		expected  uint64
	}{
		{"applies 40% buffer correctly", 50000, 0.40, 0, 70000},
		{"applies buffer before extraGasLimit", 50000, 0.40, 5000, 75000},
		{"no buffer when gasBufferPercent is 0", 50000, 0, 0, 50000},
		{"100% buffer doubles the gas", 50000, 1.0, 0, 100000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, applyGasBuffer(tt.estimated, tt.percent, tt.extra))
		})
	}
}

func TestGasPricer_NeverDecreases(t *testing.T) {
	ctx := context.Background()
	fc := testutil.NewFakeChain(testutil.ChainIDDev)
	p := newGasPricer(fc, nil, false)

	steps := []struct {
		network  int64
		factor   float64
		expected int64
	}{
		{10, 1.0, 10},
		// network price dropped, the high water mark still applies
		{5, 1.2, 12},
		{20, 1.0, 20},
		// a factor below one cannot undercut the previous attempt
		{1, 0.5, 20},
		{30, 2.0, 60},
	}
	for i, step := range steps {
		fc.SetGasPrice(testutil.Gwei(step.network))
		price, tip, err := p.next(ctx, step.factor)
		require.NoError(t, err)
		assert.Nil(t, tip)
		assert.Equal(t, testutil.Gwei(step.expected).String(), price.String(), "step %d", i)
	}
}

func TestGasPricer_Explicit(t *testing.T) {
	fc := testutil.NewFakeChain(testutil.ChainIDDev)
	fc.SetGasPrice(testutil.Gwei(100))
	p := newGasPricer(fc, testutil.Gwei(3), false)

	price, _, err := p.next(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, testutil.Gwei(6).String(), price.String())
}

func TestGasPricer_DynamicTipCappedByPrice(t *testing.T) {
	fc := testutil.NewFakeChain(testutil.ChainIDDev)
	p := newGasPricer(fc, big.NewInt(50_000_000), true)

	// tip suggestion of the fake chain is 0.1 gwei, above the 0.05 gwei price
	price, tip, err := p.next(context.Background(), 1)
	require.NoError(t, err)
	require.NotNil(t, tip)
	assert.Equal(t, price.String(), tip.String())

	price, tip, err = p.next(context.Background(), 4)
	require.NoError(t, err)
	assert.Equal(t, "200000000", price.String())
	assert.Equal(t, "200000000", tip.String())
}

func TestScale(t *testing.T) {
	x := big.NewInt(1_000_000_007)
	assert.Equal(t, "1200000008", scale(x, 1.2).String())
	assert.Equal(t, "500000004", scale(x, 0.5).String())
	for _, factor := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		got := scale(x, factor)
		require.NotNil(t, got)
		assert.Equal(t, x.String(), got.String(), "factor %v", factor)
	}
}

func TestBigMax(t *testing.T) {
	assert.Nil(t, bigMax(nil, nil))
	assert.Equal(t, int64(3), bigMax(nil, big.NewInt(3)).Int64())
	assert.Equal(t, int64(3), bigMax(big.NewInt(3), nil).Int64())
	assert.Equal(t, int64(5), bigMax(big.NewInt(3), big.NewInt(5)).Int64())
}
