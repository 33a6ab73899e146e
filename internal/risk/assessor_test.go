package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snackshell/KeenAI-Quant/internal/types"
)

func newAssessor() *Assessor {
	return NewAssessor(DefaultSettings())
}

func TestSizeNeverExceedsCap(t *testing.T) {
	a := newAssessor()

	assert.Equal(t, 25.0, a.Size(10_000, 100, 98))

	size := a.Size(10_000, 1.1, 1.09)
	assert.LessOrEqual(t, size, a.MaxSize(10_000, 1.1))
	assert.InDelta(t, 2272.7272, size, 1e-9)

	t.Run("entry equals stop", func(t *testing.T) {
		assert.Equal(t, 0.01, a.Size(10_000, 100, 100))
		tiny := a.Size(1, 100, 100)
		assert.LessOrEqual(t, tiny, a.MaxSize(1, 100))
		assert.Greater(t, tiny, 0.0)
	})

	for _, balance := range []float64{50, 1_000, 10_000, 250_000} {
		for _, entry := range []float64{0.5, 1.1, 1900, 42_000} {
			for _, dist := range []float64{0, 1e-6, 0.001, 0.5, 10} {
				got := a.Size(balance, entry, entry-dist)
				assert.LessOrEqual(t, got, a.MaxSize(balance, entry), "balance=%v entry=%v dist=%v", balance, entry, dist)
			}
		}
	}

	assert.Equal(t, 0.0, a.Size(0, 100, 98))
}

func TestStopAndTarget(t *testing.T) {
	a := newAssessor()

	stop, err := a.StopFromATR(1.1, 0.001, 2, types.Buy)
	require.NoError(t, err)
	assert.InDelta(t, 1.098, stop, 1e-12)
	stop, err = a.StopFromATR(1.1, 0.001, 2, types.Sell)
	require.NoError(t, err)
	assert.InDelta(t, 1.102, stop, 1e-12)
	_, err = a.StopFromATR(1.1, 0.001, 2, types.Hold)
	assert.Error(t, err)

	tp, err := a.TakeProfit(1.1, 1.098, 0, types.Buy)
	require.NoError(t, err)
	assert.InDelta(t, 1.103, tp, 1e-12)
	tp, err = a.TakeProfit(100, 102, 2, types.Sell)
	require.NoError(t, err)
	assert.InDelta(t, 96, tp, 1e-12)

	assert.Equal(t, 2.0, RiskReward(100, 98, 104))
	assert.Equal(t, 0.0, RiskReward(100, 100, 104))
}

func TestValidateOrder(t *testing.T) {
	a := newAssessor()
	valid := types.TradingSignal{Instrument: "BTC/USD", Direction: types.Buy, Confidence: 0.8, EntryPrice: 100, StopLoss: 98, TakeProfit: 104, Size: 10}
	account := types.Account{Balance: 10_000, Equity: 10_000, MarginAvailable: 10_000}

	v := a.Validate(valid, account)
	require.True(t, v.Approved, v.Reason)

	cases := []struct {
		name   string
		mutate func(*types.TradingSignal, *types.Account)
		check  string
	}{
		{"risk reward", func(s *types.TradingSignal, _ *types.Account) { s.TakeProfit = 101 }, CheckRiskReward},
		{"size cap", func(s *types.TradingSignal, _ *types.Account) { s.Size = 30 }, CheckSize},
		{"unsized", func(s *types.TradingSignal, _ *types.Account) { s.Size = 0 }, CheckSize},
		{"exposure", func(_ *types.TradingSignal, a *types.Account) {
			a.Positions = []types.Position{{Instrument: "ETH/USD", Direction: types.Buy, Size: 70, EntryPrice: 100}}
		}, CheckExposure},
		{"stop side", func(s *types.TradingSignal, _ *types.Account) { s.StopLoss, s.TakeProfit = 102, 94 }, CheckStopSide},
		{"target side", func(s *types.TradingSignal, _ *types.Account) { s.TakeProfit = 96 }, CheckTargetSide},
		{"margin", func(_ *types.TradingSignal, a *types.Account) { a.MarginAvailable = 5 }, CheckMargin},
		{"first failure wins", func(s *types.TradingSignal, a *types.Account) {
			s.TakeProfit = 100.5
			a.MarginAvailable = 0
		}, CheckRiskReward},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sig, acct := valid, account
			tc.mutate(&sig, &acct)
			v := a.Validate(sig, acct)
			assert.False(t, v.Approved)
			assert.Equal(t, tc.check, v.Check, v.Reason)
			assert.NotEmpty(t, v.Reason)
		})
	}

	sell := types.TradingSignal{Direction: types.Sell, EntryPrice: 100, StopLoss: 102, TakeProfit: 96, Size: 5}
	assert.True(t, a.Validate(sell, account).Approved)
}

func TestPriceAndMetrics(t *testing.T) {
	a := newAssessor()
	account := types.Account{
		Balance: 10_000, Equity: 10_100, MarginUsed: 20, MarginAvailable: 80,
		Positions: []types.Position{{Instrument: "EUR/USD", Direction: types.Buy, Size: 1000, EntryPrice: 1.1, MarkPrice: 1.2}},
	}
	sized := a.Price(types.TradingSignal{Direction: types.Buy, EntryPrice: 100, StopLoss: 98, TakeProfit: 104}, account, 1.5)
	assert.Equal(t, 25.0, sized.Size)
	assert.Equal(t, 98.0, sized.StopLoss, "explicit stop is kept")
	assert.Equal(t, 104.0, sized.TakeProfit)

	m := a.Metrics(account)
	assert.InDelta(t, 1200, m.TotalExposure, 1e-9)
	assert.InDelta(t, 12, m.ExposurePct, 1e-9)
	assert.InDelta(t, 20, m.MarginUsagePct, 1e-9)
	assert.Equal(t, 1, m.OpenPositions)
	limits := a.Limits(10_000)
	assert.InDelta(t, 2500, limits.MaxPositionValue, 1e-9)
	assert.InDelta(t, 200, limits.MaxRiskPerTrade, 1e-9)
	assert.InDelta(t, 7500, limits.MaxExposureValue, 1e-9)
}

func TestPriceFillsMissingLevels(t *testing.T) {
	a := newAssessor()
	account := types.Account{Balance: 10_000, Equity: 10_000, MarginAvailable: 10_000}

	buy := a.Price(types.TradingSignal{Direction: types.Buy, EntryPrice: 100}, account, 1.5)
	assert.InDelta(t, 97, buy.StopLoss, 1e-9)
	assert.InDelta(t, 104.5, buy.TakeProfit, 1e-9)
	assert.Equal(t, 25.0, buy.Size)
	assert.True(t, a.Validate(buy, account).Approved)

	sell := a.Price(types.TradingSignal{Direction: types.Sell, EntryPrice: 100, TakeProfit: 90}, account, 1.5)
	assert.InDelta(t, 103, sell.StopLoss, 1e-9)
	assert.Equal(t, 90.0, sell.TakeProfit, "explicit target is kept")

	t.Run("target only from explicit stop", func(t *testing.T) {
		sig := a.Price(types.TradingSignal{Direction: types.Buy, EntryPrice: 100, StopLoss: 98}, account, 0)
		assert.InDelta(t, 103, sig.TakeProfit, 1e-9)
	})
	t.Run("no atr leaves stop unset", func(t *testing.T) {
		sig := a.Price(types.TradingSignal{Direction: types.Buy, EntryPrice: 100}, account, 0)
		assert.Zero(t, sig.StopLoss)
		assert.Zero(t, sig.TakeProfit)
		v := a.Validate(sig, account)
		assert.False(t, v.Approved)
		assert.Equal(t, CheckRiskReward, v.Check)
	})
}

func TestSizingHelpers(t *testing.T) {
	a := newAssessor()
	assert.InDelta(t, 0.2, a.KellyFraction(0.6, 100, 50), 1e-12)
	assert.Equal(t, 0.25, a.KellyFraction(0.9, 200, 50))
	assert.Equal(t, 0.0, a.KellyFraction(0.2, 50, 100))
	assert.Equal(t, 0.0, a.KellyFraction(0.6, 100, 0))
}

func TestBreachHelpers(t *testing.T) {
	assert.True(t, StopHit(types.Buy, 105, 97, 98))
	assert.False(t, StopHit(types.Buy, 105, 99, 98))
	assert.True(t, StopHit(types.Sell, 102, 99, 102))
	assert.True(t, TargetHit(types.Buy, 104, 99, 104))
	assert.True(t, TargetHit(types.Sell, 101, 95.5, 96))
	assert.False(t, TargetHit(types.Sell, 101, 96.5, 96))
}
