package strategy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snackshell/KeenAI-Quant/internal/analysis/indicator"
	"github.com/snackshell/KeenAI-Quant/internal/analysis/regime"
	"github.com/snackshell/KeenAI-Quant/internal/config"
	"github.com/snackshell/KeenAI-Quant/internal/market"
	"github.com/snackshell/KeenAI-Quant/internal/risk"
	"github.com/snackshell/KeenAI-Quant/internal/types"
)

var t0 = time.Date(2024, 3, 4, 12, 0, 0, 0, time.UTC)

func series(symbol string, closes []float64) []market.Candle {
	out := make([]market.Candle, len(closes))
	for i, c := range closes {
		out[i], _ = market.NewCandle(symbol, "1h", t0.UnixMilli()+int64(i)*3_600_000, c, c+0.5, c-0.5, c, 10)
	}
	return out
}

func linear(n int, start, step float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = start + float64(i)*step
	}
	return out
}

func ctxFor(symbol string, closes []float64, values map[string]float64, r regime.Regime) MarketContext {
	candles := series(symbol, closes)
	return MarketContext{
		Instrument: symbol,
		Price:      closes[len(closes)-1],
		Indicators: indicator.Snapshot{Values: values, Count: len(closes)},
		Candles:    candles,
		Balance:    10_000,
		Regime:     r,
		Time:       t0,
	}
}

func defaults(t *testing.T) config.StrategiesConfig {
	t.Helper()
	return config.Default().Strategies
}

func TestTrendFollowingCrossover(t *testing.T) {
	s, err := NewTrendFollowing(defaults(t).Trend, risk.NewAssessor(risk.DefaultSettings()))
	require.NoError(t, err)
	book := NewStateBook()
	st := book.For(s.Name(), "EUR/USD")

	rising := linear(60, 100, 0.5)
	up := regime.Regime{Type: regime.Trending, Direction: regime.Up}
	ctx := ctxFor("EUR/USD", rising, map[string]float64{indicator.KeyADX: 40, indicator.KeyATR: 1}, up)

	first := s.Analyze(ctx, st)
	assert.Nil(t, first.Signal)
	assert.True(t, st.HasPrev)

	st.PrevFast, st.PrevSlow = 99, 100
	res := s.Analyze(ctx, st)
	require.NotNil(t, res.Signal)
	assert.Equal(t, types.Buy, res.Signal.Direction)
	assert.InDelta(t, 0.9, res.Signal.Confidence, 1e-9)
	assert.InDelta(t, ctx.Price-2, res.Signal.StopLoss, 1e-9)
	assert.InDelta(t, ctx.Price+3, res.Signal.TakeProfit, 1e-9)
	assert.Equal(t, NameTrend, res.Signal.Strategy)

	again := s.Analyze(ctx, st)
	assert.Nil(t, again.Signal, "fast above slow on consecutive bars must not re-fire")

	t.Run("sell against sideways trend", func(t *testing.T) {
		st := NewStateBook().For(s.Name(), "EUR/USD")
		st.PrevFast, st.PrevSlow, st.HasPrev = 101, 100, true
		falling := linear(60, 130, -0.5)
		ctx := ctxFor("EUR/USD", falling, map[string]float64{indicator.KeyADX: 40, indicator.KeyATR: 1}, regime.Regime{Direction: regime.Sideways})
		res := s.Analyze(ctx, st)
		require.NotNil(t, res.Signal)
		assert.Equal(t, types.Sell, res.Signal.Direction)
		assert.InDelta(t, 0.75, res.Confidence, 1e-9)
		assert.Greater(t, res.Signal.StopLoss, res.Signal.EntryPrice)
	})
	t.Run("weak adx", func(t *testing.T) {
		st := NewStateBook().For(s.Name(), "EUR/USD")
		st.PrevFast, st.PrevSlow, st.HasPrev = 99, 100, true
		res := s.Analyze(ctxFor("EUR/USD", rising, map[string]float64{indicator.KeyADX: 20, indicator.KeyATR: 1}, up), st)
		assert.Nil(t, res.Signal)
		assert.Contains(t, res.Reasoning, "ADX too low")
	})
	t.Run("low confidence", func(t *testing.T) {
		st := NewStateBook().For(s.Name(), "EUR/USD")
		st.PrevFast, st.PrevSlow, st.HasPrev = 99, 100, true
		res := s.Analyze(ctxFor("EUR/USD", rising, map[string]float64{indicator.KeyADX: 26, indicator.KeyATR: 1}, regime.Regime{Direction: regime.Down}), st)
		assert.Nil(t, res.Signal)
		assert.InDelta(t, 0.61, res.Confidence, 1e-9)
	})
	t.Run("undefined indicators", func(t *testing.T) {
		st := NewStateBook().For(s.Name(), "EUR/USD")
		res := s.Analyze(ctxFor("EUR/USD", rising, map[string]float64{indicator.KeyATR: 1}, up), st)
		assert.Nil(t, res.Signal)
		assert.False(t, st.HasPrev)
	})
}

// fixedPricer 记录调用参数并返回固定价位。
type fixedPricer struct {
	stop, target float64
	stopMult     float64
	ratio        float64
}

func (p *fixedPricer) StopFromATR(_, _, multiplier float64, _ types.Direction) (float64, error) {
	p.stopMult = multiplier
	return p.stop, nil
}

func (p *fixedPricer) TakeProfit(_, _, ratio float64, _ types.Direction) (float64, error) {
	p.ratio = ratio
	return p.target, nil
}

func TestTrendUsesInjectedPricer(t *testing.T) {
	pricer := &fixedPricer{stop: 90, target: 150}
	s, err := NewTrendFollowing(defaults(t).Trend, pricer)
	require.NoError(t, err)
	st := NewStateBook().For(s.Name(), "EUR/USD")
	st.PrevFast, st.PrevSlow, st.HasPrev = 99, 100, true

	ctx := ctxFor("EUR/USD", linear(60, 100, 0.5), map[string]float64{indicator.KeyADX: 40, indicator.KeyATR: 1},
		regime.Regime{Direction: regime.Up})
	res := s.Analyze(ctx, st)
	require.NotNil(t, res.Signal)
	assert.Equal(t, 90.0, res.Signal.StopLoss)
	assert.Equal(t, 150.0, res.Signal.TakeProfit)
	assert.Equal(t, 2.0, pricer.stopMult)
	assert.InDelta(t, 1.5, pricer.ratio, 1e-12)
}

func TestMeanReversion(t *testing.T) {
	s, err := NewMeanReversion(defaults(t).MeanReversion, nil)
	require.NoError(t, err)
	closes := linear(60, 100, 0)
	ranging := regime.Regime{Type: regime.Ranging}

	t.Run("oversold at lower band", func(t *testing.T) {
		ctx := ctxFor("EUR/USD", closes, map[string]float64{
			indicator.KeyRSI: 6, indicator.KeyBBLower: 99.9, indicator.KeyBBMiddle: 101, indicator.KeyBBUpper: 102.1, indicator.KeyATR: 0.2,
		}, ranging)
		res := s.Analyze(ctx, nil)
		require.NotNil(t, res.Signal)
		assert.Equal(t, types.Buy, res.Signal.Direction)
		assert.InDelta(t, 0.65, res.Confidence, 1e-9)
		assert.InDelta(t, 99.6, res.Signal.StopLoss, 1e-9)
		assert.Equal(t, 101.0, res.Signal.TakeProfit)
	})
	t.Run("overbought at upper band", func(t *testing.T) {
		ctx := ctxFor("XAU/USD", closes, map[string]float64{
			indicator.KeyRSI: 94, indicator.KeyBBLower: 98, indicator.KeyBBMiddle: 99, indicator.KeyBBUpper: 100.05, indicator.KeyATR: 0.2,
		}, ranging)
		res := s.Analyze(ctx, nil)
		require.NotNil(t, res.Signal)
		assert.Equal(t, types.Sell, res.Signal.Direction)
		assert.InDelta(t, 0.775, res.Confidence, 1e-9)
		assert.InDelta(t, 100.35, res.Signal.StopLoss, 1e-9)
	})
	t.Run("shallow oversold below threshold", func(t *testing.T) {
		ctx := ctxFor("EUR/USD", closes, map[string]float64{
			indicator.KeyRSI: 20, indicator.KeyBBLower: 99.9, indicator.KeyBBMiddle: 101, indicator.KeyBBUpper: 102.1, indicator.KeyATR: 0.2,
		}, ranging)
		assert.Nil(t, s.Analyze(ctx, nil).Signal)
	})
	t.Run("trending regime", func(t *testing.T) {
		ctx := ctxFor("EUR/USD", closes, map[string]float64{
			indicator.KeyRSI: 6, indicator.KeyBBLower: 99.9, indicator.KeyBBMiddle: 101, indicator.KeyBBUpper: 102.1, indicator.KeyATR: 0.2,
		}, regime.Regime{Type: regime.Trending})
		assert.Nil(t, s.Analyze(ctx, nil).Signal)
	})
	t.Run("unsupported instrument", func(t *testing.T) {
		ctx := ctxFor("BTC/USD", closes, nil, ranging)
		assert.Contains(t, s.Analyze(ctx, nil).Reasoning, "unsupported")
	})
}

func TestBreakoutFiresOnTransitionOnly(t *testing.T) {
	s, err := NewBreakout(defaults(t).Breakout, nil)
	require.NoError(t, err)
	book := NewStateBook()
	st := book.For(s.Name(), "BTC/USD")
	values := map[string]float64{indicator.KeyVolPercentile: 80}

	step := func(price float64) Result {
		return s.Analyze(ctxFor("BTC/USD", []float64{price}, values, regime.Regime{}), st)
	}
	for i := 0; i < 20; i++ {
		res := step(100 + float64(i%2))
		require.Nil(t, res.Signal, "bar %d", i)
	}
	assert.Equal(t, ChannelNone, st.Position)

	res := step(105)
	require.NotNil(t, res.Signal)
	assert.Equal(t, types.Buy, res.Signal.Direction)
	assert.InDelta(t, 1.0, res.Confidence, 1e-9)
	assert.Equal(t, 100.0, res.Signal.StopLoss)
	assert.Equal(t, 115.0, res.Signal.TakeProfit)

	assert.Nil(t, step(106).Signal, "still above channel")
	assert.Equal(t, ChannelLong, st.Position)

	assert.Nil(t, step(100.5).Signal)
	assert.Equal(t, ChannelNone, st.Position)

	res = step(110)
	require.NotNil(t, res.Signal)
	assert.Equal(t, types.Buy, res.Signal.Direction)

	book.Reset()
	assert.Equal(t, 0, book.Len())
	fresh := book.For(s.Name(), "BTC/USD")
	assert.Empty(t, fresh.Prices)
	assert.Equal(t, ChannelNone, fresh.Position)
}

func TestBreakoutHistoryBounded(t *testing.T) {
	cfg := defaults(t).Breakout
	cfg.MaxHistory = 30
	s, err := NewBreakout(cfg, nil)
	require.NoError(t, err)
	st := NewStateBook().For(s.Name(), "ETH/USD")
	for i := 0; i < 100; i++ {
		s.Analyze(ctxFor("ETH/USD", []float64{100}, nil, regime.Regime{}), st)
	}
	assert.Len(t, st.Prices, 30)

	upper, lower, ok := Channel([]float64{1, 5, 3, 9}, 4)
	require.True(t, ok)
	assert.Equal(t, 5.0, upper)
	assert.Equal(t, 1.0, lower)
}

func TestShouldTradeAndStats(t *testing.T) {
	cfg := defaults(t).Trend
	cfg.HoursStart, cfg.HoursEnd = "08:00", "16:00"
	s, err := NewTrendFollowing(cfg, nil)
	require.NoError(t, err)

	assert.True(t, s.ShouldTrade("EUR/USD", t0))
	assert.False(t, s.ShouldTrade("DOGE/USD", t0))
	assert.False(t, s.ShouldTrade("EUR/USD", t0.Add(6*time.Hour)))
	s.SetEnabled(false)
	assert.False(t, s.ShouldTrade("EUR/USD", t0))
	s.SetEnabled(true)

	s.RecordSignal()
	s.RecordOutcome(50)
	s.RecordOutcome(-20)
	stats := s.Stats()
	assert.Equal(t, 1, stats.Signals)
	assert.Equal(t, 1, stats.Wins)
	assert.Equal(t, 1, stats.Losses)
	assert.InDelta(t, 30, stats.TotalPnL, 1e-9)
	assert.Equal(t, 0.5, stats.WinRate())

	s.RecordOutcome(0)
	stats = s.Stats()
	assert.Equal(t, 1, stats.Losses, "break-even is not a loss")
	assert.Equal(t, 1, stats.BreakEven)
	assert.InDelta(t, 1.0/3.0, stats.WinRate(), 1e-12)

	overnight, err := ParseWindow("22:00", "02:00")
	require.NoError(t, err)
	assert.True(t, overnight.Contains(time.Date(2024, 1, 1, 23, 30, 0, 0, time.UTC)))
	assert.False(t, overnight.Contains(t0))
	_, err = ParseWindow("25:00", "")
	assert.Error(t, err)
}

func TestBuild(t *testing.T) {
	all, err := Build(defaults(t), nil)
	require.NoError(t, err)
	require.Len(t, all, 3)
	only := Select(all, NameBreakout)
	require.Len(t, only, 1)
	assert.Equal(t, []string{"BTC/USD", "ETH/USD"}, only[0].Instruments())
}
