package backtest

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snackshell/KeenAI-Quant/internal/config"
	"github.com/snackshell/KeenAI-Quant/internal/market"
	"github.com/snackshell/KeenAI-Quant/internal/pipeline"
	"github.com/snackshell/KeenAI-Quant/internal/pkg/circuit"
	"github.com/snackshell/KeenAI-Quant/internal/strategy"
	"github.com/snackshell/KeenAI-Quant/internal/types"
)

var base = time.Date(2024, 2, 5, 0, 0, 0, 0, time.UTC)

// scripted 在指定 K 线（按索引）发出信号：止损距 2，止盈距 4。
type scripted struct {
	at map[int]types.Direction
}

func (s *scripted) Name() string                       { return "scripted" }
func (s *scripted) Instruments() []string              { return nil }
func (s *scripted) MinConfidence() float64             { return 0 }
func (s *scripted) ShouldTrade(string, time.Time) bool { return true }
func (s *scripted) Enabled() bool                      { return true }
func (s *scripted) SetEnabled(bool)                    {}
func (s *scripted) RecordSignal()                      {}
func (s *scripted) RecordOutcome(float64)              {}
func (s *scripted) Stats() strategy.Stats              { return strategy.Stats{Name: "scripted"} }

func (s *scripted) Analyze(ctx strategy.MarketContext, _ *strategy.State) strategy.Result {
	idx := int(ctx.Time.Sub(base) / time.Hour)
	dir, ok := s.at[idx]
	if !ok {
		return strategy.Result{}
	}
	sign := dir.Sign()
	return strategy.Result{
		Confidence: 0.9,
		Signal: &types.TradingSignal{
			Instrument: ctx.Instrument,
			Direction:  dir,
			Confidence: 0.9,
			EntryPrice: ctx.Price,
			StopLoss:   ctx.Price - 2*sign,
			TakeProfit: ctx.Price + 4*sign,
			Strategy:   "scripted",
			Timestamp:  ctx.Time,
		},
	}
}

func scriptedEngine(cfg *config.Config, at map[int]types.Direction) *Engine {
	return NewEngine(cfg, WithStrategyFactory(StrategyFactoryFunc(func([]string) ([]strategy.Strategy, error) {
		return []strategy.Strategy{&scripted{at: at}}, nil
	})))
}

type bar struct{ o, h, l, c float64 }

// flat 生成 n 根收盘 100 的 K 线，overrides 替换指定索引。
func flat(n int, overrides map[int]bar) []market.Candle {
	out := make([]market.Candle, n)
	for i := range out {
		b := bar{100, 100.5, 99.5, 100}
		if o, ok := overrides[i]; ok {
			b = o
		}
		c, err := market.NewCandle("EUR/USD", "1h", base.Add(time.Duration(i)*time.Hour).UnixMilli(), b.o, b.h, b.l, b.c, 10)
		if err != nil {
			panic(err)
		}
		out[i] = c
	}
	return out
}

func frictionless(instrument string) Config {
	return Config{Instrument: instrument, Timeframe: "1h", InitialBalance: 10_000, Warmup: 50}
}

func TestRunTakeProfit(t *testing.T) {
	eng := scriptedEngine(nil, map[int]types.Direction{50: types.Buy})
	candles := flat(60, map[int]bar{52: {100, 101.2, 99.8, 101}, 53: {100, 105, 99.8, 101}})

	res, err := eng.Run(context.Background(), frictionless("EUR/USD"), candles)
	require.NoError(t, err)
	require.Len(t, res.Trades, 1)

	tr := res.Trades[0]
	assert.Equal(t, types.ExitTakeProfit, tr.ExitReason)
	assert.Equal(t, 100.0, tr.EntryPrice)
	assert.Equal(t, 104.0, tr.ExitPrice)
	assert.InDelta(t, 25.0, tr.Size, 1e-9, "size capped at balance*0.25/entry")
	assert.InDelta(t, 100.0, tr.PnL, 1e-9)
	assert.Equal(t, candles[53].Time(), tr.ExitTime)

	assert.InDelta(t, 10_100.0, res.FinalBalance, 1e-9)
	assert.InDelta(t, 1.0, res.TotalReturnPct, 1e-9)
	assert.Len(t, res.Equity, 11)
	assert.Equal(t, 10_000.0, res.Equity[0].Equity)
	assert.InDelta(t, 10_025.0, res.Equity[3].Equity, 1e-9, "unrealized pnl marked at close")
	assert.Equal(t, 1, res.Signals)
	assert.Equal(t, 1, res.Metrics.TotalTrades)
}

func TestRunFrictions(t *testing.T) {
	eng := scriptedEngine(nil, map[int]types.Direction{50: types.Buy})
	candles := flat(60, map[int]bar{53: {100, 105, 99.8, 101}})
	cfg := frictionless("EUR/USD")
	cfg.Slippage = 0.001
	cfg.Commission = 0.001

	res, err := eng.Run(context.Background(), cfg, candles)
	require.NoError(t, err)
	require.Len(t, res.Trades, 1)
	tr := res.Trades[0]

	entry := 100 * 1.001
	exit := 104 * 0.999
	size := math.Trunc(10_000*0.25/entry*1e4) / 1e4
	commission := (entry + exit) * size * 0.001
	assert.InDelta(t, entry, tr.EntryPrice, 1e-9)
	assert.InDelta(t, exit, tr.ExitPrice, 1e-9)
	assert.InDelta(t, size, tr.Size, 1e-9)
	assert.InDelta(t, commission, tr.Commission, 1e-9)
	assert.InDelta(t, (exit-entry)*size-commission, tr.PnL, 1e-9)
	assert.InDelta(t, (0.1+0.104)*size, tr.Slippage, 1e-9)
}

func TestRunStopCheckedBeforeTarget(t *testing.T) {
	eng := scriptedEngine(nil, map[int]types.Direction{50: types.Buy})
	candles := flat(60, map[int]bar{53: {100, 105, 97, 101}})

	res, err := eng.Run(context.Background(), frictionless("EUR/USD"), candles)
	require.NoError(t, err)
	require.Len(t, res.Trades, 1)
	assert.Equal(t, types.ExitStopLoss, res.Trades[0].ExitReason)
	assert.Equal(t, 98.0, res.Trades[0].ExitPrice)
	assert.InDelta(t, -50.0, res.Trades[0].PnL, 1e-9)
}

func TestRunReportsKellyFraction(t *testing.T) {
	eng := scriptedEngine(nil, map[int]types.Direction{50: types.Buy, 55: types.Buy})
	candles := flat(60, map[int]bar{53: {100, 105, 99.8, 101}, 57: {100, 100.5, 97, 99}})

	res, err := eng.Run(context.Background(), frictionless("EUR/USD"), candles)
	require.NoError(t, err)
	require.Len(t, res.Trades, 2)
	assert.InDelta(t, 100.0, res.Trades[0].PnL, 1e-9)
	assert.InDelta(t, -50.5, res.Trades[1].PnL, 1e-9)

	// b = 100/50.5，半凯利 = 0.5×(0.5b-0.5)/b
	assert.InDelta(t, 0.12375, res.Metrics.KellyFraction, 1e-9)
	assert.LessOrEqual(t, res.Metrics.KellyFraction, config.Default().Risk.MaxPositionSize)
}

func TestRunOppositeSignalAndForceClose(t *testing.T) {
	eng := scriptedEngine(nil, map[int]types.Direction{50: types.Buy, 51: types.Buy, 52: types.Sell})
	res, err := eng.Run(context.Background(), frictionless("EUR/USD"), flat(60, nil))
	require.NoError(t, err)
	require.Len(t, res.Trades, 2)

	assert.Equal(t, types.ExitSignal, res.Trades[0].ExitReason)
	assert.Equal(t, types.Buy, res.Trades[0].Direction)
	assert.Equal(t, types.ExitEndOfData, res.Trades[1].ExitReason)
	assert.Equal(t, types.Sell, res.Trades[1].Direction)
	assert.Equal(t, 3, res.Signals, "same-direction signal is counted but does not pyramid")

	last := res.Equity[len(res.Equity)-1]
	assert.Equal(t, res.FinalBalance, last.Equity)
}

func TestRunNextBarFill(t *testing.T) {
	eng := scriptedEngine(nil, map[int]types.Direction{50: types.Buy})
	candles := flat(60, map[int]bar{51: {100.2, 100.7, 99.7, 100.2}})
	cfg := frictionless("EUR/USD")
	cfg.LatencyMS = int(time.Hour / time.Millisecond)

	res, err := eng.Run(context.Background(), cfg, candles)
	require.NoError(t, err)
	require.Len(t, res.Trades, 1)
	assert.Equal(t, 100.2, res.Trades[0].EntryPrice)
	assert.Equal(t, candles[51].Time(), res.Trades[0].EntryTime)

	cfg.LatencyMS = 100
	res, err = eng.Run(context.Background(), cfg, candles)
	require.NoError(t, err)
	assert.Equal(t, 100.0, res.Trades[0].EntryPrice)
	assert.Equal(t, candles[50].Time(), res.Trades[0].EntryTime)
}

func TestRunBreakerHaltsNewEntries(t *testing.T) {
	cfg := config.Default()
	cfg.CircuitBreaker.MaxConsecutiveLosses = 1
	eng := scriptedEngine(cfg, map[int]types.Direction{50: types.Buy, 55: types.Buy})
	candles := flat(60, map[int]bar{53: {100, 100.5, 97, 99}})

	res, err := eng.Run(context.Background(), frictionless("EUR/USD"), candles)
	require.NoError(t, err)
	require.Len(t, res.Trades, 1)
	require.Len(t, res.Rejections, 1)
	assert.Equal(t, pipeline.StageBreaker, res.Rejections[0].Stage)
	require.Len(t, res.BreakerEvents, 1)
	assert.Equal(t, circuit.TriggerConsecutiveLosses, res.BreakerEvents[0].Trigger)
	assert.Equal(t, candles[53].Time(), res.BreakerEvents[0].Time)
	assert.Equal(t, circuit.StateTripped, res.BreakerState)

	// Equity[0] 是初始点，Equity[k] 对应 candles[49+k]。
	assert.False(t, res.Equity[3].Halted)
	for k := 4; k < len(res.Equity); k++ {
		assert.True(t, res.Equity[k].Halted, "bar %d", 49+k)
	}
	assert.Equal(t, 7, res.HaltedBars)
}

func TestRunValidation(t *testing.T) {
	eng := scriptedEngine(nil, nil)
	_, err := eng.Run(context.Background(), Config{InitialBalance: 1}, flat(10, nil))
	assert.Error(t, err)

	cfg := frictionless("EUR/USD")
	cfg.Start = base.Add(1000 * time.Hour)
	_, err = eng.Run(context.Background(), cfg, flat(10, nil))
	assert.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = eng.Run(ctx, frictionless("EUR/USD"), flat(60, nil))
	assert.ErrorIs(t, err, context.Canceled)
}

func trendingSeries(symbol string, n int) []market.Candle {
	out := make([]market.Candle, n)
	for i := range out {
		p := 30_000 + 40*float64(i) + 900*math.Sin(float64(i)/9)
		c, _ := market.NewCandle(symbol, "1h", base.Add(time.Duration(i)*time.Hour).UnixMilli(), p-20, p+60, p-80, p+10, 5)
		out[i] = c
	}
	return out
}

func TestRunIsDeterministic(t *testing.T) {
	eng := NewEngine(config.Default())
	candles := trendingSeries("BTC/USD", 400)
	cfg := ConfigFromSettings(config.Default().Backtest, "BTC/USD")

	a, err := eng.Run(context.Background(), cfg, candles)
	require.NoError(t, err)
	b, err := eng.Run(context.Background(), cfg, candles)
	require.NoError(t, err)

	assert.Equal(t, a.Trades, b.Trades)
	assert.Equal(t, a.Equity, b.Equity)
	assert.Equal(t, a.Metrics, b.Metrics)
	assert.Len(t, a.Equity, 400-cfg.Warmup+1)
}

func TestRunBatch(t *testing.T) {
	eng := NewEngine(config.Default())
	cfg := ConfigFromSettings(config.Default().Backtest, "BTC/USD")
	candles := trendingSeries("BTC/USD", 300)

	trend := cfg
	trend.Strategies = []string{strategy.NameTrend}
	breakout := cfg
	breakout.Strategies = []string{strategy.NameBreakout}

	out, err := eng.RunBatch(context.Background(), []Job{
		{Name: "trend", Config: trend, Candles: candles},
		{Name: "breakout", Config: breakout, Candles: candles},
	}, 2)
	require.NoError(t, err)
	require.Len(t, out.Results, 2)
	assert.Equal(t, []string{strategy.NameTrend}, out.Results[0].Config.Strategies)
	assert.Contains(t, []string{"trend", "breakout"}, out.Comparison.Best)

	single, err := eng.Run(context.Background(), trend, candles)
	require.NoError(t, err)
	assert.Equal(t, single.Trades, out.Results[0].Trades)

	_, err = eng.RunBatch(context.Background(), []Job{{Name: "bad", Config: Config{}, Candles: candles}}, 1)
	assert.Error(t, err)
}
