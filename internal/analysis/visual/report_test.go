package visual

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snackshell/KeenAI-Quant/internal/backtest"
	"github.com/snackshell/KeenAI-Quant/internal/market"
	"github.com/snackshell/KeenAI-Quant/internal/performance"
	"github.com/snackshell/KeenAI-Quant/internal/types"
)

func sampleCandles(n int) []market.Candle {
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	out := make([]market.Candle, n)
	for i := range out {
		p := 100 + float64(i%10)
		c, err := market.NewCandle("BTC/USD", "1h", start.Add(time.Duration(i)*time.Hour).UnixMilli(), p, p+1, p-1, p+0.5, 5)
		if err != nil {
			panic(err)
		}
		out[i] = c
	}
	return out
}

func TestRenderHTML(t *testing.T) {
	candles := sampleCandles(80)
	res := backtest.Result{
		Config:         backtest.Config{Instrument: "BTC/USD", Timeframe: "1h"},
		TotalReturnPct: 1.5,
		Metrics:        performance.Metrics{TotalTrades: 1, WinRate: 1, SharpeRatio: 0.8},
		Trades: []types.Trade{{
			ID: 1, Direction: types.Buy, Strategy: "trend",
			EntryTime: candles[60].Time(), ExitTime: candles[70].Time(),
			EntryPrice: 100, ExitPrice: 105, PnL: 150, ExitReason: types.ExitTakeProfit,
		}},
		Equity: []backtest.EquityPoint{
			{Time: candles[50].Time(), Equity: 10_000},
			{Time: candles[60].Time(), Equity: 9_900},
			{Time: candles[70].Time(), Equity: 10_150},
		},
	}
	html, desc, err := RenderHTML(ReportInput{Candles: candles, Result: res})
	require.NoError(t, err)
	body := string(html)
	assert.Contains(t, body, "echarts")
	assert.Contains(t, body, "BTC/USD 1h")
	assert.Contains(t, body, "Drawdown %")
	assert.True(t, strings.HasPrefix(desc, "BTC/USD 1h | return 1.50%"))
}

func TestRenderHTMLShortSeries(t *testing.T) {
	_, _, err := RenderHTML(ReportInput{})
	assert.Error(t, err)

	html, _, err := RenderHTML(ReportInput{Title: "tiny", Candles: sampleCandles(5)})
	require.NoError(t, err)
	assert.Contains(t, string(html), "tiny")
}

func TestTradeMarkers(t *testing.T) {
	at := time.Date(2024, 3, 1, 5, 0, 0, 0, time.UTC)
	entries, exits := tradeMarkers([]types.Trade{{ID: 2, Direction: types.Sell, EntryTime: at, ExitTime: at.Add(time.Hour), EntryPrice: 1.1, ExitPrice: 1.09}})
	require.Len(t, entries, 1)
	require.Len(t, exits, 1)
	assert.Equal(t, "pin", entries[0].Symbol)
	assert.Equal(t, []interface{}{"03-01 05:00", 1.1}, entries[0].Value)
}
