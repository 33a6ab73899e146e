package strategy

import (
	"time"

	"github.com/snackshell/KeenAI-Quant/internal/analysis/indicator"
	"github.com/snackshell/KeenAI-Quant/internal/analysis/regime"
	"github.com/snackshell/KeenAI-Quant/internal/market"
	"github.com/snackshell/KeenAI-Quant/internal/types"
)

// MarketContext 是单个决策周期的只读输入，构造后不再修改。
type MarketContext struct {
	Instrument string
	Price      float64
	Indicators indicator.Snapshot
	Candles    []market.Candle
	Positions  []types.Position
	Balance    float64
	Regime     regime.Regime
	Time       time.Time
}

// ContextBuilder 由 K 线窗口计算快照与市场状态，组装 MarketContext。
type ContextBuilder struct {
	Indicators indicator.Settings
	Classifier *regime.Classifier
	Window     int
}

// Build 截取最近 Window 根 K 线计算指标。快照不足时返回 indicator.ErrInsufficientData。
func (b ContextBuilder) Build(candles []market.Candle, account types.Account) (MarketContext, error) {
	window := candles
	if b.Window > 0 && len(window) > b.Window {
		window = window[len(window)-b.Window:]
	}
	if len(window) == 0 {
		return MarketContext{}, indicator.ErrInsufficientData
	}
	snap, err := indicator.Compute(window, b.Indicators)
	if err != nil {
		return MarketContext{}, err
	}
	last := window[len(window)-1]
	closes := market.Closes(window)
	return MarketContext{
		Instrument: last.Symbol,
		Price:      last.Close,
		Indicators: snap,
		Candles:    window,
		Positions:  account.PositionsFor(last.Symbol),
		Balance:    account.Balance,
		Regime:     b.Classifier.Classify(snap, closes),
		Time:       last.Time(),
	}, nil
}

// Closes 返回窗口收盘价。
func (c MarketContext) Closes() []float64 {
	return market.Closes(c.Candles)
}
