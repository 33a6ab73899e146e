package strategy

import (
	"fmt"

	"github.com/snackshell/KeenAI-Quant/internal/analysis/indicator"
	"github.com/snackshell/KeenAI-Quant/internal/analysis/regime"
	"github.com/snackshell/KeenAI-Quant/internal/config"
	"github.com/snackshell/KeenAI-Quant/internal/types"
)

// TrendFollowing 在 ADX 达标时捕捉快慢 EMA 的交叉。
type TrendFollowing struct {
	*base
	cfg config.TrendConfig
}

func NewTrendFollowing(cfg config.TrendConfig, pricer StopPricer) (*TrendFollowing, error) {
	b, err := newBase(NameTrend, cfg.StrategyCommon, pricer)
	if err != nil {
		return nil, err
	}
	return &TrendFollowing{base: b, cfg: cfg}, nil
}

// Analyze 仅在上一根与当前的快慢线差值发生符号变化时出信号；
// 置信度 = (min(ADX/50,1) + 方向一致 1.0 / 否则 0.7) / 2。
func (s *TrendFollowing) Analyze(ctx MarketContext, st *State) Result {
	if !s.supports(ctx.Instrument) {
		return skip("unsupported instrument %s", ctx.Instrument)
	}
	closes := ctx.Closes()
	fast, okFast := indicator.EMA(closes, s.cfg.FastPeriod)
	slow, okSlow := indicator.EMA(closes, s.cfg.SlowPeriod)
	adx, okADX := ctx.Indicators.Get(indicator.KeyADX)
	atr, okATR := ctx.Indicators.Get(indicator.KeyATR)
	if !okFast || !okSlow || !okADX || !okATR {
		return skip("indicators undefined for trend analysis")
	}
	meta := map[string]float64{"fast_ema": fast, "slow_ema": slow, "adx": adx, "atr": atr}

	prevFast, prevSlow, hasPrev := st.PrevFast, st.PrevSlow, st.HasPrev
	st.PrevFast, st.PrevSlow, st.HasPrev = fast, slow, true

	if adx < s.cfg.ADXThreshold {
		return Result{Reasoning: fmt.Sprintf("ADX too low (%.1f < %.1f), market not trending", adx, s.cfg.ADXThreshold), Metadata: meta}
	}
	if !hasPrev {
		return Result{Reasoning: "waiting for previous EMA pair", Metadata: meta}
	}

	var dir types.Direction
	switch {
	case prevFast <= prevSlow && fast > slow:
		dir = types.Buy
	case prevFast >= prevSlow && fast < slow:
		dir = types.Sell
	default:
		side := "below"
		if fast > slow {
			side = "above"
		}
		return Result{Reasoning: "no crossover, fast EMA " + side + " slow EMA", Metadata: meta}
	}

	aligned := (dir == types.Buy && ctx.Regime.Direction == regime.Up) ||
		(dir == types.Sell && ctx.Regime.Direction == regime.Down)
	trendConf := 0.7
	if aligned {
		trendConf = 1.0
	}
	confidence := (minFloat(adx/50, 1) + trendConf) / 2
	if confidence < s.minConfidence {
		return Result{Confidence: confidence, Reasoning: fmt.Sprintf("%s crossover but confidence too low (%.2f)", dir, confidence), Metadata: meta}
	}

	// 止损 StopATR 倍 ATR，止盈 TargetATR 倍 ATR，即风险回报 TargetATR/StopATR
	stop, err := s.pricer.StopFromATR(ctx.Price, atr, s.cfg.StopATR, dir)
	if err != nil {
		return Result{Confidence: confidence, Reasoning: "cannot price stop-loss: " + err.Error(), Metadata: meta}
	}
	target, err := s.pricer.TakeProfit(ctx.Price, stop, s.cfg.TargetATR/s.cfg.StopATR, dir)
	if err != nil {
		return Result{Confidence: confidence, Reasoning: "cannot price take-profit: " + err.Error(), Metadata: meta}
	}
	reason := fmt.Sprintf("%s: EMA%d crossed EMA%d, ADX=%.1f, trend=%s", dir, s.cfg.FastPeriod, s.cfg.SlowPeriod, adx, ctx.Regime.Direction)
	return Result{
		Signal:     s.signal(ctx, dir, confidence, stop, target, reason),
		Confidence: confidence,
		Reasoning:  reason,
		Metadata:   meta,
	}
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
