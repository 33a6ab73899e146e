package strategy

import (
	"fmt"
	"math"

	"github.com/snackshell/KeenAI-Quant/internal/analysis/indicator"
	"github.com/snackshell/KeenAI-Quant/internal/analysis/regime"
	"github.com/snackshell/KeenAI-Quant/internal/config"
	"github.com/snackshell/KeenAI-Quant/internal/types"
)

// MeanReversion 在非趋势行情中，于 RSI 极值且价格贴近布林带边界时反向开仓。
type MeanReversion struct {
	*base
	cfg config.MeanReversionConfig
}

func NewMeanReversion(cfg config.MeanReversionConfig, pricer StopPricer) (*MeanReversion, error) {
	b, err := newBase(NameMeanReversion, cfg.StrategyCommon, pricer)
	if err != nil {
		return nil, err
	}
	return &MeanReversion{base: b, cfg: cfg}, nil
}

// Analyze 不使用 State。止盈为中轨，止损在触及的带外 StopATR 倍 ATR。
func (s *MeanReversion) Analyze(ctx MarketContext, _ *State) Result {
	if !s.supports(ctx.Instrument) {
		return skip("unsupported instrument %s", ctx.Instrument)
	}
	if ctx.Regime.Type == regime.Trending {
		return skip("market is trending, mean reversion not suitable")
	}
	snap := ctx.Indicators
	if err := snap.Require(indicator.KeyRSI, indicator.KeyBBUpper, indicator.KeyBBMiddle, indicator.KeyBBLower, indicator.KeyATR); err != nil {
		return skip("indicators undefined: %v", err)
	}
	if ctx.Price <= 0 {
		return skip("invalid price %v", ctx.Price)
	}
	rsi, _ := snap.Get(indicator.KeyRSI)
	upper, _ := snap.Get(indicator.KeyBBUpper)
	middle, _ := snap.Get(indicator.KeyBBMiddle)
	lower, _ := snap.Get(indicator.KeyBBLower)
	atr, _ := snap.Get(indicator.KeyATR)

	distLower := math.Abs(ctx.Price-lower) / ctx.Price
	distUpper := math.Abs(ctx.Price-upper) / ctx.Price
	meta := map[string]float64{"rsi": rsi, "bb_upper": upper, "bb_middle": middle, "bb_lower": lower, "dist_lower": distLower, "dist_upper": distUpper}
	tol := s.cfg.BandTolerance

	var (
		dir        types.Direction
		confidence float64
		band       float64
	)
	switch {
	case rsi < s.cfg.Oversold && distLower < tol:
		dir = types.Buy
		confidence = ((s.cfg.Oversold-rsi)/s.cfg.Oversold + 1 - distLower/tol) / 2
		band = lower
	case rsi > s.cfg.Overbought && distUpper < tol:
		dir = types.Sell
		confidence = ((rsi-s.cfg.Overbought)/(100-s.cfg.Overbought) + 1 - distUpper/tol) / 2
		band = upper
	case rsi < s.cfg.Oversold:
		return Result{Reasoning: fmt.Sprintf("RSI oversold (%.1f) but price not at lower band (dist=%.4f)", rsi, distLower), Metadata: meta}
	case rsi > s.cfg.Overbought:
		return Result{Reasoning: fmt.Sprintf("RSI overbought (%.1f) but price not at upper band (dist=%.4f)", rsi, distUpper), Metadata: meta}
	default:
		return Result{Reasoning: fmt.Sprintf("RSI neutral (%.1f)", rsi), Metadata: meta}
	}

	if confidence < s.minConfidence {
		return Result{Confidence: confidence, Reasoning: fmt.Sprintf("%s setup but confidence too low (%.2f)", dir, confidence), Metadata: meta}
	}
	stop, err := s.pricer.StopFromATR(band, atr, s.cfg.StopATR, dir)
	if err != nil {
		return Result{Confidence: confidence, Reasoning: "cannot price stop-loss: " + err.Error(), Metadata: meta}
	}
	reason := fmt.Sprintf("%s: RSI=%.1f at band, target middle %.5f", dir, rsi, middle)
	return Result{
		Signal:     s.signal(ctx, dir, confidence, stop, middle, reason),
		Confidence: confidence,
		Reasoning:  reason,
		Metadata:   meta,
	}
}
