package strategy

import (
	"fmt"

	"github.com/snackshell/KeenAI-Quant/internal/analysis/indicator"
	"github.com/snackshell/KeenAI-Quant/internal/config"
	"github.com/snackshell/KeenAI-Quant/internal/types"
)

// Breakout 是 Donchian 通道突破策略，价格历史与上次通道位置保存在 State 中。
type Breakout struct {
	*base
	cfg config.BreakoutConfig
}

func NewBreakout(cfg config.BreakoutConfig, pricer StopPricer) (*Breakout, error) {
	b, err := newBase(NameBreakout, cfg.StrategyCommon, pricer)
	if err != nil {
		return nil, err
	}
	return &Breakout{base: b, cfg: cfg}, nil
}

// Channel 返回除最新价外最近 lookback-1 个价格的 (max, min)。
func Channel(prices []float64, lookback int) (upper, lower float64, ok bool) {
	if lookback < 2 || len(prices) < lookback {
		return 0, 0, false
	}
	recent := prices[len(prices)-lookback : len(prices)-1]
	upper, lower = recent[0], recent[0]
	for _, p := range recent[1:] {
		if p > upper {
			upper = p
		}
		if p < lower {
			lower = p
		}
	}
	return upper, lower, true
}

// Analyze 只在通道位置从其他状态切换到 long/short 时出信号；回到通道内重置为 none。
func (s *Breakout) Analyze(ctx MarketContext, st *State) Result {
	if !s.supports(ctx.Instrument) {
		return skip("unsupported instrument %s", ctx.Instrument)
	}
	st.pushPrice(ctx.Price, s.cfg.MaxHistory)
	upper, lower, ok := Channel(st.Prices, s.cfg.Lookback)
	if !ok {
		return skip("insufficient price history (%d < %d)", len(st.Prices), s.cfg.Lookback)
	}
	meta := map[string]float64{"upper_channel": upper, "lower_channel": lower, "history": float64(len(st.Prices))}
	price := ctx.Price
	rng := upper - lower

	var (
		dir      types.Direction
		target   ChannelPosition
		distance float64
	)
	switch {
	case price > upper:
		dir, target, distance = types.Buy, ChannelLong, price-upper
	case price < lower:
		dir, target, distance = types.Sell, ChannelShort, lower-price
	default:
		st.Position = ChannelNone
		pos := 0.5
		if rng > 0 {
			pos = (price - lower) / rng
		}
		return Result{Reasoning: fmt.Sprintf("price inside channel (%.0f%% from bottom)", pos*100), Metadata: meta}
	}
	if st.Position == target {
		return Result{Reasoning: fmt.Sprintf("already %s, price still outside channel", target), Metadata: meta}
	}

	volPct, ok := ctx.Indicators.Get(indicator.KeyVolPercentile)
	if !ok {
		return Result{Reasoning: "volatility percentile undefined", Metadata: meta}
	}
	strength := 0.5
	if rng > 0 {
		strength = minFloat(distance/rng, 1)
	}
	norm := s.cfg.PercentileNorm
	if norm <= 0 {
		norm = 80
	}
	volConf := minFloat(volPct/norm, 1)
	confidence := (strength + volConf) / 2
	meta["breakout_strength"] = strength
	meta["volatility_percentile"] = volPct
	if confidence < s.minConfidence {
		return Result{Confidence: confidence, Reasoning: fmt.Sprintf("breakout but confidence too low (%.2f)", confidence), Metadata: meta}
	}

	stop := lower
	if dir == types.Sell {
		stop = upper
	}
	takeProfit, err := s.pricer.TakeProfit(price, stop, s.cfg.RewardRatio, dir)
	if err != nil {
		return Result{Confidence: confidence, Reasoning: "cannot price take-profit: " + err.Error(), Metadata: meta}
	}
	st.Position = target
	reason := fmt.Sprintf("%s: breakout of %d-period channel [%.5f, %.5f], strength=%.2f", dir, s.cfg.Lookback, lower, upper, strength)
	return Result{
		Signal:     s.signal(ctx, dir, confidence, stop, takeProfit, reason),
		Confidence: confidence,
		Reasoning:  reason,
		Metadata:   meta,
	}
}
