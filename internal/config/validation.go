package config

import (
	"fmt"
	"strings"
	"time"
)

// validate 对配置进行基础校验。
func validate(c *Config) error {
	if err := c.Indicators.validate(); err != nil {
		return err
	}
	if err := c.Strategies.validate(); err != nil {
		return err
	}
	if err := c.Orchestrator.validate(); err != nil {
		return err
	}
	if err := c.Risk.validate(); err != nil {
		return err
	}
	if err := c.CircuitBreaker.validate(); err != nil {
		return err
	}
	if err := c.Backtest.validate(); err != nil {
		return err
	}
	return nil
}

func (i *IndicatorConfig) validate() error {
	if i.MinCandles < i.ADXPeriod*2 {
		return fmt.Errorf("indicators.min_candles (%d) must cover 2*adx_period (%d)", i.MinCandles, i.ADXPeriod*2)
	}
	if i.BBStdDev <= 0 {
		return fmt.Errorf("indicators.bb_std_dev must be > 0")
	}
	return nil
}

func (s *StrategiesConfig) validate() error {
	if s.Trend.FastPeriod >= s.Trend.SlowPeriod {
		return fmt.Errorf("strategies.trend.fast_period must be < slow_period")
	}
	if s.Trend.StopATR <= 0 || s.Trend.TargetATR <= 0 {
		return fmt.Errorf("strategies.trend.stop_atr and target_atr must be > 0")
	}
	if s.MeanReversion.StopATR <= 0 {
		return fmt.Errorf("strategies.mean_reversion.stop_atr must be > 0")
	}
	if s.MeanReversion.Oversold >= s.MeanReversion.Overbought {
		return fmt.Errorf("strategies.mean_reversion.oversold must be < overbought")
	}
	if s.Breakout.Lookback < 2 {
		return fmt.Errorf("strategies.breakout.lookback must be >= 2")
	}
	if s.Breakout.MaxHistory < s.Breakout.Lookback {
		return fmt.Errorf("strategies.breakout.max_history must be >= lookback")
	}
	commons := map[string]StrategyCommon{
		"trend":          s.Trend.StrategyCommon,
		"mean_reversion": s.MeanReversion.StrategyCommon,
		"breakout":       s.Breakout.StrategyCommon,
	}
	for name, c := range commons {
		if c.MinConfidence < 0 || c.MinConfidence > 1 {
			return fmt.Errorf("strategies.%s.min_confidence must be within [0,1]", name)
		}
		if _, err := time.Parse("15:04", c.HoursStart); err != nil {
			return fmt.Errorf("strategies.%s.hours_start invalid: %w", name, err)
		}
		if _, err := time.Parse("15:04", c.HoursEnd); err != nil {
			return fmt.Errorf("strategies.%s.hours_end invalid: %w", name, err)
		}
	}
	return nil
}

func (o *OrchestratorConfig) validate() error {
	switch strings.ToLower(o.Mode) {
	case "confidence", "weighted_vote":
	default:
		return fmt.Errorf("orchestrator.mode must be confidence or weighted_vote, got %q", o.Mode)
	}
	for name, w := range o.Weights {
		if w < 0 {
			return fmt.Errorf("orchestrator.weights.%s must be >= 0", name)
		}
	}
	return nil
}

func (r *RiskConfig) validate() error {
	if r.RiskPerTrade <= 0 || r.RiskPerTrade >= 1 {
		return fmt.Errorf("risk.risk_per_trade must be within (0,1)")
	}
	if r.MaxPositionSize <= 0 || r.MaxPositionSize > 1 {
		return fmt.Errorf("risk.max_position_size must be within (0,1]")
	}
	if r.MaxExposure <= 0 {
		return fmt.Errorf("risk.max_exposure must be > 0")
	}
	if r.Leverage < 1 {
		return fmt.Errorf("risk.leverage must be >= 1")
	}
	if r.StopATR <= 0 {
		return fmt.Errorf("risk.stop_atr must be > 0")
	}
	return nil
}

func (b *BreakerConfig) validate() error {
	if b.MaxDailyLoss <= 0 || b.MaxDailyLoss >= 1 {
		return fmt.Errorf("circuit_breaker.max_daily_loss must be within (0,1)")
	}
	if b.MaxDrawdown <= 0 || b.MaxDrawdown >= 1 {
		return fmt.Errorf("circuit_breaker.max_drawdown must be within (0,1)")
	}
	if b.MaxConsecutiveLosses <= 0 {
		return fmt.Errorf("circuit_breaker.max_consecutive_losses must be > 0")
	}
	return nil
}

func (b *BacktestConfig) validate() error {
	if b.InitialBalance <= 0 {
		return fmt.Errorf("backtest.initial_balance must be > 0")
	}
	if b.Slippage < 0 || b.Commission < 0 {
		return fmt.Errorf("backtest.slippage/commission must be >= 0")
	}
	if b.Window < b.Warmup {
		return fmt.Errorf("backtest.window (%d) must be >= warmup (%d)", b.Window, b.Warmup)
	}
	return nil
}
