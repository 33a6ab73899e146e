package config

import (
	"strings"
)

// 默认值常量
const (
	defaultAppEnv        = "dev"
	defaultAppLogLevel   = "info"
	defaultAppLogFormat  = "text"
	defaultAppHTTPAddr   = ":9991"
	defaultMinCandles    = 50
	defaultHoursStart    = "00:00"
	defaultHoursEnd      = "23:59"
	defaultOrchestration = "confidence"
	defaultDataDir       = "data/backtest"
	defaultDecisionDB    = "data/live/decisions.db"
	defaultMarketSource  = "binance"
	defaultMarketREST    = "https://fapi.binance.com"
	defaultTimeframe     = "1h"
)

// applyDefaults 为所有子配置应用默认值。
func (c *Config) applyDefaults(keys keySet) {
	c.App.applyDefaults(keys)
	c.Indicators.applyDefaults(keys)
	c.Regime.applyDefaults(keys)
	c.Strategies.applyDefaults(keys)
	c.Orchestrator.applyDefaults(keys)
	c.Risk.applyDefaults(keys)
	c.CircuitBreaker.applyDefaults(keys)
	c.Backtest.applyDefaults(keys)
	c.Store.applyDefaults(keys)
	c.Market.applyDefaults(keys)
}

func (a *AppConfig) applyDefaults(keys keySet) {
	if a == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("app.env", &a.Env, defaultAppEnv),
		stringFieldDefault("app.log_level", &a.LogLevel, defaultAppLogLevel),
		stringFieldDefault("app.log_format", &a.LogFormat, defaultAppLogFormat),
		stringFieldDefault("app.http_addr", &a.HTTPAddr, defaultAppHTTPAddr),
	)
}

func (i *IndicatorConfig) applyDefaults(keys keySet) {
	if i == nil {
		return
	}
	applyFieldDefaults(keys,
		intFieldDefault("indicators.min_candles", &i.MinCandles, defaultMinCandles),
		intFieldDefault("indicators.rsi_period", &i.RSIPeriod, 14),
		intFieldDefault("indicators.atr_period", &i.ATRPeriod, 14),
		intFieldDefault("indicators.adx_period", &i.ADXPeriod, 14),
		intFieldDefault("indicators.bb_period", &i.BBPeriod, 20),
		floatFieldDefault("indicators.bb_std_dev", &i.BBStdDev, 2),
		intFieldDefault("indicators.stoch_k_period", &i.StochKPeriod, 14),
		intFieldDefault("indicators.stoch_d_period", &i.StochDPeriod, 3),
		intFieldDefault("indicators.cci_period", &i.CCIPeriod, 20),
		intFieldDefault("indicators.williams_period", &i.WilliamsPeriod, 14),
		intFieldDefault("indicators.volatility_window", &i.VolatilityWindow, 20),
		intFieldDefault("indicators.percentile_window", &i.PercentileWindow, 100),
	)
}

func (r *RegimeConfig) applyDefaults(keys keySet) {
	if r == nil {
		return
	}
	applyFieldDefaults(keys,
		intFieldDefault("regime.min_candles", &r.MinCandles, defaultMinCandles),
		floatFieldDefault("regime.adx_trending", &r.ADXTrending, 25),
		floatFieldDefault("regime.volatility_threshold", &r.VolatilityThreshold, 2.0),
		floatFieldDefault("regime.low_atr_pct", &r.LowATRPct, 0.5),
		floatFieldDefault("regime.high_atr_pct", &r.HighATRPct, 2.0),
	)
}

func (s *StrategiesConfig) applyDefaults(keys keySet) {
	if s == nil {
		return
	}
	t := &s.Trend
	t.StrategyCommon.applyDefaults(keys, "strategies.trend", []string{"EUR/USD", "XAU/USD", "BTC/USD", "ETH/USD"}, 0.65)
	applyFieldDefaults(keys,
		intFieldDefault("strategies.trend.fast_period", &t.FastPeriod, 9),
		intFieldDefault("strategies.trend.slow_period", &t.SlowPeriod, 21),
		floatFieldDefault("strategies.trend.adx_threshold", &t.ADXThreshold, 25),
		floatFieldDefault("strategies.trend.stop_atr", &t.StopATR, 2),
		floatFieldDefault("strategies.trend.target_atr", &t.TargetATR, 3),
	)

	m := &s.MeanReversion
	m.StrategyCommon.applyDefaults(keys, "strategies.mean_reversion", []string{"EUR/USD", "XAU/USD"}, 0.60)
	applyFieldDefaults(keys,
		floatFieldDefault("strategies.mean_reversion.oversold", &m.Oversold, 30),
		floatFieldDefault("strategies.mean_reversion.overbought", &m.Overbought, 70),
		floatFieldDefault("strategies.mean_reversion.band_tolerance", &m.BandTolerance, 0.002),
		floatFieldDefault("strategies.mean_reversion.stop_atr", &m.StopATR, 1.5),
	)

	b := &s.Breakout
	b.StrategyCommon.applyDefaults(keys, "strategies.breakout", []string{"BTC/USD", "ETH/USD"}, 0.65)
	applyFieldDefaults(keys,
		intFieldDefault("strategies.breakout.lookback", &b.Lookback, 20),
		intFieldDefault("strategies.breakout.max_history", &b.MaxHistory, 200),
		floatFieldDefault("strategies.breakout.reward_ratio", &b.RewardRatio, 2),
		floatFieldDefault("strategies.breakout.percentile_norm", &b.PercentileNorm, 80),
	)
}

func (c *StrategyCommon) applyDefaults(keys keySet, prefix string, instruments []string, minConf float64) {
	applyFieldDefaults(keys,
		boolFieldDefault(prefix+".enabled", &c.Enabled, true),
		floatFieldDefault(prefix+".min_confidence", &c.MinConfidence, minConf),
		stringFieldDefault(prefix+".hours_start", &c.HoursStart, defaultHoursStart),
		stringFieldDefault(prefix+".hours_end", &c.HoursEnd, defaultHoursEnd),
		fieldDefault{
			key:   prefix + ".instruments",
			need:  func() bool { return len(c.Instruments) == 0 },
			apply: func() { c.Instruments = append([]string(nil), instruments...) },
		},
	)
}

func (o *OrchestratorConfig) applyDefaults(keys keySet) {
	if o == nil {
		return
	}
	o.Mode = strings.ToLower(strings.TrimSpace(o.Mode))
	applyFieldDefaults(keys,
		stringFieldDefault("orchestrator.mode", &o.Mode, defaultOrchestration),
		floatFieldDefault("orchestrator.vote_threshold", &o.VoteThreshold, 0.5),
	)
	if len(o.Weights) > 0 {
		normalized := make(map[string]float64, len(o.Weights))
		for k, v := range o.Weights {
			normalized[strings.ToLower(strings.TrimSpace(k))] = v
		}
		o.Weights = normalized
	}
}

func (r *RiskConfig) applyDefaults(keys keySet) {
	if r == nil {
		return
	}
	applyFieldDefaults(keys,
		floatFieldDefault("risk.risk_per_trade", &r.RiskPerTrade, 0.02),
		floatFieldDefault("risk.max_position_size", &r.MaxPositionSize, 0.25),
		floatFieldDefault("risk.min_risk_reward", &r.MinRiskReward, 1.5),
		floatFieldDefault("risk.max_exposure", &r.MaxExposure, 0.75),
		floatFieldDefault("risk.leverage", &r.Leverage, 100),
		floatFieldDefault("risk.min_size", &r.MinSize, 0.01),
		floatFieldDefault("risk.stop_atr", &r.StopATR, 2),
	)
}

func (b *BreakerConfig) applyDefaults(keys keySet) {
	if b == nil {
		return
	}
	applyFieldDefaults(keys,
		floatFieldDefault("circuit_breaker.max_daily_loss", &b.MaxDailyLoss, 0.05),
		floatFieldDefault("circuit_breaker.max_drawdown", &b.MaxDrawdown, 0.15),
		intFieldDefault("circuit_breaker.max_consecutive_losses", &b.MaxConsecutiveLosses, 5),
		intFieldDefault("circuit_breaker.history_limit", &b.HistoryLimit, 100),
	)
}

func (b *BacktestConfig) applyDefaults(keys keySet) {
	if b == nil {
		return
	}
	applyFieldDefaults(keys,
		floatFieldDefault("backtest.initial_balance", &b.InitialBalance, 10000),
		floatFieldDefault("backtest.slippage", &b.Slippage, 0.0001),
		floatFieldDefault("backtest.commission", &b.Commission, 0.0002),
		intFieldDefault("backtest.latency_ms", &b.LatencyMS, 100),
		intFieldDefault("backtest.warmup", &b.Warmup, defaultMinCandles),
		intFieldDefault("backtest.window", &b.Window, 250),
		stringFieldDefault("backtest.data_dir", &b.DataDir, defaultDataDir),
		intFieldDefault("backtest.max_concurrent", &b.MaxConcurrent, 2),
		stringFieldDefault("backtest.timeframe", &b.Timeframe, defaultTimeframe),
	)
}

func (s *StoreConfig) applyDefaults(keys keySet) {
	if s == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("store.decision_db", &s.DecisionDB, defaultDecisionDB),
	)
}

func (m *MarketConfig) applyDefaults(keys keySet) {
	if m == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("market.source", &m.Source, defaultMarketSource),
		stringFieldDefault("market.rest_base_url", &m.RESTBaseURL, defaultMarketREST),
		intFieldDefault("market.rate_limit_per_min", &m.RateLimitPerMin, 600),
		intFieldDefault("market.max_batch", &m.MaxBatch, 1000),
	)
}

// Helper functions

func applyFieldDefaults(keys keySet, defs ...fieldDefault) {
	for _, def := range defs {
		if def.apply == nil {
			continue
		}
		if def.key != "" && keys.isSet(def.key) {
			continue
		}
		if def.need != nil && !def.need() {
			continue
		}
		def.apply()
	}
}

func stringFieldDefault(key string, target *string, def string) fieldDefault {
	return fieldDefault{
		key: key,
		need: func() bool {
			return target != nil && strings.TrimSpace(*target) == ""
		},
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func boolFieldDefault(key string, target *bool, def bool) fieldDefault {
	return fieldDefault{
		key:  key,
		need: func() bool { return target != nil },
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func intFieldDefault(key string, target *int, def int) fieldDefault {
	return fieldDefault{
		key:   key,
		need:  func() bool { return target != nil && *target <= 0 },
		apply: func() { *target = def },
	}
}

func floatFieldDefault(key string, target *float64, def float64) fieldDefault {
	return fieldDefault{
		key:   key,
		need:  func() bool { return target != nil && *target <= 0 },
		apply: func() { *target = def },
	}
}
