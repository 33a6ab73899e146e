package config

import "strings"

// Config 是 KeenQuant 的主配置载体。
type Config struct {
	App            AppConfig          `toml:"app"`
	Indicators     IndicatorConfig    `toml:"indicators"`
	Regime         RegimeConfig       `toml:"regime"`
	Strategies     StrategiesConfig   `toml:"strategies"`
	Orchestrator   OrchestratorConfig `toml:"orchestrator"`
	Risk           RiskConfig         `toml:"risk"`
	CircuitBreaker BreakerConfig      `toml:"circuit_breaker"`
	Backtest       BacktestConfig     `toml:"backtest"`
	Store          StoreConfig        `toml:"store"`
	Market         MarketConfig       `toml:"market"`
}

type AppConfig struct {
	Env       string `toml:"env"`
	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`
	LogPath   string `toml:"log_path"`
	HTTPAddr  string `toml:"http_addr"`
}

// IndicatorConfig 控制指标快照的窗口。
type IndicatorConfig struct {
	MinCandles       int     `toml:"min_candles"`
	RSIPeriod        int     `toml:"rsi_period"`
	ATRPeriod        int     `toml:"atr_period"`
	ADXPeriod        int     `toml:"adx_period"`
	BBPeriod         int     `toml:"bb_period"`
	BBStdDev         float64 `toml:"bb_std_dev"`
	StochKPeriod     int     `toml:"stoch_k_period"`
	StochDPeriod     int     `toml:"stoch_d_period"`
	CCIPeriod        int     `toml:"cci_period"`
	WilliamsPeriod   int     `toml:"williams_period"`
	VolatilityWindow int     `toml:"volatility_window"`
	PercentileWindow int     `toml:"percentile_window"`
}

type RegimeConfig struct {
	MinCandles          int     `toml:"min_candles"`
	ADXTrending         float64 `toml:"adx_trending"`
	VolatilityThreshold float64 `toml:"volatility_threshold"`
	LowATRPct           float64 `toml:"low_atr_pct"`
	HighATRPct          float64 `toml:"high_atr_pct"`
}

type StrategiesConfig struct {
	Trend         TrendConfig         `toml:"trend"`
	MeanReversion MeanReversionConfig `toml:"mean_reversion"`
	Breakout      BreakoutConfig      `toml:"breakout"`
}

// StrategyCommon 是三类策略共享的开关与过滤条件。
type StrategyCommon struct {
	Enabled       bool     `toml:"enabled"`
	Instruments   []string `toml:"instruments"`
	MinConfidence float64  `toml:"min_confidence"`
	HoursStart    string   `toml:"hours_start"`
	HoursEnd      string   `toml:"hours_end"`
}

type TrendConfig struct {
	StrategyCommon `toml:",squash"`
	FastPeriod     int     `toml:"fast_period"`
	SlowPeriod     int     `toml:"slow_period"`
	ADXThreshold   float64 `toml:"adx_threshold"`
	StopATR        float64 `toml:"stop_atr"`
	TargetATR      float64 `toml:"target_atr"`
}

type MeanReversionConfig struct {
	StrategyCommon `toml:",squash"`
	Oversold       float64 `toml:"oversold"`
	Overbought     float64 `toml:"overbought"`
	BandTolerance  float64 `toml:"band_tolerance"`
	StopATR        float64 `toml:"stop_atr"`
}

type BreakoutConfig struct {
	StrategyCommon `toml:",squash"`
	Lookback       int     `toml:"lookback"`
	MaxHistory     int     `toml:"max_history"`
	RewardRatio    float64 `toml:"reward_ratio"`
	PercentileNorm float64 `toml:"percentile_norm"`
}

// OrchestratorConfig 选择冲突消解模式。
type OrchestratorConfig struct {
	Mode          string             `toml:"mode"`
	VoteThreshold float64            `toml:"vote_threshold"`
	Weights       map[string]float64 `toml:"weights"`
}

type RiskConfig struct {
	RiskPerTrade    float64 `toml:"risk_per_trade"`
	MaxPositionSize float64 `toml:"max_position_size"`
	MinRiskReward   float64 `toml:"min_risk_reward"`
	MaxExposure     float64 `toml:"max_exposure"`
	Leverage        float64 `toml:"leverage"`
	MinSize         float64 `toml:"min_size"`
	// 信号缺止损时按 entry∓stop_atr×ATR 补齐
	StopATR         float64 `toml:"stop_atr"`
}

type BreakerConfig struct {
	MaxDailyLoss         float64 `toml:"max_daily_loss"`
	MaxDrawdown          float64 `toml:"max_drawdown"`
	MaxConsecutiveLosses int     `toml:"max_consecutive_losses"`
	HistoryLimit         int     `toml:"history_limit"`
}

type BacktestConfig struct {
	InitialBalance float64 `toml:"initial_balance"`
	Slippage       float64 `toml:"slippage"`
	Commission     float64 `toml:"commission"`
	LatencyMS      int     `toml:"latency_ms"`
	Warmup         int     `toml:"warmup"`
	Window         int     `toml:"window"`
	DataDir        string  `toml:"data_dir"`
	MaxConcurrent  int     `toml:"max_concurrent"`
	Timeframe      string  `toml:"timeframe"`
}

type StoreConfig struct {
	DecisionDB string `toml:"decision_db"`
}

type MarketConfig struct {
	Source          string `toml:"source"`
	RESTBaseURL     string `toml:"rest_base_url"`
	RateLimitPerMin int    `toml:"rate_limit_per_min"`
	MaxBatch        int    `toml:"max_batch"`
}

type keySet map[string]struct{}

func (k keySet) mark(path string) {
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return
	}
	k[path] = struct{}{}
}

func (k keySet) isSet(path string) bool {
	if len(k) == 0 {
		return false
	}
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return false
	}
	_, ok := k[path]
	return ok
}

// fieldDefault 描述单个字段的默认值填充规则。
type fieldDefault struct {
	key   string
	need  func() bool
	apply func()
}
