// Package regime 根据指标快照把市场划分为趋势/震荡/高波动，并给出方向与波动等级。
package regime

import (
	"github.com/snackshell/KeenAI-Quant/internal/analysis/indicator"
	"github.com/snackshell/KeenAI-Quant/internal/config"
)

// Type 是市场状态类别。
type Type string

const (
	Trending Type = "trending"
	Ranging  Type = "ranging"
	Volatile Type = "volatile"
	Unknown  Type = "unknown"
)

// Direction 是 EMA 排列给出的趋势方向。
type Direction string

const (
	Up       Direction = "up"
	Down     Direction = "down"
	Sideways Direction = "sideways"
)

// Volatility 是 ATR 占价格百分比对应的波动等级。
type Volatility string

const (
	LowVolatility    Volatility = "low"
	NormalVolatility Volatility = "normal"
	HighVolatility   Volatility = "high"
)

// Regime 汇总一次分类结果。
type Regime struct {
	Type       Type       `json:"type"`
	Direction  Direction  `json:"direction"`
	Volatility Volatility `json:"volatility"`
}

// Settings 是分类阈值。
type Settings struct {
	MinCandles          int
	ADXTrending         float64
	VolatilityThreshold float64
	VolatilityWindow    int
	LowATRPct           float64
	HighATRPct          float64
}

// SettingsFromConfig 组合 regime 与 indicators 两个配置段。
func SettingsFromConfig(cfg config.RegimeConfig, ind config.IndicatorConfig) Settings {
	return Settings{
		MinCandles:          cfg.MinCandles,
		ADXTrending:         cfg.ADXTrending,
		VolatilityThreshold: cfg.VolatilityThreshold,
		VolatilityWindow:    ind.VolatilityWindow,
		LowATRPct:           cfg.LowATRPct,
		HighATRPct:          cfg.HighATRPct,
	}
}

// DefaultSettings 返回默认阈值（ADX 25，波动 2%，ATR 0.5%/2%）。
func DefaultSettings() Settings {
	cfg := config.Default()
	return SettingsFromConfig(cfg.Regime, cfg.Indicators)
}

// Classifier 是无状态分类器。
type Classifier struct {
	cfg Settings
}

func NewClassifier(cfg Settings) *Classifier {
	return &Classifier{cfg: cfg}
}

// Classify 依次判断：ADX 超阈值为 trending，否则收盘价波动率超阈值为 volatile，否则 ranging。
// 历史不足或所需指标缺失时为 unknown。
func (c *Classifier) Classify(snap indicator.Snapshot, closes []float64) Regime {
	return Regime{
		Type:       c.classifyType(snap, closes),
		Direction:  c.direction(snap, closes),
		Volatility: c.volatility(snap),
	}
}

func (c *Classifier) classifyType(snap indicator.Snapshot, closes []float64) Type {
	if len(closes) < c.cfg.MinCandles {
		return Unknown
	}
	if err := snap.Require(indicator.KeyADX, indicator.KeyATR, indicator.KeyBBMiddle); err != nil {
		return Unknown
	}
	adx, _ := snap.Get(indicator.KeyADX)
	if adx > c.cfg.ADXTrending {
		return Trending
	}
	vol, ok := indicator.Volatility(closes, c.cfg.VolatilityWindow)
	if !ok {
		return Unknown
	}
	if vol > c.cfg.VolatilityThreshold {
		return Volatile
	}
	return Ranging
}

func (c *Classifier) direction(snap indicator.Snapshot, closes []float64) Direction {
	if len(closes) < c.cfg.MinCandles {
		return Sideways
	}
	fast, ok1 := snap.Get(indicator.KeyEMA9)
	mid, ok2 := snap.Get(indicator.KeyEMA21)
	slow, ok3 := snap.Get(indicator.KeyEMA55)
	if !ok1 || !ok2 || !ok3 {
		return Sideways
	}
	switch {
	case fast > mid && mid > slow:
		return Up
	case fast < mid && mid < slow:
		return Down
	default:
		return Sideways
	}
}

func (c *Classifier) volatility(snap indicator.Snapshot) Volatility {
	atr, ok := snap.Get(indicator.KeyATR)
	price, okPrice := snap.Get(indicator.KeyPrice)
	if !ok || !okPrice || price <= 0 {
		return NormalVolatility
	}
	pct := atr / price * 100
	switch {
	case pct < c.cfg.LowATRPct:
		return LowVolatility
	case pct > c.cfg.HighATRPct:
		return HighVolatility
	default:
		return NormalVolatility
	}
}
