package indicator

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/snackshell/KeenAI-Quant/internal/config"
	"github.com/snackshell/KeenAI-Quant/internal/market"
)

// ErrInsufficientData 表示窗口长度不足以计算完整快照。
var ErrInsufficientData = errors.New("insufficient data")

// 快照中使用的指标键名。
const (
	KeySMA20         = "sma_20"
	KeySMA50         = "sma_50"
	KeySMA200        = "sma_200"
	KeyEMA9          = "ema_9"
	KeyEMA21         = "ema_21"
	KeyEMA55         = "ema_55"
	KeyRSI           = "rsi_14"
	KeyStochK        = "stoch_k"
	KeyStochD        = "stoch_d"
	KeyCCI           = "cci_20"
	KeyWilliamsR     = "williams_r"
	KeyMACD          = "macd"
	KeyMACDSignal    = "macd_signal"
	KeyMACDHistogram = "macd_histogram"
	KeyADX           = "adx_14"
	KeyPlusDI        = "plus_di"
	KeyMinusDI       = "minus_di"
	KeyBBUpper       = "bb_upper"
	KeyBBMiddle      = "bb_middle"
	KeyBBLower       = "bb_lower"
	KeyBBWidth       = "bb_width"
	KeyATR           = "atr_14"
	KeyVolatility    = "volatility_20"
	KeyVolPercentile = "volatility_percentile"
	KeyPrice         = "current_price"
)

// Settings 描述快照计算参数。
type Settings struct {
	MinCandles       int
	RSIPeriod        int
	ATRPeriod        int
	ADXPeriod        int
	BBPeriod         int
	BBStdDev         float64
	StochKPeriod     int
	StochDPeriod     int
	CCIPeriod        int
	WilliamsPeriod   int
	VolatilityWindow int
	PercentileWindow int
}

// DefaultSettings 返回常用周期。
func DefaultSettings() Settings {
	return SettingsFromConfig(config.Default().Indicators)
}

// SettingsFromConfig 将配置段转换为计算参数。
func SettingsFromConfig(cfg config.IndicatorConfig) Settings {
	return Settings{
		MinCandles:       cfg.MinCandles,
		RSIPeriod:        cfg.RSIPeriod,
		ATRPeriod:        cfg.ATRPeriod,
		ADXPeriod:        cfg.ADXPeriod,
		BBPeriod:         cfg.BBPeriod,
		BBStdDev:         cfg.BBStdDev,
		StochKPeriod:     cfg.StochKPeriod,
		StochDPeriod:     cfg.StochDPeriod,
		CCIPeriod:        cfg.CCIPeriod,
		WilliamsPeriod:   cfg.WilliamsPeriod,
		VolatilityWindow: cfg.VolatilityWindow,
		PercentileWindow: cfg.PercentileWindow,
	}
}

// Snapshot 是某一时刻的指标取值。窗口不足的指标不会出现在 Values 中，
// 调用方必须通过 Get 判断是否存在，而不是读到 0。
type Snapshot struct {
	Values map[string]float64 `json:"values"`
	Count  int                `json:"count"`
}

// Get 返回指标值及其是否已定义。
func (s Snapshot) Get(name string) (float64, bool) {
	if s.Values == nil {
		return 0, false
	}
	v, ok := s.Values[name]
	return v, ok
}

// Require 要求所有 names 都已定义。
func (s Snapshot) Require(names ...string) error {
	for _, name := range names {
		if _, ok := s.Get(name); !ok {
			return fmt.Errorf("%w: %s undefined", ErrInsufficientData, name)
		}
	}
	return nil
}

// Keys 返回已定义的指标名（排序后）。
func (s Snapshot) Keys() []string {
	keys := make([]string, 0, len(s.Values))
	for k := range s.Values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (s *Snapshot) set(name string, v float64, ok bool) {
	if !ok || math.IsNaN(v) || math.IsInf(v, 0) {
		return
	}
	s.Values[name] = v
}

// Compute 计算完整的命名指标集。candles 少于 MinCandles 时返回 ErrInsufficientData；
// 即便满足最小长度，长周期指标（如 sma_200）仍可能缺失。
func Compute(candles []market.Candle, cfg Settings) (Snapshot, error) {
	snap := Snapshot{Values: make(map[string]float64), Count: len(candles)}
	if cfg.MinCandles <= 0 {
		cfg.MinCandles = DefaultSettings().MinCandles
	}
	if len(candles) < cfg.MinCandles {
		return snap, fmt.Errorf("%w: need %d candles, got %d", ErrInsufficientData, cfg.MinCandles, len(candles))
	}
	highs, lows, closes := market.HLC(candles)

	snap.set(KeyPrice, closes[len(closes)-1], true)
	for key, period := range map[string]int{KeySMA20: 20, KeySMA50: 50, KeySMA200: 200} {
		v, ok := SMA(closes, period)
		snap.set(key, v, ok)
	}
	for key, period := range map[string]int{KeyEMA9: 9, KeyEMA21: 21, KeyEMA55: 55} {
		v, ok := EMA(closes, period)
		snap.set(key, v, ok)
	}

	rsi, ok := RSI(closes, cfg.RSIPeriod)
	snap.set(KeyRSI, rsi, ok)

	stoch := Stochastic(highs, lows, closes, cfg.StochKPeriod, cfg.StochDPeriod)
	snap.set(KeyStochK, stoch.K, stoch.KOK)
	snap.set(KeyStochD, stoch.D, stoch.DOK)

	cci, ok := CCI(highs, lows, closes, cfg.CCIPeriod)
	snap.set(KeyCCI, cci, ok)
	willr, ok := WilliamsR(highs, lows, closes, cfg.WilliamsPeriod)
	snap.set(KeyWilliamsR, willr, ok)

	if m, ok := MACD(closes, 12, 26, 9); ok {
		snap.set(KeyMACD, m.MACD, true)
		snap.set(KeyMACDSignal, m.Signal, true)
		snap.set(KeyMACDHistogram, m.Histogram, true)
	}
	if d, ok := ADX(highs, lows, closes, cfg.ADXPeriod); ok {
		snap.set(KeyADX, d.ADX, true)
		snap.set(KeyPlusDI, d.PlusDI, true)
		snap.set(KeyMinusDI, d.MinusDI, true)
	}
	if bb, ok := Bollinger(closes, cfg.BBPeriod, cfg.BBStdDev); ok {
		snap.set(KeyBBUpper, bb.Upper, true)
		snap.set(KeyBBMiddle, bb.Middle, true)
		snap.set(KeyBBLower, bb.Lower, true)
		snap.set(KeyBBWidth, bb.Width, true)
	}
	atr, ok := ATR(highs, lows, closes, cfg.ATRPeriod)
	snap.set(KeyATR, atr, ok)
	vol, ok := Volatility(closes, cfg.VolatilityWindow)
	snap.set(KeyVolatility, vol, ok)
	pct, ok := VolatilityPercentile(highs, lows, closes, cfg.ATRPeriod, cfg.PercentileWindow)
	snap.set(KeyVolPercentile, pct, ok)
	return snap, nil
}
