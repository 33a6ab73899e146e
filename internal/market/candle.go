package market

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrInvalidCandle 表示 OHLC 不满足 high>=max(open,close)、low<=min(open,close)。
var ErrInvalidCandle = errors.New("invalid candle")

// Candle 是一根只读 K 线。OpenTime/CloseTime 为 Unix 毫秒。
type Candle struct {
	Symbol    string  `json:"symbol,omitempty" yaml:"symbol,omitempty"`
	Timeframe string  `json:"timeframe,omitempty" yaml:"timeframe,omitempty"`
	OpenTime  int64   `json:"open_time" yaml:"open_time"`
	CloseTime int64   `json:"close_time" yaml:"close_time"`
	Open      float64 `json:"open" yaml:"open"`
	High      float64 `json:"high" yaml:"high"`
	Low       float64 `json:"low" yaml:"low"`
	Close     float64 `json:"close" yaml:"close"`
	Volume    float64 `json:"volume" yaml:"volume"`
	Trades    int64   `json:"trades,omitempty" yaml:"trades,omitempty"`
}

// NewCandle 构造并校验一根 K 线，非法输入直接返回 ErrInvalidCandle。
func NewCandle(symbol, timeframe string, openTime int64, open, high, low, closePrice, volume float64) (Candle, error) {
	c := Candle{
		Symbol:    symbol,
		Timeframe: timeframe,
		OpenTime:  openTime,
		CloseTime: openTime,
		Open:      open,
		High:      high,
		Low:       low,
		Close:     closePrice,
		Volume:    volume,
	}
	if tf, err := ParseTimeframe(timeframe); err == nil {
		c.CloseTime = openTime + tf.DurationMillis() - 1
	}
	if err := c.Validate(); err != nil {
		return Candle{}, err
	}
	return c, nil
}

// Validate 检查 OHLCV 不变量。
func (c Candle) Validate() error {
	for name, v := range map[string]float64{"open": c.Open, "high": c.High, "low": c.Low, "close": c.Close, "volume": c.Volume} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: %s is not finite", ErrInvalidCandle, name)
		}
	}
	if c.Open <= 0 || c.Close <= 0 || c.Low <= 0 {
		return fmt.Errorf("%w: prices must be positive (open=%v low=%v close=%v)", ErrInvalidCandle, c.Open, c.Low, c.Close)
	}
	if c.High < math.Max(c.Open, c.Close) {
		return fmt.Errorf("%w: high %v must be >= max(open, close)", ErrInvalidCandle, c.High)
	}
	if c.Low > math.Min(c.Open, c.Close) {
		return fmt.Errorf("%w: low %v must be <= min(open, close)", ErrInvalidCandle, c.Low)
	}
	if c.Volume < 0 {
		return fmt.Errorf("%w: volume %v must be >= 0", ErrInvalidCandle, c.Volume)
	}
	return nil
}

// Time 返回开盘时间（UTC）。
func (c Candle) Time() time.Time {
	return time.UnixMilli(c.OpenTime).UTC()
}

// TypicalPrice 返回 (H+L+C)/3。
func (c Candle) TypicalPrice() float64 {
	return (c.High + c.Low + c.Close) / 3
}

// ValidateSeries 校验整段序列，并要求 OpenTime 严格递增。
func ValidateSeries(candles []Candle) error {
	for i, c := range candles {
		if err := c.Validate(); err != nil {
			return fmt.Errorf("candle %d: %w", i, err)
		}
		if i > 0 && c.OpenTime <= candles[i-1].OpenTime {
			return fmt.Errorf("candle %d: open_time %d not after %d", i, c.OpenTime, candles[i-1].OpenTime)
		}
	}
	return nil
}

// Closes 抽取收盘价序列。
func Closes(candles []Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Close
	}
	return out
}

// HLC 抽取 high/low/close 序列。
func HLC(candles []Candle) (highs, lows, closes []float64) {
	highs = make([]float64, len(candles))
	lows = make([]float64, len(candles))
	closes = make([]float64, len(candles))
	for i, c := range candles {
		highs[i] = c.High
		lows[i] = c.Low
		closes[i] = c.Close
	}
	return highs, lows, closes
}
