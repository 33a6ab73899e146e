package market

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Timeframe 是 K 线周期：Key 为规范写法，SourceInterval 为交易所 interval 参数。
type Timeframe struct {
	Key            string        `json:"key"`
	Duration       time.Duration `json:"duration"`
	SourceInterval string        `json:"source_interval"`
}

// 交易所实际提供的周期，按时长升序。
var timeframes = []Timeframe{
	{"1m", time.Minute, "1m"},
	{"5m", 5 * time.Minute, "5m"},
	{"15m", 15 * time.Minute, "15m"},
	{"30m", 30 * time.Minute, "30m"},
	{"1h", time.Hour, "1h"},
	{"4h", 4 * time.Hour, "4h"},
	{"1d", 24 * time.Hour, "1d"},
	{"1w", 7 * 24 * time.Hour, "1w"},
}

var unitDurations = map[byte]time.Duration{
	'm': time.Minute,
	'h': time.Hour,
	'd': 24 * time.Hour,
	'w': 7 * 24 * time.Hour,
}

// ParseTimeframe 接受 "1H"、"60m"、"7d" 等写法，按时长匹配到受支持的周期。
func ParseTimeframe(input string) (Timeframe, error) {
	s := strings.ToLower(strings.TrimSpace(input))
	if len(s) < 2 {
		return Timeframe{}, fmt.Errorf("unsupported timeframe %q", input)
	}
	unit, ok := unitDurations[s[len(s)-1]]
	if !ok {
		return Timeframe{}, fmt.Errorf("unsupported timeframe %q", input)
	}
	n, err := strconv.Atoi(s[:len(s)-1])
	if err != nil || n <= 0 {
		return Timeframe{}, fmt.Errorf("unsupported timeframe %q", input)
	}
	d := time.Duration(n) * unit
	for _, tf := range timeframes {
		if tf.Duration == d {
			return tf, nil
		}
	}
	return Timeframe{}, fmt.Errorf("unsupported timeframe %q", input)
}

// SupportedTimeframes 按时长升序返回所有 key。
func SupportedTimeframes() []string {
	out := make([]string, len(timeframes))
	for i, tf := range timeframes {
		out[i] = tf.Key
	}
	return out
}

func (tf Timeframe) String() string { return tf.Key }

func (tf Timeframe) DurationMillis() int64 {
	return tf.Duration.Milliseconds()
}

// Floor 将毫秒时间戳向下对齐到本周期的开盘时间。
func (tf Timeframe) Floor(ts int64) int64 {
	step := tf.DurationMillis()
	if step <= 0 {
		return ts
	}
	m := ts % step
	if m < 0 {
		m += step
	}
	return ts - m
}

// AlignRange 对齐到周期网格并保证 start<=end。
func (tf Timeframe) AlignRange(start, end int64) (int64, int64) {
	if end < start {
		start, end = end, start
	}
	return tf.Floor(start), tf.Floor(end)
}

// ExpectedCandles 返回 [start, end] 网格上应有的 K 线根数。
func (tf Timeframe) ExpectedCandles(start, end int64) int64 {
	step := tf.DurationMillis()
	if step <= 0 || end < start {
		return 0
	}
	return (end-start)/step + 1
}

// Span 返回 n 根 K 线覆盖的时长。
func (tf Timeframe) Span(n int) time.Duration {
	return time.Duration(n) * tf.Duration
}
