package indicator

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snackshell/KeenAI-Quant/internal/market"
)

func wave(n int, base, amp float64) []market.Candle {
	out := make([]market.Candle, 0, n)
	prev := base
	for i := 0; i < n; i++ {
		c := base + amp*math.Sin(float64(i)/4) + float64(i)*0.01
		open := prev
		high := math.Max(open, c) + amp*0.1
		low := math.Min(open, c) - amp*0.1
		candle, err := market.NewCandle("EUR/USD", "1h", int64(i)*3_600_000, open, high, low, c, 100+float64(i%7))
		if err != nil {
			panic(err)
		}
		out = append(out, candle)
		prev = c
	}
	return out
}

func flat(n int, price float64) []market.Candle {
	out := make([]market.Candle, n)
	for i := range out {
		out[i], _ = market.NewCandle("X", "1h", int64(i)*3_600_000, price, price, price, price, 1)
	}
	return out
}

func TestMovingAverages(t *testing.T) {
	v, ok := SMA([]float64{1, 2, 3, 4}, 2)
	require.True(t, ok)
	assert.InDelta(t, 3.5, v, 1e-12)

	_, ok = SMA([]float64{1}, 2)
	assert.False(t, ok)

	v, ok = EMA([]float64{1, 2, 3}, 3)
	require.True(t, ok)
	assert.InDelta(t, 2.25, v, 1e-12)

	assert.Nil(t, EMASeries([]float64{1, 2}, 3))
}

func TestRSI(t *testing.T) {
	t.Run("bounded", func(t *testing.T) {
		for _, amp := range []float64{0.01, 1, 50} {
			_, _, closes := market.HLC(wave(120, 100, amp))
			for end := 15; end <= len(closes); end++ {
				v, ok := RSI(closes[:end], 14)
				require.True(t, ok)
				assert.GreaterOrEqual(t, v, 0.0)
				assert.LessOrEqual(t, v, 100.0)
			}
		}
	})
	t.Run("no losses", func(t *testing.T) {
		v, ok := RSI([]float64{1, 2, 3, 4}, 3)
		require.True(t, ok)
		assert.Equal(t, 100.0, v)
	})
	t.Run("all losses", func(t *testing.T) {
		v, ok := RSI([]float64{4, 3, 2, 1}, 3)
		require.True(t, ok)
		assert.InDelta(t, 0, v, 1e-12)
	})
	t.Run("insufficient", func(t *testing.T) {
		_, ok := RSI([]float64{1, 2, 3}, 3)
		assert.False(t, ok)
	})
}

func TestStochasticUsesRollingK(t *testing.T) {
	highs := []float64{10, 11, 12, 13, 14}
	lows := []float64{8, 9, 10, 11, 12}
	closes := []float64{9, 10.5, 11, 12.5, 13}

	s := Stochastic(highs, lows, closes, 3, 3)
	require.True(t, s.KOK)
	require.True(t, s.DOK)
	assert.InDelta(t, 75, s.K, 1e-9)
	assert.InDelta(t, (75+87.5+75)/3, s.D, 1e-9)
	assert.NotEqual(t, s.K, s.D)

	short := Stochastic(highs[:3], lows[:3], closes[:3], 3, 3)
	assert.True(t, short.KOK)
	assert.False(t, short.DOK)
}

func TestFlatWindows(t *testing.T) {
	highs, lows, closes := market.HLC(flat(30, 5))

	k := Stochastic(highs, lows, closes, 14, 3)
	assert.Equal(t, 50.0, k.K)

	w, ok := WilliamsR(highs, lows, closes, 14)
	require.True(t, ok)
	assert.Equal(t, -50.0, w)

	c, ok := CCI(highs, lows, closes, 20)
	require.True(t, ok)
	assert.Equal(t, 0.0, c)

	atr, ok := ATR(highs, lows, closes, 14)
	require.True(t, ok)
	assert.Equal(t, 0.0, atr)

	bb, ok := Bollinger(closes, 20, 2)
	require.True(t, ok)
	assert.Equal(t, 0.0, bb.Width)
}

func TestVolatilityMeasuresNonNegative(t *testing.T) {
	highs, lows, closes := market.HLC(wave(150, 1.1, 0.02))
	for end := 21; end <= len(closes); end += 7 {
		atr, ok := ATR(highs[:end], lows[:end], closes[:end], 14)
		require.True(t, ok)
		assert.GreaterOrEqual(t, atr, 0.0)

		bb, ok := Bollinger(closes[:end], 20, 2)
		require.True(t, ok)
		assert.GreaterOrEqual(t, bb.Width, 0.0)
		assert.GreaterOrEqual(t, bb.Upper, bb.Middle)
		assert.LessOrEqual(t, bb.Lower, bb.Middle)
	}

	_, ok := ATR(highs[:14], lows[:14], closes[:14], 14)
	assert.False(t, ok, "atr needs period+1 candles")

	pct, ok := VolatilityPercentile(highs, lows, closes, 14, 100)
	require.True(t, ok)
	assert.GreaterOrEqual(t, pct, 0.0)
	assert.LessOrEqual(t, pct, 100.0)
}

func TestTrendIndicators(t *testing.T) {
	highs, lows, closes := market.HLC(wave(80, 100, 3))

	_, ok := MACD(closes[:34], 12, 26, 9)
	assert.False(t, ok)
	m, ok := MACD(closes, 12, 26, 9)
	require.True(t, ok)
	assert.InDelta(t, m.MACD-m.Signal, m.Histogram, 1e-12)

	_, ok = ADX(highs[:27], lows[:27], closes[:27], 14)
	assert.False(t, ok)
	d, ok := ADX(highs, lows, closes, 14)
	require.True(t, ok)
	assert.GreaterOrEqual(t, d.ADX, 0.0)
	assert.LessOrEqual(t, d.ADX, 100.0)
}

func TestCompute(t *testing.T) {
	t.Run("insufficient", func(t *testing.T) {
		_, err := Compute(wave(49, 100, 1), DefaultSettings())
		assert.ErrorIs(t, err, ErrInsufficientData)
	})
	t.Run("explicit absence", func(t *testing.T) {
		snap, err := Compute(wave(60, 100, 1), DefaultSettings())
		require.NoError(t, err)
		assert.Equal(t, 60, snap.Count)
		for _, key := range []string{KeyRSI, KeyATR, KeyADX, KeyBBUpper, KeyMACD, KeyStochD, KeyEMA55, KeyPrice} {
			_, ok := snap.Get(key)
			assert.True(t, ok, key)
		}
		_, ok := snap.Get(KeySMA200)
		assert.False(t, ok)
		assert.ErrorIs(t, snap.Require(KeyRSI, KeySMA200), ErrInsufficientData)
		assert.NoError(t, snap.Require(KeyRSI, KeyATR))
	})
	t.Run("full", func(t *testing.T) {
		snap, err := Compute(wave(260, 100, 1), DefaultSettings())
		require.NoError(t, err)
		assert.Len(t, snap.Keys(), 25)
	})
}
