package market

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCandle(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		c, err := NewCandle("EUR/USD", "1h", 3_600_000, 1.10, 1.12, 1.09, 1.11, 100)
		require.NoError(t, err)
		assert.Equal(t, int64(7_199_999), c.CloseTime)
		assert.InDelta(t, (1.12+1.09+1.11)/3, c.TypicalPrice(), 1e-12)
	})

	cases := []struct {
		name                 string
		open, high, low, cls float64
		volume               float64
		contains             string
	}{
		{"high below close", 1.10, 1.105, 1.09, 1.11, 1, "high"},
		{"low above open", 1.10, 1.12, 1.101, 1.11, 1, "low"},
		{"negative volume", 1.10, 1.12, 1.09, 1.11, -1, "volume"},
		{"zero price", 0, 1.12, 1.09, 1.11, 1, "positive"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewCandle("EUR/USD", "1h", 0, tc.open, tc.high, tc.low, tc.cls, tc.volume)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidCandle)
			assert.Contains(t, err.Error(), tc.contains)
		})
	}
}

func TestValidateSeriesOrdering(t *testing.T) {
	a, _ := NewCandle("X", "1h", 0, 1, 2, 0.5, 1.5, 1)
	b, _ := NewCandle("X", "1h", 0, 1, 2, 0.5, 1.5, 1)
	err := ValidateSeries([]Candle{a, b})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not after")
}

func TestDecodeKlinesJSON(t *testing.T) {
	t.Run("binance rows", func(t *testing.T) {
		raw := `[[1700000000000,"100.0","110.0","95.0","105.0","12.5",1700003599999,"0",42],
		         [1700003600000,"105.0","106.0","101.0","102.0","8",1700007199999,"0",12]]`
		out, err := DecodeKlinesJSON("BTC/USD", "1h", []byte(raw))
		require.NoError(t, err)
		require.Len(t, out, 2)
		assert.Equal(t, 105.0, out[0].Close)
		assert.Equal(t, int64(42), out[0].Trades)
		assert.Equal(t, "BTC/USD", out[1].Symbol)
	})
	t.Run("objects", func(t *testing.T) {
		raw := `[{"timestamp":0,"o":1,"h":2,"l":0.5,"c":1.5,"v":3}]`
		out, err := DecodeKlinesJSON("X", "1h", []byte(raw))
		require.NoError(t, err)
		require.Len(t, out, 1)
		assert.Equal(t, int64(3_599_999), out[0].CloseTime)
	})
	t.Run("invalid ohlc", func(t *testing.T) {
		raw := `[[0,"1","0.9","0.5","1.5","1"]]`
		_, err := DecodeKlinesJSON("X", "1h", []byte(raw))
		assert.ErrorIs(t, err, ErrInvalidCandle)
	})
	t.Run("not array", func(t *testing.T) {
		_, err := DecodeKlinesJSON("X", "1h", []byte(`{"a":1}`))
		assert.Error(t, err)
	})
}

func TestDecodeCandlesYAMLAndCSV(t *testing.T) {
	doc := `
symbol: ETH/USD
timeframe: 1h
candles:
  - {open_time: 0, open: 10, high: 11, low: 9, close: 10.5, volume: 1}
  - {open_time: 3600000, open: 10.5, high: 12, low: 10, close: 11.5, volume: 2}
`
	out, err := DecodeCandlesYAML(strings.NewReader(doc))
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "ETH/USD", out[1].Symbol)

	_, err = DecodeCandlesYAML(strings.NewReader("symbol: X\nbogus: 1\n"))
	assert.Error(t, err)

	csvDoc := "open_time,open,high,low,close,volume\n0,10,11,9,10.5,1\n3600000,10.5,12,10,11.5,2\n"
	rows, err := DecodeCandlesCSV("ETH/USD", "1h", strings.NewReader(csvDoc))
	require.NoError(t, err)
	assert.Len(t, rows, 2)
	assert.Equal(t, 11.5, rows[1].Close)
}

func TestTimeframe(t *testing.T) {
	tf, err := ParseTimeframe("1H")
	require.NoError(t, err)
	assert.Equal(t, int64(3_600_000), tf.DurationMillis())
	start, end := tf.AlignRange(7_300_000, 3_700_000)
	assert.Equal(t, int64(3_600_000), start)
	assert.Equal(t, int64(7_200_000), end)
	assert.Equal(t, int64(2), tf.ExpectedCandles(start, end))

	_, err = ParseTimeframe("2m")
	assert.Error(t, err)
}

func TestTimeframeAliases(t *testing.T) {
	tf, err := ParseTimeframe("60m")
	require.NoError(t, err)
	assert.Equal(t, "1h", tf.Key)

	tf, err = ParseTimeframe("7d")
	require.NoError(t, err)
	assert.Equal(t, "1w", tf.SourceInterval)

	h, _ := ParseTimeframe("1h")
	assert.Equal(t, int64(-3_600_000), h.Floor(-1))
	assert.Equal(t, 4*time.Hour, h.Span(4))
	assert.Equal(t, "1m", SupportedTimeframes()[0])
}
