package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDirection(t *testing.T) {
	for in, want := range map[string]Direction{"long": Buy, " BUY ": Buy, "short": Sell, "Sell": Sell, "": Hold, "hold": Hold} {
		got, err := ParseDirection(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseDirection("flat")
	assert.Error(t, err)

	assert.Equal(t, Sell, Buy.Opposite())
	assert.Equal(t, Hold, Hold.Opposite())
	assert.Equal(t, -1.0, Sell.Sign())
}

func TestSignalValidate(t *testing.T) {
	sig := TradingSignal{Instrument: "EUR/USD", Direction: Buy, Confidence: 0.7, EntryPrice: 1.1, StopLoss: 1.09, TakeProfit: 1.12}
	require.NoError(t, sig.Validate())
	assert.True(t, sig.IsActionable())
	assert.InDelta(t, 2.0, sig.RiskReward(), 1e-9)

	bad := sig
	bad.Confidence = 1.2
	assert.Error(t, bad.Validate())
	bad = sig
	bad.Size = -1
	assert.Error(t, bad.Validate())
	bad = sig
	bad.Direction = "UP"
	assert.Error(t, bad.Validate())

	flat := sig
	flat.StopLoss = flat.EntryPrice
	assert.Zero(t, flat.RiskReward())
	assert.False(t, TradingSignal{Direction: Hold}.IsActionable())
}

func TestTradeAndAccount(t *testing.T) {
	open := time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC)
	tr := Trade{EntryTime: open, ExitTime: open.Add(3 * time.Hour), PnL: 0}
	assert.Equal(t, 3*time.Hour, tr.Duration())
	assert.False(t, tr.IsWin())
	assert.Zero(t, Trade{EntryTime: open}.Duration())

	acct := Account{Positions: []Position{
		{Instrument: "EUR/USD", Direction: Sell, Size: 1000, EntryPrice: 1.1},
		{Instrument: "BTCUSDT", Direction: Buy, Size: 0.1, EntryPrice: 40000, MarkPrice: 41000},
	}}
	assert.InDelta(t, 1100+4100, acct.TotalExposure(), 1e-9)
	assert.Len(t, acct.PositionsFor("EUR/USD"), 1)
	assert.InDelta(t, 10.0, acct.Positions[0].UnrealizedPnL(1.09), 1e-9)
}
