package gormstore

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snackshell/KeenAI-Quant/internal/store"
)

func openTestStore(t *testing.T) *GormStore {
	t.Helper()
	s, err := NewGormStore(filepath.Join(t.TempDir(), "live", "decisions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestDecisionJournal(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	t0 := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	id, err := s.AppendDecision(ctx, store.DecisionRecord{
		Instrument: "EUR/USD", Stage: "approved", Regime: "trending", Direction: "BUY",
		Strategy: "trend", Confidence: 0.8, Size: 0.5, Approved: true,
		Payload: json.RawMessage(`{"rsi_14":55}`), DecidedAt: t0, CreatedAt: t0,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	_, err = s.AppendDecision(ctx, store.DecisionRecord{Instrument: "BTC/USD", Stage: "strategy", CreatedAt: t0.Add(time.Minute)})
	require.NoError(t, err)

	all, err := s.ListDecisions(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "BTC/USD", all[0].Instrument)

	eur, err := s.ListDecisions(ctx, "EUR/USD", 10)
	require.NoError(t, err)
	require.Len(t, eur, 1)
	assert.Equal(t, id, eur[0].ID)
	assert.True(t, eur[0].Approved)
	assert.Equal(t, t0, eur[0].DecidedAt)
	assert.JSONEq(t, `{"rsi_14":55}`, string(eur[0].Payload))
}

func TestTradeAndBreakerJournal(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	t0 := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, s.AppendTrade(ctx, store.TradeRecord{Instrument: "EUR/USD", Strategy: "trend", PnL: -12.5, ClosedAt: t0}))
	require.NoError(t, s.AppendTrade(ctx, store.TradeRecord{Instrument: "EUR/USD", Strategy: "breakout", PnL: 30, ClosedAt: t0.Add(time.Hour)}))
	trades, err := s.ListTrades(ctx, "EUR/USD", 0)
	require.NoError(t, err)
	require.Len(t, trades, 2)
	assert.Equal(t, "breakout", trades[0].Strategy)

	require.NoError(t, s.AppendBreakerEvent(ctx, store.BreakerEventRecord{Breaker: "live", From: "ACTIVE", To: "TRIPPED", Trigger: "daily_loss", TriggerValue: 5.2, Threshold: 5, At: t0}))
	require.NoError(t, s.AppendBreakerEvent(ctx, store.BreakerEventRecord{Breaker: "live", From: "TRIPPED", To: "ACTIVE", At: t0.Add(2 * time.Hour)}))

	events, err := s.ListBreakerEvents(ctx, t0.Add(time.Hour), 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "ACTIVE", events[0].To)

	events, err = s.ListBreakerEvents(ctx, time.Time{}, 0)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "daily_loss", events[0].Trigger)
}
