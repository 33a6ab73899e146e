package circuit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snackshell/KeenAI-Quant/internal/types"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

func newTestBreaker(clock *fakeClock, opts ...Option) *CircuitBreaker {
	cfg := Settings{MaxDailyLoss: 0.05, MaxDrawdown: 0.15, MaxConsecutiveLosses: 5, HistoryLimit: 3}
	return NewCircuitBreaker("test", cfg, append([]Option{WithClock(clock.now)}, opts...)...)
}

func day(d int) time.Time {
	return time.Date(2024, 5, d, 10, 0, 0, 0, time.UTC)
}

func TestDailyLossThreshold(t *testing.T) {
	t.Run("600 loss trips", func(t *testing.T) {
		cb := newTestBreaker(&fakeClock{t: day(1)})
		err := cb.Check(types.Account{Balance: 9_400, Equity: 9_400, RealizedPnLToday: -600})
		require.ErrorIs(t, err, ErrTradingHalted)
		assert.Equal(t, StateTripped, cb.State())
		hist := cb.Status().History
		require.Len(t, hist, 1)
		assert.Equal(t, TriggerDailyLoss, hist[0].Trigger)
		assert.InDelta(t, 6, hist[0].TriggerValue, 1e-9)
		assert.InDelta(t, 5, hist[0].Threshold, 1e-9)
	})
	t.Run("400 loss does not trip", func(t *testing.T) {
		cb := newTestBreaker(&fakeClock{t: day(1)})
		assert.NoError(t, cb.Check(types.Account{Balance: 9_600, Equity: 9_600, RealizedPnLToday: -400}))
		assert.Equal(t, StateActive, cb.State())
	})
}

func TestDrawdownTrips(t *testing.T) {
	cb := newTestBreaker(&fakeClock{t: day(1)})
	require.NoError(t, cb.Check(types.Account{Balance: 10_000, Equity: 10_000}))
	require.NoError(t, cb.Check(types.Account{Balance: 10_000, Equity: 8_600}))
	err := cb.Check(types.Account{Balance: 10_000, Equity: 8_400})
	assert.ErrorIs(t, err, ErrTradingHalted)
	assert.Contains(t, err.Error(), "drawdown")
}

func TestConsecutiveLosses(t *testing.T) {
	clock := &fakeClock{t: day(1)}
	cb := newTestBreaker(clock)
	for i := 0; i < 4; i++ {
		cb.RecordTrade(-10)
	}
	cb.RecordTrade(5)
	assert.Equal(t, 0, cb.Status().ConsecutiveLosses)

	for i := 0; i < 4; i++ {
		cb.RecordTrade(-10)
	}
	assert.Equal(t, StateActive, cb.State())
	cb.RecordTrade(-10)
	assert.Equal(t, StateTripped, cb.State())
	assert.False(t, cb.Allow())
}

func TestDailyRollover(t *testing.T) {
	clock := &fakeClock{t: day(1)}
	cb := newTestBreaker(clock)
	require.NoError(t, cb.Check(types.Account{Balance: 10_000, Equity: 10_000}))
	for i := 0; i < 4; i++ {
		cb.RecordTrade(-10)
	}

	clock.t = day(2)
	cb.RecordTrade(-10)
	assert.Equal(t, 1, cb.Status().ConsecutiveLosses, "new day resets the streak")
	require.NoError(t, cb.Check(types.Account{Balance: 9_600, Equity: 9_950, RealizedPnLToday: -400}))
	assert.Equal(t, 10_000.0, cb.Status().StartingBalance)

	require.Error(t, cb.Check(types.Account{Balance: 9_480, Equity: 9_900, RealizedPnLToday: -520}))
	clock.t = day(3)
	assert.ErrorIs(t, cb.Check(types.Account{Balance: 9_000, Equity: 9_900}), ErrTradingHalted, "rollover keeps TRIPPED")
}

func TestLossBeforeFirstCheckOfDay(t *testing.T) {
	clock := &fakeClock{t: day(1)}
	cb := newTestBreaker(clock)
	require.NoError(t, cb.Check(types.Account{Balance: 10_000, Equity: 10_000}))

	clock.t = day(2)
	cb.RecordTrade(-480)
	require.NoError(t, cb.Check(types.Account{Balance: 9_520, Equity: 9_520, RealizedPnLToday: -480}))
	assert.Equal(t, StateActive, cb.State(), "a 4.8% loss of the opening balance stays under the 5% limit")
	assert.Equal(t, 10_000.0, cb.Status().StartingBalance)

	cb.RecordTrade(-30)
	require.ErrorIs(t, cb.Check(types.Account{Balance: 9_490, Equity: 9_490, RealizedPnLToday: -510}), ErrTradingHalted)
	hist := cb.Status().History
	require.Len(t, hist, 1)
	assert.Equal(t, TriggerDailyLoss, hist[0].Trigger)
	assert.InDelta(t, 5.1, hist[0].TriggerValue, 1e-9)
}

func TestResetAndOverride(t *testing.T) {
	cb := newTestBreaker(&fakeClock{t: day(1)})
	assert.False(t, cb.Reset(), "reset is a no-op while active")

	for i := 0; i < 5; i++ {
		cb.RecordTrade(-1)
	}
	require.Equal(t, StateTripped, cb.State())

	cb.EnableOverride()
	assert.Equal(t, StateManualOverride, cb.State())
	assert.NoError(t, cb.Check(types.Account{Balance: 10_000, Equity: 1_000, RealizedPnLToday: -9_000}))
	assert.True(t, cb.DisableOverride())
	assert.Equal(t, StateTripped, cb.State())

	assert.True(t, cb.Reset())
	assert.Equal(t, StateActive, cb.State())
	assert.Equal(t, 0, cb.Status().ConsecutiveLosses)
	assert.False(t, cb.DisableOverride())
}

func TestHistoryLimitAndHandler(t *testing.T) {
	changes := make(chan State, 16)
	cb := newTestBreaker(&fakeClock{t: day(1)}, WithStateChangeHandler(func(_ string, _, to State, _ *Event) {
		changes <- to
	}))
	for i := 0; i < 4; i++ {
		for j := 0; j < 5; j++ {
			cb.RecordTrade(-1)
		}
		require.True(t, cb.Reset())
	}
	assert.Len(t, cb.Status().History, 3)

	seen := map[State]int{}
	for i := 0; i < 8; i++ {
		select {
		case s := <-changes:
			seen[s]++
		case <-time.After(time.Second):
			t.Fatal("state change handler not called")
		}
	}
	assert.Equal(t, 4, seen[StateTripped])
	assert.Equal(t, 4, seen[StateActive])

	text, err := StateManualOverride.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "MANUAL_OVERRIDE", string(text))
}
