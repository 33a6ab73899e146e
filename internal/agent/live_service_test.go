package agent

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snackshell/KeenAI-Quant/internal/config"
	"github.com/snackshell/KeenAI-Quant/internal/market"
	"github.com/snackshell/KeenAI-Quant/internal/pipeline"
	"github.com/snackshell/KeenAI-Quant/internal/pkg/circuit"
	"github.com/snackshell/KeenAI-Quant/internal/store"
	"github.com/snackshell/KeenAI-Quant/internal/strategy"
	"github.com/snackshell/KeenAI-Quant/internal/types"
)

type memJournal struct {
	mu        sync.Mutex
	decisions []store.DecisionRecord
	trades    []store.TradeRecord
	events    []store.BreakerEventRecord
}

func (j *memJournal) AppendDecision(_ context.Context, rec store.DecisionRecord) (string, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.decisions = append(j.decisions, rec)
	return "d1", nil
}

func (j *memJournal) ListDecisions(context.Context, string, int) ([]store.DecisionRecord, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]store.DecisionRecord(nil), j.decisions...), nil
}

func (j *memJournal) AppendTrade(_ context.Context, rec store.TradeRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.trades = append(j.trades, rec)
	return nil
}

func (j *memJournal) ListTrades(context.Context, string, int) ([]store.TradeRecord, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]store.TradeRecord(nil), j.trades...), nil
}

func (j *memJournal) AppendBreakerEvent(_ context.Context, rec store.BreakerEventRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.events = append(j.events, rec)
	return nil
}

func (j *memJournal) ListBreakerEvents(context.Context, time.Time, int) ([]store.BreakerEventRecord, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]store.BreakerEventRecord(nil), j.events...), nil
}

func (j *memJournal) Close() error { return nil }

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) Publish(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) kinds() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Type
	}
	return out
}

func trendCandles(n int) []market.Candle {
	start := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC).UnixMilli()
	out := make([]market.Candle, n)
	for i := range out {
		base := 1.10 + 0.0004*float64(i) + 0.002*math.Sin(float64(i)/5)
		out[i] = market.Candle{
			OpenTime:  start + int64(i)*3_600_000,
			CloseTime: start + int64(i+1)*3_600_000 - 1,
			Open:      base,
			High:      base + 0.003,
			Low:       base - 0.003,
			Close:     base + 0.001,
			Volume:    100,
		}
	}
	return out
}

func newTestService(t *testing.T) (*LiveService, *memJournal, *recorder) {
	t.Helper()
	j := &memJournal{}
	pub := &recorder{}
	svc, err := NewLiveService(LiveServiceParams{Config: config.Default(), Journal: j, Publisher: pub})
	require.NoError(t, err)
	return svc, j, pub
}

func account() types.Account {
	return types.Account{Balance: 10_000, Equity: 10_000, MarginAvailable: 10_000}
}

func TestEvaluateValidation(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Evaluate(ctx, EvaluateRequest{Candles: trendCandles(5), Account: account()})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = svc.Evaluate(ctx, EvaluateRequest{Instrument: "EUR/USD", Account: account()})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	bad := trendCandles(3)
	bad[2].OpenTime = bad[1].OpenTime
	_, err = svc.Evaluate(ctx, EvaluateRequest{Instrument: "EUR/USD", Candles: bad, Account: account()})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = svc.Evaluate(ctx, EvaluateRequest{Instrument: "EUR/USD", Candles: trendCandles(10), Account: account()})
	require.Error(t, err)
	assert.True(t, pipeline.IsInsufficientData(err))
}

func TestEvaluateJournalsAndPublishes(t *testing.T) {
	svc, j, pub := newTestService(t)

	ev, err := svc.Evaluate(context.Background(), EvaluateRequest{
		Instrument: "eur/usd",
		Timeframe:  "1h",
		Candles:    trendCandles(260),
		Account:    account(),
	})
	require.NoError(t, err)
	assert.Equal(t, "EUR/USD", ev.Instrument)

	decisions, _ := j.ListDecisions(context.Background(), "", 10)
	require.Len(t, decisions, 1)
	assert.Equal(t, string(ev.Stage), decisions[0].Stage)
	assert.Equal(t, ev.Approved, decisions[0].Approved)
	assert.NotEmpty(t, decisions[0].Payload)
	assert.Equal(t, []string{EventDecision}, pub.kinds())
}

func TestRiskStatus(t *testing.T) {
	svc, _, _ := newTestService(t)

	empty := svc.RiskStatus(0)
	assert.Nil(t, empty.Account)
	assert.Zero(t, empty.Limits.MaxPositionValue)
	assert.Equal(t, 0.02, empty.Settings.RiskPerTrade)

	explicit := svc.RiskStatus(20_000)
	assert.InDelta(t, 5_000, explicit.Limits.MaxPositionValue, 1e-9)
	assert.InDelta(t, 15_000, explicit.Limits.MaxExposureValue, 1e-9)

	_, err := svc.Evaluate(context.Background(), EvaluateRequest{
		Instrument: "EUR/USD",
		Timeframe:  "1h",
		Candles:    trendCandles(260),
		Account:    account(),
	})
	require.NoError(t, err)

	report := svc.RiskStatus(0)
	require.NotNil(t, report.Account)
	assert.Equal(t, 10_000.0, report.Balance)
	assert.InDelta(t, 200, report.Limits.MaxRiskPerTrade, 1e-9)
	assert.Equal(t, 10_000.0, report.Account.Balance)
	assert.Zero(t, report.Account.OpenPositions)
}

func TestRecordTradeTripsBreaker(t *testing.T) {
	svc, j, _ := newTestService(t)
	ctx := context.Background()

	assert.ErrorIs(t, svc.RecordTrade(ctx, TradeReport{Strategy: strategy.NameTrend, PnL: math.NaN()}), ErrInvalidRequest)
	assert.ErrorIs(t, svc.RecordTrade(ctx, TradeReport{PnL: -1}), ErrInvalidRequest)

	for i := 0; i < 5; i++ {
		require.NoError(t, svc.RecordTrade(ctx, TradeReport{Instrument: "eur/usd", Strategy: strategy.NameTrend, PnL: -10}))
	}
	trades, _ := j.ListTrades(ctx, "", 10)
	require.Len(t, trades, 5)
	assert.Equal(t, "EUR/USD", trades[0].Instrument)

	status := svc.BreakerStatus()
	assert.Equal(t, circuit.StateTripped, status.State)
	require.Len(t, status.History, 1)
	assert.Equal(t, circuit.TriggerConsecutiveLosses, status.History[0].Trigger)

	require.Eventually(t, func() bool {
		events, _ := j.ListBreakerEvents(ctx, time.Time{}, 10)
		return len(events) == 1 && events[0].Trigger == circuit.TriggerConsecutiveLosses
	}, time.Second, 10*time.Millisecond)

	assert.True(t, svc.ResetBreaker())
	assert.False(t, svc.ResetBreaker())
	assert.Equal(t, circuit.StateActive, svc.BreakerStatus().State)

	assert.True(t, svc.SetOverride(true))
	assert.False(t, svc.SetOverride(true))
	assert.Equal(t, circuit.StateManualOverride, svc.BreakerStatus().State)
	assert.True(t, svc.SetOverride(false))
	assert.False(t, svc.SetOverride(false))
}

func TestApplyConfigTogglesStrategies(t *testing.T) {
	svc, _, pub := newTestService(t)

	cfg := config.Default()
	cfg.Strategies.Breakout.Enabled = false
	svc.ApplyConfig(cfg)

	enabled := map[string]bool{}
	for _, st := range svc.Strategies() {
		enabled[st.Name] = st.Enabled
	}
	assert.False(t, enabled[strategy.NameBreakout])
	assert.True(t, enabled[strategy.NameTrend])
	assert.Equal(t, []string{EventStrategy}, pub.kinds())

	require.NoError(t, svc.SetStrategyEnabled(strategy.NameBreakout, true))
	assert.ErrorIs(t, svc.SetStrategyEnabled("nope", true), ErrInvalidRequest)
}
