package backtest

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snackshell/KeenAI-Quant/internal/market"
)

const hourMS = int64(time.Hour / time.Millisecond)

func TestStoreInsertAndRange(t *testing.T) {
	root := t.TempDir()
	st, err := NewStore(root)
	require.NoError(t, err)
	defer st.Close()
	ctx := context.Background()

	candles := flat(5, nil)
	n, err := st.InsertCandles(ctx, "EUR/USD", "1h", candles)
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	// 覆盖写入不产生重复行
	_, err = st.InsertCandles(ctx, "EUR/USD", "1h", candles[3:])
	require.NoError(t, err)

	got, err := st.RangeCandles(ctx, "EUR/USD", "1h", candles[1].OpenTime, candles[3].OpenTime)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, candles[1].OpenTime, got[0].OpenTime)
	assert.Equal(t, "EUR/USD", got[0].Symbol)

	m, err := st.Manifest(ctx, "EUR/USD", "1h")
	require.NoError(t, err)
	assert.Equal(t, int64(5), m.Rows)
	assert.Equal(t, candles[4].OpenTime, m.MaxTime)
	assert.Equal(t, filepath.Join(root, "EUR_USD", "1h.db"), m.Path)
}

func TestStoreRejectsInvalidCandles(t *testing.T) {
	st, err := NewStore(t.TempDir())
	require.NoError(t, err)
	defer st.Close()
	bad := flat(1, nil)
	bad[0].High = 1
	_, err = st.InsertCandles(context.Background(), "EUR/USD", "1h", bad)
	assert.ErrorIs(t, err, market.ErrInvalidCandle)
}

func TestStoreCheckIntegrity(t *testing.T) {
	st, err := NewStore(t.TempDir())
	require.NoError(t, err)
	defer st.Close()
	ctx := context.Background()

	candles := flat(10, nil)
	keep := append(append([]market.Candle{}, candles[:3]...), candles[6:]...)
	_, err = st.InsertCandles(ctx, "EUR/USD", "1h", keep)
	require.NoError(t, err)

	tf, _ := market.ParseTimeframe("1h")
	report, err := st.CheckIntegrity(ctx, "EUR/USD", tf, candles[0].OpenTime, candles[9].OpenTime)
	require.NoError(t, err)
	assert.Equal(t, int64(10), report.Expected)
	assert.Equal(t, int64(7), report.Present)
	require.Len(t, report.Gaps, 1)
	assert.Equal(t, Gap{From: candles[3].OpenTime, To: candles[5].OpenTime}, report.Gaps[0])
	assert.False(t, report.Complete())
}

// gridSource 在请求区间内按周期生成平价 K 线。
type gridSource struct {
	calls atomic.Int32
	fail  bool
}

func (g *gridSource) Name() string { return "grid" }

func (g *gridSource) Fetch(_ context.Context, req FetchRequest) ([]market.Candle, error) {
	g.calls.Add(1)
	if g.fail {
		return nil, errors.New("upstream down")
	}
	step := req.Timeframe.DurationMillis()
	var out []market.Candle
	for ts := req.Start; ts <= req.End && len(out) < req.Limit; ts += step {
		c, err := market.NewCandle(req.Instrument, req.Timeframe.Key, ts, 100, 101, 99, 100, 1)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func newTestService(t *testing.T, src CandleSource, maxBatch int) *Service {
	t.Helper()
	st, err := NewStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	svc, err := NewService(ServiceConfig{
		Store:           st,
		Sources:         map[string]CandleSource{"grid": src},
		RateLimitPerMin: 60000,
		MaxBatch:        maxBatch,
	})
	require.NoError(t, err)
	return svc
}

func TestServiceSyncFillsGaps(t *testing.T) {
	src := &gridSource{}
	svc := newTestService(t, src, 4)
	ctx := context.Background()
	start := base.UnixMilli()
	end := start + 9*hourMS

	job, err := svc.Sync(ctx, FetchParams{Instrument: "EUR/USD", Timeframe: "1H", Start: start, End: end})
	require.NoError(t, err)
	assert.Equal(t, JobStatusDone, job.Status)
	assert.Equal(t, int64(10), job.Total)
	assert.Equal(t, int64(10), job.Completed)
	assert.Equal(t, "1h", job.Params.Timeframe)
	assert.Equal(t, int32(3), src.calls.Load())

	candles, err := svc.Candles(ctx, "EUR/USD", "1h", start, end)
	require.NoError(t, err)
	assert.Len(t, candles, 10)

	// 再次同步时区间已完整，不再访问数据源
	again, err := svc.Sync(ctx, FetchParams{Instrument: "EUR/USD", Timeframe: "1h", Start: start, End: end})
	require.NoError(t, err)
	assert.Equal(t, JobStatusDone, again.Status)
	assert.Equal(t, int32(3), src.calls.Load())
	assert.Len(t, svc.JobsSnapshot(), 2)
}

func TestServiceFailures(t *testing.T) {
	svc := newTestService(t, &gridSource{fail: true}, 100)
	start := base.UnixMilli()

	job, err := svc.Sync(context.Background(), FetchParams{Instrument: "EUR/USD", Timeframe: "1h", Start: start, End: start + 5*hourMS})
	require.Error(t, err)
	assert.Equal(t, JobStatusFailed, job.Status)
	assert.Contains(t, job.Message, "upstream down")

	_, err = svc.Sync(context.Background(), FetchParams{Instrument: "EUR/USD", Timeframe: "2m", Start: start, End: start + hourMS})
	assert.Error(t, err)
	_, err = svc.Sync(context.Background(), FetchParams{Instrument: "EUR/USD", Timeframe: "1h", Source: "nope", Start: start, End: start + hourMS})
	assert.Error(t, err)
	_, err = svc.Sync(context.Background(), FetchParams{Instrument: "EUR/USD", Timeframe: "1h", Start: start, End: start})
	assert.Error(t, err)
}

func TestServiceSubmitFetchAsync(t *testing.T) {
	svc := newTestService(t, &gridSource{}, 100)
	start := base.UnixMilli()
	job, err := svc.SubmitFetch(FetchParams{Instrument: "BTC/USD", Timeframe: "1h", Start: start, End: start + 3*hourMS})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		snap, ok := svc.JobSnapshot(job.ID)
		return ok && snap.Status == JobStatusDone
	}, 5*time.Second, 10*time.Millisecond)
}
