package backtest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/snackshell/KeenAI-Quant/internal/logger"
	"github.com/snackshell/KeenAI-Quant/internal/market"
)

// JobStatus 拉取任务状态。
type JobStatus string

const (
	JobStatusPending JobStatus = "pending"
	JobStatusRunning JobStatus = "running"
	JobStatusDone    JobStatus = "done"
	JobStatusPartial JobStatus = "partial"
	JobStatusFailed  JobStatus = "failed"
)

// FetchParams 描述一次历史数据补齐请求，时间为 Unix 毫秒。
type FetchParams struct {
	Source     string `json:"source,omitempty"`
	Instrument string `json:"instrument"`
	Timeframe  string `json:"timeframe"`
	Start      int64  `json:"start"`
	End        int64  `json:"end"`
}

// FetchJob 是拉取任务的进度快照。
type FetchJob struct {
	ID        string      `json:"id"`
	Status    JobStatus   `json:"status"`
	Params    FetchParams `json:"params"`
	Total     int64       `json:"total"`
	Completed int64       `json:"completed"`
	Missing   []Gap       `json:"missing,omitempty"`
	Warnings  []string    `json:"warnings,omitempty"`
	Message   string      `json:"message,omitempty"`
	StartedAt time.Time   `json:"started_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

func (j *FetchJob) copy() FetchJob {
	out := *j
	out.Missing = append([]Gap(nil), j.Missing...)
	out.Warnings = append([]string(nil), j.Warnings...)
	return out
}

// ServiceConfig 配置拉取服务。
type ServiceConfig struct {
	Store           *Store
	Sources         map[string]CandleSource
	DefaultSource   string
	RateLimitPerMin int
	MaxBatch        int
	MaxConcurrent   int
}

// Service 负责把远端 K 线按缺口补齐进本地缓存，并提供查询。
type Service struct {
	store         *Store
	sources       map[string]CandleSource
	defaultSource string
	maxBatch      int

	limiter *rate.Limiter
	sem     chan struct{}
	log     *slog.Logger

	mu   sync.RWMutex
	jobs map[string]*FetchJob

	baseCtx context.Context
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Store == nil {
		return nil, errors.New("store is required")
	}
	if len(cfg.Sources) == 0 {
		return nil, errors.New("at least one candle source is required")
	}
	perSec := rate.Limit(float64(cfg.RateLimitPerMin) / 60.0)
	if cfg.RateLimitPerMin <= 0 {
		perSec = 8
	}
	maxBatch := cfg.MaxBatch
	if maxBatch <= 0 {
		maxBatch = 1000
	}
	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 2
	}
	svc := &Service{
		store:         cfg.Store,
		sources:       make(map[string]CandleSource, len(cfg.Sources)),
		defaultSource: strings.ToLower(strings.TrimSpace(cfg.DefaultSource)),
		maxBatch:      maxBatch,
		limiter:       rate.NewLimiter(perSec, 1),
		sem:           make(chan struct{}, maxConcurrent),
		log:           logger.With("fetch"),
		jobs:          make(map[string]*FetchJob),
		baseCtx:       context.Background(),
	}
	for k, v := range cfg.Sources {
		svc.sources[strings.ToLower(k)] = v
	}
	if _, ok := svc.sources[svc.defaultSource]; !ok {
		keys := make([]string, 0, len(svc.sources))
		for k := range svc.sources {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		svc.defaultSource = keys[0]
	}
	return svc, nil
}

// SetContext 注入宿主 ctx，用于关闭时取消后台任务。
func (s *Service) SetContext(ctx context.Context) {
	if ctx != nil {
		s.baseCtx = ctx
	}
}

func (s *Service) Store() *Store { return s.store }

type fetchPlan struct {
	job    *FetchJob
	tf     market.Timeframe
	report IntegrityReport
	src    CandleSource
}

func (s *Service) plan(ctx context.Context, params FetchParams) (*fetchPlan, error) {
	params.Instrument = strings.TrimSpace(params.Instrument)
	if params.Instrument == "" {
		return nil, errors.New("instrument is required")
	}
	tf, err := market.ParseTimeframe(params.Timeframe)
	if err != nil {
		return nil, err
	}
	name := strings.ToLower(strings.TrimSpace(params.Source))
	if name == "" {
		name = s.defaultSource
	}
	src := s.sources[name]
	if src == nil {
		return nil, fmt.Errorf("unknown candle source %q", params.Source)
	}
	start, end := tf.AlignRange(params.Start, params.End)
	if start == end {
		return nil, errors.New("start and end must span at least one candle")
	}
	params.Source = name
	params.Timeframe = tf.Key
	params.Start, params.End = start, end

	report, err := s.store.CheckIntegrity(ctx, params.Instrument, tf, start, end)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	job := &FetchJob{
		ID:        uuid.NewString(),
		Status:    JobStatusPending,
		Params:    params,
		Total:     report.Expected,
		Completed: report.Present,
		Missing:   append([]Gap(nil), report.Gaps...),
		StartedAt: now,
		UpdatedAt: now,
	}
	s.mu.Lock()
	s.jobs[job.ID] = job
	s.mu.Unlock()
	s.log.Info("fetch job submitted", "job", job.ID, "instrument", params.Instrument, "timeframe", tf.Key,
		"start", start, "end", end, "expected", report.Expected, "gaps", len(report.Gaps))
	return &fetchPlan{job: job, tf: tf, report: report, src: src}, nil
}

// SubmitFetch 提交异步拉取任务；区间已完整时直接标记完成。
func (s *Service) SubmitFetch(params FetchParams) (FetchJob, error) {
	p, err := s.plan(s.baseCtx, params)
	if err != nil {
		return FetchJob{}, err
	}
	if p.report.Complete() {
		s.finishJob(p.job.ID, JobStatusDone, "already complete", nil, nil)
		return s.snapshot(p.job.ID), nil
	}
	snap := s.snapshot(p.job.ID)
	go s.runJob(s.baseCtx, p)
	return snap, nil
}

// Sync 同步补齐区间并返回最终任务状态。
func (s *Service) Sync(ctx context.Context, params FetchParams) (FetchJob, error) {
	p, err := s.plan(ctx, params)
	if err != nil {
		return FetchJob{}, err
	}
	if p.report.Complete() {
		s.finishJob(p.job.ID, JobStatusDone, "already complete", nil, nil)
		return s.snapshot(p.job.ID), nil
	}
	s.runJob(ctx, p)
	job := s.snapshot(p.job.ID)
	if job.Status == JobStatusFailed {
		return job, errors.New(job.Message)
	}
	return job, nil
}

func (s *Service) runJob(ctx context.Context, p *fetchPlan) {
	id := p.job.ID
	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		s.finishJob(id, JobStatusFailed, "service stopped", nil, nil)
		return
	}
	defer func() { <-s.sem }()

	s.updateJob(id, func(j *FetchJob) { j.Status = JobStatusRunning })
	params := p.job.Params
	step := p.tf.DurationMillis()
	var warnings []string

	for _, gap := range p.report.Gaps {
		cursor := gap.From
		for cursor <= gap.To {
			if err := s.limiter.Wait(ctx); err != nil {
				s.finishJob(id, JobStatusFailed, err.Error(), nil, warnings)
				return
			}
			limit := int((gap.To-cursor)/step) + 1
			if limit > s.maxBatch {
				limit = s.maxBatch
			}
			data, err := p.src.Fetch(ctx, FetchRequest{
				Instrument: params.Instrument,
				Timeframe:  p.tf,
				Start:      cursor,
				End:        gap.To + step - 1,
				Limit:      limit,
			})
			if err != nil {
				s.finishJob(id, JobStatusFailed, fmt.Sprintf("%s fetch: %v", p.src.Name(), err), nil, warnings)
				return
			}
			if len(data) == 0 {
				warnings = append(warnings, fmt.Sprintf("empty response for [%d,%d]", cursor, gap.To))
				break
			}
			inserted, err := s.store.InsertCandles(ctx, params.Instrument, params.Timeframe, data)
			if err != nil {
				s.finishJob(id, JobStatusFailed, fmt.Sprintf("store candles: %v", err), nil, warnings)
				return
			}
			next := data[len(data)-1].OpenTime + step
			s.updateJob(id, func(j *FetchJob) {
				j.Completed += int64(inserted)
				if j.Completed > j.Total {
					j.Completed = j.Total
				}
			})
			if next <= cursor {
				break
			}
			cursor = next
		}
	}

	final, err := s.store.CheckIntegrity(ctx, params.Instrument, p.tf, params.Start, params.End)
	switch {
	case err != nil:
		s.finishJob(id, JobStatusFailed, "integrity check: "+err.Error(), nil, warnings)
	case !final.Complete():
		s.finishJob(id, JobStatusPartial, "finished with gaps", final.Gaps, warnings)
	default:
		s.finishJob(id, JobStatusDone, "", nil, warnings)
	}
}

func (s *Service) finishJob(id string, status JobStatus, message string, gaps []Gap, warnings []string) {
	s.updateJob(id, func(j *FetchJob) {
		j.Status = status
		j.Message = message
		j.Missing = append([]Gap(nil), gaps...)
		if len(warnings) > 0 {
			j.Warnings = append([]string(nil), warnings...)
		}
	})
	if status == JobStatusFailed {
		s.log.Warn("fetch job failed", "job", id, "error", message)
		return
	}
	s.log.Info("fetch job finished", "job", id, "status", status, "gaps", len(gaps))
}

func (s *Service) updateJob(id string, fn func(*FetchJob)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job, ok := s.jobs[id]; ok {
		fn(job)
		job.UpdatedAt = time.Now()
	}
}

func (s *Service) snapshot(id string) FetchJob {
	job, _ := s.JobSnapshot(id)
	return job
}

// JobSnapshot 返回任务副本。
func (s *Service) JobSnapshot(id string) (FetchJob, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return FetchJob{}, false
	}
	return job.copy(), true
}

// JobsSnapshot 按提交时间倒序返回全部任务。
func (s *Service) JobsSnapshot() []FetchJob {
	s.mu.RLock()
	out := make([]FetchJob, 0, len(s.jobs))
	for _, job := range s.jobs {
		out = append(out, job.copy())
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out
}

func (s *Service) Manifest(ctx context.Context, instrument, timeframe string) (Manifest, error) {
	return s.store.Manifest(ctx, instrument, timeframe)
}

// Candles 读取 [start, end] 内的缓存 K 线。
func (s *Service) Candles(ctx context.Context, instrument, timeframe string, start, end int64) ([]market.Candle, error) {
	tf, err := market.ParseTimeframe(timeframe)
	if err != nil {
		return nil, err
	}
	return s.store.RangeCandles(ctx, instrument, tf.Key, start, end)
}
