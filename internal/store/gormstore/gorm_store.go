package gormstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/snackshell/KeenAI-Quant/internal/store"
	storemodel "github.com/snackshell/KeenAI-Quant/internal/store/model"
)

type decisionModel = storemodel.DecisionModel
type tradeModel = storemodel.TradeModel
type breakerEventModel = storemodel.BreakerEventModel

// GormStore 用 Gorm + SQLite 实现决策流水。
type GormStore struct {
	db *gorm.DB
}

var _ store.Journal = (*GormStore)(nil)

// NewGormStore 打开（必要时创建）path 处的流水库并迁移表结构。
func NewGormStore(path string) (*GormStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("gorm store: decision db path is required")
	}
	if err := ensureDir(path); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                                   logger.Default.LogMode(logger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&decisionModel{}, &tradeModel{}, &breakerEventModel{}); err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// SQLite + WAL: a little read parallelism for HTTP queries.
	sqlDB.SetMaxOpenConns(2)
	sqlDB.SetMaxIdleConns(2)
	return &GormStore{db: db}, nil
}

func (s *GormStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "" || dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

// AppendDecision 写入一条决策，ID 为空时生成 uuid。
func (s *GormStore) AppendDecision(ctx context.Context, rec store.DecisionRecord) (string, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	m := decisionModel{
		ID:            rec.ID,
		Instrument:    rec.Instrument,
		Stage:         rec.Stage,
		Regime:        rec.Regime,
		Direction:     rec.Direction,
		Strategy:      rec.Strategy,
		Confidence:    rec.Confidence,
		EntryPrice:    rec.EntryPrice,
		StopLoss:      rec.StopLoss,
		TakeProfit:    rec.TakeProfit,
		Size:          rec.Size,
		Approved:      rec.Approved,
		Halted:        rec.Halted,
		Reason:        rec.Reason,
		DecidedAtUnix: rec.DecidedAt.UnixMilli(),
		CreatedAtUnix: rec.CreatedAt.UnixMilli(),
	}
	if len(rec.Payload) > 0 {
		m.Payload = datatypes.JSON(rec.Payload)
	}
	if err := s.db.WithContext(ctx).Create(&m).Error; err != nil {
		return "", err
	}
	return rec.ID, nil
}

// ListDecisions 按时间倒序返回；instrument 为空时不过滤。
func (s *GormStore) ListDecisions(ctx context.Context, instrument string, limit int) ([]store.DecisionRecord, error) {
	var models []decisionModel
	q := s.db.WithContext(ctx).Order("created_at DESC").Limit(normLimit(limit))
	if instrument != "" {
		q = q.Where("instrument = ?", instrument)
	}
	if err := q.Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]store.DecisionRecord, len(models))
	for i, m := range models {
		out[i] = store.DecisionRecord{
			ID:         m.ID,
			Instrument: m.Instrument,
			Stage:      m.Stage,
			Regime:     m.Regime,
			Direction:  m.Direction,
			Strategy:   m.Strategy,
			Confidence: m.Confidence,
			EntryPrice: m.EntryPrice,
			StopLoss:   m.StopLoss,
			TakeProfit: m.TakeProfit,
			Size:       m.Size,
			Approved:   m.Approved,
			Halted:     m.Halted,
			Reason:     m.Reason,
			DecidedAt:  time.UnixMilli(m.DecidedAtUnix).UTC(),
			CreatedAt:  time.UnixMilli(m.CreatedAtUnix).UTC(),
		}
		if len(m.Payload) > 0 {
			out[i].Payload = append([]byte(nil), m.Payload...)
		}
	}
	return out, nil
}

func (s *GormStore) AppendTrade(ctx context.Context, rec store.TradeRecord) error {
	if rec.ClosedAt.IsZero() {
		rec.ClosedAt = time.Now()
	}
	return s.db.WithContext(ctx).Create(&tradeModel{
		Instrument:   rec.Instrument,
		Strategy:     rec.Strategy,
		Direction:    rec.Direction,
		PnL:          rec.PnL,
		ClosedAtUnix: rec.ClosedAt.UnixMilli(),
	}).Error
}

func (s *GormStore) ListTrades(ctx context.Context, instrument string, limit int) ([]store.TradeRecord, error) {
	var models []tradeModel
	q := s.db.WithContext(ctx).Order("closed_at DESC, id DESC").Limit(normLimit(limit))
	if instrument != "" {
		q = q.Where("instrument = ?", instrument)
	}
	if err := q.Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]store.TradeRecord, len(models))
	for i, m := range models {
		out[i] = store.TradeRecord{
			ID:         m.ID,
			Instrument: m.Instrument,
			Strategy:   m.Strategy,
			Direction:  m.Direction,
			PnL:        m.PnL,
			ClosedAt:   time.UnixMilli(m.ClosedAtUnix).UTC(),
		}
	}
	return out, nil
}

func (s *GormStore) AppendBreakerEvent(ctx context.Context, rec store.BreakerEventRecord) error {
	if rec.At.IsZero() {
		rec.At = time.Now()
	}
	return s.db.WithContext(ctx).Create(&breakerEventModel{
		Breaker:      rec.Breaker,
		FromState:    rec.From,
		ToState:      rec.To,
		Trigger:      rec.Trigger,
		Reason:       rec.Reason,
		TriggerValue: rec.TriggerValue,
		Threshold:    rec.Threshold,
		AtUnix:       rec.At.UnixMilli(),
	}).Error
}

// ListBreakerEvents 返回 since 之后的事件（升序）。
func (s *GormStore) ListBreakerEvents(ctx context.Context, since time.Time, limit int) ([]store.BreakerEventRecord, error) {
	var models []breakerEventModel
	q := s.db.WithContext(ctx).Order("at ASC, id ASC").Limit(normLimit(limit))
	if !since.IsZero() {
		q = q.Where("at >= ?", since.UnixMilli())
	}
	if err := q.Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]store.BreakerEventRecord, len(models))
	for i, m := range models {
		out[i] = store.BreakerEventRecord{
			ID:           m.ID,
			Breaker:      m.Breaker,
			From:         m.FromState,
			To:           m.ToState,
			Trigger:      m.Trigger,
			Reason:       m.Reason,
			TriggerValue: m.TriggerValue,
			Threshold:    m.Threshold,
			At:           time.UnixMilli(m.AtUnix).UTC(),
		}
	}
	return out, nil
}

func normLimit(limit int) int {
	if limit <= 0 {
		return 100
	}
	if limit > 1000 {
		return 1000
	}
	return limit
}
