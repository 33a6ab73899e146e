package backtest

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/snackshell/KeenAI-Quant/internal/market"
)

// Manifest 记录某个 instrument@timeframe 缓存的统计信息。
type Manifest struct {
	Instrument string `json:"instrument"`
	Timeframe  string `json:"timeframe"`
	MinTime    int64  `json:"min_time"`
	MaxTime    int64  `json:"max_time"`
	Rows       int64  `json:"rows"`
	LastSyncAt int64  `json:"last_sync_at"`
	Path       string `json:"path"`
}

// Gap 是缓存中缺失的一段 open_time 闭区间。
type Gap struct {
	From int64 `json:"from"`
	To   int64 `json:"to"`
}

// IntegrityReport 描述区间内缓存的完整程度。
type IntegrityReport struct {
	Expected int64 `json:"expected"`
	Present  int64 `json:"present"`
	Gaps     []Gap `json:"gaps,omitempty"`
}

func (r IntegrityReport) Complete() bool { return len(r.Gaps) == 0 }

// Store 把 K 线缓存到 root/<INSTRUMENT>/<tf>.db，每个文件一个 sqlite 连接。
type Store struct {
	root string

	mu  sync.Mutex
	dbs map[string]*sql.DB
}

func NewStore(root string) (*Store, error) {
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("data root is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &Store{root: root, dbs: make(map[string]*sql.DB)}, nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var firstErr error
	for k, db := range s.dbs {
		if err := db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(s.dbs, k)
	}
	return firstErr
}

// Path 返回缓存文件路径，instrument 中的分隔符替换为下划线。
func (s *Store) Path(instrument, timeframe string) string {
	dir := strings.NewReplacer("/", "_", "\\", "_", ":", "_").Replace(strings.ToUpper(strings.TrimSpace(instrument)))
	return filepath.Join(s.root, dir, strings.ToLower(strings.TrimSpace(timeframe))+".db")
}

func (s *Store) db(instrument, timeframe string) (*sql.DB, string, error) {
	if strings.TrimSpace(instrument) == "" || strings.TrimSpace(timeframe) == "" {
		return nil, "", fmt.Errorf("instrument/timeframe is required")
	}
	path := s.Path(instrument, timeframe)
	s.mu.Lock()
	defer s.mu.Unlock()
	if db, ok := s.dbs[path]; ok {
		return db, path, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, "", err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, "", err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if err := ensureCandleSchema(db, instrument, timeframe); err != nil {
		_ = db.Close()
		return nil, "", err
	}
	s.dbs[path] = db
	return db, path, nil
}

func ensureCandleSchema(db *sql.DB, instrument, timeframe string) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS candles (
			open_time   INTEGER PRIMARY KEY,
			close_time  INTEGER NOT NULL,
			open        REAL NOT NULL,
			high        REAL NOT NULL,
			low         REAL NOT NULL,
			close       REAL NOT NULL,
			volume      REAL NOT NULL,
			trades      INTEGER DEFAULT 0,
			inserted_at INTEGER NOT NULL DEFAULT (strftime('%s','now') * 1000)
		);`,
		`CREATE TABLE IF NOT EXISTS manifest (
			id INTEGER PRIMARY KEY CHECK (id=1),
			instrument TEXT NOT NULL,
			timeframe TEXT NOT NULL,
			min_time INTEGER DEFAULT 0,
			max_time INTEGER DEFAULT 0,
			rows INTEGER DEFAULT 0,
			last_sync_at INTEGER DEFAULT 0
		);`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	_, err := db.Exec(`INSERT INTO manifest (id, instrument, timeframe) VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET instrument=excluded.instrument, timeframe=excluded.timeframe`,
		strings.ToUpper(instrument), strings.ToLower(timeframe))
	return err
}

// InsertCandles 批量写入 K 线，相同 open_time 覆盖。写入前逐根校验。
func (s *Store) InsertCandles(ctx context.Context, instrument, timeframe string, candles []market.Candle) (int, error) {
	if len(candles) == 0 {
		return 0, nil
	}
	for i, c := range candles {
		if err := c.Validate(); err != nil {
			return 0, fmt.Errorf("candle %d: %w", i, err)
		}
	}
	db, _, err := s.db(instrument, timeframe)
	if err != nil {
		return 0, err
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO candles (open_time, close_time, open, high, low, close, volume, trades)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(open_time) DO UPDATE SET
		    close_time=excluded.close_time, open=excluded.open, high=excluded.high,
		    low=excluded.low, close=excluded.close, volume=excluded.volume, trades=excluded.trades`)
	if err != nil {
		_ = tx.Rollback()
		return 0, err
	}
	defer stmt.Close()
	for _, c := range candles {
		if _, err := stmt.ExecContext(ctx, c.OpenTime, c.CloseTime, c.Open, c.High, c.Low, c.Close, c.Volume, c.Trades); err != nil {
			_ = tx.Rollback()
			return 0, err
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	_, err = db.ExecContext(ctx, `
		UPDATE manifest
		SET min_time = (SELECT COALESCE(MIN(open_time), 0) FROM candles),
		    max_time = (SELECT COALESCE(MAX(open_time), 0) FROM candles),
		    rows = (SELECT COUNT(1) FROM candles),
		    last_sync_at = ?
		WHERE id = 1`, time.Now().UnixMilli())
	return len(candles), err
}

func (s *Store) Manifest(ctx context.Context, instrument, timeframe string) (Manifest, error) {
	db, path, err := s.db(instrument, timeframe)
	if err != nil {
		return Manifest{}, err
	}
	var m Manifest
	row := db.QueryRowContext(ctx, `SELECT instrument, timeframe, min_time, max_time, rows, last_sync_at FROM manifest WHERE id=1`)
	if err := row.Scan(&m.Instrument, &m.Timeframe, &m.MinTime, &m.MaxTime, &m.Rows, &m.LastSyncAt); err != nil {
		return Manifest{}, err
	}
	m.Path = path
	return m, nil
}

// RangeCandles 返回 open_time ∈ [start, end] 的全部 K 线（升序）。end<=0 表示不设上限。
func (s *Store) RangeCandles(ctx context.Context, instrument, timeframe string, start, end int64) ([]market.Candle, error) {
	db, _, err := s.db(instrument, timeframe)
	if err != nil {
		return nil, err
	}
	if end <= 0 {
		end = 1<<63 - 1
	}
	if end < start {
		start, end = end, start
	}
	rows, err := db.QueryContext(ctx, `
		SELECT open_time, close_time, open, high, low, close, volume, trades
		FROM candles WHERE open_time BETWEEN ? AND ?
		ORDER BY open_time ASC`, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []market.Candle
	for rows.Next() {
		c := market.Candle{Symbol: instrument, Timeframe: strings.ToLower(timeframe)}
		if err := rows.Scan(&c.OpenTime, &c.CloseTime, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume, &c.Trades); err != nil {
			return nil, err
		}
		list = append(list, c)
	}
	return list, rows.Err()
}

// CheckIntegrity 按周期网格比对 [start, end] 内缺失的 open_time，合并为连续缺口。
func (s *Store) CheckIntegrity(ctx context.Context, instrument string, tf market.Timeframe, start, end int64) (IntegrityReport, error) {
	db, _, err := s.db(instrument, tf.Key)
	if err != nil {
		return IntegrityReport{}, err
	}
	rows, err := db.QueryContext(ctx, `SELECT open_time FROM candles WHERE open_time BETWEEN ? AND ? ORDER BY open_time`, start, end)
	if err != nil {
		return IntegrityReport{}, err
	}
	defer rows.Close()
	present := make(map[int64]struct{})
	for rows.Next() {
		var ts int64
		if err := rows.Scan(&ts); err != nil {
			return IntegrityReport{}, err
		}
		present[ts] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return IntegrityReport{}, err
	}

	report := IntegrityReport{Expected: tf.ExpectedCandles(start, end)}
	step := tf.DurationMillis()
	var open *Gap
	for ts := start; step > 0 && ts <= end; ts += step {
		if _, ok := present[ts]; ok {
			report.Present++
			if open != nil {
				report.Gaps = append(report.Gaps, *open)
				open = nil
			}
			continue
		}
		if open == nil {
			open = &Gap{From: ts}
		}
		open.To = ts
	}
	if open != nil {
		report.Gaps = append(report.Gaps, *open)
	}
	return report, nil
}
