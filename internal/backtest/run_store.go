package backtest

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/snackshell/KeenAI-Quant/internal/performance"
	"github.com/snackshell/KeenAI-Quant/internal/types"
)

// ErrRunNotFound 表示 run id 不存在。
var ErrRunNotFound = errors.New("backtest run not found")

// ResultStore 管理 backtest_runs/trades/equity/events 表。
type ResultStore struct {
	mu   sync.Mutex
	db   *sql.DB
	path string
}

func NewResultStore(root string) (*ResultStore, error) {
	if root == "" {
		return nil, errors.New("result store root is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	path := filepath.Join(root, "runs.db")
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if err := ensureResultSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &ResultStore{db: db, path: path}, nil
}

func (s *ResultStore) Path() string { return s.path }

func (s *ResultStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func ensureResultSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS backtest_runs (
			id TEXT PRIMARY KEY,
			instrument TEXT NOT NULL,
			timeframe TEXT NOT NULL,
			status TEXT NOT NULL,
			message TEXT,
			notes TEXT,
			final_balance REAL NOT NULL DEFAULT 0,
			return_pct REAL NOT NULL DEFAULT 0,
			trades INTEGER NOT NULL DEFAULT 0,
			signals INTEGER NOT NULL DEFAULT 0,
			rejections INTEGER NOT NULL DEFAULT 0,
			config_json TEXT NOT NULL,
			metrics_json TEXT,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			completed_at INTEGER
		);`,
		`CREATE TABLE IF NOT EXISTS backtest_trades (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			instrument TEXT NOT NULL,
			direction TEXT NOT NULL,
			strategy TEXT,
			entry_time INTEGER NOT NULL,
			exit_time INTEGER NOT NULL,
			entry_price REAL NOT NULL,
			exit_price REAL NOT NULL,
			size REAL NOT NULL,
			stop_loss REAL,
			take_profit REAL,
			pnl REAL NOT NULL,
			commission REAL NOT NULL,
			slippage REAL NOT NULL,
			exit_reason TEXT,
			FOREIGN KEY(run_id) REFERENCES backtest_runs(id) ON DELETE CASCADE
		);`,
		`CREATE TABLE IF NOT EXISTS backtest_equity (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			ts INTEGER NOT NULL,
			equity REAL NOT NULL,
			balance REAL NOT NULL,
			halted INTEGER NOT NULL DEFAULT 0,
			FOREIGN KEY(run_id) REFERENCES backtest_runs(id) ON DELETE CASCADE
		);`,
		`CREATE TABLE IF NOT EXISTS backtest_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			ts INTEGER NOT NULL,
			strategy TEXT,
			stage TEXT,
			reason TEXT,
			value REAL,
			lim REAL,
			FOREIGN KEY(run_id) REFERENCES backtest_runs(id) ON DELETE CASCADE
		);`,
		`CREATE INDEX IF NOT EXISTS idx_trades_run ON backtest_trades(run_id, seq);`,
		`CREATE INDEX IF NOT EXISTS idx_equity_run ON backtest_equity(run_id, ts);`,
		`CREATE INDEX IF NOT EXISTS idx_events_run ON backtest_events(run_id, ts);`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	// 旧库补列
	return addColumnIfMissing(db, "backtest_equity", "halted", "INTEGER NOT NULL DEFAULT 0")
}

func addColumnIfMissing(db *sql.DB, table, column, typ string) error {
	var cnt int
	query := fmt.Sprintf("SELECT COUNT(1) FROM pragma_table_info('%s') WHERE name='%s'", table, column)
	if err := db.QueryRow(query).Scan(&cnt); err != nil || cnt > 0 {
		return err
	}
	_, err := db.Exec(fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, typ))
	return err
}

// InsertRun 写入一条 run 记录。
func (s *ResultStore) InsertRun(ctx context.Context, run Run) error {
	cfgJSON, err := json.Marshal(run.Config)
	if err != nil {
		return err
	}
	now := time.Now().UnixMilli()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO backtest_runs
			(id, instrument, timeframe, status, message, notes, config_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Instrument, run.Timeframe, string(run.Status), run.Message, run.Notes,
		string(cfgJSON), now, now)
	return err
}

// UpdateRunStatus 仅更新状态与提示。
func (s *ResultStore) UpdateRunStatus(ctx context.Context, id string, status RunStatus, message string) error {
	now := time.Now().UnixMilli()
	var completed any
	if status.Finished() {
		completed = now
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE backtest_runs
		SET status=?, message=?, updated_at=?, completed_at=COALESCE(?, completed_at)
		WHERE id=?`, string(status), message, now, completed, id)
	if err != nil {
		return err
	}
	return mustAffect(res)
}

// SaveResult 在一个事务内写入成交、权益、事件并把 run 标记为 done。
func (s *ResultStore) SaveResult(ctx context.Context, id string, result Result) error {
	metricsJSON, err := json.Marshal(result.Metrics)
	if err != nil {
		return err
	}
	cfgJSON, err := json.Marshal(result.Config)
	if err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UnixMilli()
	res, err := tx.ExecContext(ctx, `
		UPDATE backtest_runs
		SET status=?, message='', final_balance=?, return_pct=?, trades=?, signals=?, rejections=?,
		    config_json=?, metrics_json=?, updated_at=?, completed_at=?
		WHERE id=?`,
		string(RunStatusDone), result.FinalBalance, result.TotalReturnPct, len(result.Trades),
		result.Signals, len(result.Rejections), string(cfgJSON), string(metricsJSON), now, now, id)
	if err != nil {
		return err
	}
	if err := mustAffect(res); err != nil {
		return err
	}
	for i, tr := range result.Trades {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO backtest_trades
				(run_id, seq, instrument, direction, strategy, entry_time, exit_time, entry_price, exit_price,
				 size, stop_loss, take_profit, pnl, commission, slippage, exit_reason)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			id, i+1, tr.Instrument, string(tr.Direction), tr.Strategy, tr.EntryTime.UnixMilli(), tr.ExitTime.UnixMilli(),
			tr.EntryPrice, tr.ExitPrice, tr.Size, tr.StopLoss, tr.TakeProfit, tr.PnL, tr.Commission, tr.Slippage,
			tr.ExitReason); err != nil {
			return fmt.Errorf("insert trade %d: %w", i, err)
		}
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO backtest_equity (run_id, ts, equity, balance, halted) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, p := range result.Equity {
		if _, err := stmt.ExecContext(ctx, id, p.Time.UnixMilli(), p.Equity, p.Balance, p.Halted); err != nil {
			return err
		}
	}
	for _, ev := range runEvents(result) {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO backtest_events (run_id, kind, ts, strategy, stage, reason, value, lim)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			id, ev.Kind, ev.Time.UnixMilli(), ev.Strategy, ev.Stage, ev.Reason, ev.Value, ev.Limit); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func runEvents(result Result) []RunEvent {
	out := make([]RunEvent, 0, len(result.Rejections)+len(result.BreakerEvents))
	for _, r := range result.Rejections {
		out = append(out, RunEvent{Kind: EventRejection, Time: r.Time, Strategy: r.Strategy, Stage: string(r.Stage), Reason: r.Reason})
	}
	for _, e := range result.BreakerEvents {
		out = append(out, RunEvent{Kind: EventBreaker, Time: e.Time, Stage: e.Trigger, Reason: e.Reason, Value: e.TriggerValue, Limit: e.Threshold})
	}
	return out
}

func mustAffect(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrRunNotFound
	}
	return nil
}

const runColumns = `id, instrument, timeframe, status, message, notes, final_balance, return_pct, trades, signals,
	rejections, config_json, metrics_json, created_at, updated_at, completed_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (Run, error) {
	var (
		run              Run
		status           string
		message, notes   sql.NullString
		cfgJSON          string
		metricsJSON      sql.NullString
		created, updated int64
		completed        sql.NullInt64
	)
	if err := row.Scan(&run.ID, &run.Instrument, &run.Timeframe, &status, &message, &notes,
		&run.FinalBalance, &run.ReturnPct, &run.Trades, &run.Signals, &run.Rejections,
		&cfgJSON, &metricsJSON, &created, &updated, &completed); err != nil {
		return Run{}, err
	}
	run.Status = RunStatus(status)
	run.Message = message.String
	run.Notes = notes.String
	if err := json.Unmarshal([]byte(cfgJSON), &run.Config); err != nil {
		return Run{}, fmt.Errorf("decode run config: %w", err)
	}
	if metricsJSON.Valid && metricsJSON.String != "" {
		var m performance.Metrics
		if err := json.Unmarshal([]byte(metricsJSON.String), &m); err != nil {
			return Run{}, fmt.Errorf("decode run metrics: %w", err)
		}
		run.Metrics = m
	}
	run.CreatedAt = time.UnixMilli(created).UTC()
	run.UpdatedAt = time.UnixMilli(updated).UTC()
	if completed.Valid {
		run.CompletedAt = time.UnixMilli(completed.Int64).UTC()
	}
	return run, nil
}

func (s *ResultStore) GetRun(ctx context.Context, id string) (Run, error) {
	run, err := scanRun(s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM backtest_runs WHERE id=?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, ErrRunNotFound
	}
	return run, err
}

// ListRuns 按创建时间倒序返回最近 limit 条。
func (s *ResultStore) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+runColumns+` FROM backtest_runs ORDER BY created_at DESC, id LIMIT ?`, clampLimit(limit, 50))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

// ListTrades 按成交顺序返回 run 的成交。limit<=0 返回全部。
func (s *ResultStore) ListTrades(ctx context.Context, runID string, limit int) ([]types.Trade, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, instrument, direction, strategy, entry_time, exit_time, entry_price, exit_price,
		       size, stop_loss, take_profit, pnl, commission, slippage, exit_reason
		FROM backtest_trades WHERE run_id=? ORDER BY seq LIMIT ?`, runID, clampLimit(limit, -1))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []types.Trade
	for rows.Next() {
		var (
			tr                   types.Trade
			direction            string
			strategyName, reason sql.NullString
			entryMS, exitMS      int64
			stopLoss, takeProfit sql.NullFloat64
		)
		if err := rows.Scan(&tr.ID, &tr.Instrument, &direction, &strategyName, &entryMS, &exitMS,
			&tr.EntryPrice, &tr.ExitPrice, &tr.Size, &stopLoss, &takeProfit, &tr.PnL, &tr.Commission,
			&tr.Slippage, &reason); err != nil {
			return nil, err
		}
		tr.Direction = types.Direction(direction)
		tr.Strategy = strategyName.String
		tr.ExitReason = reason.String
		tr.EntryTime = time.UnixMilli(entryMS).UTC()
		tr.ExitTime = time.UnixMilli(exitMS).UTC()
		tr.StopLoss = stopLoss.Float64
		tr.TakeProfit = takeProfit.Float64
		out = append(out, tr)
	}
	return out, rows.Err()
}

// ListEquity 按时间升序返回权益曲线。limit<=0 返回全部。
func (s *ResultStore) ListEquity(ctx context.Context, runID string, limit int) ([]EquityPoint, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ts, equity, balance, halted FROM backtest_equity WHERE run_id=? ORDER BY id LIMIT ?`, runID, clampLimit(limit, -1))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []EquityPoint
	for rows.Next() {
		var (
			p  EquityPoint
			ts int64
		)
		if err := rows.Scan(&ts, &p.Equity, &p.Balance, &p.Halted); err != nil {
			return nil, err
		}
		p.Time = time.UnixMilli(ts).UTC()
		out = append(out, p)
	}
	return out, rows.Err()
}

// ListEvents 返回拒单与熔断事件，kind 为空时返回全部。
func (s *ResultStore) ListEvents(ctx context.Context, runID, kind string) ([]RunEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, ts, strategy, stage, reason, value, lim FROM backtest_events
		WHERE run_id=? AND (?='' OR kind=?) ORDER BY ts, id`, runID, kind, kind)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []RunEvent
	for rows.Next() {
		var (
			ev                  RunEvent
			ts                  int64
			strategyName, stage sql.NullString
			reason              sql.NullString
			value, limit        sql.NullFloat64
		)
		if err := rows.Scan(&ev.ID, &ev.Kind, &ts, &strategyName, &stage, &reason, &value, &limit); err != nil {
			return nil, err
		}
		ev.RunID = runID
		ev.Time = time.UnixMilli(ts).UTC()
		ev.Strategy = strategyName.String
		ev.Stage = stage.String
		ev.Reason = reason.String
		ev.Value = value.Float64
		ev.Limit = limit.Float64
		out = append(out, ev)
	}
	return out, rows.Err()
}

// LoadResult 从库中重建 Result，供报表与 CLI 复用。
func (s *ResultStore) LoadResult(ctx context.Context, id string) (Run, Result, error) {
	run, err := s.GetRun(ctx, id)
	if err != nil {
		return Run{}, Result{}, err
	}
	if run.Status != RunStatusDone {
		return run, Result{}, fmt.Errorf("run %s is %s", id, run.Status)
	}
	out := Result{
		Config:         run.Config,
		Metrics:        run.Metrics,
		FinalBalance:   run.FinalBalance,
		TotalReturnPct: run.ReturnPct,
		Signals:        run.Signals,
	}
	if out.Trades, err = s.ListTrades(ctx, id, 0); err != nil {
		return Run{}, Result{}, err
	}
	if out.Equity, err = s.ListEquity(ctx, id, 0); err != nil {
		return Run{}, Result{}, err
	}
	return run, out, nil
}

// clampLimit：limit<=0 时使用 def（-1 表示不限）。
func clampLimit(limit, def int) int {
	if limit <= 0 {
		return def
	}
	if limit > 5000 {
		return 5000
	}
	return limit
}
