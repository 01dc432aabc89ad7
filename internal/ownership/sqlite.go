package ownership

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"stopguard/internal/exit"

	_ "modernc.org/sqlite"
)

// Registry 多个止损管理器共享的 trade_state 表：记录每个 ticket 由谁管理、是否已保本。
type Registry struct {
	mu    sync.Mutex
	db    *sql.DB
	nowFn func() time.Time
}

// Open opens or creates the sqlite database.
func Open(path string) (*Registry, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("ownership.path 不能为空")
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	reg, err := OpenDB(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return reg, nil
}

// OpenDB 在已有连接上建表，便于共享库或测试注入。
func OpenDB(db *sql.DB) (*Registry, error) {
	if db == nil {
		return nil, fmt.Errorf("ownership db 为空")
	}
	if err := ensureSchema(db); err != nil {
		return nil, fmt.Errorf("初始化 trade_state 失败: %w", err)
	}
	return &Registry{db: db, nowFn: time.Now}, nil
}

func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.db == nil {
		return nil
	}
	err := r.db.Close()
	r.db = nil
	return err
}

func (r *Registry) conn() (*sql.DB, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.db == nil {
		return nil, fmt.Errorf("ownership registry 已关闭")
	}
	return r.db, nil
}

func (r *Registry) GetTradeState(ctx context.Context, ticket int64) (exit.TradeState, bool, error) {
	db, err := r.conn()
	if err != nil {
		return exit.TradeState{}, false, err
	}
	var (
		managedBy sql.NullString
		triggered int64
		updated   int64
	)
	err = db.QueryRowContext(ctx,
		`SELECT managed_by, breakeven_triggered, updated_at FROM trade_state WHERE ticket = ?`, ticket,
	).Scan(&managedBy, &triggered, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return exit.TradeState{}, false, nil
	}
	if err != nil {
		return exit.TradeState{}, false, err
	}
	return exit.TradeState{
		Ticket:             ticket,
		ManagedBy:          managedBy.String,
		BreakevenTriggered: triggered != 0,
		UpdatedAt:          time.UnixMilli(updated),
	}, true, nil
}

// RecordTradeState 写入或更新一条记录；breakeven_triggered 一旦为 1 不会被写回 0。
func (r *Registry) RecordTradeState(ctx context.Context, state exit.TradeState) error {
	if state.Ticket <= 0 {
		return fmt.Errorf("ticket 需 > 0")
	}
	if strings.TrimSpace(state.ManagedBy) == "" {
		return fmt.Errorf("managed_by 不能为空")
	}
	db, err := r.conn()
	if err != nil {
		return err
	}
	now := state.UpdatedAt
	if now.IsZero() {
		now = r.nowFn()
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO trade_state(ticket, managed_by, breakeven_triggered, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(ticket) DO UPDATE SET
			managed_by=excluded.managed_by,
			breakeven_triggered=MAX(trade_state.breakeven_triggered, excluded.breakeven_triggered),
			updated_at=excluded.updated_at;
	`, state.Ticket, state.ManagedBy, boolToInt(state.BreakevenTriggered), now.UnixMilli())
	return err
}

func ensureSchema(db *sql.DB) error {
	stmt := `
	CREATE TABLE IF NOT EXISTS trade_state (
		ticket INTEGER PRIMARY KEY,
		managed_by TEXT NOT NULL,
		breakeven_triggered INTEGER NOT NULL DEFAULT 0,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_trade_state_manager ON trade_state(managed_by);
	`
	_, err := db.Exec(stmt)
	return err
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
