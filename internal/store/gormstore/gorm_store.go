package gormstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"stopguard/internal/exit"
	"stopguard/internal/store"
	storemodel "stopguard/internal/store/model"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

type exitRuleModel = storemodel.ExitRuleModel
type exitActionModel = storemodel.ExitActionModel

const defaultActionLimit = 200

// GormStore implements rule and action storage using Gorm + SQLite.
type GormStore struct {
	db *gorm.DB
}

var _ store.Store = (*GormStore)(nil)

// NewGormStore initializes a new GormStore instance.
func NewGormStore(path string) (*GormStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("gorm store: 数据库路径不能为空")
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
	if err := db.AutoMigrate(&exitRuleModel{}, &exitActionModel{}); err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// SQLite + WAL: allow a small amount of parallelism for concurrent HTTP reads
	// while keeping lock contention low.
	sqlDB.SetMaxOpenConns(2)
	sqlDB.SetMaxIdleConns(2)
	return &GormStore{db: db}, nil
}

// Close closes the underlying database connection.
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

// SQLDB exposes the underlying *sql.DB for shared connections.
func (s *GormStore) SQLDB() (*sql.DB, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("gorm store 未初始化")
	}
	return s.db.DB()
}

// --------------------------- Exit Rules ------------------------------

func (s *GormStore) SaveRule(ctx context.Context, rule exit.ExitRule) error {
	model, err := newExitRuleModel(rule)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "ticket"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"symbol", "direction", "entry_price", "initial_sl", "initial_tp", "risk", "potential_profit",
				"config_json", "phase", "hybrid_applied", "partial_taken", "last_applied_sl", "gate_failures",
				"updated_at",
			}),
		}).
		Create(&model).Error
}

func (s *GormStore) DeleteRule(ctx context.Context, ticket int64) error {
	return s.db.WithContext(ctx).Where("ticket = ?", ticket).Delete(&exitRuleModel{}).Error
}

// LoadRules 读取全部持久化规则；单条损坏的记录跳过并返回汇总错误。
func (s *GormStore) LoadRules(ctx context.Context) ([]exit.ExitRule, error) {
	var models []exitRuleModel
	if err := s.db.WithContext(ctx).Order("ticket ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]exit.ExitRule, 0, len(models))
	var errs []error
	for _, m := range models {
		rule, err := toExitRule(m)
		if err != nil {
			errs = append(errs, fmt.Errorf("ticket %d: %w", m.Ticket, err))
			continue
		}
		out = append(out, rule)
	}
	return out, errors.Join(errs...)
}

// --------------------------- Exit Actions ------------------------------

func (s *GormStore) AppendActions(ctx context.Context, entries []exit.JournalEntry) error {
	if len(entries) == 0 {
		return nil
	}
	models := make([]exitActionModel, 0, len(entries))
	for _, e := range entries {
		market, err := json.Marshal(e.Market)
		if err != nil {
			return fmt.Errorf("序列化行情快照失败: %w", err)
		}
		id := e.ID
		if id == "" {
			id = uuid.NewString()
		}
		models = append(models, exitActionModel{
			EntryID:     id,
			CycleID:     e.CycleID,
			Ticket:      e.Ticket,
			Symbol:      e.Symbol,
			Action:      string(e.Action),
			Status:      string(e.Status),
			Phase:       e.Phase.String(),
			BeforeValue: e.Before,
			AfterValue:  e.After,
			Reason:      e.Reason,
			Market:      datatypes.JSON(market),
			Timestamp:   timeToMillis(e.At),
		})
	}
	return s.db.WithContext(ctx).CreateInBatches(&models, 100).Error
}

func (s *GormStore) ListActions(ctx context.Context, ticket int64, limit int) ([]exit.JournalEntry, error) {
	if limit <= 0 {
		limit = defaultActionLimit
	}
	var models []exitActionModel
	err := s.db.WithContext(ctx).
		Where("ticket = ?", ticket).
		Order("timestamp DESC").Order("id DESC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	out := make([]exit.JournalEntry, len(models))
	for i, m := range models {
		out[len(models)-1-i] = toJournalEntry(m)
	}
	return out, nil
}

// --------------------------- Model Helpers ------------------------------

func ensureDir(path string) error {
	dir := filepathDir(path)
	if dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func newExitRuleModel(rule exit.ExitRule) (exitRuleModel, error) {
	cfg, err := json.Marshal(rule.Config)
	if err != nil {
		return exitRuleModel{}, fmt.Errorf("序列化规则配置失败: %w", err)
	}
	updated := rule.UpdatedAt
	if updated.IsZero() {
		updated = time.Now()
	}
	return exitRuleModel{
		Ticket:          rule.Ticket,
		Symbol:          rule.Symbol,
		Direction:       string(rule.Direction),
		EntryPrice:      rule.EntryPrice,
		InitialSL:       rule.InitialSL,
		InitialTP:       rule.InitialTP,
		Risk:            rule.Risk,
		PotentialProfit: rule.PotentialProfit,
		ConfigJSON:      datatypes.JSON(cfg),
		Phase:           rule.Phase.String(),
		HybridApplied:   rule.HybridApplied,
		PartialTaken:    rule.PartialTaken,
		LastAppliedSL:   rule.LastAppliedSL,
		GateFailures:    rule.GateFailures,
		CreatedAtUnix:   timeToMillis(rule.CreatedAt),
		UpdatedAtUnix:   updated.UnixMilli(),
	}, nil
}

func toExitRule(m exitRuleModel) (exit.ExitRule, error) {
	dir, err := exit.ParseDirection(m.Direction)
	if err != nil {
		return exit.ExitRule{}, err
	}
	phase, err := exit.ParsePhase(m.Phase)
	if err != nil {
		return exit.ExitRule{}, err
	}
	var cfg exit.RuleConfig
	if len(m.ConfigJSON) > 0 {
		if err := json.Unmarshal(m.ConfigJSON, &cfg); err != nil {
			return exit.ExitRule{}, fmt.Errorf("解析规则配置失败: %w", err)
		}
	}
	return exit.ExitRule{
		Ticket:          m.Ticket,
		Symbol:          m.Symbol,
		Direction:       dir,
		EntryPrice:      m.EntryPrice,
		InitialSL:       m.InitialSL,
		InitialTP:       m.InitialTP,
		Risk:            m.Risk,
		PotentialProfit: m.PotentialProfit,
		Config:          cfg,
		Phase:           phase,
		HybridApplied:   m.HybridApplied,
		PartialTaken:    m.PartialTaken,
		LastAppliedSL:   m.LastAppliedSL,
		GateFailures:    m.GateFailures,
		CreatedAt:       millisToTime(m.CreatedAtUnix),
		UpdatedAt:       millisToTime(m.UpdatedAtUnix),
	}, nil
}

func toJournalEntry(m exitActionModel) exit.JournalEntry {
	var market exit.MarketSnapshot
	if len(m.Market) > 0 {
		_ = json.Unmarshal(m.Market, &market)
	}
	phase, _ := exit.ParsePhase(m.Phase)
	return exit.JournalEntry{
		ID:      m.EntryID,
		CycleID: m.CycleID,
		Ticket:  m.Ticket,
		Symbol:  m.Symbol,
		Action:  exit.ActionType(m.Action),
		Status:  exit.ActionStatus(m.Status),
		Phase:   phase,
		Before:  m.BeforeValue,
		After:   m.AfterValue,
		Reason:  m.Reason,
		Market:  market,
		At:      millisToTime(m.Timestamp),
	}
}

// --------------------------- Helper Functions ------------------------------------

func timeToMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func millisToTime(v int64) time.Time {
	if v <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(v)
}

func filepathDir(path string) string {
	last := strings.LastIndex(path, "/")
	if last == -1 {
		last = strings.LastIndex(path, "\\")
	}
	if last == -1 {
		return ""
	}
	return path[:last]
}
