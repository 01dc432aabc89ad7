package gormstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"stopguard/internal/exit"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *GormStore {
	t.Helper()
	s, err := NewGormStore(filepath.Join(t.TempDir(), "nested", "stopguard.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sampleRule(t *testing.T) exit.ExitRule {
	t.Helper()
	now := time.UnixMilli(1_700_000_000_000)
	rule, err := exit.NewExitRule(exit.RuleSpec{
		Ticket:     1001,
		Symbol:     "XAUUSD",
		Direction:  exit.DirectionBuy,
		EntryPrice: 3950,
		InitialSL:  3945,
		InitialTP:  3965,
		Config: exit.RuleConfig{
			BreakevenPct:       30,
			PartialPct:         60,
			PartialClosePct:    40,
			VIXThreshold:       20,
			TrailingEnabled:    true,
			TrailingMultiplier: 1.5,
			MinSLChangePct:     0.05,
		},
	}, now)
	require.NoError(t, err)
	return *rule
}

func TestGormStore_SaveLoadRules(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	rule := sampleRule(t)
	require.NoError(t, s.SaveRule(ctx, rule))

	rule.Phase = exit.PhaseTrailing
	rule.PartialTaken = true
	rule.LastAppliedSL = 3953.5
	rule.UpdatedAt = rule.UpdatedAt.Add(time.Minute)
	require.NoError(t, s.SaveRule(ctx, rule))

	rules, err := s.LoadRules(ctx)
	require.NoError(t, err)
	require.Len(t, rules, 1)
	got := rules[0]
	assert.Equal(t, exit.PhaseTrailing, got.Phase)
	assert.True(t, got.PartialTaken)
	assert.Equal(t, 3953.5, got.LastAppliedSL)
	assert.Equal(t, rule.Config, got.Config)
	assert.Equal(t, rule.CreatedAt.UnixMilli(), got.CreatedAt.UnixMilli())
	assert.Equal(t, rule.UpdatedAt.UnixMilli(), got.UpdatedAt.UnixMilli())
	assert.Equal(t, rule.Risk, got.Risk)

	require.NoError(t, s.DeleteRule(ctx, rule.Ticket))
	rules, err = s.LoadRules(ctx)
	require.NoError(t, err)
	assert.Empty(t, rules)
	assert.NoError(t, s.DeleteRule(ctx, rule.Ticket))
}

func TestGormStore_LoadRulesSkipsCorruptRows(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.SaveRule(ctx, sampleRule(t)))
	require.NoError(t, s.db.Exec(`INSERT INTO exit_rules(ticket, symbol, direction, entry_price, initial_sl, initial_tp, risk, potential_profit,
		config_json, phase, hybrid_applied, partial_taken, last_applied_sl, gate_failures, created_at, updated_at)
		VALUES (2, 'EURUSD', 'UP', 1.1, 1.09, 1.12, 0.01, 0.02, '{}', 'INIT', 0, 0, 1.09, 0, 0, 0)`).Error)

	rules, err := s.LoadRules(ctx)
	assert.Error(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, int64(1001), rules[0].Ticket)
}

func TestGormStore_Actions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.UnixMilli(1_700_000_000_000)
	entries := []exit.JournalEntry{
		{CycleID: "c1", Ticket: 1001, Symbol: "XAUUSD", Action: exit.ActionBreakeven, Status: exit.StatusSucceeded,
			Phase: exit.PhaseTrailing, Before: 3945, After: 3950, Market: exit.MarketSnapshot{Price: 3951.5}, At: base},
		{CycleID: "c2", Ticket: 1001, Symbol: "XAUUSD", Action: exit.ActionPartialClose, Status: exit.StatusSucceeded,
			Phase: exit.PhaseTrailing, Before: 0.05, After: 0.03, At: base.Add(time.Second)},
		{CycleID: "c3", Ticket: 1001, Symbol: "XAUUSD", Action: exit.ActionTrailing, Status: exit.StatusFailed,
			Phase: exit.PhaseTrailing, Before: 3950, After: 3953.5, Reason: "broker unavailable",
			Market: exit.MarketSnapshot{Price: 3957.25, ATR: 2.5}, At: base.Add(2 * time.Second)},
		{Ticket: 2002, Symbol: "EURUSD", Action: exit.ActionRemoved, Status: exit.StatusSucceeded, At: base},
	}
	require.NoError(t, s.AppendActions(ctx, entries))
	require.NoError(t, s.AppendActions(ctx, nil))

	got, err := s.ListActions(ctx, 1001, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, exit.ActionPartialClose, got[0].Action)
	assert.Equal(t, exit.ActionTrailing, got[1].Action)
	assert.Equal(t, 2.5, got[1].Market.ATR)
	assert.Equal(t, "broker unavailable", got[1].Reason)
	assert.Equal(t, exit.PhaseTrailing, got[1].Phase)

	all, err := s.ListActions(ctx, 1001, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
	assert.Equal(t, "c1", all[0].CycleID)
}
