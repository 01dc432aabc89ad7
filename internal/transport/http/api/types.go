package apihttp

import (
	"context"

	"stopguard/internal/exit"
	"stopguard/internal/riskprofile"
	"stopguard/internal/scheduler"
)

// RuleService 由 *exit.Store 实现。
type RuleService interface {
	Add(spec exit.RuleSpec) (int64, error)
	Remove(ticket int64) bool
	Get(ticket int64) (exit.ExitRule, bool)
	SnapshotActive() []exit.ExitRule
}

type ProfileResolver interface {
	Resolve(symbol, class string) (riskprofile.Profile, bool)
}

type ActionReader interface {
	ListActions(ctx context.Context, ticket int64, limit int) ([]exit.JournalEntry, error)
}

// CycleRunner 手动触发一次轮询，周期正在执行时返回 false。
type CycleRunner interface {
	RunOnce(ctx context.Context) (scheduler.CycleReport, bool)
}

// CreateRuleRequest 登记规则的请求体，字段名与 exit.RuleConfig 一致。
type CreateRuleRequest struct {
	Ticket     int64             `json:"ticket"`
	Symbol     string            `json:"symbol"`
	Direction  string            `json:"direction"`
	EntryPrice float64           `json:"entry_price"`
	InitialSL  float64           `json:"initial_sl"`
	InitialTP  float64           `json:"initial_tp"`
	Config     RuleConfigRequest `json:"config"`
}

type RuleConfigRequest struct {
	BreakevenPct               float64 `json:"breakeven_pct"`
	PartialPct                 float64 `json:"partial_pct"`
	PartialClosePct            float64 `json:"partial_close_pct"`
	VIXThreshold               float64 `json:"vix_threshold"`
	HybridBaseMultiplier       float64 `json:"hybrid_base_multiplier"`
	TrailingEnabled            *bool   `json:"trailing_enabled"`
	TrailingMultiplier         float64 `json:"trailing_multiplier"`
	FallbackTrailingMultiplier float64 `json:"fallback_trailing_multiplier"`
	MinSLChangePct             float64 `json:"min_sl_change_pct"`
	MinVolume                  float64 `json:"min_volume"`
	VolumeStep                 float64 `json:"volume_step"`
	ATRTimeframe               string  `json:"atr_timeframe"`
	SymbolClass                string  `json:"symbol_class"`
}

func (r RuleConfigRequest) toConfig() exit.RuleConfig {
	trailing := true
	if r.TrailingEnabled != nil {
		trailing = *r.TrailingEnabled
	}
	return exit.RuleConfig{
		BreakevenPct:               r.BreakevenPct,
		PartialPct:                 r.PartialPct,
		PartialClosePct:            r.PartialClosePct,
		VIXThreshold:               r.VIXThreshold,
		HybridBaseMultiplier:       r.HybridBaseMultiplier,
		TrailingEnabled:            trailing,
		TrailingMultiplier:         r.TrailingMultiplier,
		FallbackTrailingMultiplier: r.FallbackTrailingMultiplier,
		MinSLChangePct:             r.MinSLChangePct,
		MinVolume:                  r.MinVolume,
		VolumeStep:                 r.VolumeStep,
		ATRTimeframe:               r.ATRTimeframe,
		SymbolClass:                r.SymbolClass,
	}
}

// RuleView 规则的对外视图。
type RuleView struct {
	exit.ExitRule
	BreakevenTriggered bool `json:"breakeven_triggered"`
}

func newRuleView(r exit.ExitRule) RuleView {
	return RuleView{ExitRule: r, BreakevenTriggered: r.BreakevenTriggered()}
}
