package exit

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Direction 持仓方向。
type Direction string

const (
	DirectionBuy  Direction = "BUY"
	DirectionSell Direction = "SELL"
)

func ParseDirection(raw string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "buy", "long":
		return DirectionBuy, nil
	case "sell", "short":
		return DirectionSell, nil
	default:
		return "", fmt.Errorf("unknown direction %q", raw)
	}
}

func (d Direction) IsBuy() bool { return d == DirectionBuy }

// Phase 是规则在止损管理生命周期中的位置。状态只能前进，不会回退。
type Phase int

const (
	PhaseInit Phase = iota
	PhaseHybridAdjusted
	PhaseBreakeven
	PhaseTrailing
	PhaseRemoved
)

var phaseNames = map[Phase]string{
	PhaseInit:           "INIT",
	PhaseHybridAdjusted: "HYBRID_ADJUSTED",
	PhaseBreakeven:      "BREAKEVEN",
	PhaseTrailing:       "TRAILING",
	PhaseRemoved:        "REMOVED",
}

func (p Phase) String() string {
	if name, ok := phaseNames[p]; ok {
		return name
	}
	return "UNKNOWN"
}

func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *Phase) UnmarshalText(text []byte) error {
	parsed, err := ParsePhase(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

func ParsePhase(raw string) (Phase, error) {
	key := strings.ToUpper(strings.TrimSpace(raw))
	for phase, name := range phaseNames {
		if name == key {
			return phase, nil
		}
	}
	return PhaseInit, fmt.Errorf("unknown phase %q", raw)
}

// RuleConfig 单个持仓的止损参数。百分比字段均为 0..100 的百分数。
type RuleConfig struct {
	BreakevenPct               float64 `json:"breakeven_pct" yaml:"breakeven_pct"`
	PartialPct                 float64 `json:"partial_pct" yaml:"partial_pct"`
	PartialClosePct            float64 `json:"partial_close_pct" yaml:"partial_close_pct"`
	VIXThreshold               float64 `json:"vix_threshold" yaml:"vix_threshold"`
	HybridBaseMultiplier       float64 `json:"hybrid_base_multiplier" yaml:"hybrid_base_multiplier"`
	TrailingEnabled            bool    `json:"trailing_enabled" yaml:"trailing_enabled"`
	TrailingMultiplier         float64 `json:"trailing_multiplier" yaml:"trailing_multiplier"`
	FallbackTrailingMultiplier float64 `json:"fallback_trailing_multiplier" yaml:"fallback_trailing_multiplier"`
	MinSLChangePct             float64 `json:"min_sl_change_pct" yaml:"min_sl_change_pct"`
	MinVolume                  float64 `json:"min_volume" yaml:"min_volume"`
	VolumeStep                 float64 `json:"volume_step" yaml:"volume_step"`
	ATRTimeframe               string  `json:"atr_timeframe" yaml:"atr_timeframe"`
	SymbolClass                string  `json:"symbol_class,omitempty" yaml:"symbol_class,omitempty"`
}

const (
	defaultHybridBaseMultiplier       = 1.5
	defaultFallbackTrailingMultiplier = 2.5
	defaultMinVolume                  = 0.01
	defaultATRTimeframe               = "M15"
)

// WithDefaults 补齐可选字段，不改动调用方显式给出的值。
func (c RuleConfig) WithDefaults() RuleConfig {
	out := c
	if out.HybridBaseMultiplier <= 0 {
		out.HybridBaseMultiplier = defaultHybridBaseMultiplier
	}
	if out.FallbackTrailingMultiplier <= 0 {
		out.FallbackTrailingMultiplier = math.Max(defaultFallbackTrailingMultiplier, out.TrailingMultiplier)
	}
	if out.MinVolume <= 0 {
		out.MinVolume = defaultMinVolume
	}
	if out.VolumeStep <= 0 {
		out.VolumeStep = out.MinVolume
	}
	out.ATRTimeframe = strings.ToUpper(strings.TrimSpace(out.ATRTimeframe))
	if out.ATRTimeframe == "" {
		out.ATRTimeframe = defaultATRTimeframe
	}
	out.SymbolClass = strings.TrimSpace(out.SymbolClass)
	return out
}

func (c RuleConfig) Validate() error {
	checks := []struct {
		name     string
		val      float64
		min      float64
		max      float64
		open     bool
		belowMax bool
	}{
		{"breakeven_pct", c.BreakevenPct, 0, 100, true, false},
		{"partial_pct", c.PartialPct, 0, 100, true, false},
		{"partial_close_pct", c.PartialClosePct, 0, 100, true, true},
		{"trailing_multiplier", c.TrailingMultiplier, 0, math.Inf(1), true, false},
		{"hybrid_base_multiplier", c.HybridBaseMultiplier, 0, math.Inf(1), true, false},
	}
	for _, chk := range checks {
		if math.IsNaN(chk.val) {
			return fmt.Errorf("%s is NaN", chk.name)
		}
		if chk.open && chk.val <= chk.min {
			return fmt.Errorf("%s must be > %v, got %v", chk.name, chk.min, chk.val)
		}
		if chk.belowMax && chk.val >= chk.max {
			return fmt.Errorf("%s must be < %v, got %v", chk.name, chk.max, chk.val)
		}
		if chk.val > chk.max {
			return fmt.Errorf("%s must be <= %v, got %v", chk.name, chk.max, chk.val)
		}
	}
	if c.VIXThreshold < 0 {
		return fmt.Errorf("vix_threshold must be >= 0, got %v", c.VIXThreshold)
	}
	if c.MinSLChangePct < 0 || c.MinSLChangePct >= 100 {
		return fmt.Errorf("min_sl_change_pct must be in [0,100), got %v", c.MinSLChangePct)
	}
	if c.FallbackTrailingMultiplier < c.TrailingMultiplier {
		return fmt.Errorf("fallback_trailing_multiplier %.4f must be >= trailing_multiplier %.4f",
			c.FallbackTrailingMultiplier, c.TrailingMultiplier)
	}
	if c.MinVolume <= 0 || c.VolumeStep <= 0 {
		return fmt.Errorf("min_volume and volume_step must be > 0")
	}
	return nil
}

// RuleSpec 是注册规则时的输入。
type RuleSpec struct {
	Ticket     int64
	Symbol     string
	Direction  Direction
	EntryPrice float64
	InitialSL  float64
	InitialTP  float64
	Config     RuleConfig
}

// ExitRule 单个持仓的止损管理状态。
type ExitRule struct {
	Ticket          int64      `json:"ticket"`
	Symbol          string     `json:"symbol"`
	Direction       Direction  `json:"direction"`
	EntryPrice      float64    `json:"entry_price"`
	InitialSL       float64    `json:"initial_sl"`
	InitialTP       float64    `json:"initial_tp"`
	Risk            float64    `json:"risk"`
	PotentialProfit float64    `json:"potential_profit"`
	Config          RuleConfig `json:"config"`

	Phase         Phase     `json:"phase"`
	HybridApplied bool      `json:"hybrid_applied"`
	PartialTaken  bool      `json:"partial_taken"`
	LastAppliedSL float64   `json:"last_applied_sl"`
	GateFailures  int       `json:"gate_failures"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// NewExitRule 校验输入并计算冻结的 risk / potential_profit。
func NewExitRule(spec RuleSpec, now time.Time) (*ExitRule, error) {
	invalid := func(format string, args ...any) error {
		return &InvalidRuleError{Ticket: spec.Ticket, Reason: fmt.Sprintf(format, args...)}
	}
	if spec.Ticket <= 0 {
		return nil, invalid("ticket must be positive")
	}
	symbol := strings.ToUpper(strings.TrimSpace(spec.Symbol))
	if symbol == "" {
		return nil, invalid("symbol is required")
	}
	if spec.Direction != DirectionBuy && spec.Direction != DirectionSell {
		return nil, invalid("direction must be BUY or SELL, got %q", spec.Direction)
	}
	for name, v := range map[string]float64{"entry": spec.EntryPrice, "initial_sl": spec.InitialSL, "initial_tp": spec.InitialTP} {
		if !(v > 0) || math.IsInf(v, 0) {
			return nil, invalid("%s must be a positive price, got %v", name, v)
		}
	}
	if !onLossSide(spec.Direction, spec.InitialSL, spec.EntryPrice) {
		return nil, invalid("initial_sl %.5f is not on the loss side of entry %.5f for %s", spec.InitialSL, spec.EntryPrice, spec.Direction)
	}
	if !onLossSide(spec.Direction, spec.EntryPrice, spec.InitialTP) {
		return nil, invalid("initial_tp %.5f is not on the profit side of entry %.5f for %s", spec.InitialTP, spec.EntryPrice, spec.Direction)
	}
	cfg := spec.Config.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, invalid("%v", err)
	}
	risk := absDiff(spec.EntryPrice, spec.InitialSL)
	profit := absDiff(spec.InitialTP, spec.EntryPrice)
	if risk <= 0 || profit <= 0 {
		return nil, invalid("risk and potential profit must be positive")
	}
	return &ExitRule{
		Ticket:          spec.Ticket,
		Symbol:          symbol,
		Direction:       spec.Direction,
		EntryPrice:      spec.EntryPrice,
		InitialSL:       spec.InitialSL,
		InitialTP:       spec.InitialTP,
		Risk:            risk,
		PotentialProfit: profit,
		Config:          cfg,
		Phase:           PhaseInit,
		LastAppliedSL:   spec.InitialSL,
		CreatedAt:       now,
		UpdatedAt:       now,
	}, nil
}

// BreakevenTriggered 进入 Breakeven 之后恒为 true。
func (r ExitRule) BreakevenTriggered() bool {
	return r.Phase == PhaseBreakeven || r.Phase == PhaseTrailing
}

func (r ExitRule) TrailingActive() bool {
	return r.Phase == PhaseTrailing
}

// 保本之后的阶段：开启移动止损时直接进入 Trailing。
func breakevenPhase(cfg RuleConfig) Phase {
	if cfg.TrailingEnabled {
		return PhaseTrailing
	}
	return PhaseBreakeven
}

func (r ExitRule) validateState() error {
	if r.Risk <= 0 || r.PotentialProfit <= 0 {
		return fmt.Errorf("ticket %d: non-positive risk or potential profit", r.Ticket)
	}
	if r.LastAppliedSL <= 0 {
		return fmt.Errorf("ticket %d: last applied sl must be positive", r.Ticket)
	}
	if r.Phase < PhaseInit || r.Phase > PhaseRemoved {
		return fmt.Errorf("ticket %d: unknown phase %d", r.Ticket, r.Phase)
	}
	if r.Direction != DirectionBuy && r.Direction != DirectionSell {
		return fmt.Errorf("ticket %d: unknown direction %q", r.Ticket, r.Direction)
	}
	return nil
}
