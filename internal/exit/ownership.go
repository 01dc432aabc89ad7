package exit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"stopguard/internal/logger"
)

const defaultRegistryTimeout = 3 * time.Second

// Coordinator 防止与其他管理器同时修改同一持仓，并与 broker 实际止损对账。
type Coordinator struct {
	registry   OwnershipRegistry
	self       string
	epsilonPct float64
	timeout    time.Duration
	nowFn      func() time.Time
}

// NewCoordinator registry 为 nil 时不做所有权检查。
func NewCoordinator(registry OwnershipRegistry, self string, epsilonPct float64) *Coordinator {
	self = strings.TrimSpace(self)
	if self == "" {
		self = "stopguard"
	}
	return &Coordinator{
		registry:   registry,
		self:       self,
		epsilonPct: epsilonPct,
		timeout:    defaultRegistryTimeout,
		nowFn:      time.Now,
	}
}

func (c *Coordinator) Self() string { return c.self }

// MayManage 对方已持有该 ticket 且已保本时让出。登记表读取失败同样让出，
// 下个周期再试。
func (c *Coordinator) MayManage(ctx context.Context, ticket int64) (bool, string) {
	if c == nil || c.registry == nil {
		return true, ""
	}
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	state, found, err := c.registry.GetTradeState(callCtx, ticket)
	if err != nil {
		return false, fmt.Sprintf("ownership registry unavailable: %v", err)
	}
	if !found {
		return true, ""
	}
	owner := strings.TrimSpace(state.ManagedBy)
	if owner != "" && !strings.EqualFold(owner, c.self) && state.BreakevenTriggered {
		return false, fmt.Sprintf("managed by %s after breakeven", owner)
	}
	return true, ""
}

// Guard 执行器每次修改前调用，语义同 MayManage。
func (c *Coordinator) Guard(ctx context.Context, ticket int64) error {
	if ok, reason := c.MayManage(ctx, ticket); !ok {
		return fmt.Errorf("%w: %s", ErrOwnershipDeferred, reason)
	}
	return nil
}

type Reconciliation struct {
	Action ActionType
	Before float64
	After  float64
}

// Reconcile 对比 broker 实际止损与规则状态：
//   - 保本前实际止损已在入场价附近或越过入场价（他人已保本）：采纳并进入保本阶段；
//   - 保本后实际止损比记录的更有利：采纳，不再下发修改。
func (c *Coordinator) Reconcile(rule *ExitRule, pos PositionSnapshot) (Reconciliation, bool) {
	if rule == nil || pos.StopLoss <= 0 {
		return Reconciliation{}, false
	}
	before := rule.LastAppliedSL
	if !rule.BreakevenTriggered() {
		if !c.breakevenReached(*rule, pos.StopLoss) {
			return Reconciliation{}, false
		}
		rule.Phase = breakevenPhase(rule.Config)
		rule.LastAppliedSL = pos.StopLoss
		logger.With("ticket", rule.Ticket, "symbol", rule.Symbol).
			Infof("Ownership: broker 止损 %.5f 已在入场价 %.5f 或更有利一侧，直接标记为保本", pos.StopLoss, rule.EntryPrice)
		return Reconciliation{Action: ActionSelfHeal, Before: before, After: pos.StopLoss}, true
	}
	if moreProtective(rule.Direction, pos.StopLoss, rule.LastAppliedSL) {
		rule.LastAppliedSL = pos.StopLoss
		logger.With("ticket", rule.Ticket, "symbol", rule.Symbol).
			Infof("Ownership: 采纳 broker 上更有利的止损 %.5f (原 %.5f)", pos.StopLoss, before)
		return Reconciliation{Action: ActionAdoptSL, Before: before, After: pos.StopLoss}, true
	}
	return Reconciliation{}, false
}

// breakevenReached 实际止损不在入场价亏损一侧，或在容差内贴近入场价。
// 容差不超过 risk 的一半，避免很窄的初始止损被误判为已保本。
func (c *Coordinator) breakevenReached(rule ExitRule, brokerSL float64) bool {
	if !onLossSide(rule.Direction, brokerSL, rule.EntryPrice) {
		return true
	}
	tolerance := pctOf(rule.EntryPrice, c.epsilonPct)
	if half := rule.Risk / 2; half < tolerance {
		tolerance = half
	}
	return nearPrice(brokerSL, rule.EntryPrice, tolerance)
}

// Claim 本管理器完成保本后写入登记表；登记表只读时忽略。
func (c *Coordinator) Claim(ctx context.Context, ticket int64) {
	if c == nil || c.registry == nil {
		return
	}
	recorder, ok := c.registry.(TradeStateRecorder)
	if !ok {
		return
	}
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	state := TradeState{
		Ticket:             ticket,
		ManagedBy:          c.self,
		BreakevenTriggered: true,
		UpdatedAt:          c.nowFn(),
	}
	if err := recorder.RecordTradeState(callCtx, state); err != nil {
		logger.Warnf("Ownership: 写入登记表失败 ticket=%d: %v", ticket, err)
	}
}
