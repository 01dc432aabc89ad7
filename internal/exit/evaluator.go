package exit

import (
	"context"
	"errors"

	"stopguard/internal/logger"
	"stopguard/internal/metrics"
)

const defaultGateFailureLimit = 3

// Evaluator 每个周期依次运行四个阶段：波动扩损、保本、部分止盈、移动止损。
// 阶段只在 broker 确认后推进规则状态。
type Evaluator struct {
	exec             *Executor
	gate             Gate
	tiers            VIXTiers
	gateFailureLimit int
}

func NewEvaluator(exec *Executor, gate Gate, tiers VIXTiers, gateFailureLimit int) *Evaluator {
	if gate == nil {
		gate = OpenGate{}
	}
	if len(tiers) == 0 {
		tiers = DefaultVIXTiers()
	}
	if gateFailureLimit <= 0 {
		gateFailureLimit = defaultGateFailureLimit
	}
	return &Evaluator{
		exec:             exec,
		gate:             gate,
		tiers:            tiers.Normalize(),
		gateFailureLimit: gateFailureLimit,
	}
}

// Run 在 rule 上原地推进状态并返回本周期执行的动作。
// 返回终止错误时调用方应移除规则；普通错误只影响当前阶段，后续阶段照常运行。
func (e *Evaluator) Run(ctx context.Context, rule *ExitRule, view *MarketView) ([]ActionType, error) {
	stages := []struct {
		action ActionType
		run    func(context.Context, *ExitRule, *MarketView) (bool, error)
	}{
		{ActionHybridWiden, e.hybridStage},
		{ActionBreakeven, e.breakevenStage},
		{ActionPartialClose, e.partialStage},
		{ActionTrailing, e.trailingStage},
	}
	var (
		applied  []ActionType
		firstErr error
	)
	for _, stage := range stages {
		if err := ctx.Err(); err != nil {
			return applied, classifyCallError("evaluate", err)
		}
		ok, err := stage.run(ctx, rule, view)
		if err != nil {
			if IsTerminal(err) {
				return applied, err
			}
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if ok {
			applied = append(applied, stage.action)
		}
	}
	return applied, firstErr
}

// hybridStage 高波动时放宽初始止损，只执行一次且永不越过入场价。
func (e *Evaluator) hybridStage(ctx context.Context, rule *ExitRule, view *MarketView) (bool, error) {
	if rule.BreakevenTriggered() || rule.HybridApplied {
		return false, nil
	}
	vix, ok := view.VIX(ctx)
	if !ok || !(vix > rule.Config.VIXThreshold) {
		return false, nil
	}
	atr, ok := view.ATR(ctx)
	if !ok {
		return false, nil
	}
	log := logger.With("ticket", rule.Ticket, "symbol", rule.Symbol)
	distance := decFromFloat(atr).
		Mul(decFromFloat(e.tiers.Multiplier(vix))).
		Mul(decFromFloat(rule.Config.HybridBaseMultiplier))
	candidate := stopBehind(rule.Direction, decFromFloat(rule.EntryPrice), distance)
	if candidate <= 0 {
		return false, nil
	}
	if !widerThan(rule.Direction, candidate, rule.LastAppliedSL) {
		log.Debugf("Evaluator: 扩损候选 %.5f 不比当前止损 %.5f 更宽，跳过 (vix=%.2f atr=%.5f)",
			candidate, rule.LastAppliedSL, vix, atr)
		return false, nil
	}
	if !onLossSide(rule.Direction, candidate, rule.EntryPrice) {
		return false, nil
	}
	if err := e.exec.ApplyStopLoss(ctx, *rule, ActionHybridWiden, candidate, view.Snapshot()); err != nil {
		return false, err
	}
	rule.LastAppliedSL = candidate
	rule.HybridApplied = true
	rule.Phase = PhaseHybridAdjusted
	return true, nil
}

// breakevenStage 盈利达到 risk * breakeven_pct% 时把止损移到入场价。
func (e *Evaluator) breakevenStage(ctx context.Context, rule *ExitRule, view *MarketView) (bool, error) {
	if rule.BreakevenTriggered() {
		return false, nil
	}
	price := view.Position().Price
	if !progressReached(rule.Direction, rule.EntryPrice, price, rule.Risk, rule.Config.BreakevenPct) {
		return false, nil
	}
	if err := e.exec.ApplyStopLoss(ctx, *rule, ActionBreakeven, rule.EntryPrice, view.Snapshot()); err != nil {
		return false, err
	}
	rule.LastAppliedSL = rule.EntryPrice
	rule.Phase = breakevenPhase(rule.Config)
	return true, nil
}

// partialStage 盈利达到 potential_profit * partial_pct% 时平掉部分仓位，只执行一次。
func (e *Evaluator) partialStage(ctx context.Context, rule *ExitRule, view *MarketView) (bool, error) {
	if rule.PartialTaken {
		return false, nil
	}
	pos := view.Position()
	if !progressReached(rule.Direction, rule.EntryPrice, pos.Price, rule.PotentialProfit, rule.Config.PartialPct) {
		return false, nil
	}
	volume := partialCloseVolume(pos.Volume, rule.Config.PartialClosePct, rule.Config.VolumeStep, rule.Config.MinVolume)
	if volume <= 0 {
		logger.With("ticket", rule.Ticket, "symbol", rule.Symbol).
			Debugf("Evaluator: 持仓 %.4f 手不满足最小手数 %.4f，跳过部分止盈", pos.Volume, rule.Config.MinVolume)
		return false, nil
	}
	if err := e.exec.ApplyPartialClose(ctx, *rule, volume, view.Snapshot()); err != nil {
		return false, err
	}
	rule.PartialTaken = true
	return true, nil
}

// trailingStage 保本后以 ATR * multiplier 跟随价格收紧止损。
func (e *Evaluator) trailingStage(ctx context.Context, rule *ExitRule, view *MarketView) (bool, error) {
	if !rule.TrailingActive() || !rule.Config.TrailingEnabled {
		return false, nil
	}
	atr, ok := view.ATR(ctx)
	if !ok {
		return false, nil
	}
	pos := view.Position()
	multiplier, ok := e.trailingMultiplier(ctx, rule, pos.Price, atr)
	if !ok {
		return false, nil
	}
	distance := decFromFloat(atr).Mul(decFromFloat(multiplier))
	candidate := stopBehind(rule.Direction, decFromFloat(pos.Price), distance)
	if !moreProtective(rule.Direction, candidate, rule.LastAppliedSL) {
		return false, nil
	}
	if !exceedsMinChange(candidate, rule.LastAppliedSL, pos.Price, rule.Config.MinSLChangePct) {
		logger.With("ticket", rule.Ticket, "symbol", rule.Symbol).
			Debugf("Evaluator: 移动止损变化 %.5f -> %.5f 低于最小阈值，跳过", rule.LastAppliedSL, candidate)
		return false, nil
	}
	if err := e.exec.ApplyStopLoss(ctx, *rule, ActionTrailing, candidate, view.Snapshot()); err != nil {
		return false, err
	}
	rule.LastAppliedSL = candidate
	return true, nil
}

// trailingMultiplier 询问 gate；连续失败达到上限后改用 fallback 系数，不会清除移动止损。
func (e *Evaluator) trailingMultiplier(ctx context.Context, rule *ExitRule, price, atr float64) (float64, bool) {
	log := logger.With("ticket", rule.Ticket, "symbol", rule.Symbol)
	res, err := e.gate.Evaluate(ctx, GateInput{Rule: *rule, Price: price, ATR: atr})
	if err == nil && res.Allow {
		rule.GateFailures = 0
		scale := res.Multiplier
		if scale <= 0 {
			scale = 1
		}
		return decToFloat(decFromFloat(rule.Config.TrailingMultiplier).Mul(decFromFloat(scale))), true
	}
	if errors.Is(err, context.Canceled) {
		return 0, false
	}
	rule.GateFailures++
	reason := res.Reason
	if err != nil {
		reason = err.Error()
	}
	if rule.GateFailures < e.gateFailureLimit {
		log.Debugf("Evaluator: gate 未放行 (%d/%d): %s", rule.GateFailures, e.gateFailureLimit, reason)
		return 0, false
	}
	metrics.GateFallbacks.Inc()
	log.Infof("Evaluator: gate 连续 %d 次未放行，使用 fallback 系数 %.2f", rule.GateFailures, rule.Config.FallbackTrailingMultiplier)
	return rule.Config.FallbackTrailingMultiplier, true
}
