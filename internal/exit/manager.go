package exit

import (
	"context"
	"errors"
	"fmt"

	"stopguard/internal/logger"
	"stopguard/internal/metrics"
)

// MarketView 一次评估中惰性获取并缓存 ATR / VIX，失败时只记录一次。
type MarketView struct {
	data      MarketData
	symbol    string
	timeframe string
	pos       PositionSnapshot

	atr, vix           float64
	atrDone, vixDone   bool
	atrValid, vixValid bool
}

func NewMarketView(data MarketData, symbol, timeframe string, pos PositionSnapshot) *MarketView {
	return &MarketView{data: data, symbol: symbol, timeframe: timeframe, pos: pos}
}

func (v *MarketView) Position() PositionSnapshot { return v.pos }

func (v *MarketView) ATR(ctx context.Context) (float64, bool) {
	if !v.atrDone {
		v.atrDone = true
		atr, err := v.data.GetATR(ctx, v.symbol, v.timeframe)
		switch {
		case err != nil:
			metrics.ProviderErrors.WithLabelValues("atr").Inc()
			logger.Warnf("MarketView: 获取 ATR 失败 symbol=%s tf=%s: %v", v.symbol, v.timeframe, err)
		case !(atr > 0):
			logger.Warnf("MarketView: ATR 无效 symbol=%s tf=%s value=%v", v.symbol, v.timeframe, atr)
		default:
			v.atr, v.atrValid = atr, true
		}
	}
	return v.atr, v.atrValid
}

func (v *MarketView) VIX(ctx context.Context) (float64, bool) {
	if !v.vixDone {
		v.vixDone = true
		vix, err := v.data.GetVIX(ctx)
		switch {
		case err != nil:
			metrics.ProviderErrors.WithLabelValues("vix").Inc()
			logger.Warnf("MarketView: 获取 VIX 失败: %v", err)
		case !(vix > 0):
			logger.Warnf("MarketView: VIX 无效 value=%v", vix)
		default:
			v.vix, v.vixValid = vix, true
		}
	}
	return v.vix, v.vixValid
}

// Snapshot 只包含已经获取过的数据，不会触发额外请求。
func (v *MarketView) Snapshot() MarketSnapshot {
	return MarketSnapshot{
		Price:    v.pos.Price,
		Volume:   v.pos.Volume,
		BrokerSL: v.pos.StopLoss,
		ATR:      v.atr,
		VIX:      v.vix,
	}
}

// Outcome 单条规则在一个周期内的结果。
type Outcome struct {
	Ticket   int64        `json:"ticket"`
	Phase    Phase        `json:"phase"`
	Deferred bool         `json:"deferred,omitempty"`
	Removed  bool         `json:"removed,omitempty"`
	Reason   string       `json:"reason,omitempty"`
	Actions  []ActionType `json:"actions,omitempty"`
}

// Manager 组合所有权检查、对账与四阶段评估，是轮询器的评估入口。
type Manager struct {
	store     *Store
	data      MarketData
	coord     *Coordinator
	evaluator *Evaluator
	exec      *Executor
}

func NewManager(store *Store, data MarketData, coord *Coordinator, evaluator *Evaluator, exec *Executor) *Manager {
	return &Manager{store: store, data: data, coord: coord, evaluator: evaluator, exec: exec}
}

func (m *Manager) Store() *Store { return m.store }

// Evaluate 评估一条规则并把结果写回 Store。返回的错误都是可重试的，
// 终止情况通过 Outcome.Removed 报告。
func (m *Manager) Evaluate(ctx context.Context, rule ExitRule) (Outcome, error) {
	out := Outcome{Ticket: rule.Ticket, Phase: rule.Phase}
	log := logger.With("ticket", rule.Ticket, "symbol", rule.Symbol, "cycle", CycleIDFrom(ctx))

	if ok, reason := m.coord.MayManage(ctx, rule.Ticket); !ok {
		log.Debugf("Manager: 让出管理: %s", reason)
		out.Deferred = true
		out.Reason = reason
		return out, nil
	}

	pos, err := m.data.GetPosition(ctx, rule.Ticket)
	if err == nil && pos == nil {
		err = fmt.Errorf("ticket %d: %w", rule.Ticket, ErrPositionNotFound)
	}
	if err != nil {
		err = classifyCallError("get_position", err)
		if IsTerminal(err) {
			return m.remove(ctx, rule, out, err.Error()), nil
		}
		metrics.ProviderErrors.WithLabelValues("position").Inc()
		return out, err
	}
	if !(pos.Price > 0) {
		return out, fmt.Errorf("ticket %d: %w: invalid price %v", rule.Ticket, ErrBrokerUnavailable, pos.Price)
	}

	if rec, changed := m.coord.Reconcile(&rule, *pos); changed {
		m.exec.Note(ctx, rule, rec.Action, rec.Before, rec.After, "broker stop loss reconciled")
		out.Actions = append(out.Actions, rec.Action)
	}

	wasBreakeven := rule.BreakevenTriggered()
	view := NewMarketView(m.data, rule.Symbol, rule.Config.ATRTimeframe, *pos)
	applied, runErr := m.evaluator.Run(ctx, &rule, view)
	out.Actions = append(out.Actions, applied...)
	if IsTerminal(runErr) {
		return m.remove(ctx, rule, out, runErr.Error()), nil
	}
	if !wasBreakeven && rule.BreakevenTriggered() {
		m.coord.Claim(ctx, rule.Ticket)
	}

	if err := m.store.Commit(rule); err != nil {
		if errors.Is(err, ErrRuleNotFound) {
			log.Infof("Manager: 规则在评估期间被移除，丢弃本次结果")
			out.Removed = true
			out.Phase = PhaseRemoved
			return out, nil
		}
		log.Errorf("Manager: 写回规则失败: %v", err)
		return out, err
	}
	out.Phase = rule.Phase
	return out, runErr
}

func (m *Manager) remove(ctx context.Context, rule ExitRule, out Outcome, reason string) Outcome {
	m.store.Remove(rule.Ticket)
	rule.Phase = PhaseRemoved
	m.exec.Note(ctx, rule, ActionRemoved, rule.LastAppliedSL, rule.LastAppliedSL, reason)
	logger.With("ticket", rule.Ticket, "symbol", rule.Symbol).Infof("Manager: 持仓已不存在，移除规则: %s", reason)
	out.Removed = true
	out.Phase = PhaseRemoved
	out.Reason = reason
	return out
}
