package exit

import (
	"context"
	"fmt"
	"time"

	"stopguard/internal/logger"
	"stopguard/internal/metrics"
)

const defaultCallTimeout = 5 * time.Second

// GuardFunc 在每次下发修改前重新确认所有权。
type GuardFunc func(ctx context.Context, ticket int64) error

// Executor 把决策转成 broker 调用，并把每次尝试与结果写入日志。
type Executor struct {
	broker  OrderModifier
	journal Journal
	guard   GuardFunc
	timeout time.Duration
	nowFn   func() time.Time
}

func NewExecutor(broker OrderModifier, journal Journal, guard GuardFunc, timeout time.Duration) *Executor {
	if journal == nil {
		journal = nopJournal{}
	}
	if timeout <= 0 {
		timeout = defaultCallTimeout
	}
	return &Executor{
		broker:  broker,
		journal: journal,
		guard:   guard,
		timeout: timeout,
		nowFn:   time.Now,
	}
}

// ApplyStopLoss 修改止损。成功才返回 nil，调用方据此推进状态。
func (x *Executor) ApplyStopLoss(ctx context.Context, rule ExitRule, action ActionType, newSL float64, snap MarketSnapshot) error {
	return x.apply(ctx, rule, action, rule.LastAppliedSL, newSL, snap, func(callCtx context.Context) (OrderResult, error) {
		return x.broker.ModifyStopLoss(callCtx, rule.Ticket, newSL)
	}, ErrStopLossRejected)
}

// ApplyPartialClose 部分平仓，journal 中 Before/After 为平仓前后手数。
func (x *Executor) ApplyPartialClose(ctx context.Context, rule ExitRule, volume float64, snap MarketSnapshot) error {
	remaining := decToFloat(decFromFloat(snap.Volume).Sub(decFromFloat(volume)))
	return x.apply(ctx, rule, ActionPartialClose, snap.Volume, remaining, snap, func(callCtx context.Context) (OrderResult, error) {
		return x.broker.ClosePartial(callCtx, rule.Ticket, volume)
	}, ErrPartialCloseRejected)
}

func (x *Executor) apply(
	ctx context.Context,
	rule ExitRule,
	action ActionType,
	before, after float64,
	snap MarketSnapshot,
	call func(context.Context) (OrderResult, error),
	rejected error,
) error {
	entry := JournalEntry{
		CycleID: CycleIDFrom(ctx),
		Ticket:  rule.Ticket,
		Symbol:  rule.Symbol,
		Action:  action,
		Phase:   rule.Phase,
		Before:  before,
		After:   after,
		Market:  snap,
	}
	log := logger.With("ticket", rule.Ticket, "symbol", rule.Symbol, "action", string(action))

	if x.guard != nil {
		if err := x.guard(ctx, rule.Ticket); err != nil {
			x.record(entry, StatusSkipped, err.Error())
			log.Infof("Executor: 所有权复核未通过，跳过: %v", err)
			return err
		}
	}
	if x.broker == nil {
		err := fmt.Errorf("%w: no order modifier configured", ErrBrokerUnavailable)
		x.record(entry, StatusFailed, err.Error())
		return err
	}

	x.record(entry, StatusAttempted, "")
	callCtx, cancel := context.WithTimeout(ctx, x.timeout)
	defer cancel()
	start := time.Now()
	res, err := call(callCtx)
	metrics.BrokerCallLatency.WithLabelValues(string(action)).Observe(time.Since(start).Seconds())
	if err != nil {
		err = classifyCallError(string(action), err)
		x.record(entry, StatusFailed, err.Error())
		log.Warnf("Executor: 调用失败 %.5f -> %.5f: %v", before, after, err)
		return err
	}
	if !res.OK {
		err = rejectionError(rejected, res.Reason)
		x.record(entry, StatusFailed, err.Error())
		log.Warnf("Executor: broker 拒绝 %.5f -> %.5f: %s", before, after, res.Reason)
		return err
	}
	x.record(entry, StatusSucceeded, res.Reason)
	log.Infof("Executor: 已执行 %.5f -> %.5f", before, after)
	return nil
}

func (x *Executor) record(entry JournalEntry, status ActionStatus, reason string) {
	entry.Status = status
	entry.Reason = reason
	entry.At = x.nowFn()
	metrics.IncAction(string(entry.Action), string(status))
	x.journal.Record(entry)
}

// Note 记录不经过 broker 的状态变化（对账、移除等）。
func (x *Executor) Note(ctx context.Context, rule ExitRule, action ActionType, before, after float64, reason string) {
	x.record(JournalEntry{
		CycleID: CycleIDFrom(ctx),
		Ticket:  rule.Ticket,
		Symbol:  rule.Symbol,
		Action:  action,
		Phase:   rule.Phase,
		Before:  before,
		After:   after,
	}, StatusSucceeded, reason)
}
