package scheduler

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"stopguard/internal/exit"
	"stopguard/internal/logger"
	"stopguard/internal/metrics"
	"stopguard/internal/pkg/id"
)

type RuleSource interface {
	SnapshotActive() []exit.ExitRule
}

type RuleEvaluator interface {
	Evaluate(ctx context.Context, rule exit.ExitRule) (exit.Outcome, error)
}

// CycleReport 一个轮询周期的汇总。
type CycleReport struct {
	ID        string        `json:"id"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Total     int           `json:"total"`
	Managed   int           `json:"managed"`
	Deferred  int           `json:"deferred"`
	Removed   int           `json:"removed"`
	Failed    int           `json:"failed"`
}

// Poller 按固定间隔评估所有活跃规则。上一个周期未结束时新的 tick 被丢弃，
// 单条规则的失败或 panic 不影响其他规则。
type Poller struct {
	Name           string
	Interval       time.Duration
	EvalTimeout    time.Duration
	RunImmediately bool

	source  RuleSource
	eval    RuleEvaluator
	running atomic.Bool
	wg      sync.WaitGroup
	nowFn   func() time.Time

	mu   sync.Mutex
	last CycleReport
}

func NewPoller(source RuleSource, eval RuleEvaluator, interval, evalTimeout time.Duration) *Poller {
	if evalTimeout <= 0 {
		evalTimeout = 10 * time.Second
	}
	return &Poller{
		Name:        "poller",
		Interval:    interval,
		EvalTimeout: evalTimeout,
		source:      source,
		eval:        eval,
		nowFn:       time.Now,
	}
}

// Start 阻塞直到 ctx 结束，并等待进行中的周期退出。
func (p *Poller) Start(ctx context.Context) error {
	if p.Interval <= 0 {
		return fmt.Errorf("%s: invalid interval=%s", p.Name, p.Interval)
	}
	logger.Infof("%s: started interval=%s eval_timeout=%s run_immediately=%v",
		p.Name, p.Interval, p.EvalTimeout, p.RunImmediately)

	if p.RunImmediately {
		p.trigger(ctx)
	}
	ticker := time.NewTicker(p.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			p.wg.Wait()
			logger.Infof("%s: ctx done, exit", p.Name)
			return nil
		case <-ticker.C:
			p.trigger(ctx)
		}
	}
}

// trigger 在后台启动一个周期；已有周期在运行时返回 false。
func (p *Poller) trigger(ctx context.Context) bool {
	if !p.running.CompareAndSwap(false, true) {
		metrics.CyclesSkipped.Inc()
		logger.Warnf("%s: 上一轮仍在执行，跳过本次 tick", p.Name)
		return false
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.running.Store(false)
		p.runCycle(ctx)
	}()
	return true
}

// RunOnce 同步执行一个周期，已有周期在运行时返回 false。
func (p *Poller) RunOnce(ctx context.Context) (CycleReport, bool) {
	if !p.running.CompareAndSwap(false, true) {
		metrics.CyclesSkipped.Inc()
		return CycleReport{}, false
	}
	defer p.running.Store(false)
	return p.runCycle(ctx), true
}

// Wait 等待后台周期结束。
func (p *Poller) Wait() {
	p.wg.Wait()
}

func (p *Poller) LastReport() CycleReport {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last
}

func (p *Poller) runCycle(ctx context.Context) CycleReport {
	started := p.nowFn()
	report := CycleReport{ID: id.NewAt(started.UTC()), StartedAt: started}
	cycleCtx := exit.WithCycleID(ctx, report.ID)

	rules := p.source.SnapshotActive()
	report.Total = len(rules)
	for _, rule := range rules {
		if ctx.Err() != nil {
			break
		}
		out, err := p.evaluateOne(cycleCtx, rule)
		switch {
		case err != nil:
			report.Failed++
			metrics.IncOutcome("failed")
			logger.With("ticket", rule.Ticket, "symbol", rule.Symbol, "cycle", report.ID).
				Warnf("%s: 评估失败: %v", p.Name, err)
		case out.Removed:
			report.Removed++
			metrics.IncOutcome("removed")
		case out.Deferred:
			report.Deferred++
			metrics.IncOutcome("deferred")
		default:
			report.Managed++
			metrics.IncOutcome("managed")
		}
	}
	report.Duration = p.nowFn().Sub(started)
	metrics.CycleDuration.Observe(report.Duration.Seconds())

	p.mu.Lock()
	p.last = report
	p.mu.Unlock()
	if report.Total > 0 {
		logger.Infof("%s: cycle=%s rules=%d managed=%d deferred=%d removed=%d failed=%d took=%s",
			p.Name, report.ID, report.Total, report.Managed, report.Deferred, report.Removed, report.Failed,
			report.Duration.Truncate(time.Millisecond))
	}
	return report
}

func (p *Poller) evaluateOne(ctx context.Context, rule exit.ExitRule) (out exit.Outcome, err error) {
	evalCtx, cancel := context.WithTimeout(ctx, p.EvalTimeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("%s: ticket=%d 评估 panic: %v\n%s", p.Name, rule.Ticket, r, debug.Stack())
			err = fmt.Errorf("ticket %d: evaluation panic: %v", rule.Ticket, r)
		}
	}()
	return p.eval.Evaluate(evalCtx, rule)
}
