package exit

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"stopguard/internal/logger"
	"stopguard/internal/metrics"
)

// RulePersister 规则状态的持久化后端，Store 在锁外调用，失败只记录日志。
type RulePersister interface {
	SaveRule(ctx context.Context, rule ExitRule) error
	DeleteRule(ctx context.Context, ticket int64) error
}

const persistTimeout = 5 * time.Second

// Store 以 ticket 为键保存活跃规则，并发安全。
type Store struct {
	// persistMu 保证持久化顺序与内存中的变更顺序一致。
	persistMu sync.Mutex
	mu        sync.RWMutex
	rules     map[int64]*ExitRule
	persister RulePersister
	nowFn     func() time.Time
}

func NewStore(persister RulePersister) *Store {
	return &Store{
		rules:     make(map[int64]*ExitRule),
		persister: persister,
		nowFn:     time.Now,
	}
}

// Add 校验并注册规则，ticket 重复时返回 ErrRuleExists。
func (s *Store) Add(spec RuleSpec) (int64, error) {
	rule, err := NewExitRule(spec, s.nowFn())
	if err != nil {
		return 0, err
	}
	s.persistMu.Lock()
	defer s.persistMu.Unlock()
	s.mu.Lock()
	if _, exists := s.rules[rule.Ticket]; exists {
		s.mu.Unlock()
		return 0, fmt.Errorf("ticket %d: %w", rule.Ticket, ErrRuleExists)
	}
	s.rules[rule.Ticket] = rule
	count := len(s.rules)
	s.mu.Unlock()

	metrics.ActiveRules.Set(float64(count))
	s.persist(*rule)
	logger.Infof("ExitStore: 注册规则 ticket=%d symbol=%s dir=%s entry=%.5f sl=%.5f tp=%.5f",
		rule.Ticket, rule.Symbol, rule.Direction, rule.EntryPrice, rule.InitialSL, rule.InitialTP)
	return rule.Ticket, nil
}

// Restore 载入持久化的规则（重启恢复）。损坏的记录被跳过。
func (s *Store) Restore(rules []ExitRule) int {
	s.mu.Lock()
	restored := 0
	for i := range rules {
		rule := rules[i]
		if rule.Phase == PhaseRemoved {
			continue
		}
		if err := rule.validateState(); err != nil {
			logger.Warnf("ExitStore: 跳过无效的持久化规则: %v", err)
			continue
		}
		rule.Config = rule.Config.WithDefaults()
		s.rules[rule.Ticket] = &rule
		restored++
	}
	count := len(s.rules)
	s.mu.Unlock()
	metrics.ActiveRules.Set(float64(count))
	return restored
}

// Remove 幂等，返回规则此前是否存在。
func (s *Store) Remove(ticket int64) bool {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()
	s.mu.Lock()
	_, ok := s.rules[ticket]
	delete(s.rules, ticket)
	count := len(s.rules)
	s.mu.Unlock()
	if !ok {
		return false
	}
	metrics.ActiveRules.Set(float64(count))
	if s.persister != nil {
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		defer cancel()
		if err := s.persister.DeleteRule(ctx, ticket); err != nil {
			logger.Warnf("ExitStore: 删除持久化规则失败 ticket=%d: %v", ticket, err)
		}
	}
	return true
}

func (s *Store) Get(ticket int64) (ExitRule, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rule, ok := s.rules[ticket]
	if !ok {
		return ExitRule{}, false
	}
	return *rule, true
}

// SnapshotActive 返回按 ticket 排序的规则副本，遍历期间的增删不影响结果。
func (s *Store) SnapshotActive() []ExitRule {
	s.mu.RLock()
	out := make([]ExitRule, 0, len(s.rules))
	for _, rule := range s.rules {
		out = append(out, *rule)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Ticket < out[j].Ticket })
	return out
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rules)
}

// Commit 写回一次评估后的规则状态。规则已被移除时返回 ErrRuleNotFound；
// 阶段回退或保本后止损回撤的更新会被拒绝。
func (s *Store) Commit(updated ExitRule) error {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()
	s.mu.Lock()
	current, ok := s.rules[updated.Ticket]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("ticket %d: %w", updated.Ticket, ErrRuleNotFound)
	}
	if err := checkTransition(*current, updated); err != nil {
		s.mu.Unlock()
		return err
	}
	updated.UpdatedAt = s.nowFn()
	stored := updated
	s.rules[updated.Ticket] = &stored
	s.mu.Unlock()

	s.persist(stored)
	return nil
}

func checkTransition(prev, next ExitRule) error {
	if next.Phase < prev.Phase {
		return fmt.Errorf("ticket %d: phase regression %s -> %s", prev.Ticket, prev.Phase, next.Phase)
	}
	if prev.HybridApplied && !next.HybridApplied {
		return fmt.Errorf("ticket %d: hybrid flag cleared", prev.Ticket)
	}
	if prev.PartialTaken && !next.PartialTaken {
		return fmt.Errorf("ticket %d: partial flag cleared", prev.Ticket)
	}
	if prev.BreakevenTriggered() && moreProtective(prev.Direction, prev.LastAppliedSL, next.LastAppliedSL) {
		return fmt.Errorf("ticket %d: sl regression %.5f -> %.5f after breakeven", prev.Ticket, prev.LastAppliedSL, next.LastAppliedSL)
	}
	return nil
}

func (s *Store) persist(rule ExitRule) {
	if s.persister == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := s.persister.SaveRule(ctx, rule); err != nil {
		logger.Warnf("ExitStore: 持久化规则失败 ticket=%d: %v", rule.Ticket, err)
	}
}
