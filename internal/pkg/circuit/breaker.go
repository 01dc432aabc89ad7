// Package circuit 为外部调用提供简单的熔断器。
package circuit

import (
	"errors"
	"sync"
	"time"

	"stopguard/internal/logger"
)

var ErrOpen = errors.New("circuit breaker is open")

type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

var stateNames = [...]string{StateClosed: "CLOSED", StateOpen: "OPEN", StateHalfOpen: "HALF-OPEN"}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "UNKNOWN"
}

// Breaker 连续 threshold 次可计数失败后打开；cooldown 过后只放行一个探测请求，
// 探测成功即关闭，失败则重新计时。
type Breaker struct {
	name      string
	threshold int
	cooldown  time.Duration
	nowFn     func() time.Time
	onChange  func(name string, from, to State)

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	probing  bool
}

func New(name string, threshold int, cooldown time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = 5
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &Breaker{name: name, threshold: threshold, cooldown: cooldown, nowFn: time.Now}
}

// OnStateChange 注册状态变化回调，回调在持锁之外同步执行。
func (b *Breaker) OnStateChange(fn func(name string, from, to State)) {
	b.mu.Lock()
	b.onChange = fn
	b.mu.Unlock()
}

func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Do 打开状态下直接返回 ErrOpen。countable 为 nil 时 fn 的所有错误都计入失败。
func (b *Breaker) Do(fn func() error, countable func(error) bool) error {
	probe, err := b.acquire()
	if err != nil {
		return err
	}
	callErr := fn()
	failed := callErr != nil && (countable == nil || countable(callErr))
	b.release(probe, failed)
	return callErr
}

func (b *Breaker) acquire() (probe bool, err error) {
	b.mu.Lock()
	var change func()
	defer func() {
		b.mu.Unlock()
		if change != nil {
			change()
		}
	}()
	switch b.state {
	case StateClosed:
		return false, nil
	case StateOpen:
		if b.nowFn().Sub(b.openedAt) < b.cooldown {
			return false, ErrOpen
		}
		change = b.setState(StateHalfOpen)
	}
	if b.probing {
		return false, ErrOpen
	}
	b.probing = true
	return true, nil
}

func (b *Breaker) release(probe, failed bool) {
	b.mu.Lock()
	var change func()
	defer func() {
		b.mu.Unlock()
		if change != nil {
			change()
		}
	}()
	if probe {
		b.probing = false
	}
	if !failed {
		b.failures = 0
		if b.state != StateClosed {
			change = b.setState(StateClosed)
		}
		return
	}
	b.failures++
	if probe || b.failures >= b.threshold {
		b.openedAt = b.nowFn()
		if b.state != StateOpen {
			change = b.setState(StateOpen)
		}
	}
}

// setState 须持锁调用，返回的通知函数在解锁后执行。
func (b *Breaker) setState(to State) func() {
	from := b.state
	b.state = to
	failures, fn := b.failures, b.onChange
	return func() {
		logger.Warnf("CircuitBreaker %s: %s -> %s (failures=%d/%d, cooldown=%s)",
			b.name, from, to, failures, b.threshold, b.cooldown)
		if fn != nil {
			fn(b.name, from, to)
		}
	}
}
