package ownership

import (
	"context"
	"sync"
	"time"

	"stopguard/internal/exit"
)

// Memory 单进程部署时使用的登记表。
type Memory struct {
	mu     sync.RWMutex
	states map[int64]exit.TradeState
}

func NewMemory() *Memory {
	return &Memory{states: make(map[int64]exit.TradeState)}
}

func (m *Memory) GetTradeState(_ context.Context, ticket int64) (exit.TradeState, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.states[ticket]
	return st, ok, nil
}

func (m *Memory) RecordTradeState(_ context.Context, state exit.TradeState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if prev, ok := m.states[state.Ticket]; ok && prev.BreakevenTriggered {
		state.BreakevenTriggered = true
	}
	if state.UpdatedAt.IsZero() {
		state.UpdatedAt = time.Now()
	}
	m.states[state.Ticket] = state
	return nil
}
