package exit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockMarket struct {
	mock.Mock
}

func (m *MockMarket) GetPosition(ctx context.Context, ticket int64) (*PositionSnapshot, error) {
	args := m.Called(ctx, ticket)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*PositionSnapshot), args.Error(1)
}

func (m *MockMarket) GetATR(ctx context.Context, symbol, timeframe string) (float64, error) {
	args := m.Called(ctx, symbol, timeframe)
	return args.Get(0).(float64), args.Error(1)
}

func (m *MockMarket) GetVIX(ctx context.Context) (float64, error) {
	args := m.Called(ctx)
	return args.Get(0).(float64), args.Error(1)
}

type MockBroker struct {
	mock.Mock
}

func (m *MockBroker) ModifyStopLoss(ctx context.Context, ticket int64, newSL float64) (OrderResult, error) {
	args := m.Called(ctx, ticket, newSL)
	return args.Get(0).(OrderResult), args.Error(1)
}

func (m *MockBroker) ClosePartial(ctx context.Context, ticket int64, volume float64) (OrderResult, error) {
	args := m.Called(ctx, ticket, volume)
	return args.Get(0).(OrderResult), args.Error(1)
}

type recordingJournal struct {
	mu      sync.Mutex
	entries []JournalEntry
}

func (j *recordingJournal) Record(entry JournalEntry) {
	j.mu.Lock()
	j.entries = append(j.entries, entry)
	j.mu.Unlock()
}

func (j *recordingJournal) withStatus(status ActionStatus) []JournalEntry {
	j.mu.Lock()
	defer j.mu.Unlock()
	var out []JournalEntry
	for _, e := range j.entries {
		if e.Status == status {
			out = append(out, e)
		}
	}
	return out
}

type stubRegistry struct {
	mu       sync.Mutex
	get      func(call int, ticket int64) (TradeState, bool, error)
	calls    int
	recorded []TradeState
}

func (r *stubRegistry) GetTradeState(_ context.Context, ticket int64) (TradeState, bool, error) {
	r.mu.Lock()
	r.calls++
	call := r.calls
	r.mu.Unlock()
	if r.get == nil {
		return TradeState{}, false, nil
	}
	return r.get(call, ticket)
}

func (r *stubRegistry) RecordTradeState(_ context.Context, state TradeState) error {
	r.mu.Lock()
	r.recorded = append(r.recorded, state)
	r.mu.Unlock()
	return nil
}

type stubGate struct {
	res GateResult
	err error
}

func (g stubGate) Evaluate(context.Context, GateInput) (GateResult, error) {
	return g.res, g.err
}

type harness struct {
	store    *Store
	market   *MockMarket
	broker   *MockBroker
	journal  *recordingJournal
	registry *stubRegistry
	manager  *Manager
}

func newHarness(t *testing.T, gate Gate) *harness {
	t.Helper()
	h := &harness{
		store:    NewStore(nil),
		market:   new(MockMarket),
		broker:   new(MockBroker),
		journal:  &recordingJournal{},
		registry: &stubRegistry{},
	}
	coord := NewCoordinator(h.registry, "stopguard", 0.005)
	exec := NewExecutor(h.broker, h.journal, coord.Guard, time.Second)
	eval := NewEvaluator(exec, gate, DefaultVIXTiers(), 3)
	h.manager = NewManager(h.store, h.market, coord, eval, exec)
	return h
}

func baseConfig() RuleConfig {
	return RuleConfig{
		BreakevenPct:         30,
		PartialPct:           60,
		PartialClosePct:      50,
		VIXThreshold:         18,
		HybridBaseMultiplier: 1.5,
		TrailingMultiplier:   1.5,
		MinSLChangePct:       0.05,
		MinVolume:            0.01,
		VolumeStep:           0.01,
		ATRTimeframe:         "M15",
	}
}

const xauTicket int64 = 1001

func xauSpec(cfg RuleConfig) RuleSpec {
	return RuleSpec{
		Ticket:     xauTicket,
		Symbol:     "XAUUSD",
		Direction:  DirectionBuy,
		EntryPrice: 3950,
		InitialSL:  3945,
		InitialTP:  3965,
		Config:     cfg,
	}
}

func (h *harness) addRule(t *testing.T, spec RuleSpec) ExitRule {
	t.Helper()
	_, err := h.store.Add(spec)
	require.NoError(t, err)
	rule, ok := h.store.Get(spec.Ticket)
	require.True(t, ok)
	return rule
}

// moveTo 把规则直接置于给定阶段，模拟之前周期的结果。
func (h *harness) moveTo(t *testing.T, ticket int64, phase Phase, sl float64) ExitRule {
	t.Helper()
	rule, ok := h.store.Get(ticket)
	require.True(t, ok)
	rule.Phase = phase
	rule.LastAppliedSL = sl
	require.NoError(t, h.store.Commit(rule))
	rule, _ = h.store.Get(ticket)
	return rule
}

func (h *harness) position(price, volume, sl float64) {
	h.market.On("GetPosition", mock.Anything, xauTicket).Return(&PositionSnapshot{
		Ticket:     xauTicket,
		Symbol:     "XAUUSD",
		Price:      price,
		Volume:     volume,
		StopLoss:   sl,
		TakeProfit: 3965,
	}, nil)
}

func (h *harness) evaluate(t *testing.T) (Outcome, error) {
	t.Helper()
	rule, ok := h.store.Get(xauTicket)
	require.True(t, ok)
	return h.manager.Evaluate(context.Background(), rule)
}
