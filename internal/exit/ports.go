package exit

import (
	"context"
	"time"
)

// PositionSnapshot broker 侧持仓的即时视图。
type PositionSnapshot struct {
	Ticket     int64   `json:"ticket"`
	Symbol     string  `json:"symbol"`
	Price      float64 `json:"price"`
	Volume     float64 `json:"volume"`
	StopLoss   float64 `json:"sl"`
	TakeProfit float64 `json:"tp"`
}

// MarketData 提供持仓、ATR 与 VIX。GetPosition 返回 ErrPositionNotFound
// 或 (nil, nil) 都表示持仓已不存在。
type MarketData interface {
	GetPosition(ctx context.Context, ticket int64) (*PositionSnapshot, error)
	GetATR(ctx context.Context, symbol, timeframe string) (float64, error)
	GetVIX(ctx context.Context) (float64, error)
}

type OrderResult struct {
	OK     bool   `json:"ok"`
	Reason string `json:"reason,omitempty"`
}

type OrderModifier interface {
	ModifyStopLoss(ctx context.Context, ticket int64, newSL float64) (OrderResult, error)
	ClosePartial(ctx context.Context, ticket int64, volume float64) (OrderResult, error)
}

// TradeState 共享登记表中的一条记录。
type TradeState struct {
	Ticket             int64     `json:"ticket"`
	ManagedBy          string    `json:"managed_by"`
	BreakevenTriggered bool      `json:"breakeven_triggered"`
	UpdatedAt          time.Time `json:"updated_at"`
}

type OwnershipRegistry interface {
	GetTradeState(ctx context.Context, ticket int64) (TradeState, bool, error)
}

// TradeStateRecorder 可选能力：登记表支持写入时，保本后记录本管理器的所有权。
type TradeStateRecorder interface {
	RecordTradeState(ctx context.Context, state TradeState) error
}

type ActionType string

const (
	ActionHybridWiden  ActionType = "hybrid_widen"
	ActionBreakeven    ActionType = "breakeven"
	ActionPartialClose ActionType = "partial_close"
	ActionTrailing     ActionType = "trailing"
	ActionSelfHeal     ActionType = "self_heal"
	ActionAdoptSL      ActionType = "adopt_broker_sl"
	ActionRemoved      ActionType = "removed"
)

type ActionStatus string

const (
	StatusAttempted ActionStatus = "attempted"
	StatusSucceeded ActionStatus = "succeeded"
	StatusFailed    ActionStatus = "failed"
	StatusSkipped   ActionStatus = "skipped"
)

// MarketSnapshot 动作发生时的市场数据，写入日志用于复盘。
type MarketSnapshot struct {
	Price    float64 `json:"price"`
	Volume   float64 `json:"volume"`
	BrokerSL float64 `json:"broker_sl"`
	ATR      float64 `json:"atr,omitempty"`
	VIX      float64 `json:"vix,omitempty"`
}

type JournalEntry struct {
	ID      string         `json:"id,omitempty"`
	CycleID string         `json:"cycle_id,omitempty"`
	Ticket  int64          `json:"ticket"`
	Symbol  string         `json:"symbol"`
	Action  ActionType     `json:"action"`
	Status  ActionStatus   `json:"status"`
	Phase   Phase          `json:"phase"`
	Before  float64        `json:"before"`
	After   float64        `json:"after"`
	Reason  string         `json:"reason,omitempty"`
	Market  MarketSnapshot `json:"market"`
	At      time.Time      `json:"at"`
}

// Journal 记录动作。Record 不得阻塞调用方。
type Journal interface {
	Record(entry JournalEntry)
}

type nopJournal struct{}

func (nopJournal) Record(JournalEntry) {}

type cycleIDKey struct{}

// WithCycleID 把轮询周期 ID 放入 ctx，日志条目会带上它。
func WithCycleID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, cycleIDKey{}, id)
}

func CycleIDFrom(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(cycleIDKey{}).(string)
	return id
}
