package exit

import "context"

type GateInput struct {
	Rule  ExitRule
	Price float64
	ATR   float64
}

// GateResult Allow=false 时本周期跳过移动止损。Multiplier 缩放
// trailing_multiplier，<= 0 视为 1。
type GateResult struct {
	Allow      bool
	Multiplier float64
	Reason     string
}

// Gate 移动止损前的行情状态过滤器。
type Gate interface {
	Evaluate(ctx context.Context, in GateInput) (GateResult, error)
}

// OpenGate 总是放行。
type OpenGate struct{}

func (OpenGate) Evaluate(context.Context, GateInput) (GateResult, error) {
	return GateResult{Allow: true, Multiplier: 1}, nil
}
