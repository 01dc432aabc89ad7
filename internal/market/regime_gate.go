package market

import (
	"context"
	"fmt"

	"stopguard/internal/exit"

	"github.com/markcheno/go-talib"
)

type RegimeGateConfig struct {
	FastPeriod int
	SlowPeriod int
	// MinATRPct ATR 占价格的百分比低于该值时视为死水行情，不移动止损。
	MinATRPct float64
	// CounterTrendScale 均线与持仓方向相反时对移动止损系数的缩放，<1 表示收得更紧。
	CounterTrendScale float64
}

func (c RegimeGateConfig) withDefaults() RegimeGateConfig {
	out := c
	if out.FastPeriod <= 0 {
		out.FastPeriod = 20
	}
	if out.SlowPeriod <= out.FastPeriod {
		out.SlowPeriod = out.FastPeriod * 5 / 2
	}
	if out.CounterTrendScale <= 0 {
		out.CounterTrendScale = 0.75
	}
	return out
}

// RegimeGate 用 EMA 快慢线判断趋势方向，用 ATR 占比过滤低波动行情。
type RegimeGate struct {
	source CandleSource
	cfg    RegimeGateConfig
}

func NewRegimeGate(source CandleSource, cfg RegimeGateConfig) *RegimeGate {
	return &RegimeGate{source: source, cfg: cfg.withDefaults()}
}

func (g *RegimeGate) Evaluate(ctx context.Context, in exit.GateInput) (exit.GateResult, error) {
	tf, err := ParseTimeframe(in.Rule.Config.ATRTimeframe)
	if err != nil {
		return exit.GateResult{}, err
	}
	candles, err := g.source.FetchCandles(ctx, in.Rule.Symbol, tf, g.cfg.SlowPeriod*2)
	if err != nil {
		return exit.GateResult{}, fmt.Errorf("regime gate candles: %w", err)
	}
	if len(candles) < g.cfg.SlowPeriod {
		return exit.GateResult{}, fmt.Errorf("regime gate needs %d candles, got %d", g.cfg.SlowPeriod, len(candles))
	}
	if in.Price > 0 && g.cfg.MinATRPct > 0 {
		if atrPct := in.ATR / in.Price * 100; atrPct < g.cfg.MinATRPct {
			return exit.GateResult{
				Allow:  false,
				Reason: fmt.Sprintf("atr %.4f%% of price below floor %.4f%%", atrPct, g.cfg.MinATRPct),
			}, nil
		}
	}
	_, _, closes := splitOHLC(candles)
	fast := lastFinite(talib.Ema(closes, g.cfg.FastPeriod))
	slow := lastFinite(talib.Ema(closes, g.cfg.SlowPeriod))
	if fast <= 0 || slow <= 0 {
		return exit.GateResult{}, fmt.Errorf("regime gate ema not ready")
	}
	aligned := fast >= slow
	if !in.Rule.Direction.IsBuy() {
		aligned = fast <= slow
	}
	if aligned {
		return exit.GateResult{Allow: true, Multiplier: 1, Reason: "trend aligned"}, nil
	}
	return exit.GateResult{
		Allow:      true,
		Multiplier: g.cfg.CounterTrendScale,
		Reason:     fmt.Sprintf("counter trend ema%d=%.5f ema%d=%.5f", g.cfg.FastPeriod, fast, g.cfg.SlowPeriod, slow),
	}, nil
}
