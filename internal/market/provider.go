package market

import (
	"context"
	"fmt"

	"stopguard/internal/exit"
)

type PositionSource interface {
	GetPosition(ctx context.Context, ticket int64) (*exit.PositionSnapshot, error)
}

type ATRReader interface {
	ATR(ctx context.Context, symbol, timeframe string) (float64, error)
}

type VIXReader interface {
	VIX(ctx context.Context) (float64, error)
}

// Provider 把持仓、ATR、VIX 三个来源组合成 exit.MarketData。
type Provider struct {
	positions PositionSource
	atr       ATRReader
	vix       VIXReader
}

func NewProvider(positions PositionSource, atr ATRReader, vix VIXReader) *Provider {
	return &Provider{positions: positions, atr: atr, vix: vix}
}

func (p *Provider) GetPosition(ctx context.Context, ticket int64) (*exit.PositionSnapshot, error) {
	if p.positions == nil {
		return nil, fmt.Errorf("%w: no position source", exit.ErrBrokerUnavailable)
	}
	return p.positions.GetPosition(ctx, ticket)
}

func (p *Provider) GetATR(ctx context.Context, symbol, timeframe string) (float64, error) {
	if p.atr == nil {
		return 0, fmt.Errorf("atr source not configured")
	}
	return p.atr.ATR(ctx, symbol, timeframe)
}

func (p *Provider) GetVIX(ctx context.Context) (float64, error) {
	if p.vix == nil {
		return 0, fmt.Errorf("vix source not configured")
	}
	return p.vix.VIX(ctx)
}
