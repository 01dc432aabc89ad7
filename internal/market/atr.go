package market

import (
	"context"
	"fmt"
	"math"

	"github.com/markcheno/go-talib"
)

const defaultATRPeriod = 14

// ComputeATR 返回最后一根 K 线的 ATR，需要至少 period+1 根。
func ComputeATR(candles []Candle, period int) (float64, error) {
	if period <= 0 {
		period = defaultATRPeriod
	}
	if len(candles) < period+1 {
		return 0, fmt.Errorf("need %d candles for ATR(%d), got %d", period+1, period, len(candles))
	}
	highs, lows, closes := splitOHLC(candles)
	series := talib.Atr(highs, lows, closes, period)
	atr := lastFinite(series)
	if !(atr > 0) {
		return 0, fmt.Errorf("ATR(%d) is not positive", period)
	}
	return atr, nil
}

func lastFinite(series []float64) float64 {
	for i := len(series) - 1; i >= 0; i-- {
		v := series[i]
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		return v
	}
	return 0
}

// ATRService 基于 CandleSource 计算 ATR。
type ATRService struct {
	source CandleSource
	period int
}

func NewATRService(source CandleSource, period int) *ATRService {
	if period <= 0 {
		period = defaultATRPeriod
	}
	return &ATRService{source: source, period: period}
}

func (s *ATRService) ATR(ctx context.Context, symbol, timeframe string) (float64, error) {
	tf, err := ParseTimeframe(timeframe)
	if err != nil {
		return 0, err
	}
	candles, err := s.source.FetchCandles(ctx, symbol, tf, s.period*3)
	if err != nil {
		return 0, fmt.Errorf("fetch %s %s candles: %w", symbol, tf.Name, err)
	}
	return ComputeATR(candles, s.period)
}
