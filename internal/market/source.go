package market

import "context"

// CandleSource 拉取指定周期的历史 K 线，按时间升序返回。
type CandleSource interface {
	FetchCandles(ctx context.Context, symbol string, tf Timeframe, limit int) ([]Candle, error)
}

type SourceStats struct {
	Requests  int
	Errors    int
	LastError string
}
