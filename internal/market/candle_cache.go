package market

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

type candleEntry struct {
	candles   []Candle
	fetchedAt time.Time
}

// CandleCache 在 TTL 内复用同一 symbol/周期/数量的 K 线，并合并并发请求。
// 多条规则共享同一品种时，一个周期只打一次上游。
type CandleCache struct {
	source CandleSource
	ttl    time.Duration
	nowFn  func() time.Time

	mu      sync.RWMutex
	entries map[string]candleEntry
	group   singleflight.Group
}

func NewCandleCache(source CandleSource, ttl time.Duration) *CandleCache {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &CandleCache{
		source:  source,
		ttl:     ttl,
		nowFn:   time.Now,
		entries: make(map[string]candleEntry),
	}
}

func (c *CandleCache) FetchCandles(ctx context.Context, symbol string, tf Timeframe, limit int) ([]Candle, error) {
	key := fmt.Sprintf("%s|%s|%d", strings.ToUpper(symbol), tf.Name, limit)
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if ok && c.nowFn().Sub(entry.fetchedAt) < c.ttl {
		return entry.candles, nil
	}
	v, err, _ := c.group.Do(key, func() (any, error) {
		candles, err := c.source.FetchCandles(ctx, symbol, tf, limit)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.entries[key] = candleEntry{candles: candles, fetchedAt: c.nowFn()}
		c.mu.Unlock()
		return candles, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]Candle), nil
}
