package market

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"stopguard/internal/exit"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingSource struct {
	calls   atomic.Int32
	candles []Candle
	err     error
}

func (s *countingSource) FetchCandles(context.Context, string, Timeframe, int) ([]Candle, error) {
	s.calls.Add(1)
	return s.candles, s.err
}

func flatCandles(n int, close float64) []Candle {
	out := make([]Candle, n)
	for i := range out {
		out[i] = Candle{OpenTime: int64(i) * 60_000, High: close + 0.5, Low: close - 0.5, Close: close}
	}
	return out
}

func trendCandles(n int, start, step float64) []Candle {
	out := make([]Candle, n)
	for i := range out {
		c := start + float64(i)*step
		out[i] = Candle{OpenTime: int64(i) * 60_000, High: c + 1, Low: c - 1, Close: c}
	}
	return out
}

func TestParseTimeframe(t *testing.T) {
	cases := map[string]struct {
		name     string
		dur      time.Duration
		interval string
	}{
		"M15": {"M15", 15 * time.Minute, "15m"},
		"m5":  {"M5", 5 * time.Minute, "5m"},
		"15m": {"M15", 15 * time.Minute, "15m"},
		"H4":  {"H4", 4 * time.Hour, "4h"},
		"1h":  {"H1", time.Hour, "1h"},
		"D1":  {"D1", 24 * time.Hour, "1d"},
		"W1":  {"W1", 7 * 24 * time.Hour, "1w"},
		"MN1": {"MN1", 30 * 24 * time.Hour, "1M"},
	}
	for raw, want := range cases {
		tf, err := ParseTimeframe(raw)
		require.NoError(t, err, raw)
		assert.Equal(t, want.name, tf.Name, raw)
		assert.Equal(t, want.dur, tf.Duration, raw)
		assert.Equal(t, want.interval, tf.BinanceInterval(), raw)
	}
	for _, bad := range []string{"", "M", "X15", "M0", "15x"} {
		_, err := ParseTimeframe(bad)
		assert.Error(t, err, bad)
	}
}

func TestDropUnclosed(t *testing.T) {
	candles := []Candle{{OpenTime: 0}, {OpenTime: 60_000}}
	now := time.UnixMilli(60_000 + 30_000)
	assert.Len(t, dropUnclosedAt(candles, time.Minute, now, 0), 1)
	later := time.UnixMilli(60_000 + 61_000)
	assert.Len(t, dropUnclosedAt(candles, time.Minute, later, 0), 2)
}

func TestComputeATR(t *testing.T) {
	atr, err := ComputeATR(flatCandles(30, 100), 14)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, atr, 1e-9)

	_, err = ComputeATR(flatCandles(10, 100), 14)
	assert.Error(t, err)
}

func TestATRServiceUsesCache(t *testing.T) {
	src := &countingSource{candles: flatCandles(42, 3950)}
	cache := NewCandleCache(src, time.Minute)
	svc := NewATRService(cache, 14)

	for i := 0; i < 3; i++ {
		atr, err := svc.ATR(context.Background(), "XAUUSD", "M15")
		require.NoError(t, err)
		assert.InDelta(t, 1.0, atr, 1e-9)
	}
	assert.Equal(t, int32(1), src.calls.Load())

	_, err := svc.ATR(context.Background(), "XAUUSD", "bogus")
	assert.Error(t, err)
}

func TestCandleCacheExpires(t *testing.T) {
	src := &countingSource{candles: flatCandles(5, 1)}
	cache := NewCandleCache(src, time.Minute)
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	cache.nowFn = func() time.Time { return now }
	tf, _ := ParseTimeframe("M1")

	_, err := cache.FetchCandles(context.Background(), "EURUSD", tf, 5)
	require.NoError(t, err)
	now = now.Add(2 * time.Minute)
	_, err = cache.FetchCandles(context.Background(), "EURUSD", tf, 5)
	require.NoError(t, err)
	assert.Equal(t, int32(2), src.calls.Load())
}

func TestCandleCacheDoesNotStoreErrors(t *testing.T) {
	src := &countingSource{err: errors.New("upstream down")}
	cache := NewCandleCache(src, time.Minute)
	tf, _ := ParseTimeframe("M1")
	_, err := cache.FetchCandles(context.Background(), "EURUSD", tf, 5)
	assert.Error(t, err)
	_, err = cache.FetchCandles(context.Background(), "EURUSD", tf, 5)
	assert.Error(t, err)
	assert.Equal(t, int32(2), src.calls.Load())
}

func TestVIXServiceParsesConfiguredPath(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte(`{"chart":{"result":[{"meta":{"regularMarketPrice":"21.4"}}]}}`))
	}))
	defer srv.Close()

	svc := NewVIXService(VIXConfig{Endpoint: srv.URL, JSONPath: "chart.result.0.meta.regularMarketPrice", TTL: time.Minute})
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := svc.VIX(context.Background())
			assert.NoError(t, err)
			assert.InDelta(t, 21.4, v, 1e-9)
		}()
	}
	wg.Wait()
	v, err := svc.VIX(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 21.4, v, 1e-9)
	assert.LessOrEqual(t, hits.Load(), int32(5))

	data, ok := svc.Get()
	assert.True(t, ok)
	assert.Empty(t, data.LastError)
}

func TestVIXServiceServesStaleValueWithinWindow(t *testing.T) {
	fail := atomic.Bool{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"value": 18.5}`))
	}))
	defer srv.Close()

	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	svc := NewVIXService(VIXConfig{Endpoint: srv.URL, TTL: time.Minute, StaleAfter: 10 * time.Minute})
	svc.nowFn = func() time.Time { return now }

	v, err := svc.VIX(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 18.5, v)

	fail.Store(true)
	now = now.Add(5 * time.Minute)
	v, err = svc.VIX(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 18.5, v)
	data, _ := svc.Get()
	assert.Contains(t, data.LastError, "502")

	now = now.Add(20 * time.Minute)
	_, err = svc.VIX(context.Background())
	assert.Error(t, err)
}

func TestVIXServiceRejectsMissingPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"other": 1}`))
	}))
	defer srv.Close()
	svc := NewVIXService(VIXConfig{Endpoint: srv.URL})
	_, err := svc.VIX(context.Background())
	assert.Error(t, err)

	_, err = NewVIXService(VIXConfig{}).VIX(context.Background())
	assert.Error(t, err)
}

func gateInput(dir exit.Direction, price, atr float64) exit.GateInput {
	return exit.GateInput{
		Rule: exit.ExitRule{
			Ticket:    1,
			Symbol:    "XAUUSD",
			Direction: dir,
			Config:    exit.RuleConfig{ATRTimeframe: "M15"},
		},
		Price: price,
		ATR:   atr,
	}
}

func TestRegimeGate(t *testing.T) {
	up := &countingSource{candles: trendCandles(120, 3900, 1)}
	gate := NewRegimeGate(up, RegimeGateConfig{FastPeriod: 10, SlowPeriod: 30, MinATRPct: 0.01})

	res, err := gate.Evaluate(context.Background(), gateInput(exit.DirectionBuy, 4019, 2))
	require.NoError(t, err)
	assert.True(t, res.Allow)
	assert.Equal(t, 1.0, res.Multiplier)

	res, err = gate.Evaluate(context.Background(), gateInput(exit.DirectionSell, 4019, 2))
	require.NoError(t, err)
	assert.True(t, res.Allow)
	assert.Equal(t, 0.75, res.Multiplier)

	res, err = gate.Evaluate(context.Background(), gateInput(exit.DirectionBuy, 4019, 0.1))
	require.NoError(t, err)
	assert.False(t, res.Allow)
}

func TestRegimeGateNeedsHistory(t *testing.T) {
	gate := NewRegimeGate(&countingSource{candles: flatCandles(5, 1)}, RegimeGateConfig{FastPeriod: 10, SlowPeriod: 30})
	_, err := gate.Evaluate(context.Background(), gateInput(exit.DirectionBuy, 1, 0.1))
	assert.Error(t, err)
}

type stubPositions struct{}

func (stubPositions) GetPosition(_ context.Context, ticket int64) (*exit.PositionSnapshot, error) {
	return &exit.PositionSnapshot{Ticket: ticket, Price: 1.1}, nil
}

type stubVIX float64

func (v stubVIX) VIX(context.Context) (float64, error) { return float64(v), nil }

func TestProviderComposesSources(t *testing.T) {
	src := &countingSource{candles: flatCandles(42, 100)}
	p := NewProvider(stubPositions{}, NewATRService(src, 14), stubVIX(19))

	pos, err := p.GetPosition(context.Background(), 9)
	require.NoError(t, err)
	assert.Equal(t, int64(9), pos.Ticket)
	vix, err := p.GetVIX(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 19.0, vix)
	atr, err := p.GetATR(context.Background(), "EURUSD", "H1")
	require.NoError(t, err)
	assert.InDelta(t, 1.0, atr, 1e-9)

	empty := NewProvider(nil, nil, nil)
	_, err = empty.GetPosition(context.Background(), 1)
	assert.ErrorIs(t, err, exit.ErrBrokerUnavailable)
	_, err = empty.GetVIX(context.Background())
	assert.Error(t, err)
}
