package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"stopguard/internal/exit"
	"stopguard/internal/market"
	"stopguard/internal/pkg/circuit"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := NewClient(Config{APIURL: srv.URL + "/api/", APIToken: "secret", CircuitThreshold: 2, CircuitCooldown: time.Minute})
	require.NoError(t, err)
	return c
}

func TestNewClient_RequiresURL(t *testing.T) {
	_, err := NewClient(Config{})
	assert.Error(t, err)
	_, err = NewClient(Config{APIURL: "bridge.local"})
	assert.Error(t, err)
}

func TestGetPosition(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/positions/1001", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		fmt.Fprint(w, `{"position":{"ticket":1001,"symbol":"XAUUSD","price_current":3951.5,"volume":0.05,"sl":3945,"tp":3960}}`)
	})
	snap, err := c.GetPosition(context.Background(), 1001)
	require.NoError(t, err)
	assert.Equal(t, &exit.PositionSnapshot{
		Ticket: 1001, Symbol: "XAUUSD", Price: 3951.5, Volume: 0.05, StopLoss: 3945, TakeProfit: 3960,
	}, snap)
}

func TestGetPosition_NotFound(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	for i := 0; i < 3; i++ {
		_, err := c.GetPosition(context.Background(), 7)
		assert.ErrorIs(t, err, exit.ErrPositionNotFound)
	}
	assert.Equal(t, circuit.StateClosed, c.BreakerState())
}

func TestGetPosition_NullPosition(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"position":null}`)
	})
	snap, err := c.GetPosition(context.Background(), 7)
	require.NoError(t, err)
	assert.Nil(t, snap)
}

func TestModifyStopLoss(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/positions/1001/modify", r.URL.Path)
		var body map[string]float64
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, 3950.0, body["sl"])
		fmt.Fprint(w, `{"ok":true}`)
	})
	res, err := c.ModifyStopLoss(context.Background(), 1001, 3950)
	require.NoError(t, err)
	assert.True(t, res.OK)
}

func TestClosePartial_Rejected(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/positions/1001/close", r.URL.Path)
		fmt.Fprint(w, `{"ok":false,"reason":"market closed"}`)
	})
	res, err := c.ClosePartial(context.Background(), 1001, 0.02)
	require.NoError(t, err)
	assert.False(t, res.OK)
	assert.Equal(t, "market closed", res.Reason)
}

func TestOrder_NotFoundBecomesRejection(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	res, err := c.ModifyStopLoss(context.Background(), 1001, 3950)
	require.NoError(t, err)
	assert.False(t, res.OK)
	assert.Contains(t, res.Reason, "not found")
}

func TestBreakerOpensOnServerErrors(t *testing.T) {
	calls := 0
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, "bridge down", http.StatusBadGateway)
	})
	for i := 0; i < 2; i++ {
		_, err := c.GetPosition(context.Background(), 1)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "bridge down")
	}
	_, err := c.GetPosition(context.Background(), 1)
	assert.ErrorIs(t, err, exit.ErrBrokerUnavailable)
	assert.Equal(t, circuit.StateOpen, c.BreakerState())
	assert.Equal(t, 2, calls)
}

func TestFetchCandles(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/candles", r.URL.Path)
		assert.Equal(t, "XAUUSD", r.URL.Query().Get("symbol"))
		assert.Equal(t, "M15", r.URL.Query().Get("timeframe"))
		assert.Equal(t, "3", r.URL.Query().Get("limit"))
		fmt.Fprint(w, `{"candles":[
			{"time":1700000000,"open":1,"high":2,"low":0.5,"close":1.5,"volume":10},
			{"time":1700000900,"open":1.5,"high":2.5,"low":1,"close":2,"volume":12}
		]}`)
	})
	tf, err := market.ParseTimeframe("M15")
	require.NoError(t, err)
	candles, err := c.FetchCandles(context.Background(), "XAUUSD", tf, 3)
	require.NoError(t, err)
	require.Len(t, candles, 2)
	assert.Equal(t, int64(1700000000000), candles[0].OpenTime)
	assert.Equal(t, 2.5, candles[1].High)
}

func TestFetchCandles_BadPayload(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data":[]}`)
	})
	tf, _ := market.ParseTimeframe("M15")
	_, err := c.FetchCandles(context.Background(), "XAUUSD", tf, 3)
	assert.Error(t, err)
}
