package apihttp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"stopguard/internal/exit"
	"stopguard/internal/riskprofile"
	"stopguard/internal/scheduler"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeActions struct {
	entries []exit.JournalEntry
	limit   int
	err     error
}

func (f *fakeActions) ListActions(_ context.Context, ticket int64, limit int) ([]exit.JournalEntry, error) {
	f.limit = limit
	if f.err != nil {
		return nil, f.err
	}
	var out []exit.JournalEntry
	for _, e := range f.entries {
		if e.Ticket == ticket {
			out = append(out, e)
		}
	}
	return out, nil
}

type fakeCycles struct {
	busy bool
}

func (f *fakeCycles) RunOnce(context.Context) (scheduler.CycleReport, bool) {
	if f.busy {
		return scheduler.CycleReport{}, false
	}
	return scheduler.CycleReport{ID: "cycle-1", Total: 2, Managed: 1, Deferred: 1}, true
}

type testEnv struct {
	store   *exit.Store
	actions *fakeActions
	cycles  *fakeCycles
	handler http.Handler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	profiles, err := riskprofile.NewStatic(riskprofile.Builtin())
	require.NoError(t, err)
	env := &testEnv{
		store:   exit.NewStore(nil),
		actions: &fakeActions{},
		cycles:  &fakeCycles{},
	}
	srv, err := NewServer(ServerConfig{
		Rules:    env.store,
		Profiles: profiles,
		Actions:  env.actions,
		Cycles:   env.cycles,
	})
	require.NoError(t, err)
	env.handler = srv.Handler()
	return env
}

func (e *testEnv) do(method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

const goldRule = `{
	"ticket": 1001,
	"symbol": "xauusd",
	"direction": "buy",
	"entry_price": 3950,
	"initial_sl": 3945,
	"initial_tp": 3965,
	"config": {"breakeven_pct": 30, "partial_pct": 60, "partial_close_pct": 40, "vix_threshold": 20, "trailing_multiplier": 1.5}
}`

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestCreateRule_AppliesProfile(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(http.MethodPost, "/api/rules", goldRule)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	body := decode(t, rec)
	assert.EqualValues(t, 1001, body["ticket"])

	rule, ok := env.store.Get(1001)
	require.True(t, ok)
	assert.Equal(t, "XAUUSD", rule.Symbol)
	assert.Equal(t, exit.DirectionBuy, rule.Direction)
	assert.Equal(t, riskprofile.ClassHighVolatility, rule.Config.SymbolClass)
	assert.Equal(t, 0.02, rule.Config.MinSLChangePct)
	assert.True(t, rule.Config.TrailingEnabled)
	assert.Equal(t, 5.0, rule.Risk)
	assert.Equal(t, 15.0, rule.PotentialProfit)
}

func TestCreateRule_ExplicitValuesWin(t *testing.T) {
	env := newTestEnv(t)
	payload := strings.Replace(goldRule, `"trailing_multiplier": 1.5`,
		`"trailing_multiplier": 1.5, "min_sl_change_pct": 0.1, "trailing_enabled": false`, 1)
	rec := env.do(http.MethodPost, "/api/rules", payload)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	rule, _ := env.store.Get(1001)
	assert.Equal(t, 0.1, rule.Config.MinSLChangePct)
	assert.False(t, rule.Config.TrailingEnabled)
}

func TestCreateRule_Errors(t *testing.T) {
	cases := []struct {
		name   string
		body   string
		status int
	}{
		{"malformed json", `{"ticket":`, http.StatusBadRequest},
		{"unknown field", strings.Replace(goldRule, `"ticket": 1001,`, `"ticket": 1001, "magic": 1,`, 1), http.StatusBadRequest},
		{"missing config", `{"ticket":1,"symbol":"EURUSD","direction":"BUY","entry_price":1.1,"initial_sl":1.09,"initial_tp":1.12}`, http.StatusBadRequest},
		{"bad direction", strings.Replace(goldRule, `"buy"`, `"up"`, 1), http.StatusBadRequest},
		{"unknown class", strings.Replace(goldRule, `"trailing_multiplier": 1.5`, `"trailing_multiplier": 1.5, "symbol_class": "exotic"`, 1), http.StatusBadRequest},
		{"sl on profit side", strings.Replace(goldRule, `"initial_sl": 3945`, `"initial_sl": 3955`, 1), http.StatusUnprocessableEntity},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv(t)
			rec := env.do(http.MethodPost, "/api/rules", tc.body)
			assert.Equal(t, tc.status, rec.Code, rec.Body.String())
			assert.Contains(t, decode(t, rec), "error")
			assert.Equal(t, 0, len(env.store.SnapshotActive()))
		})
	}
}

func TestCreateRule_Duplicate(t *testing.T) {
	env := newTestEnv(t)
	require.Equal(t, http.StatusCreated, env.do(http.MethodPost, "/api/rules", goldRule).Code)
	rec := env.do(http.MethodPost, "/api/rules", goldRule)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestRuleLifecycle(t *testing.T) {
	env := newTestEnv(t)
	require.Equal(t, http.StatusCreated, env.do(http.MethodPost, "/api/rules", goldRule).Code)

	rec := env.do(http.MethodGet, "/api/rules", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, decode(t, rec)["count"])

	rec = env.do(http.MethodGet, "/api/rules?symbol=eurusd", "")
	assert.EqualValues(t, 0, decode(t, rec)["count"])

	rec = env.do(http.MethodGet, "/api/rules/1001", "")
	require.Equal(t, http.StatusOK, rec.Code)
	view := decode(t, rec)
	assert.Equal(t, "INIT", view["phase"])
	assert.Equal(t, false, view["breakeven_triggered"])

	assert.Equal(t, http.StatusNotFound, env.do(http.MethodGet, "/api/rules/2", "").Code)
	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodGet, "/api/rules/abc", "").Code)

	assert.Equal(t, http.StatusNoContent, env.do(http.MethodDelete, "/api/rules/1001", "").Code)
	assert.Equal(t, http.StatusNotFound, env.do(http.MethodDelete, "/api/rules/1001", "").Code)
}

func TestRuleJournal(t *testing.T) {
	env := newTestEnv(t)
	at := time.UnixMilli(1_700_000_000_000).UTC()
	env.actions.entries = []exit.JournalEntry{
		{Ticket: 1001, Action: exit.ActionBreakeven, Status: exit.StatusSucceeded, Before: 3945, After: 3950, At: at},
		{Ticket: 7, Action: exit.ActionRemoved, Status: exit.StatusSucceeded, At: at},
	}
	rec := env.do(http.MethodGet, "/api/rules/1001/journal?limit=5000", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, decode(t, rec)["count"])
	assert.Equal(t, maxJournal, env.actions.limit)

	env.actions.err = errors.New("db locked")
	rec = env.do(http.MethodGet, "/api/rules/1001/journal", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestRuleChart(t *testing.T) {
	env := newTestEnv(t)
	require.Equal(t, http.StatusCreated, env.do(http.MethodPost, "/api/rules", goldRule).Code)
	at := time.UnixMilli(1_700_000_000_000).UTC()
	env.actions.entries = []exit.JournalEntry{
		{Ticket: 1001, Action: exit.ActionBreakeven, Status: exit.StatusSucceeded, Before: 3945, After: 3950,
			Market: exit.MarketSnapshot{Price: 3951}, At: at},
		{Ticket: 1001, Action: exit.ActionTrailing, Status: exit.StatusFailed, After: 3953, At: at.Add(time.Minute)},
	}
	rec := env.do(http.MethodGet, "/api/rules/1001/chart", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), "echarts")
	assert.Contains(t, rec.Body.String(), "Stop loss history #1001")
}

func TestRunCycle(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(http.MethodPost, "/api/cycle", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "cycle-1", decode(t, rec)["id"])

	env.cycles.busy = true
	assert.Equal(t, http.StatusConflict, env.do(http.MethodPost, "/api/cycle", "").Code)
}

func TestMissingOptionalDependencies(t *testing.T) {
	srv, err := NewServer(ServerConfig{Rules: exit.NewStore(nil)})
	require.NoError(t, err)
	for _, path := range []string{"/api/rules/1/journal", "/api/cycle"} {
		method := http.MethodGet
		if path == "/api/cycle" {
			method = http.MethodPost
		}
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest(method, path, nil))
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code, path)
	}
}

func TestHealthAndRequestID(t *testing.T) {
	env := newTestEnv(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(requestIDHeader, "req-42")
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "req-42", rec.Header().Get(requestIDHeader))
	assert.Equal(t, "ok", decode(t, rec)["status"])

	rec = env.do(http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(requestIDHeader))
}

func TestNewServer_RequiresRules(t *testing.T) {
	_, err := NewServer(ServerConfig{})
	assert.Error(t, err)
}
