package notifier

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"stopguard/internal/exit"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExitActionMessage_StopLoss(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	msg := ExitActionMessage(exit.JournalEntry{
		CycleID: "01J0",
		Ticket:  1001,
		Symbol:  "XAUUSD",
		Action:  exit.ActionBreakeven,
		Status:  exit.StatusSucceeded,
		Phase:   exit.PhaseBreakeven,
		Before:  3945,
		After:   3950,
		Market:  exit.MarketSnapshot{Price: 3951.5, ATR: 2.5},
		At:      at,
	})
	text := msg.RenderMarkdown()
	assert.Contains(t, text, "止损移至保本")
	assert.Contains(t, text, "- sl: 3945 -> 3950")
	assert.Contains(t, text, "- atr: 2.5")
	assert.Contains(t, text, "01J0")
	assert.NotContains(t, text, "vix")
	assert.Contains(t, text, "2026-01-02 03:04:05 UTC")
}

func TestExitActionMessage_PartialFailed(t *testing.T) {
	msg := ExitActionMessage(exit.JournalEntry{
		Ticket: 1, Symbol: "XAUUSD", Action: exit.ActionPartialClose, Status: exit.StatusFailed,
		Before: 0.05, After: 0.03, Reason: "market closed",
	})
	assert.Equal(t, "⚠️", msg.Icon)
	text := msg.RenderMarkdown()
	assert.Contains(t, text, "- volume: 0.05 -> 0.03")
	assert.Contains(t, text, "原因：market closed")
}

func TestRenderMarkdown_Truncates(t *testing.T) {
	long := make([]string, 0, 400)
	for i := 0; i < 400; i++ {
		long = append(long, "line with some words to fill the message")
	}
	body := StructuredMessage{Title: "x", Sections: []MessageSection{{Lines: long}}}.RenderMarkdown()
	assert.LessOrEqual(t, len(body), maxStructuredMessageLen+3)
}

func TestTelegram_SendTextRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/botTOKEN/sendMessage", r.URL.Path)
		var payload map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "chat", payload["chat_id"])
		if calls.Add(1) < 2 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	tg := NewTelegram("TOKEN", "chat")
	tg.BaseURL = srv.URL
	tg.Backoff = func(int) time.Duration { return time.Millisecond }
	require.NoError(t, tg.SendText(context.Background(), "hi"))
	assert.Equal(t, int32(2), calls.Load())
}

func TestTelegram_GivesUp(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()
	tg := NewTelegram("TOKEN", "chat")
	tg.BaseURL = srv.URL
	tg.Backoff = func(int) time.Duration { return 0 }
	err := tg.SendText(context.Background(), "hi")
	assert.EqualError(t, err, "telegram status=500")
}

func TestTelegram_RequiresConfig(t *testing.T) {
	assert.Error(t, NewTelegram("", "").SendText(context.Background(), "hi"))
}

func TestTelegram_ClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()
	tg := NewTelegram("TOKEN", "chat")
	tg.BaseURL = srv.URL
	tg.Backoff = func(int) time.Duration { return 0 }
	assert.EqualError(t, tg.SendText(context.Background(), "hi"), "telegram status=400")
	assert.Equal(t, int32(1), calls.Load())
}

func TestRenderMarkdown_SkipsEmptySections(t *testing.T) {
	body := StructuredMessage{
		Icon:     "✅",
		Title:    "移动止损",
		Sections: []MessageSection{{Title: "空", Lines: []string{"  "}}, {Title: "持仓", Lines: []string{"ticket: 1", "note: ```x```"}}},
		Footer:   "原因：ok",
	}.RenderMarkdown()
	assert.Equal(t, "✅ 移动止损\n\n```\n持仓\n- ticket: 1\n- note: '''x'''\n```\n\n原因：ok", body)
}
