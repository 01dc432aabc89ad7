package notifier

import (
	"fmt"
	"strconv"

	"stopguard/internal/exit"
	"stopguard/internal/pkg/text"
)

const maxReasonLen = 300

var actionTitles = map[exit.ActionType]string{
	exit.ActionHybridWiden:  "VIX 放宽止损",
	exit.ActionBreakeven:    "止损移至保本",
	exit.ActionPartialClose: "部分平仓",
	exit.ActionTrailing:     "移动止损",
	exit.ActionSelfHeal:     "保本状态自愈",
	exit.ActionAdoptSL:      "采用 broker 止损",
	exit.ActionRemoved:      "规则已移除",
}

// ExitActionMessage 把一条止损动作日志渲染成推送消息。
func ExitActionMessage(entry exit.JournalEntry) StructuredMessage {
	icon := "✅"
	switch entry.Status {
	case exit.StatusFailed:
		icon = "⚠️"
	case exit.StatusSkipped:
		icon = "⏭"
	}
	title := actionTitles[entry.Action]
	if title == "" {
		title = string(entry.Action)
	}
	lines := []string{
		"ticket: " + strconv.FormatInt(entry.Ticket, 10),
		"symbol: " + entry.Symbol,
		"phase: " + entry.Phase.String(),
		"status: " + string(entry.Status),
	}
	change := fmt.Sprintf("%s -> %s", formatNumber(entry.Before), formatNumber(entry.After))
	if entry.Action == exit.ActionPartialClose {
		lines = append(lines, "volume: "+change)
	} else if entry.Action != exit.ActionRemoved {
		lines = append(lines, "sl: "+change)
	}
	market := []string{"price: " + formatNumber(entry.Market.Price)}
	if entry.Market.ATR > 0 {
		market = append(market, "atr: "+formatNumber(entry.Market.ATR))
	}
	if entry.Market.VIX > 0 {
		market = append(market, "vix: "+formatNumber(entry.Market.VIX))
	}
	msg := StructuredMessage{
		Icon:  icon,
		Title: title,
		Sections: []MessageSection{
			{Title: "持仓", Lines: lines},
			{Title: "行情", Lines: market},
		},
		Timestamp: entry.At,
	}
	if entry.Reason != "" {
		msg.Footer = "原因：" + text.Truncate(entry.Reason, maxReasonLen)
	}
	if entry.CycleID != "" {
		msg.Sections = append(msg.Sections, MessageSection{Title: "周期", Lines: []string{entry.CycleID}})
	}
	return msg
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
