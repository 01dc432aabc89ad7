package apihttp

import (
	"fmt"
	"io"

	"stopguard/internal/exit"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
)

const (
	colorStop  = "#ef4444"
	colorPrice = "#3b82f6"
	colorEntry = "#a3a3a3"
)

// renderStopChart 画出成功执行的止损调整与当时价格。
func renderStopChart(w io.Writer, ticket int64, rule exit.ExitRule, entries []exit.JournalEntry) error {
	var (
		xAxis  []string
		stops  []opts.LineData
		prices []opts.LineData
		entry  []opts.LineData
	)
	for _, e := range entries {
		if e.Status != exit.StatusSucceeded || !movesStop(e.Action) {
			continue
		}
		xAxis = append(xAxis, e.At.UTC().Format("01-02 15:04:05"))
		stops = append(stops, opts.LineData{Value: e.After, Name: string(e.Action)})
		prices = append(prices, opts.LineData{Value: e.Market.Price})
		if rule.EntryPrice > 0 {
			entry = append(entry, opts.LineData{Value: rule.EntryPrice})
		}
	}

	line := charts.NewLine()
	subtitle := "no stop adjustments yet"
	if rule.Ticket != 0 {
		subtitle = fmt.Sprintf("%s %s phase=%s", rule.Symbol, rule.Direction, rule.Phase)
	}
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: fmt.Sprintf("ticket %d", ticket), Width: "1100px", Height: "480px"}),
		charts.WithTitleOpts(opts.Title{Title: fmt.Sprintf("Stop loss history #%d", ticket), Subtitle: subtitle}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithYAxisOpts(opts.YAxis{Scale: opts.Bool(true)}),
	)
	line.SetXAxis(xAxis).
		AddSeries("stop loss", stops, charts.WithLineStyleOpts(opts.LineStyle{Color: colorStop, Width: 2})).
		AddSeries("price", prices, charts.WithLineStyleOpts(opts.LineStyle{Color: colorPrice, Width: 1}))
	if len(entry) > 0 {
		line.AddSeries("entry", entry, charts.WithLineStyleOpts(opts.LineStyle{Color: colorEntry, Type: "dashed"}))
	}
	return line.Render(w)
}

func movesStop(action exit.ActionType) bool {
	switch action {
	case exit.ActionHybridWiden, exit.ActionBreakeven, exit.ActionTrailing, exit.ActionSelfHeal, exit.ActionAdoptSL:
		return true
	default:
		return false
	}
}
