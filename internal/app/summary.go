package app

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"stopguard/internal/exit"
	"stopguard/internal/riskprofile"
)

type StartupSummary struct {
	Env           string
	ManagerID     string
	RestoredRules int
	Interval      time.Duration
	CandleSource  string
	RegimeGate    bool
	Ownership     string
	HTTPAddr      string
	Profiles      riskprofile.Snapshot
	Tiers         exit.VIXTiers
}

func (s *StartupSummary) Print() {
	fmt.Print(s.String())
}

func (s *StartupSummary) String() string {
	var b strings.Builder
	b.WriteString(strings.Repeat("=", 80) + "\n")
	title := "启动配置摘要 (STARTUP SUMMARY)"
	fmt.Fprintf(&b, "%*s\n", 40+len(title)/2, title)
	b.WriteString(strings.Repeat("=", 80) + "\n")

	b.WriteString("[运行 (RUNTIME)]\n")
	fmt.Fprintf(&b, "  环境: %s\n", orDash(s.Env))
	fmt.Fprintf(&b, "  管理器: %s\n", orDash(s.ManagerID))
	fmt.Fprintf(&b, "  轮询间隔: %s\n", s.Interval)
	fmt.Fprintf(&b, "  恢复规则: %d\n", s.RestoredRules)
	fmt.Fprintf(&b, "  所有权登记: %s\n", orDash(s.Ownership))
	fmt.Fprintf(&b, "  HTTP: %s\n", orDash(s.HTTPAddr))
	b.WriteString("\n")

	b.WriteString("[行情 (MARKET)]\n")
	fmt.Fprintf(&b, "  K线来源: %s\n", orDash(s.CandleSource))
	fmt.Fprintf(&b, "  行情过滤: %v\n", s.RegimeGate)
	b.WriteString("  VIX 档位:\n")
	for _, t := range s.Tiers {
		fmt.Fprintf(&b, "    - vix <= %.2f -> x%.2f\n", t.UpTo, t.Multiplier)
	}
	b.WriteString("\n")

	b.WriteString("[风险档案 (RISK PROFILES)]\n")
	fmt.Fprintf(&b, "  默认类别: %s\n", orDash(s.Profiles.DefaultClass))
	names := make([]string, 0, len(s.Profiles.Profiles))
	for name := range s.Profiles.Profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(&b, "  > %s: %s\n", name, formatList(s.Profiles.Profiles[name].Symbols))
	}
	b.WriteString(strings.Repeat("=", 80) + "\n")
	return b.String()
}

func formatList(items []string) string {
	if len(items) == 0 {
		return "-"
	}
	return strings.Join(items, ", ")
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}
