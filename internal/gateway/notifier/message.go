package notifier

import (
	"strings"
	"time"

	"stopguard/internal/pkg/text"
)

// Telegram 单条消息上限 4096 字符，预留给 Markdown 标记。
const maxStructuredMessageLen = 3800

type MessageSection struct {
	Title string
	Lines []string
}

// StructuredMessage 推送消息：标题行、若干段落（放在同一个代码块中）、脚注与时间。
type StructuredMessage struct {
	Icon      string
	Title     string
	Sections  []MessageSection
	Footer    string
	Timestamp time.Time
}

func (m StructuredMessage) RenderMarkdown() string {
	parts := make([]string, 0, 4)
	if header := strings.TrimSpace(m.Icon + " " + m.Title); header != "" {
		parts = append(parts, header)
	}
	if block := m.renderSections(); block != "" {
		parts = append(parts, block)
	}
	var tail []string
	if footer := strings.TrimSpace(m.Footer); footer != "" {
		tail = append(tail, escapeFence(footer))
	}
	if !m.Timestamp.IsZero() {
		tail = append(tail, "时间："+m.Timestamp.Format("2006-01-02 15:04:05 MST"))
	}
	if len(tail) > 0 {
		parts = append(parts, strings.Join(tail, "\n"))
	}
	return text.Truncate(strings.Join(parts, "\n\n"), maxStructuredMessageLen)
}

func (m StructuredMessage) renderSections() string {
	blocks := make([]string, 0, len(m.Sections))
	for _, sec := range m.Sections {
		var b strings.Builder
		for _, line := range sec.Lines {
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			b.WriteString("- " + escapeFence(line) + "\n")
		}
		if b.Len() == 0 {
			continue
		}
		if title := strings.TrimSpace(sec.Title); title != "" {
			blocks = append(blocks, escapeFence(title)+"\n"+b.String())
		} else {
			blocks = append(blocks, b.String())
		}
	}
	if len(blocks) == 0 {
		return ""
	}
	return "```\n" + strings.Join(blocks, "\n") + "```"
}

// escapeFence 防止内容提前闭合代码块。
func escapeFence(s string) string {
	return strings.ReplaceAll(s, "```", "'''")
}
