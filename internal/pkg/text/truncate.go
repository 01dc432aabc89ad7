package text

import (
	"strings"
	"unicode/utf8"
)

// Truncate 去掉首尾空白后按字符截断，超出部分以 "..." 结尾。
func Truncate(s string, max int) string {
	s = strings.TrimSpace(s)
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max]) + "..."
}
