package market

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Timeframe 统一 MT5 风格（M15、H1、D1）与交易所风格（15m、1h、1d）的周期写法。
type Timeframe struct {
	Name     string
	Duration time.Duration
}

// ParseTimeframe 接受 "M15"、"H4"、"D1"、"W1"、"MN1" 以及 "15m"、"1h"、"1d"、"1w"。
func ParseTimeframe(raw string) (Timeframe, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Timeframe{}, fmt.Errorf("timeframe is required")
	}
	upper := strings.ToUpper(s)
	if strings.HasPrefix(upper, "MN") {
		n, err := positiveInt(upper[2:])
		if err != nil {
			return Timeframe{}, fmt.Errorf("invalid timeframe %q", raw)
		}
		return Timeframe{Name: fmt.Sprintf("MN%d", n), Duration: time.Duration(n) * 30 * 24 * time.Hour}, nil
	}
	units := map[byte]time.Duration{
		'M': time.Minute,
		'H': time.Hour,
		'D': 24 * time.Hour,
		'W': 7 * 24 * time.Hour,
	}
	if unit, ok := units[upper[0]]; ok {
		if n, err := positiveInt(upper[1:]); err == nil {
			return Timeframe{Name: fmt.Sprintf("%c%d", upper[0], n), Duration: time.Duration(n) * unit}, nil
		}
	}
	lower := strings.ToLower(s)
	suffix := map[byte]byte{'m': 'M', 'h': 'H', 'd': 'D', 'w': 'W'}
	if prefix, ok := suffix[lower[len(lower)-1]]; ok {
		if n, err := positiveInt(lower[:len(lower)-1]); err == nil {
			return Timeframe{Name: fmt.Sprintf("%c%d", prefix, n), Duration: time.Duration(n) * units[prefix]}, nil
		}
	}
	return Timeframe{}, fmt.Errorf("invalid timeframe %q", raw)
}

// BinanceInterval 返回交易所 K 线周期写法，例如 M15 -> 15m。
func (tf Timeframe) BinanceInterval() string {
	if tf.Name == "" {
		return ""
	}
	if strings.HasPrefix(tf.Name, "MN") {
		return tf.Name[2:] + "M"
	}
	return tf.Name[1:] + strings.ToLower(tf.Name[:1])
}

func positiveInt(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, fmt.Errorf("must be positive")
	}
	return n, nil
}
