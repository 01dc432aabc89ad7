package binance

import (
	"strings"
	"time"
)

type Config struct {
	RESTBaseURL string
	HTTPTimeout time.Duration

	ProxyEnabled bool
	RESTProxyURL string

	// Symbols 把 broker 品种映射到交易所合约，例如 XAUUSD -> XAUUSDT。
	// 未配置的品种原样去掉 "/" 后使用。
	Symbols map[string]string
}

func (c *Config) withDefaults() Config {
	out := *c
	out.RESTBaseURL = strings.TrimSpace(out.RESTBaseURL)
	if out.RESTBaseURL == "" {
		out.RESTBaseURL = "https://fapi.binance.com"
	}
	if out.HTTPTimeout <= 0 {
		out.HTTPTimeout = 15 * time.Second
	}
	out.RESTProxyURL = strings.TrimSpace(out.RESTProxyURL)
	symbols := make(map[string]string, len(out.Symbols))
	for k, v := range out.Symbols {
		symbols[strings.ToUpper(strings.TrimSpace(k))] = strings.ToUpper(strings.TrimSpace(v))
	}
	out.Symbols = symbols
	return out
}

func (c Config) exchangeSymbol(symbol string) string {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	if mapped, ok := c.Symbols[s]; ok && mapped != "" {
		return mapped
	}
	return strings.ReplaceAll(s, "/", "")
}
