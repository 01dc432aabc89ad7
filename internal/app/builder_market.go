package app

import (
	"fmt"
	"time"

	"stopguard/internal/config"
	"stopguard/internal/exit"
	"stopguard/internal/gateway/binance"
	"stopguard/internal/logger"
	"stopguard/internal/market"
)

type MarketStack struct {
	Provider *market.Provider
	Gate     exit.Gate
	VIX      *market.VIXService
	Source   string
}

// buildMarketStack 组装 ATR/VIX 数据源；K 线默认走 bridge，可切换为 binance。
func buildMarketStack(cfg config.MarketConfig, broker Broker) (*MarketStack, error) {
	var source market.CandleSource = broker
	name := "bridge"
	if normalizeName(cfg.CandleSource) == "binance" {
		bn, err := binance.New(binance.Config{
			RESTBaseURL:  cfg.Binance.RESTBaseURL,
			HTTPTimeout:  seconds(cfg.Binance.TimeoutSeconds),
			ProxyEnabled: cfg.Binance.ProxyURL != "",
			RESTProxyURL: cfg.Binance.ProxyURL,
			Symbols:      cfg.Binance.Symbols,
		})
		if err != nil {
			return nil, fmt.Errorf("初始化 binance 行情源失败: %w", err)
		}
		source = bn
		name = "binance"
	}
	candles := market.NewCandleCache(source, seconds(cfg.CandleTTLSeconds))
	atr := market.NewATRService(candles, cfg.ATRPeriod)
	vix := market.NewVIXService(market.VIXConfig{
		Endpoint:   cfg.VIX.URL,
		JSONPath:   cfg.VIX.JSONPath,
		Timeout:    seconds(cfg.VIX.TimeoutSeconds),
		TTL:        seconds(cfg.VIX.TTLSeconds),
		StaleAfter: seconds(cfg.VIX.StaleAfterSeconds),
	})

	var gate exit.Gate = exit.OpenGate{}
	if cfg.RegimeGate.Enabled {
		gate = market.NewRegimeGate(candles, market.RegimeGateConfig{
			FastPeriod:        cfg.RegimeGate.FastPeriod,
			SlowPeriod:        cfg.RegimeGate.SlowPeriod,
			MinATRPct:         cfg.RegimeGate.MinATRPct,
			CounterTrendScale: cfg.RegimeGate.CounterTrendScale,
		})
		logger.Infof("✓ 移动止损行情过滤已启用 fast=%d slow=%d", cfg.RegimeGate.FastPeriod, cfg.RegimeGate.SlowPeriod)
	}
	logger.Infof("✓ 行情源=%s ATR 周期=%d VIX=%s", name, cfg.ATRPeriod, cfg.VIX.URL)
	return &MarketStack{
		Provider: market.NewProvider(broker, atr, vix),
		Gate:     gate,
		VIX:      vix,
		Source:   name,
	}, nil
}

func seconds(v int) time.Duration {
	return time.Duration(v) * time.Second
}
