package config

import (
	"fmt"
	"net/url"
	"strings"
)

// validate 对配置进行基础校验。
func validate(c *Config) error {
	if err := c.Scheduler.validate(); err != nil {
		return err
	}
	if err := c.Exit.validate(); err != nil {
		return err
	}
	if err := c.Broker.validate(); err != nil {
		return err
	}
	if err := c.Market.validate(); err != nil {
		return err
	}
	if err := c.Ownership.validate(); err != nil {
		return err
	}
	if strings.TrimSpace(c.Store.Path) == "" {
		return fmt.Errorf("store.path cannot be empty")
	}
	if err := c.Notify.validate(); err != nil {
		return err
	}
	return nil
}

func (s *SchedulerConfig) validate() error {
	if s.IntervalSeconds <= 0 {
		return fmt.Errorf("scheduler.interval_seconds must be > 0")
	}
	if s.EvalTimeoutSeconds <= 0 {
		return fmt.Errorf("scheduler.eval_timeout_seconds must be > 0")
	}
	if s.EvalTimeoutSeconds > s.IntervalSeconds {
		return fmt.Errorf("scheduler.eval_timeout_seconds (%d) must not exceed interval_seconds (%d)",
			s.EvalTimeoutSeconds, s.IntervalSeconds)
	}
	return nil
}

func (e *ExitConfig) validate() error {
	if strings.TrimSpace(e.ManagerID) == "" {
		return fmt.Errorf("exit.manager_id cannot be empty")
	}
	if e.BreakevenEpsilonPct < 0 || e.BreakevenEpsilonPct >= 100 {
		return fmt.Errorf("exit.breakeven_epsilon_pct must be in [0,100)")
	}
	if e.GateFailureLimit <= 0 {
		return fmt.Errorf("exit.gate_failure_limit must be > 0")
	}
	if err := e.Tiers().Validate(); err != nil {
		return fmt.Errorf("exit.vix_tiers: %w", err)
	}
	return nil
}

func (b *BrokerConfig) validate() error {
	if err := validateURL("broker.api_url", b.APIURL); err != nil {
		return err
	}
	if b.TimeoutSeconds <= 0 {
		return fmt.Errorf("broker.timeout_seconds must be > 0")
	}
	return nil
}

func (m *MarketConfig) validate() error {
	switch m.CandleSource {
	case "bridge":
	case "binance":
		if err := validateURL("market.binance.rest_base_url", m.Binance.RESTBaseURL); err != nil {
			return err
		}
		if m.Binance.ProxyURL != "" {
			if err := validateURL("market.binance.proxy_url", m.Binance.ProxyURL); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("market.candle_source must be bridge or binance, got %q", m.CandleSource)
	}
	if m.ATRPeriod < 2 || m.ATRPeriod > 200 {
		return fmt.Errorf("market.atr_period must be in [2,200]")
	}
	if m.VIX.URL != "" {
		if err := validateURL("market.vix.url", m.VIX.URL); err != nil {
			return err
		}
	}
	if m.VIX.StaleAfterSeconds < m.VIX.TTLSeconds {
		return fmt.Errorf("market.vix.stale_after_seconds must be >= ttl_seconds")
	}
	if rg := m.RegimeGate; rg.Enabled {
		if rg.SlowPeriod > 0 && rg.FastPeriod > 0 && rg.SlowPeriod <= rg.FastPeriod {
			return fmt.Errorf("market.regime_gate.slow_period must be > fast_period")
		}
		if rg.CounterTrendScale < 0 {
			return fmt.Errorf("market.regime_gate.counter_trend_scale must be >= 0")
		}
	}
	return nil
}

func (o *OwnershipConfig) validate() error {
	if o.Enabled && strings.TrimSpace(o.Path) == "" {
		return fmt.Errorf("ownership.path cannot be empty when ownership is enabled")
	}
	return nil
}

func (n *NotifyConfig) validate() error {
	if n.Telegram.Enabled {
		if n.Telegram.BotToken == "" || n.Telegram.ChatID == "" {
			return fmt.Errorf("telegram notification enabled but missing bot_token or chat_id")
		}
	}
	return nil
}

func validateURL(key, raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fmt.Errorf("%s cannot be empty", key)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s is invalid: %w", key, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%s must include scheme and host: %s", key, raw)
	}
	return nil
}
