package config

import (
	"strings"
)

// 默认值常量
const (
	defaultAppEnv               = "dev"
	defaultAppLogLevel          = "info"
	defaultAppLogFormat         = "text"
	defaultAppLogPath           = "/data/logs/stopguard.log"
	defaultSchedulerInterval    = 30
	defaultSchedulerEvalTimeout = 10
	defaultExitManagerID        = "stopguard"
	defaultExitEpsilonPct       = 0.01
	defaultExitGateFailures     = 3
	defaultExitCallTimeout      = 10
	defaultBrokerAPI            = "http://mt5-bridge:8088/api"
	defaultBrokerTimeout        = 15
	defaultBrokerCircuit        = 5
	defaultBrokerCooldown       = 30
	defaultCandleSource         = "bridge"
	defaultATRPeriod            = 14
	defaultCandleTTL            = 60
	defaultVIXJSONPath          = "value"
	defaultVIXTimeout           = 5
	defaultVIXTTL               = 300
	defaultVIXStaleAfter        = 1800
	defaultBinanceREST          = "https://fapi.binance.com"
	defaultBinanceTimeout       = 15
	defaultOwnershipPath        = "/data/db/trade_state.db"
	defaultStorePath            = "/data/db/stopguard.db"
	defaultJournalBuffer        = 1024
	defaultJournalBatch         = 50
	defaultJournalFlush         = 1
	defaultHTTPAddr             = ":9992"
	defaultProfilesPath         = "configs/profiles.yaml"
)

// applyDefaults 为所有子配置应用默认值。
func (c *Config) applyDefaults(keys keySet) {
	c.App.applyDefaults(keys)
	c.Scheduler.applyDefaults(keys)
	c.Exit.applyDefaults(keys)
	c.Broker.applyDefaults(keys)
	c.Market.applyDefaults(keys)
	c.Ownership.applyDefaults(keys)
	c.Journal.applyDefaults(keys)
	c.HTTP.applyDefaults(keys)
	applyFieldDefaults(keys,
		stringFieldDefault("store.path", &c.Store.Path, defaultStorePath),
		stringFieldDefault("profiles_path", &c.ProfilesPath, defaultProfilesPath),
	)
}

func (a *AppConfig) applyDefaults(keys keySet) {
	if a == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("app.env", &a.Env, defaultAppEnv),
		stringFieldDefault("app.log_level", &a.LogLevel, defaultAppLogLevel),
		stringFieldDefault("app.log_format", &a.LogFormat, defaultAppLogFormat),
		stringFieldDefault("app.log_path", &a.LogPath, defaultAppLogPath),
	)
}

func (s *SchedulerConfig) applyDefaults(keys keySet) {
	if s == nil {
		return
	}
	applyFieldDefaults(keys,
		intFieldDefault("scheduler.interval_seconds", &s.IntervalSeconds, defaultSchedulerInterval),
		intFieldDefault("scheduler.eval_timeout_seconds", &s.EvalTimeoutSeconds, defaultSchedulerEvalTimeout),
		boolFieldDefault("scheduler.run_immediately", &s.RunImmediately, true),
	)
}

func (e *ExitConfig) applyDefaults(keys keySet) {
	if e == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("exit.manager_id", &e.ManagerID, defaultExitManagerID),
		fieldDefault{
			key:   "exit.breakeven_epsilon_pct",
			need:  func() bool { return e.BreakevenEpsilonPct <= 0 },
			apply: func() { e.BreakevenEpsilonPct = defaultExitEpsilonPct },
		},
		intFieldDefault("exit.gate_failure_limit", &e.GateFailureLimit, defaultExitGateFailures),
		intFieldDefault("exit.call_timeout_seconds", &e.CallTimeoutSeconds, defaultExitCallTimeout),
	)
}

func (b *BrokerConfig) applyDefaults(keys keySet) {
	if b == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("broker.api_url", &b.APIURL, defaultBrokerAPI),
		intFieldDefault("broker.timeout_seconds", &b.TimeoutSeconds, defaultBrokerTimeout),
		intFieldDefault("broker.circuit_threshold", &b.CircuitThreshold, defaultBrokerCircuit),
		intFieldDefault("broker.circuit_cooldown_seconds", &b.CircuitCooldownSeconds, defaultBrokerCooldown),
	)
}

func (m *MarketConfig) applyDefaults(keys keySet) {
	if m == nil {
		return
	}
	m.CandleSource = normalizeSource(m.CandleSource)
	applyFieldDefaults(keys,
		stringFieldDefault("market.candle_source", &m.CandleSource, defaultCandleSource),
		intFieldDefault("market.atr_period", &m.ATRPeriod, defaultATRPeriod),
		intFieldDefault("market.candle_ttl_seconds", &m.CandleTTLSeconds, defaultCandleTTL),
		stringFieldDefault("market.vix.json_path", &m.VIX.JSONPath, defaultVIXJSONPath),
		intFieldDefault("market.vix.timeout_seconds", &m.VIX.TimeoutSeconds, defaultVIXTimeout),
		intFieldDefault("market.vix.ttl_seconds", &m.VIX.TTLSeconds, defaultVIXTTL),
		intFieldDefault("market.vix.stale_after_seconds", &m.VIX.StaleAfterSeconds, defaultVIXStaleAfter),
		stringFieldDefault("market.binance.rest_base_url", &m.Binance.RESTBaseURL, defaultBinanceREST),
		intFieldDefault("market.binance.timeout_seconds", &m.Binance.TimeoutSeconds, defaultBinanceTimeout),
	)
}

func (o *OwnershipConfig) applyDefaults(keys keySet) {
	if o == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("ownership.path", &o.Path, defaultOwnershipPath),
	)
}

func (j *JournalConfig) applyDefaults(keys keySet) {
	if j == nil {
		return
	}
	applyFieldDefaults(keys,
		intFieldDefault("journal.buffer_size", &j.BufferSize, defaultJournalBuffer),
		intFieldDefault("journal.batch_size", &j.BatchSize, defaultJournalBatch),
		intFieldDefault("journal.flush_interval_seconds", &j.FlushIntervalSeconds, defaultJournalFlush),
	)
}

func (h *HTTPConfig) applyDefaults(keys keySet) {
	if h == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("http.addr", &h.Addr, defaultHTTPAddr),
		boolFieldDefault("http.enabled", &h.Enabled, true),
	)
}

// Helper functions

func applyFieldDefaults(keys keySet, defs ...fieldDefault) {
	for _, def := range defs {
		if def.apply == nil {
			continue
		}
		if def.key != "" && keys.isSet(def.key) {
			continue
		}
		if def.need != nil && !def.need() {
			continue
		}
		def.apply()
	}
}

func stringFieldDefault(key string, target *string, def string) fieldDefault {
	return fieldDefault{
		key: key,
		need: func() bool {
			return target != nil && strings.TrimSpace(*target) == ""
		},
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func intFieldDefault(key string, target *int, def int) fieldDefault {
	return fieldDefault{
		key:  key,
		need: func() bool { return target != nil && *target <= 0 },
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func boolFieldDefault(key string, target *bool, def bool) fieldDefault {
	return fieldDefault{
		key:  key,
		need: func() bool { return target != nil },
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}
