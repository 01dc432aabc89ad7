package config

import (
	"strings"
	"time"

	"stopguard/internal/exit"
)

// Config 是 stopguard 的主配置载体。
type Config struct {
	App          AppConfig       `toml:"app"`
	Scheduler    SchedulerConfig `toml:"scheduler"`
	Exit         ExitConfig      `toml:"exit"`
	Broker       BrokerConfig    `toml:"broker"`
	Market       MarketConfig    `toml:"market"`
	Ownership    OwnershipConfig `toml:"ownership"`
	Store        StoreConfig     `toml:"store"`
	Journal      JournalConfig   `toml:"journal"`
	Notify       NotifyConfig    `toml:"notify"`
	HTTP         HTTPConfig      `toml:"http"`
	ProfilesPath string          `toml:"profiles_path"`
}

type AppConfig struct {
	Env       string `toml:"env"`
	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`
	LogPath   string `toml:"log_path"`
}

type SchedulerConfig struct {
	IntervalSeconds    int  `toml:"interval_seconds"`
	EvalTimeoutSeconds int  `toml:"eval_timeout_seconds"`
	RunImmediately     bool `toml:"run_immediately"`
}

func (s SchedulerConfig) Interval() time.Duration {
	return time.Duration(s.IntervalSeconds) * time.Second
}

func (s SchedulerConfig) EvalTimeout() time.Duration {
	return time.Duration(s.EvalTimeoutSeconds) * time.Second
}

type ExitConfig struct {
	// ManagerID 写入共享登记表的本管理器标识。
	ManagerID           string          `toml:"manager_id"`
	BreakevenEpsilonPct float64         `toml:"breakeven_epsilon_pct"`
	GateFailureLimit    int             `toml:"gate_failure_limit"`
	CallTimeoutSeconds  int             `toml:"call_timeout_seconds"`
	VIXTiers            []VIXTierConfig `toml:"vix_tiers"`
}

type VIXTierConfig struct {
	UpTo       float64 `toml:"up_to"`
	Multiplier float64 `toml:"multiplier"`
}

func (e ExitConfig) CallTimeout() time.Duration {
	return time.Duration(e.CallTimeoutSeconds) * time.Second
}

// Tiers 转换为 exit 包的档位表，未配置时使用默认档位。
func (e ExitConfig) Tiers() exit.VIXTiers {
	if len(e.VIXTiers) == 0 {
		return exit.DefaultVIXTiers()
	}
	out := make(exit.VIXTiers, 0, len(e.VIXTiers))
	for _, t := range e.VIXTiers {
		out = append(out, exit.VIXTier{UpTo: t.UpTo, Multiplier: t.Multiplier})
	}
	return out.Normalize()
}

// BrokerConfig 描述 MT5 bridge 的访问方式。
type BrokerConfig struct {
	APIURL                 string `toml:"api_url"`
	APIToken               string `toml:"api_token"`
	TimeoutSeconds         int    `toml:"timeout_seconds"`
	InsecureSkipVerify     bool   `toml:"insecure_skip_verify"`
	CircuitThreshold       int    `toml:"circuit_threshold"`
	CircuitCooldownSeconds int    `toml:"circuit_cooldown_seconds"`
}

func (b BrokerConfig) Timeout() time.Duration {
	return time.Duration(b.TimeoutSeconds) * time.Second
}

func (b BrokerConfig) CircuitCooldown() time.Duration {
	return time.Duration(b.CircuitCooldownSeconds) * time.Second
}

type MarketConfig struct {
	// CandleSource 计算 ATR 的 K 线来源：bridge | binance。
	CandleSource     string           `toml:"candle_source"`
	ATRPeriod        int              `toml:"atr_period"`
	CandleTTLSeconds int              `toml:"candle_ttl_seconds"`
	VIX              VIXConfig        `toml:"vix"`
	Binance          BinanceConfig    `toml:"binance"`
	RegimeGate       RegimeGateConfig `toml:"regime_gate"`
}

type VIXConfig struct {
	URL               string `toml:"url"`
	JSONPath          string `toml:"json_path"`
	TimeoutSeconds    int    `toml:"timeout_seconds"`
	TTLSeconds        int    `toml:"ttl_seconds"`
	StaleAfterSeconds int    `toml:"stale_after_seconds"`
}

type BinanceConfig struct {
	RESTBaseURL    string            `toml:"rest_base_url"`
	TimeoutSeconds int               `toml:"timeout_seconds"`
	ProxyURL       string            `toml:"proxy_url"`
	Symbols        map[string]string `toml:"symbols"`
}

type RegimeGateConfig struct {
	Enabled           bool    `toml:"enabled"`
	FastPeriod        int     `toml:"fast_period"`
	SlowPeriod        int     `toml:"slow_period"`
	MinATRPct         float64 `toml:"min_atr_pct"`
	CounterTrendScale float64 `toml:"counter_trend_scale"`
}

type OwnershipConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

type StoreConfig struct {
	Path string `toml:"path"`
}

type JournalConfig struct {
	BufferSize           int  `toml:"buffer_size"`
	BatchSize            int  `toml:"batch_size"`
	FlushIntervalSeconds int  `toml:"flush_interval_seconds"`
	NotifyFailuresOnly   bool `toml:"notify_failures_only"`
}

func (j JournalConfig) FlushInterval() time.Duration {
	return time.Duration(j.FlushIntervalSeconds) * time.Second
}

type NotifyConfig struct {
	Telegram TelegramConfig `toml:"telegram"`
}

type TelegramConfig struct {
	Enabled  bool   `toml:"enabled"`
	BotToken string `toml:"bot_token"`
	ChatID   string `toml:"chat_id"`
}

type HTTPConfig struct {
	Enabled bool   `toml:"enabled"`
	Addr    string `toml:"addr"`
}

func normalizeSource(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// keySet 用于追踪配置文件中显式设置的字段路径。
type keySet map[string]struct{}

func (k keySet) mark(path string) {
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return
	}
	k[path] = struct{}{}
}

func (k keySet) isSet(path string) bool {
	if len(k) == 0 {
		return false
	}
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return false
	}
	_, ok := k[path]
	return ok
}

// fieldDefault 描述单个字段的默认值设置规则。
type fieldDefault struct {
	key   string
	need  func() bool
	apply func()
}
