package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

const (
	// EnvConfigPath 未通过 --config 指定时读取的环境变量。
	EnvConfigPath     = "STOPGUARD_CONFIG"
	defaultConfigPath = "configs/config.yaml"
)

// secretEnv 凭据优先从环境变量读取，避免写进配置文件。
var secretEnv = []struct {
	env    string
	target func(*Config) *string
}{
	{"STOPGUARD_BROKER_TOKEN", func(c *Config) *string { return &c.Broker.APIToken }},
	{"STOPGUARD_TELEGRAM_TOKEN", func(c *Config) *string { return &c.Notify.Telegram.BotToken }},
	{"STOPGUARD_TELEGRAM_CHAT_ID", func(c *Config) *string { return &c.Notify.Telegram.ChatID }},
}

// ResolvePath 优先使用命令行参数，其次环境变量，最后是默认路径。
func ResolvePath(flagValue string) string {
	if p := strings.TrimSpace(flagValue); p != "" {
		return p
	}
	if p := strings.TrimSpace(os.Getenv(EnvConfigPath)); p != "" {
		return p
	}
	return defaultConfigPath
}

// Load 读取配置文件及其 include 链，后加载的文件覆盖先加载的，最后补默认值并校验。
func Load(path string) (*Config, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("config path cannot be empty")
	}
	root, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	chain := &includeChain{done: map[string]bool{}, active: map[string]bool{}}
	if err := chain.walk(root); err != nil {
		return nil, err
	}

	merged := viper.New()
	merged.SetConfigType("yaml")
	for _, file := range chain.order {
		settings, err := readSettings(file)
		if err != nil {
			return nil, fmt.Errorf("reading config file failed (%s): %w", file, err)
		}
		delete(settings, "include")
		if err := merged.MergeConfigMap(settings); err != nil {
			return nil, fmt.Errorf("merging config file failed (%s): %w", file, err)
		}
	}

	var cfg Config
	decode := func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "toml"
		dc.WeaklyTypedInput = true
	}
	if err := merged.Unmarshal(&cfg, decode); err != nil {
		return nil, fmt.Errorf("parsing config failed: %w", err)
	}
	keys := make(keySet)
	markKeys("", merged.AllSettings(), keys)
	cfg.applyDefaults(keys)
	for _, s := range secretEnv {
		if v := strings.TrimSpace(os.Getenv(s.env)); v != "" {
			*s.target(&cfg) = v
		}
	}
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// includeChain 深度优先展开 include，order 中被包含的文件排在包含者之前。
type includeChain struct {
	order  []string
	done   map[string]bool
	active map[string]bool
}

func (c *includeChain) walk(path string) error {
	path = filepath.Clean(path)
	switch {
	case c.active[path]:
		return fmt.Errorf("include cycle detected: %s", path)
	case c.done[path]:
		return nil
	}
	c.active[path] = true
	defer delete(c.active, path)

	settings, err := readSettings(path)
	if err != nil {
		return fmt.Errorf("parsing include failed (%s): %w", path, err)
	}
	includes, err := includeList(settings["include"])
	if err != nil {
		return fmt.Errorf("parsing include failed (%s): %w", path, err)
	}
	for _, inc := range includes {
		if !filepath.IsAbs(inc) {
			inc = filepath.Join(filepath.Dir(path), inc)
		}
		if err := c.walk(inc); err != nil {
			return err
		}
	}
	c.done[path] = true
	c.order = append(c.order, path)
	return nil
}

func readSettings(path string) (map[string]any, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	return v.AllSettings(), nil
}

func includeList(raw any) ([]string, error) {
	var items []string
	switch val := raw.(type) {
	case nil:
		return nil, nil
	case string:
		items = []string{val}
	case []string:
		items = val
	case []any:
		for _, item := range val {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("include only supports strings")
			}
			items = append(items, s)
		}
	default:
		return nil, fmt.Errorf("include must be a string array")
	}
	out := items[:0:0]
	for _, s := range items {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out, nil
}

// markKeys 记录文件中显式出现的字段路径（小写，点号分隔）。
func markKeys(prefix string, node any, dest keySet) {
	var children map[string]any
	switch val := node.(type) {
	case map[string]any:
		children = val
	case map[any]any:
		children = make(map[string]any, len(val))
		for k, v := range val {
			if ks, ok := k.(string); ok {
				children[ks] = v
			}
		}
	default:
		dest.mark(prefix)
		return
	}
	for k, v := range children {
		key := strings.ToLower(strings.TrimSpace(k))
		if key == "" {
			continue
		}
		if prefix != "" {
			key = prefix + "." + key
		}
		markKeys(key, v, dest)
	}
}
