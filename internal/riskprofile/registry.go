package riskprofile

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"stopguard/internal/exit"
	"stopguard/internal/logger"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	ClassHighVolatility = "high_volatility"
	ClassNormal         = "normal"
)

// Profile 一类品种的默认止损参数，未填的字段不覆盖。
type Profile struct {
	Name                 string   `yaml:"-"`
	Symbols              []string `yaml:"symbols"`
	BreakevenPct         *float64 `yaml:"breakeven_pct"`
	PartialPct           *float64 `yaml:"partial_pct"`
	PartialClosePct      *float64 `yaml:"partial_close_pct"`
	VIXThreshold         *float64 `yaml:"vix_threshold"`
	HybridBaseMultiplier *float64 `yaml:"hybrid_base_multiplier"`
	TrailingMultiplier   *float64 `yaml:"trailing_multiplier"`
	FallbackMultiplier   *float64 `yaml:"fallback_trailing_multiplier"`
	MinSLChangePct       *float64 `yaml:"min_sl_change_pct"`
	MinVolume            *float64 `yaml:"min_volume"`
	VolumeStep           *float64 `yaml:"volume_step"`
	ATRTimeframe         string   `yaml:"atr_timeframe"`
}

// FileConfig 映射 profiles 文件。
type FileConfig struct {
	DefaultClass string             `yaml:"default_class"`
	Classes      map[string]Profile `yaml:"symbol_classes"`
}

type Snapshot struct {
	Version      int64
	LoadedAt     time.Time
	DefaultClass string
	Profiles     map[string]Profile
	bySymbol     map[string]string
}

// ChangeListener 在 registry 重载时触发。
type ChangeListener func(Snapshot)

// Registry 按品种类别提供默认止损参数，文件变化时热加载。
type Registry struct {
	path string
	v    *viper.Viper

	mu        sync.RWMutex
	snapshot  Snapshot
	listeners []ChangeListener
}

// Builtin 未配置 profiles 文件时的默认值：黄金等高波动品种的最小止损变化更小。
func Builtin() FileConfig {
	high, normal := 0.02, 0.05
	return FileConfig{
		DefaultClass: ClassNormal,
		Classes: map[string]Profile{
			ClassHighVolatility: {Symbols: []string{"XAUUSD", "XAGUSD", "BTCUSD"}, MinSLChangePct: &high},
			ClassNormal:         {MinSLChangePct: &normal},
		},
	}
}

func NewStatic(cfg FileConfig) (*Registry, error) {
	r := &Registry{}
	if err := r.apply(cfg); err != nil {
		return nil, err
	}
	return r, nil
}

// NewRegistry 读取 profiles 文件并监听更新；文件重载失败时保留上一版。
func NewRegistry(path string) (*Registry, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("risk profile registry requires path")
	}
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read risk profiles failed: %w", err)
	}
	r := &Registry{path: path, v: v}
	if err := r.reload(); err != nil {
		return nil, err
	}
	v.OnConfigChange(func(evt fsnotify.Event) {
		if err := r.reload(); err != nil {
			logger.Errorf("risk profile reload failed: %v", err)
			return
		}
		r.notifyListeners()
	})
	v.WatchConfig()
	return r, nil
}

func (r *Registry) OnChange(fn ChangeListener) {
	r.mu.Lock()
	r.listeners = append(r.listeners, fn)
	r.mu.Unlock()
}

func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshot
}

// Resolve 优先使用显式类别，其次按品种匹配，最后回落到默认类别。
func (r *Registry) Resolve(symbol, class string) (Profile, bool) {
	r.mu.RLock()
	snap := r.snapshot
	r.mu.RUnlock()
	if name := strings.ToLower(strings.TrimSpace(class)); name != "" {
		p, ok := snap.Profiles[name]
		return p, ok
	}
	if name, ok := snap.bySymbol[strings.ToUpper(strings.TrimSpace(symbol))]; ok {
		return snap.Profiles[name], true
	}
	p, ok := snap.Profiles[snap.DefaultClass]
	return p, ok
}

// Apply 用 profile 填充 cfg 中未设置（为零）的字段。
func (p Profile) Apply(cfg exit.RuleConfig) exit.RuleConfig {
	fill := func(dst *float64, src *float64) {
		if *dst == 0 && src != nil {
			*dst = *src
		}
	}
	fill(&cfg.BreakevenPct, p.BreakevenPct)
	fill(&cfg.PartialPct, p.PartialPct)
	fill(&cfg.PartialClosePct, p.PartialClosePct)
	fill(&cfg.VIXThreshold, p.VIXThreshold)
	fill(&cfg.HybridBaseMultiplier, p.HybridBaseMultiplier)
	fill(&cfg.TrailingMultiplier, p.TrailingMultiplier)
	fill(&cfg.FallbackTrailingMultiplier, p.FallbackMultiplier)
	fill(&cfg.MinSLChangePct, p.MinSLChangePct)
	fill(&cfg.MinVolume, p.MinVolume)
	fill(&cfg.VolumeStep, p.VolumeStep)
	if strings.TrimSpace(cfg.ATRTimeframe) == "" {
		cfg.ATRTimeframe = p.ATRTimeframe
	}
	if cfg.SymbolClass == "" {
		cfg.SymbolClass = p.Name
	}
	return cfg
}

func (r *Registry) reload() error {
	cfg, err := readProfileFile(r.path)
	if err != nil {
		return err
	}
	if err := r.apply(cfg); err != nil {
		return err
	}
	logger.Infof("Risk profile registry loaded %d classes from %s", len(cfg.Classes), filepath.Base(r.path))
	return nil
}

func (r *Registry) apply(cfg FileConfig) error {
	profiles := make(map[string]Profile, len(cfg.Classes))
	bySymbol := make(map[string]string)
	names := make([]string, 0, len(cfg.Classes))
	for name := range cfg.Classes {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, raw := range names {
		p := cfg.Classes[raw]
		name := strings.ToLower(strings.TrimSpace(raw))
		if name == "" {
			return fmt.Errorf("symbol class name cannot be empty")
		}
		if err := p.validate(); err != nil {
			return fmt.Errorf("symbol class %s: %w", name, err)
		}
		p.Name = name
		for _, sym := range p.Symbols {
			sym = strings.ToUpper(strings.TrimSpace(sym))
			if sym == "" {
				continue
			}
			if prev, dup := bySymbol[sym]; dup {
				return fmt.Errorf("symbol %s listed in both %s and %s", sym, prev, name)
			}
			bySymbol[sym] = name
		}
		profiles[name] = p
	}
	def := strings.ToLower(strings.TrimSpace(cfg.DefaultClass))
	if def == "" {
		def = ClassNormal
	}
	if _, ok := profiles[def]; !ok && len(profiles) > 0 {
		return fmt.Errorf("default_class %s is not defined", def)
	}
	r.mu.Lock()
	r.snapshot = Snapshot{
		Version:      r.snapshot.Version + 1,
		LoadedAt:     time.Now(),
		DefaultClass: def,
		Profiles:     profiles,
		bySymbol:     bySymbol,
	}
	r.mu.Unlock()
	return nil
}

func (p Profile) validate() error {
	pcts := map[string]*float64{
		"breakeven_pct":     p.BreakevenPct,
		"partial_pct":       p.PartialPct,
		"partial_close_pct": p.PartialClosePct,
		"min_sl_change_pct": p.MinSLChangePct,
	}
	for name, v := range pcts {
		if v != nil && (*v < 0 || *v > 100) {
			return fmt.Errorf("%s must be within [0,100], got %v", name, *v)
		}
	}
	positives := map[string]*float64{
		"hybrid_base_multiplier":       p.HybridBaseMultiplier,
		"trailing_multiplier":          p.TrailingMultiplier,
		"fallback_trailing_multiplier": p.FallbackMultiplier,
		"min_volume":                   p.MinVolume,
		"volume_step":                  p.VolumeStep,
	}
	for name, v := range positives {
		if v != nil && *v <= 0 {
			return fmt.Errorf("%s must be > 0, got %v", name, *v)
		}
	}
	return nil
}

func (r *Registry) notifyListeners() {
	r.mu.RLock()
	snap := r.snapshot
	listeners := append([]ChangeListener(nil), r.listeners...)
	r.mu.RUnlock()
	for _, fn := range listeners {
		if fn == nil {
			continue
		}
		go func(cb ChangeListener) {
			defer safeRecover("risk profile listener")
			cb(snap)
		}(fn)
	}
}

func safeRecover(tag string) {
	if r := recover(); r != nil {
		logger.Errorf("%s panic: %v", tag, r)
	}
}

func readProfileFile(path string) (FileConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return FileConfig{}, fmt.Errorf("read risk profiles failed: %w", err)
	}
	var cfg FileConfig
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return FileConfig{}, fmt.Errorf("parse risk profiles failed: %w", err)
	}
	return cfg, nil
}
