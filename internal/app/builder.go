package app

import (
	"context"
	"fmt"
	"os"
	"strings"

	"stopguard/internal/config"
	"stopguard/internal/exit"
	"stopguard/internal/gateway/bridge"
	"stopguard/internal/gateway/notifier"
	"stopguard/internal/journal"
	"stopguard/internal/logger"
	"stopguard/internal/market"
	"stopguard/internal/riskprofile"
	"stopguard/internal/scheduler"
	"stopguard/internal/store"
	"stopguard/internal/store/gormstore"
	apihttp "stopguard/internal/transport/http/api"
)

// Broker 同时提供持仓读取、下单与 K 线，由 bridge.Client 实现。
type Broker interface {
	market.PositionSource
	market.CandleSource
	exit.OrderModifier
}

type AppBuilder struct {
	cfg *config.Config

	storeFn     func(config.StoreConfig) (store.Store, error)
	brokerFn    func(config.BrokerConfig) (Broker, error)
	ownershipFn func(config.OwnershipConfig) (exit.OwnershipRegistry, func() error, error)
	notifierFn  func(config.NotifyConfig) notifier.TextNotifier
	profilesFn  func(string) (*riskprofile.Registry, error)
}

type AppBuilderOption func(*AppBuilder)

func NewAppBuilder(cfg *config.Config, opts ...AppBuilderOption) *AppBuilder {
	b := &AppBuilder{
		cfg:         cfg,
		storeFn:     openStore,
		brokerFn:    newBroker,
		ownershipFn: openOwnership,
		notifierFn:  newNotifier,
		profilesFn:  loadProfiles,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

func (b *AppBuilder) Build(ctx context.Context) (app *App, err error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if b.cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	cfg := b.cfg

	var closers []closer
	defer func() {
		if err != nil {
			closeAll(closers)
		}
	}()

	st, err := b.storeFn(cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("初始化规则存储失败: %w", err)
	}
	closers = append(closers, closer{name: "store", fn: st.Close})

	rules := exit.NewStore(st)
	persisted, loadErr := st.LoadRules(ctx)
	if loadErr != nil {
		logger.Warnf("部分持久化规则无法解析，已跳过: %v", loadErr)
	}
	restored := rules.Restore(persisted)
	logger.Infof("✓ 已恢复 %d 条规则", restored)

	broker, err := b.brokerFn(cfg.Broker)
	if err != nil {
		return nil, fmt.Errorf("初始化 broker 客户端失败: %w", err)
	}

	marketStack, err := buildMarketStack(cfg.Market, broker)
	if err != nil {
		return nil, err
	}

	registry, closeRegistry, err := b.ownershipFn(cfg.Ownership)
	if err != nil {
		return nil, fmt.Errorf("打开所有权登记表失败: %w", err)
	}
	if closeRegistry != nil {
		closers = append(closers, closer{name: "ownership", fn: closeRegistry})
	}
	coord := exit.NewCoordinator(registry, cfg.Exit.ManagerID, cfg.Exit.BreakevenEpsilonPct)

	note := b.notifierFn(cfg.Notify)
	jr := journal.New(st, note, journal.Config{
		BufferSize:         cfg.Journal.BufferSize,
		BatchSize:          cfg.Journal.BatchSize,
		FlushInterval:      cfg.Journal.FlushInterval(),
		NotifyFailuresOnly: cfg.Journal.NotifyFailuresOnly,
	})

	exec := exit.NewExecutor(broker, jr, coord.Guard, cfg.Exit.CallTimeout())
	evaluator := exit.NewEvaluator(exec, marketStack.Gate, cfg.Exit.Tiers(), cfg.Exit.GateFailureLimit)
	manager := exit.NewManager(rules, marketStack.Provider, coord, evaluator, exec)

	poller := scheduler.NewPoller(rules, manager, cfg.Scheduler.Interval(), cfg.Scheduler.EvalTimeout())
	poller.RunImmediately = cfg.Scheduler.RunImmediately

	profiles, err := b.profilesFn(cfg.ProfilesPath)
	if err != nil {
		_ = jr.Close(context.Background())
		return nil, fmt.Errorf("加载风险档案失败: %w", err)
	}
	profiles.OnChange(func(s riskprofile.Snapshot) {
		logger.Infof("风险档案已重载 version=%d classes=%d default=%s", s.Version, len(s.Profiles), s.DefaultClass)
	})

	var server *apihttp.Server
	if cfg.HTTP.Enabled {
		server, err = apihttp.NewServer(apihttp.ServerConfig{
			Addr:     cfg.HTTP.Addr,
			Rules:    rules,
			Profiles: profiles,
			Actions:  st,
			Cycles:   poller,
		})
		if err != nil {
			_ = jr.Close(context.Background())
			return nil, fmt.Errorf("初始化 HTTP 服务失败: %w", err)
		}
	}

	return &App{
		cfg:     cfg,
		rules:   rules,
		poller:  poller,
		http:    server,
		journal: jr,
		closers: closers,
		Summary: &StartupSummary{
			Env:           cfg.App.Env,
			ManagerID:     coord.Self(),
			RestoredRules: restored,
			Interval:      cfg.Scheduler.Interval(),
			CandleSource:  marketStack.Source,
			RegimeGate:    cfg.Market.RegimeGate.Enabled,
			Ownership:     ownershipSummary(cfg.Ownership),
			HTTPAddr:      httpSummary(cfg.HTTP),
			Profiles:      profiles.Snapshot(),
			Tiers:         cfg.Exit.Tiers(),
		},
	}, nil
}

func openStore(cfg config.StoreConfig) (store.Store, error) {
	return gormstore.NewGormStore(cfg.Path)
}

func newBroker(cfg config.BrokerConfig) (Broker, error) {
	return bridge.NewClient(bridge.Config{
		APIURL:             cfg.APIURL,
		APIToken:           cfg.APIToken,
		Timeout:            cfg.Timeout(),
		InsecureSkipVerify: cfg.InsecureSkipVerify,
		CircuitThreshold:   cfg.CircuitThreshold,
		CircuitCooldown:    cfg.CircuitCooldown(),
	})
}

// loadProfiles 文件不存在时使用内置档案，不做热加载。
func loadProfiles(path string) (*riskprofile.Registry, error) {
	path = strings.TrimSpace(path)
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			return riskprofile.NewRegistry(path)
		}
		logger.Warnf("风险档案文件 %s 不存在，使用内置档案", path)
	}
	return riskprofile.NewStatic(riskprofile.Builtin())
}

// WithStore 替换规则存储（测试用）。
func WithStore(fn func(config.StoreConfig) (store.Store, error)) AppBuilderOption {
	return func(b *AppBuilder) {
		if fn != nil {
			b.storeFn = fn
		}
	}
}

func WithBroker(fn func(config.BrokerConfig) (Broker, error)) AppBuilderOption {
	return func(b *AppBuilder) {
		if fn != nil {
			b.brokerFn = fn
		}
	}
}

func WithOwnership(fn func(config.OwnershipConfig) (exit.OwnershipRegistry, func() error, error)) AppBuilderOption {
	return func(b *AppBuilder) {
		if fn != nil {
			b.ownershipFn = fn
		}
	}
}

func WithNotifier(fn func(config.NotifyConfig) notifier.TextNotifier) AppBuilderOption {
	return func(b *AppBuilder) {
		if fn != nil {
			b.notifierFn = fn
		}
	}
}

func WithProfiles(fn func(string) (*riskprofile.Registry, error)) AppBuilderOption {
	return func(b *AppBuilder) {
		if fn != nil {
			b.profilesFn = fn
		}
	}
}
