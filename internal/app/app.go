package app

import (
	"context"
	"fmt"
	"time"

	"stopguard/internal/config"
	"stopguard/internal/exit"
	"stopguard/internal/journal"
	"stopguard/internal/logger"
	"stopguard/internal/scheduler"
	apihttp "stopguard/internal/transport/http/api"

	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

// App 负责应用级编排：加载配置→初始化依赖→启动轮询与 HTTP 服务。
type App struct {
	cfg     *config.Config
	rules   *exit.Store
	poller  *scheduler.Poller
	http    *apihttp.Server
	journal *journal.Journal
	closers []closer
	Summary *StartupSummary
}

type closer struct {
	name string
	fn   func() error
}

// NewApp 根据配置构建应用对象（不启动）
func NewApp(cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)
	logger.SetFormat(cfg.App.LogFormat)
	return buildAppWithWire(context.Background(), cfg)
}

// Run 启动轮询与 HTTP 服务，ctx 结束后排空日志并关闭存储。
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}
	if a.poller == nil {
		return fmt.Errorf("poller not initialized")
	}
	defer a.Close()

	if a.Summary != nil {
		a.Summary.Print()
	}

	group, ctx := errgroup.WithContext(ctx)
	if a.http != nil {
		group.Go(func() error {
			if err := a.http.Start(ctx); err != nil {
				return fmt.Errorf("http server error: %w", err)
			}
			return nil
		})
	}
	group.Go(func() error {
		return a.poller.Start(ctx)
	})
	return group.Wait()
}

// Close 依次关闭日志与存储，可重复调用。
func (a *App) Close() {
	if a == nil {
		return
	}
	if a.journal != nil {
		shCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		if err := a.journal.Close(shCtx); err != nil {
			logger.Warnf("关闭动作日志失败: %v", err)
		}
		cancel()
		a.journal = nil
	}
	closeAll(a.closers)
	a.closers = nil
}

func (a *App) Rules() *exit.Store {
	if a == nil {
		return nil
	}
	return a.rules
}

func (a *App) Poller() *scheduler.Poller {
	if a == nil {
		return nil
	}
	return a.poller
}

func (a *App) HTTPServer() *apihttp.Server {
	if a == nil {
		return nil
	}
	return a.http
}

func closeAll(closers []closer) {
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i].fn(); err != nil {
			logger.Warnf("关闭 %s 失败: %v", closers[i].name, err)
		}
	}
}
