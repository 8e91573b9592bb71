package app

import (
	"context"
	"errors"
	"fmt"

	"tradedesk/internal/config"
	"tradedesk/internal/logger"
	"tradedesk/internal/reconcile"
	"tradedesk/internal/transport/http/api"

	"golang.org/x/sync/errgroup"
)

// App 负责应用级编排：加载配置→初始化依赖→启动 HTTP 与对账服务。
type App struct {
	cfg        *config.Config
	server     *api.Server
	reconciler *reconcile.Reconciler
	closers    []namedCloser
	Summary    *StartupSummary
}

type namedCloser struct {
	name  string
	close func() error
}

// NewApp 根据配置构建应用对象（不启动）
func NewApp(cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)
	return buildAppWithWire(context.Background(), cfg)
}

// Run 启动 HTTP 服务与事件对账，任一退出即整体退出。
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}
	if a.server == nil {
		return fmt.Errorf("http server not initialized")
	}
	defer a.Close()

	if a.Summary != nil {
		a.Summary.Print()
	}
	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		if err := a.server.Start(ctx); err != nil {
			return fmt.Errorf("http server error: %w", err)
		}
		return nil
	})
	if a.reconciler != nil {
		group.Go(func() error {
			return a.reconciler.Run(ctx)
		})
	}
	return group.Wait()
}

// Close 按构建的逆序释放资源。
func (a *App) Close() error {
	if a == nil {
		return nil
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.close(); err != nil {
			logger.Warnf("关闭 %s 失败: %v", c.name, err)
			errs = append(errs, fmt.Errorf("close %s: %w", c.name, err))
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// Reconciler exposes the event reconciler (nil when disabled).
func (a *App) Reconciler() *reconcile.Reconciler {
	if a == nil {
		return nil
	}
	return a.reconciler
}

// Server exposes the HTTP server for tests and harnesses.
func (a *App) Server() *api.Server {
	if a == nil {
		return nil
	}
	return a.server
}
