package app

import (
	"context"
	"fmt"

	"tradedesk/internal/commission"
	"tradedesk/internal/config"
	"tradedesk/internal/deadletter"
	"tradedesk/internal/gateway/events"
	"tradedesk/internal/ledger"
	"tradedesk/internal/logger"
	"tradedesk/internal/order"
	"tradedesk/internal/reconcile"
	"tradedesk/internal/store/sqlite"
	"tradedesk/internal/transport/http/api"
)

// lifecyclePublisher 是带关闭能力的事件发布器。
type lifecyclePublisher interface {
	ledger.EventPublisher
	Close() error
}

type AppBuilder struct {
	cfg *config.Config

	storeFn      func(config.StoreConfig) (*sqlite.SqliteStore, error)
	quotesFn     func(config.MarketConfig, config.BrokerConfig) (order.QuoteService, error)
	brokerFn     func(config.BrokerConfig) (ledger.Broker, error)
	publisherFn  func(config.PublisherConfig) (lifecyclePublisher, error)
	deadLetterFn func(config.ReconcileConfig) (deadletter.Store, error)
	sourcesFn    func(config.BrokerConfig, config.ReconcileConfig, events.CursorReader) ([]reconcile.Source, error)
	serverFn     func(config.AppConfig, api.ServerConfig) (*api.Server, error)
}

type AppBuilderOption func(*AppBuilder)

// WithBroker 替换券商网关（测试或回放时使用）。
func WithBroker(fn func(config.BrokerConfig) (ledger.Broker, error)) AppBuilderOption {
	return func(b *AppBuilder) { b.brokerFn = fn }
}

// WithQuotes 替换行情服务。
func WithQuotes(fn func(config.MarketConfig, config.BrokerConfig) (order.QuoteService, error)) AppBuilderOption {
	return func(b *AppBuilder) { b.quotesFn = fn }
}

// WithSources 替换事件流来源。
func WithSources(fn func(config.BrokerConfig, config.ReconcileConfig, events.CursorReader) ([]reconcile.Source, error)) AppBuilderOption {
	return func(b *AppBuilder) { b.sourcesFn = fn }
}

func NewAppBuilder(cfg *config.Config, opts ...AppBuilderOption) *AppBuilder {
	b := &AppBuilder{
		cfg:          cfg,
		storeFn:      openStore,
		quotesFn:     buildQuotes,
		brokerFn:     buildBroker,
		publisherFn:  buildPublisher,
		deadLetterFn: openDeadLetters,
		sourcesFn:    buildSources,
		serverFn:     buildHTTPServer,
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
	logger.SetLevel(cfg.App.LogLevel)

	app = &App{cfg: cfg}
	defer func() {
		if err != nil {
			_ = app.Close()
			app = nil
		}
	}()

	st, err := b.storeFn(cfg.Store)
	if err != nil {
		return nil, err
	}
	app.closers = append(app.closers, namedCloser{"ledger store", st.Close})
	logger.Infof("✓ 账本数据库已就绪: %s", cfg.Store.Path)

	table := commission.NewTable(st.Commissions(), commission.Rates{
		Platform:       cfg.Commission.Defaults.Platform,
		ReferringAgent: cfg.Commission.Defaults.ReferringAgent,
	}, cfg.Commission.CacheTTL())
	seeder, err := seedCommissions(ctx, cfg.Commission, table)
	if err != nil {
		return nil, err
	}

	quotes, err := b.quotesFn(cfg.Market, cfg.Broker)
	if err != nil {
		return nil, err
	}
	brokerGW, err := b.brokerFn(cfg.Broker)
	if err != nil {
		return nil, err
	}
	pub, err := b.publisherFn(cfg.Publisher)
	if err != nil {
		return nil, err
	}
	app.closers = append(app.closers, namedCloser{"publisher", pub.Close})

	svc := ledger.NewService(
		st,
		ledger.NewAccountDirectory(st.Accounts()),
		order.NewFactory(quotes, cfg.Market.QuoteTimeout()),
		commission.NewCalculator(table),
		brokerGW,
		pub,
		ledger.Options{
			EnforceBalance:  cfg.Ledger.EnforceBalance,
			EnforceHoldings: cfg.Ledger.EnforceHoldings,
			LockStripes:     cfg.Ledger.LockStripes,
		},
	)

	var (
		streams     api.StreamReporter
		deadLetters api.DeadLetterReader
		streamNames []string
	)
	if cfg.Reconcile.Enabled {
		dead, err := b.deadLetterFn(cfg.Reconcile)
		if err != nil {
			return nil, err
		}
		app.closers = append(app.closers, namedCloser{"dead letters", dead.Close})

		sources, err := b.sourcesFn(cfg.Broker, cfg.Reconcile, st.Cursors())
		if err != nil {
			return nil, err
		}
		registry := reconcile.NewHandlerRegistry()
		registry.RegisterDefaultHandlers(svc)
		app.reconciler = reconcile.NewReconciler(registry, st.Cursors(), dead, reconcile.Options{
			NotFoundRetries: cfg.Reconcile.NotFoundRetries,
			NotFoundDelay:   cfg.Reconcile.NotFoundDelay(),
		}, sources...)
		streams = app.reconciler
		deadLetters = dead
		for _, src := range sources {
			streamNames = append(streamNames, src.Stream())
		}
	} else {
		logger.Warnf("reconcile.enabled=false，订单状态不会随券商事件推进")
	}

	app.server, err = b.serverFn(cfg.App, api.ServerConfig{
		Orders:      svc,
		Commissions: table,
		Streams:     streams,
		DeadLetters: deadLetters,
	})
	if err != nil {
		return nil, err
	}

	app.Summary = newStartupSummary(cfg, table, seeder, streamNames)
	return app, nil
}
