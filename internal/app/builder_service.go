package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"tradedesk/internal/commission"
	"tradedesk/internal/config"
	"tradedesk/internal/deadletter"
	"tradedesk/internal/gateway/broker"
	"tradedesk/internal/gateway/events"
	"tradedesk/internal/gateway/market"
	"tradedesk/internal/gateway/publisher"
	"tradedesk/internal/ledger"
	"tradedesk/internal/logger"
	"tradedesk/internal/order"
	"tradedesk/internal/reconcile"
	"tradedesk/internal/store/sqlite"
	"tradedesk/internal/transport/http/api"
)

func openStore(cfg config.StoreConfig) (*sqlite.SqliteStore, error) {
	st, err := sqlite.NewSqliteStore(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("初始化账本数据库失败: %w", err)
	}
	return st, nil
}

func seedCommissions(ctx context.Context, cfg config.CommissionConfig, table *commission.Table) (*commission.Seeder, error) {
	if strings.TrimSpace(cfg.SeedPath) == "" {
		return nil, nil
	}
	seeder, err := commission.NewSeeder(ctx, cfg.SeedPath, table, cfg.WatchSeed)
	if err != nil {
		return nil, fmt.Errorf("应用佣金种子失败: %w", err)
	}
	return seeder, nil
}

func buildQuotes(cfg config.MarketConfig, creds config.BrokerConfig) (order.QuoteService, error) {
	client, err := market.NewClient(cfg, creds)
	if err != nil {
		return nil, fmt.Errorf("初始化行情客户端失败: %w", err)
	}
	return client, nil
}

func buildBroker(cfg config.BrokerConfig) (ledger.Broker, error) {
	client, err := broker.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("初始化券商客户端失败: %w", err)
	}
	logger.Infof("✓ Broker API: %s", cfg.APIURL)
	return client, nil
}

func buildPublisher(cfg config.PublisherConfig) (lifecyclePublisher, error) {
	if !cfg.Enabled {
		return publisher.Log{}, nil
	}
	k, err := publisher.NewKafka(cfg)
	if err != nil {
		return nil, fmt.Errorf("初始化事件发布失败: %w", err)
	}
	logger.Infof("✓ 生命周期事件发布到 %s (%s)", cfg.Topic, strings.Join(cfg.Brokers, ","))
	return k, nil
}

func openDeadLetters(cfg config.ReconcileConfig) (deadletter.Store, error) {
	store, err := deadletter.Open(cfg.DeadLetterDriver, cfg.DeadLetterPath)
	if err != nil {
		return nil, fmt.Errorf("初始化死信存储失败: %w", err)
	}
	return store, nil
}

func buildSources(creds config.BrokerConfig, cfg config.ReconcileConfig, cursors events.CursorReader) ([]reconcile.Source, error) {
	paths := []struct{ stream, path string }{
		{events.StreamTrades, cfg.TradeStreamPath},
		{events.StreamTransfers, cfg.TransferStreamPath},
	}
	sources := make([]reconcile.Source, 0, len(paths))
	for _, p := range paths {
		sub, err := events.NewSubscriber(p.stream, p.path, creds, cfg.MaxBackoff(), cursors)
		if err != nil {
			return nil, fmt.Errorf("初始化 %s 事件流失败: %w", p.stream, err)
		}
		sources = append(sources, sub)
	}
	return sources, nil
}

func buildHTTPServer(cfg config.AppConfig, deps api.ServerConfig) (*api.Server, error) {
	deps.Addr = cfg.HTTPAddr
	deps.AccountHeader = cfg.AccountHeader
	deps.ShutdownTimeout = time.Duration(cfg.ShutdownSecond) * time.Second
	server, err := api.NewServer(deps)
	if err != nil {
		return nil, fmt.Errorf("初始化 HTTP 服务失败: %w", err)
	}
	logger.Infof("✓ HTTP 接口监听 %s", server.Addr())
	return server, nil
}
