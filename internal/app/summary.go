package app

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"tradedesk/internal/commission"
	"tradedesk/internal/config"
	"tradedesk/internal/logger"
)

type StartupSummary struct {
	Env         string
	HTTPAddr    string
	StorePath   string
	BrokerURL   string
	MarketURL   string
	MarketFeed  string
	Commission  CommissionSummary
	Streams     []string
	DeadLetters string
	Publisher   string
}

type CommissionSummary struct {
	Version   int64
	Rates     map[string]string
	Defaulted []string
	SeedPath  string
	SeedCount int
	Watching  bool
}

func newStartupSummary(cfg *config.Config, table *commission.Table, seeder *commission.Seeder, streams []string) *StartupSummary {
	s := &StartupSummary{
		Env:        cfg.App.Env,
		HTTPAddr:   cfg.App.HTTPAddr,
		StorePath:  cfg.Store.Path,
		BrokerURL:  cfg.Broker.APIURL,
		MarketURL:  cfg.Market.DataURL,
		MarketFeed: cfg.Market.Feed,
		Streams:    streams,
		Publisher:  "log",
	}
	if cfg.Publisher.Enabled {
		s.Publisher = fmt.Sprintf("kafka %s -> %s", strings.Join(cfg.Publisher.Brokers, ","), cfg.Publisher.Topic)
	}
	if cfg.Reconcile.Enabled {
		s.DeadLetters = fmt.Sprintf("%s %s", cfg.Reconcile.DeadLetterDriver, cfg.Reconcile.DeadLetterPath)
	}
	s.Commission = CommissionSummary{SeedPath: cfg.Commission.SeedPath, Watching: cfg.Commission.WatchSeed}
	if seeder != nil {
		s.Commission.SeedCount = len(seeder.State().Entries)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	snap, err := table.Snapshot(ctx)
	if err != nil {
		logger.Warnf("读取佣金表失败: %v", err)
		return s
	}
	s.Commission.Version = snap.Version
	s.Commission.Defaulted = snap.Defaulted
	s.Commission.Rates = make(map[string]string, len(snap.Percent))
	for name, pct := range snap.Percent {
		s.Commission.Rates[name] = pct.String()
	}
	return s
}

func (s *StartupSummary) Print() {
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("%*s\n", 40+len("启动配置摘要 (STARTUP SUMMARY)")/2, "启动配置摘要 (STARTUP SUMMARY)")
	fmt.Println(strings.Repeat("=", 80))

	fmt.Println("[服务 (SERVICE)]")
	fmt.Printf("  环境: %s\n", s.Env)
	fmt.Printf("  HTTP: %s\n", s.HTTPAddr)
	fmt.Printf("  账本: %s\n", s.StorePath)
	fmt.Println()

	fmt.Println("[外部依赖 (UPSTREAMS)]")
	fmt.Printf("  Broker API: %s\n", s.BrokerURL)
	fmt.Printf("  Market Data: %s (feed=%s)\n", s.MarketURL, s.MarketFeed)
	fmt.Printf("  事件发布: %s\n", s.Publisher)
	fmt.Println()

	fmt.Println("[佣金 (COMMISSIONS)]")
	fmt.Printf("  版本: %d\n", s.Commission.Version)
	names := make([]string, 0, len(s.Commission.Rates))
	for name := range s.Commission.Rates {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Printf("  - %s: %s\n", name, s.Commission.Rates[name])
	}
	if len(s.Commission.Defaulted) > 0 {
		fmt.Printf("  缺省值: %s\n", formatList(s.Commission.Defaulted))
	}
	if s.Commission.SeedPath != "" {
		fmt.Printf("  种子: %s (%d 条, 监听=%t)\n", s.Commission.SeedPath, s.Commission.SeedCount, s.Commission.Watching)
	}
	fmt.Println()

	fmt.Println("[事件对账 (RECONCILE)]")
	if len(s.Streams) == 0 {
		fmt.Println("  (未启用)")
	} else {
		fmt.Printf("  事件流: %s\n", formatList(s.Streams))
		fmt.Printf("  死信: %s\n", s.DeadLetters)
	}
	fmt.Println(strings.Repeat("=", 80))
}

func formatList(items []string) string {
	if len(items) == 0 {
		return "-"
	}
	return strings.Join(items, ", ")
}
