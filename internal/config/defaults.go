package config

import (
	"strings"

	"github.com/shopspring/decimal"
)

// 默认值常量
const (
	defaultAppEnv             = "dev"
	defaultAppLogLevel        = "info"
	defaultAppHTTPAddr        = ":8080"
	defaultAppLogPath         = "/data/logs/tradedesk.log"
	defaultAppBrokerLogPath   = "/data/logs/tradedesk-broker.log"
	defaultAccountHeader      = "X-Account-ID"
	defaultShutdownTimeout    = 10
	defaultStorePath          = "/data/db/tradedesk.db"
	defaultBrokerAPI          = "https://broker-api.sandbox.alpaca.markets"
	defaultBrokerTimeout      = 15
	defaultMarketDataURL      = "https://data.sandbox.alpaca.markets"
	defaultMarketFeed         = "iex"
	defaultQuoteTimeoutMS     = 3000
	defaultBreakerThreshold   = 5
	defaultBreakerCooldown    = 30
	defaultCommissionSeed     = "configs/commissions.yaml"
	defaultCommissionCacheTTL = 60
	defaultLockStripes        = 64
	defaultTradeStreamPath    = "/v1/events/trades"
	defaultTransferStreamPath = "/v1/events/transfers/status"
	defaultMaxBackoff         = 60
	defaultNotFoundRetries    = 3
	defaultNotFoundDelayMS    = 500
	defaultDeadLetterDriver   = "sqlite"
	defaultDeadLetterPath     = "/data/db/dead_letters.db"
	defaultPublisherTopic     = "tradedesk.order-lifecycle"
)

var (
	defaultPlatformPercent = decimal.RequireFromString("0.01")
	defaultAgentPercent    = decimal.RequireFromString("0.1")
)

// applyDefaults 为所有子配置应用默认值。
func (c *Config) applyDefaults(keys keySet) {
	c.App.applyDefaults(keys)
	c.Store.applyDefaults(keys)
	c.Broker.applyDefaults(keys)
	c.Market.applyDefaults(keys)
	c.Commission.applyDefaults(keys)
	c.Ledger.applyDefaults(keys)
	c.Reconcile.applyDefaults(keys)
	c.Publisher.applyDefaults(keys)
}

func (a *AppConfig) applyDefaults(keys keySet) {
	if a == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("app.env", &a.Env, defaultAppEnv),
		stringFieldDefault("app.log_level", &a.LogLevel, defaultAppLogLevel),
		stringFieldDefault("app.http_addr", &a.HTTPAddr, defaultAppHTTPAddr),
		stringFieldDefault("app.log_path", &a.LogPath, defaultAppLogPath),
		stringFieldDefault("app.broker_log_path", &a.BrokerLogPath, defaultAppBrokerLogPath),
		stringFieldDefault("app.account_header", &a.AccountHeader, defaultAccountHeader),
		intFieldDefault("app.shutdown_timeout_seconds", &a.ShutdownSecond, defaultShutdownTimeout),
	)
}

func (s *StoreConfig) applyDefaults(keys keySet) {
	if s == nil {
		return
	}
	applyFieldDefaults(keys, stringFieldDefault("store.path", &s.Path, defaultStorePath))
}

func (b *BrokerConfig) applyDefaults(keys keySet) {
	if b == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("broker.api_url", &b.APIURL, defaultBrokerAPI),
		intFieldDefault("broker.timeout_seconds", &b.TimeoutSeconds, defaultBrokerTimeout),
	)
	if strings.TrimSpace(b.EventsURL) == "" {
		b.EventsURL = b.APIURL
	}
	b.APIURL = strings.TrimRight(strings.TrimSpace(b.APIURL), "/")
	b.EventsURL = strings.TrimRight(strings.TrimSpace(b.EventsURL), "/")
}

func (m *MarketConfig) applyDefaults(keys keySet) {
	if m == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("market.data_url", &m.DataURL, defaultMarketDataURL),
		stringFieldDefault("market.feed", &m.Feed, defaultMarketFeed),
		intFieldDefault("market.quote_timeout_ms", &m.QuoteTimeoutMS, defaultQuoteTimeoutMS),
		intFieldDefault("market.breaker_threshold", &m.BreakerThreshold, defaultBreakerThreshold),
		intFieldDefault("market.breaker_cooldown_seconds", &m.BreakerCooldownS, defaultBreakerCooldown),
	)
	m.DataURL = strings.TrimRight(strings.TrimSpace(m.DataURL), "/")
}

func (c *CommissionConfig) applyDefaults(keys keySet) {
	if c == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("commission.seed_path", &c.SeedPath, defaultCommissionSeed),
		boolFieldDefault("commission.watch_seed", &c.WatchSeed, true),
		intFieldDefault("commission.cache_ttl_seconds", &c.CacheTTLSecond, defaultCommissionCacheTTL),
		fieldDefault{
			key:   "commission.defaults.platform",
			need:  func() bool { return c.Defaults.Platform.Sign() <= 0 },
			apply: func() { c.Defaults.Platform = defaultPlatformPercent },
		},
		fieldDefault{
			key:   "commission.defaults.referring_agent",
			need:  func() bool { return c.Defaults.ReferringAgent.Sign() <= 0 },
			apply: func() { c.Defaults.ReferringAgent = defaultAgentPercent },
		},
	)
}

func (l *LedgerConfig) applyDefaults(keys keySet) {
	if l == nil {
		return
	}
	applyFieldDefaults(keys,
		boolFieldDefault("ledger.enforce_balance", &l.EnforceBalance, true),
		boolFieldDefault("ledger.enforce_holdings", &l.EnforceHoldings, true),
		intFieldDefault("ledger.lock_stripes", &l.LockStripes, defaultLockStripes),
	)
}

func (r *ReconcileConfig) applyDefaults(keys keySet) {
	if r == nil {
		return
	}
	applyFieldDefaults(keys,
		boolFieldDefault("reconcile.enabled", &r.Enabled, true),
		stringFieldDefault("reconcile.trade_stream_path", &r.TradeStreamPath, defaultTradeStreamPath),
		stringFieldDefault("reconcile.transfer_stream_path", &r.TransferStreamPath, defaultTransferStreamPath),
		intFieldDefault("reconcile.max_backoff_seconds", &r.MaxBackoffSeconds, defaultMaxBackoff),
		intFieldDefault("reconcile.not_found_retries", &r.NotFoundRetries, defaultNotFoundRetries),
		intFieldDefault("reconcile.not_found_delay_ms", &r.NotFoundDelayMS, defaultNotFoundDelayMS),
		stringFieldDefault("reconcile.dead_letter_driver", &r.DeadLetterDriver, defaultDeadLetterDriver),
		stringFieldDefault("reconcile.dead_letter_path", &r.DeadLetterPath, defaultDeadLetterPath),
	)
}

func (p *PublisherConfig) applyDefaults(keys keySet) {
	if p == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("publisher.topic", &p.Topic, defaultPublisherTopic),
	)
	p.Brokers = normalizeList(p.Brokers)
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

func normalizeList(items []string) []string {
	if len(items) == 0 {
		return nil
	}
	out := make([]string, 0, len(items))
	seen := make(map[string]bool, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" || seen[item] {
			continue
		}
		seen[item] = true
		out = append(out, item)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
