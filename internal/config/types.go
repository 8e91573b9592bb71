package config

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Config 是 tradedesk 的主配置载体。
type Config struct {
	App        AppConfig        `toml:"app"`
	Store      StoreConfig      `toml:"store"`
	Broker     BrokerConfig     `toml:"broker"`
	Market     MarketConfig     `toml:"market"`
	Commission CommissionConfig `toml:"commission"`
	Ledger     LedgerConfig     `toml:"ledger"`
	Reconcile  ReconcileConfig  `toml:"reconcile"`
	Publisher  PublisherConfig  `toml:"publisher"`
}

type AppConfig struct {
	Env            string `toml:"env"`
	LogLevel       string `toml:"log_level"`
	HTTPAddr       string `toml:"http_addr"`
	LogPath        string `toml:"log_path"`
	BrokerLogPath  string `toml:"broker_log_path"`
	BrokerDump     bool   `toml:"broker_dump_payload"`
	AccountHeader  string `toml:"account_header"`
	ShutdownSecond int    `toml:"shutdown_timeout_seconds"`
}

// StoreConfig 描述本地账本数据库。
type StoreConfig struct {
	Path string `toml:"path"`
}

// BrokerConfig 描述外部券商 Broker API 的访问方式。
type BrokerConfig struct {
	APIURL         string `toml:"api_url"`
	EventsURL      string `toml:"events_url"`
	APIKey         string `toml:"api_key"`
	APISecret      string `toml:"api_secret"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
	InsecureTLS    bool   `toml:"insecure_tls"`
}

// Timeout 返回 REST 请求超时。
func (b BrokerConfig) Timeout() time.Duration {
	if b.TimeoutSeconds <= 0 {
		return time.Duration(defaultBrokerTimeout) * time.Second
	}
	return time.Duration(b.TimeoutSeconds) * time.Second
}

// MarketConfig 描述行情数据服务。
type MarketConfig struct {
	DataURL          string `toml:"data_url"`
	Feed             string `toml:"feed"`
	QuoteTimeoutMS   int    `toml:"quote_timeout_ms"`
	BreakerThreshold int    `toml:"breaker_threshold"`
	BreakerCooldownS int    `toml:"breaker_cooldown_seconds"`
}

func (m MarketConfig) QuoteTimeout() time.Duration {
	return time.Duration(m.QuoteTimeoutMS) * time.Millisecond
}

func (m MarketConfig) BreakerCooldown() time.Duration {
	return time.Duration(m.BreakerCooldownS) * time.Second
}

// CommissionConfig 描述佣金表的种子文件与缺省费率。
type CommissionConfig struct {
	SeedPath       string            `toml:"seed_path"`
	WatchSeed      bool              `toml:"watch_seed"`
	CacheTTLSecond int               `toml:"cache_ttl_seconds"`
	Defaults       CommissionDefault `toml:"defaults"`
}

// CommissionDefault 费率按十进制文本解码，见 decimalHook。
type CommissionDefault struct {
	Platform       decimal.Decimal `toml:"platform"`
	ReferringAgent decimal.Decimal `toml:"referring_agent"`
}

func (c CommissionConfig) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLSecond) * time.Second
}

// LedgerConfig 控制下单时的账本行为。
type LedgerConfig struct {
	EnforceBalance  bool `toml:"enforce_balance"`
	EnforceHoldings bool `toml:"enforce_holdings"`
	LockStripes     int  `toml:"lock_stripes"`
}

// ReconcileConfig 控制券商事件流的消费。
type ReconcileConfig struct {
	Enabled            bool   `toml:"enabled"`
	TradeStreamPath    string `toml:"trade_stream_path"`
	TransferStreamPath string `toml:"transfer_stream_path"`
	MaxBackoffSeconds  int    `toml:"max_backoff_seconds"`
	NotFoundRetries    int    `toml:"not_found_retries"`
	NotFoundDelayMS    int    `toml:"not_found_delay_ms"`
	DeadLetterDriver   string `toml:"dead_letter_driver"` // "sqlite" | "file"
	DeadLetterPath     string `toml:"dead_letter_path"`
}

func (r ReconcileConfig) MaxBackoff() time.Duration {
	return time.Duration(r.MaxBackoffSeconds) * time.Second
}

func (r ReconcileConfig) NotFoundDelay() time.Duration {
	return time.Duration(r.NotFoundDelayMS) * time.Millisecond
}

// PublisherConfig 描述订单生命周期事件的投递（通知服务消费）。
type PublisherConfig struct {
	Enabled bool     `toml:"enabled"`
	Brokers []string `toml:"brokers"`
	Topic   string   `toml:"topic"`
}

// DeadLetterFile 报告死信是否写入 JSONL 文件。
func (r ReconcileConfig) DeadLetterFile() bool {
	return strings.EqualFold(strings.TrimSpace(r.DeadLetterDriver), "file")
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
