package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/shopspring/decimal"
)

// validate 对配置进行基础校验。
func validate(c *Config) error {
	if err := c.Store.validate(); err != nil {
		return err
	}
	if err := c.Broker.validate(); err != nil {
		return err
	}
	if err := c.Market.validate(); err != nil {
		return err
	}
	if err := c.Commission.validate(); err != nil {
		return err
	}
	if err := c.Reconcile.validate(); err != nil {
		return err
	}
	if err := c.Publisher.validate(); err != nil {
		return err
	}
	return nil
}

func (s *StoreConfig) validate() error {
	if strings.TrimSpace(s.Path) == "" {
		return fmt.Errorf("store.path cannot be empty")
	}
	return nil
}

func (b *BrokerConfig) validate() error {
	if err := validateURL("broker.api_url", b.APIURL); err != nil {
		return err
	}
	if err := validateURL("broker.events_url", b.EventsURL); err != nil {
		return err
	}
	if strings.TrimSpace(b.APIKey) == "" || strings.TrimSpace(b.APISecret) == "" {
		return fmt.Errorf("broker requires api_key and api_secret")
	}
	if b.TimeoutSeconds < 0 {
		return fmt.Errorf("broker.timeout_seconds must be >= 0")
	}
	return nil
}

func (m *MarketConfig) validate() error {
	if err := validateURL("market.data_url", m.DataURL); err != nil {
		return err
	}
	if m.QuoteTimeoutMS <= 0 {
		return fmt.Errorf("market.quote_timeout_ms must be > 0")
	}
	if m.BreakerThreshold <= 0 {
		return fmt.Errorf("market.breaker_threshold must be > 0")
	}
	return nil
}

func (c *CommissionConfig) validate() error {
	if !percentInRange(c.Defaults.Platform) {
		return fmt.Errorf("commission.defaults.platform must be in [0, %s]", maxCommissionPercent)
	}
	if !percentInRange(c.Defaults.ReferringAgent) {
		return fmt.Errorf("commission.defaults.referring_agent must be in [0, %s]", maxCommissionPercent)
	}
	if c.CacheTTLSecond < 0 {
		return fmt.Errorf("commission.cache_ttl_seconds must be >= 0")
	}
	return nil
}

func (r *ReconcileConfig) validate() error {
	if !r.Enabled {
		return nil
	}
	driver := strings.ToLower(strings.TrimSpace(r.DeadLetterDriver))
	if driver != "sqlite" && driver != "file" {
		return fmt.Errorf("reconcile.dead_letter_driver only supports 'sqlite' or 'file', got %s", r.DeadLetterDriver)
	}
	if strings.TrimSpace(r.DeadLetterPath) == "" {
		return fmt.Errorf("reconcile.dead_letter_path cannot be empty")
	}
	if !strings.HasPrefix(r.TradeStreamPath, "/") || !strings.HasPrefix(r.TransferStreamPath, "/") {
		return fmt.Errorf("reconcile stream paths must start with '/'")
	}
	if r.NotFoundRetries < 0 {
		return fmt.Errorf("reconcile.not_found_retries must be >= 0")
	}
	return nil
}

func (p *PublisherConfig) validate() error {
	if !p.Enabled {
		return nil
	}
	if len(p.Brokers) == 0 {
		return fmt.Errorf("publisher enabled but brokers is empty")
	}
	if strings.TrimSpace(p.Topic) == "" {
		return fmt.Errorf("publisher.topic cannot be empty")
	}
	return nil
}

func validateURL(key, raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fmt.Errorf("%s cannot be empty", key)
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%s is not a valid url: %s", key, raw)
	}
	return nil
}

var maxCommissionPercent = decimal.RequireFromString("0.99")

func percentInRange(p decimal.Decimal) bool {
	return !p.IsNegative() && !p.GreaterThan(maxCommissionPercent)
}
