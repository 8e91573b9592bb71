package market

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"tradedesk/internal/config"
	"tradedesk/internal/logger"
	"tradedesk/internal/order"
	"tradedesk/internal/pkg/circuit"
	"tradedesk/internal/pkg/convert"
	"tradedesk/internal/pkg/symbol"

	"github.com/tidwall/gjson"
)

// ErrNoQuote 表示行情服务未返回可用价格；不计入熔断。
var ErrNoQuote = errors.New("no quote available")

// Client 查询最新报价与成交价，实现 order.QuoteService。
type Client struct {
	baseURL    *url.URL
	feed       string
	timeout    time.Duration
	apiKey     string
	apiSecret  string
	httpClient *http.Client
	breaker    *circuit.CircuitBreaker
}

var _ order.QuoteService = (*Client)(nil)

// NewClient 使用券商凭据访问行情服务。
func NewClient(cfg config.MarketConfig, creds config.BrokerConfig) (*Client, error) {
	raw := strings.TrimSpace(cfg.DataURL)
	if raw == "" {
		return nil, fmt.Errorf("market.data_url 不能为空")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("解析 market.data_url 失败: %w", err)
	}
	cb := circuit.NewCircuitBreaker("market-data", cfg.BreakerThreshold, cfg.BreakerCooldown())
	cb.SetStateChangeHandler(func(name string, from, to circuit.State) {
		logger.Warnw("行情熔断状态变化", "breaker", name, "from", from.String(), "to", to.String())
	})
	return &Client{
		baseURL:    parsed,
		feed:       strings.TrimSpace(cfg.Feed),
		timeout:    cfg.QuoteTimeout(),
		apiKey:     strings.TrimSpace(creds.APIKey),
		apiSecret:  strings.TrimSpace(creds.APISecret),
		httpClient: &http.Client{},
		breaker:    cb,
	}, nil
}

// SetHTTPClient sets the HTTP client for testing.
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

// BreakerState 返回行情熔断器当前状态。
func (c *Client) BreakerState() circuit.State {
	return c.breaker.State()
}

// LatestQuote 返回最新买卖报价。
func (c *Client) LatestQuote(ctx context.Context, sym string) (order.Quote, error) {
	ticker, body, err := c.fetch(ctx, sym, "quotes")
	if err != nil {
		return order.Quote{}, err
	}
	node := pick(body, ticker, "quote", "quotes")
	ask, okAsk := convert.JSONDecimal(node.Get("ap"))
	bid, _ := convert.JSONDecimal(node.Get("bp"))
	if !okAsk || !ask.IsPositive() {
		return order.Quote{}, fmt.Errorf("%s: %w", ticker, ErrNoQuote)
	}
	return order.Quote{Symbol: ticker, AskPrice: ask, BidPrice: bid}, nil
}

// LatestTrade 返回最新成交价。
func (c *Client) LatestTrade(ctx context.Context, sym string) (order.Trade, error) {
	ticker, body, err := c.fetch(ctx, sym, "trades")
	if err != nil {
		return order.Trade{}, err
	}
	node := pick(body, ticker, "trade", "trades")
	price, ok := convert.JSONDecimal(node.Get("p"))
	if !ok || !price.IsPositive() {
		return order.Trade{}, fmt.Errorf("%s: %w", ticker, ErrNoQuote)
	}
	return order.Trade{Symbol: ticker, Price: price}, nil
}

func (c *Client) fetch(ctx context.Context, sym, kind string) (string, []byte, error) {
	ticker, err := symbol.Validate(sym)
	if err != nil {
		return "", nil, err
	}
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	var body []byte
	err = c.breaker.Execute(func() error {
		var ferr error
		body, ferr = c.get(ctx, ticker, kind)
		return ferr
	}, func(err error) bool { return !errors.Is(err, ErrNoQuote) })
	if err != nil {
		return ticker, nil, err
	}
	return ticker, body, nil
}

// ticker 已通过 symbol.Validate，只含字母数字与 '.'。
func (c *Client) get(ctx context.Context, ticker, kind string) ([]byte, error) {
	endpoint := *c.baseURL
	endpoint.Path = strings.TrimSuffix(endpoint.Path, "/") +
		fmt.Sprintf("/v2/stocks/%s/%s/latest", ticker, kind)
	if c.feed != "" {
		endpoint.RawQuery = url.Values{"feed": {c.feed}}.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("构造行情请求失败: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("APCA-API-KEY-ID", c.apiKey)
	req.Header.Set("APCA-API-SECRET-KEY", c.apiSecret)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("调用行情服务失败: %w", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("读取行情响应失败: %w", err)
	}
	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusUnprocessableEntity:
		return nil, fmt.Errorf("%s %s: %w", ticker, resp.Status, ErrNoQuote)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, fmt.Errorf("行情服务返回 %s: %s", resp.Status, strings.TrimSpace(string(data)))
	}
	return data, nil
}

// pick 兼容单标的 {"quote":{...}} 与多标的 {"quotes":{"AAPL":{...}}} 两种形状。
func pick(body []byte, ticker, single, multi string) gjson.Result {
	if node := gjson.GetBytes(body, single); node.Exists() {
		return node
	}
	for _, key := range []string{ticker, symbol.Broker(ticker)} {
		if node := gjson.GetBytes(body, multi+"."+strings.ReplaceAll(key, ".", `\.`)); node.Exists() {
			return node
		}
	}
	return gjson.Result{}
}
