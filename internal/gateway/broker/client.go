package broker

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"tradedesk/internal/config"
	"tradedesk/internal/logger"

	"github.com/tidwall/gjson"
)

var (
	// ErrBrokerRejected 表示券商对请求返回了非 2xx。
	ErrBrokerRejected = errors.New("broker rejected request")
	// ErrUnavailable 表示请求未能到达券商或响应无法读取。
	ErrUnavailable = errors.New("broker unavailable")
)

// RejectedError 携带券商返回的状态码与原始错误报文。
type RejectedError struct {
	StatusCode int
	Payload    json.RawMessage
	Message    string
}

func (e *RejectedError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("broker rejected request (%d): %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("broker rejected request (%d)", e.StatusCode)
}

func (e *RejectedError) Unwrap() error { return ErrBrokerRejected }

// OrderPayload 对应 POST /v1/trading/accounts/{account_id}/orders。
type OrderPayload struct {
	Symbol        string `json:"symbol"`
	Qty           string `json:"qty"`
	Side          string `json:"side"`
	Type          string `json:"type"`
	TimeInForce   string `json:"time_in_force"`
	LimitPrice    string `json:"limit_price,omitempty"`
	StopPrice     string `json:"stop_price,omitempty"`
	ClientOrderID string `json:"client_order_id,omitempty"`
}

// Ack 是券商受理订单后的回执。
type Ack struct {
	BrokerOrderID string
	Status        string
	Raw           json.RawMessage
}

// Client 是券商 Broker API 的薄适配层：不重试，非 2xx 直接返回 RejectedError。
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	apiKey     string
	apiSecret  string
}

// NewClient constructs a broker client from configuration.
func NewClient(cfg config.BrokerConfig) (*Client, error) {
	raw := strings.TrimSpace(cfg.APIURL)
	if raw == "" {
		return nil, fmt.Errorf("broker.api_url 不能为空")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("解析 broker.api_url 失败: %w", err)
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.InsecureTLS {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} // #nosec G402
	}
	return &Client{
		baseURL:    parsed,
		httpClient: &http.Client{Timeout: cfg.Timeout(), Transport: transport},
		apiKey:     strings.TrimSpace(cfg.APIKey),
		apiSecret:  strings.TrimSpace(cfg.APISecret),
	}, nil
}

// SetHTTPClient sets the HTTP client for testing.
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

// Submit 提交订单，返回券商订单号。
func (c *Client) Submit(ctx context.Context, brokerAccountID string, payload OrderPayload) (Ack, error) {
	if strings.TrimSpace(brokerAccountID) == "" {
		return Ack{}, fmt.Errorf("broker account id 必填")
	}
	path := fmt.Sprintf("/v1/trading/accounts/%s/orders", url.PathEscape(brokerAccountID))
	status, body, err := c.doRequest(ctx, http.MethodPost, path, payload)
	if err != nil {
		return Ack{}, err
	}
	if status < 200 || status >= 300 {
		return Ack{}, rejected(status, body)
	}
	id := gjson.GetBytes(body, "id").String()
	if id == "" {
		return Ack{}, fmt.Errorf("%w: ack without order id: %s", ErrUnavailable, truncate(body))
	}
	return Ack{
		BrokerOrderID: id,
		Status:        gjson.GetBytes(body, "status").String(),
		Raw:           json.RawMessage(body),
	}, nil
}

// Cancel 撤单；只有 204 视为成功，其它 2xx 返回 false。
func (c *Client) Cancel(ctx context.Context, brokerAccountID, brokerOrderID string) (bool, error) {
	if strings.TrimSpace(brokerAccountID) == "" || strings.TrimSpace(brokerOrderID) == "" {
		return false, fmt.Errorf("broker account id 与 order id 必填")
	}
	path := fmt.Sprintf("/v1/trading/accounts/%s/orders/%s",
		url.PathEscape(brokerAccountID), url.PathEscape(brokerOrderID))
	status, body, err := c.doRequest(ctx, http.MethodDelete, path, nil)
	if err != nil {
		return false, err
	}
	if status < 200 || status >= 300 {
		return false, rejected(status, body)
	}
	return status == http.StatusNoContent, nil
}

func (c *Client) doRequest(ctx context.Context, method, path string, payload any) (int, []byte, error) {
	if c == nil || c.httpClient == nil {
		return 0, nil, fmt.Errorf("broker client 未初始化")
	}
	endpoint := c.resolveEndpoint(path)

	var (
		body io.Reader
		buf  []byte
	)
	if payload != nil {
		var err error
		buf, err = json.Marshal(payload)
		if err != nil {
			return 0, nil, fmt.Errorf("序列化请求失败: %w", err)
		}
		body = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint.String(), body)
	if err != nil {
		return 0, nil, fmt.Errorf("构造请求失败: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.SetBasicAuth(c.apiKey, c.apiSecret)

	logger.LogBrokerRequest(method, endpoint.Path, string(buf))
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("%w: read response: %w", ErrUnavailable, err)
	}
	logger.LogBrokerResponse(method, endpoint.Path, resp.Status, string(data))
	return resp.StatusCode, data, nil
}

func (c *Client) resolveEndpoint(path string) *url.URL {
	base := *c.baseURL
	base.Path = strings.TrimSuffix(base.Path, "/") + path
	base.RawPath = ""
	base.RawQuery = ""
	base.Fragment = ""
	return &base
}

func rejected(status int, body []byte) *RejectedError {
	e := &RejectedError{StatusCode: status}
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return e
	}
	if json.Valid(trimmed) {
		e.Payload = json.RawMessage(trimmed)
		e.Message = gjson.GetBytes(trimmed, "message").String()
	} else {
		quoted, _ := json.Marshal(string(trimmed))
		e.Payload = quoted
		e.Message = truncate(trimmed)
	}
	return e
}

func truncate(b []byte) string {
	const limit = 256
	s := strings.TrimSpace(string(b))
	if len(s) > limit {
		return s[:limit] + "..."
	}
	return s
}
