package events

import (
	"bufio"
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"tradedesk/internal/config"
	"tradedesk/internal/logger"

	"github.com/tidwall/gjson"
)

const (
	StreamTrades    = "trades"
	StreamTransfers = "transfers"

	// MaxEventBytes 是单个事件 data 的上限。
	MaxEventBytes = 1 << 20
	// oversizedKeep 是超限事件保留的数据前缀，用于提取 event_id 与人工排查。
	oversizedKeep = 4 << 10
)

var errStreamClosed = errors.New("event stream closed by server")

// Message 是一条 SSE 事件的原始数据。
type Message struct {
	Stream     string
	ID         string
	Data       []byte
	ReceivedAt time.Time
	// Oversized 表示事件超过 MaxEventBytes，Data 只保留了前缀。
	Oversized bool
}

// Handler 按到达顺序处理事件；返回后该事件 id 视为已消费。
type Handler func(ctx context.Context, msg Message)

// CursorReader 读取持久化的续传位置。
type CursorReader interface {
	Get(ctx context.Context, stream string) (string, error)
}

// Stats 是单条事件流的运行统计。
type Stats struct {
	Stream      string    `json:"stream"`
	Connected   bool      `json:"connected"`
	Reconnects  int       `json:"reconnects"`
	Received    int64     `json:"received"`
	LastEventID string    `json:"last_event_id,omitempty"`
	LastEventAt time.Time `json:"last_event_at,omitempty"`
	LastError   string    `json:"last_error,omitempty"`
}

// Subscriber 维护一条到券商事件推送的长连接，断开后指数退避重连并从游标续传。
type Subscriber struct {
	stream     string
	endpoint   *url.URL
	apiKey     string
	apiSecret  string
	httpClient *http.Client
	maxBackoff time.Duration
	cursor     CursorReader

	statsMu sync.Mutex
	stats   Stats
	lastID  string
}

// NewSubscriber path 为事件流路径，例如 /v1/events/trades。
func NewSubscriber(stream, path string, creds config.BrokerConfig, maxBackoff time.Duration, cursor CursorReader) (*Subscriber, error) {
	raw := strings.TrimSpace(creds.EventsURL)
	if raw == "" {
		raw = strings.TrimSpace(creds.APIURL)
	}
	if raw == "" {
		return nil, fmt.Errorf("broker.events_url 不能为空")
	}
	base, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("解析 broker.events_url 失败: %w", err)
	}
	base.Path = strings.TrimSuffix(base.Path, "/") + "/" + strings.TrimPrefix(strings.TrimSpace(path), "/")
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if creds.InsecureTLS {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} // #nosec G402
	}
	if maxBackoff <= 0 {
		maxBackoff = 30 * time.Second
	}
	return &Subscriber{
		stream:     stream,
		endpoint:   base,
		apiKey:     strings.TrimSpace(creds.APIKey),
		apiSecret:  strings.TrimSpace(creds.APISecret),
		httpClient: &http.Client{Transport: transport},
		maxBackoff: maxBackoff,
		cursor:     cursor,
		stats:      Stats{Stream: stream},
	}, nil
}

// SetHTTPClient sets the HTTP client for testing.
func (s *Subscriber) SetHTTPClient(client *http.Client) {
	s.httpClient = client
}

func (s *Subscriber) Stream() string { return s.stream }

// Run 阻塞消费事件直到 ctx 取消；连接失败不会返回错误。
func (s *Subscriber) Run(ctx context.Context, h Handler) error {
	if h == nil {
		return fmt.Errorf("%s: handler is required", s.stream)
	}
	delay := time.Second
	for {
		if ctx.Err() != nil {
			return nil
		}
		connected, err := s.consume(ctx, h)
		s.setConnected(false)
		if ctx.Err() != nil {
			logger.Infof("事件流 %s 已停止", s.stream)
			return nil
		}
		if connected {
			delay = time.Second
		}
		s.recordReconnect(err)
		logger.Warnf("事件流 %s 断开: %v，%s 后重连", s.stream, err, delay)
		if !sleepWithContext(ctx, delay) {
			return nil
		}
		delay = nextDelay(delay, s.maxBackoff)
	}
}

func (s *Subscriber) consume(ctx context.Context, h Handler) (bool, error) {
	since, err := s.resumeID(ctx)
	if err != nil {
		return false, err
	}
	target := *s.endpoint
	if since != "" {
		target.RawQuery = url.Values{"since_id": {since}}.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return false, fmt.Errorf("构造事件流请求失败: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	req.SetBasicAuth(s.apiKey, s.apiSecret)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("连接事件流失败: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return false, fmt.Errorf("事件流返回 %s: %s", resp.Status, strings.TrimSpace(string(snippet)))
	}
	s.setConnected(true)
	logger.Infof("事件流 %s 已连接 since_id=%q", s.stream, since)

	if err := s.read(ctx, resp.Body, h); err != nil {
		return true, err
	}
	return true, errStreamClosed
}

// read 解析 text/event-stream：空行分隔事件，仅关心 id 与 data 字段。
// 超限事件读到下一个空行为止，只保留前缀并标记 Oversized，连接继续。
func (s *Subscriber) read(ctx context.Context, body io.Reader, h Handler) error {
	reader := bufio.NewReaderSize(body, 64*1024)
	var (
		id        string
		data      bytes.Buffer
		oversized bool
	)
	flush := func() {
		switch {
		case oversized:
			prefix := data.Bytes()
			if len(prefix) > oversizedKeep {
				prefix = prefix[:oversizedKeep]
			}
			s.dispatch(ctx, h, id, bytes.Clone(prefix), true)
		case data.Len() > 0:
			s.dispatch(ctx, h, id, bytes.Clone(data.Bytes()), false)
		}
		id = ""
		data.Reset()
		oversized = false
	}
	handle := func(line []byte, truncated bool) {
		if len(line) == 0 {
			flush()
			return
		}
		if line[0] == ':' {
			return
		}
		field, value, _ := bytes.Cut(line, []byte(":"))
		value = bytes.TrimPrefix(value, []byte(" "))
		switch string(field) {
		case "id":
			if !truncated {
				id = string(value)
			}
		case "data":
			if !oversized && (truncated || data.Len()+len(value)+1 > MaxEventBytes) {
				oversized = true
				if data.Len() > oversizedKeep {
					data.Truncate(oversizedKeep)
				}
			}
			if oversized {
				if room := oversizedKeep - data.Len(); room > 0 {
					data.Write(value[:min(room, len(value))])
				}
				return
			}
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.Write(value)
		}
	}
	for {
		line, truncated, err := readLine(reader, MaxEventBytes)
		if err != nil {
			if len(line) > 0 {
				handle(line, truncated)
			}
			flush()
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("读取事件流失败: %w", err)
		}
		handle(line, truncated)
	}
}

// readLine 读取一行并去掉行尾；超过 limit 的部分被丢弃，truncated 为真。
func readLine(r *bufio.Reader, limit int) (line []byte, truncated bool, err error) {
	for {
		chunk, rerr := r.ReadSlice('\n')
		if room := limit - len(line); room > 0 {
			if len(chunk) > room {
				chunk, truncated = chunk[:room], true
			}
			line = append(line, chunk...)
		} else if len(chunk) > 0 {
			truncated = true
		}
		if errors.Is(rerr, bufio.ErrBufferFull) {
			continue
		}
		line = bytes.TrimSuffix(line, []byte("\n"))
		line = bytes.TrimSuffix(line, []byte("\r"))
		return line, truncated, rerr
	}
}

func (s *Subscriber) dispatch(ctx context.Context, h Handler, id string, data []byte, oversized bool) {
	if ctx.Err() != nil {
		return
	}
	if id == "" {
		id = gjson.GetBytes(data, "event_id").String()
	}
	if oversized {
		logger.Warnf("事件流 %s 事件 %q 超过 %d 字节，已截断", s.stream, id, MaxEventBytes)
	} else {
		logger.LogBrokerEvent(s.stream, id, string(data))
	}
	now := time.Now()
	h(ctx, Message{Stream: s.stream, ID: id, Data: data, ReceivedAt: now, Oversized: oversized})

	s.statsMu.Lock()
	s.stats.Received++
	s.stats.LastEventAt = now
	if id != "" {
		s.lastID = id
		s.stats.LastEventID = id
	}
	s.statsMu.Unlock()
}

func (s *Subscriber) resumeID(ctx context.Context) (string, error) {
	s.statsMu.Lock()
	last := s.lastID
	s.statsMu.Unlock()
	if last != "" || s.cursor == nil {
		return last, nil
	}
	id, err := s.cursor.Get(ctx, s.stream)
	if err != nil {
		return "", fmt.Errorf("读取 %s 游标失败: %w", s.stream, err)
	}
	return id, nil
}

// Stats 返回统计快照。
func (s *Subscriber) Stats() Stats {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	return s.stats
}

func (s *Subscriber) setConnected(v bool) {
	s.statsMu.Lock()
	s.stats.Connected = v
	if v {
		s.stats.LastError = ""
	}
	s.statsMu.Unlock()
}

func (s *Subscriber) recordReconnect(err error) {
	s.statsMu.Lock()
	s.stats.Reconnects++
	if err != nil {
		s.stats.LastError = err.Error()
	}
	s.statsMu.Unlock()
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		d = time.Second
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func nextDelay(current, ceiling time.Duration) time.Duration {
	if current <= 0 {
		return time.Second
	}
	next := current * 2
	if next > ceiling {
		next = ceiling
	}
	return next
}
