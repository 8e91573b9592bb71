package events

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"tradedesk/internal/pkg/convert"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
)

// ErrMalformed 表示事件无法解析，应进入死信。
var ErrMalformed = errors.New("malformed event")

// OrderEventKind 是归一化后的订单事件类型。
type OrderEventKind string

const (
	KindAccepted    OrderEventKind = "accepted"
	KindFill        OrderEventKind = "fill"
	KindPartialFill OrderEventKind = "partial_fill"
	KindCanceled    OrderEventKind = "canceled"
	KindExpired     OrderEventKind = "expired"
	KindRejected    OrderEventKind = "rejected"
	KindOther       OrderEventKind = "other"
)

var orderEventKinds = map[string]OrderEventKind{
	"accepted":     KindAccepted,
	"new":          KindAccepted,
	"pending_new":  KindAccepted,
	"fill":         KindFill,
	"filled":       KindFill,
	"partial_fill": KindPartialFill,
	"canceled":     KindCanceled,
	"cancelled":    KindCanceled,
	"expired":      KindExpired,
	"rejected":     KindRejected,
}

// OrderEvent 是交易事件流中的一条订单状态变化。
type OrderEvent struct {
	EventID        string
	Event          string
	Kind           OrderEventKind
	BrokerOrderID  string
	Status         string
	FilledQty      *decimal.Decimal
	FilledAvgPrice *decimal.Decimal
	FilledAt       *time.Time
	CanceledAt     *time.Time
	ExpiredAt      *time.Time
	FailedAt       *time.Time
}

// ParseOrderEvent 同时接受 {event, event_id, order:{...}} 与扁平的 {id, status, ...}。
func ParseOrderEvent(data []byte) (OrderEvent, error) {
	if !gjson.ValidBytes(data) {
		return OrderEvent{}, fmt.Errorf("%w: invalid json", ErrMalformed)
	}
	top := gjson.ParseBytes(data)
	node := top
	if nested := top.Get("order"); nested.IsObject() {
		node = nested
	}
	ev := OrderEvent{
		EventID:       top.Get("event_id").String(),
		Event:         strings.ToLower(strings.TrimSpace(top.Get("event").String())),
		BrokerOrderID: strings.TrimSpace(node.Get("id").String()),
		Status:        strings.ToLower(strings.TrimSpace(node.Get("status").String())),
	}
	if ev.BrokerOrderID == "" {
		return OrderEvent{}, fmt.Errorf("%w: order id missing", ErrMalformed)
	}
	name := ev.Event
	if name == "" {
		name = ev.Status
	}
	if name == "" {
		return OrderEvent{}, fmt.Errorf("%w: order %s has neither event nor status", ErrMalformed, ev.BrokerOrderID)
	}
	ev.Kind = KindOther
	if k, ok := orderEventKinds[name]; ok {
		ev.Kind = k
	}

	if v, ok := convert.JSONDecimal(node.Get("filled_qty")); ok {
		ev.FilledQty = &v
	}
	if v, ok := convert.JSONDecimal(node.Get("filled_avg_price")); ok {
		ev.FilledAvgPrice = &v
	}
	var err error
	for _, f := range []struct {
		key string
		dst **time.Time
	}{
		{"filled_at", &ev.FilledAt},
		{"canceled_at", &ev.CanceledAt},
		{"expired_at", &ev.ExpiredAt},
		{"failed_at", &ev.FailedAt},
	} {
		if *f.dst, err = parseTime(node.Get(f.key)); err != nil {
			return OrderEvent{}, fmt.Errorf("%w: %s: %v", ErrMalformed, f.key, err)
		}
	}
	if ev.Kind == KindFill {
		if ev.FilledQty == nil || ev.FilledAvgPrice == nil {
			return OrderEvent{}, fmt.Errorf("%w: fill for %s lacks filled_qty/filled_avg_price", ErrMalformed, ev.BrokerOrderID)
		}
		if ev.FilledAt == nil {
			if at, perr := parseTime(top.Get("at")); perr == nil && at != nil {
				ev.FilledAt = at
			}
		}
	}
	return ev, nil
}

// TransferEvent 是出入金状态变化。
type TransferEvent struct {
	EventID    string
	TransferID string
	AccountID  string
	StatusFrom string
	StatusTo   string
	At         *time.Time
}

// ParseTransferEvent 解析转账状态事件。
func ParseTransferEvent(data []byte) (TransferEvent, error) {
	if !gjson.ValidBytes(data) {
		return TransferEvent{}, fmt.Errorf("%w: invalid json", ErrMalformed)
	}
	top := gjson.ParseBytes(data)
	ev := TransferEvent{
		EventID:    top.Get("event_id").String(),
		TransferID: strings.TrimSpace(top.Get("transfer_id").String()),
		AccountID:  strings.TrimSpace(top.Get("account_id").String()),
		StatusFrom: strings.ToUpper(strings.TrimSpace(top.Get("status_from").String())),
		StatusTo:   strings.ToUpper(strings.TrimSpace(top.Get("status_to").String())),
	}
	if ev.TransferID == "" || ev.StatusTo == "" {
		return TransferEvent{}, fmt.Errorf("%w: transfer_id and status_to are required", ErrMalformed)
	}
	at, err := parseTime(top.Get("at"))
	if err != nil {
		return TransferEvent{}, fmt.Errorf("%w: at: %v", ErrMalformed, err)
	}
	ev.At = at
	return ev, nil
}

func parseTime(r gjson.Result) (*time.Time, error) {
	s := strings.TrimSpace(r.String())
	if !r.Exists() || r.Type == gjson.Null || s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return nil, err
	}
	t = t.UTC()
	return &t, nil
}
