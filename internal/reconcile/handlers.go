package reconcile

import (
	"context"
	"errors"
	"fmt"

	"tradedesk/internal/gateway/events"
	"tradedesk/internal/ledger"
	"tradedesk/internal/logger"
	"tradedesk/internal/order"
)

// ErrUnprocessable 表示事件可以解析但账本不接受，直接进入死信。
var ErrUnprocessable = errors.New("unprocessable event")

// Ledger 是对账需要的账本能力，由 ledger.Service 实现。
type Ledger interface {
	UpdateOrder(ctx context.Context, u ledger.OrderUpdate) (ledger.Outcome, error)
	ApplyTransferStatus(ctx context.Context, u ledger.TransferUpdate) (ledger.Outcome, error)
}

// EventHandler 处理某一事件流上的消息。
type EventHandler interface {
	Stream() string
	Handle(ctx context.Context, msg events.Message) error
}

// HandlerRegistry 按事件流名称分发。
type HandlerRegistry struct {
	handlers map[string]EventHandler
}

func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{handlers: make(map[string]EventHandler)}
}

// Register 同名事件流的处理器会被替换。
func (r *HandlerRegistry) Register(h EventHandler) {
	if h == nil {
		return
	}
	r.handlers[h.Stream()] = h
}

func (r *HandlerRegistry) Get(stream string) (EventHandler, bool) {
	h, ok := r.handlers[stream]
	return h, ok
}

// RegisterDefaultHandlers 注册交易与转账两条事件流的处理器。
func (r *HandlerRegistry) RegisterDefaultHandlers(l Ledger) {
	r.Register(&OrderEventHandler{ledger: l})
	r.Register(&TransferEventHandler{ledger: l})
	logger.Debugf("reconcile: registered %d stream handlers", len(r.handlers))
}

// OrderEventHandler 把交易事件转成 ledger.OrderUpdate。
type OrderEventHandler struct {
	ledger Ledger
}

func (h *OrderEventHandler) Stream() string { return events.StreamTrades }

func (h *OrderEventHandler) Handle(ctx context.Context, msg events.Message) error {
	ev, err := events.ParseOrderEvent(msg.Data)
	if err != nil {
		return err
	}
	u := ledger.OrderUpdate{
		BrokerOrderID:  ev.BrokerOrderID,
		FilledQty:      ev.FilledQty,
		FilledAvgPrice: ev.FilledAvgPrice,
		FilledAt:       ev.FilledAt,
		CanceledAt:     ev.CanceledAt,
		ExpiredAt:      ev.ExpiredAt,
	}
	switch ev.Kind {
	case events.KindFill:
		u.Status = order.StatusFilled
	case events.KindCanceled:
		u.Status = order.StatusCanceled
	case events.KindExpired:
		u.Status = order.StatusExpired
	case events.KindRejected:
		return fmt.Errorf("%w: broker rejected accepted order %s", ErrUnprocessable, ev.BrokerOrderID)
	default:
		// accepted、partial_fill 等不改变本地状态。
		logger.Debugf("reconcile: skip %s event for %s", ev.Kind, ev.BrokerOrderID)
		return nil
	}
	_, err = h.ledger.UpdateOrder(ctx, u)
	return err
}

// TransferEventHandler 把转账状态事件转成 ledger.TransferUpdate。
type TransferEventHandler struct {
	ledger Ledger
}

func (h *TransferEventHandler) Stream() string { return events.StreamTransfers }

func (h *TransferEventHandler) Handle(ctx context.Context, msg events.Message) error {
	ev, err := events.ParseTransferEvent(msg.Data)
	if err != nil {
		return err
	}
	if _, ok := ledger.TransferStatus(ev.StatusTo); !ok {
		logger.Debugf("reconcile: skip transfer %s status %s", ev.TransferID, ev.StatusTo)
		return nil
	}
	_, err = h.ledger.ApplyTransferStatus(ctx, ledger.TransferUpdate{TransferID: ev.TransferID, StatusTo: ev.StatusTo})
	return err
}
