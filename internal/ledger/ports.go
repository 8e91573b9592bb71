package ledger

import (
	"context"
	"fmt"
	"time"

	"tradedesk/internal/commission"
	"tradedesk/internal/gateway/broker"
	"tradedesk/internal/order"
	"tradedesk/internal/store"
	"tradedesk/internal/store/model"

	"github.com/shopspring/decimal"
)

// Broker 是券商下单/撤单能力，由 broker.Client 实现。
type Broker interface {
	Submit(ctx context.Context, brokerAccountID string, payload broker.OrderPayload) (broker.Ack, error)
	Cancel(ctx context.Context, brokerAccountID, brokerOrderID string) (bool, error)
}

// OrderFactory 校验下单请求并计算名义金额，由 order.Factory 实现。
type OrderFactory interface {
	Create(ctx context.Context, req order.Request) (order.Result, error)
}

// FeeCalculator 由 commission.Calculator 实现。
type FeeCalculator interface {
	AtSubmission(ctx context.Context, notional decimal.Decimal, hasAgent bool) (commission.Fees, error)
	AtFill(ctx context.Context, settled decimal.Decimal, hasAgent bool) (commission.Fees, error)
}

// AccountDirectory 按本地账户 id 查找券商账户。未找到返回 order.ErrNotFound。
type AccountDirectory interface {
	FindAccount(ctx context.Context, accountID string) (*model.AccountModel, error)
}

// Lifecycle event types.
const (
	EventOrderAccepted = "order.accepted"
	EventOrderFilled   = "order.filled"
	EventOrderCanceled = "order.canceled"
	EventOrderExpired  = "order.expired"
	EventOrderRejected = "order.rejected"
)

// LifecycleEvent 在账本提交后发给通知服务。
type LifecycleEvent struct {
	Type             string          `json:"type"`
	OrderID          string          `json:"order_id"`
	BrokerOrderID    string          `json:"broker_order_id,omitempty"`
	AccountID        string          `json:"account_id"`
	Symbol           string          `json:"symbol"`
	Side             string          `json:"side"`
	Status           string          `json:"status"`
	ApproximateTotal decimal.Decimal `json:"approximate_total"`
	OccurredAt       time.Time       `json:"occurred_at"`
}

// EventPublisher 投递生命周期事件；失败只记录日志，不回滚账本。
type EventPublisher interface {
	Publish(ctx context.Context, ev LifecycleEvent) error
}

// StoreAccounts 基于 accounts 表实现 AccountDirectory。
type StoreAccounts struct {
	repo store.AccountRepository
}

func NewAccountDirectory(repo store.AccountRepository) *StoreAccounts {
	return &StoreAccounts{repo: repo}
}

func (d *StoreAccounts) FindAccount(ctx context.Context, accountID string) (*model.AccountModel, error) {
	acct, err := d.repo.FindByID(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("%w: load account %s: %w", order.ErrPersistence, accountID, err)
	}
	if acct == nil {
		return nil, order.NotFound("account", accountID)
	}
	return acct, nil
}
