package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"tradedesk/internal/commission"
	"tradedesk/internal/gateway/broker"
	"tradedesk/internal/logger"
	"tradedesk/internal/order"
	"tradedesk/internal/pkg/convert"
	"tradedesk/internal/pkg/keylock"
	"tradedesk/internal/store"
	"tradedesk/internal/store/model"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

const compensateTimeout = 10 * time.Second

// Options 控制账本行为。
type Options struct {
	EnforceBalance  bool
	EnforceHoldings bool
	LockStripes     int
}

// Service 是订单账本：下单、撤单、按券商事件推进订单状态。
type Service struct {
	store     store.Store
	accounts  AccountDirectory
	factory   OrderFactory
	fees      FeeCalculator
	broker    Broker
	publisher EventPublisher
	opts      Options

	// locks 按券商订单号加锁；accountLocks 按账户加锁，两者分开以免同一条纹嵌套。
	locks        *keylock.Striped
	accountLocks *keylock.Striped

	now   func() time.Time
	newID func() string
}

func NewService(st store.Store, accounts AccountDirectory, factory OrderFactory, fees FeeCalculator, b Broker, publisher EventPublisher, opts Options) *Service {
	return &Service{
		store:     st,
		accounts:  accounts,
		factory:   factory,
		fees:      fees,
		broker:    b,
		publisher: publisher,
		opts:      opts,
		now:       func() time.Time { return time.Now().UTC() },
		newID:     uuid.NewString,

		locks:        keylock.New(opts.LockStripes),
		accountLocks: keylock.New(opts.LockStripes),
	}
}

// CreateOrderRequest 是一次下单：订单参数加可选的推荐人账户。
type CreateOrderRequest struct {
	order.Request
	AgentAccountID string
}

// CreateOrder 校验、计费、提交券商，再在一个存储事务里写入订单、资金流水与佣金。
func (s *Service) CreateOrder(ctx context.Context, accountID string, req CreateOrderRequest) (*OrderView, error) {
	acct, err := s.accounts.FindAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	var agentID *string
	if id := strings.TrimSpace(req.AgentAccountID); id != "" {
		if _, err := s.accounts.FindAccount(ctx, id); err != nil {
			return nil, err
		}
		agentID = &id
	}

	res, err := s.factory.Create(ctx, req.Request)
	if err != nil {
		return nil, err
	}
	fees, err := s.fees.AtSubmission(ctx, res.Amount, agentID != nil)
	if err != nil {
		return nil, fmt.Errorf("%w: commission rates: %w", order.ErrPersistence, err)
	}
	total := order.RoundAmount(res.Amount.Add(fees.Platform))

	// 同一账户的余额/持仓检查、券商提交与落库串行执行。
	release := s.accountLocks.Lock(acct.ID)
	defer release()
	if err := s.checkCoverage(ctx, acct.ID, res.Request, total); err != nil {
		return nil, err
	}

	orderID := s.newID()
	ack, err := s.broker.Submit(ctx, acct.BrokerAccountID, brokerPayload(orderID, res.Request))
	if err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(ack.BrokerOrderID)
	defer unlock()

	brokerOrderID := ack.BrokerOrderID
	o := &model.OrderModel{
		ID:               orderID,
		BrokerOrderID:    &brokerOrderID,
		AccountID:        acct.ID,
		AgentAccountID:   agentID,
		Symbol:           res.Request.Symbol,
		Side:             string(res.Request.Side),
		Kind:             string(res.Request.Kind),
		TimeInForce:      res.Request.TimeInForce,
		Quantity:         res.Request.Quantity,
		LimitPrice:       res.Request.LimitPrice,
		StopPrice:        res.Request.StopPrice,
		ApproximateTotal: total,
		Status:           string(order.StatusAccepted),
		BrokerRaw:        datatypes.JSON(ack.Raw),
	}
	tx := submissionTransaction(s.newID(), o, res.Amount, total)
	rows := fees.Rows()

	err = store.WithinTx(ctx, s.store, func(uow store.UnitOfWork) error {
		if err := uow.Orders().Create(ctx, o); err != nil {
			return fmt.Errorf("create order: %w", err)
		}
		if err := uow.Transactions().Create(ctx, tx); err != nil {
			return fmt.Errorf("create transaction: %w", err)
		}
		for name, amount := range rows {
			if err := uow.OrderCommissions().Upsert(ctx, o.ID, name, amount); err != nil {
				return fmt.Errorf("create commission %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		s.compensate(ctx, acct.BrokerAccountID, o, err)
		return nil, fmt.Errorf("%w: %w", order.ErrPersistence, err)
	}

	logger.Infow("订单已受理", "order_id", o.ID, "broker_order_id", brokerOrderID,
		"symbol", o.Symbol, "side", o.Side, "kind", o.Kind, "approximate_total", total.String())
	s.publish(ctx, EventOrderAccepted, o)
	return newOrderView(o, rows), nil
}

// checkCoverage 买单要求余额覆盖预估总额，卖单要求持仓覆盖数量。
func (s *Service) checkCoverage(ctx context.Context, accountID string, req order.Request, total decimal.Decimal) error {
	switch {
	case req.Side == order.SideBuy && s.opts.EnforceBalance:
		balance, err := s.store.Transactions().Balance(ctx, accountID)
		if err != nil {
			return fmt.Errorf("%w: balance: %w", order.ErrPersistence, err)
		}
		if balance.LessThan(total) {
			return fmt.Errorf("%w: balance %s below required %s", order.ErrInsufficientFunds,
				balance.StringFixed(2), total.StringFixed(2))
		}
	case req.Side == order.SideSell && s.opts.EnforceHoldings:
		held, err := s.store.Orders().Holdings(ctx, accountID, req.Symbol)
		if err != nil {
			return fmt.Errorf("%w: holdings: %w", order.ErrPersistence, err)
		}
		if held.LessThan(req.Quantity) {
			return fmt.Errorf("%w: %s holds %s, selling %s", order.ErrInsufficientHoldings,
				req.Symbol, held.String(), req.Quantity.String())
		}
	}
	return nil
}

// compensate 账本写入失败时尽力撤掉券商侧已受理的订单。
func (s *Service) compensate(ctx context.Context, brokerAccountID string, o *model.OrderModel, cause error) {
	brokerOrderID := ""
	if o.BrokerOrderID != nil {
		brokerOrderID = *o.BrokerOrderID
	}
	logger.Errorw("订单落库失败，尝试撤销券商订单", "order_id", o.ID, "broker_order_id", brokerOrderID, "error", cause)
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), compensateTimeout)
	defer cancel()
	ok, err := s.broker.Cancel(cctx, brokerAccountID, brokerOrderID)
	switch {
	case err != nil:
		logger.Errorw("撤销孤儿订单失败，需人工处理", "broker_order_id", brokerOrderID, "error", err)
	case !ok:
		logger.Warnw("券商未确认撤销孤儿订单", "broker_order_id", brokerOrderID)
	default:
		logger.Infow("孤儿订单已撤销", "broker_order_id", brokerOrderID)
	}
}

// CancelOrder 请求券商撤单；只有 204 视为成功，本地状态等待事件推进。
func (s *Service) CancelOrder(ctx context.Context, accountID, orderID string) (bool, error) {
	o, err := s.loadOrder(ctx, accountID, orderID)
	if err != nil {
		return false, err
	}
	acct, err := s.accounts.FindAccount(ctx, o.AccountID)
	if err != nil {
		return false, err
	}
	if o.BrokerOrderID == nil || *o.BrokerOrderID == "" {
		return false, order.NotFound("broker order", o.ID)
	}
	ok, err := s.broker.Cancel(ctx, acct.BrokerAccountID, *o.BrokerOrderID)
	if err != nil {
		return false, err
	}
	logger.Infow("撤单请求已发送", "order_id", o.ID, "broker_order_id", *o.BrokerOrderID, "confirmed", ok)
	return ok, nil
}

// GetOrder 返回订单及其佣金。accountID 非空时只允许查看本账户订单。
func (s *Service) GetOrder(ctx context.Context, accountID, orderID string) (*OrderView, error) {
	o, err := s.loadOrder(ctx, accountID, orderID)
	if err != nil {
		return nil, err
	}
	rows, err := s.store.OrderCommissions().ListByOrder(ctx, o.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: list commissions: %w", order.ErrPersistence, err)
	}
	fees := make(map[string]decimal.Decimal, len(rows))
	for _, r := range rows {
		fees[r.CommissionName] = r.Amount
	}
	return newOrderView(o, fees), nil
}

// ListTransactions 返回账户最近的资金流水及当前余额。
func (s *Service) ListTransactions(ctx context.Context, accountID string, limit int) (*TransactionsView, error) {
	if _, err := s.accounts.FindAccount(ctx, accountID); err != nil {
		return nil, err
	}
	txs, err := s.store.Transactions().ListByAccount(ctx, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: list transactions: %w", order.ErrPersistence, err)
	}
	balance, err := s.Balance(ctx, accountID)
	if err != nil {
		return nil, err
	}
	return &TransactionsView{AccountID: accountID, Balance: balance, Items: txs}, nil
}

// Balance 为 COMPLETE 与 PROCESSING 流水之和。
func (s *Service) Balance(ctx context.Context, accountID string) (decimal.Decimal, error) {
	balance, err := s.store.Transactions().Balance(ctx, accountID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: balance: %w", order.ErrPersistence, err)
	}
	return balance, nil
}

func (s *Service) loadOrder(ctx context.Context, accountID, orderID string) (*model.OrderModel, error) {
	o, err := s.store.Orders().FindByID(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("%w: load order: %w", order.ErrPersistence, err)
	}
	if o == nil || (accountID != "" && o.AccountID != accountID) {
		return nil, order.NotFound("order", orderID)
	}
	return o, nil
}

func (s *Service) publish(ctx context.Context, typ string, o *model.OrderModel) {
	if s.publisher == nil {
		return
	}
	ev := LifecycleEvent{
		Type:             typ,
		OrderID:          o.ID,
		AccountID:        o.AccountID,
		Symbol:           o.Symbol,
		Side:             o.Side,
		Status:           o.Status,
		ApproximateTotal: o.ApproximateTotal,
		OccurredAt:       s.now(),
	}
	if o.BrokerOrderID != nil {
		ev.BrokerOrderID = *o.BrokerOrderID
	}
	if err := s.publisher.Publish(context.WithoutCancel(ctx), ev); err != nil {
		logger.Warnw("生命周期事件投递失败", "type", typ, "order_id", o.ID, "error", err)
	}
}

func brokerPayload(orderID string, req order.Request) broker.OrderPayload {
	return broker.OrderPayload{
		Symbol:        req.Symbol,
		Qty:           req.Quantity.String(),
		Side:          strings.ToLower(string(req.Side)),
		Type:          strings.ToLower(string(req.Kind)),
		TimeInForce:   req.TimeInForce,
		LimitPrice:    convert.DecimalString(req.LimitPrice),
		StopPrice:     convert.DecimalString(req.StopPrice),
		ClientOrderID: orderID,
	}
}

// submissionTransaction BUY 预扣含佣金的总额（PROCESSING），SELL 记入名义金额（PENDING）。
func submissionTransaction(id string, o *model.OrderModel, amount, total decimal.Decimal) *model.TransactionModel {
	tx := &model.TransactionModel{ID: id, AccountID: o.AccountID, OperationID: o.ID}
	if o.Side == string(order.SideBuy) {
		tx.Type = model.TransactionBuy
		tx.Value = total.Neg()
		tx.Status = model.TransactionProcessing
	} else {
		tx.Type = model.TransactionSell
		tx.Value = order.RoundAmount(amount)
		tx.Status = model.TransactionPending
	}
	return tx
}

// IsNotFound 报告错误是否为实体不存在。
func IsNotFound(err error) bool { return errors.Is(err, order.ErrNotFound) }

var _ FeeCalculator = (*commission.Calculator)(nil)
