package ledger

import (
	"context"
	"fmt"
	"strings"
	"time"

	"tradedesk/internal/logger"
	"tradedesk/internal/order"
	"tradedesk/internal/store"
	"tradedesk/internal/store/model"

	"github.com/shopspring/decimal"
)

// Outcome 描述一次事件应用的结果。
type Outcome string

const (
	OutcomeApplied Outcome = "applied"
	OutcomeIgnored Outcome = "ignored"
)

// OrderUpdate 是券商推送的订单状态变化。
type OrderUpdate struct {
	BrokerOrderID  string
	Status         order.Status
	FilledQty      *decimal.Decimal
	FilledAvgPrice *decimal.Decimal
	FilledAt       *time.Time
	CanceledAt     *time.Time
	ExpiredAt      *time.Time
}

// UpdateOrder 推进订单状态机。终态订单与非终态事件被忽略；
// 一次更新的所有写入在同一个存储事务中完成。
func (s *Service) UpdateOrder(ctx context.Context, u OrderUpdate) (Outcome, error) {
	id := strings.TrimSpace(u.BrokerOrderID)
	if id == "" {
		return OutcomeIgnored, order.Invalid("broker_order_id", "is required")
	}
	unlock := s.locks.Lock(id)
	defer unlock()

	o, err := s.store.Orders().FindByBrokerOrderID(ctx, id)
	if err != nil {
		return OutcomeIgnored, fmt.Errorf("%w: load order: %w", order.ErrPersistence, err)
	}
	if o == nil {
		return OutcomeIgnored, order.NotFound("broker order", id)
	}
	current := order.Status(o.Status)
	if !current.CanTransition(u.Status) {
		logger.Debugf("订单 %s 状态 %s 忽略事件 %s", o.ID, current, u.Status)
		return OutcomeIgnored, nil
	}

	var (
		typ  string
		fees map[string]decimal.Decimal
	)
	switch u.Status {
	case order.StatusFilled:
		if u.FilledQty == nil || u.FilledAvgPrice == nil || !u.FilledQty.IsPositive() || !u.FilledAvgPrice.IsPositive() {
			return OutcomeIgnored, order.Invalid("fill", "filled_qty and filled_avg_price must be positive")
		}
		settled := order.RoundAmount(u.FilledQty.Mul(*u.FilledAvgPrice))
		f, err := s.fees.AtFill(ctx, settled, o.HasAgent())
		if err != nil {
			return OutcomeIgnored, fmt.Errorf("%w: commission rates: %w", order.ErrPersistence, err)
		}
		fees = f.Rows()
		o.FilledQuantity = u.FilledQty
		o.FilledAveragePrice = u.FilledAvgPrice
		o.FilledAt = u.FilledAt
		o.ApproximateTotal = order.RoundAmount(settled.Add(f.Platform))
		typ = EventOrderFilled
	case order.StatusCanceled:
		o.CanceledAt = u.CanceledAt
		typ = EventOrderCanceled
	case order.StatusExpired:
		o.ExpiredAt = u.ExpiredAt
		typ = EventOrderExpired
	case order.StatusRejected:
		typ = EventOrderRejected
	}
	o.Status = string(u.Status)

	err = store.WithinTx(ctx, s.store, func(uow store.UnitOfWork) error {
		tx, err := uow.Transactions().FindByOperationID(ctx, o.ID)
		if err != nil {
			return fmt.Errorf("load transaction: %w", err)
		}
		if tx == nil {
			return order.NotFound("transaction for order", o.ID)
		}
		settleTransaction(tx, o)
		if err := uow.Transactions().Save(ctx, tx); err != nil {
			return fmt.Errorf("save transaction: %w", err)
		}
		for name, amount := range fees {
			if err := uow.OrderCommissions().Upsert(ctx, o.ID, name, amount); err != nil {
				return fmt.Errorf("upsert commission %s: %w", name, err)
			}
		}
		if err := uow.Orders().Save(ctx, o); err != nil {
			return fmt.Errorf("save order: %w", err)
		}
		return nil
	})
	if err != nil {
		if IsNotFound(err) {
			return OutcomeIgnored, err
		}
		return OutcomeIgnored, fmt.Errorf("%w: %w", order.ErrPersistence, err)
	}
	logger.Infow("订单状态已更新", "order_id", o.ID, "broker_order_id", id, "status", o.Status,
		"approximate_total", o.ApproximateTotal.String())
	s.publish(ctx, typ, o)
	return OutcomeApplied, nil
}

// settleTransaction 成交时按实际金额结清，其余终态作废。
func settleTransaction(tx *model.TransactionModel, o *model.OrderModel) {
	if o.Status != string(order.StatusFilled) {
		tx.Status = model.TransactionCanceled
		return
	}
	tx.Status = model.TransactionComplete
	if o.Side == string(order.SideBuy) {
		tx.Value = o.ApproximateTotal.Neg()
		return
	}
	tx.Value = order.RoundAmount(o.FilledQuantity.Mul(*o.FilledAveragePrice))
}

// TransferUpdate 是券商推送的出入金状态变化。
type TransferUpdate struct {
	TransferID string
	StatusTo   string
}

var transferStatus = map[string]model.TransactionStatus{
	"COMPLETE":         model.TransactionComplete,
	"SENT_TO_CLEARING": model.TransactionProcessing,
	"REJECTED":         model.TransactionCanceled,
	"FAILED":           model.TransactionCanceled,
	"CANCELED":         model.TransactionCanceled,
}

// TransferStatus 把券商转账状态映射为流水状态；第二个返回值为 false 表示无需处理。
func TransferStatus(statusTo string) (model.TransactionStatus, bool) {
	st, ok := transferStatus[strings.ToUpper(strings.TrimSpace(statusTo))]
	return st, ok
}

// ApplyTransferStatus 更新以 transfer id 为 operation_id 的 RECHARGE 流水。
func (s *Service) ApplyTransferStatus(ctx context.Context, u TransferUpdate) (Outcome, error) {
	id := strings.TrimSpace(u.TransferID)
	if id == "" {
		return OutcomeIgnored, order.Invalid("transfer_id", "is required")
	}
	next, ok := TransferStatus(u.StatusTo)
	if !ok {
		return OutcomeIgnored, nil
	}
	unlock := s.locks.Lock("transfer:" + id)
	defer unlock()

	outcome := OutcomeIgnored
	err := store.WithinTx(ctx, s.store, func(uow store.UnitOfWork) error {
		tx, err := uow.Transactions().FindByOperationID(ctx, id)
		if err != nil {
			return fmt.Errorf("%w: load transaction: %w", order.ErrPersistence, err)
		}
		if tx == nil {
			return order.NotFound("transfer", id)
		}
		if tx.Type != model.TransactionRecharge {
			return order.Invalid("transfer_id", fmt.Sprintf("operation %s is a %s transaction", id, tx.Type))
		}
		if tx.Status == next || tx.Status == model.TransactionComplete || tx.Status == model.TransactionCanceled {
			return nil
		}
		tx.Status = next
		if err := uow.Transactions().Save(ctx, tx); err != nil {
			return fmt.Errorf("%w: save transaction: %w", order.ErrPersistence, err)
		}
		outcome = OutcomeApplied
		return nil
	})
	if err != nil {
		return OutcomeIgnored, err
	}
	if outcome == OutcomeApplied {
		logger.Infow("入金流水状态已更新", "transfer_id", id, "status", next)
	}
	return outcome, nil
}
