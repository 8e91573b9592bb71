package sqlite

import (
	"context"
	"errors"

	"tradedesk/internal/store/model"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const (
	sideBuy        = "BUY"
	sideSell       = "SELL"
	statusAccepted = "ACCEPTED"
	statusFilled   = "FILLED"
)

// orderRepository implements the OrderRepository interface.
type orderRepository struct {
	db *gorm.DB
}

// NewOrderRepo creates a new orderRepo.
func NewOrderRepo(db *gorm.DB) *orderRepository {
	return &orderRepository{db: db}
}

// Create inserts a new order; a duplicate id or broker_order_id is an error.
func (r *orderRepository) Create(ctx context.Context, order *model.OrderModel) error {
	if order == nil {
		return errors.New("order cannot be nil")
	}
	return r.db.WithContext(ctx).Create(order).Error
}

// Save updates every column of an existing order.
func (r *orderRepository) Save(ctx context.Context, order *model.OrderModel) error {
	if order == nil {
		return errors.New("order cannot be nil")
	}
	return r.db.WithContext(ctx).Save(order).Error
}

func (r *orderRepository) FindByID(ctx context.Context, id string) (*model.OrderModel, error) {
	return r.findOne(ctx, "id = ?", id)
}

func (r *orderRepository) FindByBrokerOrderID(ctx context.Context, brokerOrderID string) (*model.OrderModel, error) {
	return r.findOne(ctx, "broker_order_id = ?", brokerOrderID)
}

func (r *orderRepository) findOne(ctx context.Context, query string, arg any) (*model.OrderModel, error) {
	var order model.OrderModel
	err := r.db.WithContext(ctx).Where(query, arg).First(&order).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// Holdings sums in Go with decimal; quantities are stored as text.
func (r *orderRepository) Holdings(ctx context.Context, accountID, symbol string) (decimal.Decimal, error) {
	var orders []model.OrderModel
	if err := r.db.WithContext(ctx).
		Select("side", "status", "quantity", "filled_quantity").
		Where("account_id = ? AND symbol = ? AND status IN ?", accountID, symbol, []string{statusFilled, statusAccepted}).
		Find(&orders).Error; err != nil {
		return decimal.Zero, err
	}
	held := decimal.Zero
	for _, o := range orders {
		qty := o.Quantity
		if o.Status == statusFilled && o.FilledQuantity != nil {
			qty = *o.FilledQuantity
		}
		switch {
		case o.Side == sideBuy && o.Status == statusFilled:
			held = held.Add(qty)
		case o.Side == sideSell:
			// 未成交的卖单先占用持仓，避免重复卖出。
			held = held.Sub(qty)
		}
	}
	return held, nil
}
