package ledger

import (
	"time"

	"tradedesk/internal/store/model"

	"github.com/shopspring/decimal"
)

// OrderView 是对外展示的订单摘要。
type OrderView struct {
	ID                 string
	BrokerOrderID      string
	AccountID          string
	AgentAccountID     string
	Symbol             string
	Side               string
	Kind               string
	TimeInForce        string
	Status             string
	Quantity           decimal.Decimal
	LimitPrice         *decimal.Decimal
	StopPrice          *decimal.Decimal
	FilledQuantity     *decimal.Decimal
	FilledAveragePrice *decimal.Decimal
	ApproximateTotal   decimal.Decimal
	Commissions        map[string]decimal.Decimal
	FilledAt           *time.Time
	CanceledAt         *time.Time
	ExpiredAt          *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

func newOrderView(o *model.OrderModel, fees map[string]decimal.Decimal) *OrderView {
	v := &OrderView{
		ID:                 o.ID,
		AccountID:          o.AccountID,
		Symbol:             o.Symbol,
		Side:               o.Side,
		Kind:               o.Kind,
		TimeInForce:        o.TimeInForce,
		Status:             o.Status,
		Quantity:           o.Quantity,
		LimitPrice:         o.LimitPrice,
		StopPrice:          o.StopPrice,
		FilledQuantity:     o.FilledQuantity,
		FilledAveragePrice: o.FilledAveragePrice,
		ApproximateTotal:   o.ApproximateTotal,
		Commissions:        fees,
		FilledAt:           o.FilledAt,
		CanceledAt:         o.CanceledAt,
		ExpiredAt:          o.ExpiredAt,
		CreatedAt:          o.CreatedAt,
		UpdatedAt:          o.UpdatedAt,
	}
	if o.BrokerOrderID != nil {
		v.BrokerOrderID = *o.BrokerOrderID
	}
	if o.AgentAccountID != nil {
		v.AgentAccountID = *o.AgentAccountID
	}
	return v
}

// TransactionsView 是账户流水列表与余额。
type TransactionsView struct {
	AccountID string
	Balance   decimal.Decimal
	Items     []model.TransactionModel
}
