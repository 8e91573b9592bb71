package api

import (
	"sort"
	"time"

	"tradedesk/internal/ledger"
	"tradedesk/internal/order"
	"tradedesk/internal/pkg/convert"
	"tradedesk/internal/store/model"

	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"
)

// display 把金额格式化为美元展示串，例如 $1,514.85。
func display(d decimal.Decimal) string {
	cents := d.Shift(2).Round(0).IntPart()
	return money.New(cents, money.USD).Display()
}

type commissionDTO struct {
	Name    string `json:"name"`
	Amount  string `json:"amount"`
	Display string `json:"display"`
}

type orderDTO struct {
	ID                      string          `json:"id"`
	BrokerOrderID           string          `json:"broker_order_id,omitempty"`
	AccountID               string          `json:"account_id"`
	AccountCommissioner     string          `json:"account_commissioner,omitempty"`
	Symbol                  string          `json:"symbol"`
	Side                    string          `json:"side"`
	Type                    string          `json:"type"`
	TimeInForce             string          `json:"time_in_force"`
	Status                  string          `json:"status"`
	Qty                     string          `json:"qty"`
	LimitPrice              string          `json:"limit_price,omitempty"`
	StopPrice               string          `json:"stop_price,omitempty"`
	FilledQty               string          `json:"filled_qty,omitempty"`
	FilledAvgPrice          string          `json:"filled_avg_price,omitempty"`
	ApproximateTotal        string          `json:"approximate_total"`
	ApproximateTotalDisplay string          `json:"approximate_total_display"`
	Commissions             []commissionDTO `json:"commissions"`
	FilledAt                *time.Time      `json:"filled_at,omitempty"`
	CanceledAt              *time.Time      `json:"canceled_at,omitempty"`
	ExpiredAt               *time.Time      `json:"expired_at,omitempty"`
	CreatedAt               time.Time       `json:"created_at"`
}

func newOrderDTO(v *ledger.OrderView) orderDTO {
	dto := orderDTO{
		ID:                      v.ID,
		BrokerOrderID:           v.BrokerOrderID,
		AccountID:               v.AccountID,
		AccountCommissioner:     v.AgentAccountID,
		Symbol:                  v.Symbol,
		Side:                    v.Side,
		Type:                    v.Kind,
		TimeInForce:             v.TimeInForce,
		Status:                  v.Status,
		Qty:                     v.Quantity.String(),
		LimitPrice:              convert.DecimalString(v.LimitPrice),
		StopPrice:               convert.DecimalString(v.StopPrice),
		FilledQty:               convert.DecimalString(v.FilledQuantity),
		FilledAvgPrice:          convert.DecimalString(v.FilledAveragePrice),
		ApproximateTotal:        v.ApproximateTotal.StringFixed(order.AmountScale),
		ApproximateTotalDisplay: display(v.ApproximateTotal),
		Commissions:             make([]commissionDTO, 0, len(v.Commissions)),
		FilledAt:                v.FilledAt,
		CanceledAt:              v.CanceledAt,
		ExpiredAt:               v.ExpiredAt,
		CreatedAt:               v.CreatedAt,
	}
	for name, amount := range v.Commissions {
		dto.Commissions = append(dto.Commissions, commissionDTO{
			Name:    name,
			Amount:  amount.StringFixed(order.FeeScale),
			Display: display(amount),
		})
	}
	sort.Slice(dto.Commissions, func(i, j int) bool { return dto.Commissions[i].Name < dto.Commissions[j].Name })
	return dto
}

type transactionDTO struct {
	ID          string    `json:"id"`
	Type        string    `json:"type"`
	Value       string    `json:"value"`
	Display     string    `json:"display"`
	Status      string    `json:"status"`
	OperationID string    `json:"operation_id"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func newTransactionDTO(tx model.TransactionModel) transactionDTO {
	return transactionDTO{
		ID:          tx.ID,
		Type:        string(tx.Type),
		Value:       tx.Value.StringFixed(order.AmountScale),
		Display:     display(tx.Value),
		Status:      string(tx.Status),
		OperationID: tx.OperationID,
		CreatedAt:   tx.CreatedAt,
		UpdatedAt:   tx.UpdatedAt,
	}
}
