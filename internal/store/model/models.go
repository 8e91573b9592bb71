package model

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

type TransactionType string

const (
	TransactionRecharge TransactionType = "RECHARGE"
	TransactionBuy      TransactionType = "BUY"
	TransactionSell     TransactionType = "SELL"
)

type TransactionStatus string

const (
	TransactionPending    TransactionStatus = "PENDING"
	TransactionProcessing TransactionStatus = "PROCESSING"
	TransactionComplete   TransactionStatus = "COMPLETE"
	TransactionCanceled   TransactionStatus = "CANCELED"
)

// AccountModel 只读：账户由账户服务维护，这里只做查找。
type AccountModel struct {
	ID              string    `gorm:"column:id;primaryKey"`
	UserID          string    `gorm:"column:user_id;index"`
	BrokerAccountID string    `gorm:"column:broker_account_id;uniqueIndex"`
	CreatedAt       time.Time `gorm:"column:created_at"`
}

func (AccountModel) TableName() string { return "accounts" }

type OrderModel struct {
	ID                 string           `gorm:"column:id;primaryKey"`
	BrokerOrderID      *string          `gorm:"column:broker_order_id;uniqueIndex"`
	AccountID          string           `gorm:"column:account_id;index"`
	AgentAccountID     *string          `gorm:"column:agent_account_id"`
	Symbol             string           `gorm:"column:symbol"`
	Side               string           `gorm:"column:side"`
	Kind               string           `gorm:"column:kind"`
	TimeInForce        string           `gorm:"column:time_in_force"`
	Quantity           decimal.Decimal  `gorm:"column:quantity;type:text"`
	LimitPrice         *decimal.Decimal `gorm:"column:limit_price;type:text"`
	StopPrice          *decimal.Decimal `gorm:"column:stop_price;type:text"`
	FilledQuantity     *decimal.Decimal `gorm:"column:filled_quantity;type:text"`
	FilledAveragePrice *decimal.Decimal `gorm:"column:filled_average_price;type:text"`
	FilledAt           *time.Time       `gorm:"column:filled_at"`
	CanceledAt         *time.Time       `gorm:"column:canceled_at"`
	ExpiredAt          *time.Time       `gorm:"column:expired_at"`
	ApproximateTotal   decimal.Decimal  `gorm:"column:approximate_total;type:text"`
	Status             string           `gorm:"column:status;index"`
	BrokerRaw          datatypes.JSON   `gorm:"column:broker_raw;type:TEXT"`
	CreatedAt          time.Time        `gorm:"column:created_at"`
	UpdatedAt          time.Time        `gorm:"column:updated_at"`
}

func (OrderModel) TableName() string { return "orders" }

// HasAgent 报告订单是否带推荐人。
func (o OrderModel) HasAgent() bool {
	return o.AgentAccountID != nil && *o.AgentAccountID != ""
}

type CommissionModel struct {
	ID           int64           `gorm:"column:id;primaryKey;autoIncrement"`
	Name         string          `gorm:"column:name;uniqueIndex"`
	PercentValue decimal.Decimal `gorm:"column:percent_value;type:text"`
	CreatedAt    time.Time       `gorm:"column:created_at"`
	UpdatedAt    time.Time       `gorm:"column:updated_at"`
}

func (CommissionModel) TableName() string { return "commissions" }

type OrderCommissionModel struct {
	ID             int64           `gorm:"column:id;primaryKey;autoIncrement"`
	OrderID        string          `gorm:"column:order_id;uniqueIndex:idx_order_commission,priority:1"`
	CommissionName string          `gorm:"column:commission_name;uniqueIndex:idx_order_commission,priority:2"`
	Amount         decimal.Decimal `gorm:"column:amount;type:text"`
	CreatedAt      time.Time       `gorm:"column:created_at"`
	UpdatedAt      time.Time       `gorm:"column:updated_at"`
}

func (OrderCommissionModel) TableName() string { return "order_commissions" }

type TransactionModel struct {
	ID          string            `gorm:"column:id;primaryKey"`
	AccountID   string            `gorm:"column:account_id;index"`
	Type        TransactionType   `gorm:"column:type"`
	Value       decimal.Decimal   `gorm:"column:value;type:text"`
	Status      TransactionStatus `gorm:"column:status"`
	OperationID string            `gorm:"column:operation_id;uniqueIndex"`
	CreatedAt   time.Time         `gorm:"column:created_at"`
	UpdatedAt   time.Time         `gorm:"column:updated_at"`
}

func (TransactionModel) TableName() string { return "transactions" }

// StreamCursorModel 记录每条事件流最后确认的事件 ID，用于断线续传。
type StreamCursorModel struct {
	Stream      string    `gorm:"column:stream;primaryKey"`
	LastEventID string    `gorm:"column:last_event_id"`
	UpdatedAt   time.Time `gorm:"column:updated_at"`
}

func (StreamCursorModel) TableName() string { return "stream_cursors" }
