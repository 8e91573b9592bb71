package order

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Side 买卖方向。
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Kind 订单类型。
type Kind string

const (
	KindMarket Kind = "MARKET"
	KindLimit  Kind = "LIMIT"
	KindStop   Kind = "STOP"
)

// Status 本地订单状态。ACCEPTED 之外均为终态。
type Status string

const (
	StatusAccepted Status = "ACCEPTED"
	StatusFilled   Status = "FILLED"
	StatusCanceled Status = "CANCELED"
	StatusExpired  Status = "EXPIRED"
	StatusRejected Status = "REJECTED"
)

func (s Status) Terminal() bool {
	switch s {
	case StatusFilled, StatusCanceled, StatusExpired, StatusRejected:
		return true
	default:
		return false
	}
}

// CanTransition 只允许 ACCEPTED 迁移到任一终态。
func (s Status) CanTransition(to Status) bool {
	return s == StatusAccepted && to.Terminal()
}

// ParseSide 解析买卖方向（大小写不敏感）。
func ParseSide(raw string) (Side, error) {
	switch Side(strings.ToUpper(strings.TrimSpace(raw))) {
	case SideBuy:
		return SideBuy, nil
	case SideSell:
		return SideSell, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidOrderSide, raw)
	}
}

// ParseKind 解析订单类型（大小写不敏感）。
func ParseKind(raw string) (Kind, error) {
	switch Kind(strings.ToUpper(strings.TrimSpace(raw))) {
	case KindMarket:
		return KindMarket, nil
	case KindLimit:
		return KindLimit, nil
	case KindStop:
		return KindStop, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedOrderKind, raw)
	}
}

var timeInForce = map[string]struct{}{
	"day": {}, "gtc": {}, "opg": {}, "cls": {}, "ioc": {}, "fok": {},
}

// NormalizeTimeInForce 校验并规整 time_in_force，缺省为 day。
func NormalizeTimeInForce(raw string) (string, error) {
	tif := strings.ToLower(strings.TrimSpace(raw))
	if tif == "" {
		return "day", nil
	}
	if _, ok := timeInForce[tif]; !ok {
		return "", Invalid("time_in_force", fmt.Sprintf("unsupported value %q", raw))
	}
	return tif, nil
}

// Request 是一次下单请求（已解析但未校验价格约束）。
type Request struct {
	Symbol      string
	Side        Side
	Kind        Kind
	Quantity    decimal.Decimal
	TimeInForce string
	LimitPrice  *decimal.Decimal
	StopPrice   *decimal.Decimal
}

// Quote 最新盘口报价。
type Quote struct {
	Symbol   string
	AskPrice decimal.Decimal
	BidPrice decimal.Decimal
}

// Trade 最新成交。
type Trade struct {
	Symbol string
	Price  decimal.Decimal
}
