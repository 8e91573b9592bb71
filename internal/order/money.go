package order

import "github.com/shopspring/decimal"

const (
	// AmountScale 名义金额、成交金额保留的小数位。
	AmountScale int32 = 4
	// FeeScale 佣金按分取整。
	FeeScale int32 = 2
)

func RoundAmount(d decimal.Decimal) decimal.Decimal { return d.Round(AmountScale) }

func RoundFee(d decimal.Decimal) decimal.Decimal { return d.Round(FeeScale) }
