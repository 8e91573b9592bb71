package commission

import (
	"context"

	"tradedesk/internal/order"

	"github.com/shopspring/decimal"
)

const (
	NamePlatform       = "platform"
	NameReferringAgent = "referring-agent"
)

// MaxPercent 佣金费率上限。
var MaxPercent = decimal.RequireFromString("0.99")

var decOne = decimal.NewFromInt(1)

// Rates 是一次计算使用的费率快照。
type Rates struct {
	Platform       decimal.Decimal
	ReferringAgent decimal.Decimal
}

// Fees 是一笔订单的佣金；Agent 仅在有推荐人时非 nil。
type Fees struct {
	Platform decimal.Decimal
	Agent    *decimal.Decimal
}

// Rows 按佣金名展开，供写入 order_commissions。
func (f Fees) Rows() map[string]decimal.Decimal {
	rows := map[string]decimal.Decimal{NamePlatform: f.Platform}
	if f.Agent != nil {
		rows[NameReferringAgent] = *f.Agent
	}
	return rows
}

// SubmissionFees 下单时费用内含于名义金额：platform = notional*p/(1+p)。
// 推荐人分成取平台费的比例，而非名义金额的比例。
func SubmissionFees(r Rates, notional decimal.Decimal, hasAgent bool) Fees {
	platform := order.RoundFee(notional.Mul(r.Platform).Div(decOne.Add(r.Platform)))
	return withAgent(r, platform, hasAgent)
}

// FillFees 成交后费用叠加在成交金额之上：platform = settled*p。
func FillFees(r Rates, settled decimal.Decimal, hasAgent bool) Fees {
	platform := order.RoundFee(settled.Mul(r.Platform))
	return withAgent(r, platform, hasAgent)
}

func withAgent(r Rates, platform decimal.Decimal, hasAgent bool) Fees {
	fees := Fees{Platform: platform}
	if hasAgent {
		agent := order.RoundFee(platform.Mul(r.ReferringAgent))
		fees.Agent = &agent
	}
	return fees
}

// RateProvider 返回当前费率，由 Table 实现。
type RateProvider interface {
	Rates(ctx context.Context) (Rates, error)
}

// Calculator 组合费率表与计算公式。
type Calculator struct {
	rates RateProvider
}

func NewCalculator(rates RateProvider) *Calculator {
	return &Calculator{rates: rates}
}

func (c *Calculator) AtSubmission(ctx context.Context, notional decimal.Decimal, hasAgent bool) (Fees, error) {
	r, err := c.rates.Rates(ctx)
	if err != nil {
		return Fees{}, err
	}
	return SubmissionFees(r, notional, hasAgent), nil
}

func (c *Calculator) AtFill(ctx context.Context, settled decimal.Decimal, hasAgent bool) (Fees, error) {
	r, err := c.rates.Rates(ctx)
	if err != nil {
		return Fees{}, err
	}
	return FillFees(r, settled, hasAgent), nil
}
