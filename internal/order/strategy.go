package order

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// QuoteService 提供最新报价与最新成交，由行情网关实现。
type QuoteService interface {
	LatestQuote(ctx context.Context, symbol string) (Quote, error)
	LatestTrade(ctx context.Context, symbol string) (Trade, error)
}

// Strategy 是某个 (side, kind) 组合的校验与金额计算规则。
type Strategy struct {
	Name     string
	Side     Side
	Kind     Kind
	validate func(ctx context.Context, req Request, quotes QuoteService) error
	amount   func(ctx context.Context, req Request, quotes QuoteService) (decimal.Decimal, error)
}

// Validate 校验价格字段的存在性与相对最新行情的位置。
func (s Strategy) Validate(ctx context.Context, req Request, quotes QuoteService) error {
	return s.validate(ctx, req, quotes)
}

// ComputeAmount 返回订单名义金额（4 位小数）。
func (s Strategy) ComputeAmount(ctx context.Context, req Request, quotes QuoteService) (decimal.Decimal, error) {
	amt, err := s.amount(ctx, req, quotes)
	if err != nil {
		return decimal.Zero, err
	}
	return RoundAmount(amt), nil
}

type strategyKey struct {
	side Side
	kind Kind
}

var strategies = map[strategyKey]Strategy{
	{SideBuy, KindMarket}: {
		Name: "market-buy", Side: SideBuy, Kind: KindMarket,
		validate: validateMarket,
		amount:   marketAmount,
	},
	{SideSell, KindMarket}: {
		Name: "market-sell", Side: SideSell, Kind: KindMarket,
		validate: validateMarket,
		amount:   marketAmount,
	},
	{SideBuy, KindLimit}: {
		Name: "limit-buy", Side: SideBuy, Kind: KindLimit,
		validate: validateLimitBuy,
		amount:   limitAmount,
	},
	{SideSell, KindLimit}: {
		Name: "limit-sell", Side: SideSell, Kind: KindLimit,
		validate: validateLimitSell,
		amount:   limitAmount,
	},
	{SideBuy, KindStop}: {
		Name: "stop-buy", Side: SideBuy, Kind: KindStop,
		validate: validateStopBuy,
		amount:   stopAmount,
	},
	{SideSell, KindStop}: {
		Name: "stop-sell", Side: SideSell, Kind: KindStop,
		validate: validateStopSell,
		amount:   stopAmount,
	},
}

// Lookup 返回 (side, kind) 对应的策略。
func Lookup(side Side, kind Kind) (Strategy, error) {
	if side != SideBuy && side != SideSell {
		return Strategy{}, fmt.Errorf("%w: %q", ErrInvalidOrderSide, side)
	}
	s, ok := strategies[strategyKey{side, kind}]
	if !ok {
		return Strategy{}, fmt.Errorf("%w: %q", ErrUnsupportedOrderKind, kind)
	}
	return s, nil
}

func validateMarket(_ context.Context, req Request, _ QuoteService) error {
	if req.LimitPrice != nil || req.StopPrice != nil {
		return Invalid("price", "market orders do not accept limit_price or stop_price")
	}
	return nil
}

func requireOnly(req Request, kind Kind) error {
	switch kind {
	case KindLimit:
		if req.LimitPrice == nil {
			return Invalid("limit_price", "required for limit orders")
		}
		if req.StopPrice != nil {
			return Invalid("stop_price", "not allowed for limit orders")
		}
		if !req.LimitPrice.IsPositive() {
			return Invalid("limit_price", "must be positive")
		}
	case KindStop:
		if req.StopPrice == nil {
			return Invalid("stop_price", "required for stop orders")
		}
		if req.LimitPrice != nil {
			return Invalid("limit_price", "not allowed for stop orders")
		}
		if !req.StopPrice.IsPositive() {
			return Invalid("stop_price", "must be positive")
		}
	}
	return nil
}

func validateLimitBuy(ctx context.Context, req Request, quotes QuoteService) error {
	if err := requireOnly(req, KindLimit); err != nil {
		return err
	}
	q, err := latestQuote(ctx, quotes, req.Symbol)
	if err != nil {
		return err
	}
	if req.LimitPrice.GreaterThanOrEqual(q.AskPrice) {
		return Invalid("limit_price", fmt.Sprintf("limit %s must be below latest ask %s", req.LimitPrice, q.AskPrice))
	}
	return nil
}

func validateLimitSell(ctx context.Context, req Request, quotes QuoteService) error {
	if err := requireOnly(req, KindLimit); err != nil {
		return err
	}
	t, err := latestTrade(ctx, quotes, req.Symbol)
	if err != nil {
		return err
	}
	if req.LimitPrice.LessThanOrEqual(t.Price) {
		return Invalid("limit_price", fmt.Sprintf("limit %s must be above latest trade %s", req.LimitPrice, t.Price))
	}
	return nil
}

func validateStopBuy(ctx context.Context, req Request, quotes QuoteService) error {
	if err := requireOnly(req, KindStop); err != nil {
		return err
	}
	q, err := latestQuote(ctx, quotes, req.Symbol)
	if err != nil {
		return err
	}
	if req.StopPrice.LessThanOrEqual(q.AskPrice) {
		return Invalid("stop_price", fmt.Sprintf("stop %s must be above latest ask %s", req.StopPrice, q.AskPrice))
	}
	return nil
}

func validateStopSell(ctx context.Context, req Request, quotes QuoteService) error {
	if err := requireOnly(req, KindStop); err != nil {
		return err
	}
	t, err := latestTrade(ctx, quotes, req.Symbol)
	if err != nil {
		return err
	}
	if req.StopPrice.GreaterThanOrEqual(t.Price) {
		return Invalid("stop_price", fmt.Sprintf("stop %s must be below latest trade %s", req.StopPrice, t.Price))
	}
	return nil
}

func marketAmount(ctx context.Context, req Request, quotes QuoteService) (decimal.Decimal, error) {
	t, err := latestTrade(ctx, quotes, req.Symbol)
	if err != nil {
		return decimal.Zero, err
	}
	return req.Quantity.Mul(t.Price), nil
}

func limitAmount(_ context.Context, req Request, _ QuoteService) (decimal.Decimal, error) {
	return req.Quantity.Mul(*req.LimitPrice), nil
}

func stopAmount(_ context.Context, req Request, _ QuoteService) (decimal.Decimal, error) {
	return req.Quantity.Mul(*req.StopPrice), nil
}

// 行情失败（含超时）一律视为校验失败，订单不会被提交。
func latestQuote(ctx context.Context, quotes QuoteService, symbol string) (Quote, error) {
	q, err := quotes.LatestQuote(ctx, symbol)
	if err != nil {
		return Quote{}, &ValidationError{Field: "symbol", Reason: "latest quote unavailable", Err: err}
	}
	return q, nil
}

func latestTrade(ctx context.Context, quotes QuoteService, symbol string) (Trade, error) {
	t, err := quotes.LatestTrade(ctx, symbol)
	if err != nil {
		return Trade{}, &ValidationError{Field: "symbol", Reason: "latest trade unavailable", Err: err}
	}
	if !t.Price.IsPositive() {
		return Trade{}, Invalid("symbol", "latest trade price is not positive")
	}
	return t, nil
}
