package order

import (
	"context"
	"time"

	"tradedesk/internal/pkg/symbol"

	"github.com/shopspring/decimal"
)

// Result 是工厂的输出：已校验的请求、选中的策略与名义金额。
type Result struct {
	Request  Request
	Strategy Strategy
	Amount   decimal.Decimal
}

// Factory 根据方向与类型选择策略并执行校验，不做持久化。
type Factory struct {
	quotes       QuoteService
	quoteTimeout time.Duration
}

func NewFactory(quotes QuoteService, quoteTimeout time.Duration) *Factory {
	return &Factory{quotes: quotes, quoteTimeout: quoteTimeout}
}

// Create 校验请求并计算名义金额。
func (f *Factory) Create(ctx context.Context, req Request) (Result, error) {
	strategy, err := Lookup(req.Side, req.Kind)
	if err != nil {
		return Result{}, err
	}
	req, err = normalize(req)
	if err != nil {
		return Result{}, err
	}
	if f.quoteTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.quoteTimeout)
		defer cancel()
	}
	if err := strategy.Validate(ctx, req, f.quotes); err != nil {
		return Result{}, err
	}
	amount, err := strategy.ComputeAmount(ctx, req, f.quotes)
	if err != nil {
		return Result{}, err
	}
	return Result{Request: req, Strategy: strategy, Amount: amount}, nil
}

func normalize(req Request) (Request, error) {
	sym, err := symbol.Validate(req.Symbol)
	if err != nil {
		return req, &ValidationError{Field: "symbol", Reason: "invalid", Err: err}
	}
	req.Symbol = sym
	if !req.Quantity.IsPositive() {
		return req, Invalid("qty", "must be positive")
	}
	tif, err := NormalizeTimeInForce(req.TimeInForce)
	if err != nil {
		return req, err
	}
	req.TimeInForce = tif
	return req, nil
}
