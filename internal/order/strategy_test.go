package order

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockQuotes struct {
	mock.Mock
}

func (m *MockQuotes) LatestQuote(ctx context.Context, symbol string) (Quote, error) {
	args := m.Called(ctx, symbol)
	return args.Get(0).(Quote), args.Error(1)
}

func (m *MockQuotes) LatestTrade(ctx context.Context, symbol string) (Trade, error) {
	args := m.Called(ctx, symbol)
	return args.Get(0).(Trade), args.Error(1)
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func decPtr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

func quotesAt(ask, trade string) *MockQuotes {
	m := new(MockQuotes)
	m.On("LatestQuote", mock.Anything, mock.Anything).Return(Quote{AskPrice: dec(ask)}, nil).Maybe()
	m.On("LatestTrade", mock.Anything, mock.Anything).Return(Trade{Price: dec(trade)}, nil).Maybe()
	return m
}

func TestLookup(t *testing.T) {
	names := map[strategyKey]string{
		{SideBuy, KindMarket}:  "market-buy",
		{SideSell, KindMarket}: "market-sell",
		{SideBuy, KindLimit}:   "limit-buy",
		{SideSell, KindLimit}:  "limit-sell",
		{SideBuy, KindStop}:    "stop-buy",
		{SideSell, KindStop}:   "stop-sell",
	}
	for k, name := range names {
		s, err := Lookup(k.side, k.kind)
		require.NoError(t, err)
		assert.Equal(t, name, s.Name)
	}

	_, err := Lookup("HOLD", KindMarket)
	assert.ErrorIs(t, err, ErrInvalidOrderSide)
	_, err = Lookup(SideBuy, "TRAILING")
	assert.ErrorIs(t, err, ErrUnsupportedOrderKind)
}

func TestStrategyValidate(t *testing.T) {
	ctx := context.Background()
	cases := []struct {
		name    string
		side    Side
		kind    Kind
		limit   *decimal.Decimal
		stop    *decimal.Decimal
		wantErr bool
	}{
		{"market buy plain", SideBuy, KindMarket, nil, nil, false},
		{"market buy with limit", SideBuy, KindMarket, decPtr("150"), nil, true},
		{"market sell with stop", SideSell, KindMarket, nil, decPtr("150"), true},
		{"limit buy below ask", SideBuy, KindLimit, decPtr("147.99"), nil, false},
		{"limit buy at ask", SideBuy, KindLimit, decPtr("148"), nil, true},
		{"limit buy above ask", SideBuy, KindLimit, decPtr("150"), nil, true},
		{"limit buy missing limit", SideBuy, KindLimit, nil, nil, true},
		{"limit buy with stop", SideBuy, KindLimit, decPtr("140"), decPtr("141"), true},
		{"limit sell above trade", SideSell, KindLimit, decPtr("151"), nil, false},
		{"limit sell at trade", SideSell, KindLimit, decPtr("150"), nil, true},
		{"stop buy above ask", SideBuy, KindStop, nil, decPtr("149"), false},
		{"stop buy at ask", SideBuy, KindStop, nil, decPtr("148"), true},
		{"stop buy with limit", SideBuy, KindStop, decPtr("149"), decPtr("149"), true},
		{"stop sell below trade", SideSell, KindStop, nil, decPtr("149"), false},
		{"stop sell at trade", SideSell, KindStop, nil, decPtr("150"), true},
		{"stop sell missing stop", SideSell, KindStop, nil, nil, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s, err := Lookup(tc.side, tc.kind)
			require.NoError(t, err)
			req := Request{Symbol: "AAPL", Side: tc.side, Kind: tc.kind, Quantity: dec("10"), LimitPrice: tc.limit, StopPrice: tc.stop}
			err = s.Validate(ctx, req, quotesAt("148", "150"))
			if tc.wantErr {
				assert.ErrorIs(t, err, ErrValidation)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestStrategyComputeAmount(t *testing.T) {
	ctx := context.Background()
	quotes := quotesAt("148", "150.00")

	market, _ := Lookup(SideBuy, KindMarket)
	amt, err := market.ComputeAmount(ctx, Request{Symbol: "AAPL", Quantity: dec("10")}, quotes)
	require.NoError(t, err)
	assert.True(t, dec("1500").Equal(amt))

	limit, _ := Lookup(SideSell, KindLimit)
	amt, err = limit.ComputeAmount(ctx, Request{Symbol: "AAPL", Quantity: dec("3"), LimitPrice: decPtr("12.33335")}, quotes)
	require.NoError(t, err)
	assert.Equal(t, "37.0001", amt.StringFixed(AmountScale))

	stop, _ := Lookup(SideBuy, KindStop)
	amt, err = stop.ComputeAmount(ctx, Request{Symbol: "AAPL", Quantity: dec("2"), StopPrice: decPtr("160")}, quotes)
	require.NoError(t, err)
	assert.True(t, dec("320").Equal(amt))
}

func TestQuoteFailureIsValidationError(t *testing.T) {
	m := new(MockQuotes)
	boom := errors.New("upstream 503")
	m.On("LatestQuote", mock.Anything, "AAPL").Return(Quote{}, boom)

	s, _ := Lookup(SideBuy, KindLimit)
	err := s.Validate(context.Background(), Request{Symbol: "AAPL", Quantity: dec("1"), LimitPrice: decPtr("100")}, m)
	assert.ErrorIs(t, err, ErrValidation)
	assert.ErrorIs(t, err, boom)
	m.AssertExpectations(t)
}

func TestFactoryCreate(t *testing.T) {
	t.Run("market buy notional", func(t *testing.T) {
		f := NewFactory(quotesAt("149.90", "150.00"), time.Second)
		res, err := f.Create(context.Background(), Request{Symbol: "aapl", Side: SideBuy, Kind: KindMarket, Quantity: dec("10")})
		require.NoError(t, err)
		assert.Equal(t, "AAPL", res.Request.Symbol)
		assert.Equal(t, "day", res.Request.TimeInForce)
		assert.Equal(t, "market-buy", res.Strategy.Name)
		assert.Equal(t, "1500.0000", res.Amount.StringFixed(AmountScale))
	})

	t.Run("limit buy at or above ask", func(t *testing.T) {
		f := NewFactory(quotesAt("148.00", "148.00"), time.Second)
		_, err := f.Create(context.Background(), Request{Symbol: "AAPL", Side: SideBuy, Kind: KindLimit, Quantity: dec("10"), LimitPrice: decPtr("150.00")})
		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, "limit_price", verr.Field)
	})

	t.Run("invalid side", func(t *testing.T) {
		f := NewFactory(quotesAt("1", "1"), time.Second)
		_, err := f.Create(context.Background(), Request{Symbol: "AAPL", Side: "SHORT", Kind: KindMarket, Quantity: dec("1")})
		assert.ErrorIs(t, err, ErrInvalidOrderSide)
	})

	t.Run("field checks", func(t *testing.T) {
		f := NewFactory(quotesAt("1", "1"), time.Second)
		_, err := f.Create(context.Background(), Request{Symbol: "AAPL", Side: SideBuy, Kind: KindMarket, Quantity: dec("0")})
		assert.ErrorIs(t, err, ErrValidation)
		_, err = f.Create(context.Background(), Request{Symbol: "$$", Side: SideBuy, Kind: KindMarket, Quantity: dec("1")})
		assert.ErrorIs(t, err, ErrValidation)
		_, err = f.Create(context.Background(), Request{Symbol: "AAPL", Side: SideBuy, Kind: KindMarket, Quantity: dec("1"), TimeInForce: "forever"})
		assert.ErrorIs(t, err, ErrValidation)
	})

	t.Run("quote timeout", func(t *testing.T) {
		m := new(MockQuotes)
		m.On("LatestQuote", mock.Anything, "AAPL").
			Run(func(args mock.Arguments) {
				<-args.Get(0).(context.Context).Done()
			}).
			Return(Quote{}, context.DeadlineExceeded)
		f := NewFactory(m, 20*time.Millisecond)
		_, err := f.Create(context.Background(), Request{Symbol: "AAPL", Side: SideBuy, Kind: KindStop, Quantity: dec("1"), StopPrice: decPtr("10")})
		assert.ErrorIs(t, err, ErrValidation)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
}

func TestStatusTransitions(t *testing.T) {
	assert.False(t, StatusAccepted.Terminal())
	for _, s := range []Status{StatusFilled, StatusCanceled, StatusExpired, StatusRejected} {
		assert.True(t, s.Terminal())
		assert.True(t, StatusAccepted.CanTransition(s))
		assert.False(t, s.CanTransition(StatusFilled))
		assert.False(t, s.CanTransition(StatusCanceled))
	}
	assert.False(t, StatusAccepted.CanTransition(StatusAccepted))
}

func TestParse(t *testing.T) {
	side, err := ParseSide(" buy ")
	require.NoError(t, err)
	assert.Equal(t, SideBuy, side)
	_, err = ParseSide("short")
	assert.ErrorIs(t, err, ErrInvalidOrderSide)

	kind, err := ParseKind("stop")
	require.NoError(t, err)
	assert.Equal(t, KindStop, kind)
	_, err = ParseKind("trailing_stop")
	assert.ErrorIs(t, err, ErrUnsupportedOrderKind)
}
