package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"tradedesk/internal/commission"
	"tradedesk/internal/deadletter"
	"tradedesk/internal/gateway/broker"
	"tradedesk/internal/gateway/events"
	"tradedesk/internal/ledger"
	"tradedesk/internal/order"
	"tradedesk/internal/reconcile"
	"tradedesk/internal/store/model"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

type MockOrders struct {
	mock.Mock
}

func (m *MockOrders) CreateOrder(ctx context.Context, accountID string, req ledger.CreateOrderRequest) (*ledger.OrderView, error) {
	args := m.Called(ctx, accountID, req)
	v, _ := args.Get(0).(*ledger.OrderView)
	return v, args.Error(1)
}

func (m *MockOrders) CancelOrder(ctx context.Context, accountID, orderID string) (bool, error) {
	args := m.Called(ctx, accountID, orderID)
	return args.Bool(0), args.Error(1)
}

func (m *MockOrders) GetOrder(ctx context.Context, accountID, orderID string) (*ledger.OrderView, error) {
	args := m.Called(ctx, accountID, orderID)
	v, _ := args.Get(0).(*ledger.OrderView)
	return v, args.Error(1)
}

func (m *MockOrders) ListTransactions(ctx context.Context, accountID string, limit int) (*ledger.TransactionsView, error) {
	args := m.Called(ctx, accountID, limit)
	v, _ := args.Get(0).(*ledger.TransactionsView)
	return v, args.Error(1)
}

type fakeCommissions struct {
	snap    commission.Snapshot
	updated map[string]decimal.Decimal
}

func (f *fakeCommissions) Snapshot(context.Context) (commission.Snapshot, error) {
	return f.snap, nil
}

func (f *fakeCommissions) Update(_ context.Context, name string, pct decimal.Decimal) error {
	if f.updated == nil {
		f.updated = map[string]decimal.Decimal{}
	}
	f.updated[name] = pct
	return nil
}

type fakeStreams []reconcile.StreamStats

func (f fakeStreams) Stats() []reconcile.StreamStats { return f }

type fakeDeadLetters struct {
	entries []deadletter.Entry
	limits  []int
}

func (f *fakeDeadLetters) List(_ context.Context, limit int) ([]deadletter.Entry, error) {
	f.limits = append(f.limits, limit)
	if limit < len(f.entries) {
		return f.entries[:limit], nil
	}
	return f.entries, nil
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newTestServer(t *testing.T, orders *MockOrders, comm *fakeCommissions) *Server {
	t.Helper()
	return newTestServerWithDeadLetters(t, orders, comm, nil)
}

func newTestServerWithDeadLetters(t *testing.T, orders *MockOrders, comm *fakeCommissions, dead DeadLetterReader) *Server {
	t.Helper()
	srv, err := NewServer(ServerConfig{
		Orders:      orders,
		Commissions: comm,
		DeadLetters: dead,
		Streams: fakeStreams{{
			Stats:     events.Stats{Stream: events.StreamTrades, Connected: true, Received: 3, LastEventID: "e3"},
			Processed: 3,
		}},
	})
	require.NoError(t, err)
	return srv
}

func do(t *testing.T, srv *Server, method, path, body string, account string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if account != "" {
		req.Header.Set("X-Account-ID", account)
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func sampleView() *ledger.OrderView {
	return &ledger.OrderView{
		ID:               "o-1",
		BrokerOrderID:    "b-1",
		AccountID:        "acct-1",
		AgentAccountID:   "agent-1",
		Symbol:           "AAPL",
		Side:             "BUY",
		Kind:             "MARKET",
		TimeInForce:      "day",
		Status:           "ACCEPTED",
		Quantity:         dec("10"),
		ApproximateTotal: dec("1514.85"),
		Commissions: map[string]decimal.Decimal{
			commission.NameReferringAgent: dec("1.49"),
			commission.NamePlatform:       dec("14.85"),
		},
		CreatedAt: time.Date(2026, 10, 1, 14, 30, 0, 0, time.UTC),
	}
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t, new(MockOrders), &fakeCommissions{})
	rec := do(t, srv, http.MethodGet, "/healthz", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCreateOrderAccepted(t *testing.T) {
	orders := new(MockOrders)
	orders.On("CreateOrder", mock.Anything, "acct-1", mock.MatchedBy(func(req ledger.CreateOrderRequest) bool {
		return req.Symbol == "AAPL" &&
			req.Side == order.SideBuy &&
			req.Kind == order.KindLimit &&
			req.Quantity.Equal(dec("10")) &&
			req.LimitPrice != nil && req.LimitPrice.Equal(dec("150.12")) &&
			req.StopPrice == nil &&
			req.AgentAccountID == "agent-1"
	})).Return(sampleView(), nil).Once()

	srv := newTestServer(t, orders, &fakeCommissions{})
	body := `{"symbol":"AAPL","side":"buy","type":"limit","qty":10,"limit_price":"150.12","stop_price":null,"account_commissioner":"agent-1"}`
	rec := do(t, srv, http.MethodPost, "/api/orders", body, "acct-1")

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	res := gjson.Parse(rec.Body.String())
	assert.True(t, res.Get("status").Bool())
	assert.Equal(t, "o-1", res.Get("order.id").String())
	assert.Equal(t, "1514.8500", res.Get("order.approximate_total").String())
	assert.Equal(t, "$1,514.85", res.Get("order.approximate_total_display").String())
	assert.Equal(t, "agent-1", res.Get("order.account_commissioner").String())
	assert.Equal(t, "platform", res.Get("order.commissions.0.name").String())
	assert.Equal(t, "14.85", res.Get("order.commissions.0.amount").String())
	assert.Equal(t, "referring-agent", res.Get("order.commissions.1.name").String())
	orders.AssertExpectations(t)
}

func TestCreateOrderRequiresAccountHeader(t *testing.T) {
	orders := new(MockOrders)
	srv := newTestServer(t, orders, &fakeCommissions{})
	rec := do(t, srv, http.MethodPost, "/api/orders", `{"symbol":"AAPL","side":"buy","type":"market","qty":1}`, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	orders.AssertNotCalled(t, "CreateOrder", mock.Anything, mock.Anything, mock.Anything)
}

func TestCreateOrderRejectsBeforeService(t *testing.T) {
	cases := []struct {
		name    string
		body    string
		message string
	}{
		{"not json", `{"symbol":`, "not valid JSON"},
		{"missing qty", `{"symbol":"AAPL","side":"buy","type":"market"}`, "qty"},
		{"unknown field", `{"symbol":"AAPL","side":"buy","type":"market","qty":1,"commission":2}`, "commission"},
		{"bad side", `{"symbol":"AAPL","side":"hold","type":"market","qty":1}`, "invalid order side"},
		{"bad kind", `{"symbol":"AAPL","side":"buy","type":"trailing_stop","qty":1}`, "unsupported order type"},
		{"qty not numeric", `{"symbol":"AAPL","side":"buy","type":"market","qty":"ten"}`, "qty"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			orders := new(MockOrders)
			srv := newTestServer(t, orders, &fakeCommissions{})
			rec := do(t, srv, http.MethodPost, "/api/orders", tc.body, "acct-1")
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			res := gjson.Parse(rec.Body.String())
			assert.False(t, res.Get("status").Bool())
			assert.Contains(t, res.Get("error").String(), tc.message)
			orders.AssertNotCalled(t, "CreateOrder", mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestCreateOrderErrorMapping(t *testing.T) {
	rejected := &broker.RejectedError{
		StatusCode: http.StatusForbidden,
		Payload:    json.RawMessage(`{"code":40310000,"message":"insufficient buying power"}`),
		Message:    "insufficient buying power",
	}
	cases := []struct {
		name   string
		err    error
		status int
	}{
		{"validation", order.Invalid("limit_price", "must be at or above the ask"), http.StatusBadRequest},
		{"unknown account", order.NotFound("account", "acct-1"), http.StatusNotFound},
		{"insufficient funds", fmt.Errorf("balance 10 below 1514.85: %w", order.ErrInsufficientFunds), http.StatusConflict},
		{"insufficient holdings", fmt.Errorf("AAPL holds 0, selling 1: %w", order.ErrInsufficientHoldings), http.StatusConflict},
		{"persistence", fmt.Errorf("%w: %w", order.ErrPersistence, fmt.Errorf("disk I/O error")), http.StatusServiceUnavailable},
		{"broker rejected", rejected, http.StatusBadRequest},
		{"broker unreachable", fmt.Errorf("%w: connection refused", broker.ErrUnavailable), http.StatusBadGateway},
		{"unexpected", fmt.Errorf("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			orders := new(MockOrders)
			orders.On("CreateOrder", mock.Anything, "acct-1", mock.Anything).Return(nil, tc.err).Once()
			srv := newTestServer(t, orders, &fakeCommissions{})
			rec := do(t, srv, http.MethodPost, "/api/orders", `{"symbol":"AAPL","side":"buy","type":"market","qty":"10"}`, "acct-1")
			assert.Equal(t, tc.status, rec.Code)
			assert.False(t, gjson.Get(rec.Body.String(), "status").Bool())
		})
	}
}

func TestCreateOrderBrokerRejectionBody(t *testing.T) {
	orders := new(MockOrders)
	orders.On("CreateOrder", mock.Anything, "acct-1", mock.Anything).Return(nil, &broker.RejectedError{
		StatusCode: http.StatusUnprocessableEntity,
		Payload:    json.RawMessage(`{"message":"qty must be > 0"}`),
		Message:    "qty must be > 0",
	}).Once()
	srv := newTestServer(t, orders, &fakeCommissions{})
	rec := do(t, srv, http.MethodPost, "/api/orders", `{"symbol":"AAPL","side":"sell","type":"market","qty":1}`, "acct-1")

	require.Equal(t, http.StatusBadRequest, rec.Code)
	res := gjson.Parse(rec.Body.String())
	assert.EqualValues(t, http.StatusUnprocessableEntity, res.Get("broker_status").Int())
	assert.Equal(t, "qty must be > 0", res.Get("broker.message").String())
}

func TestGetOrder(t *testing.T) {
	orders := new(MockOrders)
	orders.On("GetOrder", mock.Anything, "acct-1", "o-1").Return(sampleView(), nil).Once()
	orders.On("GetOrder", mock.Anything, "acct-1", "o-2").Return(nil, order.NotFound("order", "o-2")).Once()
	srv := newTestServer(t, orders, &fakeCommissions{})

	rec := do(t, srv, http.MethodGet, "/api/orders/o-1", "", "acct-1")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ACCEPTED", gjson.Get(rec.Body.String(), "order.status").String())

	rec = do(t, srv, http.MethodGet, "/api/orders/o-2", "", "acct-1")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCancelOrder(t *testing.T) {
	orders := new(MockOrders)
	orders.On("CancelOrder", mock.Anything, "acct-1", "o-1").Return(true, nil).Once()
	orders.On("CancelOrder", mock.Anything, "acct-1", "o-2").Return(false, nil).Once()
	orders.On("CancelOrder", mock.Anything, "acct-1", "o-3").Return(false, order.NotFound("order", "o-3")).Once()
	srv := newTestServer(t, orders, &fakeCommissions{})

	rec := do(t, srv, http.MethodDelete, "/api/orders/o-1", "", "acct-1")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, gjson.Get(rec.Body.String(), "status").Bool())

	rec = do(t, srv, http.MethodDelete, "/api/orders/o-2", "", "acct-1")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, gjson.Get(rec.Body.String(), "status").Bool())

	rec = do(t, srv, http.MethodDelete, "/api/orders/o-3", "", "acct-1")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	orders.AssertExpectations(t)
}

func TestListTransactions(t *testing.T) {
	orders := new(MockOrders)
	orders.On("ListTransactions", mock.Anything, "acct-1", defaultTransactionLimit).Return(&ledger.TransactionsView{
		AccountID: "acct-1",
		Balance:   dec("3485.15"),
		Items: []model.TransactionModel{
			{ID: "t-2", Type: model.TransactionBuy, Value: dec("-1514.85"), Status: model.TransactionProcessing, OperationID: "o-1"},
			{ID: "t-1", Type: model.TransactionRecharge, Value: dec("5000"), Status: model.TransactionComplete, OperationID: "tr-1"},
		},
	}, nil).Once()
	orders.On("ListTransactions", mock.Anything, "acct-1", maxTransactionLimit).Return(&ledger.TransactionsView{AccountID: "acct-1"}, nil).Once()
	srv := newTestServer(t, orders, &fakeCommissions{})

	rec := do(t, srv, http.MethodGet, "/api/transactions", "", "acct-1")
	require.Equal(t, http.StatusOK, rec.Code)
	res := gjson.Parse(rec.Body.String())
	assert.Equal(t, "3485.1500", res.Get("balance").String())
	assert.Equal(t, "$3,485.15", res.Get("balance_display").String())
	assert.Equal(t, "-1514.8500", res.Get("transactions.0.value").String())
	assert.Equal(t, "PROCESSING", res.Get("transactions.0.status").String())

	rec = do(t, srv, http.MethodGet, "/api/transactions?limit=100000", "", "acct-1")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, len(gjson.Get(rec.Body.String(), "transactions").Array()))

	rec = do(t, srv, http.MethodGet, "/api/transactions?limit=-3", "", "acct-1")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	orders.AssertExpectations(t)
}

func TestCommissionAdmin(t *testing.T) {
	comm := &fakeCommissions{snap: commission.Snapshot{
		Version: 2,
		Percent: map[string]decimal.Decimal{
			commission.NamePlatform:       dec("0.01"),
			commission.NameReferringAgent: dec("0.1"),
		},
	}}
	srv := newTestServer(t, new(MockOrders), comm)

	rec := do(t, srv, http.MethodGet, "/api/commissions", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	res := gjson.Parse(rec.Body.String())
	assert.EqualValues(t, 2, res.Get("version").Int())
	assert.Equal(t, "0.01", res.Get("rates.platform").String())

	rec = do(t, srv, http.MethodPut, "/api/commissions/platform", `{"percent_value":0.015}`, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, dec("0.015").Equal(comm.updated[commission.NamePlatform]))

	rec = do(t, srv, http.MethodPut, "/api/commissions/platform", `{"percent_value":1.5}`, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, srv, http.MethodPut, "/api/commissions/exchange", `{"percent_value":0.01}`, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Len(t, comm.updated, 1)
}

func TestStreams(t *testing.T) {
	srv := newTestServer(t, new(MockOrders), &fakeCommissions{})
	rec := do(t, srv, http.MethodGet, "/api/streams", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	res := gjson.Parse(rec.Body.String())
	assert.Equal(t, events.StreamTrades, res.Get("streams.0.stream").String())
	assert.Equal(t, "e3", res.Get("streams.0.last_event_id").String())
	assert.EqualValues(t, 3, res.Get("streams.0.processed").Int())
}

func TestDeadLetters(t *testing.T) {
	dead := &fakeDeadLetters{entries: []deadletter.Entry{
		deadletter.NewEntry(events.StreamTrades, "e2", "unprocessable event: rejected by broker", []byte(`{"event":"rejected"}`)),
		deadletter.NewEntry(events.StreamTrades, "e7", "unprocessable event: event exceeds 1048576 bytes", []byte(`{"event":"fill","no`)),
	}}
	srv := newTestServerWithDeadLetters(t, new(MockOrders), &fakeCommissions{}, dead)

	rec := do(t, srv, http.MethodGet, "/api/dead-letters", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	res := gjson.Parse(rec.Body.String())
	assert.True(t, res.Get("status").Bool())
	assert.Equal(t, "e2", res.Get("dead_letters.0.event_id").String())
	assert.Equal(t, "rejected", res.Get("dead_letters.0.payload.event").String())
	assert.Equal(t, `{"event":"fill","no`, res.Get("dead_letters.1.payload").String())

	rec = do(t, srv, http.MethodGet, "/api/dead-letters?limit=1", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, gjson.Get(rec.Body.String(), "dead_letters").Array(), 1)

	rec = do(t, srv, http.MethodGet, "/api/dead-letters?limit=9999", "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, srv, http.MethodGet, "/api/dead-letters?limit=zero", "", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, []int{defaultDeadLetterLimit, 1, maxDeadLetterLimit}, dead.limits)

	plain := newTestServer(t, new(MockOrders), &fakeCommissions{})
	rec = do(t, plain, http.MethodGet, "/api/dead-letters", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
