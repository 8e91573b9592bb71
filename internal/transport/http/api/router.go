package api

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"strings"

	"tradedesk/internal/commission"
	"tradedesk/internal/deadletter"
	"tradedesk/internal/ledger"
	"tradedesk/internal/order"
	"tradedesk/internal/pkg/convert"
	"tradedesk/internal/reconcile"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
)

const (
	defaultTransactionLimit = 50
	maxTransactionLimit     = 500
	defaultDeadLetterLimit  = 50
	maxDeadLetterLimit      = 500
	maxBodyBytes            = 64 << 10
	accountKey              = "account_id"
)

// OrderService 由 ledger.Service 实现。
type OrderService interface {
	CreateOrder(ctx context.Context, accountID string, req ledger.CreateOrderRequest) (*ledger.OrderView, error)
	CancelOrder(ctx context.Context, accountID, orderID string) (bool, error)
	GetOrder(ctx context.Context, accountID, orderID string) (*ledger.OrderView, error)
	ListTransactions(ctx context.Context, accountID string, limit int) (*ledger.TransactionsView, error)
}

// CommissionAdmin 由 commission.Table 实现。
type CommissionAdmin interface {
	Snapshot(ctx context.Context) (commission.Snapshot, error)
	Update(ctx context.Context, name string, percent decimal.Decimal) error
}

// StreamReporter 由 reconcile.Reconciler 实现。
type StreamReporter interface {
	Stats() []reconcile.StreamStats
}

// DeadLetterReader 由 deadletter.Store 实现，供人工对账查看。
type DeadLetterReader interface {
	List(ctx context.Context, limit int) ([]deadletter.Entry, error)
}

// Router 挂载 /api 下的业务接口。
type Router struct {
	orders        OrderService
	commissions   CommissionAdmin
	streams       StreamReporter
	deadLetters   DeadLetterReader
	accountHeader string
}

// NewRouter 构造 router；commissions、streams 与 deadLetters 可为空，对应接口不注册。
func NewRouter(orders OrderService, commissions CommissionAdmin, streams StreamReporter, deadLetters DeadLetterReader, accountHeader string) *Router {
	return &Router{
		orders:        orders,
		commissions:   commissions,
		streams:       streams,
		deadLetters:   deadLetters,
		accountHeader: accountHeader,
	}
}

// Register 将路由挂载到给定分组下。
func (r *Router) Register(group *gin.RouterGroup) {
	if group == nil {
		return
	}
	authed := group.Group("", r.requireAccount())
	authed.POST("/orders", r.handleCreateOrder)
	authed.GET("/orders/:order_id", r.handleGetOrder)
	authed.DELETE("/orders/:order_id", r.handleCancelOrder)
	authed.GET("/transactions", r.handleListTransactions)
	if r.commissions != nil {
		group.GET("/commissions", r.handleListCommissions)
		group.PUT("/commissions/:name", r.handleUpdateCommission)
	}
	if r.streams != nil {
		group.GET("/streams", r.handleStreams)
	}
	if r.deadLetters != nil {
		group.GET("/dead-letters", r.handleListDeadLetters)
	}
}

// requireAccount 读取上游网关注入的账户头。
func (r *Router) requireAccount() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(r.accountHeader))
		if id == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"status": false,
				"error":  "missing " + r.accountHeader + " header",
			})
			return
		}
		c.Set(accountKey, id)
		c.Next()
	}
}

func (r *Router) handleCreateOrder(c *gin.Context) {
	raw, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes))
	if err != nil {
		badRequest(c, "read body failed")
		return
	}
	if err := validateBody("create_order.json", raw); err != nil {
		badRequest(c, err.Error())
		return
	}
	req, err := parseCreateOrder(raw)
	if err != nil {
		writeError(c, err)
		return
	}
	view, err := r.orders.CreateOrder(c.Request.Context(), c.GetString(accountKey), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"status":  true,
		"message": "order accepted",
		"order":   newOrderDTO(view),
	})
}

func parseCreateOrder(raw []byte) (ledger.CreateOrderRequest, error) {
	body := gjson.ParseBytes(raw)
	side, err := order.ParseSide(body.Get("side").String())
	if err != nil {
		return ledger.CreateOrderRequest{}, err
	}
	kind, err := order.ParseKind(body.Get("type").String())
	if err != nil {
		return ledger.CreateOrderRequest{}, err
	}
	qty, ok := convert.JSONDecimal(body.Get("qty"))
	if !ok {
		return ledger.CreateOrderRequest{}, order.Invalid("qty", "must be a decimal number")
	}
	req := ledger.CreateOrderRequest{
		Request: order.Request{
			Symbol:      body.Get("symbol").String(),
			Side:        side,
			Kind:        kind,
			Quantity:    qty,
			TimeInForce: body.Get("time_in_force").String(),
		},
		AgentAccountID: strings.TrimSpace(body.Get("account_commissioner").String()),
	}
	for field, dst := range map[string]**decimal.Decimal{
		"limit_price": &req.LimitPrice,
		"stop_price":  &req.StopPrice,
	} {
		v := body.Get(field)
		if !v.Exists() || v.Type == gjson.Null {
			continue
		}
		d, ok := convert.JSONDecimal(v)
		if !ok {
			return ledger.CreateOrderRequest{}, order.Invalid(field, "must be a decimal number")
		}
		*dst = &d
	}
	return req, nil
}

func (r *Router) handleGetOrder(c *gin.Context) {
	view, err := r.orders.GetOrder(c.Request.Context(), c.GetString(accountKey), c.Param("order_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": true, "order": newOrderDTO(view)})
}

func (r *Router) handleCancelOrder(c *gin.Context) {
	ok, err := r.orders.CancelOrder(c.Request.Context(), c.GetString(accountKey), c.Param("order_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	msg := "cancel request accepted"
	if !ok {
		msg = "broker did not confirm cancellation"
	}
	c.JSON(http.StatusOK, gin.H{"status": ok, "message": msg})
}

// queryLimit 解析 ?limit=，缺省为 def，上限为 ceiling。
func queryLimit(c *gin.Context, def, ceiling int) (int, bool) {
	raw := strings.TrimSpace(c.Query("limit"))
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		badRequest(c, "limit must be a positive integer")
		return 0, false
	}
	return min(n, ceiling), true
}

func (r *Router) handleListTransactions(c *gin.Context) {
	limit, ok := queryLimit(c, defaultTransactionLimit, maxTransactionLimit)
	if !ok {
		return
	}
	view, err := r.orders.ListTransactions(c.Request.Context(), c.GetString(accountKey), limit)
	if err != nil {
		writeError(c, err)
		return
	}
	items := make([]transactionDTO, 0, len(view.Items))
	for _, tx := range view.Items {
		items = append(items, newTransactionDTO(tx))
	}
	c.JSON(http.StatusOK, gin.H{
		"status":          true,
		"account_id":      view.AccountID,
		"balance":         view.Balance.StringFixed(order.AmountScale),
		"balance_display": display(view.Balance),
		"transactions":    items,
	})
}

func (r *Router) handleListCommissions(c *gin.Context) {
	snap, err := r.commissions.Snapshot(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	rates := gin.H{}
	for name, pct := range snap.Percent {
		rates[name] = pct.String()
	}
	c.JSON(http.StatusOK, gin.H{
		"status":    true,
		"version":   snap.Version,
		"loaded_at": snap.LoadedAt,
		"rates":     rates,
		"defaulted": snap.Defaulted,
	})
}

func (r *Router) handleUpdateCommission(c *gin.Context) {
	name := c.Param("name")
	if name != commission.NamePlatform && name != commission.NameReferringAgent {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"status": false, "error": "unknown commission " + name})
		return
	}
	raw, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes))
	if err != nil {
		badRequest(c, "read body failed")
		return
	}
	if err := validateBody("update_commission.json", raw); err != nil {
		badRequest(c, err.Error())
		return
	}
	pct, ok := convert.JSONDecimal(gjson.GetBytes(raw, "percent_value"))
	if !ok {
		badRequest(c, "percent_value must be a number")
		return
	}
	if err := r.commissions.Update(c.Request.Context(), name, pct); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": true, "name": name, "percent_value": pct.String()})
}

func (r *Router) handleStreams(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": true, "streams": r.streams.Stats()})
}

func (r *Router) handleListDeadLetters(c *gin.Context) {
	limit, ok := queryLimit(c, defaultDeadLetterLimit, maxDeadLetterLimit)
	if !ok {
		return
	}
	entries, err := r.deadLetters.List(c.Request.Context(), limit)
	if err != nil {
		writeError(c, err)
		return
	}
	if entries == nil {
		entries = []deadletter.Entry{}
	}
	c.JSON(http.StatusOK, gin.H{"status": true, "dead_letters": entries})
}
