package api

import (
	"errors"
	"net/http"

	"tradedesk/internal/gateway/broker"
	"tradedesk/internal/logger"
	"tradedesk/internal/order"

	"github.com/gin-gonic/gin"
)

// statusFor 把领域错误映射为 HTTP 状态码。
func statusFor(err error) int {
	switch {
	case errors.Is(err, order.ErrValidation),
		errors.Is(err, order.ErrInvalidOrderSide),
		errors.Is(err, order.ErrUnsupportedOrderKind),
		errors.Is(err, broker.ErrBrokerRejected):
		return http.StatusBadRequest
	case errors.Is(err, order.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, order.ErrInsufficientFunds),
		errors.Is(err, order.ErrInsufficientHoldings):
		return http.StatusConflict
	case errors.Is(err, order.ErrPersistence):
		return http.StatusServiceUnavailable
	case errors.Is(err, broker.ErrUnavailable):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeError(c *gin.Context, err error) {
	status := statusFor(err)
	body := gin.H{"status": false, "error": err.Error()}

	var verr *order.ValidationError
	if errors.As(err, &verr) && verr.Field != "" {
		body["field"] = verr.Field
	}
	var rej *broker.RejectedError
	if errors.As(err, &rej) {
		body["broker_status"] = rej.StatusCode
		if len(rej.Payload) > 0 {
			body["broker"] = rej.Payload
		}
	}
	if status >= http.StatusInternalServerError {
		logger.Errorw("请求失败", "method", c.Request.Method, "path", c.FullPath(), "status", status, "error", err)
	}
	c.AbortWithStatusJSON(status, body)
}

func badRequest(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"status": false, "error": msg})
}
