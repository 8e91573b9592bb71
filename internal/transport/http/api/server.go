// Package api 提供下单、撤单、流水与佣金管理的 HTTP 接口。
package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"tradedesk/internal/logger"

	"github.com/gin-gonic/gin"
)

// Server 是 tradedesk 的 HTTP 服务。
type Server struct {
	addr            string
	router          *gin.Engine
	shutdownTimeout time.Duration
}

// ServerConfig 描述 HTTP 服务依赖。
type ServerConfig struct {
	Addr            string
	AccountHeader   string
	ShutdownTimeout time.Duration
	Orders          OrderService
	Commissions     CommissionAdmin
	Streams         StreamReporter
	DeadLetters     DeadLetterReader
}

// NewServer 构建 HTTP server。
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Orders == nil {
		return nil, errors.New("http server requires order service")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}
	if strings.TrimSpace(cfg.AccountHeader) == "" {
		cfg.AccountHeader = "X-Account-ID"
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 5 * time.Second
	}
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	NewRouter(cfg.Orders, cfg.Commissions, cfg.Streams, cfg.DeadLetters, cfg.AccountHeader).Register(router.Group("/api"))

	return &Server{addr: cfg.Addr, router: router, shutdownTimeout: cfg.ShutdownTimeout}, nil
}

// requestLogger 记录每个请求的方法、路径、状态与耗时。
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		if q := c.Request.URL.RawQuery; q != "" {
			path += "?" + q
		}
		c.Next()
		logger.Debugf("HTTP %s %s status=%d ip=%s dur=%s",
			c.Request.Method, path, c.Writer.Status(), c.ClientIP(), time.Since(start))
	}
}

// Handler 暴露底层 http.Handler，便于测试。
func (s *Server) Handler() http.Handler {
	return s.router
}

// Addr 返回监听地址。
func (s *Server) Addr() string {
	if s == nil {
		return ""
	}
	return s.addr
}

// Start 启动 HTTP 服务，直到 ctx 取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	srv := &http.Server{Addr: s.addr, Handler: s.router, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	logger.Infof("HTTP 服务已启动 %s", s.addr)

	select {
	case <-ctx.Done():
		shCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shCtx); err != nil {
			logger.Warnf("HTTP 服务关闭超时: %v", err)
		}
		return nil
	case err := <-errCh:
		return err
	}
}
