// Package server HTTP 服务：路由、中间件和优雅退出
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/chaos-io/imageapp/api"
	"github.com/chaos-io/imageapp/config"
)

// Server 包装 http.Server 和路由
type Server struct {
	cfg    config.Config
	logger *slog.Logger
	server *http.Server
	engine *gin.Engine
}

// New 注册路由和中间件
func New(cfg config.Config, logger *slog.Logger, h *api.Handler) *Server {
	if cfg.Env == "production" || cfg.Env == "staging" {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(requestID(), recovery(logger), accessLog(logger), observe())

	limited := engine.Group("/", rateLimit(cfg.RateLimit, cfg.RateWindow), bodyLimit(cfg.MaxContentLength))
	limited.POST("/remove-background", h.RemoveBackground)
	limited.POST("/generate-image", h.GenerateImage)

	engine.GET("/health", h.Health)
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           engine,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}

	return &Server{
		cfg:    cfg,
		logger: logger,
		server: srv,
		engine: engine,
	}
}

// Handler 返回路由，主要用于测试
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run 启动服务并阻塞，直到退出或出错
func (s *Server) Run() error {
	s.logger.Info("api server listening", "addr", s.server.Addr, "env", s.cfg.Env)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown 在 ctx 超时前优雅退出
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down server")
	if err := s.server.Shutdown(ctx); err != nil {
		return err
	}
	s.logger.Info("server stopped")
	return nil
}
