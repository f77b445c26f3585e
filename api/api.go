// Package api HTTP 处理函数：抠图、文生图、健康检查
package api

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/chaos-io/imageapp/generator"
	"github.com/chaos-io/imageapp/metrics"
	"github.com/chaos-io/imageapp/rembg"
	"github.com/chaos-io/imageapp/upload"
	"github.com/chaos-io/imageapp/worker"
)

const (
	defaultRemoveTimeout   = 30 * time.Second
	defaultGenerateTimeout = 60 * time.Second
)

// Options 处理参数
type Options struct {
	InstanceID      string
	MaxImageSide    int
	RemoveTimeout   time.Duration
	GenerateTimeout time.Duration
}

type Handler struct {
	remover   rembg.Remover
	generator generator.Generator
	pool      *worker.Pool
	store     *upload.Store
	opts      Options
	logger    *slog.Logger
}

func NewHandler(remover rembg.Remover, gen generator.Generator, pool *worker.Pool, store *upload.Store, opts Options, logger *slog.Logger) *Handler {
	if opts.RemoveTimeout <= 0 {
		opts.RemoveTimeout = defaultRemoveTimeout
	}
	if opts.GenerateTimeout <= 0 {
		opts.GenerateTimeout = defaultGenerateTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		remover:   remover,
		generator: gen,
		pool:      pool,
		store:     store,
		opts:      opts,
		logger:    logger,
	}
}

func respondError(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, gin.H{"error": message})
}

// jobResult 把任务错误归类为指标里的 result 标签
func jobResult(err error) string {
	switch {
	case err == nil:
		return metrics.ResultOK
	case errors.Is(err, worker.ErrTimeout):
		return metrics.ResultTimeout
	default:
		return metrics.ResultError
	}
}

func isTooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	return errors.As(err, &maxErr)
}
