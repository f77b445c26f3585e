// Package rembg 抠图后端：本地 U²-Net(onnxruntime)、远程 rembg 服务、ComfyUI BiRefNet 工作流
package rembg

import (
	"context"
	"fmt"
	"image"
	"time"

	nhttp "github.com/chaos-io/imageapp/util/http"
)

const (
	BackendONNX    = "onnx"
	BackendRembg   = "rembg"
	BackendComfyUI = "comfyui"
)

type Remover interface {
	Remove(ctx context.Context, img image.Image) (image.Image, error)
}

// Options 创建 Remover 所需参数，只有所选后端的字段会被使用
type Options struct {
	Backend string

	// onnx
	ModelDir   string
	ModelURL   string
	ModelMD5     string
	RuntimeLib   string
	FetchTimeout time.Duration

	// rembg
	RembgURL string

	// comfyui
	ComfyUIURL   string
	Workflow     string
	PollInterval time.Duration
}

// New 按 Backend 创建 Remover
func New(opts Options) (Remover, error) {
	switch opts.Backend {
	case "", BackendONNX:
		u := NewU2NetRemBG(opts.ModelDir, ModelSpec{
			Name: u2netModelName,
			URL:  opts.ModelURL,
			MD5:  opts.ModelMD5,
		}, opts.RuntimeLib)
		if opts.FetchTimeout > 0 {
			u.fetchTimeout = opts.FetchTimeout
		}
		return u, nil
	case BackendRembg:
		if opts.RembgURL == "" {
			return nil, fmt.Errorf("rembg backend requires a server url")
		}
		return NewServerRemBG(opts.RembgURL, nhttp.NewHTTPClient()), nil
	case BackendComfyUI:
		if opts.ComfyUIURL == "" {
			return nil, fmt.Errorf("comfyui backend requires a server url")
		}
		b := NewBiRefNetRemBG(opts.ComfyUIURL, nhttp.NewHTTPClient())
		if opts.Workflow != "" {
			b.workflow = opts.Workflow
		}
		if opts.PollInterval > 0 {
			b.pollInterval = opts.PollInterval
		}
		return b, nil
	default:
		return nil, fmt.Errorf("unknown rembg backend %q", opts.Backend)
	}
}

// Close 释放 Remover 持有的资源（目前只有 onnx 会话）
func Close(r Remover) error {
	if c, ok := r.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}

// Warm 预热 Remover（目前只有 onnx 需要下载模型），不支持预热的直接返回
func Warm(ctx context.Context, r Remover) error {
	if w, ok := r.(interface {
		Warmup(ctx context.Context) error
	}); ok {
		return w.Warmup(ctx)
	}
	return nil
}
