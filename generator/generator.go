// Package generator 根据文字提示生成图片，返回图片地址
package generator

import (
	"context"
	"errors"
	"sync"
)

var ErrNotConfigured = errors.New("image generation is not configured")

type Generator interface {
	// Generate 提交提示词并返回生成图片的地址，找不到图片时返回空串
	Generate(ctx context.Context, prompt string) (string, error)
	Close() error
}

// Factory 创建真正的 Generator，例如启动浏览器
type Factory func() (Generator, error)

// Lazy 第一次调用时才创建 Generator，创建失败下次调用重试
type Lazy struct {
	mu      sync.Mutex
	factory Factory
	gen     Generator
}

// NewLazy factory 为 nil 时所有调用返回 ErrNotConfigured
func NewLazy(factory Factory) *Lazy {
	return &Lazy{factory: factory}
}

func (l *Lazy) Configured() bool {
	return l.factory != nil
}

func (l *Lazy) get() (Generator, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.factory == nil {
		return nil, ErrNotConfigured
	}
	if l.gen != nil {
		return l.gen, nil
	}
	g, err := l.factory()
	if err != nil {
		return nil, err
	}
	l.gen = g
	return g, nil
}

func (l *Lazy) Generate(ctx context.Context, prompt string) (string, error) {
	g, err := l.get()
	if err != nil {
		return "", err
	}
	return g.Generate(ctx, prompt)
}

// Close 关闭已创建的 Generator，之后再调用会重新创建
func (l *Lazy) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.gen == nil {
		return nil
	}
	err := l.gen.Close()
	l.gen = nil
	return err
}
