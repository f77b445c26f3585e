// Package worker 有界并发执行器，带排队和执行超时
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/semaphore"
)

var ErrTimeout = errors.New("job timed out")

type Pool struct {
	sem  *semaphore.Weighted
	size int
}

func NewPool(size int) *Pool {
	if size <= 0 {
		size = 1
	}
	return &Pool{
		sem:  semaphore.NewWeighted(int64(size)),
		size: size,
	}
}

func (p *Pool) Size() int {
	return p.size
}

// Do 等待空闲槽位后执行 fn，timeout 覆盖排队和执行两段时间
//
//	超时返回 ErrTimeout，fn 的 ctx 同时被取消
//	调用方的 ctx 被取消时返回 ctx.Err()
//	fn 忽略 ctx 时，超时后其结果被丢弃，槽位在 fn 真正返回后才释放
func Do[T any](ctx context.Context, p *Pool, timeout time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	var jobCtx context.Context
	var cancel context.CancelFunc
	if timeout > 0 {
		jobCtx, cancel = context.WithTimeout(ctx, timeout)
	} else {
		jobCtx, cancel = context.WithCancel(ctx)
	}

	if err := p.sem.Acquire(jobCtx, 1); err != nil {
		cancel()
		return zero, mapErr(ctx, err)
	}

	type result struct {
		v   T
		err error
	}
	done := make(chan result, 1)
	go func() {
		defer p.sem.Release(1)
		defer cancel()
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: fmt.Errorf("job panic: %v", r)}
			}
		}()
		v, err := fn(jobCtx)
		done <- result{v: v, err: err}
	}()

	finish := func(r result) (T, error) {
		if r.err != nil && errors.Is(jobCtx.Err(), context.DeadlineExceeded) && errors.Is(r.err, context.DeadlineExceeded) {
			return zero, mapErr(ctx, r.err)
		}
		return r.v, r.err
	}

	select {
	case r := <-done:
		return finish(r)
	case <-jobCtx.Done():
		// fn 返回后 goroutine 也会 cancel，此时结果已在 done 中
		select {
		case r := <-done:
			return finish(r)
		default:
		}
		return zero, mapErr(ctx, jobCtx.Err())
	}
}

// mapErr 区分调用方取消和任务超时
func mapErr(parent context.Context, err error) error {
	if parent.Err() != nil {
		return parent.Err()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout
	}
	return err
}
