package http

import (
	"context"
	"errors"
	"time"
)

var ErrResponseTooLarge = errors.New("response body too large")

//go:generate mockgen -destination=mocks/http.go -package=mocks . IClient
type IClient interface {
	DoHTTPRequest(ctx context.Context, requestParam *RequestParam) error
}

// RequestParam 描述一次请求
//
//	Body: nil / io.Reader / []byte 原样发送，其他类型按 JSON 序列化
//	Response: nil 丢弃响应；*[]byte 保存原始响应体；其他类型按 JSON 反序列化
//	MaxResponseBytes: > 0 时响应体超过该大小返回 ErrResponseTooLarge
type RequestParam struct {
	RequestURI string
	Method     string
	Header     map[string]string
	Body       interface{}
	Response   interface{}

	Timeout          time.Duration
	MaxResponseBytes int64
}
