package llm

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

const (
	defaultQPM       = 30
	defaultRetryWait = time.Second
)

// TokenBucket 令牌桶限流器，按每分钟请求数匀速补充
type TokenBucket struct {
	rate       float64 // 每秒令牌数
	capacity   float64
	tokens     float64
	lastRefill time.Time
	mu         sync.Mutex

	retryWait  time.Duration
	maxRetries int
}

// NewTokenBucket capacity<=0 时取 qpm 的一半
func NewTokenBucket(qpm, capacity int) *TokenBucket {
	if qpm <= 0 {
		qpm = defaultQPM
	}
	if capacity <= 0 {
		capacity = qpm / 2
		if capacity <= 0 {
			capacity = 1
		}
	}
	return &TokenBucket{
		rate:       float64(qpm) / 60.0,
		capacity:   float64(capacity),
		tokens:     float64(capacity),
		lastRefill: time.Now(),
		retryWait:  defaultRetryWait,
		maxRetries: 2,
	}
}

// WithRetryPolicy 设置首次退避时间和最大重试次数
func (tb *TokenBucket) WithRetryPolicy(wait time.Duration, maxRetries int) *TokenBucket {
	tb.retryWait = wait
	if maxRetries >= 0 {
		tb.maxRetries = maxRetries
	}
	return tb
}

func (tb *TokenBucket) refill() {
	now := time.Now()
	tb.tokens += now.Sub(tb.lastRefill).Seconds() * tb.rate
	if tb.tokens > tb.capacity {
		tb.tokens = tb.capacity
	}
	tb.lastRefill = now
}

// Allow 非阻塞地尝试取一个令牌
func (tb *TokenBucket) Allow() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	tb.refill()
	if tb.tokens >= 1.0 {
		tb.tokens--
		return true
	}
	return false
}

// Wait 阻塞直到取得令牌或ctx结束
func (tb *TokenBucket) Wait(ctx context.Context) error {
	for {
		tb.mu.Lock()
		tb.refill()
		if tb.tokens >= 1.0 {
			tb.tokens--
			tb.mu.Unlock()
			return nil
		}
		wait := time.Duration((1.0 - tb.tokens) / tb.rate * float64(time.Second))
		tb.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// RetryWithBackoff 每次尝试前取令牌，限流类错误按指数退避重试
func (tb *TokenBucket) RetryWithBackoff(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; attempt <= tb.maxRetries; attempt++ {
		if err = tb.Wait(ctx); err != nil {
			return err
		}
		if err = fn(); err == nil {
			return nil
		}
		if !IsRateLimitError(err) || attempt == tb.maxRetries {
			return err
		}

		timer := time.NewTimer(tb.retryWait * time.Duration(1<<uint(attempt)))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return err
}

// IsRateLimitError 服务端限流或过载
func IsRateLimitError(err error) bool {
	if err == nil {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode == http.StatusTooManyRequests || se.StatusCode == http.StatusServiceUnavailable
	}
	msg := strings.ToLower(err.Error())
	for _, s := range []string{"rate limit", "too many requests", "请求超过限额", "qps限制", "服务器繁忙"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// RateLimitedChatModel 对底层模型的调用做限流
type RateLimitedChatModel struct {
	inner   model.ToolCallingChatModel
	limiter *TokenBucket
}

// NewRateLimitedChatModel 从 LLM 配置的 qpm 与 max_retries 构造
func NewRateLimitedChatModel(inner model.ToolCallingChatModel, qpm, maxRetries int) *RateLimitedChatModel {
	if qpm <= 0 {
		qpm = defaultQPM
	}
	return &RateLimitedChatModel{
		inner:   inner,
		limiter: NewTokenBucket(qpm, qpm/2).WithRetryPolicy(defaultRetryWait, maxRetries),
	}
}

// Limiter 共享的令牌桶
func (rl *RateLimitedChatModel) Limiter() *TokenBucket {
	return rl.limiter
}

func (rl *RateLimitedChatModel) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	var out *schema.Message
	err := rl.limiter.RetryWithBackoff(ctx, func() error {
		var genErr error
		out, genErr = rl.inner.Generate(ctx, input, opts...)
		return genErr
	})
	return out, err
}

func (rl *RateLimitedChatModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	var out *schema.StreamReader[*schema.Message]
	err := rl.limiter.RetryWithBackoff(ctx, func() error {
		var streamErr error
		out, streamErr = rl.inner.Stream(ctx, input, opts...)
		return streamErr
	})
	return out, err
}

// WithTools 新实例与原实例共用同一个令牌桶
func (rl *RateLimitedChatModel) WithTools(tools []*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	inner, err := rl.inner.WithTools(tools)
	if err != nil {
		return nil, err
	}
	return &RateLimitedChatModel{inner: inner, limiter: rl.limiter}, nil
}

var _ model.ToolCallingChatModel = (*RateLimitedChatModel)(nil)
