package competence

import (
	"context"
	"time"

	"github.com/cloudwego/eino/components/embedding"
)

const (
	defaultEmbedTimeout = 30 * time.Second
	defaultLockTTL      = 5 * time.Minute
)

// Locker 跨进程的互斥锁，Redis适配器实现了它
type Locker interface {
	AcquireLock(ctx context.Context, lockKey string, expiration time.Duration) (string, error)
	ReleaseLock(ctx context.Context, lockKey string, lockValue string) (bool, error)
}

// Option 服务可选配置
type Option func(*Service)

// WithEmbedder 为新技能、新经历生成向量，失败时不影响合并
func WithEmbedder(e embedding.Embedder) Option {
	return func(s *Service) {
		s.embedder = e
	}
}

// WithEmbedTimeout 单次向量化的超时
func WithEmbedTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.embedTimeout = d
		}
	}
}

// WithLocker 启用跨进程的全库写锁，用于全量合并、重建与清空
func WithLocker(l Locker, ttl time.Duration) Option {
	return func(s *Service) {
		s.locker = l
		if ttl > 0 {
			s.lockTTL = ttl
		}
	}
}
