package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"competence-bank/internal/config"
	"competence-bank/internal/constants"

	"github.com/google/uuid"
	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

var redisTracer = otel.Tracer("competence-bank/storage/redis")

// 释放锁：值匹配时才删除
const releaseLockScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
    return redis.call("del", KEYS[1])
else
    return 0
end
`

// Redis 封装Redis客户端，负责上传去重与分布式锁
type Redis struct {
	Client *redis.Client
	config *config.RedisConfig
}

// NewRedisAdapter 创建Redis连接并注册OpenTelemetry钩子
func NewRedisAdapter(cfg *config.RedisConfig) (*Redis, error) {
	if cfg == nil {
		return nil, fmt.Errorf("redis config cannot be nil")
	}
	if cfg.Address == "" {
		return nil, fmt.Errorf("redis address is required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  time.Duration(cfg.DialTimeoutSeconds) * time.Second,
		ReadTimeout:  time.Duration(cfg.ReadTimeoutSeconds) * time.Second,
		WriteTimeout: time.Duration(cfg.WriteTimeoutSeconds) * time.Second,
		MaxRetries:   cfg.MaxRetries,
	})

	if err := redisotel.InstrumentTracing(client); err != nil {
		return nil, fmt.Errorf("failed to instrument Redis with OpenTelemetry: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := client.Ping(ctx).Result(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", cfg.Address, err)
	}

	return NewRedisFromClient(client, cfg), nil
}

// NewRedisFromClient 包装已有客户端，不做连通性检查
func NewRedisFromClient(client *redis.Client, cfg *config.RedisConfig) *Redis {
	if cfg == nil {
		cfg = &config.RedisConfig{}
	}
	return &Redis{Client: client, config: cfg}
}

// Close 关闭连接
func (r *Redis) Close() error {
	if r.Client != nil {
		return r.Client.Close()
	}
	return nil
}

// Ping 检查连接
func (r *Redis) Ping(ctx context.Context) error {
	if r.Client == nil {
		return fmt.Errorf("redis client is not initialized")
	}
	return r.Client.Ping(ctx).Err()
}

// GetMD5ExpireDuration 返回配置的MD5记录过期时间
func (r *Redis) GetMD5ExpireDuration() time.Duration {
	days := r.config.MD5RecordExpireDays
	if days <= 0 {
		days = 365
	}
	return time.Duration(days) * 24 * time.Hour
}

func (r *Redis) startSpan(ctx context.Context, name, operation, key string) (context.Context, trace.Span) {
	ctx, span := redisTracer.Start(ctx, name, trace.WithSpanKind(trace.SpanKindClient))
	span.SetAttributes(
		semconv.DBSystemRedis,
		attribute.String("db.redis.database", fmt.Sprintf("%d", r.config.DB)),
		attribute.String("net.peer.name", r.config.Address),
		attribute.String("db.operation", operation),
		attribute.String("db.redis.key", key),
	)
	return ctx, span
}

func failSpan(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// CheckAndSetMD5 检查上传文件的MD5是否已登记。
// 已存在时返回 true 以及对应的简历UUID；不存在时登记 md5 -> cvUUID 并返回 false。
func (r *Redis) CheckAndSetMD5(ctx context.Context, md5Hex string, cvUUID string) (bool, string, error) {
	setKey := constants.KeyFileMD5Set
	mapKey := fmt.Sprintf(constants.KeyFileMD5ToCVUUID, md5Hex)

	ctx, span := r.startSpan(ctx, "Redis.CheckAndSetMD5", "SISMEMBER", setKey)
	defer span.End()
	span.SetAttributes(attribute.String("db.redis.member", md5Hex))

	if r.Client == nil {
		err := fmt.Errorf("redis client is not initialized")
		failSpan(span, err)
		return false, "", err
	}

	exists, err := r.Client.SIsMember(ctx, setKey, md5Hex).Result()
	if err != nil {
		failSpan(span, err)
		return false, "", fmt.Errorf("检查MD5是否存在失败: %w", err)
	}
	if exists {
		existingUUID, err := r.Client.Get(ctx, mapKey).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			failSpan(span, err)
			return true, "", fmt.Errorf("获取已存在的简历UUID失败: %w", err)
		}
		span.SetAttributes(attribute.Bool("already_exists", true))
		return true, existingUUID, nil
	}

	pipe := r.Client.Pipeline()
	addCmd := pipe.SAdd(ctx, setKey, md5Hex)
	setNXCmd := pipe.SetNX(ctx, mapKey, cvUUID, r.GetMD5ExpireDuration())
	pipe.Expire(ctx, setKey, r.GetMD5ExpireDuration())
	if _, err := pipe.Exec(ctx); err != nil {
		failSpan(span, err)
		return false, "", fmt.Errorf("执行原子添加MD5操作失败: %w", err)
	}
	if addCmd.Val() > 0 && setNXCmd.Val() {
		span.SetAttributes(attribute.Bool("already_exists", false))
		span.SetStatus(codes.Ok, "")
		return false, "", nil
	}

	// 并发窗口内被其他请求抢先登记
	existingUUID, err := r.Client.Get(ctx, mapKey).Result()
	if err != nil {
		failSpan(span, err)
		return true, "", fmt.Errorf("获取已存在的简历UUID失败: %w", err)
	}
	span.SetAttributes(attribute.Bool("already_exists", true))
	return true, existingUUID, nil
}

// RemoveFileMD5 撤销MD5登记，用于上传失败回滚或删除简历
func (r *Redis) RemoveFileMD5(ctx context.Context, md5Hex string) error {
	setKey := constants.KeyFileMD5Set
	ctx, span := r.startSpan(ctx, "Redis.RemoveFileMD5", "SREM", setKey)
	defer span.End()
	span.SetAttributes(attribute.String("db.redis.member", md5Hex))

	pipe := r.Client.Pipeline()
	remCmd := pipe.SRem(ctx, setKey, md5Hex)
	pipe.Del(ctx, fmt.Sprintf(constants.KeyFileMD5ToCVUUID, md5Hex))
	if _, err := pipe.Exec(ctx); err != nil {
		failSpan(span, err)
		return fmt.Errorf("从集合中移除MD5失败: %w", err)
	}
	span.SetAttributes(attribute.Int64("removed_count", remCmd.Val()))
	span.SetStatus(codes.Ok, "")
	return nil
}

// AcquireLock 尝试获取分布式锁，成功时返回持有者标识，锁被占用时返回空串
func (r *Redis) AcquireLock(ctx context.Context, lockKey string, expiration time.Duration) (string, error) {
	if r.Client == nil {
		return "", fmt.Errorf("redis client is not initialized")
	}
	lockValue := uuid.NewString()
	ok, err := r.Client.SetNX(ctx, lockKey, lockValue, expiration).Result()
	if err != nil {
		return "", err
	}
	if !ok {
		return "", nil
	}
	return lockValue, nil
}

// ReleaseLock 释放分布式锁，只有持有者才能释放
func (r *Redis) ReleaseLock(ctx context.Context, lockKey string, lockValue string) (bool, error) {
	if r.Client == nil {
		return false, fmt.Errorf("redis client is not initialized")
	}
	res, err := r.Client.Eval(ctx, releaseLockScript, []string{lockKey}, lockValue).Result()
	if err != nil {
		return false, err
	}
	released, ok := res.(int64)
	return ok && released == 1, nil
}
