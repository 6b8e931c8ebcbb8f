package storage

import (
	"context"
	"fmt"
	"strings"

	"competence-bank/internal/config"

	"github.com/rs/zerolog"
)

// Storage 存储管理器，聚合所有存储相关依赖
type Storage struct {
	// 关系型数据库，必需
	Database *Database

	// 原始简历文件，未配置MinIO时为本地目录
	Files ObjectStorage

	// 上传去重与分布式锁，可选
	Redis *Redis

	// 事件投递与自动合并，可选
	RabbitMQ *RabbitMQ
}

// NewStorage 创建存储管理器。
// 数据库和文件存储失败时返回错误，Redis与RabbitMQ失败只记录警告并降级运行。
func NewStorage(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*Storage, error) {
	if cfg == nil {
		return nil, fmt.Errorf("配置不能为空")
	}

	s := &Storage{}
	var err error
	var degraded []string

	s.Database, err = NewDatabase(cfg)
	if err != nil {
		return nil, fmt.Errorf("初始化数据库失败: %w", err)
	}

	if cfg.MinIO.Endpoint != "" {
		s.Files, err = NewMinIO(ctx, &cfg.MinIO, logger)
		if err != nil {
			logger.Warn().Err(err).Msg("初始化MinIO失败，原始简历改存本地目录")
			degraded = append(degraded, fmt.Sprintf("MinIO: %v", err))
		}
	}
	if s.Files == nil {
		s.Files, err = NewLocalFiles(cfg.Upload.UploadDir)
		if err != nil {
			s.Database.Close()
			return nil, err
		}
	}

	if cfg.Redis.Address != "" {
		s.Redis, err = NewRedisAdapter(&cfg.Redis)
		if err != nil {
			logger.Warn().Err(err).Msg("初始化Redis失败，上传去重与分布式锁不可用")
			degraded = append(degraded, fmt.Sprintf("Redis: %v", err))
			s.Redis = nil
		}
	} else {
		logger.Info().Msg("Redis未配置, 跳过初始化")
	}

	if cfg.RabbitMQ.URL != "" {
		s.RabbitMQ, err = NewRabbitMQ(&cfg.RabbitMQ, logger)
		if err != nil {
			logger.Warn().Err(err).Msg("初始化RabbitMQ失败，上传事件将留在发件箱中")
			degraded = append(degraded, fmt.Sprintf("RabbitMQ: %v", err))
			s.RabbitMQ = nil
		}
	}

	if len(degraded) > 0 {
		logger.Warn().Str("components", strings.Join(degraded, "; ")).Msg("部分存储组件初始化失败")
	}
	return s, nil
}

// Close 关闭所有连接
func (s *Storage) Close(logger zerolog.Logger) {
	if s.RabbitMQ != nil {
		if err := s.RabbitMQ.Close(); err != nil {
			logger.Error().Err(err).Msg("关闭RabbitMQ连接失败")
		}
	}
	if s.Redis != nil {
		if err := s.Redis.Close(); err != nil {
			logger.Error().Err(err).Msg("关闭Redis连接失败")
		}
	}
	if s.Database != nil {
		if err := s.Database.Close(); err != nil {
			logger.Error().Err(err).Msg("关闭数据库连接失败")
		}
	}
}
