package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"competence-bank/internal/config"
	"competence-bank/internal/constants"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog"
)

// ObjectStorage 原始简历文件的存储
type ObjectStorage interface {
	// UploadCVFile 保存原始简历，返回对象key
	UploadCVFile(ctx context.Context, cvUUID, fileExt string, data []byte) (string, error)
	// DownloadFile 读取对象内容
	DownloadFile(ctx context.Context, objectKey string) ([]byte, error)
	// DeleteFile 删除对象，对象不存在不算错误
	DeleteFile(ctx context.Context, objectKey string) error
}

var _ ObjectStorage = (*MinIO)(nil)

// MinIO 基于MinIO的对象存储
type MinIO struct {
	client *minio.Client
	bucket string
	logger zerolog.Logger
}

// NewMinIO 创建MinIO客户端并确保存储桶存在
func NewMinIO(ctx context.Context, cfg *config.MinIOConfig, logger zerolog.Logger) (*MinIO, error) {
	if cfg == nil {
		return nil, fmt.Errorf("MinIO配置不能为空")
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("创建MinIO客户端失败: %w", err)
	}

	m := &MinIO{
		client: client,
		bucket: cfg.BucketName,
		logger: logger.With().Str("component", "minio").Logger(),
	}
	if err := m.ensureBucketExists(ctx, cfg.Location); err != nil {
		return nil, err
	}
	m.logger.Info().Str("endpoint", cfg.Endpoint).Str("bucket", m.bucket).Msg("MinIO客户端初始化成功")
	return m, nil
}

func (m *MinIO) ensureBucketExists(ctx context.Context, location string) error {
	exists, err := m.client.BucketExists(ctx, m.bucket)
	if err != nil {
		return fmt.Errorf("检查存储桶 %s 是否存在时出错: %w", m.bucket, err)
	}
	if exists {
		return nil
	}
	if err := m.client.MakeBucket(ctx, m.bucket, minio.MakeBucketOptions{Region: location}); err != nil {
		return fmt.Errorf("创建存储桶 %s 失败: %w", m.bucket, err)
	}
	m.logger.Info().Str("bucket", m.bucket).Msg("存储桶已创建")
	return nil
}

// CVObjectKey 原始简历的对象key，例如 cvs/{uuid}/original.pdf
func CVObjectKey(cvUUID, fileExt string) string {
	return fmt.Sprintf("%s%s/original%s", constants.CVObjectPrefix, cvUUID, strings.ToLower(fileExt))
}

// UploadCVFile 上传原始简历
func (m *MinIO) UploadCVFile(ctx context.Context, cvUUID, fileExt string, data []byte) (string, error) {
	objectKey := CVObjectKey(cvUUID, fileExt)
	info, err := m.client.PutObject(ctx, m.bucket, objectKey, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentTypeFor(fileExt)})
	if err != nil {
		return "", fmt.Errorf("上传对象 %s/%s 失败: %w", m.bucket, objectKey, err)
	}
	m.logger.Debug().Str("object_key", objectKey).Str("etag", info.ETag).Int64("size", info.Size).Msg("原始简历已上传")
	return objectKey, nil
}

// DownloadFile 下载对象
func (m *MinIO) DownloadFile(ctx context.Context, objectKey string) ([]byte, error) {
	obj, err := m.client.GetObject(ctx, m.bucket, objectKey, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("获取对象 %s/%s 失败: %w", m.bucket, objectKey, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("读取对象 %s/%s 数据失败: %w", m.bucket, objectKey, err)
	}
	return data, nil
}

// DeleteFile 删除对象
func (m *MinIO) DeleteFile(ctx context.Context, objectKey string) error {
	if err := m.client.RemoveObject(ctx, m.bucket, objectKey, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("删除对象 %s 失败: %w", objectKey, err)
	}
	return nil
}

func contentTypeFor(ext string) string {
	switch strings.ToLower(ext) {
	case ".pdf":
		return constants.ContentTypePDF
	case ".txt":
		return "text/plain"
	default:
		return "application/octet-stream"
	}
}
