package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var _ ObjectStorage = (*LocalFiles)(nil)

// LocalFiles 未配置MinIO时把原始简历写到本地上传目录
type LocalFiles struct {
	root string
}

// NewLocalFiles 创建本地文件存储，目录不存在时自动创建
func NewLocalFiles(root string) (*LocalFiles, error) {
	if root == "" {
		root = "uploads"
	}
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("创建上传目录 %s 失败: %w", root, err)
	}
	return &LocalFiles{root: root}, nil
}

func (l *LocalFiles) path(objectKey string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(objectKey))
	if filepath.IsAbs(clean) || strings.HasPrefix(clean, "..") {
		return "", fmt.Errorf("非法的对象key: %s", objectKey)
	}
	return filepath.Join(l.root, clean), nil
}

// UploadCVFile 保存原始简历
func (l *LocalFiles) UploadCVFile(_ context.Context, cvUUID, fileExt string, data []byte) (string, error) {
	objectKey := CVObjectKey(cvUUID, fileExt)
	p, err := l.path(objectKey)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		return "", fmt.Errorf("创建目录失败: %w", err)
	}
	if err := os.WriteFile(p, data, 0644); err != nil {
		return "", fmt.Errorf("写入文件 %s 失败: %w", p, err)
	}
	return objectKey, nil
}

// DownloadFile 读取文件
func (l *LocalFiles) DownloadFile(_ context.Context, objectKey string) ([]byte, error) {
	p, err := l.path(objectKey)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, fmt.Errorf("读取文件 %s 失败: %w", p, err)
	}
	return data, nil
}

// DeleteFile 删除文件
func (l *LocalFiles) DeleteFile(_ context.Context, objectKey string) error {
	p, err := l.path(objectKey)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("删除文件 %s 失败: %w", p, err)
	}
	_ = os.Remove(filepath.Dir(p))
	return nil
}
