package storage

import (
	"context"
	"errors"
	"fmt"

	"competence-bank/internal/storage/models"

	"gorm.io/gorm"
)

// CVStore 简历与优化版本的持久化
type CVStore struct {
	db *gorm.DB
}

// NewCVStore 创建简历存储
func NewCVStore(db *gorm.DB) *CVStore {
	return &CVStore{db: db}
}

// WithTx 返回绑定到事务的存储
func (s *CVStore) WithTx(tx *gorm.DB) *CVStore {
	return &CVStore{db: tx}
}

// CreateWithOutbox 在同一事务中写入简历与上传事件
func (s *CVStore) CreateWithOutbox(ctx context.Context, cv *models.CV, msg *models.OutboxMessage) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(cv).Error; err != nil {
			return fmt.Errorf("保存简历失败: %w", err)
		}
		if msg == nil {
			return nil
		}
		if err := fillOutboxPayload(msg, cv); err != nil {
			return err
		}
		if err := tx.Create(msg).Error; err != nil {
			return fmt.Errorf("写入发件箱失败: %w", err)
		}
		return nil
	})
}

// fillOutboxPayload 简历ID在插入后才确定，这里回填事件体
func fillOutboxPayload(msg *models.OutboxMessage, cv *models.CV) error {
	if msg.Payload != "" {
		return nil
	}
	payload, err := models.ToJSON(CVUploadedMessage{
		CVID:             cv.ID,
		CVUUID:           cv.UUID,
		OriginalFilename: cv.Filename,
		ObjectKey:        cv.ObjectKey,
		FileMD5:          cv.FileMD5,
		UploadedAt:       cv.UploadedAt,
	})
	if err != nil {
		return fmt.Errorf("序列化上传事件失败: %w", err)
	}
	msg.Payload = string(payload)
	if msg.AggregateID == "" {
		msg.AggregateID = cv.UUID
	}
	return nil
}

// Get 按ID获取简历
func (s *CVStore) Get(ctx context.Context, id uint) (*models.CV, error) {
	var cv models.CV
	if err := s.db.WithContext(ctx).First(&cv, id).Error; err != nil {
		return nil, fmt.Errorf("查询简历 %d 失败: %w", id, err)
	}
	return &cv, nil
}

// FindByMD5 按文件MD5查找，不存在时返回 nil, nil
func (s *CVStore) FindByMD5(ctx context.Context, md5Hex string) (*models.CV, error) {
	var cv models.CV
	err := s.db.WithContext(ctx).Where("file_md5 = ?", md5Hex).First(&cv).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("按MD5查询简历失败: %w", err)
	}
	return &cv, nil
}

// FindByUUID 按UUID查找，不存在时返回 nil, nil
func (s *CVStore) FindByUUID(ctx context.Context, cvUUID string) (*models.CV, error) {
	var cv models.CV
	err := s.db.WithContext(ctx).Where("uuid = ?", cvUUID).First(&cv).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("按UUID查询简历失败: %w", err)
	}
	return &cv, nil
}

// List 按上传时间倒序列出简历，不加载原文与向量
func (s *CVStore) List(ctx context.Context) ([]models.CV, error) {
	var cvs []models.CV
	err := s.db.WithContext(ctx).
		Omit("original_text", "full_content_embedding", "summary_embedding", "skills_embedding").
		Order("uploaded_at DESC").Order("id DESC").
		Find(&cvs).Error
	if err != nil {
		return nil, fmt.Errorf("查询简历列表失败: %w", err)
	}
	return cvs, nil
}

// ListIDs 按ID升序返回全部简历ID，重建能力库时按此顺序合并
func (s *CVStore) ListIDs(ctx context.Context) ([]uint, error) {
	var ids []uint
	if err := s.db.WithContext(ctx).Model(&models.CV{}).Order("id ASC").Pluck("id", &ids).Error; err != nil {
		return nil, fmt.Errorf("查询简历ID失败: %w", err)
	}
	return ids, nil
}

// UpdateTitle 修改简历标题
func (s *CVStore) UpdateTitle(ctx context.Context, id uint, title string) error {
	res := s.db.WithContext(ctx).Model(&models.CV{}).Where("id = ?", id).Update("title", title)
	if res.Error != nil {
		return fmt.Errorf("更新简历 %d 标题失败: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("更新简历 %d 标题失败: %w", id, gorm.ErrRecordNotFound)
	}
	return nil
}

// Delete 删除简历及其优化版本
func (s *CVStore) Delete(ctx context.Context, id uint) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("original_cv_id = ?", id).Delete(&models.OptimizedCV{}).Error; err != nil {
			return fmt.Errorf("删除简历 %d 的优化版本失败: %w", id, err)
		}
		res := tx.Delete(&models.CV{}, id)
		if res.Error != nil {
			return fmt.Errorf("删除简历 %d 失败: %w", id, res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("删除简历 %d 失败: %w", id, gorm.ErrRecordNotFound)
		}
		return nil
	})
}

// CreateOptimized 保存优化后的简历
func (s *CVStore) CreateOptimized(ctx context.Context, opt *models.OptimizedCV) error {
	if err := s.db.WithContext(ctx).Create(opt).Error; err != nil {
		return fmt.Errorf("保存优化简历失败: %w", err)
	}
	return nil
}

// GetOptimized 按ID获取优化简历
func (s *CVStore) GetOptimized(ctx context.Context, id uint) (*models.OptimizedCV, error) {
	var opt models.OptimizedCV
	if err := s.db.WithContext(ctx).First(&opt, id).Error; err != nil {
		return nil, fmt.Errorf("获取优化简历 %d 失败: %w", id, err)
	}
	return &opt, nil
}

// ListOptimized 列出某份简历的优化版本，最新的在前
func (s *CVStore) ListOptimized(ctx context.Context, cvID uint) ([]models.OptimizedCV, error) {
	var opts []models.OptimizedCV
	err := s.db.WithContext(ctx).Where("original_cv_id = ?", cvID).Order("created_at DESC").Order("id DESC").Find(&opts).Error
	if err != nil {
		return nil, fmt.Errorf("查询简历 %d 的优化版本失败: %w", cvID, err)
	}
	return opts, nil
}
