package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"competence-bank/internal/storage/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrRecordNotFound 记录不存在
var ErrRecordNotFound = gorm.ErrRecordNotFound

// SkillFilter 技能列表过滤条件，空字段不过滤
type SkillFilter struct {
	SkillType string
	Category  string
}

// ExperienceFilter 经历列表过滤条件
type ExperienceFilter struct {
	ExperienceType string
}

// CountByKey 分组计数结果
type CountByKey struct {
	Key   string `gorm:"column:group_key"`
	Count int64  `gorm:"column:group_count"`
}

// BankStore 能力库的持久化访问层：技能集合、经历池、证据关联与来源文档。
// 所有查询都直接访问数据库，不做进程内缓存。
type BankStore struct {
	db *gorm.DB
}

// NewBankStore 创建能力库存储
func NewBankStore(db *gorm.DB) *BankStore {
	return &BankStore{db: db}
}

// DB 返回底层连接
func (s *BankStore) DB() *gorm.DB {
	return s.db
}

// WithTx 返回绑定到事务的存储
func (s *BankStore) WithTx(tx *gorm.DB) *BankStore {
	return &BankStore{db: tx}
}

// Transaction 在一个事务中执行fn，fn返回错误时整体回滚
func (s *BankStore) Transaction(ctx context.Context, fn func(tx *BankStore) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(s.WithTx(tx))
	})
}

// SkillNameKey 技能名称的比较键
func SkillNameKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// FindSkillByNameCI 忽略大小写按名称查找技能，不存在时返回 nil, nil
func (s *BankStore) FindSkillByNameCI(ctx context.Context, name string) (*models.Skill, error) {
	var skill models.Skill
	err := s.db.WithContext(ctx).Where("name_key = ?", SkillNameKey(name)).First(&skill).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("查询技能失败: %w", err)
	}
	return &skill, nil
}

// CreateSkill 新建技能
func (s *BankStore) CreateSkill(ctx context.Context, skill *models.Skill) error {
	skill.NameKey = SkillNameKey(skill.SkillName)
	if err := s.db.WithContext(ctx).Create(skill).Error; err != nil {
		return fmt.Errorf("创建技能 %q 失败: %w", skill.SkillName, err)
	}
	return nil
}

// SaveSkill 保存技能
func (s *BankStore) SaveSkill(ctx context.Context, skill *models.Skill) error {
	if err := s.db.WithContext(ctx).Save(skill).Error; err != nil {
		return fmt.Errorf("保存技能 %d 失败: %w", skill.ID, err)
	}
	return nil
}

// DeleteSkill 删除技能及其证据关联，返回是否存在
func (s *BankStore) DeleteSkill(ctx context.Context, id uint) (bool, error) {
	db := s.db.WithContext(ctx)
	if err := db.Where("skill_id = ?", id).Delete(&models.SkillExperienceEvidence{}).Error; err != nil {
		return false, fmt.Errorf("删除技能 %d 的证据关联失败: %w", id, err)
	}
	res := db.Delete(&models.Skill{}, id)
	if res.Error != nil {
		return false, fmt.Errorf("删除技能 %d 失败: %w", id, res.Error)
	}
	return res.RowsAffected > 0, nil
}

// FindExperienceByKey 按归一化合并键查找经历，也会查手动合并留下的别名键。
// 不存在时返回 nil, nil
func (s *BankStore) FindExperienceByKey(ctx context.Context, mergeKey string) (*models.Experience, error) {
	db := s.db.WithContext(ctx)
	var exp models.Experience
	err := db.Where("merge_key = ?", mergeKey).Order("id ASC").First(&exp).Error
	if err == nil {
		return &exp, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("按合并键查询经历失败: %w", err)
	}

	var alias models.ExperienceMergeKey
	if err := db.Where("merge_key = ?", mergeKey).First(&alias).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("按别名键查询经历失败: %w", err)
	}
	if err := db.First(&exp, alias.ExperienceID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("查询别名键对应的经历失败: %w", err)
	}
	return &exp, nil
}

// AddMergeKeyAliases 让这些合并键指向 experienceID，已存在的别名改为指向它
func (s *BankStore) AddMergeKeyAliases(ctx context.Context, experienceID uint, keys ...string) error {
	for _, key := range keys {
		if key == "" {
			continue
		}
		err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "merge_key"}},
			DoUpdates: clause.AssignmentColumns([]string{"experience_id"}),
		}).Create(&models.ExperienceMergeKey{ExperienceID: experienceID, MergeKey: key}).Error
		if err != nil {
			return fmt.Errorf("记录经历 %d 的别名键失败: %w", experienceID, err)
		}
	}
	return nil
}

// ReassignMergeKeys 把被合并经历的别名键转给保留的经历
func (s *BankStore) ReassignMergeKeys(ctx context.Context, fromIDs []uint, toID uint) error {
	if len(fromIDs) == 0 {
		return nil
	}
	err := s.db.WithContext(ctx).Model(&models.ExperienceMergeKey{}).
		Where("experience_id IN ?", fromIDs).
		Update("experience_id", toID).Error
	if err != nil {
		return fmt.Errorf("转移别名键失败: %w", err)
	}
	return nil
}

// CreateExperience 新建经历
func (s *BankStore) CreateExperience(ctx context.Context, exp *models.Experience) error {
	if err := s.db.WithContext(ctx).Create(exp).Error; err != nil {
		return fmt.Errorf("创建经历 %q 失败: %w", exp.Title, err)
	}
	return nil
}

// SaveExperience 保存经历
func (s *BankStore) SaveExperience(ctx context.Context, exp *models.Experience) error {
	if err := s.db.WithContext(ctx).Save(exp).Error; err != nil {
		return fmt.Errorf("保存经历 %d 失败: %w", exp.ID, err)
	}
	return nil
}

// GetExperience 按ID获取经历
func (s *BankStore) GetExperience(ctx context.Context, id uint) (*models.Experience, error) {
	var exp models.Experience
	if err := s.db.WithContext(ctx).First(&exp, id).Error; err != nil {
		return nil, fmt.Errorf("查询经历 %d 失败: %w", id, err)
	}
	return &exp, nil
}

// GetExperiencesByIDs 批量获取经历，返回顺序与ids一致，不存在的ID被忽略
func (s *BankStore) GetExperiencesByIDs(ctx context.Context, ids []uint) ([]models.Experience, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var found []models.Experience
	if err := s.db.WithContext(ctx).Where("id IN ?", ids).Find(&found).Error; err != nil {
		return nil, fmt.Errorf("批量查询经历失败: %w", err)
	}
	byID := make(map[uint]models.Experience, len(found))
	for _, e := range found {
		byID[e.ID] = e
	}
	ordered := make([]models.Experience, 0, len(found))
	seen := make(map[uint]bool, len(ids))
	for _, id := range ids {
		if e, ok := byID[id]; ok && !seen[id] {
			ordered = append(ordered, e)
			seen[id] = true
		}
	}
	return ordered, nil
}

// DeleteExperiences 删除经历及其证据关联，返回删除的行数
func (s *BankStore) DeleteExperiences(ctx context.Context, ids ...uint) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	db := s.db.WithContext(ctx)
	if err := db.Where("experience_id IN ?", ids).Delete(&models.SkillExperienceEvidence{}).Error; err != nil {
		return 0, fmt.Errorf("删除经历证据关联失败: %w", err)
	}
	if err := db.Where("experience_id IN ?", ids).Delete(&models.ExperienceMergeKey{}).Error; err != nil {
		return 0, fmt.Errorf("删除经历别名键失败: %w", err)
	}
	res := db.Where("id IN ?", ids).Delete(&models.Experience{})
	if res.Error != nil {
		return 0, fmt.Errorf("删除经历失败: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// DeleteAllSkills 删除全部技能
func (s *BankStore) DeleteAllSkills(ctx context.Context) (int64, error) {
	return s.deleteAll(ctx, &models.Skill{})
}

// DeleteAllExperiences 删除全部经历
func (s *BankStore) DeleteAllExperiences(ctx context.Context) (int64, error) {
	return s.deleteAll(ctx, &models.Experience{})
}

// DeleteAllEvidence 删除全部证据关联
func (s *BankStore) DeleteAllEvidence(ctx context.Context) (int64, error) {
	return s.deleteAll(ctx, &models.SkillExperienceEvidence{})
}

// DeleteAllSourceDocuments 删除全部来源文档记录
func (s *BankStore) DeleteAllSourceDocuments(ctx context.Context) (int64, error) {
	return s.deleteAll(ctx, &models.SourceDocument{})
}

// DeleteAllMergeKeyAliases 删除全部别名键
func (s *BankStore) DeleteAllMergeKeyAliases(ctx context.Context) (int64, error) {
	return s.deleteAll(ctx, &models.ExperienceMergeKey{})
}

func (s *BankStore) deleteAll(ctx context.Context, model interface{}) (int64, error) {
	res := s.db.WithContext(ctx).Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(model)
	if res.Error != nil {
		return 0, fmt.Errorf("清空表失败: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// ListSkills 按分类、名称排序列出技能
func (s *BankStore) ListSkills(ctx context.Context, filter SkillFilter) ([]models.Skill, error) {
	q := s.db.WithContext(ctx).Model(&models.Skill{})
	if filter.SkillType != "" {
		q = q.Where("skill_type = ?", filter.SkillType)
	}
	if filter.Category != "" {
		q = q.Where("category = ?", filter.Category)
	}
	var skills []models.Skill
	if err := q.Order("category ASC").Order("skill_name ASC").Find(&skills).Error; err != nil {
		return nil, fmt.Errorf("查询技能列表失败: %w", err)
	}
	return skills, nil
}

// ListExperiences 按类型、是否在职、开始时间倒序列出经历
func (s *BankStore) ListExperiences(ctx context.Context, filter ExperienceFilter) ([]models.Experience, error) {
	q := s.db.WithContext(ctx).Model(&models.Experience{})
	if filter.ExperienceType != "" {
		q = q.Where("experience_type = ?", filter.ExperienceType)
	}
	var exps []models.Experience
	err := q.Order("experience_type ASC").
		Order("is_current DESC").
		Order("start_date DESC").
		Order("id ASC").
		Find(&exps).Error
	if err != nil {
		return nil, fmt.Errorf("查询经历列表失败: %w", err)
	}
	return exps, nil
}

// CountSkills 技能总数
func (s *BankStore) CountSkills(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.Skill{}).Count(&n).Error
	return n, err
}

// CountExperiences 经历总数
func (s *BankStore) CountExperiences(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.Experience{}).Count(&n).Error
	return n, err
}

// CountSourceDocuments 不同来源文档数
func (s *BankStore) CountSourceDocuments(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.SourceDocument{}).Distinct("cv_id").Count(&n).Error
	return n, err
}

// CountSkillsBy 按列分组统计技能，列名只接受 skill_type 与 category
func (s *BankStore) CountSkillsBy(ctx context.Context, column string) ([]CountByKey, error) {
	if column != "skill_type" && column != "category" {
		return nil, fmt.Errorf("不支持的分组列: %s", column)
	}
	return s.countBy(ctx, &models.Skill{}, column)
}

// CountExperiencesByType 按类型统计经历
func (s *BankStore) CountExperiencesByType(ctx context.Context) ([]CountByKey, error) {
	return s.countBy(ctx, &models.Experience{}, "experience_type")
}

func (s *BankStore) countBy(ctx context.Context, model interface{}, column string) ([]CountByKey, error) {
	var rows []CountByKey
	err := s.db.WithContext(ctx).Model(model).
		Select(column + " AS group_key, COUNT(*) AS group_count").
		Group(column).
		Order("group_count DESC").
		Order(column + " ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("分组统计 %s 失败: %w", column, err)
	}
	return rows, nil
}

// CreateEvidenceIfAbsent 创建技能与经历的关联，已存在时返回false
func (s *BankStore) CreateEvidenceIfAbsent(ctx context.Context, ev *models.SkillExperienceEvidence) (bool, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.SkillExperienceEvidence{}).
		Where("skill_id = ? AND experience_id = ?", ev.SkillID, ev.ExperienceID).
		Count(&n).Error
	if err != nil {
		return false, fmt.Errorf("查询证据关联失败: %w", err)
	}
	if n > 0 {
		return false, nil
	}
	if err := s.db.WithContext(ctx).Create(ev).Error; err != nil {
		return false, fmt.Errorf("创建证据关联失败: %w", err)
	}
	return true, nil
}

// ListEvidenceForExperience 列出某条经历的证据关联
func (s *BankStore) ListEvidenceForExperience(ctx context.Context, experienceID uint) ([]models.SkillExperienceEvidence, error) {
	var evs []models.SkillExperienceEvidence
	err := s.db.WithContext(ctx).Where("experience_id = ?", experienceID).Order("skill_id ASC").Find(&evs).Error
	if err != nil {
		return nil, fmt.Errorf("查询经历 %d 的证据关联失败: %w", experienceID, err)
	}
	return evs, nil
}

// ReassignEvidence 把被合并经历的证据关联转移到保留的经历上，重复的关联直接丢弃
func (s *BankStore) ReassignEvidence(ctx context.Context, fromIDs []uint, toID uint) error {
	if len(fromIDs) == 0 {
		return nil
	}
	var evs []models.SkillExperienceEvidence
	if err := s.db.WithContext(ctx).Where("experience_id IN ?", fromIDs).Find(&evs).Error; err != nil {
		return fmt.Errorf("查询待转移证据关联失败: %w", err)
	}
	for _, ev := range evs {
		if _, err := s.CreateEvidenceIfAbsent(ctx, &models.SkillExperienceEvidence{
			SkillID:          ev.SkillID,
			ExperienceID:     toID,
			EvidenceStrength: ev.EvidenceStrength,
			Context:          ev.Context,
		}); err != nil {
			return err
		}
	}
	return nil
}

// UpsertSourceDocument 记录一份已合并的来源文档，已存在时更新提取数量
func (s *BankStore) UpsertSourceDocument(ctx context.Context, doc *models.SourceDocument) error {
	db := s.db.WithContext(ctx)
	var existing models.SourceDocument
	err := db.Where("cv_id = ? AND document_type = ?", doc.CVID, doc.DocumentType).First(&existing).Error
	if err == nil {
		existing.SkillsExtracted = doc.SkillsExtracted
		existing.ExperiencesExtracted = doc.ExperiencesExtracted
		existing.ProcessingStatus = doc.ProcessingStatus
		if err := db.Save(&existing).Error; err != nil {
			return fmt.Errorf("更新来源文档失败: %w", err)
		}
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("查询来源文档失败: %w", err)
	}
	if err := db.Create(doc).Error; err != nil {
		return fmt.Errorf("创建来源文档失败: %w", err)
	}
	return nil
}
