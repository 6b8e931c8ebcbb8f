package competence

import (
	"context"
	"errors"
	"strings"

	applog "competence-bank/internal/logger"
	"competence-bank/internal/storage"
	"competence-bank/internal/storage/models"

	"gorm.io/gorm"
)

var validSkillTypes = map[string]bool{
	models.SkillTypeTechnical: true,
	models.SkillTypeSoft:      true,
	models.SkillTypeLanguage:  true,
	models.SkillTypeTool:      true,
	models.SkillTypeDomain:    true,
}

// splitSkillNames 按逗号拆分，去掉空白项并忽略大小写去重
func splitSkillNames(raw string) []string {
	return MergeLists(nil, strings.Split(raw, ","))
}

// AddSkillManual 手动添加一个或多个技能（逗号分隔）。
// category 与 skillType 为空时按名称自动分类，非空时必须是已知取值。全部已存在时返回 ErrInvalidArgument。
func (s *Service) AddSkillManual(ctx context.Context, names, category, skillType string) (*ManualSkillResult, error) {
	const op = "AddSkillManual"
	list := splitSkillNames(names)
	if len(list) == 0 {
		return nil, invalidArgument(op, "技能名称不能为空")
	}
	category = strings.TrimSpace(category)
	skillType = strings.TrimSpace(skillType)
	if skillType != "" && !validSkillTypes[skillType] {
		return nil, invalidArgument(op, "未知的技能类型 %q", skillType)
	}
	if category != "" && !IsKnownCategory(category) {
		return nil, invalidArgument(op, "未知的技能分类 %q", category)
	}

	result := &ManualSkillResult{Added: []models.Skill{}}
	err := s.inBankTx(ctx, op, func(bank *storage.BankStore) error {
		for _, name := range list {
			existing, err := bank.FindSkillByNameCI(ctx, name)
			if err != nil {
				return err
			}
			if existing != nil {
				result.Skipped = append(result.Skipped, name)
				continue
			}

			autoCategory, autoType := Categorize(name)
			skill := &models.Skill{
				SkillName:       name,
				Category:        autoCategory,
				SkillType:       autoType,
				ConfidenceScore: manualSkillConfidence,
				SourceCVIDs:     []uint{},
				Embedding:       s.embed(ctx, name),
			}
			if category != "" {
				skill.Category = category
			}
			if skillType != "" {
				skill.SkillType = skillType
			}
			if err := bank.CreateSkill(ctx, skill); err != nil {
				return err
			}
			result.Added = append(result.Added, *skill)
		}
		if len(result.Added) == 0 {
			return invalidArgument(op, "技能均已存在: %s", strings.Join(result.Skipped, ", "))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	applog.FromContext(ctx).Info().Int("added", len(result.Added)).Strs("skipped", result.Skipped).Msg("手动添加技能")
	return result, nil
}

// DeleteSkill 删除技能及其证据关联
func (s *Service) DeleteSkill(ctx context.Context, id uint) error {
	var found bool
	err := s.inBankTx(ctx, "DeleteSkill", func(bank *storage.BankStore) error {
		var err error
		found, err = bank.DeleteSkill(ctx, id)
		return err
	})
	if err != nil {
		return err
	}
	if !found {
		return notFound("DeleteSkill", "技能 %d 不存在", id)
	}
	return nil
}

// DeleteExperience 删除经历及其证据关联
func (s *Service) DeleteExperience(ctx context.Context, id uint) error {
	var n int64
	err := s.inBankTx(ctx, "DeleteExperience", func(bank *storage.BankStore) error {
		var err error
		n, err = bank.DeleteExperiences(ctx, id)
		return err
	})
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound("DeleteExperience", "经历 %d 不存在", id)
	}
	return nil
}

// AddAchievement 在经历末尾追加一条成就，返回更新后的列表
func (s *Service) AddAchievement(ctx context.Context, expID uint, text string) ([]string, error) {
	const op = "AddAchievement"
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, invalidArgument(op, "成就内容不能为空")
	}
	exp, err := s.updateExperience(ctx, op, expID, func(exp *models.Experience) error {
		exp.Achievements = append(exp.Achievements, text)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return exp.Achievements, nil
}

// UpdateAchievement 替换指定位置的成就
func (s *Service) UpdateAchievement(ctx context.Context, expID uint, index int, text string) ([]string, error) {
	const op = "UpdateAchievement"
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, invalidArgument(op, "成就内容不能为空")
	}
	exp, err := s.updateExperience(ctx, op, expID, func(exp *models.Experience) error {
		if index < 0 || index >= len(exp.Achievements) {
			return invalidArgument(op, "成就下标 %d 越界，共 %d 条", index, len(exp.Achievements))
		}
		exp.Achievements[index] = text
		return nil
	})
	if err != nil {
		return nil, err
	}
	return exp.Achievements, nil
}

// DeleteAchievement 删除指定位置的成就
func (s *Service) DeleteAchievement(ctx context.Context, expID uint, index int) ([]string, error) {
	const op = "DeleteAchievement"
	exp, err := s.updateExperience(ctx, op, expID, func(exp *models.Experience) error {
		if index < 0 || index >= len(exp.Achievements) {
			return invalidArgument(op, "成就下标 %d 越界，共 %d 条", index, len(exp.Achievements))
		}
		exp.Achievements = append(exp.Achievements[:index], exp.Achievements[index+1:]...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return exp.Achievements, nil
}

// AddRelatedSkill 给经历添加相关技能，已存在（忽略大小写）时列表不变
func (s *Service) AddRelatedSkill(ctx context.Context, expID uint, skill string) ([]string, error) {
	const op = "AddRelatedSkill"
	skill = strings.TrimSpace(skill)
	if skill == "" {
		return nil, invalidArgument(op, "技能名称不能为空")
	}
	exp, err := s.updateExperience(ctx, op, expID, func(exp *models.Experience) error {
		exp.RelatedSkills = MergeLists(exp.RelatedSkills, []string{skill})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return exp.RelatedSkills, nil
}

// RemoveRelatedSkill 删除指定位置的相关技能
func (s *Service) RemoveRelatedSkill(ctx context.Context, expID uint, index int) ([]string, error) {
	const op = "RemoveRelatedSkill"
	exp, err := s.updateExperience(ctx, op, expID, func(exp *models.Experience) error {
		if index < 0 || index >= len(exp.RelatedSkills) {
			return invalidArgument(op, "相关技能下标 %d 越界，共 %d 项", index, len(exp.RelatedSkills))
		}
		exp.RelatedSkills = append(exp.RelatedSkills[:index], exp.RelatedSkills[index+1:]...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return exp.RelatedSkills, nil
}

// updateExperience 读取、修改并保存一条经历
func (s *Service) updateExperience(ctx context.Context, op string, expID uint, mutate func(*models.Experience) error) (*models.Experience, error) {
	var exp *models.Experience
	err := s.inBankTx(ctx, op, func(bank *storage.BankStore) error {
		var err error
		exp, err = bank.GetExperience(ctx, expID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return notFound(op, "经历 %d 不存在", expID)
			}
			return err
		}
		if err := mutate(exp); err != nil {
			return err
		}
		if exp.Achievements == nil {
			exp.Achievements = []string{}
		}
		if exp.RelatedSkills == nil {
			exp.RelatedSkills = []string{}
		}
		return bank.SaveExperience(ctx, exp)
	})
	if err != nil {
		return nil, err
	}
	return exp, nil
}

// ListSkills 列出技能，按分类、名称排序
func (s *Service) ListSkills(ctx context.Context, filter storage.SkillFilter) ([]SkillView, error) {
	skills, err := s.bank.ListSkills(ctx, filter)
	if err != nil {
		return nil, err
	}
	views := make([]SkillView, 0, len(skills))
	for _, sk := range skills {
		views = append(views, newSkillView(sk))
	}
	return views, nil
}

// ListExperiences 列出经历：按类型分组，当前经历在前，再按开始时间倒序
func (s *Service) ListExperiences(ctx context.Context, filter storage.ExperienceFilter) ([]models.Experience, error) {
	exps, err := s.bank.ListExperiences(ctx, filter)
	if err != nil {
		return nil, err
	}
	if exps == nil {
		exps = []models.Experience{}
	}
	return exps, nil
}

// EvidenceFor 列出一条经历关联的技能证据
func (s *Service) EvidenceFor(ctx context.Context, expID uint) ([]models.SkillExperienceEvidence, error) {
	if _, err := s.bank.GetExperience(ctx, expID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFound("EvidenceFor", "经历 %d 不存在", expID)
		}
		return nil, err
	}
	return s.bank.ListEvidenceForExperience(ctx, expID)
}

// Stats 能力库统计
func (s *Service) Stats(ctx context.Context) (*BankStats, error) {
	stats := &BankStats{}
	var err error
	if stats.TotalSkills, err = s.bank.CountSkills(ctx); err != nil {
		return nil, err
	}
	if stats.TotalExperiences, err = s.bank.CountExperiences(ctx); err != nil {
		return nil, err
	}
	if stats.SourceDocuments, err = s.bank.CountSourceDocuments(ctx); err != nil {
		return nil, err
	}

	byCategory, err := s.bank.CountSkillsBy(ctx, "category")
	if err != nil {
		return nil, err
	}
	byType, err := s.bank.CountSkillsBy(ctx, "skill_type")
	if err != nil {
		return nil, err
	}
	byExpType, err := s.bank.CountExperiencesByType(ctx)
	if err != nil {
		return nil, err
	}
	stats.SkillsByCategory = countsToMap(byCategory)
	stats.SkillsByType = countsToMap(byType)
	stats.ExperiencesByType = countsToMap(byExpType)
	return stats, nil
}

func countsToMap(rows []storage.CountByKey) map[string]int64 {
	m := make(map[string]int64, len(rows))
	for _, r := range rows {
		m[r.Key] = r.Count
	}
	return m
}
