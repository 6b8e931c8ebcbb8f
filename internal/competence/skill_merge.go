package competence

import (
	"context"
	"math"
	"strings"

	"competence-bank/internal/storage"
	"competence-bank/internal/storage/models"
	"competence-bank/internal/types"
)

const (
	// 从简历中首次抽取的技能置信度，之后每份提到它的简历加 skillConfidenceStep
	initialSkillConfidence = 0.8
	manualSkillConfidence  = 1.0
	skillConfidenceStep    = 0.05
	maxSkillConfidence     = 1.0
)

// collectCVSkills 收集一份简历提到的全部技能：技能列表、工作技术栈、项目技术栈，忽略大小写去重
func collectCVSkills(s *types.CVStructure) []string {
	if s == nil {
		return []string{}
	}
	skills := MergeLists(nil, s.Skills)
	for _, w := range s.WorkExperience {
		skills = MergeLists(skills, w.Technologies)
	}
	for _, p := range s.Projects {
		skills = MergeLists(skills, p.Technologies)
	}
	return skills
}

// upsertSkill 把一个技能名并入技能集合。
// 已存在时只补充来源，来自新简历时提高置信度，不改分类和名称。返回的 bool 表示是否新建。
func (s *Service) upsertSkill(ctx context.Context, bank *storage.BankStore, name string, cvID uint) (*models.Skill, bool, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, false, nil
	}

	existing, err := bank.FindSkillByNameCI(ctx, name)
	if err != nil {
		return nil, false, err
	}

	if existing != nil {
		// 同一份简历重复合并只算一次
		if containsID(existing.SourceCVIDs, cvID) {
			return existing, false, nil
		}
		existing.SourceCVIDs = append(existing.SourceCVIDs, cvID)
		existing.ConfidenceScore = bumpConfidence(existing.ConfidenceScore)
		if err := bank.SaveSkill(ctx, existing); err != nil {
			return nil, false, err
		}
		return existing, false, nil
	}

	category, skillType := Categorize(name)
	skill := &models.Skill{
		SkillName:       name,
		SkillType:       skillType,
		Category:        category,
		ConfidenceScore: initialSkillConfidence,
		SourceCVIDs:     []uint{cvID},
		Embedding:       s.embed(ctx, name),
	}
	if err := bank.CreateSkill(ctx, skill); err != nil {
		return nil, false, err
	}
	return skill, true, nil
}

// bumpConfidence 加一档置信度，保留两位小数，不超过上限
func bumpConfidence(score float64) float64 {
	return math.Round(math.Min(score+skillConfidenceStep, maxSkillConfidence)*100) / 100
}

func containsID(ids []uint, id uint) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

// unionIDs 合并两个来源列表，保持先后顺序
func unionIDs(a, b []uint) []uint {
	out := make([]uint, 0, len(a)+len(b))
	for _, id := range a {
		if !containsID(out, id) {
			out = append(out, id)
		}
	}
	for _, id := range b {
		if !containsID(out, id) {
			out = append(out, id)
		}
	}
	return out
}
