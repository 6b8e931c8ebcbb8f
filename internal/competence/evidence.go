package competence

import (
	"context"
	"fmt"
	"strings"

	"competence-bank/internal/storage"
	"competence-bank/internal/storage/models"
)

const (
	strongEvidence = 1.0
	workEvidence   = 0.7
)

// linkEvidence 把本次简历的技能关联到本次涉及的经历。
// 技能在经历的相关技能中时强度为1.0；否则只有工作经历会以0.7的强度关联。
// 已存在的关联不会重复创建，返回新建的数量。
func linkEvidence(ctx context.Context, bank *storage.BankStore, skills []*models.Skill, experiences []*models.Experience) (int, error) {
	created := 0
	for _, exp := range experiences {
		related := make(map[string]bool, len(exp.RelatedSkills))
		for _, r := range exp.RelatedSkills {
			related[strings.ToLower(strings.TrimSpace(r))] = true
		}
		linkContext := fmt.Sprintf("Linked from %s: %s", exp.ExperienceType, exp.Title)

		for _, skill := range skills {
			strength := workEvidence
			if related[strings.ToLower(skill.SkillName)] {
				strength = strongEvidence
			} else if exp.ExperienceType != models.ExperienceWork {
				continue
			}

			ok, err := bank.CreateEvidenceIfAbsent(ctx, &models.SkillExperienceEvidence{
				SkillID:          skill.ID,
				ExperienceID:     exp.ID,
				EvidenceStrength: strength,
				Context:          linkContext,
			})
			if err != nil {
				return created, err
			}
			if ok {
				created++
			}
		}
	}
	return created, nil
}
