package competence

import (
	"context"
	"strings"

	"competence-bank/internal/storage"
	"competence-bank/internal/storage/models"
	"competence-bank/internal/types"
)

// 缺少标题时的占位标题
var placeholderTitles = map[string]string{
	models.ExperienceWork:          "Unknown position",
	models.ExperienceEducation:     "Education",
	models.ExperienceCertification: "Certification",
	models.ExperienceProject:       "Project",
}

// ExperienceInput 一条待并入经历池的经历
type ExperienceInput struct {
	Type          string
	Title         string
	Organization  string
	Location      string
	StartDate     string
	EndDate       string
	IsCurrent     bool
	Description   string
	Achievements  []string
	RelatedSkills []string
}

// experienceInputs 按 工作、教育、证书、项目 的顺序展开简历中的经历。
// 没有名称的证书和项目被跳过。
func experienceInputs(s *types.CVStructure) []ExperienceInput {
	if s == nil {
		return nil
	}
	var inputs []ExperienceInput

	for _, w := range s.WorkExperience {
		inputs = append(inputs, ExperienceInput{
			Type:          models.ExperienceWork,
			Title:         w.Position,
			Organization:  w.Company,
			Location:      w.Location,
			StartDate:     w.StartDate,
			EndDate:       w.EndDate,
			IsCurrent:     w.Current,
			Description:   w.Description,
			Achievements:  w.Achievements,
			RelatedSkills: w.Technologies,
		})
	}

	for _, e := range s.Education {
		inputs = append(inputs, ExperienceInput{
			Type:         models.ExperienceEducation,
			Title:        strings.TrimSpace(strings.TrimSpace(e.Degree) + " " + strings.TrimSpace(e.FieldOfStudy)),
			Organization: e.Institution,
			StartDate:    e.StartDate,
			EndDate:      e.EndDate,
			Achievements: e.Achievements,
		})
	}

	for _, c := range s.Certifications {
		if strings.TrimSpace(c.Name) == "" {
			continue
		}
		inputs = append(inputs, ExperienceInput{
			Type:         models.ExperienceCertification,
			Title:        c.Name,
			Organization: c.IssuingOrganization,
			StartDate:    c.IssueDate,
			EndDate:      c.ExpiryDate,
		})
	}

	for _, p := range s.Projects {
		if strings.TrimSpace(p.Name) == "" {
			continue
		}
		inputs = append(inputs, ExperienceInput{
			Type:          models.ExperienceProject,
			Title:         p.Name,
			StartDate:     p.StartDate,
			EndDate:       p.EndDate,
			Description:   p.Description,
			RelatedSkills: p.Technologies,
		})
	}
	return inputs
}

func titleOrPlaceholder(experienceType, title string) string {
	title = strings.TrimSpace(title)
	if title != "" {
		return title
	}
	if p, ok := placeholderTitles[experienceType]; ok {
		return p
	}
	return "Untitled"
}

// upsertExperience 按合并键并入经历池。
// 返回值：记录、是否新建、是否有实际变化。已存在且没有任何变化时视为纯重复。
func (s *Service) upsertExperience(ctx context.Context, bank *storage.BankStore, in ExperienceInput, cvID uint) (*models.Experience, bool, bool, error) {
	title := titleOrPlaceholder(in.Type, in.Title)
	org := strings.TrimSpace(in.Organization)
	start := strings.TrimSpace(in.StartDate)
	key := MergeKey(in.Type, title, org, start)

	existing, err := bank.FindExperienceByKey(ctx, key)
	if err != nil {
		return nil, false, false, err
	}

	if existing == nil {
		exp := &models.Experience{
			ExperienceType:  in.Type,
			Title:           title,
			Organization:    org,
			Location:        strings.TrimSpace(in.Location),
			StartDate:       start,
			EndDate:         strings.TrimSpace(in.EndDate),
			IsCurrent:       in.IsCurrent,
			Description:     strings.TrimSpace(in.Description),
			Achievements:    MergeLists(nil, in.Achievements),
			RelatedSkills:   MergeLists(nil, in.RelatedSkills),
			SourceCVIDs:     []uint{cvID},
			MergeKey:        key,
			ConfidenceScore: 1.0,
		}
		exp.Embedding = s.embed(ctx, experienceEmbeddingText(exp))
		if err := bank.CreateExperience(ctx, exp); err != nil {
			return nil, false, false, err
		}
		return exp, true, true, nil
	}

	changed := false

	if desc := MergeText(existing.Description, in.Description); desc != existing.Description {
		existing.Description = desc
		changed = true
	}
	if related := MergeLists(existing.RelatedSkills, in.RelatedSkills); !sameStrings(related, existing.RelatedSkills) {
		existing.RelatedSkills = related
		changed = true
	}
	if len(in.Achievements) > 0 {
		if ach := MergeLists(existing.Achievements, in.Achievements); !sameStrings(ach, existing.Achievements) {
			existing.Achievements = ach
			changed = true
		}
	}
	if !containsID(existing.SourceCVIDs, cvID) {
		existing.SourceCVIDs = append(existing.SourceCVIDs, cvID)
		changed = true
	}
	if in.IsCurrent && !existing.IsCurrent {
		existing.IsCurrent = true
		changed = true
	}
	// 已有记录缺少的地点与结束时间由新简历补齐，已有的值不覆盖。仍在进行中的经历没有结束时间
	if loc := strings.TrimSpace(in.Location); existing.Location == "" && loc != "" {
		existing.Location = loc
		changed = true
	}
	if end := strings.TrimSpace(in.EndDate); existing.EndDate == "" && end != "" && !existing.IsCurrent {
		existing.EndDate = end
		changed = true
	}

	if changed {
		if err := bank.SaveExperience(ctx, existing); err != nil {
			return nil, false, false, err
		}
	}
	return existing, false, changed, nil
}

// experienceEmbeddingText 标题、机构与前三条成就
func experienceEmbeddingText(exp *models.Experience) string {
	parts := []string{exp.Title}
	if exp.Organization != "" {
		parts = append(parts, exp.Organization)
	}
	ach := exp.Achievements
	if len(ach) > 3 {
		ach = ach[:3]
	}
	parts = append(parts, ach...)
	return strings.Join(parts, ". ")
}

func sameStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
