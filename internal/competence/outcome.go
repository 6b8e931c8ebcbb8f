package competence

import "competence-bank/internal/storage/models"

// MergeOutcome 单份简历的合并结果，只用于返回，不落库
type MergeOutcome struct {
	CVID                  uint     `json:"cv_id"`
	CVName                string   `json:"cv_name"`
	Success               bool     `json:"success"`
	SkillsAdded           int      `json:"skills_added"`
	SkillsDuplicate       int      `json:"skills_duplicate"`
	ExperiencesAdded      int      `json:"experiences_added"`
	ExperiencesMerged     int      `json:"experiences_merged"`
	DuplicatesSkipped     int      `json:"duplicates_skipped"`
	LinksCreated          int      `json:"links_created"`
	ProcessingTimeSeconds float64  `json:"processing_time_seconds"`
	Warnings              []string `json:"warnings,omitempty"`
	Error                 string   `json:"error,omitempty"`
}

// BatchOutcome 全量合并或重建的汇总，失败的简历不计入合计
type BatchOutcome struct {
	Processed         int            `json:"processed"`
	Succeeded         int            `json:"succeeded"`
	Failed            int            `json:"failed"`
	SkillsAdded       int            `json:"skills_added"`
	SkillsDuplicate   int            `json:"skills_duplicate"`
	ExperiencesAdded  int            `json:"experiences_added"`
	ExperiencesMerged int            `json:"experiences_merged"`
	DuplicatesSkipped int            `json:"duplicates_skipped"`
	LinksCreated      int            `json:"links_created"`
	Results           []MergeOutcome `json:"results"`
}

func (b *BatchOutcome) add(o *MergeOutcome) {
	b.Processed++
	b.Results = append(b.Results, *o)
	if !o.Success {
		b.Failed++
		return
	}
	b.Succeeded++
	b.SkillsAdded += o.SkillsAdded
	b.SkillsDuplicate += o.SkillsDuplicate
	b.ExperiencesAdded += o.ExperiencesAdded
	b.ExperiencesMerged += o.ExperiencesMerged
	b.DuplicatesSkipped += o.DuplicatesSkipped
	b.LinksCreated += o.LinksCreated
}

// ClearOutcome 清空能力库时删除的数量
type ClearOutcome struct {
	SkillsDeleted      int64 `json:"skills_deleted"`
	ExperiencesDeleted int64 `json:"experiences_deleted"`
}

// ManualSkillResult 手动添加技能的结果
type ManualSkillResult struct {
	Added   []models.Skill `json:"added"`
	Skipped []string       `json:"skipped,omitempty"`
}

// BankStats 能力库统计
type BankStats struct {
	TotalSkills       int64            `json:"total_skills"`
	TotalExperiences  int64            `json:"total_experiences"`
	SourceDocuments   int64            `json:"source_documents"`
	SkillsByCategory  map[string]int64 `json:"skills_by_category"`
	SkillsByType      map[string]int64 `json:"skills_by_type"`
	ExperiencesByType map[string]int64 `json:"experiences_by_type"`
}

// SkillView 技能列表项
type SkillView struct {
	ID              uint    `json:"id"`
	SkillName       string  `json:"skill_name"`
	Category        string  `json:"category"`
	SkillType       string  `json:"skill_type"`
	ConfidenceScore float64 `json:"confidence_score"`
	SourceCount     int     `json:"source_count"`
	SourceCVIDs     []uint  `json:"source_cv_ids"`
}

func newSkillView(s models.Skill) SkillView {
	ids := s.SourceCVIDs
	if ids == nil {
		ids = []uint{}
	}
	return SkillView{
		ID:              s.ID,
		SkillName:       s.SkillName,
		Category:        s.Category,
		SkillType:       s.SkillType,
		ConfidenceScore: s.ConfidenceScore,
		SourceCount:     len(ids),
		SourceCVIDs:     ids,
	}
}
