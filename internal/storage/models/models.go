package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"competence-bank/internal/types"

	"gorm.io/datatypes"
)

// 经历类型
const (
	ExperienceWork          = "work"
	ExperienceEducation     = "education"
	ExperienceCertification = "certification"
	ExperienceProject       = "project"
)

// 技能类型
const (
	SkillTypeTechnical = "technical"
	SkillTypeSoft      = "soft"
	SkillTypeLanguage  = "language"
	SkillTypeTool      = "tool"
	SkillTypeDomain    = "domain"
)

// Skill 能力库中的唯一技能，名称忽略大小写唯一
type Skill struct {
	ID              uint           `gorm:"primaryKey;autoIncrement" json:"id"`
	SkillName       string         `gorm:"type:varchar(200);not null" json:"skill_name"`
	NameKey         string         `gorm:"type:varchar(200);not null;uniqueIndex:uq_skills_name_key" json:"-"` // 小写后的名称
	SkillType       string         `gorm:"type:varchar(50);not null;index:idx_skills_type" json:"skill_type"`
	Category        string         `gorm:"type:varchar(100);index:idx_skills_category" json:"category"`
	ConfidenceScore float64        `gorm:"default:1" json:"confidence_score"`
	SourceCVIDs     []uint         `gorm:"type:text;serializer:json" json:"source_cv_ids"`
	Embedding       datatypes.JSON `json:"-"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

func (Skill) TableName() string {
	return "skills_collection"
}

// Experience 经历池中的一条工作/教育/证书/项目记录
type Experience struct {
	ID              uint           `gorm:"primaryKey;autoIncrement" json:"id"`
	ExperienceType  string         `gorm:"type:varchar(50);not null;index:idx_experiences_type" json:"experience_type"`
	Title           string         `gorm:"type:varchar(300);not null" json:"title"`
	Organization    string         `gorm:"type:varchar(300)" json:"organization,omitempty"`
	Location        string         `gorm:"type:varchar(200)" json:"location,omitempty"`
	StartDate       string         `gorm:"type:varchar(50)" json:"start_date,omitempty"`
	EndDate         string         `gorm:"type:varchar(50)" json:"end_date,omitempty"`
	IsCurrent       bool           `gorm:"default:false" json:"is_current"`
	Description     string         `gorm:"type:text" json:"description,omitempty"`
	Achievements    []string       `gorm:"type:text;serializer:json" json:"achievements"`
	RelatedSkills   []string       `gorm:"type:text;serializer:json" json:"related_skills"`
	SourceCVIDs     []uint         `gorm:"type:text;serializer:json" json:"source_cv_ids"`
	MergeKey        string         `gorm:"type:varchar(512);index:idx_experiences_merge_key" json:"-"`
	ConfidenceScore float64        `gorm:"default:1" json:"confidence_score"`
	Embedding       datatypes.JSON `json:"-"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

func (Experience) TableName() string {
	return "experiences_pool"
}

// ExperienceMergeKey 手动合并时被吸收的合并键，之后再出现时仍并入保留的经历
type ExperienceMergeKey struct {
	ID           uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	ExperienceID uint      `gorm:"not null;index:idx_merge_keys_exp" json:"experience_id"`
	MergeKey     string    `gorm:"type:varchar(512);not null;uniqueIndex:uq_merge_keys_key" json:"merge_key"`
	CreatedAt    time.Time `json:"created_at"`
}

func (ExperienceMergeKey) TableName() string {
	return "experience_merge_keys"
}

// SkillExperienceEvidence 技能与体现该技能的经历之间的关联
type SkillExperienceEvidence struct {
	ID               uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	SkillID          uint      `gorm:"not null;uniqueIndex:uq_evidence_skill_exp,priority:1" json:"skill_id"`
	ExperienceID     uint      `gorm:"not null;uniqueIndex:uq_evidence_skill_exp,priority:2;index:idx_evidence_exp" json:"experience_id"`
	EvidenceStrength float64   `gorm:"default:1" json:"evidence_strength"`
	Context          string    `gorm:"type:text" json:"context,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

func (SkillExperienceEvidence) TableName() string {
	return "skill_experience_evidence"
}

// SourceDocument 已并入能力库的来源文档
type SourceDocument struct {
	ID                   uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	DocumentType         string    `gorm:"type:varchar(50);not null;default:'cv'" json:"document_type"`
	CVID                 uint      `gorm:"index:idx_source_documents_cv" json:"cv_id"`
	OriginalFilename     string    `gorm:"type:varchar(500)" json:"original_filename"`
	SkillsExtracted      int       `gorm:"default:0" json:"skills_extracted"`
	ExperiencesExtracted int       `gorm:"default:0" json:"experiences_extracted"`
	ProcessingStatus     string    `gorm:"type:varchar(50);default:'completed'" json:"processing_status"`
	ProcessedAt          time.Time `gorm:"autoCreateTime" json:"processed_at"`
}

func (SourceDocument) TableName() string {
	return "source_documents"
}

// CV 上传的简历及其结构化数据
type CV struct {
	ID                   uint           `gorm:"primaryKey;autoIncrement" json:"id"`
	UUID                 string         `gorm:"type:char(36);not null;uniqueIndex:uq_cvs_uuid" json:"uuid"`
	Filename             string         `gorm:"type:varchar(255);not null" json:"filename"`
	Title                string         `gorm:"type:varchar(255)" json:"title,omitempty"`
	FileMD5              string         `gorm:"type:char(32);index:idx_cvs_file_md5" json:"file_md5"`
	FileSize             int64          `json:"file_size"`
	ObjectKey            string         `gorm:"type:varchar(512)" json:"object_key,omitempty"`
	OriginalText         string         `gorm:"type:longtext" json:"-"`
	StructuredData       datatypes.JSON `gorm:"not null" json:"structured_data"`
	FullContentEmbedding datatypes.JSON `json:"-"`
	SummaryEmbedding     datatypes.JSON `json:"-"`
	SkillsEmbedding      datatypes.JSON `json:"-"`
	UploadedAt           time.Time      `gorm:"autoCreateTime" json:"upload_date"`
	UpdatedAt            time.Time      `json:"updated_at"`
}

func (CV) TableName() string {
	return "cvs"
}

// Structure 解析结构化数据
func (cv *CV) Structure() (*types.CVStructure, error) {
	var s types.CVStructure
	if len(cv.StructuredData) == 0 {
		return &s, nil
	}
	if err := json.Unmarshal(cv.StructuredData, &s); err != nil {
		return nil, fmt.Errorf("解析简历 %d 的结构化数据失败: %w", cv.ID, err)
	}
	return &s, nil
}

// DisplayName 合并结果中展示的简历名称：姓名 > 标题 > 文件名
func (cv *CV) DisplayName(s *types.CVStructure) string {
	if s != nil {
		if name := strings.TrimSpace(s.PersonalInfo.FullName); name != "" {
			return name
		}
	}
	if cv.Title != "" {
		return cv.Title
	}
	return cv.Filename
}

// OptimizedCV 针对岗位优化后的简历版本
type OptimizedCV struct {
	ID             uint           `gorm:"primaryKey;autoIncrement" json:"id"`
	OriginalCVID   uint           `gorm:"not null;index:idx_optimized_cvs_cv" json:"original_cv_id"`
	JobTitle       string         `gorm:"type:varchar(255)" json:"job_title"`
	JobDescription string         `gorm:"type:text" json:"job_description"`
	OptimizedData  datatypes.JSON `gorm:"not null" json:"optimized_data"`
	MatchScore     int            `json:"match_score"`
	CreatedAt      time.Time      `json:"created_at"`

	JobDescriptionEmbedding datatypes.JSON `json:"-"`
}

func (OptimizedCV) TableName() string {
	return "optimized_cvs"
}

// ToJSON 把任意值序列化为 datatypes.JSON
func ToJSON(v interface{}) (datatypes.JSON, error) {
	bytes, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return bytes, nil
}

// VectorToJSON 把向量序列化为 datatypes.JSON，空向量返回nil，对应数据库NULL
func VectorToJSON(vector []float64) datatypes.JSON {
	if len(vector) == 0 {
		return nil
	}
	bytes, err := json.Marshal(vector)
	if err != nil {
		return nil
	}
	return bytes
}

// AllModels 需要自动迁移的全部模型
func AllModels() []interface{} {
	return []interface{}{
		&CV{},
		&Skill{},
		&Experience{},
		&ExperienceMergeKey{},
		&SkillExperienceEvidence{},
		&SourceDocument{},
		&OptimizedCV{},
		&OutboxMessage{},
	}
}
