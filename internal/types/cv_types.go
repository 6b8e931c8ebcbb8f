package types

import "strings"

// CVStructure LLM结构化后的简历数据。
// 字段缺失时字符串为空、列表为nil，合并引擎对两者一视同仁。
type CVStructure struct {
	PersonalInfo   PersonalInfo     `json:"personal_info"`
	Summary        string           `json:"summary,omitempty"`
	WorkExperience []WorkExperience `json:"work_experience,omitempty"`
	Education      []Education      `json:"education,omitempty"`
	Skills         []string         `json:"skills,omitempty"`
	Certifications []Certification  `json:"certifications,omitempty"`
	Projects       []Project        `json:"projects,omitempty"`
	Languages      []Language       `json:"languages,omitempty"`
}

// PersonalInfo 个人信息，合并时只用 FullName 作为展示标签
type PersonalInfo struct {
	FullName string `json:"full_name,omitempty"`
	Email    string `json:"email,omitempty"`
	Phone    string `json:"phone,omitempty"`
	Location string `json:"location,omitempty"`
	LinkedIn string `json:"linkedin,omitempty"`
	Website  string `json:"website,omitempty"`
}

// WorkExperience 工作经历
type WorkExperience struct {
	Company      string   `json:"company,omitempty"`
	Position     string   `json:"position,omitempty"`
	StartDate    string   `json:"start_date,omitempty"`
	EndDate      string   `json:"end_date,omitempty"`
	Current      bool     `json:"current,omitempty"`
	Location     string   `json:"location,omitempty"`
	Description  string   `json:"description,omitempty"`
	Achievements []string `json:"achievements,omitempty"`
	Technologies []string `json:"technologies,omitempty"`
}

// Education 教育经历
type Education struct {
	Institution  string   `json:"institution,omitempty"`
	Degree       string   `json:"degree,omitempty"`
	FieldOfStudy string   `json:"field_of_study,omitempty"`
	StartDate    string   `json:"start_date,omitempty"`
	EndDate      string   `json:"end_date,omitempty"`
	GPA          string   `json:"gpa,omitempty"`
	Achievements []string `json:"achievements,omitempty"`
}

// Certification 证书
type Certification struct {
	Name                string `json:"name,omitempty"`
	IssuingOrganization string `json:"issuing_organization,omitempty"`
	IssueDate           string `json:"issue_date,omitempty"`
	ExpiryDate          string `json:"expiry_date,omitempty"`
	CredentialID        string `json:"credential_id,omitempty"`
}

// Project 项目经历
type Project struct {
	Name         string   `json:"name,omitempty"`
	Description  string   `json:"description,omitempty"`
	Role         string   `json:"role,omitempty"`
	Technologies []string `json:"technologies,omitempty"`
	URL          string   `json:"url,omitempty"`
	StartDate    string   `json:"start_date,omitempty"`
	EndDate      string   `json:"end_date,omitempty"`
}

// Language 语言能力
type Language struct {
	Language    string `json:"language,omitempty"`
	Proficiency string `json:"proficiency,omitempty"`
}

// SkillsText 把技能拼接成一段文本，用于生成技能向量
func (s *CVStructure) SkillsText() string {
	if s == nil {
		return ""
	}
	return strings.Join(s.Skills, ", ")
}
