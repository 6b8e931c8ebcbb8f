package competence

import (
	"testing"

	"competence-bank/internal/storage/models"

	"github.com/stretchr/testify/assert"
)

func TestCategorize(t *testing.T) {
	tests := []struct {
		name         string
		skill        string
		wantCategory string
		wantType     string
	}{
		{"AWS服务", "AWS Lambda", CategoryCloudDevOps, models.SkillTypeTechnical},
		{"普通语言", "Python", CategoryProgrammingLanguages, models.SkillTypeTechnical},
		{"短词完整匹配", "Go", CategoryProgrammingLanguages, models.SkillTypeTechnical},
		{"短词不误伤", "Google Analytics", CategoryOther, models.SkillTypeTechnical},
		{"c++", "C++", CategoryProgrammingLanguages, models.SkillTypeTechnical},
		{"框架", "Django REST Framework", CategoryFrameworks, models.SkillTypeTechnical},
		{"数据库", "PostgreSQL", CategoryDatabases, models.SkillTypeTechnical},
		{"AI短词", "Generative AI", CategoryAIML, models.SkillTypeTechnical},
		{"前端", "React", CategoryFrontend, models.SkillTypeTechnical},
		{"工具类仍是technical", "Jira", CategoryTools, models.SkillTypeTechnical},
		{"软技能", "Team Leadership", CategorySoftSkills, models.SkillTypeSoft},
		{"语言", "Mandarin", CategoryLanguages, models.SkillTypeLanguage},
		{"语言大写", "ENGLISH (fluent)", CategoryLanguages, models.SkillTypeLanguage},
		{"未命中", "Underwater Basket Weaving", CategoryOther, models.SkillTypeTechnical},
		{"空白", "   ", CategoryOther, models.SkillTypeTechnical},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			category, skillType := Categorize(tt.skill)
			assert.Equal(t, tt.wantCategory, category)
			assert.Equal(t, tt.wantType, skillType)
		})
	}
}

func TestCategorize_Deterministic(t *testing.T) {
	for i := 0; i < 100; i++ {
		category, skillType := Categorize("AWS Lambda")
		assert.Equal(t, CategoryCloudDevOps, category)
		assert.Equal(t, models.SkillTypeTechnical, skillType)
	}
}

func TestCategorize_FirstRuleWins(t *testing.T) {
	// "Java" 与 "JavaScript" 都先命中编程语言
	category, _ := Categorize("JavaScript")
	assert.Equal(t, CategoryProgrammingLanguages, category)

	// 同时包含数据库与云关键字时，数据库规则在前
	category, _ = Categorize("Cloud SQL")
	assert.Equal(t, CategoryDatabases, category)
}

func TestIsKnownCategory(t *testing.T) {
	assert.True(t, IsKnownCategory(CategoryOther))
	assert.True(t, IsKnownCategory(CategoryFrontend))
	assert.False(t, IsKnownCategory("Cooking"))
}
