package competence

import (
	"strings"
	"unicode"

	"competence-bank/internal/storage/models"
)

// 分类名称
const (
	CategoryProgrammingLanguages = "Programming Languages"
	CategoryFrameworks           = "Frameworks & APIs"
	CategoryDatabases            = "Databases"
	CategoryCloudDevOps          = "Cloud & DevOps"
	CategoryAIML                 = "AI & Machine Learning"
	CategoryFrontend             = "Frontend"
	CategoryTools                = "Tools"
	CategorySoftSkills           = "Soft Skills"
	CategoryLanguages            = "Languages"
	CategoryOther                = "Other"
)

// categoryRule 一个分类及其关键字。
// Contains 按子串匹配；Tokens 只匹配完整的词，用于 "go"、"ai" 这类容易误伤的短词。
type categoryRule struct {
	Category string
	Contains []string
	Tokens   []string
}

// categoryRules 顺序即优先级，先命中者胜出
var categoryRules = []categoryRule{
	{
		Category: CategoryProgrammingLanguages,
		Contains: []string{
			"python", "java", "typescript", "golang", "c++", "c#", "ruby", "kotlin", "swift",
			"haskell", "elixir", "erlang", "clojure", "matlab", "fortran", "cobol", "powershell",
			"objective-c", "solidity",
		},
		Tokens: []string{"go", "r", "c", "php", "perl", "bash", "lua", "scala", "dart", "rust"},
	},
	{
		Category: CategoryFrameworks,
		Contains: []string{
			"django", "flask", "fastapi", "spring", "rails", "express", "node.js", "nodejs",
			"graphql", "grpc", "restful", "rest api", ".net", "laravel", "symfony", "hibernate",
			"microservice", "openapi", "swagger", "websocket",
		},
		Tokens: []string{"gin", "echo", "fiber", "rest", "soap"},
	},
	{
		Category: CategoryDatabases,
		Contains: []string{
			"sql", "postgres", "mongo", "redis", "database", "cassandra", "elasticsearch",
			"dynamodb", "oracle", "mariadb", "neo4j", "couchdb", "firestore", "bigquery",
			"snowflake", "clickhouse", "influxdb",
		},
		Tokens: []string{"db"},
	},
	{
		Category: CategoryCloudDevOps,
		Contains: []string{
			"azure", "gcp", "cloud", "kubernetes", "k8s", "docker", "terraform", "ansible",
			"jenkins", "ci/cd", "devops", "lambda", "ec2", "helm", "openshift", "prometheus",
			"grafana", "nginx", "linux", "serverless", "github actions", "gitlab ci", "circleci",
		},
		Tokens: []string{"aws", "s3", "gke", "eks", "iac"},
	},
	{
		Category: CategoryAIML,
		Contains: []string{
			"machine learning", "deep learning", "tensorflow", "pytorch", "keras", "scikit",
			"nlp", "computer vision", "neural", "llm", "openai", "langchain", "hugging face",
			"pandas", "numpy", "data science", "artificial intelligence", "xgboost", "opencv",
		},
		Tokens: []string{"ai", "ml", "gpt", "rag"},
	},
	{
		Category: CategoryFrontend,
		Contains: []string{
			"react", "vue", "angular", "svelte", "html", "css", "frontend", "front-end",
			"tailwind", "bootstrap", "jquery", "next.js", "nextjs", "nuxt", "webpack", "vite",
			"redux", "sass",
		},
	},
	{
		Category: CategoryTools,
		Contains: []string{
			"jira", "confluence", "slack", "notion", "trello", "figma", "sketch", "photoshop",
			"illustrator", "excel", "powerpoint", "outlook", "salesforce", "hubspot", "zendesk",
			"github", "gitlab", "bitbucket", "postman", "visual studio", "vs code", "vscode",
			"intellij", "tableau", "power bi",
		},
		Tokens: []string{"git", "teams", "word", "sap"},
	},
	{
		Category: CategorySoftSkills,
		Contains: []string{
			"leadership", "communication", "teamwork", "collaboration", "problem solving",
			"problem-solving", "critical thinking", "creativity", "adaptability",
			"time management", "project management", "presentation", "negotiation",
			"mentoring", "coaching", "conflict resolution", "empathy", "motivation",
			"organisation", "organization", "planning", "decision making", "analytical",
			"strategic", "interpersonal", "customer service", "stakeholder",
		},
	},
	{
		Category: CategoryLanguages,
		Contains: []string{
			"english", "swedish", "german", "french", "spanish", "italian", "portuguese",
			"dutch", "mandarin", "chinese", "cantonese", "japanese", "arabic", "russian",
			"hindi", "korean", "norwegian", "danish", "finnish", "polish", "turkish",
			"svenska", "engelska", "tyska", "franska", "spanska",
		},
	},
}

// Categorize 返回技能所属分类和技能类型，未命中任何分类时为 ("Other", "technical")
func Categorize(skillName string) (category, skillType string) {
	lower := strings.ToLower(strings.TrimSpace(skillName))
	if lower == "" {
		return CategoryOther, models.SkillTypeTechnical
	}
	tokens := tokenize(lower)

	for _, rule := range categoryRules {
		if rule.matches(lower, tokens) {
			return rule.Category, skillTypeFor(rule.Category)
		}
	}
	return CategoryOther, models.SkillTypeTechnical
}

func (r categoryRule) matches(lower string, tokens map[string]bool) bool {
	for _, kw := range r.Contains {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	for _, kw := range r.Tokens {
		if tokens[kw] {
			return true
		}
	}
	return false
}

func skillTypeFor(category string) string {
	switch category {
	case CategorySoftSkills:
		return models.SkillTypeSoft
	case CategoryLanguages:
		return models.SkillTypeLanguage
	default:
		return models.SkillTypeTechnical
	}
}

// tokenize 按非字母数字切词，保留 + 和 # 以区分 c++、c#
func tokenize(lower string) map[string]bool {
	fields := strings.FieldsFunc(lower, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '+' && r != '#'
	})
	tokens := make(map[string]bool, len(fields))
	for _, f := range fields {
		tokens[f] = true
	}
	return tokens
}

// IsKnownCategory 判断分类名是否在固定的分类集合中
func IsKnownCategory(category string) bool {
	if category == CategoryOther {
		return true
	}
	for _, rule := range categoryRules {
		if rule.Category == category {
			return true
		}
	}
	return false
}
