package parser

import (
	"context"
	"fmt"
	"strings"

	"competence-bank/internal/types"

	"github.com/cloudwego/eino/components/model"
	"github.com/rs/zerolog"
)

const structurePrompt = `你是从简历中抽取结构化信息的专家。
分析简历文本，按下面的JSON格式输出全部相关信息：

{
  "personal_info": {
    "full_name": "string",
    "email": "string or null",
    "phone": "string or null",
    "location": "string or null",
    "linkedin": "string or null",
    "website": "string or null"
  },
  "summary": "string or null",
  "work_experience": [
    {
      "company": "string",
      "position": "string",
      "start_date": "string or null",
      "end_date": "string or null",
      "current": false,
      "location": "string or null",
      "description": "string or null",
      "achievements": [],
      "technologies": []
    }
  ],
  "education": [
    {
      "institution": "string",
      "degree": "string or null",
      "field_of_study": "string or null",
      "start_date": "string or null",
      "end_date": "string or null",
      "gpa": "string or null",
      "achievements": []
    }
  ],
  "skills": [],
  "certifications": [
    {"name": "string", "issuing_organization": "string or null", "issue_date": "string or null", "expiry_date": "string or null", "credential_id": "string or null"}
  ],
  "projects": [
    {"name": "string", "description": "string or null", "role": "string or null", "technologies": [], "url": "string or null", "start_date": "string or null", "end_date": "string or null"}
  ],
  "languages": [
    {"language": "string", "proficiency": "string or null"}
  ]
}

要求：
- 抽取简历中出现的所有信息，不要编造
- 缺失的信息用 null 或空数组 []
- 日期保持简历中的原始写法，例如 "2020-01" 或 "Jan 2020"
- 简历是什么语言就用什么语言输出内容
- 只输出JSON，不要任何额外文字`

// CVStructurer 把简历纯文本交给LLM转成 CVStructure
type CVStructurer struct {
	caller jsonCaller
}

// NewCVStructurer 低温度以保证抽取结果稳定
func NewCVStructurer(m model.ToolCallingChatModel, logger zerolog.Logger) *CVStructurer {
	return &CVStructurer{caller: newJSONCaller(m, "cv_structurer", 0.1, logger)}
}

// Structure 解析失败返回包装了 ErrInvalidResponse 的错误
func (s *CVStructurer) Structure(ctx context.Context, text string) (*types.CVStructure, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("简历文本为空")
	}

	content, err := s.caller.callLLM(ctx, structurePrompt, "下面是需要结构化的简历文本：\n\n"+text)
	if err != nil {
		return nil, err
	}

	var cv types.CVStructure
	if err := s.caller.decode(content, &cv); err != nil {
		return nil, err
	}
	normalizeStructure(&cv)

	s.caller.logger.Info().
		Str("full_name", cv.PersonalInfo.FullName).
		Int("work_experience", len(cv.WorkExperience)).
		Int("education", len(cv.Education)).
		Int("skills", len(cv.Skills)).
		Msg("简历结构化完成")
	return &cv, nil
}

// normalizeStructure 去掉模型偶尔输出的空白项
func normalizeStructure(cv *types.CVStructure) {
	cv.Skills = compactStrings(cv.Skills)
	for i := range cv.WorkExperience {
		cv.WorkExperience[i].Achievements = compactStrings(cv.WorkExperience[i].Achievements)
		cv.WorkExperience[i].Technologies = compactStrings(cv.WorkExperience[i].Technologies)
	}
	for i := range cv.Education {
		cv.Education[i].Achievements = compactStrings(cv.Education[i].Achievements)
	}
	for i := range cv.Projects {
		cv.Projects[i].Technologies = compactStrings(cv.Projects[i].Technologies)
	}
}

func compactStrings(in []string) []string {
	if len(in) == 0 {
		return in
	}
	out := in[:0]
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
