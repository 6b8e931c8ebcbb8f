package parser

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"competence-bank/internal/types"

	"github.com/cloudwego/eino/components/model"
	"github.com/rs/zerolog"
)

// PlaceholderMatchScore 暂未实现匹配打分，统一返回固定值
const PlaceholderMatchScore = 85

const optimizePrompt = `你是简历优化和招聘方面的专家。
你的任务是把一份已有简历针对某个具体岗位进行改写。

规则：
1. 保留原简历中的全部真实信息，绝不编造
2. 改写成就和描述，使用岗位描述中的措辞和关键词
3. 把相关的工作经历和技能排在前面
4. 突出与岗位要求匹配的经历
5. 调整 summary 以贴合岗位
6. 简历和岗位描述中都出现的技术或工具可以补充进技能

只输出优化后的简历，JSON格式与输入完全一致。`

// CVOptimizer 针对岗位改写结构化简历
type CVOptimizer struct {
	caller jsonCaller
}

// NewCVOptimizer 温度略高于结构化，允许改写措辞
func NewCVOptimizer(m model.ToolCallingChatModel, logger zerolog.Logger) *CVOptimizer {
	return &CVOptimizer{caller: newJSONCaller(m, "cv_optimizer", 0.3, logger)}
}

// Optimize 返回与输入同结构的新简历，原简历不变
func (o *CVOptimizer) Optimize(ctx context.Context, cv *types.CVStructure, jobTitle, jobDescription string) (*types.CVStructure, error) {
	if cv == nil {
		return nil, fmt.Errorf("原始简历为空")
	}
	if strings.TrimSpace(jobTitle) == "" || strings.TrimSpace(jobDescription) == "" {
		return nil, fmt.Errorf("岗位名称和岗位描述不能为空")
	}

	original, err := json.MarshalIndent(cv, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("序列化原始简历失败: %w", err)
	}
	user := fmt.Sprintf("原始简历：\n%s\n\n岗位名称：%s\n\n岗位描述：\n%s\n\n请针对该岗位优化简历。",
		original, jobTitle, jobDescription)

	content, err := o.caller.callLLM(ctx, optimizePrompt, user)
	if err != nil {
		return nil, err
	}

	var optimized types.CVStructure
	if err := o.caller.decode(content, &optimized); err != nil {
		return nil, err
	}
	normalizeStructure(&optimized)

	o.caller.logger.Info().Str("job_title", jobTitle).Int("skills", len(optimized.Skills)).Msg("简历优化完成")
	return &optimized, nil
}
