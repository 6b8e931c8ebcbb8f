package handler

import (
	"context"

	"competence-bank/internal/competence"
	"competence-bank/internal/logger"
	"competence-bank/internal/storage"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
)

// CompetenceHandler 能力库接口
type CompetenceHandler struct {
	bank *competence.Service
}

func NewCompetenceHandler(bank *competence.Service) *CompetenceHandler {
	return &CompetenceHandler{bank: bank}
}

// MergeCV POST /competence/merge/:cv_id
func (h *CompetenceHandler) MergeCV(ctx context.Context, c *app.RequestContext) {
	cvID, ok := uintParam(c, "cv_id")
	if !ok {
		return
	}
	outcome, err := h.bank.MergeCV(logger.WithCVID(ctx, cvID), cvID)
	if err != nil {
		writeError(ctx, c, err)
		return
	}
	c.JSON(consts.StatusOK, outcome)
}

// MergeAll POST /competence/merge-all
func (h *CompetenceHandler) MergeAll(ctx context.Context, c *app.RequestContext) {
	batch, err := h.bank.MergeAll(ctx)
	if err != nil {
		writeError(ctx, c, err)
		return
	}
	c.JSON(consts.StatusOK, batch)
}

// Rebuild POST /competence/rebuild
func (h *CompetenceHandler) Rebuild(ctx context.Context, c *app.RequestContext) {
	batch, err := h.bank.Rebuild(ctx)
	if err != nil {
		writeError(ctx, c, err)
		return
	}
	c.JSON(consts.StatusOK, batch)
}

// Clear DELETE /competence
func (h *CompetenceHandler) Clear(ctx context.Context, c *app.RequestContext) {
	outcome, err := h.bank.Clear(ctx)
	if err != nil {
		writeError(ctx, c, err)
		return
	}
	c.JSON(consts.StatusOK, outcome)
}

func (h *CompetenceHandler) Stats(ctx context.Context, c *app.RequestContext) {
	stats, err := h.bank.Stats(ctx)
	if err != nil {
		writeError(ctx, c, err)
		return
	}
	c.JSON(consts.StatusOK, stats)
}

// ListSkills GET /competence/skills?skill_type=&category=
func (h *CompetenceHandler) ListSkills(ctx context.Context, c *app.RequestContext) {
	skills, err := h.bank.ListSkills(ctx, storage.SkillFilter{
		SkillType: c.Query("skill_type"),
		Category:  c.Query("category"),
	})
	if err != nil {
		writeError(ctx, c, err)
		return
	}
	c.JSON(consts.StatusOK, utils.H{"skills": skills, "total": len(skills)})
}

// ListExperiences GET /competence/experiences?experience_type=
func (h *CompetenceHandler) ListExperiences(ctx context.Context, c *app.RequestContext) {
	exps, err := h.bank.ListExperiences(ctx, storage.ExperienceFilter{ExperienceType: c.Query("experience_type")})
	if err != nil {
		writeError(ctx, c, err)
		return
	}
	c.JSON(consts.StatusOK, utils.H{"experiences": exps, "total": len(exps)})
}

// AddSkillRequest name 可以是逗号分隔的多个技能
type AddSkillRequest struct {
	Name      string `json:"name"`
	Category  string `json:"category"`
	SkillType string `json:"skill_type"`
}

func (h *CompetenceHandler) AddSkill(ctx context.Context, c *app.RequestContext) {
	var req AddSkillRequest
	if err := c.BindJSON(&req); err != nil {
		badRequest(c, "请求体格式错误: "+err.Error())
		return
	}
	result, err := h.bank.AddSkillManual(ctx, req.Name, req.Category, req.SkillType)
	if err != nil {
		writeError(ctx, c, err)
		return
	}
	c.JSON(consts.StatusCreated, result)
}

func (h *CompetenceHandler) DeleteSkill(ctx context.Context, c *app.RequestContext) {
	id, ok := uintParam(c, "id")
	if !ok {
		return
	}
	if err := h.bank.DeleteSkill(ctx, id); err != nil {
		writeError(ctx, c, err)
		return
	}
	c.JSON(consts.StatusOK, utils.H{"deleted": id})
}

func (h *CompetenceHandler) DeleteExperience(ctx context.Context, c *app.RequestContext) {
	id, ok := uintParam(c, "id")
	if !ok {
		return
	}
	if err := h.bank.DeleteExperience(ctx, id); err != nil {
		writeError(ctx, c, err)
		return
	}
	c.JSON(consts.StatusOK, utils.H{"deleted": id})
}

// MergeExperiencesRequest 第一个ID作为合并目标
type MergeExperiencesRequest struct {
	ExperienceIDs []uint `json:"experience_ids"`
}

func (h *CompetenceHandler) MergeExperiences(ctx context.Context, c *app.RequestContext) {
	var req MergeExperiencesRequest
	if err := c.BindJSON(&req); err != nil {
		badRequest(c, "请求体格式错误: "+err.Error())
		return
	}
	merged, err := h.bank.MergeRecords(ctx, req.ExperienceIDs)
	if err != nil {
		writeError(ctx, c, err)
		return
	}
	c.JSON(consts.StatusOK, merged)
}

// Evidence GET /competence/experiences/:id/evidence
func (h *CompetenceHandler) Evidence(ctx context.Context, c *app.RequestContext) {
	id, ok := uintParam(c, "id")
	if !ok {
		return
	}
	links, err := h.bank.EvidenceFor(ctx, id)
	if err != nil {
		writeError(ctx, c, err)
		return
	}
	c.JSON(consts.StatusOK, utils.H{"evidence": links})
}

type textRequest struct {
	Text  string `json:"text"`
	Skill string `json:"skill"`
}

func (h *CompetenceHandler) AddAchievement(ctx context.Context, c *app.RequestContext) {
	id, ok := uintParam(c, "id")
	if !ok {
		return
	}
	var req textRequest
	if err := c.BindJSON(&req); err != nil {
		badRequest(c, "请求体格式错误: "+err.Error())
		return
	}
	h.respondList(ctx, c, "achievements")(h.bank.AddAchievement(ctx, id, req.Text))
}

func (h *CompetenceHandler) UpdateAchievement(ctx context.Context, c *app.RequestContext) {
	id, ok := uintParam(c, "id")
	if !ok {
		return
	}
	index, ok := intParam(c, "index")
	if !ok {
		return
	}
	var req textRequest
	if err := c.BindJSON(&req); err != nil {
		badRequest(c, "请求体格式错误: "+err.Error())
		return
	}
	h.respondList(ctx, c, "achievements")(h.bank.UpdateAchievement(ctx, id, index, req.Text))
}

func (h *CompetenceHandler) DeleteAchievement(ctx context.Context, c *app.RequestContext) {
	id, ok := uintParam(c, "id")
	if !ok {
		return
	}
	index, ok := intParam(c, "index")
	if !ok {
		return
	}
	h.respondList(ctx, c, "achievements")(h.bank.DeleteAchievement(ctx, id, index))
}

func (h *CompetenceHandler) AddRelatedSkill(ctx context.Context, c *app.RequestContext) {
	id, ok := uintParam(c, "id")
	if !ok {
		return
	}
	var req textRequest
	if err := c.BindJSON(&req); err != nil {
		badRequest(c, "请求体格式错误: "+err.Error())
		return
	}
	h.respondList(ctx, c, "related_skills")(h.bank.AddRelatedSkill(ctx, id, req.Skill))
}

func (h *CompetenceHandler) RemoveRelatedSkill(ctx context.Context, c *app.RequestContext) {
	id, ok := uintParam(c, "id")
	if !ok {
		return
	}
	index, ok := intParam(c, "index")
	if !ok {
		return
	}
	h.respondList(ctx, c, "related_skills")(h.bank.RemoveRelatedSkill(ctx, id, index))
}

// respondList 子列表编辑操作统一返回修改后的完整列表
func (h *CompetenceHandler) respondList(ctx context.Context, c *app.RequestContext, field string) func([]string, error) {
	return func(list []string, err error) {
		if err != nil {
			writeError(ctx, c, err)
			return
		}
		c.JSON(consts.StatusOK, utils.H{field: list})
	}
}
