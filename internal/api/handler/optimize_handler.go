package handler

import (
	"context"
	"time"

	"competence-bank/internal/processor"
	"competence-bank/internal/storage/models"
	"competence-bank/internal/types"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
)

// OptimizeHandler 针对岗位优化简历
type OptimizeHandler struct {
	cvs *processor.CVService
}

func NewOptimizeHandler(cvs *processor.CVService) *OptimizeHandler {
	return &OptimizeHandler{cvs: cvs}
}

// OptimizedResponse 优化结果，optimized_cv 为解析后的结构
type OptimizedResponse struct {
	ID             uint               `json:"id"`
	OriginalCVID   uint               `json:"original_cv_id"`
	JobTitle       string             `json:"job_title"`
	JobDescription string             `json:"job_description"`
	MatchScore     int                `json:"match_score"`
	OptimizedCV    *types.CVStructure `json:"optimized_cv"`
	CreatedAt      time.Time          `json:"created_at"`
}

func newOptimizedResponse(opt *models.OptimizedCV) (*OptimizedResponse, error) {
	cv, err := processor.DecodeOptimized(opt)
	if err != nil {
		return nil, err
	}
	return &OptimizedResponse{
		ID:             opt.ID,
		OriginalCVID:   opt.OriginalCVID,
		JobTitle:       opt.JobTitle,
		JobDescription: opt.JobDescription,
		MatchScore:     opt.MatchScore,
		OptimizedCV:    cv,
		CreatedAt:      opt.CreatedAt,
	}, nil
}

// Optimize POST /optimize/:cv_id
func (h *OptimizeHandler) Optimize(ctx context.Context, c *app.RequestContext) {
	cvID, ok := uintParam(c, "cv_id")
	if !ok {
		return
	}
	var req processor.OptimizeRequest
	if err := c.BindJSON(&req); err != nil {
		badRequest(c, "请求体格式错误: "+err.Error())
		return
	}
	opt, err := h.cvs.Optimize(ctx, cvID, req)
	if err != nil {
		writeError(ctx, c, err)
		return
	}
	resp, err := newOptimizedResponse(opt)
	if err != nil {
		writeError(ctx, c, err)
		return
	}
	c.JSON(consts.StatusCreated, resp)
}

// Get GET /optimize/:id
func (h *OptimizeHandler) Get(ctx context.Context, c *app.RequestContext) {
	id, ok := uintParam(c, "id")
	if !ok {
		return
	}
	opt, err := h.cvs.GetOptimized(ctx, id)
	if err != nil {
		writeError(ctx, c, err)
		return
	}
	resp, err := newOptimizedResponse(opt)
	if err != nil {
		writeError(ctx, c, err)
		return
	}
	c.JSON(consts.StatusOK, resp)
}

// ListForCV GET /cv/:id/optimized
func (h *OptimizeHandler) ListForCV(ctx context.Context, c *app.RequestContext) {
	cvID, ok := uintParam(c, "id")
	if !ok {
		return
	}
	list, err := h.cvs.ListOptimized(ctx, cvID)
	if err != nil {
		writeError(ctx, c, err)
		return
	}
	out := make([]*OptimizedResponse, 0, len(list))
	for i := range list {
		resp, err := newOptimizedResponse(&list[i])
		if err != nil {
			writeError(ctx, c, err)
			return
		}
		out = append(out, resp)
	}
	c.JSON(consts.StatusOK, utils.H{"optimized": out, "total": len(out)})
}
