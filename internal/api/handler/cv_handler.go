package handler

import (
	"context"
	"fmt"
	"io"
	"time"

	"competence-bank/internal/processor"
	"competence-bank/internal/storage/models"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
)

// CVHandler 简历上传与管理接口
type CVHandler struct {
	cvs      *processor.CVService
	maxBytes int64
}

// NewCVHandler maxBytes 用于读取上传文件时提前截断
func NewCVHandler(cvs *processor.CVService, maxBytes int64) *CVHandler {
	return &CVHandler{cvs: cvs, maxBytes: maxBytes}
}

// CVSummary 列表与上传响应中的简历摘要
type CVSummary struct {
	ID         uint      `json:"id"`
	UUID       string    `json:"uuid"`
	Filename   string    `json:"filename"`
	Title      string    `json:"title,omitempty"`
	FileSize   int64     `json:"file_size"`
	FullName   string    `json:"full_name,omitempty"`
	Skills     int       `json:"skills"`
	Experience int       `json:"work_experience"`
	UploadedAt time.Time `json:"upload_date"`
}

func summarize(cv *models.CV) CVSummary {
	sum := CVSummary{
		ID:         cv.ID,
		UUID:       cv.UUID,
		Filename:   cv.Filename,
		Title:      cv.Title,
		FileSize:   cv.FileSize,
		UploadedAt: cv.UploadedAt,
	}
	if s, err := cv.Structure(); err == nil {
		sum.FullName = s.PersonalInfo.FullName
		sum.Skills = len(s.Skills)
		sum.Experience = len(s.WorkExperience)
	}
	return sum
}

// Upload POST /cv/upload，multipart 字段 file，可选 title
func (h *CVHandler) Upload(ctx context.Context, c *app.RequestContext) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		badRequest(c, "文件未找到")
		return
	}
	if h.maxBytes > 0 && fileHeader.Size > h.maxBytes {
		writeError(ctx, c, fmt.Errorf("%w: %d 字节", processor.ErrFileTooLarge, fileHeader.Size))
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		c.JSON(consts.StatusInternalServerError, utils.H{"error": "打开文件失败"})
		return
	}
	defer file.Close()

	reader := io.Reader(file)
	if h.maxBytes > 0 {
		// 多读一个字节，交给服务层判断超限
		reader = io.LimitReader(file, h.maxBytes+1)
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		c.JSON(consts.StatusInternalServerError, utils.H{"error": "读取文件失败"})
		return
	}

	cv, err := h.cvs.Upload(ctx, processor.UploadRequest{
		Filename: fileHeader.Filename,
		Title:    c.PostForm("title"),
		Data:     data,
	})
	if err != nil {
		writeError(ctx, c, err)
		return
	}
	c.JSON(consts.StatusCreated, summarize(cv))
}

func (h *CVHandler) List(ctx context.Context, c *app.RequestContext) {
	cvs, err := h.cvs.List(ctx)
	if err != nil {
		writeError(ctx, c, err)
		return
	}
	out := make([]CVSummary, 0, len(cvs))
	for i := range cvs {
		out = append(out, summarize(&cvs[i]))
	}
	c.JSON(consts.StatusOK, utils.H{"cvs": out, "total": len(out)})
}

// Get 返回完整的结构化数据
func (h *CVHandler) Get(ctx context.Context, c *app.RequestContext) {
	id, ok := uintParam(c, "id")
	if !ok {
		return
	}
	cv, err := h.cvs.Get(ctx, id)
	if err != nil {
		writeError(ctx, c, err)
		return
	}
	c.JSON(consts.StatusOK, cv)
}

type updateTitleRequest struct {
	Title string `json:"title"`
}

// UpdateTitle PATCH /cv/:id
func (h *CVHandler) UpdateTitle(ctx context.Context, c *app.RequestContext) {
	id, ok := uintParam(c, "id")
	if !ok {
		return
	}
	var req updateTitleRequest
	if err := c.BindJSON(&req); err != nil {
		badRequest(c, "请求体格式错误: "+err.Error())
		return
	}
	cv, err := h.cvs.UpdateTitle(ctx, id, req.Title)
	if err != nil {
		writeError(ctx, c, err)
		return
	}
	c.JSON(consts.StatusOK, summarize(cv))
}

// Delete DELETE /cv/:id，随后重建能力库
func (h *CVHandler) Delete(ctx context.Context, c *app.RequestContext) {
	id, ok := uintParam(c, "id")
	if !ok {
		return
	}
	result, err := h.cvs.Delete(ctx, id)
	if err != nil {
		writeError(ctx, c, err)
		return
	}
	c.JSON(consts.StatusOK, result)
}
