package handler

import (
	"context"
	"errors"
	"strconv"

	"competence-bank/internal/competence"
	"competence-bank/internal/logger"
	"competence-bank/internal/processor"
	"competence-bank/internal/tracing"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"go.opentelemetry.io/otel/trace"
)

// statusFor 把领域错误映射为HTTP状态码
func statusFor(err error) int {
	switch {
	case errors.Is(err, competence.ErrNotFound), errors.Is(err, processor.ErrCVNotFound):
		return consts.StatusNotFound
	case errors.Is(err, competence.ErrInvalidArgument),
		errors.Is(err, processor.ErrInvalidInput),
		errors.Is(err, processor.ErrUnsupportedFile),
		errors.Is(err, processor.ErrEmptyFile),
		errors.Is(err, processor.ErrFileTooLarge):
		return consts.StatusBadRequest
	case errors.Is(err, processor.ErrDuplicateCV), errors.Is(err, competence.ErrBankBusy):
		return consts.StatusConflict
	case errors.Is(err, processor.ErrExtractFailed):
		return consts.StatusUnprocessableEntity
	case errors.Is(err, processor.ErrStructureFailed),
		errors.Is(err, processor.ErrOptimizeFailed):
		return consts.StatusBadGateway
	default:
		return consts.StatusInternalServerError
	}
}

// writeError 写错误响应。500不向调用方暴露内部细节
func writeError(ctx context.Context, c *app.RequestContext, err error) {
	status := statusFor(err)
	tracing.RecordHTTPError(trace.SpanFromContext(ctx), err, status)

	body := utils.H{"error": err.Error()}
	if status == consts.StatusInternalServerError {
		logger.FromContext(ctx).Error().Err(err).Str("path", string(c.Path())).Msg("请求处理失败")
		body = utils.H{"error": "服务器内部错误"}
	} else {
		logger.FromContext(ctx).Warn().Err(err).Int("status", status).Str("path", string(c.Path())).Msg("请求被拒绝")
	}

	var dup *processor.DuplicateError
	if errors.As(err, &dup) {
		if dup.ExistingID != 0 {
			body["existing_id"] = dup.ExistingID
		}
		if dup.ExistingUUID != "" {
			body["existing_uuid"] = dup.ExistingUUID
		}
	}
	c.JSON(status, body)
}

func badRequest(c *app.RequestContext, msg string) {
	c.JSON(consts.StatusBadRequest, utils.H{"error": msg})
}

// uintParam 解析路径参数，失败时已写好400响应
func uintParam(c *app.RequestContext, name string) (uint, bool) {
	raw := c.Param(name)
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || v == 0 {
		badRequest(c, "无效的参数 "+name+": "+raw)
		return 0, false
	}
	return uint(v), true
}

func intParam(c *app.RequestContext, name string) (int, bool) {
	raw := c.Param(name)
	v, err := strconv.Atoi(raw)
	if err != nil {
		badRequest(c, "无效的参数 "+name+": "+raw)
		return 0, false
	}
	return v, true
}
