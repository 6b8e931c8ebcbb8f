package processor

import (
	"errors"
	"fmt"
)

var (
	ErrUnsupportedFile = errors.New("不支持的文件类型")
	ErrFileTooLarge    = errors.New("文件超过大小限制")
	ErrEmptyFile       = errors.New("文件为空")
	ErrDuplicateCV     = errors.New("简历已存在")
	ErrCVNotFound      = errors.New("简历不存在")
	ErrStoreFailed     = errors.New("保存原始文件失败")
	ErrExtractFailed   = errors.New("提取简历文本失败")
	ErrStructureFailed = errors.New("简历结构化失败")
	ErrOptimizeFailed  = errors.New("简历优化失败")
	ErrInvalidInput    = errors.New("请求参数无效")
)

// CVProcessError 简历处理过程中的错误
type CVProcessError struct {
	CVUUID  string
	Op      string
	BaseErr error
	Detail  string
	Cause   error
}

func (e *CVProcessError) Error() string {
	msg := fmt.Sprintf("%s (操作:%s", e.BaseErr, e.Op)
	if e.CVUUID != "" {
		msg += ", UUID:" + e.CVUUID
	}
	msg += ")"
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *CVProcessError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.BaseErr}
	}
	return []error{e.BaseErr, e.Cause}
}

// DuplicateError 上传了已登记过的文件，ExistingID 在能查到时非零
type DuplicateError struct {
	ExistingID   uint
	ExistingUUID string
}

func (e *DuplicateError) Error() string {
	if e.ExistingID != 0 {
		return fmt.Sprintf("%s: id=%d", ErrDuplicateCV, e.ExistingID)
	}
	return fmt.Sprintf("%s: uuid=%s", ErrDuplicateCV, e.ExistingUUID)
}

func (e *DuplicateError) Is(target error) bool {
	return target == ErrDuplicateCV
}

func newProcessError(op, uuid string, base error, cause error, format string, args ...interface{}) error {
	return &CVProcessError{
		CVUUID:  uuid,
		Op:      op,
		BaseErr: base,
		Detail:  fmt.Sprintf(format, args...),
		Cause:   cause,
	}
}
