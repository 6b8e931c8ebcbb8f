package competence

import (
	"errors"
	"fmt"
)

// 错误类别
var (
	ErrNotFound        = errors.New("记录不存在")
	ErrInvalidArgument = errors.New("参数无效")
	ErrBankBusy        = errors.New("能力库正在被其他任务修改")
)

// BankError 能力库操作错误，BaseErr 为上面的错误类别之一
type BankError struct {
	Op      string
	BaseErr error
	Detail  string
	Cause   error
}

func (e *BankError) Error() string {
	msg := fmt.Sprintf("%s (操作:%s)", e.BaseErr, e.Op)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *BankError) Unwrap() error {
	return e.BaseErr
}

// Is 实现 errors.Is，类别与底层原因都参与比较
func (e *BankError) Is(target error) bool {
	return errors.Is(e.BaseErr, target) || (e.Cause != nil && errors.Is(e.Cause, target))
}

func notFound(op, format string, args ...interface{}) error {
	return &BankError{Op: op, BaseErr: ErrNotFound, Detail: fmt.Sprintf(format, args...)}
}

func invalidArgument(op, format string, args ...interface{}) error {
	return &BankError{Op: op, BaseErr: ErrInvalidArgument, Detail: fmt.Sprintf(format, args...)}
}

func busy(op string) error {
	return &BankError{Op: op, BaseErr: ErrBankBusy}
}
