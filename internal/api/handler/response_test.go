package handler

import (
	"errors"
	"fmt"
	"testing"

	"competence-bank/internal/competence"
	"competence-bank/internal/processor"

	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/stretchr/testify/assert"
)

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{&competence.BankError{Op: "MergeCV", BaseErr: competence.ErrNotFound}, consts.StatusNotFound},
		{&competence.BankError{Op: "AddSkillManual", BaseErr: competence.ErrInvalidArgument}, consts.StatusBadRequest},
		{&competence.BankError{Op: "Rebuild", BaseErr: competence.ErrBankBusy}, consts.StatusConflict},
		{fmt.Errorf("wrap: %w", processor.ErrCVNotFound), consts.StatusNotFound},
		{&processor.DuplicateError{ExistingID: 3}, consts.StatusConflict},
		{processor.ErrFileTooLarge, consts.StatusBadRequest},
		{processor.ErrUnsupportedFile, consts.StatusBadRequest},
		{processor.ErrExtractFailed, consts.StatusUnprocessableEntity},
		{processor.ErrStructureFailed, consts.StatusBadGateway},
		{processor.ErrOptimizeFailed, consts.StatusBadGateway},
		{errors.New("disk full"), consts.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, statusFor(tc.err), "error: %v", tc.err)
	}
}
