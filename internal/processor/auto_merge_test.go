package processor

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"competence-bank/internal/competence"
	"competence-bank/internal/storage"
	"competence-bank/internal/storage/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingBank struct {
	merged []uint
	err    error
}

func (b *recordingBank) MergeCV(_ context.Context, cvID uint) (*competence.MergeOutcome, error) {
	b.merged = append(b.merged, cvID)
	if b.err != nil {
		return nil, b.err
	}
	return &competence.MergeOutcome{CVID: cvID, Success: true, SkillsAdded: 2}, nil
}

func (b *recordingBank) Rebuild(context.Context) (*competence.BatchOutcome, error) {
	return &competence.BatchOutcome{}, nil
}

// heldLock 模拟锁被另一个进程持有
type heldLock struct{}

func (heldLock) AcquireLock(context.Context, string, time.Duration) (string, error) {
	return "", nil
}

func (heldLock) ReleaseLock(context.Context, string, string) (bool, error) {
	return false, nil
}

func uploadedEvent(t *testing.T, id uint) []byte {
	t.Helper()
	body, err := json.Marshal(storage.CVUploadedMessage{CVID: id, CVUUID: "0190d5a4-0000-7000-8000-000000000001"})
	require.NoError(t, err)
	return body
}

func TestAutoMerger_Handle(t *testing.T) {
	tests := []struct {
		name       string
		enabled    bool
		bankErr    error
		body       []byte
		wantAck    bool
		wantMerged int
	}{
		{name: "合并成功", enabled: true, body: nil, wantAck: true, wantMerged: 1},
		{name: "未开启自动合并", enabled: false, wantAck: true, wantMerged: 0},
		{name: "能力库被占用时重新入队", enabled: true, bankErr: &competence.BankError{Op: "MergeCV", BaseErr: competence.ErrBankBusy}, wantAck: false, wantMerged: 1},
		{name: "简历已删除", enabled: true, bankErr: &competence.BankError{Op: "MergeCV", BaseErr: competence.ErrNotFound}, wantAck: true, wantMerged: 1},
		{name: "其他错误不重试", enabled: true, bankErr: errors.New("db down"), wantAck: true, wantMerged: 1},
		{name: "无法解析的消息", enabled: true, body: []byte("{not json"), wantAck: true, wantMerged: 0},
		{name: "缺少cv_id", enabled: true, body: []byte(`{"cv_uuid":"x"}`), wantAck: true, wantMerged: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bank := &recordingBank{err: tt.bankErr}
			merger := NewAutoMerger(bank, tt.enabled, zerolog.Nop())
			body := tt.body
			if body == nil {
				body = uploadedEvent(t, 7)
			}

			assert.Equal(t, tt.wantAck, merger.Handle(context.Background(), body))
			assert.Len(t, bank.merged, tt.wantMerged)
			if tt.wantMerged > 0 {
				assert.Equal(t, uint(7), bank.merged[0])
			}
		})
	}

	t.Run("其他进程持有能力库锁时重新入队", func(t *testing.T) {
		env := newTestEnv(t, nil)
		cv := &models.CV{UUID: "0190d5a4-0000-7000-8000-000000000002", Filename: "a.pdf", StructuredData: []byte(`{"skills":["Go"]}`)}
		require.NoError(t, env.db.Create(cv).Error)

		bank := competence.NewService(env.db, competence.WithLocker(heldLock{}, time.Minute))
		merger := NewAutoMerger(bank, true, zerolog.Nop())

		assert.False(t, merger.Handle(context.Background(), uploadedEvent(t, cv.ID)))
		var skills int64
		require.NoError(t, env.db.Model(&models.Skill{}).Count(&skills).Error)
		assert.Zero(t, skills)
	})
}
