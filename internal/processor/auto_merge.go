package processor

import (
	"context"
	"encoding/json"
	"errors"

	"competence-bank/internal/competence"
	"competence-bank/internal/logger"
	"competence-bank/internal/storage"

	"github.com/rs/zerolog"
)

// AutoMerger 消费 cv.uploaded 事件，把新简历并入能力库
type AutoMerger struct {
	bank    BankMerger
	enabled bool
	logger  zerolog.Logger
}

// NewAutoMerger enabled为false时只确认消息不做合并
func NewAutoMerger(bank BankMerger, enabled bool, log zerolog.Logger) *AutoMerger {
	return &AutoMerger{
		bank:    bank,
		enabled: enabled,
		logger:  log.With().Str("component", "auto_merge").Logger(),
	}
}

// Handle 作为 RabbitMQ 消费回调，返回true确认消息，false重新入队。
// 只有能力库被占用时才重新入队，其余失败重试也不会成功。
func (a *AutoMerger) Handle(ctx context.Context, body []byte) bool {
	var msg storage.CVUploadedMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		a.logger.Error().Err(err).Msg("无法解析上传事件，丢弃")
		return true
	}
	if msg.CVID == 0 {
		a.logger.Warn().Str("cv_uuid", msg.CVUUID).Msg("上传事件缺少cv_id，丢弃")
		return true
	}
	if !a.enabled {
		return true
	}

	ctx = logger.WithCVID(ctx, msg.CVID)
	log := a.logger.With().Uint("cv_id", msg.CVID).Str("cv_uuid", msg.CVUUID).Logger()

	outcome, err := a.bank.MergeCV(ctx, msg.CVID)
	switch {
	case err == nil:
		log.Info().
			Int("skills_added", outcome.SkillsAdded).
			Int("experiences_added", outcome.ExperiencesAdded).
			Int("links_created", outcome.LinksCreated).
			Msg("新简历已自动并入能力库")
		return true
	case errors.Is(err, competence.ErrBankBusy):
		log.Warn().Msg("能力库正被占用，稍后重试")
		return false
	case errors.Is(err, competence.ErrNotFound):
		log.Warn().Msg("简历已被删除，跳过自动合并")
		return true
	default:
		log.Error().Err(err).Msg("自动合并失败")
		return true
	}
}
