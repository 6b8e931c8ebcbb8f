package processor

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"competence-bank/internal/competence"
	"competence-bank/internal/config"
	"competence-bank/internal/constants"
	"competence-bank/internal/logger"
	"competence-bank/internal/parser"
	"competence-bank/internal/storage"
	"competence-bank/internal/storage/models"
	"competence-bank/internal/tracing"
	"competence-bank/internal/types"

	"github.com/cloudwego/eino/components/embedding"
	"github.com/gofrs/uuid/v5"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
)

const (
	defaultEmbedTimeout = 30 * time.Second
	// 一次上传（提取、结构化、向量化）不会超过这个时长
	staleUploadAfter = 15 * time.Minute
)

var tracer = otel.Tracer("competence-bank/processor")

// Deps CVService 的依赖，Deduper、Embedder、Optimizer 可以为空
type Deps struct {
	Upload     config.UploadConfig
	CVs        *storage.CVStore
	Files      storage.ObjectStorage
	Dedup      Deduper
	Extractor  TextExtractor
	Structurer Structurer
	Optimizer  Optimizer
	Embedder   embedding.Embedder
	Bank       BankMerger

	// EmbedTimeout 为0时使用默认值
	EmbedTimeout time.Duration

	// 上传事件的投递目标，Exchange为空时不写发件箱
	EventsExchange   string
	EventsRoutingKey string

	Logger zerolog.Logger
}

// CVService 简历上传、管理与优化
type CVService struct {
	upload       config.UploadConfig
	cvs          *storage.CVStore
	files        storage.ObjectStorage
	dedup        Deduper
	extractor    TextExtractor
	structurer   Structurer
	optimizer    Optimizer
	embedder     embedding.Embedder
	bank         BankMerger
	exchange     string
	routingKey   string
	embedTimeout time.Duration
	logger       zerolog.Logger
}

// NewCVService 校验必需依赖
func NewCVService(d Deps) (*CVService, error) {
	switch {
	case d.CVs == nil:
		return nil, errors.New("简历存储未初始化")
	case d.Files == nil:
		return nil, errors.New("文件存储未初始化")
	case d.Extractor == nil:
		return nil, errors.New("文本提取器未初始化")
	case d.Structurer == nil:
		return nil, errors.New("简历结构化器未初始化")
	case d.Bank == nil:
		return nil, errors.New("能力库服务未初始化")
	}
	embedTimeout := d.EmbedTimeout
	if embedTimeout <= 0 {
		embedTimeout = defaultEmbedTimeout
	}
	return &CVService{
		upload:       d.Upload,
		cvs:          d.CVs,
		files:        d.Files,
		dedup:        d.Dedup,
		extractor:    d.Extractor,
		structurer:   d.Structurer,
		optimizer:    d.Optimizer,
		embedder:     d.Embedder,
		bank:         d.Bank,
		exchange:     d.EventsExchange,
		routingKey:   d.EventsRoutingKey,
		embedTimeout: embedTimeout,
		logger:       d.Logger.With().Str("component", "cv_service").Logger(),
	}, nil
}

// UploadRequest 一次上传
type UploadRequest struct {
	Filename string
	Title    string
	Data     []byte
}

// Upload 校验、去重、存档、提取文本、结构化后入库，并写入上传事件
func (s *CVService) Upload(ctx context.Context, req UploadRequest) (cv *models.CV, err error) {
	ctx, span := tracer.Start(ctx, "CVService.Upload", trace.WithAttributes(
		// 文件名常带有候选人姓名，按敏感字段掩码
		attribute.String("cv.filename", tracing.SafeAttributeValue("cv.filename", req.Filename, tracing.DefaultMaxLength)),
		attribute.Int("cv.size", len(req.Data)),
	))
	defer func() {
		if err != nil {
			tracing.RecordError(span, err, uploadErrorType(err))
		}
		span.End()
	}()

	filename := filepath.Base(strings.TrimSpace(req.Filename))
	ext := strings.ToLower(filepath.Ext(filename))
	if filename == "" || filename == "." || !s.upload.IsAllowedExt(ext) {
		return nil, newProcessError("validate", "", ErrUnsupportedFile, nil, "文件 %q 的类型 %q 不被允许", req.Filename, ext)
	}
	if len(req.Data) == 0 {
		return nil, newProcessError("validate", "", ErrEmptyFile, nil, "文件 %q 没有内容", filename)
	}
	if limit := s.upload.MaxUploadBytes(); int64(len(req.Data)) > limit {
		return nil, newProcessError("validate", "", ErrFileTooLarge, nil, "%d 字节，上限 %d 字节", len(req.Data), limit)
	}

	sum := md5.Sum(req.Data)
	md5Hex := hex.EncodeToString(sum[:])

	existing, err := s.cvs.FindByMD5(ctx, md5Hex)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, &DuplicateError{ExistingID: existing.ID, ExistingUUID: existing.UUID}
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("生成简历UUID失败: %w", err)
	}
	cvUUID := id.String()
	span.SetAttributes(attribute.String("cv.uuid", cvUUID))
	log := s.logger.With().Str("cv_uuid", cvUUID).Str("filename", filename).Logger()

	if s.dedup != nil {
		claimed, claimErr := s.claimMD5(ctx, md5Hex, cvUUID, log)
		if claimErr != nil {
			return nil, claimErr
		}
		if claimed {
			defer func() {
				if err != nil {
					s.forgetMD5(md5Hex, log)
				}
			}()
		}
	}

	objectKey, err := s.files.UploadCVFile(ctx, cvUUID, ext, req.Data)
	if err != nil {
		return nil, newProcessError("store_file", cvUUID, ErrStoreFailed, err, "")
	}
	defer func() {
		if err != nil {
			if delErr := s.files.DeleteFile(context.WithoutCancel(ctx), objectKey); delErr != nil {
				log.Warn().Err(delErr).Str("object_key", objectKey).Msg("回滚原始文件失败")
			}
		}
	}()

	text, err := s.extractor.ExtractText(ctx, req.Data, filename)
	if err != nil {
		return nil, newProcessError("extract", cvUUID, ErrExtractFailed, err, "")
	}

	structure, err := s.structurer.Structure(ctx, text)
	if err != nil {
		return nil, newProcessError("structure", cvUUID, ErrStructureFailed, err, "")
	}
	structured, err := models.ToJSON(structure)
	if err != nil {
		return nil, fmt.Errorf("序列化结构化数据失败: %w", err)
	}

	vectors := s.embedAll(ctx, text, structure.Summary, structure.SkillsText())

	cv = &models.CV{
		UUID:                 cvUUID,
		Filename:             filename,
		Title:                strings.TrimSpace(req.Title),
		FileMD5:              md5Hex,
		FileSize:             int64(len(req.Data)),
		ObjectKey:            objectKey,
		OriginalText:         text,
		StructuredData:       structured,
		FullContentEmbedding: models.VectorToJSON(vectors[0]),
		SummaryEmbedding:     models.VectorToJSON(vectors[1]),
		SkillsEmbedding:      models.VectorToJSON(vectors[2]),
	}

	var event *models.OutboxMessage
	if s.exchange != "" {
		event = &models.OutboxMessage{
			AggregateID:      cvUUID,
			EventType:        constants.EventTypeCVUploaded,
			TargetExchange:   s.exchange,
			TargetRoutingKey: s.routingKey,
			Status:           models.OutboxStatusPending,
		}
	}
	if err = s.cvs.CreateWithOutbox(ctx, cv, event); err != nil {
		return nil, err
	}

	log.Info().
		Uint("cv_id", cv.ID).
		Int("text_chars", len([]rune(text))).
		Int("skills", len(structure.Skills)).
		Int("work_experience", len(structure.WorkExperience)).
		Msg("简历上传完成")
	return cv, nil
}

// claimMD5 在Redis中登记MD5，返回是否由本次上传登记成功。
// Redis不可用时只依赖数据库的MD5查询。已登记的简历不在库中且已超过 staleUploadAfter，
// 说明是崩溃遗留的登记，撤销后重新登记。
func (s *CVService) claimMD5(ctx context.Context, md5Hex, cvUUID string, log zerolog.Logger) (bool, error) {
	for attempt := 0; ; attempt++ {
		dup, existingUUID, err := s.dedup.CheckAndSetMD5(ctx, md5Hex, cvUUID)
		if err != nil {
			log.Warn().Err(err).Msg("MD5去重检查失败，继续上传")
			return false, nil
		}
		if !dup {
			return true, nil
		}

		existing, err := s.cvs.FindByUUID(ctx, existingUUID)
		if err != nil {
			return false, err
		}
		if existing != nil {
			return false, &DuplicateError{ExistingID: existing.ID, ExistingUUID: existing.UUID}
		}
		if attempt > 0 || !staleUpload(existingUUID, time.Now()) {
			// 另一个上传正在处理同一个文件
			return false, &DuplicateError{ExistingUUID: existingUUID}
		}
		log.Warn().Str("stale_uuid", existingUUID).Msg("MD5登记对应的简历不存在，撤销遗留登记")
		s.forgetMD5(md5Hex, log)
	}
}

// staleUpload 根据 UUIDv7 中的时间判断登记是否早于任何一次上传可能持续的时间。
// 无法解析时间的登记按进行中处理。
func staleUpload(cvUUID string, now time.Time) bool {
	id, err := uuid.FromString(cvUUID)
	if err != nil || id.Version() != uuid.V7 {
		return false
	}
	ts, err := uuid.TimestampFromV7(id)
	if err != nil {
		return false
	}
	created, err := ts.Time()
	if err != nil {
		return false
	}
	return now.Sub(created) > staleUploadAfter
}

func (s *CVService) forgetMD5(md5Hex string, log zerolog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.dedup.RemoveFileMD5(ctx, md5Hex); err != nil {
		log.Warn().Err(err).Str("md5", md5Hex).Msg("撤销MD5登记失败")
	}
}

// embedAll 尽力而为：失败或未配置时对应位置为nil
func (s *CVService) embedAll(ctx context.Context, texts ...string) [][]float64 {
	out := make([][]float64, len(texts))
	if s.embedder == nil {
		return out
	}

	var inputs []string
	var positions []int
	for i, t := range texts {
		if t = strings.TrimSpace(t); t != "" {
			inputs = append(inputs, t)
			positions = append(positions, i)
		}
	}
	if len(inputs) == 0 {
		return out
	}

	ctx, cancel := context.WithTimeout(ctx, s.embedTimeout)
	defer cancel()
	vectors, err := s.embedder.EmbedStrings(ctx, inputs)
	if err != nil {
		logger.FromContext(ctx).Warn().Err(err).Msg("生成向量失败，跳过")
		return out
	}
	if len(vectors) != len(inputs) {
		logger.FromContext(ctx).Warn().Int("want", len(inputs)).Int("got", len(vectors)).Msg("向量数量不一致，跳过")
		return out
	}
	for i, pos := range positions {
		out[pos] = vectors[i]
	}
	return out
}

// List 按上传时间倒序
func (s *CVService) List(ctx context.Context) ([]models.CV, error) {
	return s.cvs.List(ctx)
}

// Get 不存在时返回 ErrCVNotFound
func (s *CVService) Get(ctx context.Context, id uint) (*models.CV, error) {
	cv, err := s.cvs.Get(ctx, id)
	if err != nil {
		return nil, mapNotFound("get", id, err)
	}
	return cv, nil
}

// UpdateTitle 标题去掉首尾空白后保存
func (s *CVService) UpdateTitle(ctx context.Context, id uint, title string) (*models.CV, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, newProcessError("update_title", "", ErrInvalidInput, nil, "标题不能为空")
	}
	if err := s.cvs.UpdateTitle(ctx, id, title); err != nil {
		return nil, mapNotFound("update_title", id, err)
	}
	return s.Get(ctx, id)
}

// DeleteResult 删除简历后的能力库重建结果
type DeleteResult struct {
	CVID         uint                     `json:"cv_id"`
	Rebuild      *competence.BatchOutcome `json:"rebuild,omitempty"`
	RebuildError string                   `json:"rebuild_error,omitempty"`
}

// Delete 删除简历后重建能力库，使其不再包含该简历的内容。
// 重建失败不回滚删除，结果中带上失败原因。
func (s *CVService) Delete(ctx context.Context, id uint) (*DeleteResult, error) {
	cv, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.cvs.Delete(ctx, id); err != nil {
		return nil, mapNotFound("delete", id, err)
	}
	log := s.logger.With().Uint("cv_id", id).Str("cv_uuid", cv.UUID).Logger()

	result := &DeleteResult{CVID: id}
	outcome, err := s.bank.Rebuild(ctx)
	if err != nil {
		log.Error().Err(err).Msg("删除简历后重建能力库失败")
		result.RebuildError = err.Error()
	} else {
		result.Rebuild = outcome
	}

	if cv.ObjectKey != "" {
		if err := s.files.DeleteFile(ctx, cv.ObjectKey); err != nil {
			log.Warn().Err(err).Str("object_key", cv.ObjectKey).Msg("删除原始文件失败")
		}
	}
	if s.dedup != nil && cv.FileMD5 != "" {
		s.forgetMD5(cv.FileMD5, log)
	}

	log.Info().Bool("rebuilt", result.Rebuild != nil).Msg("简历已删除")
	return result, nil
}

// OptimizeRequest 针对岗位优化简历
type OptimizeRequest struct {
	JobTitle       string `json:"job_title"`
	JobDescription string `json:"job_description"`
}

// Optimize 改写简历并保存为新的优化版本
func (s *CVService) Optimize(ctx context.Context, cvID uint, req OptimizeRequest) (*models.OptimizedCV, error) {
	if s.optimizer == nil {
		return nil, newProcessError("optimize", "", ErrOptimizeFailed, nil, "未配置LLM")
	}
	req.JobTitle = strings.TrimSpace(req.JobTitle)
	req.JobDescription = strings.TrimSpace(req.JobDescription)
	if req.JobTitle == "" || req.JobDescription == "" {
		return nil, newProcessError("optimize", "", ErrInvalidInput, nil, "job_title 和 job_description 不能为空")
	}

	ctx, span := tracer.Start(ctx, "CVService.Optimize", trace.WithAttributes(attribute.Int64("cv.id", int64(cvID))))
	defer span.End()

	cv, err := s.Get(ctx, cvID)
	if err != nil {
		return nil, err
	}
	original, err := cv.Structure()
	if err != nil {
		return nil, newProcessError("optimize", cv.UUID, ErrStructureFailed, err, "结构化数据无法解析")
	}

	optimized, err := s.optimizer.Optimize(ctx, original, req.JobTitle, req.JobDescription)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeLLM)
		return nil, newProcessError("optimize", cv.UUID, ErrOptimizeFailed, err, "")
	}
	data, err := models.ToJSON(optimized)
	if err != nil {
		return nil, fmt.Errorf("序列化优化结果失败: %w", err)
	}

	opt := &models.OptimizedCV{
		OriginalCVID:            cv.ID,
		JobTitle:                req.JobTitle,
		JobDescription:          req.JobDescription,
		OptimizedData:           data,
		MatchScore:              parser.PlaceholderMatchScore,
		JobDescriptionEmbedding: models.VectorToJSON(s.embedAll(ctx, req.JobDescription)[0]),
	}
	if err := s.cvs.CreateOptimized(ctx, opt); err != nil {
		return nil, err
	}
	s.logger.Info().Uint("cv_id", cv.ID).Uint("optimized_id", opt.ID).Str("job_title", req.JobTitle).Msg("简历优化已保存")
	return opt, nil
}

// GetOptimized 按ID获取优化版本
func (s *CVService) GetOptimized(ctx context.Context, id uint) (*models.OptimizedCV, error) {
	opt, err := s.cvs.GetOptimized(ctx, id)
	if err != nil {
		return nil, mapNotFound("get_optimized", id, err)
	}
	return opt, nil
}

// ListOptimized 列出某份简历的全部优化版本
func (s *CVService) ListOptimized(ctx context.Context, cvID uint) ([]models.OptimizedCV, error) {
	if _, err := s.Get(ctx, cvID); err != nil {
		return nil, err
	}
	return s.cvs.ListOptimized(ctx, cvID)
}

// DecodeOptimized 把保存的优化结果还原成结构化简历
func DecodeOptimized(opt *models.OptimizedCV) (*types.CVStructure, error) {
	var cv types.CVStructure
	if err := json.Unmarshal(opt.OptimizedData, &cv); err != nil {
		return nil, fmt.Errorf("解析优化简历 %d 失败: %w", opt.ID, err)
	}
	return &cv, nil
}

func mapNotFound(op string, id uint, err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return newProcessError(op, "", ErrCVNotFound, nil, "id=%d", id)
	}
	return err
}

func uploadErrorType(err error) tracing.ErrorType {
	switch {
	case errors.Is(err, ErrUnsupportedFile), errors.Is(err, ErrFileTooLarge), errors.Is(err, ErrEmptyFile), errors.Is(err, ErrDuplicateCV):
		return tracing.ErrorTypeValidation
	case errors.Is(err, ErrExtractFailed), errors.Is(err, ErrStructureFailed):
		return tracing.ErrorTypeLLM
	default:
		return tracing.ErrorTypeDB
	}
}
