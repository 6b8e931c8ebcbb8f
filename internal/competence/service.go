package competence

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"competence-bank/internal/constants"
	applog "competence-bank/internal/logger"
	"competence-bank/internal/storage"
	"competence-bank/internal/storage/models"
	"competence-bank/internal/tracing"
	"competence-bank/internal/types"

	"github.com/cloudwego/eino/components/embedding"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Service 能力库编排：把简历并入技能集合与经历池，以及全量合并、重建、清空和手动维护。
// 所有写操作在进程内串行执行；配置了 Locker 时合并、重建、清空还会在进程间互斥。
type Service struct {
	bank *storage.BankStore
	cvs  *storage.CVStore

	embedder     embedding.Embedder
	embedTimeout time.Duration
	locker       Locker
	lockTTL      time.Duration

	tracer trace.Tracer
	mu     sync.Mutex
}

// NewService 创建能力库服务
func NewService(db *gorm.DB, opts ...Option) *Service {
	s := &Service{
		bank:         storage.NewBankStore(db),
		cvs:          storage.NewCVStore(db),
		embedTimeout: defaultEmbedTimeout,
		lockTTL:      defaultLockTTL,
		tracer:       otel.Tracer("competence-bank/competence"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// MergeCV 在一个事务中把一份简历并入能力库，出错时整体回滚。
// 其他进程正持有能力库锁时返回 ErrBankBusy。
func (s *Service) MergeCV(ctx context.Context, cvID uint) (*MergeOutcome, error) {
	var outcome *MergeOutcome
	err := s.withBankLock(ctx, "MergeCV", func() error {
		var err error
		outcome, err = s.mergeCV(ctx, cvID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return outcome, nil
}

func (s *Service) mergeCV(ctx context.Context, cvID uint) (*MergeOutcome, error) {
	const op = "MergeCV"
	ctx = applog.WithCVID(ctx, cvID)
	ctx, span := s.tracer.Start(ctx, "competence.MergeCV",
		trace.WithAttributes(attribute.Int64("cv.id", int64(cvID))))
	defer span.End()
	start := time.Now()

	cv, err := s.cvs.Get(ctx, cvID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFound(op, "简历 %d 不存在", cvID)
		}
		tracing.RecordError(span, err, tracing.ErrorTypeDB)
		return nil, err
	}
	structure, err := cv.Structure()
	if err != nil {
		return nil, &BankError{Op: op, BaseErr: ErrInvalidArgument, Detail: "结构化数据无法解析", Cause: err}
	}

	var outcome *MergeOutcome
	err = s.bank.Transaction(ctx, func(bank *storage.BankStore) error {
		var txErr error
		outcome, txErr = s.mergeStructure(ctx, bank, cv, structure)
		return txErr
	})
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeDB)
		applog.FromContext(ctx).Error().Err(err).Msg("合并简历失败，事务已回滚")
		return nil, fmt.Errorf("合并简历 %d 失败: %w", cvID, err)
	}

	outcome.ProcessingTimeSeconds = time.Since(start).Seconds()
	span.SetAttributes(
		attribute.Int("competence.skills_added", outcome.SkillsAdded),
		attribute.Int("competence.experiences_added", outcome.ExperiencesAdded),
		attribute.Int("competence.links_created", outcome.LinksCreated),
	)
	applog.FromContext(ctx).Info().
		Int("skills_added", outcome.SkillsAdded).
		Int("skills_duplicate", outcome.SkillsDuplicate).
		Int("experiences_added", outcome.ExperiencesAdded).
		Int("experiences_merged", outcome.ExperiencesMerged).
		Int("duplicates_skipped", outcome.DuplicatesSkipped).
		Int("links_created", outcome.LinksCreated).
		Float64("seconds", outcome.ProcessingTimeSeconds).
		Msg("简历已并入能力库")
	return outcome, nil
}

// mergeStructure 在给定事务内合并一份简历：技能、经历、证据关联、来源记录
func (s *Service) mergeStructure(ctx context.Context, bank *storage.BankStore, cv *models.CV, structure *types.CVStructure) (*MergeOutcome, error) {
	outcome := &MergeOutcome{
		CVID:     cv.ID,
		CVName:   cv.DisplayName(structure),
		Warnings: []string{},
	}

	names := collectCVSkills(structure)
	skills := make([]*models.Skill, 0, len(names))
	for _, name := range names {
		skill, isNew, err := s.upsertSkill(ctx, bank, name, cv.ID)
		if err != nil {
			return nil, err
		}
		if skill == nil {
			continue
		}
		skills = append(skills, skill)
		if isNew {
			outcome.SkillsAdded++
		} else {
			outcome.SkillsDuplicate++
		}
	}

	inputs := experienceInputs(structure)
	experiences := make([]*models.Experience, 0, len(inputs))
	for _, in := range inputs {
		exp, isNew, changed, err := s.upsertExperience(ctx, bank, in, cv.ID)
		if err != nil {
			return nil, err
		}
		experiences = append(experiences, exp)
		switch {
		case isNew:
			outcome.ExperiencesAdded++
		case changed:
			outcome.ExperiencesMerged++
		default:
			outcome.DuplicatesSkipped++
		}
	}

	if len(names) == 0 && len(inputs) == 0 {
		outcome.Warnings = append(outcome.Warnings, "简历中没有可合并的技能或经历")
	}

	links, err := linkEvidence(ctx, bank, skills, experiences)
	if err != nil {
		return nil, err
	}
	outcome.LinksCreated = links

	err = bank.UpsertSourceDocument(ctx, &models.SourceDocument{
		DocumentType:         "cv",
		CVID:                 cv.ID,
		OriginalFilename:     cv.Filename,
		SkillsExtracted:      outcome.SkillsAdded + outcome.SkillsDuplicate,
		ExperiencesExtracted: outcome.ExperiencesAdded + outcome.ExperiencesMerged + outcome.DuplicatesSkipped,
		ProcessingStatus:     "completed",
	})
	if err != nil {
		return nil, err
	}

	outcome.Success = true
	return outcome, nil
}

// MergeAll 按ID顺序逐份合并全部简历，每份一个事务。
// 单份失败记录在结果中并继续，失败的简历不计入合计。
func (s *Service) MergeAll(ctx context.Context) (*BatchOutcome, error) {
	var batch *BatchOutcome
	err := s.withBankLock(ctx, "MergeAll", func() error {
		ids, err := s.cvs.ListIDs(ctx)
		if err != nil {
			return err
		}
		batch = &BatchOutcome{Results: make([]MergeOutcome, 0, len(ids))}
		for _, id := range ids {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			outcome, err := s.mergeCV(ctx, id)
			if err != nil {
				outcome = &MergeOutcome{CVID: id, Error: err.Error()}
			}
			batch.add(outcome)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	applog.FromContext(ctx).Info().
		Int("processed", batch.Processed).
		Int("succeeded", batch.Succeeded).
		Int("failed", batch.Failed).
		Msg("全量合并完成")
	return batch, nil
}

// Rebuild 在一个事务中清空能力库并按ID顺序重新合并所有剩余简历。
// 结构化数据损坏的简历记为失败并跳过，数据库错误导致整体回滚。
func (s *Service) Rebuild(ctx context.Context) (*BatchOutcome, error) {
	var batch *BatchOutcome
	err := s.withBankLock(ctx, "Rebuild", func() error {
		ctx, span := s.tracer.Start(ctx, "competence.Rebuild")
		defer span.End()

		err := s.bank.Transaction(ctx, func(bank *storage.BankStore) error {
			if _, err := clearBank(ctx, bank); err != nil {
				return err
			}
			cvs := s.cvs.WithTx(bank.DB())
			ids, err := cvs.ListIDs(ctx)
			if err != nil {
				return err
			}
			batch = &BatchOutcome{Results: make([]MergeOutcome, 0, len(ids))}
			for _, id := range ids {
				start := time.Now()
				cv, err := cvs.Get(ctx, id)
				if err != nil {
					return err
				}
				structure, err := cv.Structure()
				if err != nil {
					batch.add(&MergeOutcome{CVID: id, CVName: cv.DisplayName(nil), Error: err.Error()})
					continue
				}
				outcome, err := s.mergeStructure(applog.WithCVID(ctx, id), bank, cv, structure)
				if err != nil {
					return err
				}
				outcome.ProcessingTimeSeconds = time.Since(start).Seconds()
				batch.add(outcome)
			}
			return nil
		})
		if err != nil {
			tracing.RecordError(span, err, tracing.ErrorTypeDB)
			return err
		}
		span.SetAttributes(attribute.Int("competence.cvs_processed", batch.Processed))
		return nil
	})
	if err != nil {
		return nil, err
	}
	applog.FromContext(ctx).Info().
		Int("processed", batch.Processed).
		Int("failed", batch.Failed).
		Int("skills_added", batch.SkillsAdded).
		Int("experiences_added", batch.ExperiencesAdded).
		Msg("能力库已重建")
	return batch, nil
}

// Clear 删除全部技能、经历、证据关联与来源记录，简历本身不受影响
func (s *Service) Clear(ctx context.Context) (*ClearOutcome, error) {
	var out *ClearOutcome
	err := s.inBankTx(ctx, "Clear", func(bank *storage.BankStore) error {
		var err error
		out, err = clearBank(ctx, bank)
		return err
	})
	if err != nil {
		return nil, err
	}
	applog.FromContext(ctx).Warn().
		Int64("skills_deleted", out.SkillsDeleted).
		Int64("experiences_deleted", out.ExperiencesDeleted).
		Msg("能力库已清空")
	return out, nil
}

func clearBank(ctx context.Context, bank *storage.BankStore) (*ClearOutcome, error) {
	if _, err := bank.DeleteAllEvidence(ctx); err != nil {
		return nil, err
	}
	if _, err := bank.DeleteAllMergeKeyAliases(ctx); err != nil {
		return nil, err
	}
	skills, err := bank.DeleteAllSkills(ctx)
	if err != nil {
		return nil, err
	}
	exps, err := bank.DeleteAllExperiences(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := bank.DeleteAllSourceDocuments(ctx); err != nil {
		return nil, err
	}
	return &ClearOutcome{SkillsDeleted: skills, ExperiencesDeleted: exps}, nil
}

// MergeRecords 把多条经历手动合并到第一条上。
// 其余经历被删除，它们的证据关联转移到保留的经历。
// 合并前各条经历的合并键保留为别名，之后再合并同样的简历经历仍落到保留的经历上。
func (s *Service) MergeRecords(ctx context.Context, ids []uint) (*models.Experience, error) {
	const op = "MergeRecords"
	if len(ids) < 2 {
		return nil, invalidArgument(op, "至少需要两条经历，实际 %d 条", len(ids))
	}

	var base *models.Experience
	err := s.inBankTx(ctx, op, func(bank *storage.BankStore) error {
		exps, err := bank.GetExperiencesByIDs(ctx, ids)
		if err != nil {
			return err
		}
		if len(exps) < 2 {
			return notFound(op, "只找到 %d 条经历，至少需要两条", len(exps))
		}

		base = &exps[0]
		others := exps[1:]
		otherIDs := make([]uint, 0, len(others))
		aliases := []string{base.MergeKey}
		for i := range others {
			absorbExperience(base, &others[i])
			otherIDs = append(otherIDs, others[i].ID)
			aliases = append(aliases, others[i].MergeKey)
		}
		base.MergeKey = MergeKey(base.ExperienceType, base.Title, base.Organization, base.StartDate)

		if err := bank.ReassignEvidence(ctx, otherIDs, base.ID); err != nil {
			return err
		}
		if err := bank.ReassignMergeKeys(ctx, otherIDs, base.ID); err != nil {
			return err
		}
		if _, err := bank.DeleteExperiences(ctx, otherIDs...); err != nil {
			return err
		}
		if err := bank.SaveExperience(ctx, base); err != nil {
			return err
		}
		return bank.AddMergeKeyAliases(ctx, base.ID, withoutKey(aliases, base.MergeKey)...)
	})
	if err != nil {
		return nil, err
	}
	applog.FromContext(ctx).Info().Uint("base_id", base.ID).Int("merged", len(ids)-1).Msg("经历已手动合并")
	return base, nil
}

// absorbExperience 把 other 并入 base。
// 标题与机构取较长者，开始时间取较早者，结束时间取较晚者，日期按字符串比较。
func absorbExperience(base, other *models.Experience) {
	base.Description = MergeText(base.Description, other.Description)
	base.RelatedSkills = MergeLists(base.RelatedSkills, other.RelatedSkills)
	base.Achievements = MergeLists(base.Achievements, other.Achievements)
	base.SourceCVIDs = unionIDs(base.SourceCVIDs, other.SourceCVIDs)

	if runeLen(other.Title) > runeLen(base.Title) {
		base.Title = other.Title
	}
	if runeLen(other.Organization) > runeLen(base.Organization) {
		base.Organization = other.Organization
	}
	if base.Location == "" {
		base.Location = other.Location
	}
	if other.StartDate != "" && (base.StartDate == "" || other.StartDate < base.StartDate) {
		base.StartDate = other.StartDate
	}
	if other.EndDate > base.EndDate {
		base.EndDate = other.EndDate
	}
	base.IsCurrent = base.IsCurrent || other.IsCurrent
	if other.ConfidenceScore > base.ConfidenceScore {
		base.ConfidenceScore = other.ConfidenceScore
	}
}

// withoutKey 去掉与 key 相同的项和重复项
func withoutKey(keys []string, key string) []string {
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if k != key && !containsString(out, k) {
			out = append(out, k)
		}
	}
	return out
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func runeLen(s string) int {
	return len([]rune(s))
}

// withBankLock 能力库写操作：进程内互斥，配置了 Locker 时再加分布式锁
func (s *Service) withBankLock(ctx context.Context, op string, fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.locker == nil {
		return fn()
	}

	token, err := s.locker.AcquireLock(ctx, constants.KeyBankRebuildLock, s.lockTTL)
	if err != nil {
		// Redis不可用时只靠进程内互斥
		applog.FromContext(ctx).Warn().Err(err).Str("op", op).Msg("获取能力库分布式锁失败，仅使用进程内锁")
		return fn()
	}
	if token == "" {
		return busy(op)
	}
	defer func() {
		// 业务上下文可能已取消，释放锁用独立的上下文
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := s.locker.ReleaseLock(releaseCtx, constants.KeyBankRebuildLock, token); err != nil {
			applog.FromContext(ctx).Warn().Err(err).Str("op", op).Msg("释放能力库分布式锁失败")
		}
	}()
	return fn()
}

// inBankTx 持有能力库锁执行一个事务
func (s *Service) inBankTx(ctx context.Context, op string, fn func(bank *storage.BankStore) error) error {
	return s.withBankLock(ctx, op, func() error {
		return s.bank.Transaction(ctx, fn)
	})
}

// embed 生成向量，失败只记录警告并返回nil
func (s *Service) embed(ctx context.Context, text string) datatypes.JSON {
	if s.embedder == nil || strings.TrimSpace(text) == "" {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.embedTimeout)
	defer cancel()

	vectors, err := s.embedder.EmbedStrings(ctx, []string{text})
	if err != nil || len(vectors) == 0 {
		applog.FromContext(ctx).Warn().Err(err).Str("text", tracing.TruncateString(text, 50)).Msg("生成向量失败，跳过")
		return nil
	}
	return models.VectorToJSON(vectors[0])
}
