package processor

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"competence-bank/internal/competence"
	"competence-bank/internal/config"
	"competence-bank/internal/parser"
	"competence-bank/internal/storage"
	"competence-bank/internal/storage/models"
	"competence-bank/internal/types"

	"github.com/cloudwego/eino/components/embedding"
	"github.com/glebarez/sqlite"
	"github.com/gofrs/uuid/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type fakeExtractor struct {
	err error
}

func (f *fakeExtractor) ExtractText(_ context.Context, data []byte, _ string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return string(data), nil
}

type fakeStructurer struct {
	byText map[string]*types.CVStructure
	err    error
}

func (f *fakeStructurer) Structure(_ context.Context, text string) (*types.CVStructure, error) {
	if f.err != nil {
		return nil, f.err
	}
	if s, ok := f.byText[text]; ok {
		return s, nil
	}
	return &types.CVStructure{}, nil
}

type fakeOptimizer struct {
	err error
}

func (f *fakeOptimizer) Optimize(_ context.Context, cv *types.CVStructure, jobTitle, _ string) (*types.CVStructure, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := *cv
	out.Summary = "Tailored for " + jobTitle
	return &out, nil
}

type fakeDedup struct {
	mu      sync.Mutex
	seen    map[string]string
	removed []string
	err     error
}

func (f *fakeDedup) CheckAndSetMD5(_ context.Context, md5Hex, cvUUID string) (bool, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return false, "", f.err
	}
	if f.seen == nil {
		f.seen = map[string]string{}
	}
	if existing, ok := f.seen[md5Hex]; ok {
		return true, existing, nil
	}
	f.seen[md5Hex] = cvUUID
	return false, "", nil
}

func (f *fakeDedup) RemoveFileMD5(_ context.Context, md5Hex string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.seen, md5Hex)
	f.removed = append(f.removed, md5Hex)
	return nil
}

type countingEmbedder struct {
	calls  int
	inputs []string
	err    error
}

func (e *countingEmbedder) EmbedStrings(_ context.Context, texts []string, _ ...embedding.Option) ([][]float64, error) {
	e.calls++
	e.inputs = append(e.inputs, texts...)
	if e.err != nil {
		return nil, e.err
	}
	out := make([][]float64, len(texts))
	for i := range texts {
		out[i] = []float64{float64(i)}
	}
	return out, nil
}

type testEnv struct {
	svc      *CVService
	db       *gorm.DB
	bank     *competence.Service
	dir      string
	dedup    *fakeDedup
	embedder *countingEmbedder
	structs  *fakeStructurer
}

func newTestEnv(t *testing.T, mutate func(*Deps)) *testEnv {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(models.AllModels()...))

	dir := t.TempDir()
	files, err := storage.NewLocalFiles(dir)
	require.NoError(t, err)

	env := &testEnv{
		db:       db,
		bank:     competence.NewService(db),
		dir:      dir,
		dedup:    &fakeDedup{},
		embedder: &countingEmbedder{},
		structs:  &fakeStructurer{byText: map[string]*types.CVStructure{}},
	}
	deps := Deps{
		Upload:           config.UploadConfig{MaxSizeMB: 1, AllowedExt: []string{".pdf"}},
		CVs:              storage.NewCVStore(db),
		Files:            files,
		Dedup:            env.dedup,
		Extractor:        &fakeExtractor{},
		Structurer:       env.structs,
		Optimizer:        &fakeOptimizer{},
		Embedder:         env.embedder,
		Bank:             env.bank,
		EventsExchange:   "cv.events",
		EventsRoutingKey: "cv.uploaded",
		Logger:           zerolog.Nop(),
	}
	if mutate != nil {
		mutate(&deps)
	}
	env.svc, err = NewCVService(deps)
	require.NoError(t, err)
	return env
}

func (e *testEnv) fileCount(t *testing.T) int {
	t.Helper()
	n := 0
	require.NoError(t, filepath.Walk(e.dir, func(_ string, info os.FileInfo, err error) error {
		if err == nil && !info.IsDir() {
			n++
		}
		return err
	}))
	return n
}

func TestUpload_StoresCVAndEvent(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	env.structs.byText["anna cv"] = &types.CVStructure{
		PersonalInfo: types.PersonalInfo{FullName: "Anna"},
		Summary:      "Backend developer",
		Skills:       []string{"Go", "Docker"},
	}

	cv, err := env.svc.Upload(ctx, UploadRequest{Filename: "anna.PDF", Title: "  Anna 2024 ", Data: []byte("anna cv")})
	require.NoError(t, err)
	assert.NotZero(t, cv.ID)
	assert.Len(t, cv.UUID, 36)
	assert.Equal(t, "Anna 2024", cv.Title)
	assert.Equal(t, "anna.PDF", cv.Filename)
	assert.Equal(t, storage.CVObjectKey(cv.UUID, ".pdf"), cv.ObjectKey)

	stored, err := env.svc.Get(ctx, cv.ID)
	require.NoError(t, err)
	structure, err := stored.Structure()
	require.NoError(t, err)
	assert.Equal(t, []string{"Go", "Docker"}, structure.Skills)
	assert.Equal(t, "anna cv", stored.OriginalText)
	assert.NotEmpty(t, stored.FullContentEmbedding)
	assert.NotEmpty(t, stored.SummaryEmbedding)
	assert.NotEmpty(t, stored.SkillsEmbedding)
	assert.Equal(t, 1, env.embedder.calls)
	assert.Equal(t, []string{"anna cv", "Backend developer", "Go, Docker"}, env.embedder.inputs)

	var events []models.OutboxMessage
	require.NoError(t, env.db.Find(&events).Error)
	require.Len(t, events, 1)
	assert.Equal(t, "cv.uploaded", events[0].EventType)
	assert.Equal(t, "cv.events", events[0].TargetExchange)
	assert.Equal(t, cv.UUID, events[0].AggregateID)
	assert.Contains(t, events[0].Payload, `"cv_id":`)

	assert.Equal(t, 1, env.fileCount(t))
}

func TestUpload_Validation(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	_, err := env.svc.Upload(ctx, UploadRequest{Filename: "cv.docx", Data: []byte("x")})
	assert.ErrorIs(t, err, ErrUnsupportedFile)

	_, err = env.svc.Upload(ctx, UploadRequest{Filename: "cv.pdf"})
	assert.ErrorIs(t, err, ErrEmptyFile)

	_, err = env.svc.Upload(ctx, UploadRequest{Filename: "cv.pdf", Data: bytes.Repeat([]byte("a"), 1024*1024+1)})
	assert.ErrorIs(t, err, ErrFileTooLarge)

	assert.Zero(t, env.fileCount(t))
}

func TestUpload_DuplicateFile(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	first, err := env.svc.Upload(ctx, UploadRequest{Filename: "a.pdf", Data: []byte("same bytes")})
	require.NoError(t, err)

	_, err = env.svc.Upload(ctx, UploadRequest{Filename: "b.pdf", Data: []byte("same bytes")})
	require.ErrorIs(t, err, ErrDuplicateCV)
	var dup *DuplicateError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, first.ID, dup.ExistingID)
}

func TestUpload_DuplicateSeenByDedupOnly(t *testing.T) {
	env := newTestEnv(t, nil)
	data := []byte("fresh bytes")
	sum := md5.Sum(data)
	env.dedup.seen = map[string]string{hex.EncodeToString(sum[:]): "uuid-in-flight"}

	_, err := env.svc.Upload(context.Background(), UploadRequest{Filename: "a.pdf", Data: data})
	require.ErrorIs(t, err, ErrDuplicateCV)
	var dup *DuplicateError
	require.ErrorAs(t, err, &dup)
	assert.Zero(t, dup.ExistingID)
	assert.Equal(t, "uuid-in-flight", dup.ExistingUUID)
	assert.Zero(t, env.fileCount(t))
	// 别人的登记不能被撤销
	assert.Empty(t, env.dedup.removed)
}

func TestUpload_DedupEntryResolvedFromDatabase(t *testing.T) {
	env := newTestEnv(t, nil)
	stored := &models.CV{UUID: "0190d5a4-0000-7000-8000-0000000000aa", Filename: "old.pdf", StructuredData: []byte(`{}`)}
	require.NoError(t, env.db.Create(stored).Error)

	data := []byte("same bytes, md5 column empty")
	sum := md5.Sum(data)
	env.dedup.seen = map[string]string{hex.EncodeToString(sum[:]): stored.UUID}

	_, err := env.svc.Upload(context.Background(), UploadRequest{Filename: "a.pdf", Data: data})
	var dup *DuplicateError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, stored.ID, dup.ExistingID)
	assert.Equal(t, stored.UUID, dup.ExistingUUID)
	assert.Empty(t, env.dedup.removed)
}

func TestUpload_StaleDedupEntryIsReclaimed(t *testing.T) {
	env := newTestEnv(t, nil)
	gen := uuid.NewGenWithOptions(uuid.WithEpochFunc(func() time.Time {
		return time.Now().Add(-2 * time.Hour)
	}))
	crashed, err := gen.NewV7()
	require.NoError(t, err)

	data := []byte("uploaded before a crash")
	sum := md5.Sum(data)
	md5Hex := hex.EncodeToString(sum[:])
	env.dedup.seen = map[string]string{md5Hex: crashed.String()}

	cv, err := env.svc.Upload(context.Background(), UploadRequest{Filename: "a.pdf", Data: data})
	require.NoError(t, err)
	assert.Equal(t, []string{md5Hex}, env.dedup.removed)
	assert.Equal(t, cv.UUID, env.dedup.seen[md5Hex])
}

func TestStaleUpload(t *testing.T) {
	now := time.Now()
	fresh, err := uuid.NewV7()
	require.NoError(t, err)
	assert.False(t, staleUpload(fresh.String(), now))
	assert.True(t, staleUpload(fresh.String(), now.Add(staleUploadAfter+time.Minute)))

	v4, err := uuid.NewV4()
	require.NoError(t, err)
	assert.False(t, staleUpload(v4.String(), now.Add(24*time.Hour)))
	assert.False(t, staleUpload("uuid-in-flight", now))
}

func TestUpload_RollsBackOnStructureFailure(t *testing.T) {
	env := newTestEnv(t, nil)
	env.structs.err = errors.New("model unavailable")

	_, err := env.svc.Upload(context.Background(), UploadRequest{Filename: "a.pdf", Data: []byte("cv text")})
	require.ErrorIs(t, err, ErrStructureFailed)
	assert.Contains(t, err.Error(), "model unavailable")

	assert.Zero(t, env.fileCount(t))
	assert.Len(t, env.dedup.removed, 1)
	assert.Empty(t, env.dedup.seen)

	var count int64
	require.NoError(t, env.db.Model(&models.CV{}).Count(&count).Error)
	assert.Zero(t, count)

	// 失败后同一文件可以重新上传
	env.structs.err = nil
	_, err = env.svc.Upload(context.Background(), UploadRequest{Filename: "a.pdf", Data: []byte("cv text")})
	assert.NoError(t, err)
}

func TestUpload_ExtractFailure(t *testing.T) {
	env := newTestEnv(t, func(d *Deps) {
		d.Extractor = &fakeExtractor{err: parser.ErrEmptyDocument}
	})
	_, err := env.svc.Upload(context.Background(), UploadRequest{Filename: "scan.pdf", Data: []byte("%PDF")})
	assert.ErrorIs(t, err, ErrExtractFailed)
	assert.ErrorIs(t, err, parser.ErrEmptyDocument)
}

func TestUpload_EmbeddingIsBestEffort(t *testing.T) {
	env := newTestEnv(t, nil)
	env.embedder.err = errors.New("quota exceeded")

	cv, err := env.svc.Upload(context.Background(), UploadRequest{Filename: "a.pdf", Data: []byte("text")})
	require.NoError(t, err)
	assert.Empty(t, cv.FullContentEmbedding)
	assert.Empty(t, cv.SummaryEmbedding)
}

func TestUpload_WithoutEventsExchange(t *testing.T) {
	env := newTestEnv(t, func(d *Deps) {
		d.EventsExchange = ""
		d.Dedup = nil
		d.Embedder = nil
	})
	_, err := env.svc.Upload(context.Background(), UploadRequest{Filename: "a.pdf", Data: []byte("text")})
	require.NoError(t, err)

	var count int64
	require.NoError(t, env.db.Model(&models.OutboxMessage{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestUpdateTitle(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	cv, err := env.svc.Upload(ctx, UploadRequest{Filename: "a.pdf", Data: []byte("text")})
	require.NoError(t, err)

	updated, err := env.svc.UpdateTitle(ctx, cv.ID, " Senior profile ")
	require.NoError(t, err)
	assert.Equal(t, "Senior profile", updated.Title)

	_, err = env.svc.UpdateTitle(ctx, cv.ID, "  ")
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = env.svc.UpdateTitle(ctx, 999, "x")
	assert.ErrorIs(t, err, ErrCVNotFound)
}

func TestDelete_RebuildsBank(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	env.structs.byText["cv a"] = &types.CVStructure{Skills: []string{"Go"}}
	env.structs.byText["cv b"] = &types.CVStructure{Skills: []string{"Rust"}}

	a, err := env.svc.Upload(ctx, UploadRequest{Filename: "a.pdf", Data: []byte("cv a")})
	require.NoError(t, err)
	_, err = env.svc.Upload(ctx, UploadRequest{Filename: "b.pdf", Data: []byte("cv b")})
	require.NoError(t, err)

	batch, err := env.bank.MergeAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, batch.SkillsAdded)

	result, err := env.svc.Delete(ctx, a.ID)
	require.NoError(t, err)
	require.NotNil(t, result.Rebuild)
	assert.Empty(t, result.RebuildError)
	assert.Equal(t, 1, result.Rebuild.Processed)

	var skills []models.Skill
	require.NoError(t, env.db.Find(&skills).Error)
	require.Len(t, skills, 1)
	assert.Equal(t, "Rust", skills[0].SkillName)

	_, err = os.Stat(filepath.Join(env.dir, filepath.FromSlash(a.ObjectKey)))
	assert.True(t, os.IsNotExist(err))
	assert.Contains(t, env.dedup.removed, a.FileMD5)

	_, err = env.svc.Delete(ctx, a.ID)
	assert.ErrorIs(t, err, ErrCVNotFound)
}

type busyBank struct{}

func (busyBank) MergeCV(context.Context, uint) (*competence.MergeOutcome, error) {
	return nil, &competence.BankError{Op: "MergeCV", BaseErr: competence.ErrBankBusy}
}

func (busyBank) Rebuild(context.Context) (*competence.BatchOutcome, error) {
	return nil, &competence.BankError{Op: "Rebuild", BaseErr: competence.ErrBankBusy}
}

func TestDelete_ReportsRebuildFailure(t *testing.T) {
	env := newTestEnv(t, func(d *Deps) { d.Bank = busyBank{} })
	ctx := context.Background()
	cv, err := env.svc.Upload(ctx, UploadRequest{Filename: "a.pdf", Data: []byte("text")})
	require.NoError(t, err)

	result, err := env.svc.Delete(ctx, cv.ID)
	require.NoError(t, err)
	assert.Nil(t, result.Rebuild)
	assert.NotEmpty(t, result.RebuildError)

	_, err = env.svc.Get(ctx, cv.ID)
	assert.ErrorIs(t, err, ErrCVNotFound)
}

func TestOptimize(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	env.structs.byText["cv"] = &types.CVStructure{Summary: "Original", Skills: []string{"Go"}}
	cv, err := env.svc.Upload(ctx, UploadRequest{Filename: "a.pdf", Data: []byte("cv")})
	require.NoError(t, err)

	opt, err := env.svc.Optimize(ctx, cv.ID, OptimizeRequest{JobTitle: "Go Developer", JobDescription: "Go, Kubernetes"})
	require.NoError(t, err)
	assert.Equal(t, parser.PlaceholderMatchScore, opt.MatchScore)
	assert.Equal(t, cv.ID, opt.OriginalCVID)
	assert.NotEmpty(t, opt.JobDescriptionEmbedding)

	decoded, err := DecodeOptimized(opt)
	require.NoError(t, err)
	assert.Equal(t, "Tailored for Go Developer", decoded.Summary)
	assert.Equal(t, []string{"Go"}, decoded.Skills)

	fetched, err := env.svc.GetOptimized(ctx, opt.ID)
	require.NoError(t, err)
	assert.Equal(t, "Go Developer", fetched.JobTitle)

	list, err := env.svc.ListOptimized(ctx, cv.ID)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	_, err = env.svc.GetOptimized(ctx, 999)
	assert.ErrorIs(t, err, ErrCVNotFound)
	_, err = env.svc.ListOptimized(ctx, 999)
	assert.ErrorIs(t, err, ErrCVNotFound)
	_, err = env.svc.Optimize(ctx, 999, OptimizeRequest{JobTitle: "x", JobDescription: "y"})
	assert.ErrorIs(t, err, ErrCVNotFound)
	_, err = env.svc.Optimize(ctx, cv.ID, OptimizeRequest{JobTitle: "x"})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestOptimize_LLMFailure(t *testing.T) {
	env := newTestEnv(t, func(d *Deps) { d.Optimizer = &fakeOptimizer{err: errors.New("boom")} })
	ctx := context.Background()
	cv, err := env.svc.Upload(ctx, UploadRequest{Filename: "a.pdf", Data: []byte("cv")})
	require.NoError(t, err)

	_, err = env.svc.Optimize(ctx, cv.ID, OptimizeRequest{JobTitle: "x", JobDescription: "y"})
	assert.ErrorIs(t, err, ErrOptimizeFailed)
}

func TestNewCVService_RequiresDeps(t *testing.T) {
	_, err := NewCVService(Deps{})
	assert.Error(t, err)
}
