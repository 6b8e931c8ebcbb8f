package processor

import (
	"context"

	"competence-bank/internal/competence"
	"competence-bank/internal/types"
)

// TextExtractor 从原始文件中提取纯文本
type TextExtractor interface {
	ExtractText(ctx context.Context, data []byte, uri string) (string, error)
}

// Structurer 把简历文本转成结构化数据
type Structurer interface {
	Structure(ctx context.Context, text string) (*types.CVStructure, error)
}

// Optimizer 针对岗位改写结构化简历
type Optimizer interface {
	Optimize(ctx context.Context, cv *types.CVStructure, jobTitle, jobDescription string) (*types.CVStructure, error)
}

// Deduper 上传文件的MD5登记，由Redis实现
type Deduper interface {
	CheckAndSetMD5(ctx context.Context, md5Hex, cvUUID string) (bool, string, error)
	RemoveFileMD5(ctx context.Context, md5Hex string) error
}

// BankMerger 能力库中与简历生命周期相关的操作
type BankMerger interface {
	MergeCV(ctx context.Context, cvID uint) (*competence.MergeOutcome, error)
	Rebuild(ctx context.Context) (*competence.BatchOutcome, error)
}

var _ BankMerger = (*competence.Service)(nil)
