package parser

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/document/parser/pdf"
	einoParser "github.com/cloudwego/eino/components/document/parser"
	"github.com/rs/zerolog"
)

const defaultExtractTimeout = 30 * time.Second

// ErrEmptyDocument PDF中没有可提取的文本，通常是扫描件
var ErrEmptyDocument = errors.New("PDF中没有可提取的文本")

// PDFExtractor 基于 eino PDF parser 的文本提取器
type PDFExtractor struct {
	parser  *pdf.PDFParser
	timeout time.Duration
	logger  zerolog.Logger
}

// PDFOption 提取器配置
type PDFOption func(*PDFExtractor)

// WithPDFLogger 日志实例
func WithPDFLogger(l zerolog.Logger) PDFOption {
	return func(e *PDFExtractor) {
		e.logger = l
	}
}

// WithExtractTimeout 单个文件的解析超时
func WithExtractTimeout(d time.Duration) PDFOption {
	return func(e *PDFExtractor) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// NewPDFExtractor 不按页切分，整份PDF输出为一段文本
func NewPDFExtractor(ctx context.Context, opts ...PDFOption) (*PDFExtractor, error) {
	p, err := pdf.NewPDFParser(ctx, &pdf.Config{ToPages: false})
	if err != nil {
		return nil, fmt.Errorf("创建 eino PDF parser 失败: %w", err)
	}
	e := &PDFExtractor{
		parser:  p,
		timeout: defaultExtractTimeout,
		logger:  zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With().Str("component", "pdf_extractor").Logger()
	return e, nil
}

// ExtractText 从上传的字节内容中提取纯文本
func (e *PDFExtractor) ExtractText(ctx context.Context, data []byte, uri string) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("文件 %s 为空", uri)
	}
	return e.ExtractFromReader(ctx, bytes.NewReader(data), uri)
}

// ExtractFromReader 多个文档时以空行拼接
func (e *PDFExtractor) ExtractFromReader(ctx context.Context, r io.Reader, uri string) (string, error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	docs, err := e.parser.Parse(ctx, r,
		einoParser.WithURI(uri),
		einoParser.WithExtraMeta(map[string]any{"source_uri": uri}),
	)
	if err != nil {
		e.logger.Warn().Err(err).Str("uri", uri).Dur("elapsed", time.Since(start)).Msg("PDF解析失败")
		return "", fmt.Errorf("解析PDF %s 失败: %w", uri, err)
	}

	parts := make([]string, 0, len(docs))
	for _, doc := range docs {
		if doc == nil {
			continue
		}
		if text := strings.TrimSpace(doc.Content); text != "" {
			parts = append(parts, text)
		}
	}
	text := strings.Join(parts, "\n\n")
	if text == "" {
		return "", fmt.Errorf("%s: %w", uri, ErrEmptyDocument)
	}

	e.logger.Info().
		Str("uri", uri).
		Int("documents", len(docs)).
		Int("chars", len([]rune(text))).
		Dur("elapsed", time.Since(start)).
		Msg("PDF文本提取完成")
	return text, nil
}
