package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"competence-bank/internal/config"

	"github.com/cloudwego/eino/components/embedding"
	"github.com/rs/zerolog"
)

const (
	defaultEmbeddingURL   = "https://api.openai.com/v1/embeddings"
	defaultEmbeddingModel = "text-embedding-3-small"
	// 单次请求最多携带的文本数
	embedBatchSize = 16
)

// Embedder OpenAI兼容 embeddings 接口的 embedding.Embedder 实现
type Embedder struct {
	apiKey     string
	model      string
	dimensions int
	baseURL    string
	httpClient *http.Client
	limiter    *TokenBucket
	logger     zerolog.Logger
}

// EmbedderOption Embedder 配置
type EmbedderOption func(*Embedder)

// WithEmbedHTTPClient 自定义HTTP客户端
func WithEmbedHTTPClient(c *http.Client) EmbedderOption {
	return func(e *Embedder) {
		e.httpClient = c
	}
}

// WithEmbedLimiter 与聊天模型共用令牌桶
func WithEmbedLimiter(tb *TokenBucket) EmbedderOption {
	return func(e *Embedder) {
		e.limiter = tb
	}
}

// WithEmbedLogger 日志实例
func WithEmbedLogger(l zerolog.Logger) EmbedderOption {
	return func(e *Embedder) {
		e.logger = l
	}
}

// NewEmbedder 从 embedding 配置创建
func NewEmbedder(apiKey string, cfg config.EmbeddingConfig, opts ...EmbedderOption) (*Embedder, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("API密钥不能为空")
	}
	e := &Embedder{
		apiKey:     apiKey,
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
		baseURL:    cfg.BaseURL,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		logger:     zerolog.Nop(),
	}
	if e.model == "" {
		e.model = defaultEmbeddingModel
	}
	if e.baseURL == "" {
		e.baseURL = defaultEmbeddingURL
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With().Str("component", "embedder").Str("model", e.model).Logger()
	return e, nil
}

// Dimensions 配置的向量维度，0表示由服务端决定
func (e *Embedder) Dimensions() int {
	return e.dimensions
}

type embeddingRequest struct {
	Input          []string `json:"input"`
	Model          string   `json:"model"`
	Dimensions     int      `json:"dimensions,omitempty"`
	EncodingFormat string   `json:"encoding_format,omitempty"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float64 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Usage struct {
		PromptTokens int `json:"prompt_tokens"`
		TotalTokens  int `json:"total_tokens"`
	} `json:"usage"`
	Error *apiError `json:"error,omitempty"`
}

// EmbedStrings 实现 embedding.Embedder，结果顺序与输入一致
func (e *Embedder) EmbedStrings(ctx context.Context, texts []string, opts ...embedding.Option) ([][]float64, error) {
	options := embedding.GetCommonOptions(&embedding.Options{}, opts...)
	modelName := e.model
	if options.Model != nil && *options.Model != "" {
		modelName = *options.Model
	}

	out := make([][]float64, 0, len(texts))
	for start := 0; start < len(texts); start += embedBatchSize {
		end := start + embedBatchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch, err := e.embedBatch(ctx, modelName, texts[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, batch...)
	}
	return out, nil
}

func (e *Embedder) embedBatch(ctx context.Context, modelName string, texts []string) ([][]float64, error) {
	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	body, err := json.Marshal(embeddingRequest{
		Input:          texts,
		Model:          modelName,
		Dimensions:     e.dimensions,
		EncodingFormat: "float",
	})
	if err != nil {
		return nil, fmt.Errorf("序列化请求失败: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("创建HTTP请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.apiKey)

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("发送HTTP请求失败: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("读取响应体失败: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: string(raw)}
	}

	var parsed embeddingResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("解析响应JSON失败: %w", err)
	}
	if parsed.Error != nil && parsed.Error.Message != "" {
		return nil, fmt.Errorf("API返回错误: 类型=%s, 消息=%s", parsed.Error.Type, parsed.Error.Message)
	}
	if len(parsed.Data) != len(texts) {
		return nil, fmt.Errorf("返回向量数 %d 与输入文本数 %d 不一致", len(parsed.Data), len(texts))
	}

	sort.Slice(parsed.Data, func(i, j int) bool { return parsed.Data[i].Index < parsed.Data[j].Index })
	vectors := make([][]float64, len(parsed.Data))
	for i, d := range parsed.Data {
		vectors[i] = d.Embedding
	}

	e.logger.Debug().
		Int("texts", len(texts)).
		Int("dim", len(vectors[0])).
		Int("total_tokens", parsed.Usage.TotalTokens).
		Msg("向量生成完成")
	return vectors, nil
}

var _ embedding.Embedder = (*Embedder)(nil)
