package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"competence-bank/internal/tracing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog"
)

const (
	defaultChatURL   = "https://api.openai.com/v1/chat/completions"
	defaultChatModel = "gpt-4o-mini"
)

// ChatModel OpenAI兼容 chat/completions 接口的 eino 模型实现
type ChatModel struct {
	apiKey      string
	modelName   string
	apiURL      string
	temperature *float32
	jsonMode    bool
	httpClient  *http.Client
	tools       []chatTool
	logger      zerolog.Logger
}

// ChatOption 模型配置
type ChatOption func(*ChatModel)

// WithHTTPClient 自定义HTTP客户端
func WithHTTPClient(c *http.Client) ChatOption {
	return func(m *ChatModel) {
		m.httpClient = c
	}
}

// WithTemperature 采样温度
func WithTemperature(t float32) ChatOption {
	return func(m *ChatModel) {
		m.temperature = &t
	}
}

// WithJSONMode 要求模型只输出JSON对象
func WithJSONMode() ChatOption {
	return func(m *ChatModel) {
		m.jsonMode = true
	}
}

// WithLogger 日志实例
func WithLogger(l zerolog.Logger) ChatOption {
	return func(m *ChatModel) {
		m.logger = l
	}
}

// NewChatModel 创建模型，modelName与apiURL为空时使用默认值
func NewChatModel(apiKey, modelName, apiURL string, opts ...ChatOption) (*ChatModel, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("API 密钥不能为空")
	}
	if strings.TrimSpace(modelName) == "" {
		modelName = defaultChatModel
	}
	if strings.TrimSpace(apiURL) == "" {
		apiURL = defaultChatURL
	}
	m := &ChatModel{
		apiKey:     apiKey,
		modelName:  modelName,
		apiURL:     apiURL,
		httpClient: &http.Client{Timeout: 120 * time.Second},
		logger:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With().Str("component", "llm").Str("model", modelName).Logger()
	return m, nil
}

// ModelName 当前使用的模型
func (m *ChatModel) ModelName() string {
	return m.modelName
}

type chatMessage struct {
	Role       string         `json:"role"`
	Content    *string        `json:"content"`
	ToolCalls  []chatToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	Name       string         `json:"name,omitempty"`
}

type chatToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type chatTool struct {
	Type     string       `json:"type"`
	Function chatFunction `json:"function"`
}

type chatFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	Tools          []chatTool      `json:"tools,omitempty"`
	Temperature    *float32        `json:"temperature,omitempty"`
	MaxTokens      *int            `json:"max_tokens,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type chatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index        int         `json:"index"`
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
	Error *apiError `json:"error,omitempty"`
}

type apiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    any    `json:"code"`
}

// StatusError 非200响应
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("LLM API 请求失败，状态码 %d: %s", e.StatusCode, tracing.TruncateString(e.Body, 300))
}

// Generate 实现 model.BaseChatModel
func (m *ChatModel) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	common := model.GetCommonOptions(&model.Options{}, opts...)

	req := chatRequest{
		Model:       m.modelName,
		Messages:    toChatMessages(input),
		Tools:       m.tools,
		Temperature: m.temperature,
	}
	if common.Model != nil && *common.Model != "" {
		req.Model = *common.Model
	}
	if common.Temperature != nil {
		req.Temperature = common.Temperature
	}
	if common.MaxTokens != nil {
		req.MaxTokens = common.MaxTokens
	}
	if m.jsonMode {
		req.ResponseFormat = &responseFormat{Type: "json_object"}
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("序列化请求体失败: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, m.apiURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("创建 HTTP 请求失败: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+m.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	m.logger.Debug().Int("messages", len(req.Messages)).Int("tools", len(req.Tools)).Msg("发送LLM请求")

	resp, err := m.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("发送 HTTP 请求失败: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("读取响应体失败: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	var parsed chatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("反序列化 API 响应失败: %w", err)
	}
	if parsed.Error != nil && parsed.Error.Message != "" {
		return nil, fmt.Errorf("LLM API 返回错误 (%s): %s", parsed.Error.Type, parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return nil, fmt.Errorf("LLM API 返回空选项")
	}

	m.logger.Debug().
		Dur("elapsed", time.Since(start)).
		Int("prompt_tokens", parsed.Usage.PromptTokens).
		Int("completion_tokens", parsed.Usage.CompletionTokens).
		Str("finish_reason", parsed.Choices[0].FinishReason).
		Msg("收到LLM响应")

	return fromChatMessage(parsed.Choices[0].Message, parsed.Usage.PromptTokens, parsed.Usage.CompletionTokens, parsed.Choices[0].FinishReason), nil
}

// Stream 以单个分片的形式返回完整响应
func (m *ChatModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	msg, err := m.Generate(ctx, input, opts...)
	if err != nil {
		return nil, err
	}
	return schema.StreamReaderFromArray([]*schema.Message{msg}), nil
}

// WithTools 返回绑定了工具的新实例，原实例不变
func (m *ChatModel) WithTools(tools []*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	bound := make([]chatTool, 0, len(tools))
	for _, info := range tools {
		if info == nil {
			continue
		}
		params := json.RawMessage(`{"type":"object","properties":{}}`)
		if info.ParamsOneOf != nil {
			s, err := info.ParamsOneOf.ToOpenAPIV3()
			if err != nil {
				return nil, fmt.Errorf("转换工具 %s 的参数定义失败: %w", info.Name, err)
			}
			if s != nil {
				raw, err := json.Marshal(s)
				if err != nil {
					return nil, fmt.Errorf("序列化工具 %s 的参数定义失败: %w", info.Name, err)
				}
				params = raw
			}
		}
		bound = append(bound, chatTool{
			Type: "function",
			Function: chatFunction{
				Name:        info.Name,
				Description: info.Desc,
				Parameters:  params,
			},
		})
	}
	clone := *m
	clone.tools = bound
	return &clone, nil
}

func toChatMessages(input []*schema.Message) []chatMessage {
	out := make([]chatMessage, 0, len(input))
	for _, msg := range input {
		if msg == nil {
			continue
		}
		content := msg.Content
		cm := chatMessage{
			Role:       string(msg.Role),
			Content:    &content,
			ToolCallID: msg.ToolCallID,
			Name:       msg.Name,
		}
		for _, tc := range msg.ToolCalls {
			call := chatToolCall{ID: tc.ID, Type: "function"}
			call.Function.Name = tc.Function.Name
			call.Function.Arguments = tc.Function.Arguments
			cm.ToolCalls = append(cm.ToolCalls, call)
		}
		out = append(out, cm)
	}
	return out
}

func fromChatMessage(cm chatMessage, promptTokens, completionTokens int, finishReason string) *schema.Message {
	msg := &schema.Message{
		Role: schema.RoleType(cm.Role),
		ResponseMeta: &schema.ResponseMeta{
			FinishReason: finishReason,
			Usage: &schema.TokenUsage{
				PromptTokens:     promptTokens,
				CompletionTokens: completionTokens,
				TotalTokens:      promptTokens + completionTokens,
			},
		},
	}
	if cm.Content != nil {
		msg.Content = *cm.Content
	}
	if msg.Role == "" {
		msg.Role = schema.Assistant
	}
	for _, tc := range cm.ToolCalls {
		msg.ToolCalls = append(msg.ToolCalls, schema.ToolCall{
			ID:   tc.ID,
			Type: tc.Type,
			Function: schema.FunctionCall{
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			},
		})
	}
	return msg
}

var _ model.ToolCallingChatModel = (*ChatModel)(nil)
