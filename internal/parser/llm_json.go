package parser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"competence-bank/internal/llm"
	"competence-bank/internal/tracing"

	"github.com/cloudwego/eino/components/model"
	einoschema "github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog"
)

const (
	defaultCallTimeout = 60 * time.Second
	defaultMaxRetries  = 2
	defaultRetryDelay  = 2 * time.Second
)

var fencedJSON = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")

// ErrInvalidResponse 模型输出无法解析为期望的JSON
var ErrInvalidResponse = errors.New("LLM返回内容无法解析")

// jsonCaller 调用聊天模型并把回复解析成JSON，结构化和优化共用
type jsonCaller struct {
	model       model.ToolCallingChatModel
	name        string
	temperature float32
	callTimeout time.Duration
	maxRetries  int
	retryDelay  time.Duration
	logger      zerolog.Logger
}

func newJSONCaller(m model.ToolCallingChatModel, name string, temperature float32, logger zerolog.Logger) jsonCaller {
	return jsonCaller{
		model:       m,
		name:        name,
		temperature: temperature,
		callTimeout: defaultCallTimeout,
		maxRetries:  defaultMaxRetries,
		retryDelay:  defaultRetryDelay,
		logger:      logger.With().Str("component", name).Logger(),
	}
}

// callLLM 可重试错误按指数退避重试，每次调用单独计时
func (c *jsonCaller) callLLM(ctx context.Context, system, user string) (string, error) {
	messages := []*einoschema.Message{
		einoschema.SystemMessage(system),
		einoschema.UserMessage(user),
	}

	delay := c.retryDelay
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return "", fmt.Errorf("上下文已取消: %w", ctx.Err())
			case <-timer.C:
			}
			delay *= 2
			c.logger.Info().Int("attempt", attempt).Msg("重试LLM调用")
		}

		callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
		resp, err := c.model.Generate(callCtx, messages, model.WithTemperature(c.temperature))
		cancel()

		if err == nil {
			if resp == nil || strings.TrimSpace(resp.Content) == "" {
				return "", fmt.Errorf("%w: 空响应", ErrInvalidResponse)
			}
			c.logger.Debug().Str("response", tracing.TruncateString(resp.Content, 200)).Msg("收到LLM响应")
			return resp.Content, nil
		}

		lastErr = err
		if !isRetryableError(err) {
			break
		}
		c.logger.Warn().Err(err).Int("attempt", attempt).Msg("LLM调用失败")
	}
	return "", fmt.Errorf("LLM调用失败: %w", lastErr)
}

// decode 去BOM、抽取JSON对象后反序列化，失败时修复未转义的引号再试一次
func (c *jsonCaller) decode(content string, out any) error {
	content = strings.TrimPrefix(content, "\uFEFF")
	raw := extractJSON(content)
	if raw == "" {
		c.logger.Warn().Str("response", tracing.TruncateString(content, 500)).Msg("响应中没有JSON对象")
		return fmt.Errorf("%w: 未找到JSON对象", ErrInvalidResponse)
	}
	if !utf8.ValidString(raw) {
		raw = strings.ToValidUTF8(raw, "")
	}

	err := json.Unmarshal([]byte(raw), out)
	if err == nil {
		return nil
	}
	if fixErr := json.Unmarshal([]byte(sanitizeJSON(raw)), out); fixErr != nil {
		c.logger.Warn().Err(err).Str("json", tracing.TruncateString(raw, 500)).Msg("JSON解析失败")
		return fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	return nil
}

func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var se *llm.StatusError
	if errors.As(err, &se) {
		return se.StatusCode >= 500
	}
	msg := err.Error()
	for _, s := range []string{"timeout", "deadline exceeded", "connection reset", "EOF", "connection refused", "no such host"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// extractJSON 优先取代码块中的对象，否则按括号配对取第一个完整对象
func extractJSON(text string) string {
	if m := fencedJSON.FindStringSubmatch(text); len(m) > 1 {
		return strings.TrimSpace(m[1])
	}

	start := strings.Index(text, "{")
	if start == -1 {
		return ""
	}
	level := 0
	inStr, escaped := false, false
	for i := start; i < len(text); i++ {
		ch := text[i]
		switch {
		case escaped:
			escaped = false
		case ch == '\\' && inStr:
			escaped = true
		case ch == '"':
			inStr = !inStr
		case inStr:
		case ch == '{':
			level++
		case ch == '}':
			level--
			if level == 0 {
				return strings.TrimSpace(text[start : i+1])
			}
		}
	}
	return ""
}

// sanitizeJSON 把字符串内部未转义的双引号改写为 \"。
// 下一个非空白字符是 : , ] } 之一时才视为字符串结束。
func sanitizeJSON(src string) string {
	var b strings.Builder
	inStr, escaped := false, false
	for i := 0; i < len(src); i++ {
		c := src[i]
		switch {
		case c == '"' && !escaped:
			if !inStr {
				inStr = true
				b.WriteByte(c)
				continue
			}
			j := i + 1
			for j < len(src) && (src[j] == ' ' || src[j] == '\t' || src[j] == '\n' || src[j] == '\r') {
				j++
			}
			if j >= len(src) || strings.IndexByte(":,]}", src[j]) >= 0 {
				inStr = false
				b.WriteByte(c)
			} else {
				b.WriteString(`\"`)
			}
		case c == '\\' && !escaped:
			escaped = true
			b.WriteByte(c)
			continue
		default:
			b.WriteByte(c)
		}
		escaped = false
	}
	return b.String()
}
