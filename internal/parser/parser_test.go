package parser

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"competence-bank/internal/llm"
	"competence-bank/internal/types"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedModel 依次返回预设的回复或错误
type scriptedModel struct {
	mu        sync.Mutex
	replies   []string
	errs      []error
	calls     int
	lastInput []*schema.Message
	lastTemp  *float32
}

func (m *scriptedModel) Generate(_ context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := m.calls
	m.calls++
	m.lastInput = input
	m.lastTemp = model.GetCommonOptions(&model.Options{}, opts...).Temperature
	if i < len(m.errs) && m.errs[i] != nil {
		return nil, m.errs[i]
	}
	if i < len(m.replies) {
		return schema.AssistantMessage(m.replies[i], nil), nil
	}
	return schema.AssistantMessage(m.replies[len(m.replies)-1], nil), nil
}

func (m *scriptedModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	msg, err := m.Generate(ctx, input, opts...)
	if err != nil {
		return nil, err
	}
	return schema.StreamReaderFromArray([]*schema.Message{msg}), nil
}

func (m *scriptedModel) WithTools([]*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	return m, nil
}

const sampleCV = `{
  "personal_info": {"full_name": "Anna Svensson", "email": "anna@example.com"},
  "summary": "Backend developer.",
  "work_experience": [
    {"company": "Tech AB", "position": "Backend Developer", "start_date": "2020-01", "current": true,
     "achievements": ["Built APIs", " "], "technologies": ["Go", "PostgreSQL"]}
  ],
  "skills": ["Go", "", "Docker"],
  "languages": [{"language": "Swedish", "proficiency": "Native"}]
}`

func TestCVStructurer_Structure(t *testing.T) {
	m := &scriptedModel{replies: []string{"好的，结果如下：\n```json\n" + sampleCV + "\n```"}}
	s := NewCVStructurer(m, zerolog.Nop())

	cv, err := s.Structure(context.Background(), "Anna Svensson\nBackend Developer at Tech AB")
	require.NoError(t, err)
	assert.Equal(t, "Anna Svensson", cv.PersonalInfo.FullName)
	require.Len(t, cv.WorkExperience, 1)
	assert.True(t, cv.WorkExperience[0].Current)
	assert.Equal(t, []string{"Built APIs"}, cv.WorkExperience[0].Achievements)
	assert.Equal(t, []string{"Go", "Docker"}, cv.Skills)

	require.Len(t, m.lastInput, 2)
	assert.Equal(t, schema.System, m.lastInput[0].Role)
	assert.Contains(t, m.lastInput[1].Content, "Tech AB")
	require.NotNil(t, m.lastTemp)
	assert.InDelta(t, 0.1, *m.lastTemp, 1e-6)
}

func TestCVStructurer_Errors(t *testing.T) {
	t.Run("空文本", func(t *testing.T) {
		m := &scriptedModel{replies: []string{sampleCV}}
		_, err := NewCVStructurer(m, zerolog.Nop()).Structure(context.Background(), "  ")
		assert.Error(t, err)
		assert.Equal(t, 0, m.calls)
	})

	t.Run("非JSON回复", func(t *testing.T) {
		m := &scriptedModel{replies: []string{"抱歉，我无法处理"}}
		_, err := NewCVStructurer(m, zerolog.Nop()).Structure(context.Background(), "cv")
		assert.ErrorIs(t, err, ErrInvalidResponse)
	})

	t.Run("不可重试错误立即返回", func(t *testing.T) {
		m := &scriptedModel{errs: []error{&llm.StatusError{StatusCode: 401}}, replies: []string{sampleCV}}
		_, err := NewCVStructurer(m, zerolog.Nop()).Structure(context.Background(), "cv")
		assert.Error(t, err)
		assert.Equal(t, 1, m.calls)
	})
}

func TestJSONCaller_RetriesTransientErrors(t *testing.T) {
	m := &scriptedModel{
		errs:    []error{errors.New("read tcp: connection reset by peer"), &llm.StatusError{StatusCode: 502}},
		replies: []string{"", "", `{"skills":["Go"]}`},
	}
	c := newJSONCaller(m, "test", 0, zerolog.Nop())
	c.retryDelay = time.Millisecond

	content, err := c.callLLM(context.Background(), "sys", "user")
	require.NoError(t, err)
	assert.Equal(t, 3, m.calls)

	var cv types.CVStructure
	require.NoError(t, c.decode(content, &cv))
	assert.Equal(t, []string{"Go"}, cv.Skills)
}

func TestJSONCaller_GivesUpAfterMaxRetries(t *testing.T) {
	timeout := errors.New("i/o timeout")
	m := &scriptedModel{errs: []error{timeout, timeout, timeout, timeout}, replies: []string{"{}"}}
	c := newJSONCaller(m, "test", 0, zerolog.Nop())
	c.retryDelay = time.Millisecond

	_, err := c.callLLM(context.Background(), "sys", "user")
	assert.ErrorIs(t, err, timeout)
	assert.Equal(t, defaultMaxRetries+1, m.calls)
}

func TestCVOptimizer_Optimize(t *testing.T) {
	m := &scriptedModel{replies: []string{"\uFEFF" + sampleCV}}
	o := NewCVOptimizer(m, zerolog.Nop())

	original := &types.CVStructure{
		PersonalInfo: types.PersonalInfo{FullName: "Anna Svensson"},
		Skills:       []string{"Go"},
	}
	optimized, err := o.Optimize(context.Background(), original, "Go Developer", "We need Go and Docker.")
	require.NoError(t, err)
	assert.Equal(t, []string{"Go", "Docker"}, optimized.Skills)
	assert.Equal(t, []string{"Go"}, original.Skills)

	user := m.lastInput[1].Content
	assert.Contains(t, user, "Go Developer")
	assert.Contains(t, user, `"full_name": "Anna Svensson"`)
	require.NotNil(t, m.lastTemp)
	assert.InDelta(t, 0.3, *m.lastTemp, 1e-6)

	_, err = o.Optimize(context.Background(), original, " ", "desc")
	assert.Error(t, err)
	_, err = o.Optimize(context.Background(), nil, "title", "desc")
	assert.Error(t, err)
}

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"代码块", "text\n```json\n{\"a\": {\"b\": 1}}\n```\nmore", `{"a": {"b": 1}}`},
		{"裸对象", `prefix {"a": 1} suffix {"b": 2}`, `{"a": 1}`},
		{"字符串中的括号", `{"a": "x}y"}`, `{"a": "x}y"}`},
		{"没有对象", "no json here", ""},
		{"未闭合", `{"a": 1`, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, extractJSON(tt.in))
		})
	}
}

func TestSanitizeJSON(t *testing.T) {
	broken := `{"summary": "He said "hello" twice", "skills": ["Go"]}`
	fixed := sanitizeJSON(broken)
	assert.Equal(t, `{"summary": "He said \"hello\" twice", "skills": ["Go"]}`, fixed)

	valid := `{"a": "b\"c"}`
	assert.Equal(t, valid, sanitizeJSON(valid))
}

func TestJSONCaller_DecodeRepairsQuotes(t *testing.T) {
	c := newJSONCaller(&scriptedModel{}, "test", 0, zerolog.Nop())
	var cv types.CVStructure
	require.NoError(t, c.decode(`{"summary": "Known as "the fixer" at work"}`, &cv))
	assert.True(t, strings.Contains(cv.Summary, `"the fixer"`))
}

func TestPDFExtractor_RejectsInvalidInput(t *testing.T) {
	e, err := NewPDFExtractor(context.Background(), WithExtractTimeout(5*time.Second))
	require.NoError(t, err)

	_, err = e.ExtractText(context.Background(), nil, "empty.pdf")
	assert.Error(t, err)

	_, err = e.ExtractText(context.Background(), []byte("definitely not a pdf"), "bad.pdf")
	assert.Error(t, err)
}
