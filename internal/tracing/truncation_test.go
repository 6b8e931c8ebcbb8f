package tracing

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMaskPII(t *testing.T) {
	cases := map[string]string{
		"":                    "",
		"a":                   "*",
		"张三":                  "张*",
		"王小明":                 "王*明",
		"13812345678":         "13*******78",
		"myemail@example.com": "my***************om",
	}
	for in, want := range cases {
		assert.Equal(t, want, MaskPII(in), "input %q", in)
	}
}

func TestTruncateString(t *testing.T) {
	assert.Equal(t, "short", TruncateString("short", 10))

	long := strings.Repeat("a", 50) + strings.Repeat("b", 50)
	got := TruncateString(long, 23)
	assert.Equal(t, strings.Repeat("a", 10)+"..."+strings.Repeat("b", 10), got)

	assert.Equal(t, "ab", TruncateString("abcdef", 2))
}

func TestSafeAttributeValue(t *testing.T) {
	assert.Equal(t, "J**n", SafeAttributeValue("cv.full_name", "John", 100))
	assert.Equal(t, "resume.pdf", SafeAttributeValue("cv.title", "resume.pdf", 100))
	assert.Len(t, []rune(SafeAttributeValue("cv.text", strings.Repeat("x", 400), 50)), 49)
}
