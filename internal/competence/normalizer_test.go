package competence

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	assert.Equal(t, "tech ab", Normalize("  Tech AB! "))
	assert.Equal(t, "c", Normalize("C++"))
	assert.Equal(t, "202001", Normalize("2020-01"))
	assert.Equal(t, "göteborg", Normalize("Göteborg,"))
	assert.Equal(t, "", Normalize("!!!"))
}

func TestSplitSentences(t *testing.T) {
	assert.Equal(t, []string{"Built APIs.", "Led a team!", "Why?"}, SplitSentences("Built APIs. Led a team! Why?"))
	assert.Equal(t, []string{"Version 1.2 shipped."}, SplitSentences("Version 1.2 shipped."))
	assert.Equal(t, []string{"No terminator"}, SplitSentences("  No terminator  "))
	assert.Empty(t, SplitSentences("   "))
}

func TestMergeText(t *testing.T) {
	t.Run("追加新句子", func(t *testing.T) {
		merged := MergeText("Built APIs.", "Built APIs. Led a team.")
		assert.Equal(t, "Built APIs. Led a team.", merged)
	})

	t.Run("再次合并不变", func(t *testing.T) {
		once := MergeText("Built APIs.", "Built APIs. Led a team.")
		assert.Equal(t, once, MergeText(once, "Built APIs. Led a team."))
	})

	t.Run("归一化后相同视为重复", func(t *testing.T) {
		assert.Equal(t, "Built APIs.", MergeText("Built APIs.", "built apis!"))
	})

	t.Run("一侧为空", func(t *testing.T) {
		assert.Equal(t, "Led a team.", MergeText("", "Led a team."))
		assert.Equal(t, "Led a team.", MergeText("Led a team.", "  "))
	})

	t.Run("保留已有原文", func(t *testing.T) {
		merged := MergeText("Built   APIs.  Scaled it.", "Wrote docs.")
		assert.Equal(t, "Built   APIs.  Scaled it. Wrote docs.", merged)
	})
}

func TestMergeLists(t *testing.T) {
	assert.Equal(t, []string{"Go", "Redis", "Kafka"}, MergeLists([]string{"Go", "Redis"}, []string{"go", "Kafka", " REDIS "}))
	assert.Equal(t, []string{"a"}, MergeLists(nil, []string{"", " a ", "  "}))

	empty := MergeLists(nil, nil)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)
}

func TestMergeKey(t *testing.T) {
	a := MergeKey("work", "Backend Developer", "Tech AB", "2020-01")
	b := MergeKey("work", "backend developer", "Tech AB!", "2020-01")
	c := MergeKey("work", "Backend Developer", "Tech AB", "2021-01")
	d := MergeKey("project", "Backend Developer", "Tech AB", "2020-01")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.NotEqual(t, a, d)
}
