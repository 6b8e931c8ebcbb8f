package competence

import (
	"strings"
	"unicode"
)

// Normalize 转小写，去掉字母、数字、空白以外的字符，再去掉首尾空白
func Normalize(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range strings.ToLower(text) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) {
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}

// SplitSentences 在 . ! ? 后紧跟空白处断句，丢弃空片段
func SplitSentences(text string) []string {
	runes := []rune(text)
	var sentences []string
	start := 0
	for i := 0; i < len(runes); i++ {
		if !isSentenceEnd(runes[i]) || i+1 >= len(runes) || !unicode.IsSpace(runes[i+1]) {
			continue
		}
		if s := strings.TrimSpace(string(runes[start : i+1])); s != "" {
			sentences = append(sentences, s)
		}
		start = i + 1
	}
	if s := strings.TrimSpace(string(runes[start:])); s != "" {
		sentences = append(sentences, s)
	}
	return sentences
}

func isSentenceEnd(r rune) bool {
	return r == '.' || r == '!' || r == '?'
}

// MergeText 合并两段描述：保留已有句子原文与顺序，追加新文本中归一化后未出现过的句子。
// 任一侧为空时原样返回另一侧。
func MergeText(existing, incoming string) string {
	if strings.TrimSpace(existing) == "" {
		return incoming
	}
	if strings.TrimSpace(incoming) == "" {
		return existing
	}

	seen := make(map[string]bool)
	for _, s := range SplitSentences(existing) {
		seen[Normalize(s)] = true
	}

	var appended []string
	for _, s := range SplitSentences(incoming) {
		key := Normalize(s)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		appended = append(appended, s)
	}
	if len(appended) == 0 {
		return existing
	}
	return strings.TrimSpace(existing) + " " + strings.Join(appended, " ")
}

// MergeLists 忽略大小写去重合并，先保留 existing 的顺序，再按顺序追加 incoming 中的新项。
// 空白项被丢弃。
func MergeLists(existing, incoming []string) []string {
	merged := make([]string, 0, len(existing)+len(incoming))
	seen := make(map[string]bool, len(existing)+len(incoming))
	add := func(items []string) {
		for _, item := range items {
			item = strings.TrimSpace(item)
			key := strings.ToLower(item)
			if key == "" || seen[key] {
				continue
			}
			seen[key] = true
			merged = append(merged, item)
		}
	}
	add(existing)
	add(incoming)
	return merged
}

// MergeKey 经历的去重键：类型 + 归一化的标题、机构、开始时间
func MergeKey(experienceType, title, organization, startDate string) string {
	return strings.Join([]string{
		experienceType,
		Normalize(title),
		Normalize(organization),
		Normalize(startDate),
	}, "|")
}
