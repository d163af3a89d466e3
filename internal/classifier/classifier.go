package classifier

import (
	"context"
	"strings"
)

const (
	CategoryOther         = "Other"
	CategoryUncategorized = "Uncategorized"
)

// Categories is the fixed vocabulary an item can be classified into.
var Categories = []string{
	"AI Trends",
	"Product Thinking",
	"Tech Sharing",
	"Design",
	"Startups",
	"Personal Growth",
	"Knowledge Management",
	"Work Methods",
	CategoryOther,
}

// MatchCategory maps a model answer onto the vocabulary, falling back to Other.
func MatchCategory(answer string) string {
	answer = strings.Trim(strings.TrimSpace(answer), "\"'`.。")
	for _, c := range Categories {
		if strings.EqualFold(answer, c) {
			return c
		}
	}
	return CategoryOther
}

// SplitKeywords parses a comma separated keyword answer, dropping blanks and duplicates.
func SplitKeywords(answer string, max int) []string {
	answer = strings.NewReplacer("，", ",", "、", ",", "\n", ",").Replace(answer)
	seen := make(map[string]struct{})
	var out []string
	for _, part := range strings.Split(answer, ",") {
		kw := strings.Trim(strings.TrimSpace(part), "\"'#")
		if kw == "" {
			continue
		}
		key := strings.ToLower(kw)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, kw)
		if max > 0 && len(out) == max {
			break
		}
	}
	return out
}

// SimpleClassifier enriches content without a language model: no summary,
// hashtags as keywords, and a category picked by keyword lookup.
type SimpleClassifier struct {
	maxTags int
}

func NewSimpleClassifier(maxTags int) *SimpleClassifier {
	return &SimpleClassifier{maxTags: maxTags}
}

var categoryKeywords = []struct {
	category string
	keywords []string
}{
	{"AI Trends", []string{"ai", "gpt", "llm", "machine learning", "copilot"}},
	{"Product Thinking", []string{"product", "growth", "retention", "user research"}},
	{"Tech Sharing", []string{"code", "programming", "golang", "database", "api"}},
	{"Design", []string{"design", "ux", "typography", "color"}},
	{"Startups", []string{"startup", "founder", "funding", "venture"}},
	{"Personal Growth", []string{"habit", "career", "reading", "mindset"}},
	{"Knowledge Management", []string{"knowledge", "note", "notion", "zettelkasten"}},
	{"Work Methods", []string{"meeting", "deadline", "task", "project", "workflow"}},
}

func (c *SimpleClassifier) Model() string {
	return "offline"
}

func (c *SimpleClassifier) Summarize(ctx context.Context, content string) (string, error) {
	return "", ctx.Err()
}

func (c *SimpleClassifier) Classify(ctx context.Context, content string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	words := wordSet(content)
	lower := strings.ToLower(content)
	for _, entry := range categoryKeywords {
		for _, kw := range entry.keywords {
			if strings.Contains(kw, " ") && strings.Contains(lower, kw) {
				return entry.category, nil
			}
			if _, ok := words[kw]; ok {
				return entry.category, nil
			}
		}
	}
	return CategoryUncategorized, nil
}

// ExtractKeywords returns hashtags found in the content.
func (c *SimpleClassifier) ExtractKeywords(ctx context.Context, content string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var tags []string
	for _, word := range strings.Fields(content) {
		if strings.HasPrefix(word, "#") {
			if tag := strings.ToLower(strings.TrimRight(strings.TrimPrefix(word, "#"), ".,!?;:")); tag != "" {
				tags = append(tags, tag)
			}
		}
	}
	return SplitKeywords(strings.Join(tags, ","), c.maxTags), nil
}

func wordSet(content string) map[string]struct{} {
	words := make(map[string]struct{})
	for _, w := range strings.FieldsFunc(strings.ToLower(content), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	}) {
		words[w] = struct{}{}
	}
	return words
}
