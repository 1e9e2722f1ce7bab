// Package knowledge 提供文档检索：静态 JSON 片段与基于 SQLite FTS5 的全文索引。
package knowledge

import (
	"context"
	"strings"
	"unicode"

	xerrors "ChainPilot/internal/errors"
)

// CodeDocsUnavailable 表示文档检索后端不可用。
const CodeDocsUnavailable xerrors.Code = "DOCS_UNAVAILABLE"

func init() {
	xerrors.Register(CodeDocsUnavailable, xerrors.Attributes{
		Message:    "documentation search unavailable",
		Severity:   xerrors.SeverityWarning,
		Retryable:  true,
		UserFacing: true,
	})
}

// Unavailable 构造 DOCS_UNAVAILABLE 错误。
func Unavailable(cause error) *xerrors.Error {
	return xerrors.Wrap(CodeDocsUnavailable, cause, "")
}

// Provider 定义文档检索的通用接口，结果按得分降序排列。
type Provider interface {
	Search(ctx context.Context, query string, limit int) ([]Snippet, error)
}

// Snippet 描述一段可供引用的文档。
type Snippet struct {
	Title    string   `json:"title"`
	Content  string   `json:"content"`
	Keywords []string `json:"keywords"`
	Tags     []string `json:"tags"`
	Source   string   `json:"source,omitempty"`
	Score    float64  `json:"score"`
}

// stopWords 在检索前过滤，避免疑问词主导得分。
var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "the": {}, "is": {}, "are": {}, "do": {}, "does": {}, "how": {}, "what": {},
	"why": {}, "when": {}, "where": {}, "which": {}, "who": {}, "can": {}, "could": {}, "you": {},
	"i": {}, "me": {}, "my": {}, "of": {}, "to": {}, "in": {}, "on": {}, "for": {}, "and": {},
	"or": {}, "it": {}, "this": {}, "that": {}, "with": {}, "explain": {}, "tell": {}, "about": {},
	"should": {}, "show": {}, "work": {}, "works": {},
}

// terms 把查询切分为检索词。
func terms(query string) []string {
	fields := strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := fields[:0]
	seen := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		if _, stop := stopWords[f]; stop {
			continue
		}
		if _, dup := seen[f]; dup {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	return out
}
