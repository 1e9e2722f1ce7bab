package knowledge

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// StaticProvider 通过加载 JSON 文件提供静态知识检索能力。
type StaticProvider struct {
	items      []Snippet
	maxResults int
}

// NewStaticProvider 创建静态知识库实例。
func NewStaticProvider(items []Snippet, maxResults int) *StaticProvider {
	if maxResults <= 0 {
		maxResults = 3
	}
	return &StaticProvider{
		items:      items,
		maxResults: maxResults,
	}
}

// LoadStaticProvider 从 JSON 文件加载知识条目。
func LoadStaticProvider(path string, maxResults int) (*StaticProvider, error) {
	entries, err := loadSnippets(path)
	if err != nil {
		return nil, err
	}
	return NewStaticProvider(entries, maxResults), nil
}

func loadSnippets(path string) ([]Snippet, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("知识库文件路径不能为空")
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("解析知识库路径失败: %w", err)
	}

	file, err := os.Open(absPath)
	if err != nil {
		return nil, fmt.Errorf("读取知识库文件失败: %w", err)
	}
	defer file.Close()

	var entries []Snippet
	if err := json.NewDecoder(file).Decode(&entries); err != nil {
		return nil, fmt.Errorf("解析知识库文件失败: %w", err)
	}
	for i := range entries {
		if entries[i].Source == "" {
			entries[i].Source = filepath.Base(absPath)
		}
	}
	return entries, nil
}

// Search 按关键词与正文命中数打分。关键词与标签命中权重更高。
func (p *StaticProvider) Search(ctx context.Context, query string, limit int) ([]Snippet, error) {
	if p == nil {
		return nil, Unavailable(fmt.Errorf("静态知识库未初始化"))
	}
	if err := ctx.Err(); err != nil {
		return nil, Unavailable(err)
	}
	if limit <= 0 || limit > p.maxResults {
		limit = p.maxResults
	}

	words := terms(query)
	if len(words) == 0 {
		return nil, nil
	}

	results := make([]Snippet, 0, limit)
	for _, item := range p.items {
		if score := scoreSnippet(item, words); score > 0 {
			hit := item
			hit.Score = score
			results = append(results, hit)
		}
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func scoreSnippet(snippet Snippet, words []string) float64 {
	title := strings.ToLower(snippet.Title)
	content := strings.ToLower(snippet.Content)
	var score float64
	for _, w := range words {
		for _, keyword := range append(append([]string{}, snippet.Keywords...), snippet.Tags...) {
			if strings.EqualFold(strings.TrimSpace(keyword), w) {
				score += 3
			}
		}
		if strings.Contains(title, w) {
			score += 2
		}
		score += float64(strings.Count(content, w))
	}
	return score
}

// Ensure StaticProvider 实现 Provider 接口。
var _ Provider = (*StaticProvider)(nil)
