package knowledge

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"path"
)

//go:embed corpus/*.json
var builtinFS embed.FS

// BuiltinSnippets 返回随程序发布的 Uniswap 文档片段。
func BuiltinSnippets() ([]Snippet, error) {
	entries, err := builtinFS.ReadDir("corpus")
	if err != nil {
		return nil, fmt.Errorf("读取内置文档失败: %w", err)
	}
	var out []Snippet
	for _, entry := range entries {
		name := path.Join("corpus", entry.Name())
		data, err := builtinFS.ReadFile(name)
		if err != nil {
			return nil, fmt.Errorf("读取内置文档失败: %w", err)
		}
		var items []Snippet
		if err := json.NewDecoder(bytes.NewReader(data)).Decode(&items); err != nil {
			return nil, fmt.Errorf("解析内置文档 %s 失败: %w", entry.Name(), err)
		}
		for i := range items {
			if items[i].Source == "" {
				items[i].Source = entry.Name()
			}
		}
		out = append(out, items...)
	}
	return out, nil
}

// NewBuiltinProvider 使用内置文档创建静态检索器。
func NewBuiltinProvider(maxResults int) (*StaticProvider, error) {
	items, err := BuiltinSnippets()
	if err != nil {
		return nil, err
	}
	return NewStaticProvider(items, maxResults), nil
}
