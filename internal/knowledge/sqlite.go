package knowledge

import (
	"bufio"
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite" // SQLite driver
)

const sqliteSchema = `
CREATE VIRTUAL TABLE IF NOT EXISTS docs USING fts5(
	title,
	content,
	keywords,
	source UNINDEXED
);`

// SQLiteIndex 使用 SQLite FTS5 建立全文索引，得分来自 bm25。
type SQLiteIndex struct {
	db         *sql.DB
	maxResults int
}

// OpenSQLiteIndex 打开或创建索引文件，path 为 ":memory:" 时使用内存库。
func OpenSQLiteIndex(ctx context.Context, path string, maxResults int) (*SQLiteIndex, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("文档索引路径不能为空")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("创建索引目录失败: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("打开文档索引失败: %w", err)
	}
	// 内存库每个连接独立，限制为单连接。
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("初始化文档索引失败: %w", err)
	}
	if maxResults <= 0 {
		maxResults = 3
	}
	return &SQLiteIndex{db: db, maxResults: maxResults}, nil
}

// Close 关闭数据库。
func (x *SQLiteIndex) Close() error {
	if x == nil || x.db == nil {
		return nil
	}
	return x.db.Close()
}

// Ingest 写入片段。
func (x *SQLiteIndex) Ingest(ctx context.Context, snippets []Snippet) error {
	tx, err := x.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("开启索引事务失败: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO docs (title, content, keywords, source) VALUES (?, ?, ?, ?)`)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("准备索引语句失败: %w", err)
	}
	defer stmt.Close()

	for _, s := range snippets {
		keywords := strings.Join(append(append([]string{}, s.Keywords...), s.Tags...), " ")
		if _, err := stmt.ExecContext(ctx, s.Title, s.Content, keywords, s.Source); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("写入文档 %q 失败: %w", s.Title, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("提交索引事务失败: %w", err)
	}
	return nil
}

// IngestFiles 导入 JSON 片段文件或 Markdown 文档。Markdown 按标题切分。
func (x *SQLiteIndex) IngestFiles(ctx context.Context, paths ...string) (int, error) {
	total := 0
	for _, path := range paths {
		var (
			snippets []Snippet
			err      error
		)
		switch strings.ToLower(filepath.Ext(path)) {
		case ".json":
			snippets, err = loadSnippets(path)
		case ".md", ".markdown":
			snippets, err = splitMarkdown(path)
		default:
			err = fmt.Errorf("不支持的文档类型: %s", path)
		}
		if err != nil {
			return total, err
		}
		if err := x.Ingest(ctx, snippets); err != nil {
			return total, err
		}
		total += len(snippets)
	}
	return total, nil
}

// Count 返回已索引的片段数量。
func (x *SQLiteIndex) Count(ctx context.Context) (int, error) {
	var n int
	if err := x.db.QueryRowContext(ctx, `SELECT count(*) FROM docs`).Scan(&n); err != nil {
		return 0, fmt.Errorf("统计文档数量失败: %w", err)
	}
	return n, nil
}

// Search 执行全文检索。bm25 越小越相关，得分取其相反数。
func (x *SQLiteIndex) Search(ctx context.Context, query string, limit int) ([]Snippet, error) {
	if x == nil || x.db == nil {
		return nil, Unavailable(fmt.Errorf("文档索引未初始化"))
	}
	if limit <= 0 || limit > x.maxResults {
		limit = x.maxResults
	}
	words := terms(query)
	if len(words) == 0 {
		return nil, nil
	}
	quoted := make([]string, len(words))
	for i, w := range words {
		quoted[i] = `"` + w + `"`
	}

	rows, err := x.db.QueryContext(ctx, `
		SELECT title, content, source, bm25(docs) AS rank
		FROM docs
		WHERE docs MATCH ?
		ORDER BY rank
		LIMIT ?`, strings.Join(quoted, " OR "), limit)
	if err != nil {
		return nil, Unavailable(err)
	}
	defer rows.Close()

	var out []Snippet
	for rows.Next() {
		var (
			s    Snippet
			rank float64
		)
		if err := rows.Scan(&s.Title, &s.Content, &s.Source, &rank); err != nil {
			return nil, Unavailable(err)
		}
		s.Score = -rank
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, Unavailable(err)
	}
	return out, nil
}

func splitMarkdown(path string) ([]Snippet, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("读取文档失败: %w", err)
	}
	defer file.Close()

	source := filepath.Base(path)
	var (
		out     []Snippet
		title   = strings.TrimSuffix(source, filepath.Ext(source))
		content strings.Builder
	)
	flush := func() {
		if body := strings.TrimSpace(content.String()); body != "" {
			out = append(out, Snippet{Title: title, Content: body, Source: source})
		}
		content.Reset()
	}

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "#") {
			flush()
			title = strings.TrimSpace(strings.TrimLeft(line, "#"))
			continue
		}
		content.WriteString(line)
		content.WriteByte('\n')
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("读取文档失败: %w", err)
	}
	flush()
	return out, nil
}

var _ Provider = (*SQLiteIndex)(nil)
