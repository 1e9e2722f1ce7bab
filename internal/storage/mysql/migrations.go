package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"path"
	"slices"
	"strconv"
	"strings"
	"time"

	"ChainPilot/deploy/migrations"
)

// journalSchemaSource 是日志表结构的来源，测试中可替换。
var journalSchemaSource fs.FS = migrations.Files

const (
	createSchemaTable = `CREATE TABLE IF NOT EXISTS journal_schema (
        version INT NOT NULL PRIMARY KEY,
        file VARCHAR(128) NOT NULL,
        applied_at BIGINT NOT NULL
)`
	selectSchemaVersions = `SELECT version FROM journal_schema`
	insertSchemaVersion  = `INSERT INTO journal_schema (version, file, applied_at) VALUES (?, ?, ?)`
)

// schemaStep 对应一个编号的 SQL 文件，例如 0002_journal_duration.sql。
type schemaStep struct {
	version int
	file    string
	stmts   []string
}

// migrateJournal 把日志库升级到最新结构。每个文件在独立事务中执行，
// 已记录在 journal_schema 的版本会被跳过。
func migrateJournal(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, createSchemaTable); err != nil {
		return fmt.Errorf("创建 journal_schema 表失败: %w", err)
	}

	done, err := appliedSchemaVersions(ctx, db)
	if err != nil {
		return err
	}

	steps, err := pendingSchemaSteps(journalSchemaSource, done)
	if err != nil {
		return err
	}
	for _, step := range steps {
		if err := step.apply(ctx, db); err != nil {
			return err
		}
	}
	return nil
}

func appliedSchemaVersions(ctx context.Context, db *sql.DB) (map[int]bool, error) {
	rows, err := db.QueryContext(ctx, selectSchemaVersions)
	if err != nil {
		return nil, fmt.Errorf("读取 journal_schema 失败: %w", err)
	}
	defer rows.Close()

	done := map[int]bool{}
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			return nil, fmt.Errorf("读取 journal_schema 失败: %w", err)
		}
		done[version] = true
	}
	return done, rows.Err()
}

// apply 执行一个版本的全部语句并登记版本号，任一语句失败则整体回滚。
func (s schemaStep) apply(ctx context.Context, db *sql.DB) (err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("迁移 %s 无法开启事务: %w", s.file, err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for i, stmt := range s.stmts {
		if _, err = tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("迁移 %s 第 %d 条语句失败: %w", s.file, i+1, err)
		}
	}
	if _, err = tx.ExecContext(ctx, insertSchemaVersion, s.version, s.file, time.Now().Unix()); err != nil {
		return fmt.Errorf("登记迁移 %s 失败: %w", s.file, err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("提交迁移 %s 失败: %w", s.file, err)
	}
	return nil
}

// pendingSchemaSteps 按版本号升序返回尚未执行的迁移。文件名必须以数字版本开头，
// 重复的版本号视为错误。
func pendingSchemaSteps(src fs.FS, done map[int]bool) ([]schemaStep, error) {
	files, err := fs.Glob(src, "*.sql")
	if err != nil {
		return nil, fmt.Errorf("列出迁移文件失败: %w", err)
	}

	seen := make(map[int]string, len(files))
	var steps []schemaStep
	for _, file := range files {
		version, err := schemaVersion(file)
		if err != nil {
			return nil, err
		}
		if prev, dup := seen[version]; dup {
			return nil, fmt.Errorf("迁移 %s 与 %s 版本号重复", file, prev)
		}
		seen[version] = file
		if done[version] {
			continue
		}

		body, err := fs.ReadFile(src, file)
		if err != nil {
			return nil, fmt.Errorf("读取迁移 %s 失败: %w", file, err)
		}
		stmts := sqlStatements(string(body))
		if len(stmts) == 0 {
			continue
		}
		steps = append(steps, schemaStep{version: version, file: file, stmts: stmts})
	}

	slices.SortFunc(steps, func(a, b schemaStep) int { return a.version - b.version })
	return steps, nil
}

func schemaVersion(file string) (int, error) {
	base := strings.TrimSuffix(path.Base(file), ".sql")
	prefix, _, _ := strings.Cut(base, "_")
	version, err := strconv.Atoi(prefix)
	if err != nil || version <= 0 {
		return 0, fmt.Errorf("迁移文件名 %s 缺少版本号", file)
	}
	return version, nil
}

// sqlStatements 去掉 -- 注释行后按分号切分语句。
func sqlStatements(body string) []string {
	var kept strings.Builder
	for _, line := range strings.Split(body, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "--") {
			continue
		}
		kept.WriteString(line)
		kept.WriteByte('\n')
	}

	var stmts []string
	for _, part := range strings.Split(kept.String(), ";") {
		if stmt := strings.TrimSpace(part); stmt != "" {
			stmts = append(stmts, stmt)
		}
	}
	return stmts
}
