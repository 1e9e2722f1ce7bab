package mysql

import (
	"context"
	"database/sql"
	"fmt"
)

const (
	insertEntrySQL = `INSERT INTO command_journal
    (id, input, category, operation, tool, summary, tx_id, tx_state, error_code, duration_ms, created_at)
    VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	latestEntriesSQL = `SELECT id, input, category, operation, tool, summary, tx_id, tx_state, error_code, duration_ms, created_at
    FROM command_journal ORDER BY created_at DESC, id DESC LIMIT ?`
)

// SQLJournal 使用 MySQL 存储命令日志。
type SQLJournal struct {
	db *sql.DB
}

// NewSQLJournal 创建连接池并执行内嵌迁移。
func NewSQLJournal(ctx context.Context, cfg Config) (*SQLJournal, error) {
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := migrateJournal(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLJournal{db: db}, nil
}

// Append 写入一条命令记录。
func (s *SQLJournal) Append(ctx context.Context, entry Entry) error {
	if _, err := s.db.ExecContext(ctx, insertEntrySQL,
		entry.ID,
		entry.Input,
		entry.Category,
		entry.Operation,
		entry.Tool,
		entry.Summary,
		entry.TxID,
		entry.TxState,
		entry.ErrorCode,
		entry.DurationMS,
		entry.CreatedAt,
	); err != nil {
		return fmt.Errorf("写入命令日志失败: %w", err)
	}
	return nil
}

// Latest 查询最近的若干条命令。
func (s *SQLJournal) Latest(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx, latestEntriesSQL, limit)
	if err != nil {
		return nil, fmt.Errorf("查询命令日志失败: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.Input, &e.Category, &e.Operation, &e.Tool, &e.Summary,
			&e.TxID, &e.TxState, &e.ErrorCode, &e.DurationMS, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("解析命令日志失败: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("遍历命令日志失败: %w", err)
	}
	return entries, nil
}

// Close 关闭底层数据库连接。
func (s *SQLJournal) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
