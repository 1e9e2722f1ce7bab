package mysql

import (
	"context"
	"fmt"
	"strings"
	"time"

	"ChainPilot/internal/config"
)

// Entry 表示一条命令执行记录。
type Entry struct {
	ID         string `json:"id"`
	Input      string `json:"input"`
	Category   string `json:"category"`
	Operation  string `json:"operation,omitempty"`
	Tool       string `json:"tool,omitempty"`
	Summary    string `json:"summary"`
	TxID       string `json:"tx_id,omitempty"`
	TxState    string `json:"tx_state,omitempty"`
	ErrorCode  string `json:"error_code,omitempty"`
	DurationMS int64  `json:"duration_ms"`
	CreatedAt  int64  `json:"created_at"`
}

// Journal 抽象命令日志的持久化接口。
type Journal interface {
	Append(ctx context.Context, entry Entry) error
	Latest(ctx context.Context, limit int) ([]Entry, error)
	Close() error
}

// Config 描述 MySQL 连接池参数。
type Config struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// OpenJournal 根据配置选择日志驱动。
func OpenJournal(ctx context.Context, cfg config.JournalConfig, dataDir string) (Journal, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "memory":
		return NewMemoryJournal(dataDir)
	case "mysql":
		return NewSQLJournal(ctx, Config{
			DSN:             cfg.ResolveDSN(),
			MaxOpenConns:    cfg.MaxOpenConns,
			MaxIdleConns:    cfg.MaxIdleConns,
			ConnMaxLifetime: cfg.ConnMaxLifetime.Std(),
		})
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedDriver, cfg.Driver)
	}
}
