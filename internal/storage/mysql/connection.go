package mysql

import (
	"cmp"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	mysqldrv "github.com/go-sql-driver/mysql"
)

// 连接池默认值。命令日志写入量小，不需要很大的连接池。
const (
	defaultDialTimeout  = 5 * time.Second
	defaultIOTimeout    = 10 * time.Second
	defaultMaxOpenConns = 10
	defaultMaxIdleConns = 5
	defaultConnLifetime = 30 * time.Minute
)

// journalDSN 解析 DSN 并补齐日志库需要的参数：时间列解析为 time.Time、统一使用 UTC、
// 未配置时加上拨号与读写超时。
func journalDSN(raw string) (*mysqldrv.Config, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, errors.New("MySQL DSN 不能为空")
	}
	dsn, err := mysqldrv.ParseDSN(raw)
	if err != nil {
		return nil, fmt.Errorf("MySQL DSN 格式错误: %w", err)
	}
	dsn.ParseTime = true
	dsn.Loc = time.UTC
	dsn.Timeout = cmp.Or(dsn.Timeout, defaultDialTimeout)
	dsn.ReadTimeout = cmp.Or(dsn.ReadTimeout, defaultIOTimeout)
	dsn.WriteTimeout = cmp.Or(dsn.WriteTimeout, defaultIOTimeout)
	return dsn, nil
}

// openDatabase 通过 connector 建立连接池，并用一次 ping 确认数据库可达。
func openDatabase(ctx context.Context, cfg Config) (*sql.DB, error) {
	dsn, err := journalDSN(cfg.DSN)
	if err != nil {
		return nil, err
	}
	connector, err := mysqldrv.NewConnector(dsn)
	if err != nil {
		return nil, fmt.Errorf("创建 MySQL connector 失败: %w", err)
	}

	db := sql.OpenDB(connector)
	db.SetMaxOpenConns(cmp.Or(cfg.MaxOpenConns, defaultMaxOpenConns))
	db.SetMaxIdleConns(cmp.Or(cfg.MaxIdleConns, defaultMaxIdleConns))
	db.SetConnMaxLifetime(cmp.Or(cfg.ConnMaxLifetime, defaultConnLifetime))
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("MySQL %s 不可达: %w", dsn.Addr, err)
	}
	return db, nil
}
