package mysql

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

const memoryJournalCap = 512

// ErrUnsupportedDriver 表示配置了未知的存储驱动。
var ErrUnsupportedDriver = errors.New("暂不支持的存储驱动")

// MemoryJournal 使用本地 JSON Lines 文件记录命令，进程内保留最近 512 条。
type MemoryJournal struct {
	mu       sync.RWMutex
	dataFile string
	records  []Entry
}

// NewMemoryJournal 创建文件日志，并从已有文件恢复历史。
func NewMemoryJournal(dataDir string) (*MemoryJournal, error) {
	if dataDir == "" {
		dataDir = "."
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("创建数据目录失败: %w", err)
	}
	j := &MemoryJournal{dataFile: filepath.Join(dataDir, "commands.log")}
	if err := j.loadFromDisk(); err != nil {
		return nil, err
	}
	return j, nil
}

// Append 以追加写的方式记录命令。
func (m *MemoryJournal) Append(_ context.Context, entry Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	file, err := os.OpenFile(m.dataFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("打开命令日志失败: %w", err)
	}
	defer file.Close()

	encoded, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("序列化命令记录失败: %w", err)
	}
	if _, err := file.Write(append(encoded, '\n')); err != nil {
		return fmt.Errorf("写入命令日志失败: %w", err)
	}

	m.records = append([]Entry{entry}, m.records...)
	if len(m.records) > memoryJournalCap {
		m.records = m.records[:memoryJournalCap]
	}
	return nil
}

// Latest 返回最近的命令，按时间倒序排列。
func (m *MemoryJournal) Latest(_ context.Context, limit int) ([]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit <= 0 || limit > len(m.records) {
		limit = len(m.records)
	}
	results := make([]Entry, limit)
	copy(results, m.records[:limit])
	return results, nil
}

// Close 无需释放资源。
func (m *MemoryJournal) Close() error { return nil }

func (m *MemoryJournal) loadFromDisk() error {
	file, err := os.OpenFile(m.dataFile, os.O_RDONLY|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("读取命令日志失败: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	var restored []Entry
	for scanner.Scan() {
		var entry Entry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			continue
		}
		restored = append([]Entry{entry}, restored...)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("解析命令日志失败: %w", err)
	}

	if len(restored) > memoryJournalCap {
		restored = restored[:memoryJournalCap]
	}
	m.records = restored
	return nil
}
