package task

import (
	"slices"
	"strings"
	"time"
)

// SortOrder 决定列表按 UpdatedAt 的排序方向。
type SortOrder int

const (
	// SortByUpdatedDesc 最近更新的在前，默认值。
	SortByUpdatedDesc SortOrder = iota
	// SortByUpdatedAsc 最早更新的在前。
	SortByUpdatedAsc
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// ListOptions 是命令历史查询的过滤与分页条件。
type ListOptions struct {
	Limit        int
	Offset       int
	Statuses     []Status
	UpdatedSince int64
	// HasTx 为 nil 表示不按是否提交过交易过滤。
	HasTx *bool
	Order SortOrder
	// Query 对任务 ID、输入、摘要与交易哈希做不区分大小写的子串匹配。
	Query string
}

// ListOption 修改 ListOptions。
type ListOption func(*ListOptions)

func WithLimit(limit int) ListOption {
	return func(o *ListOptions) { o.Limit = limit }
}

func WithOffset(offset int) ListOption {
	return func(o *ListOptions) { o.Offset = offset }
}

// WithStatuses 只保留给定状态的任务，未知状态被忽略。
func WithStatuses(statuses ...Status) ListOption {
	return func(o *ListOptions) { o.Statuses = slices.Clone(statuses) }
}

// WithUpdatedSince 只保留 ts 之后更新过的任务，零值取消该条件。
func WithUpdatedSince(ts time.Time) ListOption {
	return func(o *ListOptions) {
		o.UpdatedSince = 0
		if !ts.IsZero() {
			o.UpdatedSince = ts.Unix()
		}
	}
}

// WithTransaction 按命令是否提交过链上交易过滤。
func WithTransaction(submitted bool) ListOption {
	return func(o *ListOptions) { o.HasTx = &submitted }
}

func WithSortOrder(order SortOrder) ListOption {
	return func(o *ListOptions) { o.Order = order }
}

func WithQuery(query string) ListOption {
	return func(o *ListOptions) { o.Query = query }
}

// BuildListOptions 依次应用 opts 并补齐默认值。
func BuildListOptions(opts ...ListOption) ListOptions {
	var o ListOptions
	for _, apply := range opts {
		if apply != nil {
			apply(&o)
		}
	}
	o.applyDefaults()
	return o
}

func (o *ListOptions) applyDefaults() {
	switch {
	case o.Limit <= 0:
		o.Limit = defaultPageSize
	case o.Limit > maxPageSize:
		o.Limit = maxPageSize
	}
	o.Offset = max(o.Offset, 0)
	if o.Order != SortByUpdatedAsc {
		o.Order = SortByUpdatedDesc
	}
	o.Statuses = dedupeStatuses(o.Statuses)
	o.Query = strings.ToLower(strings.TrimSpace(o.Query))
}

// ParseStatuses 解析逗号分隔的状态列表，例如 HTTP 查询参数 status=failed,pending。
func ParseStatuses(raw string) []Status {
	var out []Status
	for _, field := range strings.Split(raw, ",") {
		if status := Status(strings.ToLower(strings.TrimSpace(field))); IsValidStatus(status) {
			out = append(out, status)
		}
	}
	return out
}

func dedupeStatuses(in []Status) []Status {
	var out []Status
	for _, status := range in {
		if IsValidStatus(status) && !slices.Contains(out, status) {
			out = append(out, status)
		}
	}
	return out
}

// matches 判断任务是否满足除分页与排序之外的全部条件。
func (o ListOptions) matches(task *Task) bool {
	if len(o.Statuses) > 0 && !slices.Contains(o.Statuses, task.Status) {
		return false
	}
	if o.UpdatedSince > 0 && task.UpdatedAt < o.UpdatedSince {
		return false
	}
	if o.HasTx != nil && hasTransaction(task) != *o.HasTx {
		return false
	}
	return o.Query == "" || strings.Contains(searchText(task), o.Query)
}

func searchText(task *Task) string {
	parts := []string{task.ID, task.Input}
	if task.Result != nil {
		parts = append(parts, task.Result.Summary, task.Result.TxID)
	}
	return strings.ToLower(strings.Join(parts, " "))
}

func hasTransaction(task *Task) bool {
	return task != nil && task.Result != nil && task.Result.TxID != ""
}
