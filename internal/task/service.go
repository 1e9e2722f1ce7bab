package task

import (
	"context"
	stdErrors "errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"ChainPilot/internal/agent"
	xerrors "ChainPilot/internal/errors"
	"ChainPilot/pkg/logger"
)

const defaultMaxRetries = 3

// Service 是 HTTP 接口背后的命令受理层：写入任务存储并投递到队列。
type Service struct {
	store      Store
	producer   Producer
	maxRetries int
}

// NewService 构造任务服务，maxRetries 非正数时使用默认值。
func NewService(store Store, producer Producer, maxRetries int) *Service {
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	return &Service{store: store, producer: producer, maxRetries: maxRetries}
}

func (s *Service) ready() error {
	if s.store == nil || s.producer == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "任务服务未初始化")
	}
	return nil
}

// Submit 受理一条命令。客户端自带 ID 时按 ID 幂等：同一 ID 重复提交返回已有任务，不会再次执行。
func (s *Service) Submit(ctx context.Context, req agent.CommandRequest) (*Task, error) {
	input := strings.TrimSpace(req.Input)
	if input == "" {
		return nil, xerrors.New(CodeTaskValidation, "命令不能为空")
	}
	if err := s.ready(); err != nil {
		return nil, err
	}

	id := strings.TrimSpace(req.ID)
	if id == "" {
		id = uuid.NewString()
	} else if prior, err := s.lookup(ctx, id); err != nil || prior != nil {
		return prior, err
	}

	task := &Task{ID: id, Input: input, Status: StatusPending, MaxRetries: s.maxRetries}
	if err := s.store.Create(ctx, task); err != nil {
		// 并发提交同一 ID 时，后到者拿到先到者创建的任务。
		if stdErrors.Is(err, ErrTaskConflict) {
			if prior, getErr := s.lookup(ctx, id); getErr == nil && prior != nil {
				return prior, nil
			}
		}
		return nil, err
	}
	if err := s.enqueue(ctx, task); err != nil {
		return nil, err
	}
	return task, nil
}

// lookup 查找已有任务，不存在时返回 (nil, nil)。
func (s *Service) lookup(ctx context.Context, id string) (*Task, error) {
	task, err := s.store.Get(ctx, id)
	switch {
	case err == nil:
		return task, nil
	case stdErrors.Is(err, ErrTaskNotFound):
		return nil, nil
	default:
		return nil, err
	}
}

// enqueue 投递任务，失败时把任务直接标记为终态失败，避免永远停在 pending。
func (s *Service) enqueue(ctx context.Context, task *Task) error {
	if err := s.producer.Publish(ctx, task.ID); err != nil {
		wrapped := xerrors.Wrap(CodeTaskPublish, err, "发布任务到队列失败")
		logger.L().Error("任务入队失败", slog.String("task_id", task.ID), slog.Any("error", err))
		_ = s.store.MarkFailed(ctx, task.ID, CodeTaskPublish, wrapped.Error(), nil, true)
		return wrapped
	}
	logger.Audit().Info("命令已受理",
		slog.String("task_id", task.ID),
		slog.String("input", task.Input),
		slog.Int("max_retries", task.MaxRetries),
	)
	return nil
}

// Get 返回指定任务。
func (s *Service) Get(ctx context.Context, id string) (*Task, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "任务存储未初始化")
	}
	return s.store.Get(ctx, id)
}

// List 按过滤条件列出任务。
func (s *Service) List(ctx context.Context, opts ...ListOption) ([]*Task, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "任务存储未初始化")
	}
	return s.store.List(ctx, BuildListOptions(opts...))
}

// Stats 按过滤条件统计任务。
func (s *Service) Stats(ctx context.Context, opts ...ListOption) (TaskStats, error) {
	if s.store == nil {
		return TaskStats{}, xerrors.New(xerrors.CodeInitializationFailure, "任务存储未初始化")
	}
	return s.store.Stats(ctx, BuildListOptions(opts...))
}

// WaitUntilCompleted 每隔 interval 查询一次，直到任务进入终态或 ctx 结束。
func (s *Service) WaitUntilCompleted(ctx context.Context, id string, interval time.Duration) (*Task, error) {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	for {
		task, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if task.Terminal() {
			return task, nil
		}
		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

// Close 先关闭队列再关闭存储。
func (s *Service) Close() error {
	var errs []error
	if s.producer != nil {
		errs = append(errs, s.producer.Close())
	}
	if s.store != nil {
		errs = append(errs, s.store.Close())
	}
	return stdErrors.Join(errs...)
}
