package task

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"

	"ChainPilot/internal/agent"
	xerrors "ChainPilot/internal/errors"
	"ChainPilot/internal/observability/alerting"
	"ChainPilot/pkg/logger"
)

// Executor 定义了处理器所需的命令执行能力，通常由 *agent.Agent 实现。
type Executor interface {
	Execute(ctx context.Context, req agent.CommandRequest) (*agent.CommandResult, error)
}

// Processor 负责从队列消费命令并交给 Agent 执行。
// 重试策略只存在于这里：仅重投可重试的错误，且交易一旦提交便不再重试。
type Processor struct {
	executor    Executor
	store       Store
	consumer    Consumer
	producer    Producer
	workerCount int
	logger      *slog.Logger
	alerts      alerting.Dispatcher
}

// ProcessorOption 定义可选配置。
type ProcessorOption func(*Processor)

// WithProcessorLogger 指定日志输出。
func WithProcessorLogger(logger *slog.Logger) ProcessorOption {
	return func(p *Processor) {
		p.logger = logger
	}
}

// WithWorkerCount 设置消费协程数量。
func WithWorkerCount(workers int) ProcessorOption {
	return func(p *Processor) {
		if workers > 0 {
			p.workerCount = workers
		}
	}
}

// WithAlerts 在任务进入终态失败时发送告警。
func WithAlerts(d alerting.Dispatcher) ProcessorOption {
	return func(p *Processor) {
		p.alerts = d
	}
}

// NewProcessor 构造 Processor。
func NewProcessor(executor Executor, store Store, consumer Consumer, producer Producer, opts ...ProcessorOption) *Processor {
	p := &Processor{
		executor:    executor,
		store:       store,
		consumer:    consumer,
		producer:    producer,
		workerCount: 1,
		logger:      logger.Named("task"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// Start 启动任务处理循环，阻塞直到 ctx 取消或队列关闭。
func (p *Processor) Start(ctx context.Context) error {
	if p.consumer == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "未配置任务消费者")
	}
	return p.consumer.Consume(ctx, p.workerCount, p.handle)
}

func (p *Processor) handle(ctx context.Context, taskID string) error {
	if p.store == nil || p.executor == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "处理器未初始化")
	}
	task, err := p.store.Claim(ctx, taskID)
	if err != nil {
		if stdErrors.Is(err, ErrTaskNotFound) || stdErrors.Is(err, ErrTaskCompleted) || stdErrors.Is(err, ErrTaskExhausted) {
			p.logger.Debug("跳过任务", slog.String("task_id", taskID), slog.String("reason", err.Error()))
			return nil
		}
		p.logger.Error("领取任务失败", slog.Any("error", err), slog.String("task_id", taskID))
		return err
	}

	result, execErr := p.executor.Execute(ctx, agent.CommandRequest{ID: task.ID, Input: task.Input})
	if execErr != nil {
		return p.handleExecutionFailure(ctx, task, result, execErr)
	}

	outcome := outcomeOf(result)
	if err := p.store.MarkSucceeded(ctx, task.ID, outcome); err != nil {
		p.logger.Error("标记任务成功状态失败", slog.Any("error", err), slog.String("task_id", task.ID))
		// 结果已经产生，不能重新执行，只记录为终态失败。
		if storeErr := p.store.MarkFailed(ctx, task.ID, xerrors.CodeStorageFailure, err.Error(), outcome, true); storeErr != nil {
			return storeErr
		}
		return nil
	}
	logger.Audit().Info("任务执行成功",
		slog.String("task_id", task.ID),
		slog.String("summary", outcome.Summary),
		slog.String("tx", outcome.TxID),
	)
	return nil
}

func (p *Processor) handleExecutionFailure(ctx context.Context, task *Task, result *agent.CommandResult, execErr error) error {
	code := xerrors.CodeOf(execErr)
	if code == xerrors.CodeUnknown {
		code = CodeTaskProcessing
	}
	retryable := Retryable(result, execErr)
	terminal := !retryable || task.Attempts >= task.MaxRetries

	lastError := execErr.Error()
	if result != nil && result.Summary != "" {
		lastError = result.Summary
	}
	if storeErr := p.store.MarkFailed(ctx, task.ID, code, lastError, outcomeOf(result), terminal); storeErr != nil {
		p.logger.Error("标记任务失败状态出错", slog.Any("error", storeErr), slog.String("task_id", task.ID))
		return storeErr
	}
	logger.Audit().Warn("任务执行失败",
		slog.String("task_id", task.ID),
		slog.Bool("terminal", terminal),
		slog.String("error", lastError),
		slog.String("error_code", string(code)),
		slog.Int("attempts", task.Attempts),
		slog.Int("max_retries", task.MaxRetries),
	)

	if terminal {
		p.alert(ctx, task, result, code, lastError, execErr)
		return nil
	}
	if pubErr := p.producer.Publish(ctx, task.ID); pubErr != nil {
		wrapped := xerrors.Wrap(CodeTaskPublish, pubErr, fmt.Sprintf("任务 %s 重投失败", task.ID))
		_ = p.store.MarkFailed(ctx, task.ID, CodeTaskPublish, wrapped.Error(), nil, true)
		return wrapped
	}
	p.logger.Debug("任务已重新排队", slog.String("task_id", task.ID), slog.Int("attempts", task.Attempts))
	return nil
}

// alert 推送终态失败。交易已提交却未确认的命令一律按 critical 处理。
func (p *Processor) alert(ctx context.Context, task *Task, result *agent.CommandResult, code xerrors.Code, message string, execErr error) {
	if p.alerts == nil {
		return
	}
	event := alerting.Event{
		Code:       code,
		Message:    message,
		Severity:   xerrors.SeverityOf(execErr),
		TaskID:     task.ID,
		Input:      task.Input,
		Attempts:   task.Attempts,
		MaxRetries: task.MaxRetries,
	}
	if e, ok := xerrors.From(execErr); ok {
		event.Metadata = e.Metadata()
	}
	if result.Submitted() {
		event.TxID = result.TxID
		event.Severity = xerrors.SeverityCritical
	}
	if err := p.alerts.Notify(ctx, event); err != nil {
		p.logger.Warn("发送告警失败", slog.Any("error", err), slog.String("task_id", task.ID))
	}
}

// Retryable 判断一次失败的命令能否重新执行。已经拿到交易哈希的命令永不重试，
// 否则会重复转账。
func Retryable(result *agent.CommandResult, err error) bool {
	if err == nil || result.Submitted() {
		return false
	}
	return xerrors.RetryableError(err)
}
