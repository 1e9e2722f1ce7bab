// Package tracker 轮询已提交交易的状态，直到确认、失败或超时。
package tracker

import (
	"context"
	"log/slog"
	"time"

	xerrors "ChainPilot/internal/errors"
	"ChainPilot/internal/observability/metrics"
	"ChainPilot/internal/toolrpc"
	"ChainPilot/pkg/logger"
)

// State 是交易跟踪状态。
type State string

const (
	StatePending   State = "pending"
	StateConfirmed State = "confirmed"
	StateFailed    State = "failed"
	StateTimedOut  State = "timed_out"
)

// Terminal 判断状态是否为终态。
func (s State) Terminal() bool {
	return s == StateConfirmed || s == StateFailed || s == StateTimedOut
}

// Handle 记录一笔交易的跟踪结果，只由 Tracker 修改。
type Handle struct {
	TransactionID string
	SubmittedAt   time.Time
	State         State
	BlockNumber   uint64
	Polls         int
	// LastError 是最近一次查询失败的原因，超时摘要中会用到。
	LastError error
}

// advance 只允许从 Pending 迁移，终态不可再变。
func (h *Handle) advance(next State) bool {
	if h.State.Terminal() {
		return false
	}
	h.State = next
	return true
}

// StatusSource 查询交易状态，通常由 dispatch.Gateway 实现。
type StatusSource interface {
	TransactionStatus(ctx context.Context, txID string) (toolrpc.TransactionStatusPayload, error)
}

// Option 定义 Tracker 的可选配置。
type Option func(*Tracker)

// WithPollInterval 设置轮询间隔。
func WithPollInterval(d time.Duration) Option {
	return func(t *Tracker) {
		if d > 0 {
			t.interval = d
		}
	}
}

// WithTimeout 设置确认超时。
func WithTimeout(d time.Duration) Option {
	return func(t *Tracker) {
		if d > 0 {
			t.timeout = d
		}
	}
}

// WithMetrics 设置指标记录器。
func WithMetrics(r *metrics.Recorder) Option {
	return func(t *Tracker) {
		t.metrics = r
	}
}

// Tracker 以固定间隔轮询交易状态。
type Tracker struct {
	source   StatusSource
	interval time.Duration
	timeout  time.Duration
	metrics  *metrics.Recorder
	log      *slog.Logger
}

// New 创建 Tracker，默认每 2 秒轮询一次，30 秒超时。
func New(source StatusSource, opts ...Option) *Tracker {
	t := &Tracker{
		source:   source,
		interval: 2 * time.Second,
		timeout:  30 * time.Second,
		log:      logger.Named("tracker"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(t)
		}
	}
	return t
}

// Track 阻塞直到交易进入终态。超时或 ctx 取消都会得到 TimedOut，这是一种结果而不是错误。
func (t *Tracker) Track(ctx context.Context, txID string) Handle {
	h := Handle{TransactionID: txID, SubmittedAt: time.Now(), State: StatePending}

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		if t.poll(ctx, &h) {
			break
		}
		select {
		case <-ctx.Done():
			h.advance(StateTimedOut)
		case <-ticker.C:
		}
		if h.State.Terminal() {
			break
		}
	}

	t.metrics.ObserveTransaction(string(h.State))
	t.log.Info("交易跟踪结束", "tx", txID, "state", h.State, "polls", h.Polls, "elapsed", time.Since(h.SubmittedAt))
	return h
}

// poll 查询一次状态，返回是否已进入终态。
func (t *Tracker) poll(ctx context.Context, h *Handle) bool {
	h.Polls++
	status, err := t.source.TransactionStatus(ctx, h.TransactionID)
	if err != nil {
		if ctx.Err() != nil {
			return h.advance(StateTimedOut)
		}
		h.LastError = err
		t.log.Debug("查询交易状态失败", "tx", h.TransactionID, "code", xerrors.CodeOf(err), "error", err)
		return false
	}
	switch status.State {
	case toolrpc.TxStateConfirmed:
		h.BlockNumber = status.BlockNumber
		return h.advance(StateConfirmed)
	case toolrpc.TxStateFailed:
		h.BlockNumber = status.BlockNumber
		return h.advance(StateFailed)
	default:
		return false
	}
}
