package task

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/errgroup"
)

// ErrQueueClosed 表示队列已经关闭。
var ErrQueueClosed = errors.New("队列已关闭")

const defaultMemoryQueueSize = 64

// MemoryQueue 是单进程内的命令队列，serve 模式未配置外部 broker 时使用。
// 关闭后不再接受投递，队列中剩余的任务 ID 被丢弃，任务状态仍保留在存储中。
type MemoryQueue struct {
	pending chan string
	done    chan struct{}
	once    sync.Once
}

// NewMemoryQueue 创建容量为 size 的内存队列。
func NewMemoryQueue(size int) *MemoryQueue {
	if size <= 0 {
		size = defaultMemoryQueueSize
	}
	return &MemoryQueue{
		pending: make(chan string, size),
		done:    make(chan struct{}),
	}
}

// Publish 在队列满时阻塞，直到有空位、ctx 结束或队列关闭。
func (q *MemoryQueue) Publish(ctx context.Context, taskID string) error {
	if q.isClosed() {
		return ErrQueueClosed
	}
	select {
	case q.pending <- taskID:
		return nil
	case <-q.done:
		return ErrQueueClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Len 返回尚未被领取的任务数。
func (q *MemoryQueue) Len() int {
	return len(q.pending)
}

// Consume 运行 workerCount 个协程。handler 的错误不会重新入队，重试由处理器负责。
func (q *MemoryQueue) Consume(ctx context.Context, workerCount int, handler Handler) error {
	if q.isClosed() {
		return ErrQueueClosed
	}
	g, gctx := errgroup.WithContext(ctx)
	for range max(workerCount, 1) {
		g.Go(func() error {
			for {
				select {
				case <-gctx.Done():
					return gctx.Err()
				case <-q.done:
					return ErrQueueClosed
				case taskID := <-q.pending:
					_ = handler(gctx, taskID)
				}
			}
		})
	}
	return g.Wait()
}

// Close 可以重复调用。
func (q *MemoryQueue) Close() error {
	q.once.Do(func() { close(q.done) })
	return nil
}

func (q *MemoryQueue) isClosed() bool {
	select {
	case <-q.done:
		return true
	default:
		return false
	}
}
