package task

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"golang.org/x/sync/errgroup"

	"ChainPilot/internal/config"
)

const defaultRabbitQueue = "chainpilot.commands"

// RabbitMQQueue 通过 RabbitMQ 分发命令任务。发布走 publisher confirm，
// 只有 broker 确认后 Publish 才返回。
type RabbitMQQueue struct {
	conn    *amqp.Connection
	publish *amqp.Channel
	name    string
	cfg     config.RabbitMQConfig

	// amqp.Channel 不能并发发布。
	publishMu sync.Mutex
}

// NewRabbitMQQueue 建立连接、声明队列并开启发布确认。
func NewRabbitMQQueue(cfg config.RabbitMQConfig) (*RabbitMQQueue, error) {
	if cfg.URL == "" {
		return nil, errors.New("rabbitmq.url 未配置")
	}
	if cfg.Queue == "" {
		cfg.Queue = defaultRabbitQueue
	}

	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("连接 RabbitMQ 失败: %w", err)
	}
	q := &RabbitMQQueue{conn: conn, name: cfg.Queue, cfg: cfg}

	ch, err := q.openChannel()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	if err := ch.Confirm(false); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("开启 RabbitMQ 发布确认失败: %w", err)
	}
	q.publish = ch
	return q, nil
}

// openChannel 打开新 channel 并幂等地声明队列。
func (q *RabbitMQQueue) openChannel() (*amqp.Channel, error) {
	ch, err := q.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("打开 RabbitMQ channel 失败: %w", err)
	}
	if _, err := ch.QueueDeclare(q.name, q.cfg.Durable, q.cfg.AutoDelete, false, false, nil); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("声明队列 %s 失败: %w", q.name, err)
	}
	return ch, nil
}

// Publish 投递任务 ID 并等待 broker 确认。
func (q *RabbitMQQueue) Publish(ctx context.Context, taskID string) error {
	q.publishMu.Lock()
	defer q.publishMu.Unlock()
	if q.publish == nil || q.publish.IsClosed() {
		return ErrQueueClosed
	}

	confirm, err := q.publish.PublishWithDeferredConfirmWithContext(ctx, "", q.name, false, false, amqp.Publishing{
		ContentType:  "text/plain",
		DeliveryMode: amqp.Persistent,
		MessageId:    taskID,
		Timestamp:    time.Now(),
		Body:         []byte(taskID),
	})
	if err != nil {
		return fmt.Errorf("投递任务 %s 失败: %w", taskID, err)
	}
	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		return err
	}
	if !acked {
		return fmt.Errorf("broker 拒绝了任务 %s", taskID)
	}
	return nil
}

// Consume 为消费者单独开一个 channel，prefetch 至少为工作协程数。
// handler 出错的消息只重投一次，再次失败即丢弃，任务状态以存储为准。
func (q *RabbitMQQueue) Consume(ctx context.Context, workerCount int, handler Handler) error {
	if workerCount <= 0 {
		workerCount = 1
	}
	if q.conn == nil || q.conn.IsClosed() {
		return ErrQueueClosed
	}
	ch, err := q.openChannel()
	if err != nil {
		return err
	}
	defer ch.Close()

	prefetch := max(q.cfg.Prefetch, workerCount)
	if err := ch.Qos(prefetch, 0, false); err != nil {
		return fmt.Errorf("设置 RabbitMQ prefetch 失败: %w", err)
	}
	deliveries, err := ch.ConsumeWithContext(ctx, q.name, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("订阅队列 %s 失败: %w", q.name, err)
	}

	g, gctx := errgroup.WithContext(ctx)
	for range workerCount {
		g.Go(func() error {
			for {
				select {
				case <-gctx.Done():
					return gctx.Err()
				case d, ok := <-deliveries:
					if !ok {
						return ErrQueueClosed
					}
					if err := handler(gctx, string(d.Body)); err != nil {
						_ = d.Nack(false, !d.Redelivered)
						continue
					}
					_ = d.Ack(false)
				}
			}
		})
	}
	return g.Wait()
}

// Close 关闭发布 channel 与连接，消费 channel 随连接一起关闭。
func (q *RabbitMQQueue) Close() error {
	q.publishMu.Lock()
	defer q.publishMu.Unlock()
	if q.publish != nil {
		_ = q.publish.Close()
	}
	if q.conn == nil || q.conn.IsClosed() {
		return nil
	}
	return q.conn.Close()
}
