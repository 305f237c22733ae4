package notify

import (
	"context"
	"fmt"
	"time"

	rediscommon "swasthai-triage/common/redis"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// StreamSubscriber 以消费者组读取变更 stream，处理成功后 ACK
// 每个实例使用独立的消费者组（group:consumer），同一条变更会投递到所有实例
type StreamSubscriber struct {
	client    *redis.Client
	stream    string
	group     string
	consumer  string
	batchSize int64
	block     time.Duration
	handler   Publisher
	logger    *zap.Logger
}

// NewStreamSubscriber 创建 stream 订阅者；handler 通常是 Hub
// group 是组名前缀，实际组名为 InstanceGroup(group, consumer)
func NewStreamSubscriber(client *redis.Client, stream, group, consumer string, handler Publisher, logger *zap.Logger) *StreamSubscriber {
	if stream == "" {
		stream = DefaultStream
	}
	return &StreamSubscriber{
		client:    client,
		stream:    stream,
		group:     InstanceGroup(group, consumer),
		consumer:  consumer,
		batchSize: 50,
		block:     2 * time.Second,
		handler:   handler,
		logger:    logger,
	}
}

// InstanceGroup 实例专属的消费者组名
// 共享一个组时 Redis 会在消费者之间分摊消息，各实例的 websocket 只能收到部分变更
func InstanceGroup(prefix, consumer string) string {
	if prefix == "" {
		return consumer
	}
	return prefix + ":" + consumer
}

// Group 实际使用的消费者组名
func (s *StreamSubscriber) Group() string {
	return s.group
}

// Setup 创建消费者组（已存在则忽略）
func (s *StreamSubscriber) Setup(ctx context.Context) error {
	return rediscommon.CreateConsumerGroup(ctx, s.client, s.stream, s.group)
}

// Run 消费循环，直到 ctx 取消；读取失败时指数退避（1s 起，最多 30s）
func (s *StreamSubscriber) Run(ctx context.Context) error {
	if err := s.Setup(ctx); err != nil {
		return err
	}

	// 先处理上次退出前已投递但未 ACK 的消息
	if err := s.drainPending(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		s.logger.Error("Failed to drain pending changes", zap.String("stream", s.stream), zap.Error(err))
	}

	s.logger.Info("Stream subscriber started",
		zap.String("stream", s.stream),
		zap.String("consumer_group", s.group),
		zap.String("consumer_name", s.consumer),
	)

	backoffDuration := time.Second
	maxBackoff := 30 * time.Second

	for {
		if ctx.Err() != nil {
			return nil
		}
		err := s.consume(ctx)
		if err == nil {
			backoffDuration = time.Second
			continue
		}
		if ctx.Err() != nil {
			return nil
		}

		s.logger.Error("Failed to consume change stream",
			zap.String("stream", s.stream),
			zap.Duration("backoff", backoffDuration),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoffDuration):
			backoffDuration *= 2
			if backoffDuration > maxBackoff {
				backoffDuration = maxBackoff
			}
		}
	}
}

func (s *StreamSubscriber) consume(ctx context.Context) error {
	messages, err := rediscommon.ReadFromStream(ctx, s.client, s.stream, s.group, s.consumer, s.batchSize, s.block)
	if err != nil {
		return fmt.Errorf("failed to read from stream %s: %w", s.stream, err)
	}
	return s.handle(ctx, messages)
}

// drainPending 按 ID 向后翻页读取本消费者的待确认消息；处理失败的消息留在 PEL 中
func (s *StreamSubscriber) drainPending(ctx context.Context) error {
	start := "0"
	drained := 0
	for {
		messages, err := rediscommon.ReadPendingFromStream(ctx, s.client, s.stream, s.group, s.consumer, start, s.batchSize)
		if err != nil {
			return fmt.Errorf("failed to read pending from stream %s: %w", s.stream, err)
		}
		if len(messages) == 0 {
			break
		}
		if err := s.handle(ctx, messages); err != nil {
			return err
		}
		drained += len(messages)
		start = messages[len(messages)-1].ID
	}
	if drained > 0 {
		s.logger.Info("Redelivered pending changes", zap.String("consumer_group", s.group), zap.Int("count", drained))
	}
	return nil
}

func (s *StreamSubscriber) handle(ctx context.Context, messages []rediscommon.StreamMessage) error {
	for _, msg := range messages {
		c, err := DecodeChange(msg.Values)
		if err != nil {
			// 无法解析的消息直接 ACK，避免反复投递
			s.logger.Warn("Dropping malformed change message",
				zap.String("message_id", msg.ID),
				zap.Error(err),
			)
		} else if err := s.handler.Publish(ctx, c); err != nil {
			s.logger.Error("Failed to handle change",
				zap.String("message_id", msg.ID),
				zap.String("event_id", c.EventID),
				zap.Error(err),
			)
			continue
		}
		if err := rediscommon.AckMessage(ctx, s.client, s.stream, s.group, msg.ID); err != nil {
			return fmt.Errorf("failed to ack message %s: %w", msg.ID, err)
		}
	}
	return nil
}
