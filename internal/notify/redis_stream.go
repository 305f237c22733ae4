package notify

import (
	"context"
	"encoding/json"
	"fmt"

	rediscommon "swasthai-triage/common/redis"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// DefaultStream 默认通知 stream
const DefaultStream = "triage:intake-events"

// RedisStreamPublisher 通过 Redis Streams (XADD) 发布变更
type RedisStreamPublisher struct {
	client *redis.Client
	stream string
	maxLen int64
	logger *zap.Logger
}

// NewRedisStreamPublisher 创建 Redis Streams 发布者
func NewRedisStreamPublisher(client *redis.Client, stream string, maxLen int64, logger *zap.Logger) *RedisStreamPublisher {
	if stream == "" {
		stream = DefaultStream
	}
	return &RedisStreamPublisher{
		client: client,
		stream: stream,
		maxLen: maxLen,
		logger: logger,
	}
}

// Publish 写入 stream，消息体为 data 字段中的 JSON
func (p *RedisStreamPublisher) Publish(ctx context.Context, c Change) error {
	id, err := rediscommon.PublishJSONToStream(ctx, p.client, p.stream, p.maxLen, c)
	if err != nil {
		return fmt.Errorf("failed to publish change to stream %s: %w", p.stream, err)
	}
	p.logger.Debug("Change published to stream",
		zap.String("stream", p.stream),
		zap.String("message_id", id),
		zap.String("event_id", c.EventID),
		zap.String("kind", string(c.Kind)),
	)
	return nil
}

// DecodeChange 解析 stream 消息
func DecodeChange(values map[string]interface{}) (Change, error) {
	raw, ok := values["data"].(string)
	if !ok {
		return Change{}, fmt.Errorf("stream message has no data field")
	}
	var c Change
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		return Change{}, fmt.Errorf("failed to unmarshal change: %w", err)
	}
	return c, nil
}
