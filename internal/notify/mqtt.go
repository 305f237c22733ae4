package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"
)

// DefaultTopic 候诊大屏订阅的主题
const DefaultTopic = "triage/queue/changed"

// mqttPublisher common/mqtt.Client 中用到的部分
type mqttPublisher interface {
	Publish(topic string, qos byte, retained bool, payload []byte) error
	QoS() byte
}

// MQTTPublisher 向 MQTT 主题发布变更（候诊大屏）
type MQTTPublisher struct {
	client mqttPublisher
	topic  string
	logger *zap.Logger
}

// NewMQTTPublisher 创建 MQTT 发布者
func NewMQTTPublisher(client mqttPublisher, topic string, logger *zap.Logger) *MQTTPublisher {
	if topic == "" {
		topic = DefaultTopic
	}
	return &MQTTPublisher{
		client: client,
		topic:  topic,
		logger: logger,
	}
}

func (p *MQTTPublisher) Publish(_ context.Context, c Change) error {
	payload, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal change: %w", err)
	}
	if err := p.client.Publish(p.topic, p.client.QoS(), false, payload); err != nil {
		return err
	}
	p.logger.Debug("Change published to MQTT",
		zap.String("topic", p.topic),
		zap.String("event_id", c.EventID),
	)
	return nil
}
