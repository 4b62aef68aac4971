package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/taipham2710/OTA-Webserver/internal/config"
	"github.com/taipham2710/OTA-Webserver/internal/models"

	mqttcommon "github.com/taipham2710/OTA-Webserver/internal/common/mqtt"
	rediscommon "github.com/taipham2710/OTA-Webserver/internal/common/redis"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// MQTTConsumer MQTT 遥测消费者
// 只做接入和标准化，落库由 StreamConsumer 负责
type MQTTConsumer struct {
	config      *config.Config
	mqttClient  *mqttcommon.Client
	redisClient *redis.Client
	logger      *zap.Logger
}

// NewMQTTConsumer 创建 MQTT 消费者
func NewMQTTConsumer(
	cfg *config.Config,
	mqttClient *mqttcommon.Client,
	redisClient *redis.Client,
	logger *zap.Logger,
) *MQTTConsumer {
	return &MQTTConsumer{
		config:      cfg,
		mqttClient:  mqttClient,
		redisClient: redisClient,
		logger:      logger,
	}
}

// Start 启动消费者
func (c *MQTTConsumer) Start(ctx context.Context) error {
	if err := c.mqttClient.Subscribe(c.config.Telemetry.Topic, c.config.MQTT.QoS, c.handleMessage); err != nil {
		return fmt.Errorf("failed to subscribe to telemetry topic: %w", err)
	}

	c.logger.Info("MQTT consumer started",
		zap.String("topic", c.config.Telemetry.Topic),
	)

	// 等待上下文取消
	<-ctx.Done()
	return nil
}

// Stop 停止消费者
func (c *MQTTConsumer) Stop(ctx context.Context) error {
	if err := c.mqttClient.Unsubscribe(c.config.Telemetry.Topic); err != nil {
		c.logger.Error("Failed to unsubscribe", zap.Error(err))
	}

	c.logger.Info("MQTT consumer stopped")
	return nil
}

// handleMessage 处理 MQTT 消息
func (c *MQTTConsumer) handleMessage(topic string, payload []byte) error {
	c.logger.Debug("Received MQTT message",
		zap.String("topic", topic),
		zap.Int("payload_size", len(payload)),
	)

	// 1. 从主题中提取设备标识符
	// 主题格式: telemetry/{device_id}/data
	parts := strings.Split(topic, "/")
	if len(parts) < 3 {
		return fmt.Errorf("invalid topic format: %s", topic)
	}
	deviceID := parts[1]
	if deviceID == "" {
		return fmt.Errorf("empty device_id in topic: %s", topic)
	}

	// 2. 解析消息
	var envelope models.TelemetryEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		c.logger.Error("Failed to unmarshal MQTT message",
			zap.String("topic", topic),
			zap.Error(err),
		)
		return fmt.Errorf("failed to unmarshal message: %w", err)
	}
	if len(envelope.Metrics) == 0 {
		return fmt.Errorf("telemetry message has no metrics: %s", topic)
	}

	// 3. 时间戳来源登记：设备未带时间戳时用接收时间补齐并如实记录
	now := time.Now().UTC()
	timestamp := now.Unix()
	timestampProvided := false
	if envelope.Timestamp != nil {
		timestamp = *envelope.Timestamp
		timestampProvided = true
	}

	standardized := map[string]interface{}{
		"device_id":          deviceID,
		"timestamp":          timestamp,
		"timestamp_provided": timestampProvided,
		"metrics":            envelope.Metrics,
		"received_at":        now.Unix(),
		"topic":              topic,
	}

	// 4. 发布到 Redis Streams
	streamID, err := rediscommon.PublishJSONToStream(context.Background(), c.redisClient, c.config.Telemetry.Stream, standardized)
	if err != nil {
		c.logger.Error("Failed to publish to Redis Streams",
			zap.String("stream", c.config.Telemetry.Stream),
			zap.Error(err),
		)
		return fmt.Errorf("failed to publish to stream: %w", err)
	}

	c.logger.Debug("Telemetry published to stream",
		zap.String("device_id", deviceID),
		zap.String("stream_id", streamID),
	)

	return nil
}
