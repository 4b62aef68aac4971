package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/taipham2710/OTA-Webserver/internal/config"
	"github.com/taipham2710/OTA-Webserver/internal/models"
	"github.com/taipham2710/OTA-Webserver/internal/repository"

	rediscommon "github.com/taipham2710/OTA-Webserver/internal/common/redis"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// standardizedTelemetry MQTT 消费者发布到流里的标准化格式
type standardizedTelemetry struct {
	DeviceID          string                 `json:"device_id"`
	Timestamp         int64                  `json:"timestamp"`
	TimestampProvided bool                   `json:"timestamp_provided"`
	Metrics           map[string]interface{} `json:"metrics"`
	ReceivedAt        int64                  `json:"received_at"`
	Topic             string                 `json:"topic"`
}

// StreamConsumer Redis Streams 消费者：遥测落库 + 实时缓存
type StreamConsumer struct {
	config        *config.Config
	redisClient   *redis.Client
	telemetryRepo *repository.TelemetryRepository
	logger        *zap.Logger
}

// NewStreamConsumer 创建 Streams 消费者
func NewStreamConsumer(
	cfg *config.Config,
	redisClient *redis.Client,
	telemetryRepo *repository.TelemetryRepository,
	logger *zap.Logger,
) *StreamConsumer {
	return &StreamConsumer{
		config:        cfg,
		redisClient:   redisClient,
		telemetryRepo: telemetryRepo,
		logger:        logger,
	}
}

// Start 启动消费者
func (c *StreamConsumer) Start(ctx context.Context) error {
	// 创建消费者组
	if err := rediscommon.CreateConsumerGroup(ctx, c.redisClient, c.config.Telemetry.Stream, c.config.Telemetry.ConsumerGroup); err != nil {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}

	c.logger.Info("Stream consumer started",
		zap.String("stream", c.config.Telemetry.Stream),
		zap.String("consumer_group", c.config.Telemetry.ConsumerGroup),
		zap.String("consumer_name", c.config.Telemetry.ConsumerName),
	)

	// 消费循环，出错时指数退避
	backoffDuration := time.Second
	maxBackoff := 30 * time.Second

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
			if err := c.consumeOnce(ctx); err != nil {
				c.logger.Error("Failed to consume stream",
					zap.Error(err),
					zap.Duration("backoff", backoffDuration),
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
			} else {
				backoffDuration = time.Second
			}
		}
	}
}

// consumeOnce 读取并处理一批消息
func (c *StreamConsumer) consumeOnce(ctx context.Context) error {
	messages, err := rediscommon.ReadFromStream(
		ctx,
		c.redisClient,
		c.config.Telemetry.Stream,
		c.config.Telemetry.ConsumerGroup,
		c.config.Telemetry.ConsumerName,
		c.config.Telemetry.BatchSize,
	)
	if err != nil {
		return fmt.Errorf("failed to read from stream: %w", err)
	}

	for _, msg := range messages {
		if err := c.processMessage(ctx, &msg); err != nil {
			c.logger.Error("Failed to process message",
				zap.String("message_id", msg.ID),
				zap.Error(err),
			)
			// 继续处理下一条消息，不中断
			continue
		}

		if err := rediscommon.AckMessage(ctx, c.redisClient, c.config.Telemetry.Stream, c.config.Telemetry.ConsumerGroup, msg.ID); err != nil {
			c.logger.Error("Failed to ack message",
				zap.String("message_id", msg.ID),
				zap.Error(err),
			)
		}
	}

	return nil
}

// processMessage 处理单条消息：落库 Postgres + 刷新实时缓存
func (c *StreamConsumer) processMessage(ctx context.Context, msg *rediscommon.StreamMessage) error {
	rawData, ok := msg.Values["data"].(string)
	if !ok {
		return fmt.Errorf("message %s has no data field", msg.ID)
	}

	var telemetry standardizedTelemetry
	if err := json.Unmarshal([]byte(rawData), &telemetry); err != nil {
		return fmt.Errorf("failed to unmarshal telemetry: %w", err)
	}
	if telemetry.DeviceID == "" {
		return fmt.Errorf("message %s has empty device_id", msg.ID)
	}

	metricsJSON, err := json.Marshal(telemetry.Metrics)
	if err != nil {
		return fmt.Errorf("failed to marshal metrics: %w", err)
	}

	event := &models.TelemetryEvent{
		DeviceID:          telemetry.DeviceID,
		Timestamp:         time.Unix(telemetry.Timestamp, 0).UTC(),
		TimestampProvided: telemetry.TimestampProvided,
		Metrics:           metricsJSON,
	}

	// 1. 落库 Postgres（权威存储）
	if _, err := c.telemetryRepo.InsertTelemetry(ctx, event); err != nil {
		return fmt.Errorf("failed to insert telemetry: %w", err)
	}

	// 2. 刷新实时缓存（尽力而为）
	cacheKey := c.config.Anomaly.Cache.StateKeyPrefix + telemetry.DeviceID + c.config.Anomaly.Cache.RealtimeSuffix
	ttl := time.Duration(c.config.Anomaly.Cache.RealtimeTTL) * time.Second
	if err := c.redisClient.Set(ctx, cacheKey, rawData, ttl).Err(); err != nil {
		c.logger.Warn("Failed to refresh realtime cache",
			zap.String("device_id", telemetry.DeviceID),
			zap.Error(err),
		)
	}

	c.logger.Debug("Telemetry persisted",
		zap.String("device_id", telemetry.DeviceID),
		zap.Bool("timestamp_provided", telemetry.TimestampProvided),
	)

	return nil
}
