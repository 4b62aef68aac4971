package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/taipham2710/OTA-Webserver/internal/models"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// StateCache 当前异常状态的 Redis 缓存
// Postgres 中的 device_anomaly_state 是权威记录；缓存只用于降低读路径压力，
// 未命中时回源，写入失败不影响已提交的决策
type StateCache struct {
	redisClient *redis.Client
	keyPrefix   string
	keySuffix   string
	ttl         time.Duration
	logger      *zap.Logger
}

// NewStateCache 创建状态缓存
func NewStateCache(redisClient *redis.Client, keyPrefix, keySuffix string, ttlSeconds int, logger *zap.Logger) *StateCache {
	return &StateCache{
		redisClient: redisClient,
		keyPrefix:   keyPrefix,
		keySuffix:   keySuffix,
		ttl:         time.Duration(ttlSeconds) * time.Second,
		logger:      logger,
	}
}

// Key 构建缓存键，如 "ota:device:{device_id}:anomaly"
func (c *StateCache) Key(deviceID string) string {
	return fmt.Sprintf("%s%s%s", c.keyPrefix, deviceID, c.keySuffix)
}

// Get 读取缓存的状态；未命中返回 (nil, nil)
func (c *StateCache) Get(ctx context.Context, deviceID string) (*models.AnomalyState, error) {
	val, err := c.redisClient.Get(ctx, c.Key(deviceID)).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get cached state: %w", err)
	}

	var state models.AnomalyState
	if err := json.Unmarshal([]byte(val), &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cached state: %w", err)
	}

	return &state, nil
}

// Set 写入缓存（带 TTL）
func (c *StateCache) Set(ctx context.Context, state *models.AnomalyState) error {
	if state == nil {
		return fmt.Errorf("state is required")
	}

	jsonData, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	if err := c.redisClient.Set(ctx, c.Key(state.DeviceID), jsonData, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set cached state: %w", err)
	}

	return nil
}

// Delete 删除缓存
func (c *StateCache) Delete(ctx context.Context, deviceID string) error {
	if err := c.redisClient.Del(ctx, c.Key(deviceID)).Err(); err != nil {
		return fmt.Errorf("failed to delete cached state: %w", err)
	}
	return nil
}
