package cache

import (
	"context"
	"testing"
	"time"

	"github.com/taipham2710/OTA-Webserver/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupTestCache(t *testing.T) (*miniredis.Miniredis, *StateCache) {
	mr := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})

	cache := NewStateCache(redisClient, "ota:device:", ":anomaly", 60, zap.NewNop())
	return mr, cache
}

func TestStateCache_SetAndGet(t *testing.T) {
	_, cache := setupTestCache(t)
	ctx := context.Background()

	state := &models.AnomalyState{
		DeviceID:      "device-123",
		Score:         0.42,
		RiskLevel:     models.RiskMedium,
		Decision:      models.DecisionDelay,
		Threshold:     0.8,
		SoftThreshold: 0.5,
		UpdatedAt:     time.Now().UTC().Truncate(time.Second),
	}

	err := cache.Set(ctx, state)
	require.NoError(t, err)

	got, err := cache.Get(ctx, "device-123")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, state.DeviceID, got.DeviceID)
	assert.Equal(t, state.Score, got.Score)
	assert.Equal(t, state.RiskLevel, got.RiskLevel)
	assert.Equal(t, state.Decision, got.Decision)
}

func TestStateCache_GetMiss(t *testing.T) {
	_, cache := setupTestCache(t)

	got, err := cache.Get(context.Background(), "device-unknown")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestStateCache_KeyFormat(t *testing.T) {
	_, cache := setupTestCache(t)
	assert.Equal(t, "ota:device:device-1:anomaly", cache.Key("device-1"))
}

func TestStateCache_TTL(t *testing.T) {
	mr, cache := setupTestCache(t)
	ctx := context.Background()

	state := &models.AnomalyState{
		DeviceID:  "device-ttl",
		RiskLevel: models.RiskLow,
		Decision:  models.DecisionAllow,
		UpdatedAt: time.Now(),
	}
	require.NoError(t, cache.Set(ctx, state))

	// TTL 过期后不再命中
	mr.FastForward(61 * time.Second)

	got, err := cache.Get(ctx, "device-ttl")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestStateCache_Delete(t *testing.T) {
	_, cache := setupTestCache(t)
	ctx := context.Background()

	state := &models.AnomalyState{
		DeviceID:  "device-del",
		RiskLevel: models.RiskLow,
		Decision:  models.DecisionAllow,
		UpdatedAt: time.Now(),
	}
	require.NoError(t, cache.Set(ctx, state))
	require.NoError(t, cache.Delete(ctx, "device-del"))

	got, err := cache.Get(ctx, "device-del")
	require.NoError(t, err)
	assert.Nil(t, got)
}
