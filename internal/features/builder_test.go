package features

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/taipham2710/OTA-Webserver/internal/apperr"
	"github.com/taipham2710/OTA-Webserver/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeTelemetryReader 测试用遥测数据源
type fakeTelemetryReader struct {
	events []models.TelemetryEvent
	err    error
}

func (f *fakeTelemetryReader) GetRecentTelemetry(ctx context.Context, deviceID string, limit int) ([]models.TelemetryEvent, error) {
	if f.err != nil {
		return nil, f.err
	}
	if len(f.events) > limit {
		return f.events[:limit], nil
	}
	return f.events, nil
}

func telemetryEvent(id int64, ts time.Time, metrics map[string]interface{}) models.TelemetryEvent {
	raw, _ := json.Marshal(metrics)
	return models.TelemetryEvent{
		ID:                id,
		DeviceID:          "device-1",
		Timestamp:         ts,
		TimestampProvided: true,
		Metrics:           raw,
	}
}

func newTestBuilder(t *testing.T, reader TelemetryReader, names []string) *Builder {
	t.Helper()
	builder, err := NewBuilder(reader, names, 10, zap.NewNop())
	require.NoError(t, err)
	return builder
}

func TestNewBuilder_RejectsUnknownFeatureName(t *testing.T) {
	_, err := NewBuilder(&fakeTelemetryReader{}, []string{"cpu_mean", "bogus_feature"}, 10, zap.NewNop())
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unknown feature name")
}

func TestNewBuilder_RejectsDuplicateFeatureName(t *testing.T) {
	_, err := NewBuilder(&fakeTelemetryReader{}, []string{"cpu_mean", "cpu_mean"}, 10, zap.NewNop())
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate feature name")
}

func TestBuild_ExactShapeAndOrder(t *testing.T) {
	base := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC) // 周一
	reader := &fakeTelemetryReader{events: []models.TelemetryEvent{
		telemetryEvent(2, base.Add(time.Minute), map[string]interface{}{"cpu": 30.0, "temp": 44.0}),
		telemetryEvent(1, base, map[string]interface{}{"cpu": 20.0, "temp": 42.0}),
	}}
	names := DefaultFeatureNames()
	builder := newTestBuilder(t, reader, names)

	vector, err := builder.Build(context.Background(), "device-1")
	require.NoError(t, err)

	// 条目数恰好为 2N，键顺序为交错的基础特征顺序
	assert.Equal(t, 2*len(names), vector.Len())
	keys := vector.Keys()
	for i, name := range names {
		assert.Equal(t, name, keys[2*i])
		assert.Equal(t, name+"_present", keys[2*i+1])
	}

	// 观测到的指标族 present=1
	present, _ := vector.Get("cpu_mean_present")
	assert.Equal(t, 1.0, present)
	mean, _ := vector.Get("cpu_mean")
	assert.InDelta(t, 25.0, mean, 1e-9)

	// 未观测的指标族 present=0，统计为 0
	present, _ = vector.Get("battery_mean_present")
	assert.Equal(t, 0.0, present)
	batteryMean, _ := vector.Get("battery_mean")
	assert.Equal(t, 0.0, batteryMean)
}

func TestBuild_ArbitraryN(t *testing.T) {
	reader := &fakeTelemetryReader{events: []models.TelemetryEvent{
		telemetryEvent(1, time.Now(), map[string]interface{}{"cpu": 10.0}),
	}}

	// 任意 N：窄列表同样产生 2N 向量
	names := []string{"cpu_mean", "latency_max", "time_gap_avg"}
	builder := newTestBuilder(t, reader, names)

	vector, err := builder.Build(context.Background(), "device-1")
	require.NoError(t, err)
	assert.Equal(t, 6, vector.Len())
	assert.Equal(t, []string{
		"cpu_mean", "cpu_mean_present",
		"latency_max", "latency_max_present",
		"time_gap_avg", "time_gap_avg_present",
	}, vector.Keys())
}

func TestBuild_MissingProvenanceIsContractViolation(t *testing.T) {
	base := time.Now()
	bad := telemetryEvent(2, base.Add(time.Minute), map[string]interface{}{"cpu": 30.0})
	bad.TimestampProvided = false
	reader := &fakeTelemetryReader{events: []models.TelemetryEvent{
		bad,
		telemetryEvent(1, base, map[string]interface{}{"cpu": 20.0}),
	}}
	builder := newTestBuilder(t, reader, DefaultFeatureNames())

	vector, err := builder.Build(context.Background(), "device-1")
	assert.Nil(t, vector)
	require.Error(t, err)
	assert.True(t, apperr.IsContractViolation(err))
	assert.Contains(t, err.Error(), "timestamp provenance")
}

func TestBuild_ZeroReadingStillPresent(t *testing.T) {
	// 每个窗口事件都是 0% CPU：present 仍为 1
	base := time.Now()
	reader := &fakeTelemetryReader{events: []models.TelemetryEvent{
		telemetryEvent(1, base, map[string]interface{}{"cpu": 0.0}),
		telemetryEvent(2, base.Add(time.Minute), map[string]interface{}{"cpu": 0.0}),
	}}
	builder := newTestBuilder(t, reader, DefaultFeatureNames())

	vector, err := builder.Build(context.Background(), "device-1")
	require.NoError(t, err)

	present, _ := vector.Get("cpu_mean_present")
	assert.Equal(t, 1.0, present)
	mean, _ := vector.Get("cpu_mean")
	assert.Equal(t, 0.0, mean)
}

func TestBuild_EmptyWindow(t *testing.T) {
	reader := &fakeTelemetryReader{}
	builder := newTestBuilder(t, reader, DefaultFeatureNames())

	vector, err := builder.Build(context.Background(), "device-1")
	require.NoError(t, err)

	// 空窗口：所有统计为 0（不是 NaN），所有 present 为 0
	for _, key := range vector.Keys() {
		value, _ := vector.Get(key)
		assert.False(t, value != value, "NaN value for %s", key) // NaN != NaN
	}
	present, _ := vector.Get("time_gap_avg_present")
	assert.Equal(t, 0.0, present)
}

func TestBuild_TemporalFeatures(t *testing.T) {
	// 周六 08:00 起，三个事件间隔 60 秒
	base := time.Date(2026, 3, 7, 8, 0, 0, 0, time.UTC)
	reader := &fakeTelemetryReader{events: []models.TelemetryEvent{
		telemetryEvent(3, base.Add(2*time.Minute), map[string]interface{}{"cpu": 30.0}),
		telemetryEvent(2, base.Add(time.Minute), map[string]interface{}{"cpu": 20.0}),
		telemetryEvent(1, base, map[string]interface{}{"cpu": 10.0}),
	}}
	builder := newTestBuilder(t, reader, DefaultFeatureNames())

	vector, err := builder.Build(context.Background(), "device-1")
	require.NoError(t, err)

	gapAvg, _ := vector.Get("time_gap_avg")
	assert.InDelta(t, 60.0, gapAvg, 1e-9)
	gapStd, _ := vector.Get("time_gap_std")
	assert.InDelta(t, 0.0, gapStd, 1e-9)

	startHour, _ := vector.Get("window_start_hour")
	assert.Equal(t, 8.0, startHour)
	isWeekend, _ := vector.Get("is_weekend")
	assert.Equal(t, 1.0, isWeekend)
	duration, _ := vector.Get("window_duration_minutes")
	assert.InDelta(t, 2.0, duration, 1e-9)
}
