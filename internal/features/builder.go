package features

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"

	"github.com/taipham2710/OTA-Webserver/internal/apperr"
	"github.com/taipham2710/OTA-Webserver/internal/models"

	"go.uber.org/zap"
)

// TelemetryReader 遥测窗口数据源（由 repository 实现）
type TelemetryReader interface {
	// GetRecentTelemetry 返回设备最近的遥测事件，按时间倒序，最多 limit 条
	GetRecentTelemetry(ctx context.Context, deviceID string, limit int) ([]models.TelemetryEvent, error)
}

// Builder 特征向量构建器
// 输入设备ID，输出满足推理契约的 2N 有序特征向量；
// 任何契约违规都是终止性错误，不产生部分向量，不产生副作用
type Builder struct {
	telemetry  TelemetryReader
	names      []string // 外部配置的有序基础特征名列表（长度 N）
	windowSize int      // 按条数取窗口，默认 10
	logger     *zap.Logger
}

// NewBuilder 创建特征向量构建器
// names 中出现构建器无法计算的特征名时立即失败，
// 避免在推理路径上才发现配置错误
func NewBuilder(telemetry TelemetryReader, names []string, windowSize int, logger *zap.Logger) (*Builder, error) {
	if telemetry == nil {
		return nil, fmt.Errorf("telemetry reader is required")
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("feature names list is required")
	}
	if windowSize <= 0 {
		return nil, fmt.Errorf("window size must be positive")
	}

	computable := make(map[string]bool)
	for _, name := range DefaultFeatureNames() {
		computable[name] = true
	}
	seen := make(map[string]bool)
	for _, name := range names {
		if !computable[name] {
			return nil, fmt.Errorf("unknown feature name: %s", name)
		}
		if seen[name] {
			return nil, fmt.Errorf("duplicate feature name: %s", name)
		}
		seen[name] = true
	}

	return &Builder{
		telemetry:  telemetry,
		names:      names,
		windowSize: windowSize,
		logger:     logger,
	}, nil
}

// FeatureNames 返回配置的基础特征名列表
func (b *Builder) FeatureNames() []string {
	return b.names
}

// Build 为设备构建特征向量
func (b *Builder) Build(ctx context.Context, deviceID string) (*Vector, error) {
	if deviceID == "" {
		return nil, apperr.Validation("device_id is required")
	}

	// 1. 获取最近 W 条遥测事件（倒序），重新按时间升序排列
	events, err := b.telemetry.GetRecentTelemetry(ctx, deviceID, b.windowSize)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch telemetry window: %w", err)
	}
	sort.Slice(events, func(i, j int) bool {
		return events[i].Timestamp.Before(events[j].Timestamp)
	})

	// 2. 时间戳来源校验：任何事件缺少来源标志都使整个窗口失效
	for _, event := range events {
		if !event.TimestampProvided {
			return nil, apperr.ContractViolation(
				"telemetry event %d for device %s lacks timestamp provenance", event.ID, deviceID)
		}
	}

	// 3. 原始字段名归一化，按规范指标聚合数值序列
	series := NewMetricSeries()
	for _, event := range events {
		raw := make(map[string]interface{})
		if len(event.Metrics) > 0 {
			if err := json.Unmarshal(event.Metrics, &raw); err != nil {
				return nil, apperr.ContractViolation(
					"telemetry event %d for device %s has malformed metrics payload", event.ID, deviceID)
			}
		}
		series.AddEvent(raw)
	}

	// 4-6. 计算所有基础特征值
	baseValues := b.computeBaseValues(events, series)

	// 7. 组装交错的 2N 向量；_present 标志来自原始观测，不来自计算值
	vector := NewVector(2 * len(b.names))
	windowObserved := len(events) > 0
	for _, name := range b.names {
		value, ok := baseValues[name]
		if !ok {
			return nil, apperr.ContractViolation("feature %s could not be computed", name)
		}

		family := FamilyOf(name)
		present := 0.0
		if family == "time" {
			if windowObserved {
				present = 1.0
			}
		} else if series.Observed[family] {
			present = 1.0
		}

		vector.Append(name, value)
		vector.Append(name+"_present", present)
	}

	// 8. 终检：条目数、键顺序、数值有限性、present 标志二值性
	if err := b.validate(vector); err != nil {
		return nil, err
	}

	b.logger.Debug("Feature vector built",
		zap.String("device_id", deviceID),
		zap.Int("window_events", len(events)),
		zap.Int("vector_size", vector.Len()),
	)

	return vector, nil
}

// computeBaseValues 计算每个可计算基础特征的数值
func (b *Builder) computeBaseValues(events []models.TelemetryEvent, series *MetricSeries) map[string]float64 {
	values := make(map[string]float64)

	// 每个规范指标 6 个基础统计（未观测的指标统计为 0，不是 NaN）
	for _, metric := range CanonicalMetrics {
		vals := series.Values[metric]
		values[metric+"_mean"] = Mean(vals)
		values[metric+"_std"] = StdDev(vals)
		values[metric+"_min"] = Min(vals)
		values[metric+"_max"] = Max(vals)
		values[metric+"_median"] = Median(vals)
		values[metric+"_pct_above"] = PctAbove(vals, HighThreshold(metric))
	}

	// 突发型指标的尖峰占比
	for _, metric := range spikeMetrics {
		values[metric+"_spike_ratio"] = SpikeRatio(series.Values[metric])
	}

	// 时间型指标的趋势斜率和稳定性
	for _, metric := range trendMetrics {
		values[metric+"_trend"] = SlopeOverIndex(series.Values[metric])
		values[metric+"_stability"] = Stability(series.Values[metric])
	}

	// 时间一致性特征：相邻事件时间差（秒）
	var gaps []float64
	for i := 1; i < len(events); i++ {
		gaps = append(gaps, events[i].Timestamp.Sub(events[i-1].Timestamp).Seconds())
	}
	values["time_gap_avg"] = Mean(gaps)
	values["time_gap_std"] = StdDev(gaps)

	// 窗口时间特征：首个事件时间和窗口跨度
	if len(events) > 0 {
		first := events[0].Timestamp
		last := events[len(events)-1].Timestamp
		values["window_start_hour"] = float64(first.Hour())
		values["day_of_week"] = float64(int(first.Weekday()))
		if first.Weekday() == 0 || first.Weekday() == 6 {
			values["is_weekend"] = 1
		} else {
			values["is_weekend"] = 0
		}
		values["window_duration_minutes"] = last.Sub(first).Minutes()
	} else {
		values["window_start_hour"] = 0
		values["day_of_week"] = 0
		values["is_weekend"] = 0
		values["window_duration_minutes"] = 0
	}

	return values
}

// validate 终检交付前的向量契约
func (b *Builder) validate(vector *Vector) error {
	expected := 2 * len(b.names)
	if vector.Len() != expected {
		return apperr.ContractViolation(
			"feature vector has %d entries, expected exactly %d", vector.Len(), expected)
	}

	keys := vector.Keys()
	for i, name := range b.names {
		if keys[2*i] != name {
			return apperr.ContractViolation(
				"feature vector key order mismatch at %d: got %s, expected %s", 2*i, keys[2*i], name)
		}
		if keys[2*i+1] != name+"_present" {
			return apperr.ContractViolation(
				"feature vector key order mismatch at %d: got %s, expected %s_present", 2*i+1, keys[2*i+1], name)
		}
	}

	for _, key := range keys {
		value, _ := vector.Get(key)
		if math.IsNaN(value) || math.IsInf(value, 0) {
			return apperr.ContractViolation("feature %s has non-finite value", key)
		}
	}

	for _, name := range b.names {
		present, _ := vector.Get(name + "_present")
		if present != 0 && present != 1 {
			return apperr.ContractViolation(
				"presence flag %s_present must be 0 or 1, got %v", name, present)
		}
	}

	return nil
}
