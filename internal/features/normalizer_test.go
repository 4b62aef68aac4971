package features

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanonicalName(t *testing.T) {
	// 厂家别名映射
	name, ok := CanonicalName("cpu_usage")
	assert.True(t, ok)
	assert.Equal(t, MetricCPU, name)

	name, ok = CanonicalName("RSSI")
	assert.True(t, ok)
	assert.Equal(t, MetricSignalStrength, name)

	name, ok = CanonicalName(" temp ")
	assert.True(t, ok)
	assert.Equal(t, MetricTemperature, name)

	// 未知字段名
	_, ok = CanonicalName("unknown_field")
	assert.False(t, ok)
}

func TestMetricSeries_AddEvent(t *testing.T) {
	series := NewMetricSeries()

	series.AddEvent(map[string]interface{}{
		"cpu_usage": 10.5,
		"mem":       float64(2048),
		"vendor_x":  3.3, // 未知字段被忽略
	})
	series.AddEvent(map[string]interface{}{
		"cpu": 20.0,
	})

	assert.Equal(t, []float64{10.5, 20.0}, series.Values[MetricCPU])
	assert.Equal(t, []float64{2048}, series.Values[MetricMemory])
	assert.True(t, series.Observed[MetricCPU])
	assert.True(t, series.Observed[MetricMemory])
	assert.False(t, series.Observed[MetricBattery])
}

func TestMetricSeries_ZeroValueCountsAsObserved(t *testing.T) {
	series := NewMetricSeries()

	// 合法的 0 值读数（0% CPU）也算观测到
	series.AddEvent(map[string]interface{}{"cpu": 0.0})

	assert.True(t, series.Observed[MetricCPU])
	assert.Equal(t, []float64{0}, series.Values[MetricCPU])
}

func TestMetricSeries_NonNumericIgnored(t *testing.T) {
	series := NewMetricSeries()

	series.AddEvent(map[string]interface{}{"cpu": "busy"})

	assert.False(t, series.Observed[MetricCPU])
	assert.Empty(t, series.Values[MetricCPU])
}

func TestFamilyOf(t *testing.T) {
	assert.Equal(t, MetricCPU, FamilyOf("cpu_mean"))
	assert.Equal(t, MetricErrorCount, FamilyOf("error_count_pct_above"))
	assert.Equal(t, MetricPacketLoss, FamilyOf("packet_loss_std"))
	assert.Equal(t, MetricBattery, FamilyOf("battery_trend"))
	assert.Equal(t, "time", FamilyOf("time_gap_avg"))
	assert.Equal(t, "time", FamilyOf("window_start_hour"))
}

func TestDefaultFeatureNames_ReferenceLength(t *testing.T) {
	names := DefaultFeatureNames()

	// 参考部署: 11×6 + 3 尖峰 + 2 电量趋势 + 2 时间一致性 + 4 窗口时间 = 77
	assert.Len(t, names, 77)

	// 顺序固定：第一个指标的 6 个统计开头
	assert.Equal(t, "cpu_mean", names[0])
	assert.Equal(t, "cpu_pct_above", names[5])
	assert.Equal(t, "window_duration_minutes", names[len(names)-1])

	// 无重复
	seen := make(map[string]bool)
	for _, n := range names {
		assert.False(t, seen[n], "duplicate feature name: %s", n)
		seen[n] = true
	}
}
