package features

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// 特征名构成规则：
//   - 每个规范指标 6 个基础统计：mean, std, min, max, median, pct_above
//   - 尖峰占比（spike_ratio）只对突发型指标计算：cpu, latency, error_count
//   - 时间型指标（battery）额外计算 trend（斜率）和 stability（稳定性）
//   - 时间一致性特征：time_gap_avg, time_gap_std
//   - 窗口时间特征：window_start_hour, day_of_week, is_weekend, window_duration_minutes
// 参考部署的内置列表共 77 个基础特征；实际列表由外部配置决定

// baseStats 每个指标的基础统计后缀（固定顺序）
var baseStats = []string{"mean", "std", "min", "max", "median", "pct_above"}

// spikeMetrics 计算尖峰占比的指标子集
var spikeMetrics = []string{MetricCPU, MetricLatency, MetricErrorCount}

// trendMetrics 计算趋势斜率和稳定性的时间型指标子集
var trendMetrics = []string{MetricBattery}

// temporalFeatures 时间一致性特征（由相邻事件时间差计算）
var temporalFeatures = []string{"time_gap_avg", "time_gap_std"}

// windowFeatures 窗口时间特征（由首个事件时间和窗口跨度计算）
var windowFeatures = []string{"window_start_hour", "day_of_week", "is_weekend", "window_duration_minutes"}

// highThresholds 每个指标的高位阈值（pct_above 统计使用）
var highThresholds = map[string]float64{
	MetricCPU:            90,
	MetricMemory:         90,
	MetricStorage:        85,
	MetricBattery:        95,
	MetricTemperature:    70,
	MetricUptime:         2592000, // 30 天（秒）
	MetricWorkload:       80,
	MetricErrorCount:     10,
	MetricSignalStrength: -50,
	MetricLatency:        500,
	MetricPacketLoss:     5,
}

// DefaultFeatureNames 内置参考特征名列表（N=77，顺序固定）
func DefaultFeatureNames() []string {
	var names []string

	for _, metric := range CanonicalMetrics {
		for _, stat := range baseStats {
			names = append(names, metric+"_"+stat)
		}
	}
	for _, metric := range spikeMetrics {
		names = append(names, metric+"_spike_ratio")
	}
	for _, metric := range trendMetrics {
		names = append(names, metric+"_trend")
		names = append(names, metric+"_stability")
	}
	names = append(names, temporalFeatures...)
	names = append(names, windowFeatures...)

	return names
}

// LoadFeatureNames 从 JSON 文件加载外部配置的特征名列表
// 文件内容为有序字符串数组；为空路径时使用内置列表
func LoadFeatureNames(path string) ([]string, error) {
	if path == "" {
		return DefaultFeatureNames(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read feature names file: %w", err)
	}

	var names []string
	if err := json.Unmarshal(data, &names); err != nil {
		return nil, fmt.Errorf("failed to parse feature names file: %w", err)
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("feature names file is empty: %s", path)
	}

	return names, nil
}

// FamilyOf 返回基础特征所属的指标族（用于 _present 标志）
// 指标族取最长前缀匹配的规范指标；时间类特征的族为 "time"
func FamilyOf(feature string) string {
	family := ""
	for _, metric := range CanonicalMetrics {
		if strings.HasPrefix(feature, metric+"_") && len(metric) > len(family) {
			family = metric
		}
	}
	if family != "" {
		return family
	}
	return "time"
}

// HighThreshold 返回指标的高位阈值
func HighThreshold(metric string) float64 {
	return highThresholds[metric]
}
