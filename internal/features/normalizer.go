package features

import (
	"strings"
)

// 规范指标集（固定顺序）
const (
	MetricCPU            = "cpu"
	MetricMemory         = "memory"
	MetricStorage        = "storage"
	MetricBattery        = "battery"
	MetricTemperature    = "temperature"
	MetricUptime         = "uptime"
	MetricWorkload       = "workload"
	MetricErrorCount     = "error_count"
	MetricSignalStrength = "signal_strength"
	MetricLatency        = "latency"
	MetricPacketLoss     = "packet_loss"
)

// CanonicalMetrics 规范指标列表（固定顺序，特征名按此顺序生成）
var CanonicalMetrics = []string{
	MetricCPU,
	MetricMemory,
	MetricStorage,
	MetricBattery,
	MetricTemperature,
	MetricUptime,
	MetricWorkload,
	MetricErrorCount,
	MetricSignalStrength,
	MetricLatency,
	MetricPacketLoss,
}

// metricAliases 厂家字段别名表（小写匹配）
// 缺失的指标保持缺失，不在此阶段补零
var metricAliases = map[string]string{
	// CPU
	"cpu":             MetricCPU,
	"cpu_usage":       MetricCPU,
	"cpu_util":        MetricCPU,
	"cpu_percent":     MetricCPU,
	"cpuusage":        MetricCPU,
	// 内存
	"memory":          MetricMemory,
	"memory_usage":    MetricMemory,
	"mem":             MetricMemory,
	"mem_usage":       MetricMemory,
	"ram":             MetricMemory,
	"ram_usage":       MetricMemory,
	// 存储
	"storage":         MetricStorage,
	"storage_used":    MetricStorage,
	"disk":            MetricStorage,
	"disk_usage":      MetricStorage,
	"flash_used":      MetricStorage,
	// 电量
	"battery":         MetricBattery,
	"battery_level":   MetricBattery,
	"batt":            MetricBattery,
	"battery_pct":     MetricBattery,
	// 温度
	"temperature":     MetricTemperature,
	"temp":            MetricTemperature,
	"temperature_c":   MetricTemperature,
	"cpu_temp":        MetricTemperature,
	// 运行时长
	"uptime":          MetricUptime,
	"uptime_s":        MetricUptime,
	"uptime_seconds":  MetricUptime,
	"uptime_sec":      MetricUptime,
	// 负载
	"workload":        MetricWorkload,
	"load":            MetricWorkload,
	"load_avg":        MetricWorkload,
	"task_load":       MetricWorkload,
	// 错误计数
	"error_count":     MetricErrorCount,
	"errors":          MetricErrorCount,
	"err_cnt":         MetricErrorCount,
	"error_cnt":       MetricErrorCount,
	// 信号强度
	"signal_strength": MetricSignalStrength,
	"signal":          MetricSignalStrength,
	"rssi":            MetricSignalStrength,
	"wifi_rssi":       MetricSignalStrength,
	// 延迟
	"latency":         MetricLatency,
	"latency_ms":      MetricLatency,
	"rtt":             MetricLatency,
	"rtt_ms":          MetricLatency,
	"ping_ms":         MetricLatency,
	// 丢包率
	"packet_loss":     MetricPacketLoss,
	"pkt_loss":        MetricPacketLoss,
	"loss_rate":       MetricPacketLoss,
	"packet_loss_pct": MetricPacketLoss,
}

// CanonicalName 将原始字段名映射为规范指标名
func CanonicalName(field string) (string, bool) {
	canonical, ok := metricAliases[strings.ToLower(strings.TrimSpace(field))]
	return canonical, ok
}

// MetricSeries 窗口内按规范指标聚合的数值序列
type MetricSeries struct {
	// Values 规范指标 → 按事件顺序排列的数值列表
	Values map[string][]float64
	// Observed 规范指标是否在窗口内被观测到至少一次
	// 合法的 0 值读数（如 0% CPU）也算观测到
	Observed map[string]bool
}

// NewMetricSeries 创建空的指标序列
func NewMetricSeries() *MetricSeries {
	return &MetricSeries{
		Values:   make(map[string][]float64),
		Observed: make(map[string]bool),
	}
}

// AddEvent 累加一个事件的原始指标
// 只有数值型的字段算作观测；未知字段名被忽略
func (s *MetricSeries) AddEvent(raw map[string]interface{}) {
	for field, value := range raw {
		canonical, ok := CanonicalName(field)
		if !ok {
			continue
		}

		num, ok := toFloat(value)
		if !ok {
			continue
		}

		s.Values[canonical] = append(s.Values[canonical], num)
		s.Observed[canonical] = true
	}
}

// toFloat 将 JSON 解码后的值转换为 float64
func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
