package models

import (
	"time"
)

// HealthState 监控分类的离散健康状态
type HealthState string

const (
	HealthNormal                HealthState = "normal"
	HealthBorderline            HealthState = "borderline"
	HealthPersistentlyAnomalous HealthState = "persistently_anomalous"
)

// WindowStats 单个回看窗口的统计（5m/15m/1h）
type WindowStats struct {
	Count        int     `json:"count"`
	AvgScore     float64 `json:"avg_score"`
	MaxScore     float64 `json:"max_score"`
	AnomalyRatio float64 `json:"anomaly_ratio"`
	BlockRatio   float64 `json:"block_ratio"`
}

// TrendDirection 趋势方向
type TrendDirection string

const (
	TrendIncreasing   TrendDirection = "increasing"
	TrendDecreasing   TrendDirection = "decreasing"
	TrendStableNormal TrendDirection = "stable_normal"
	TrendStableHigh   TrendDirection = "stable_high"
)

// MonitorCurrent 最近一次事件的快照
type MonitorCurrent struct {
	Score     *float64  `json:"score,omitempty"`
	RiskLevel RiskLevel `json:"risk_level"`
	Action    string    `json:"action"`
	DecidedAt time.Time `json:"decided_at"`
}

// MonitorStatus 当前健康状态及持续起点
type MonitorStatus struct {
	State HealthState `json:"state"`
	Since *time.Time  `json:"since,omitempty"` // 连续保持该状态的最早事件时间
}

// MonitorWindows 三个固定回看窗口
type MonitorWindows struct {
	Last5m  WindowStats `json:"5m"`
	Last15m WindowStats `json:"15m"`
	Last1h  WindowStats `json:"1h"`
}

// AnomalyMonitor 监控输出（按请求临时计算，不落库）
type AnomalyMonitor struct {
	Current *MonitorCurrent `json:"current,omitempty"`
	Windows MonitorWindows  `json:"windows"`
	Trend   TrendDirection  `json:"trend"`
	Status  MonitorStatus   `json:"status"`
}

// Last24hSummary 最近 24 小时汇总
type Last24hSummary struct {
	BlockCount  int `json:"block_count"`
	TotalEvents int `json:"total_events"`
}

// Trend7d 最近 7 天评分趋势
type Trend7d struct {
	Direction  string  `json:"direction"` // degrading, improving, stable
	ScoreSlope float64 `json:"score_slope"`
}

// TrendSummary 趋势汇总输出（按请求临时计算，不落库）
type TrendSummary struct {
	Last24h Last24hSummary `json:"last_24h"`
	Trend7d Trend7d        `json:"trend_7d"`
}
