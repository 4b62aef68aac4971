package service

import (
	"context"
	"sort"
	"time"

	"github.com/taipham2710/OTA-Webserver/internal/apperr"
	"github.com/taipham2710/OTA-Webserver/internal/models"

	"go.uber.org/zap"
)

const (
	// monitorHistoryLimit 监控计算读取的历史条数上限（最近几百条足够）
	monitorHistoryLimit = 500

	// actionBlock 解析后的 BLOCK 动作
	actionBlock = "BLOCK"

	// trendEpsilon 每秒评分斜率的平坦判定阈值
	trendEpsilon = 1e-6

	// saturatedRatio 窗口饱和判定阈值（block/anomaly 占比）
	saturatedRatio = 0.6

	// borderlineRatio 边界状态判定阈值
	borderlineRatio = 0.2
)

// Monitor 异常监控（纯读侧计算，按请求从历史推导，不落库）
type Monitor struct {
	store  AnomalyStore
	logger *zap.Logger
}

// NewMonitor 创建监控
func NewMonitor(store AnomalyStore, logger *zap.Logger) *Monitor {
	return &Monitor{
		store:  store,
		logger: logger,
	}
}

// ComputeWindowStats 计算单个回看窗口的统计
// 评分缺失的事件在 avg/max 中直接排除（不当作 0）
func ComputeWindowStats(events []models.AnomalyEvent, windowStart time.Time) models.WindowStats {
	var stats models.WindowStats

	var scoreSum float64
	var scoreCount int
	var anomalies, blocks int

	for _, event := range events {
		if event.DecidedAt.Before(windowStart) {
			continue
		}
		stats.Count++

		if event.Score != nil {
			scoreSum += *event.Score
			if scoreCount == 0 || *event.Score > stats.MaxScore {
				stats.MaxScore = *event.Score
			}
			scoreCount++
		}
		if event.RiskLevel != models.RiskLow {
			anomalies++
		}
		if event.ResolvedAction() == actionBlock {
			blocks++
		}
	}

	if scoreCount > 0 {
		stats.AvgScore = scoreSum / float64(scoreCount)
	}
	if stats.Count > 0 {
		stats.AnomalyRatio = float64(anomalies) / float64(stats.Count)
		stats.BlockRatio = float64(blocks) / float64(stats.Count)
	}

	return stats
}

// Classify 由 15 分钟窗口统计推导健康分类
func Classify(stats15m models.WindowStats) models.HealthState {
	if stats15m.BlockRatio >= saturatedRatio || stats15m.AnomalyRatio >= saturatedRatio {
		return models.HealthPersistentlyAnomalous
	}
	if stats15m.AnomalyRatio >= borderlineRatio {
		return models.HealthBorderline
	}
	return models.HealthNormal
}

// classifyEvent 单事件健康分类（与 ComputeSince 的逐事件规则一致）
func classifyEvent(event models.AnomalyEvent) models.HealthState {
	if event.ResolvedAction() == actionBlock {
		return models.HealthPersistentlyAnomalous
	}

	switch event.RiskLevel {
	case models.RiskHigh:
		return models.HealthPersistentlyAnomalous
	case models.RiskMedium, models.RiskLevel("warning"):
		return models.HealthBorderline
	case models.RiskLow:
		return models.HealthNormal
	}

	// risk_level 缺失时回退到 decision 字段
	switch event.Decision {
	case models.DecisionBlock:
		return models.HealthPersistentlyAnomalous
	case models.DecisionDelay:
		return models.HealthBorderline
	default:
		return models.HealthNormal
	}
}

// ComputeSince 计算当前状态的持续起点
// 从最新事件向回扫描，遇到第一个分类不同的事件即停；
// since 为连续匹配段中最老事件的时间。没有任何匹配事件时返回 nil
func ComputeSince(events []models.AnomalyEvent, targetState models.HealthState) *time.Time {
	// 按时间倒序扫描（惰性前缀，不需要整个历史）
	sorted := make([]models.AnomalyEvent, len(events))
	copy(sorted, events)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].DecidedAt.After(sorted[j].DecidedAt)
	})

	var since *time.Time
	for i := range sorted {
		if classifyEvent(sorted[i]) != targetState {
			break
		}
		since = &sorted[i].DecidedAt
	}

	return since
}

// ComputeTrend 计算最近一小时的评分趋势
// 首末两点斜率（评分对经过秒数），不做完整回归；
// 斜率平坦但 15 分钟窗口已饱和时报告 stable_high，
// 用于区分"一直很差"和"刚刚变差"
func ComputeTrend(events []models.AnomalyEvent, stats15m models.WindowStats) models.TrendDirection {
	// 只取有评分的事件，按时间升序
	var scored []models.AnomalyEvent
	for _, event := range events {
		if event.Score != nil {
			scored = append(scored, event)
		}
	}
	sort.Slice(scored, func(i, j int) bool {
		return scored[i].DecidedAt.Before(scored[j].DecidedAt)
	})

	slope := 0.0
	if len(scored) >= 2 {
		first := scored[0]
		last := scored[len(scored)-1]
		elapsed := last.DecidedAt.Sub(first.DecidedAt).Seconds()
		if elapsed > 0 {
			slope = (*last.Score - *first.Score) / elapsed
		}
	}

	switch {
	case slope > trendEpsilon:
		return models.TrendIncreasing
	case slope < -trendEpsilon:
		return models.TrendDecreasing
	}

	if stats15m.BlockRatio >= saturatedRatio || stats15m.AnomalyRatio >= saturatedRatio {
		return models.TrendStableHigh
	}
	return models.TrendStableNormal
}

// ComputeAnomalyMonitor 汇总监控输出：current + 三个窗口 + 趋势 + 状态
// 历史为空时返回中性形状，不报错
func (m *Monitor) ComputeAnomalyMonitor(ctx context.Context, deviceID string) (*models.AnomalyMonitor, error) {
	if deviceID == "" {
		return nil, apperr.Validation("device_id is required")
	}

	events, err := m.store.ListEvents(ctx, deviceID, monitorHistoryLimit)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	stats5m := ComputeWindowStats(events, now.Add(-5*time.Minute))
	stats15m := ComputeWindowStats(events, now.Add(-15*time.Minute))
	stats1h := ComputeWindowStats(events, now.Add(-time.Hour))

	// 趋势只看最近一小时的事件
	var lastHour []models.AnomalyEvent
	hourStart := now.Add(-time.Hour)
	for _, event := range events {
		if !event.DecidedAt.Before(hourStart) {
			lastHour = append(lastHour, event)
		}
	}

	monitor := &models.AnomalyMonitor{
		Windows: models.MonitorWindows{
			Last5m:  stats5m,
			Last15m: stats15m,
			Last1h:  stats1h,
		},
		Trend: ComputeTrend(lastHour, stats15m),
	}

	state := Classify(stats15m)
	monitor.Status = models.MonitorStatus{
		State: state,
		Since: ComputeSince(events, state),
	}

	if len(events) > 0 {
		// ListEvents 按时间倒序，首个即最新
		latest := events[0]
		monitor.Current = &models.MonitorCurrent{
			Score:     latest.Score,
			RiskLevel: latest.RiskLevel,
			Action:    latest.ResolvedAction(),
			DecidedAt: latest.DecidedAt,
		}
	}

	return monitor, nil
}
