package service

import (
	"context"
	"time"

	"github.com/taipham2710/OTA-Webserver/internal/apperr"
	"github.com/taipham2710/OTA-Webserver/internal/models"

	"go.uber.org/zap"
)

const (
	// slopeEpsilon7d 每天评分斜率的平坦判定阈值
	slopeEpsilon7d = 0.01

	// 趋势方向词表
	trendDegrading = "degrading"
	trendImproving = "improving"
	trendStable    = "stable"
)

// EventRangeReader 时间范围事件读取（由 repository.AnomalyRepository 实现）
type EventRangeReader interface {
	ListEventsSince(ctx context.Context, deviceID string, since time.Time) ([]models.AnomalyEvent, error)
}

// TrendService 趋势汇总（纯读侧计算）
type TrendService struct {
	store  EventRangeReader
	logger *zap.Logger
}

// NewTrendService 创建趋势汇总服务
func NewTrendService(store EventRangeReader, logger *zap.Logger) *TrendService {
	return &TrendService{
		store:  store,
		logger: logger,
	}
}

// ComputeLast24h 最近 24 小时汇总：事件总数和 BLOCK 数
func ComputeLast24h(events []models.AnomalyEvent, now time.Time) models.Last24hSummary {
	var summary models.Last24hSummary
	dayStart := now.Add(-24 * time.Hour)

	for _, event := range events {
		if event.DecidedAt.Before(dayStart) {
			continue
		}
		summary.TotalEvents++
		if event.ResolvedAction() == actionBlock {
			summary.BlockCount++
		}
	}

	return summary
}

// ComputeTrend7d 最近 7 天评分趋势
// 最小二乘斜率，自变量为经过天数（长周期用天，故意区别于监控的秒）
func ComputeTrend7d(events []models.AnomalyEvent, now time.Time) models.Trend7d {
	weekStart := now.Add(-7 * 24 * time.Hour)

	// 取 7 天内有评分的事件，按升序假定输入已排序
	var xs, ys []float64
	var origin time.Time
	for _, event := range events {
		if event.DecidedAt.Before(weekStart) || event.Score == nil {
			continue
		}
		if len(xs) == 0 {
			origin = event.DecidedAt
		}
		xs = append(xs, event.DecidedAt.Sub(origin).Hours()/24)
		ys = append(ys, *event.Score)
	}

	slope := olsSlope(xs, ys)

	direction := trendStable
	switch {
	case slope > slopeEpsilon7d:
		direction = trendDegrading
	case slope < -slopeEpsilon7d:
		direction = trendImproving
	}

	return models.Trend7d{
		Direction:  direction,
		ScoreSlope: slope,
	}
}

// olsSlope 最小二乘斜率
func olsSlope(xs, ys []float64) float64 {
	n := len(xs)
	if n < 2 {
		return 0
	}

	var sumX, sumY, sumXY, sumXX float64
	for i := 0; i < n; i++ {
		sumX += xs[i]
		sumY += ys[i]
		sumXY += xs[i] * ys[i]
		sumXX += xs[i] * xs[i]
	}
	fn := float64(n)
	denom := fn*sumXX - sumX*sumX
	if denom == 0 {
		return 0
	}
	return (fn*sumXY - sumX*sumY) / denom
}

// ComputeTrendSummary 趋势汇总输出
// 历史为空时返回中性形状，不报错
func (s *TrendService) ComputeTrendSummary(ctx context.Context, deviceID string) (*models.TrendSummary, error) {
	if deviceID == "" {
		return nil, apperr.Validation("device_id is required")
	}

	now := time.Now().UTC()
	events, err := s.store.ListEventsSince(ctx, deviceID, now.Add(-7*24*time.Hour))
	if err != nil {
		return nil, err
	}

	return &models.TrendSummary{
		Last24h: ComputeLast24h(events, now),
		Trend7d: ComputeTrend7d(events, now),
	}, nil
}
