package features

import (
	"math"
	"sort"
)

// 统计辅助函数
// 约定：空列表一律返回 0（不返回 NaN），以保证特征向量数值有限

// Mean 均值
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// StdDev 总体标准差
func StdDev(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	mean := Mean(values)
	sumSq := 0.0
	for _, v := range values {
		d := v - mean
		sumSq += d * d
	}
	return math.Sqrt(sumSq / float64(len(values)))
}

// Min 最小值
func Min(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	min := values[0]
	for _, v := range values[1:] {
		if v < min {
			min = v
		}
	}
	return min
}

// Max 最大值
func Max(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	max := values[0]
	for _, v := range values[1:] {
		if v > max {
			max = v
		}
	}
	return max
}

// Median 中位数
func Median(values []float64) float64 {
	n := len(values)
	if n == 0 {
		return 0
	}
	sorted := make([]float64, n)
	copy(sorted, values)
	sort.Float64s(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

// PctAbove 超过阈值的数值占比（0-100）
func PctAbove(values []float64, threshold float64) float64 {
	if len(values) == 0 {
		return 0
	}
	count := 0
	for _, v := range values {
		if v > threshold {
			count++
		}
	}
	return float64(count) / float64(len(values)) * 100
}

// SpikeRatio 尖峰占比：超过 mean + 2·stddev 的数值占比（0-1）
func SpikeRatio(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	mean := Mean(values)
	std := StdDev(values)
	limit := mean + 2*std
	count := 0
	for _, v := range values {
		if v > limit {
			count++
		}
	}
	return float64(count) / float64(len(values))
}

// SlopeOverIndex 以序号为自变量的最小二乘斜率
func SlopeOverIndex(values []float64) float64 {
	n := len(values)
	if n < 2 {
		return 0
	}
	// x = 0..n-1
	var sumX, sumY, sumXY, sumXX float64
	for i, v := range values {
		x := float64(i)
		sumX += x
		sumY += v
		sumXY += x * v
		sumXX += x * x
	}
	fn := float64(n)
	denom := fn*sumXX - sumX*sumX
	if denom == 0 {
		return 0
	}
	return (fn*sumXY - sumX*sumY) / denom
}

// Stability 稳定性指标：100 / (1 + stddev)，stddev 为 0 时封顶为 100
func Stability(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	std := StdDev(values)
	if std == 0 {
		return 100
	}
	stability := 100 / (1 + std)
	if stability > 100 {
		stability = 100
	}
	return stability
}

// TwoPointSlope 首末两点斜率（y 对 x）
func TwoPointSlope(x0, y0, x1, y1 float64) float64 {
	dx := x1 - x0
	if dx == 0 {
		return 0
	}
	return (y1 - y0) / dx
}
