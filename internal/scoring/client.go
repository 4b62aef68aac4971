package scoring

import (
	"context"
	"encoding/json"

	"github.com/taipham2710/OTA-Webserver/internal/apperr"
	"github.com/taipham2710/OTA-Webserver/internal/common/config"
	"github.com/taipham2710/OTA-Webserver/internal/models"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// Scorer 外部 ML 评分服务（推理契约的消费端）
type Scorer interface {
	// Score 对特征负载评分；返回经过形状校验的评分结果
	Score(ctx context.Context, deviceID string, features map[string]float64) (*models.ScoreResult, error)
}

// ScoreRequest Scorer API 请求
type ScoreRequest struct {
	DeviceID string             `json:"device_id"`
	Features map[string]float64 `json:"features"`
}

// scoreResponse Scorer API 响应（全部指针字段，用于缺失检测）
// 任何偏离 {score, risk_level, threshold, soft_threshold} 形状的响应
// 都是协议违规，不允许默认值兜底
type scoreResponse struct {
	Score         *float64 `json:"score"`
	RiskLevel     *string  `json:"risk_level"`
	Threshold     *float64 `json:"threshold"`
	SoftThreshold *float64 `json:"soft_threshold"`
}

// Client Scorer HTTP 客户端
type Client struct {
	httpClient *resty.Client
	logger     *zap.Logger
}

// NewClient 创建 Scorer 客户端
// 不配置自动重试：上游不可用时由调用方决定是否重试
func NewClient(cfg *config.ScorerConfig, logger *zap.Logger) *Client {
	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &Client{
		httpClient: client,
		logger:     logger,
	}
}

// Score 调用评分服务
// 传输失败或超时 → UpstreamUnavailable；响应形状非法 → ContractViolation
func (c *Client) Score(ctx context.Context, deviceID string, features map[string]float64) (*models.ScoreResult, error) {
	request := ScoreRequest{
		DeviceID: deviceID,
		Features: features,
	}

	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetBody(request).
		Post("/score")

	if err != nil {
		c.logger.Error("Scorer call failed",
			zap.String("device_id", deviceID),
			zap.Error(err),
		)
		return nil, apperr.UpstreamUnavailable(err, "scorer unreachable")
	}

	if resp.StatusCode() != 200 {
		c.logger.Error("Scorer returned non-200 status",
			zap.String("device_id", deviceID),
			zap.Int("status_code", resp.StatusCode()),
		)
		return nil, apperr.UpstreamUnavailable(nil, "scorer returned status %d", resp.StatusCode())
	}

	return ParseScoreResponse(resp.Body())
}

// ParseScoreResponse 解析并校验 Scorer 响应形状
// parse-or-reject：缺字段、非数值、词表外的 risk_level 一律拒绝
func ParseScoreResponse(body []byte) (*models.ScoreResult, error) {
	var parsed scoreResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, apperr.ContractViolation("scorer response is not valid JSON: %v", err)
	}

	if parsed.Score == nil {
		return nil, apperr.ContractViolation("scorer response missing numeric score")
	}
	if parsed.Threshold == nil {
		return nil, apperr.ContractViolation("scorer response missing numeric threshold")
	}
	if parsed.SoftThreshold == nil {
		return nil, apperr.ContractViolation("scorer response missing numeric soft_threshold")
	}
	if parsed.RiskLevel == nil {
		return nil, apperr.ContractViolation("scorer response missing risk_level")
	}

	riskLevel := models.RiskLevel(*parsed.RiskLevel)
	if !riskLevel.Valid() {
		return nil, apperr.ContractViolation("scorer response has invalid risk_level: %s", *parsed.RiskLevel)
	}

	return &models.ScoreResult{
		Score:         *parsed.Score,
		RiskLevel:     riskLevel,
		Threshold:     *parsed.Threshold,
		SoftThreshold: *parsed.SoftThreshold,
	}, nil
}
