package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/taipham2710/OTA-Webserver/internal/apperr"
	"github.com/taipham2710/OTA-Webserver/internal/features"
	"github.com/taipham2710/OTA-Webserver/internal/models"
	"github.com/taipham2710/OTA-Webserver/internal/scoring"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// inferSource 推理产生的历史事件的来源标签
const inferSource = "inference"

// DeviceReader 设备存在性检查（由 repository.DeviceRepository 实现）
type DeviceReader interface {
	DeviceExists(ctx context.Context, deviceID string) (bool, error)
}

// AnomalyStore 异常决策持久化（由 repository.AnomalyRepository 实现）
type AnomalyStore interface {
	GetCurrentState(ctx context.Context, deviceID string) (*models.AnomalyState, error)
	SaveDecision(ctx context.Context, state *models.AnomalyState, event *models.AnomalyEvent) error
	ListEvents(ctx context.Context, deviceID string, limit int) ([]models.AnomalyEvent, error)
}

// StateCache 当前状态缓存（由 cache.StateCache 实现）
// 缓存失败不影响决策路径，只记日志
type StateCache interface {
	Get(ctx context.Context, deviceID string) (*models.AnomalyState, error)
	Set(ctx context.Context, state *models.AnomalyState) error
}

// DecisionEngine 异常决策引擎
// infer 是唯一允许修改当前状态和历史的操作；analyze 和 readCurrent 无副作用
type DecisionEngine struct {
	devices DeviceReader
	store   AnomalyStore
	cache   StateCache
	builder *features.Builder
	scorer  scoring.Scorer
	locks   *deviceLocks
	logger  *zap.Logger
}

// NewDecisionEngine 创建决策引擎
func NewDecisionEngine(
	devices DeviceReader,
	store AnomalyStore,
	cache StateCache,
	builder *features.Builder,
	scorer scoring.Scorer,
	logger *zap.Logger,
) *DecisionEngine {
	return &DecisionEngine{
		devices: devices,
		store:   store,
		cache:   cache,
		builder: builder,
		scorer:  scorer,
		locks:   newDeviceLocks(),
		logger:  logger,
	}
}

// DecisionFromRisk 权威决策规则：risk_level → decision 固定映射表
func DecisionFromRisk(riskLevel models.RiskLevel) (models.Decision, error) {
	switch riskLevel {
	case models.RiskLow:
		return models.DecisionAllow, nil
	case models.RiskMedium:
		return models.DecisionDelay, nil
	case models.RiskHigh:
		return models.DecisionBlock, nil
	}
	return "", apperr.ContractViolation("unknown risk_level: %s", riskLevel)
}

// DecisionFromScore 历史遗留的决策规则：score 对两个阈值的比较
// 与 DecisionFromRisk 在边界输入上可能不一致；保留为兼容别名，
// 推理路径不使用它
func DecisionFromScore(score, threshold, softThreshold float64) models.Decision {
	if score >= threshold {
		return models.DecisionBlock
	}
	if score >= softThreshold {
		return models.DecisionDelay
	}
	return models.DecisionAllow
}

// ReadCurrent 读取设备当前异常状态（无计算、无副作用）
// 设备不存在 → NotFound；设备存在但从未推理 → (nil, nil)
func (e *DecisionEngine) ReadCurrent(ctx context.Context, deviceID string) (*models.AnomalyState, error) {
	if deviceID == "" {
		return nil, apperr.Validation("device_id is required")
	}

	exists, err := e.devices.DeviceExists(ctx, deviceID)
	if err != nil {
		return nil, fmt.Errorf("failed to check device: %w", err)
	}
	if !exists {
		return nil, apperr.NotFound("device not found: %s", deviceID)
	}

	// 先查缓存，未命中回源 Postgres
	if e.cache != nil {
		cached, err := e.cache.Get(ctx, deviceID)
		if err != nil {
			e.logger.Warn("State cache read failed, falling back to database",
				zap.String("device_id", deviceID),
				zap.Error(err),
			)
		} else if cached != nil {
			return cached, nil
		}
	}

	return e.store.GetCurrentState(ctx, deviceID)
}

// Analyze 构建特征向量并调用 Scorer，返回原始评分结果
// 明确不持久化状态、不追加历史（用于人工检视和 what-if 分析）
func (e *DecisionEngine) Analyze(ctx context.Context, deviceID string) (*models.ScoreResult, error) {
	if deviceID == "" {
		return nil, apperr.Validation("device_id is required")
	}

	exists, err := e.devices.DeviceExists(ctx, deviceID)
	if err != nil {
		return nil, fmt.Errorf("failed to check device: %w", err)
	}
	if !exists {
		return nil, apperr.NotFound("device not found: %s", deviceID)
	}

	vector, err := e.builder.Build(ctx, deviceID)
	if err != nil {
		return nil, err
	}

	return e.scorer.Score(ctx, deviceID, vector.ToMap())
}

// Infer 执行一次完整推理并持久化决策
// 成功时恰好一次状态覆写 + 一次历史追加；任何失败路径零持久化
// 同设备的 Infer 调用按设备锁串行化
func (e *DecisionEngine) Infer(ctx context.Context, deviceID string) (*models.AnomalyState, error) {
	if deviceID == "" {
		return nil, apperr.Validation("device_id is required")
	}

	e.locks.Lock(deviceID)
	defer e.locks.Unlock(deviceID)

	// 1. 设备存在性
	exists, err := e.devices.DeviceExists(ctx, deviceID)
	if err != nil {
		return nil, fmt.Errorf("failed to check device: %w", err)
	}
	if !exists {
		return nil, apperr.NotFound("device not found: %s", deviceID)
	}

	// 2. 特征向量（契约违规原样向上传播，不调用 Scorer）
	vector, err := e.builder.Build(ctx, deviceID)
	if err != nil {
		return nil, err
	}

	// 3. 评分（不可达/超时 → UpstreamUnavailable；形状非法 → ContractViolation）
	result, err := e.scorer.Score(ctx, deviceID, vector.ToMap())
	if err != nil {
		return nil, err
	}

	// 4. 决策：risk_level 固定映射表
	decision, err := DecisionFromRisk(result.RiskLevel)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	state := &models.AnomalyState{
		DeviceID:      deviceID,
		Score:         result.Score,
		RiskLevel:     result.RiskLevel,
		Decision:      decision,
		Threshold:     result.Threshold,
		SoftThreshold: result.SoftThreshold,
		UpdatedAt:     now,
	}
	score := result.Score
	event := &models.AnomalyEvent{
		EventID:       uuid.New().String(),
		DeviceID:      deviceID,
		Score:         &score,
		RiskLevel:     result.RiskLevel,
		Decision:      decision,
		Action:        strings.ToUpper(string(decision)),
		Threshold:     result.Threshold,
		SoftThreshold: result.SoftThreshold,
		Source:        inferSource,
		DecidedAt:     now,
	}

	// 5. 单一事务持久化：状态覆写 + 历史追加
	if err := e.store.SaveDecision(ctx, state, event); err != nil {
		return nil, fmt.Errorf("failed to persist decision: %w", err)
	}

	// 6. 刷新缓存（尽力而为，失败不影响已提交的决策）
	if e.cache != nil {
		if err := e.cache.Set(ctx, state); err != nil {
			e.logger.Warn("Failed to refresh state cache",
				zap.String("device_id", deviceID),
				zap.Error(err),
			)
		}
	}

	e.logger.Info("Inference decision persisted",
		zap.String("device_id", deviceID),
		zap.Float64("score", result.Score),
		zap.String("risk_level", string(result.RiskLevel)),
		zap.String("decision", string(decision)),
	)

	return state, nil
}

// ListHistory 按时间倒序返回设备的决策历史（limit 由调用方给定）
// 无数据时返回空列表
func (e *DecisionEngine) ListHistory(ctx context.Context, deviceID string, limit int) ([]models.AnomalyEvent, error) {
	if deviceID == "" {
		return nil, apperr.Validation("device_id is required")
	}
	return e.store.ListEvents(ctx, deviceID, limit)
}
