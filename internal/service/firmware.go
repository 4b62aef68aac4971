package service

import (
	"context"
	"fmt"
	"time"

	"github.com/taipham2710/OTA-Webserver/internal/apperr"
	"github.com/taipham2710/OTA-Webserver/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// gateDecision 固件分配门禁的决策变体
// DecisionUnavailable 是显式哨兵：决策无法获得时按 fail-closed 处理，
// 效果等同 delay，但保留区分以便审计
type gateDecision string

const (
	gateAllow       gateDecision = "allow"
	gateDelay       gateDecision = "delay"
	gateBlock       gateDecision = "block"
	gateUnavailable gateDecision = "unavailable"
)

// reportNextStates 设备进度上报的合法转换表（按当前状态）
var reportNextStates = map[models.FirmwareStatus][]models.OTAReportStatus{
	models.FirmwareAssigned:    {models.OTAReportDownloading, models.OTAReportFailed},
	models.FirmwareDownloading: {models.OTAReportUpdating, models.OTAReportFailed},
	models.FirmwareUpdating:    {models.OTAReportSuccess, models.OTAReportFailed},
}

// DecisionReader 异常决策读取（由 DecisionEngine 实现）
type DecisionReader interface {
	ReadCurrent(ctx context.Context, deviceID string) (*models.AnomalyState, error)
}

// FirmwareStore 固件状态持久化（由 repository.FirmwareRepository 实现）
type FirmwareStore interface {
	GetFirmwareState(ctx context.Context, deviceID string) (*models.FirmwareState, error)
	EnsureFirmwareState(ctx context.Context, deviceID string) error
	ApplyTransition(ctx context.Context, state *models.FirmwareState, event *models.OTAEvent) error
	ListOTAEvents(ctx context.Context, deviceID string, limit int) ([]models.OTAEvent, error)
}

// FirmwareService 固件下发状态机
// 每个被接受的转换 = 状态覆写 + 一条追加型 OTA 事件（单一事务）；
// 同设备转换按设备锁串行化，保证读-判-写不与并发转换交错
type FirmwareService struct {
	devices   DeviceReader
	store     FirmwareStore
	decisions DecisionReader
	locks     *deviceLocks
	logger    *zap.Logger
}

// NewFirmwareService 创建固件状态机服务
func NewFirmwareService(
	devices DeviceReader,
	store FirmwareStore,
	decisions DecisionReader,
	logger *zap.Logger,
) *FirmwareService {
	return &FirmwareService{
		devices:   devices,
		store:     store,
		decisions: decisions,
		locks:     newDeviceLocks(),
		logger:    logger,
	}
}

// GetState 读取设备固件状态；未初始化的设备返回隐式 idle
func (s *FirmwareService) GetState(ctx context.Context, deviceID string) (*models.FirmwareState, error) {
	if deviceID == "" {
		return nil, apperr.Validation("device_id is required")
	}

	state, err := s.store.GetFirmwareState(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	if state == nil {
		return &models.FirmwareState{
			DeviceID: deviceID,
			Status:   models.FirmwareIdle,
		}, nil
	}
	return state, nil
}

// ListOTAEvents 读取设备 OTA 事件历史（倒序）
func (s *FirmwareService) ListOTAEvents(ctx context.Context, deviceID string, limit int) ([]models.OTAEvent, error) {
	if deviceID == "" {
		return nil, apperr.Validation("device_id is required")
	}
	return s.store.ListOTAEvents(ctx, deviceID, limit)
}

// gate 咨询决策引擎的最后一次持久化决策
// 决策无法获得时返回显式哨兵（fail-closed，按 delay 处理）
func (s *FirmwareService) gate(ctx context.Context, deviceID string) gateDecision {
	state, err := s.decisions.ReadCurrent(ctx, deviceID)
	if err != nil {
		s.logger.Warn("Failed to obtain anomaly decision, failing closed",
			zap.String("device_id", deviceID),
			zap.Error(err),
		)
		return gateUnavailable
	}
	if state == nil {
		return gateUnavailable
	}

	switch state.Decision {
	case models.DecisionAllow:
		return gateAllow
	case models.DecisionDelay:
		return gateDelay
	case models.DecisionBlock:
		return gateBlock
	}
	return gateUnavailable
}

// Assign 管理员发起的固件分配
// 守卫：目标版本不得低于当前版本（字典序）；updating 期间不可分配；
// 异常决策 block → 拒绝，delay（含 fail-closed）→ 落入 pending 并记录原因
func (s *FirmwareService) Assign(ctx context.Context, deviceID, targetVersion string) (*models.FirmwareState, error) {
	if deviceID == "" {
		return nil, apperr.Validation("device_id is required")
	}
	if targetVersion == "" {
		return nil, apperr.Validation("target_version is required")
	}

	s.locks.Lock(deviceID)
	defer s.locks.Unlock(deviceID)

	exists, err := s.devices.DeviceExists(ctx, deviceID)
	if err != nil {
		return nil, fmt.Errorf("failed to check device: %w", err)
	}
	if !exists {
		return nil, apperr.NotFound("device not found: %s", deviceID)
	}

	if err := s.store.EnsureFirmwareState(ctx, deviceID); err != nil {
		return nil, err
	}
	current, err := s.store.GetFirmwareState(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	if current == nil {
		current = &models.FirmwareState{DeviceID: deviceID, Status: models.FirmwareIdle}
	}

	// 版本回退守卫（字典序比较）
	if current.CurrentVersion != "" && targetVersion < current.CurrentVersion {
		return nil, apperr.InvalidTransition(
			"target version %s is older than current version %s", targetVersion, current.CurrentVersion)
	}
	if current.Status == models.FirmwareUpdating {
		return nil, apperr.InvalidTransition("assignment rejected: device is updating")
	}

	// 异常决策门禁（fail-closed）
	var toStatus models.FirmwareStatus
	var reason *string
	switch gate := s.gate(ctx, deviceID); gate {
	case gateBlock:
		return nil, apperr.InvalidTransition("assignment rejected: anomaly decision is block")
	case gateDelay:
		toStatus = models.FirmwarePending
		r := "anomaly decision: delay"
		reason = &r
	case gateUnavailable:
		toStatus = models.FirmwarePending
		r := "anomaly decision unavailable, failing closed to delay"
		reason = &r
	case gateAllow:
		toStatus = models.FirmwareAssigned
	default:
		return nil, apperr.InvalidTransition("assignment rejected: unrecognized gate decision %s", gate)
	}

	now := time.Now().UTC()
	next := &models.FirmwareState{
		DeviceID:       deviceID,
		CurrentVersion: current.CurrentVersion,
		DesiredVersion: targetVersion,
		Status:         toStatus,
		AssignedAt:     &now,
		UpdatedAt:      now,
	}
	event := &models.OTAEvent{
		EventID:    uuid.New().String(),
		DeviceID:   deviceID,
		Action:     "assign",
		FromStatus: current.Status,
		ToStatus:   toStatus,
		Source:     "admin",
		Reason:     reason,
		Metadata:   fmt.Sprintf(`{"target_version":%q}`, targetVersion),
		CreatedAt:  now,
	}

	if err := s.store.ApplyTransition(ctx, next, event); err != nil {
		return nil, err
	}

	s.logger.Info("Firmware assigned",
		zap.String("device_id", deviceID),
		zap.String("target_version", targetVersion),
		zap.String("status", string(toStatus)),
	)

	return next, nil
}

// Report 设备发起的进度上报
// 只在 assigned/downloading/updating 状态下合法；otaStatus 必须匹配
// 当前状态的合法转换表；success 额外要求上报版本等于 desiredVersion
func (s *FirmwareService) Report(ctx context.Context, deviceID string, otaStatus models.OTAReportStatus, reportedVersion string) (*models.FirmwareState, error) {
	if deviceID == "" {
		return nil, apperr.Validation("device_id is required")
	}
	if otaStatus == "" {
		return nil, apperr.Validation("ota_status is required")
	}
	if !otaStatus.Valid() {
		return nil, apperr.Validation("invalid ota_status: %s", otaStatus)
	}

	s.locks.Lock(deviceID)
	defer s.locks.Unlock(deviceID)

	current, err := s.store.GetFirmwareState(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, apperr.InvalidTransition("report rejected: no rollout in progress for device %s", deviceID)
	}

	allowed, ok := reportNextStates[current.Status]
	if !ok {
		return nil, apperr.InvalidTransition(
			"report rejected: device status %s does not accept progress reports", current.Status)
	}
	legal := false
	for _, candidate := range allowed {
		if candidate == otaStatus {
			legal = true
			break
		}
	}
	if !legal {
		return nil, apperr.InvalidTransition(
			"report rejected: transition %s -> %s is not allowed", current.Status, otaStatus)
	}

	now := time.Now().UTC()
	next := &models.FirmwareState{
		DeviceID:       deviceID,
		CurrentVersion: current.CurrentVersion,
		DesiredVersion: current.DesiredVersion,
		Status:         models.FirmwareStatus(otaStatus),
		AssignedAt:     current.AssignedAt,
		UpdatedAt:      now,
	}

	if otaStatus == models.OTAReportSuccess {
		if reportedVersion != current.DesiredVersion {
			return nil, apperr.InvalidTransition(
				"report rejected: reported version %s does not match desired version %s",
				reportedVersion, current.DesiredVersion)
		}
		// 升级完成：晋升当前版本并清空目标版本
		next.CurrentVersion = current.DesiredVersion
		next.DesiredVersion = ""
	}

	event := &models.OTAEvent{
		EventID:    uuid.New().String(),
		DeviceID:   deviceID,
		Action:     "report",
		FromStatus: current.Status,
		ToStatus:   next.Status,
		Source:     "device",
		Metadata:   fmt.Sprintf(`{"reported_version":%q}`, reportedVersion),
		CreatedAt:  now,
	}

	if err := s.store.ApplyTransition(ctx, next, event); err != nil {
		return nil, err
	}

	s.logger.Info("Firmware progress reported",
		zap.String("device_id", deviceID),
		zap.String("from_status", string(current.Status)),
		zap.String("to_status", string(next.Status)),
	)

	return next, nil
}

// Retry 失败后的重试：仅 failed 状态合法，重置为 pending 并重新盖章 assignedAt
func (s *FirmwareService) Retry(ctx context.Context, deviceID string) (*models.FirmwareState, error) {
	if deviceID == "" {
		return nil, apperr.Validation("device_id is required")
	}

	s.locks.Lock(deviceID)
	defer s.locks.Unlock(deviceID)

	current, err := s.store.GetFirmwareState(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	if current == nil || current.Status != models.FirmwareFailed {
		return nil, apperr.InvalidTransition("retry rejected: device is not in failed status")
	}

	now := time.Now().UTC()
	next := &models.FirmwareState{
		DeviceID:       deviceID,
		CurrentVersion: current.CurrentVersion,
		DesiredVersion: current.DesiredVersion,
		Status:         models.FirmwarePending,
		AssignedAt:     &now,
		UpdatedAt:      now,
	}
	event := &models.OTAEvent{
		EventID:    uuid.New().String(),
		DeviceID:   deviceID,
		Action:     "retry",
		FromStatus: current.Status,
		ToStatus:   models.FirmwarePending,
		Source:     "admin",
		Metadata:   "{}",
		CreatedAt:  now,
	}

	if err := s.store.ApplyTransition(ctx, next, event); err != nil {
		return nil, err
	}

	s.logger.Info("Firmware rollout retried",
		zap.String("device_id", deviceID),
		zap.String("desired_version", next.DesiredVersion),
	)

	return next, nil
}
