package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/taipham2710/OTA-Webserver/internal/models"

	"go.uber.org/zap"
)

// FirmwareRepository 固件下发状态仓库
// firmware_state 为每设备一行的当前状态；ota_events 为追加型转换日志，
// 每次被接受的转换在同一事务内写入两者
type FirmwareRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewFirmwareRepository 创建固件状态仓库
func NewFirmwareRepository(db *sql.DB, logger *zap.Logger) *FirmwareRepository {
	return &FirmwareRepository{
		db:     db,
		logger: logger,
	}
}

// GetFirmwareState 获取设备固件状态；未注册的设备返回 (nil, nil)
func (r *FirmwareRepository) GetFirmwareState(ctx context.Context, deviceID string) (*models.FirmwareState, error) {
	if deviceID == "" {
		return nil, fmt.Errorf("device_id is required")
	}

	query := `
		SELECT
			device_id,
			current_version,
			desired_version,
			status,
			assigned_at,
			updated_at
		FROM firmware_state
		WHERE device_id = $1
	`

	var state models.FirmwareState
	var assignedAt sql.NullTime

	err := r.db.QueryRowContext(ctx, query, deviceID).Scan(
		&state.DeviceID,
		&state.CurrentVersion,
		&state.DesiredVersion,
		&state.Status,
		&assignedAt,
		&state.UpdatedAt,
	)

	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get firmware state: %w", err)
	}

	if assignedAt.Valid {
		state.AssignedAt = &assignedAt.Time
	}

	return &state, nil
}

// EnsureFirmwareState 确保设备有固件状态记录（注册时隐式创建 idle）
func (r *FirmwareRepository) EnsureFirmwareState(ctx context.Context, deviceID string) error {
	if deviceID == "" {
		return fmt.Errorf("device_id is required")
	}

	query := `
		INSERT INTO firmware_state (
			device_id,
			current_version,
			desired_version,
			status,
			updated_at
		) VALUES (
			$1, '', '', $2, NOW()
		)
		ON CONFLICT (device_id) DO NOTHING
	`

	if _, err := r.db.ExecContext(ctx, query, deviceID, string(models.FirmwareIdle)); err != nil {
		return fmt.Errorf("failed to ensure firmware state: %w", err)
	}

	return nil
}

// ApplyTransition 原子应用一次被接受的状态机转换：
// 覆写 firmware_state + 追加一条 OTA 事件，同一事务
func (r *FirmwareRepository) ApplyTransition(ctx context.Context, state *models.FirmwareState, event *models.OTAEvent) error {
	if state == nil || event == nil {
		return fmt.Errorf("state and event are required")
	}
	if state.DeviceID == "" {
		return fmt.Errorf("device_id is required")
	}
	if event.DeviceID != state.DeviceID {
		return fmt.Errorf("event.device_id must match state.device_id")
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	upsert := `
		INSERT INTO firmware_state (
			device_id,
			current_version,
			desired_version,
			status,
			assigned_at,
			updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6
		)
		ON CONFLICT (device_id) DO UPDATE SET
			current_version = EXCLUDED.current_version,
			desired_version = EXCLUDED.desired_version,
			status = EXCLUDED.status,
			assigned_at = EXCLUDED.assigned_at,
			updated_at = EXCLUDED.updated_at
	`

	_, err = tx.ExecContext(ctx, upsert,
		state.DeviceID,
		state.CurrentVersion,
		state.DesiredVersion,
		string(state.Status),
		state.AssignedAt,
		state.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert firmware state: %w", err)
	}

	insert := `
		INSERT INTO ota_events (
			event_id,
			device_id,
			action,
			from_status,
			to_status,
			source,
			reason,
			metadata,
			created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9
		)
	`

	metadata := event.Metadata
	if metadata == "" {
		metadata = "{}"
	}

	_, err = tx.ExecContext(ctx, insert,
		event.EventID,
		event.DeviceID,
		event.Action,
		string(event.FromStatus),
		string(event.ToStatus),
		event.Source,
		event.Reason,
		metadata,
		event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append ota event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit firmware transition: %w", err)
	}

	return nil
}

// ListOTAEvents 获取设备 OTA 事件历史（created_at 倒序，最多 limit 条）
// 无数据时返回空列表，不报错
func (r *FirmwareRepository) ListOTAEvents(ctx context.Context, deviceID string, limit int) ([]models.OTAEvent, error) {
	if deviceID == "" {
		return nil, fmt.Errorf("device_id is required")
	}
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT
			event_id,
			device_id,
			action,
			from_status,
			to_status,
			source,
			reason,
			metadata,
			created_at
		FROM ota_events
		WHERE device_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := r.db.QueryContext(ctx, query, deviceID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query ota events: %w", err)
	}
	defer rows.Close()

	var events []models.OTAEvent
	for rows.Next() {
		var event models.OTAEvent
		var reason sql.NullString
		var metadata []byte

		err := rows.Scan(
			&event.EventID,
			&event.DeviceID,
			&event.Action,
			&event.FromStatus,
			&event.ToStatus,
			&event.Source,
			&reason,
			&metadata,
			&event.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ota event: %w", err)
		}

		if reason.Valid {
			event.Reason = &reason.String
		}
		if len(metadata) > 0 {
			event.Metadata = string(metadata)
		} else {
			event.Metadata = "{}"
		}

		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate ota events: %w", err)
	}

	return events, nil
}
