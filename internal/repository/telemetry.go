package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/taipham2710/OTA-Webserver/internal/models"

	"go.uber.org/zap"
)

// TelemetryRepository 设备遥测时序数据仓库
type TelemetryRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewTelemetryRepository 创建遥测数据仓库
func NewTelemetryRepository(db *sql.DB, logger *zap.Logger) *TelemetryRepository {
	return &TelemetryRepository{
		db:     db,
		logger: logger,
	}
}

// GetRecentTelemetry 获取设备最近的遥测事件（按时间倒序，最多 limit 条）
// 无数据时返回空列表，不报错
func (r *TelemetryRepository) GetRecentTelemetry(ctx context.Context, deviceID string, limit int) ([]models.TelemetryEvent, error) {
	if deviceID == "" {
		return nil, fmt.Errorf("device_id is required")
	}
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be positive")
	}

	query := `
		SELECT
			id,
			device_id,
			timestamp,
			timestamp_provided,
			metrics,
			created_at
		FROM device_telemetry
		WHERE device_id = $1
		ORDER BY timestamp DESC
		LIMIT $2
	`

	rows, err := r.db.QueryContext(ctx, query, deviceID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query telemetry: %w", err)
	}
	defer rows.Close()

	var events []models.TelemetryEvent
	for rows.Next() {
		var event models.TelemetryEvent
		var metrics []byte

		err := rows.Scan(
			&event.ID,
			&event.DeviceID,
			&event.Timestamp,
			&event.TimestampProvided,
			&metrics,
			&event.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan telemetry row: %w", err)
		}

		if len(metrics) > 0 {
			event.Metrics = metrics
		} else {
			event.Metrics = json.RawMessage("{}")
		}

		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate telemetry rows: %w", err)
	}

	return events, nil
}

// InsertTelemetry 插入一条遥测事件（流消费者写入路径）
func (r *TelemetryRepository) InsertTelemetry(ctx context.Context, event *models.TelemetryEvent) (int64, error) {
	if event == nil {
		return 0, fmt.Errorf("event is required")
	}
	if event.DeviceID == "" {
		return 0, fmt.Errorf("device_id is required")
	}

	query := `
		INSERT INTO device_telemetry (
			device_id,
			timestamp,
			timestamp_provided,
			metrics,
			created_at
		) VALUES (
			$1, $2, $3, $4, NOW()
		)
		RETURNING id
	`

	metrics := event.Metrics
	if len(metrics) == 0 {
		metrics = json.RawMessage("{}")
	}

	var id int64
	err := r.db.QueryRowContext(ctx, query,
		event.DeviceID,
		event.Timestamp,
		event.TimestampProvided,
		[]byte(metrics),
	).Scan(&id)

	if err != nil {
		return 0, fmt.Errorf("failed to insert telemetry: %w", err)
	}

	return id, nil
}
