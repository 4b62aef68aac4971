package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/taipham2710/OTA-Webserver/internal/models"

	"go.uber.org/zap"
)

// AnomalyRepository 异常决策仓库
// device_anomaly_state 是当前状态的物化投影，anomaly_events 是追加型事实来源；
// 两者在同一事务内写入（单一写入路径），消除并发 infer 的双写竞态
type AnomalyRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewAnomalyRepository 创建异常决策仓库
func NewAnomalyRepository(db *sql.DB, logger *zap.Logger) *AnomalyRepository {
	return &AnomalyRepository{
		db:     db,
		logger: logger,
	}
}

// GetCurrentState 获取设备当前异常状态；从未推理过的设备返回 (nil, nil)
func (r *AnomalyRepository) GetCurrentState(ctx context.Context, deviceID string) (*models.AnomalyState, error) {
	if deviceID == "" {
		return nil, fmt.Errorf("device_id is required")
	}

	query := `
		SELECT
			device_id,
			score,
			risk_level,
			decision,
			threshold,
			soft_threshold,
			updated_at
		FROM device_anomaly_state
		WHERE device_id = $1
	`

	var state models.AnomalyState
	err := r.db.QueryRowContext(ctx, query, deviceID).Scan(
		&state.DeviceID,
		&state.Score,
		&state.RiskLevel,
		&state.Decision,
		&state.Threshold,
		&state.SoftThreshold,
		&state.UpdatedAt,
	)

	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get anomaly state: %w", err)
	}

	return &state, nil
}

// SaveDecision 原子持久化一次推理决策：
// 覆写当前状态 + 追加一条历史事件，同一事务，要么全部发生要么全不发生
func (r *AnomalyRepository) SaveDecision(ctx context.Context, state *models.AnomalyState, event *models.AnomalyEvent) error {
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
		INSERT INTO device_anomaly_state (
			device_id,
			score,
			risk_level,
			decision,
			threshold,
			soft_threshold,
			updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7
		)
		ON CONFLICT (device_id) DO UPDATE SET
			score = EXCLUDED.score,
			risk_level = EXCLUDED.risk_level,
			decision = EXCLUDED.decision,
			threshold = EXCLUDED.threshold,
			soft_threshold = EXCLUDED.soft_threshold,
			updated_at = EXCLUDED.updated_at
	`

	_, err = tx.ExecContext(ctx, upsert,
		state.DeviceID,
		state.Score,
		string(state.RiskLevel),
		string(state.Decision),
		state.Threshold,
		state.SoftThreshold,
		state.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert anomaly state: %w", err)
	}

	insert := `
		INSERT INTO anomaly_events (
			event_id,
			device_id,
			score,
			risk_level,
			decision,
			action,
			threshold,
			soft_threshold,
			source,
			decided_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10
		)
	`

	_, err = tx.ExecContext(ctx, insert,
		event.EventID,
		event.DeviceID,
		event.Score,
		string(event.RiskLevel),
		string(event.Decision),
		event.Action,
		event.Threshold,
		event.SoftThreshold,
		event.Source,
		event.DecidedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append anomaly event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit decision: %w", err)
	}

	return nil
}

// ListEvents 获取设备异常事件历史（decided_at 倒序，最多 limit 条）
// 无数据时返回空列表，不报错
func (r *AnomalyRepository) ListEvents(ctx context.Context, deviceID string, limit int) ([]models.AnomalyEvent, error) {
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
			score,
			risk_level,
			decision,
			action,
			threshold,
			soft_threshold,
			source,
			decided_at
		FROM anomaly_events
		WHERE device_id = $1
		ORDER BY decided_at DESC
		LIMIT $2
	`

	return r.queryEvents(ctx, query, deviceID, limit)
}

// ListEventsSince 获取设备在 since 之后的异常事件（decided_at 升序，趋势计算用）
func (r *AnomalyRepository) ListEventsSince(ctx context.Context, deviceID string, since time.Time) ([]models.AnomalyEvent, error) {
	if deviceID == "" {
		return nil, fmt.Errorf("device_id is required")
	}

	query := `
		SELECT
			event_id,
			device_id,
			score,
			risk_level,
			decision,
			action,
			threshold,
			soft_threshold,
			source,
			decided_at
		FROM anomaly_events
		WHERE device_id = $1
		  AND decided_at >= $2
		ORDER BY decided_at ASC
	`

	return r.queryEvents(ctx, query, deviceID, since)
}

// queryEvents 执行事件查询并扫描结果
func (r *AnomalyRepository) queryEvents(ctx context.Context, query string, args ...interface{}) ([]models.AnomalyEvent, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query anomaly events: %w", err)
	}
	defer rows.Close()

	var events []models.AnomalyEvent
	for rows.Next() {
		var event models.AnomalyEvent
		var score sql.NullFloat64
		var action sql.NullString

		err := rows.Scan(
			&event.EventID,
			&event.DeviceID,
			&score,
			&event.RiskLevel,
			&event.Decision,
			&action,
			&event.Threshold,
			&event.SoftThreshold,
			&event.Source,
			&event.DecidedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan anomaly event: %w", err)
		}

		if score.Valid {
			event.Score = &score.Float64
		}
		if action.Valid {
			event.Action = action.String
		}

		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate anomaly events: %w", err)
	}

	return events, nil
}
