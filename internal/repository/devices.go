package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/taipham2710/OTA-Webserver/internal/models"

	"go.uber.org/zap"
)

// DeviceRepository 设备仓库
type DeviceRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewDeviceRepository 创建设备仓库
func NewDeviceRepository(db *sql.DB, logger *zap.Logger) *DeviceRepository {
	return &DeviceRepository{
		db:     db,
		logger: logger,
	}
}

// GetDevice 获取设备信息；设备不存在返回 (nil, nil)
func (r *DeviceRepository) GetDevice(ctx context.Context, deviceID string) (*models.Device, error) {
	if deviceID == "" {
		return nil, fmt.Errorf("device_id is required")
	}

	query := `
		SELECT
			device_id,
			device_name,
			serial_number,
			device_type,
			created_at
		FROM devices
		WHERE device_id = $1
	`

	var device models.Device
	err := r.db.QueryRowContext(ctx, query, deviceID).Scan(
		&device.DeviceID,
		&device.DeviceName,
		&device.SerialNumber,
		&device.DeviceType,
		&device.CreatedAt,
	)

	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get device: %w", err)
	}

	return &device, nil
}

// DeviceExists 检查设备是否存在
func (r *DeviceRepository) DeviceExists(ctx context.Context, deviceID string) (bool, error) {
	if deviceID == "" {
		return false, fmt.Errorf("device_id is required")
	}

	query := `SELECT EXISTS(SELECT 1 FROM devices WHERE device_id = $1)`

	var exists bool
	if err := r.db.QueryRowContext(ctx, query, deviceID).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check device existence: %w", err)
	}

	return exists, nil
}
