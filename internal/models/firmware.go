package models

import (
	"time"
)

// FirmwareStatus 固件下发状态
type FirmwareStatus string

const (
	FirmwareIdle        FirmwareStatus = "idle"
	FirmwareAssigned    FirmwareStatus = "assigned"
	FirmwarePending     FirmwareStatus = "pending"
	FirmwareDownloading FirmwareStatus = "downloading"
	FirmwareUpdating    FirmwareStatus = "updating"
	FirmwareSuccess     FirmwareStatus = "success"
	FirmwareFailed      FirmwareStatus = "failed"
)

// FirmwareState 设备固件下发状态（对应 firmware_state 表）
// 设备注册时隐式创建（idle）；由分配、设备进度上报和重试修改；永不删除
type FirmwareState struct {
	DeviceID       string         `json:"device_id" db:"device_id"`
	CurrentVersion string         `json:"current_version" db:"current_version"`
	DesiredVersion string         `json:"desired_version" db:"desired_version"`
	Status         FirmwareStatus `json:"status" db:"status"`
	AssignedAt     *time.Time     `json:"assigned_at,omitempty" db:"assigned_at"`
	UpdatedAt      time.Time      `json:"updated_at" db:"updated_at"`
}

// OTAEvent OTA 转换事件（对应 ota_events 表）
// 追加型：每次被接受的状态机转换追加一条，永不修改
type OTAEvent struct {
	EventID    string         `json:"event_id" db:"event_id"`
	DeviceID   string         `json:"device_id" db:"device_id"`
	Action     string         `json:"action" db:"action"` // assign, report, retry
	FromStatus FirmwareStatus `json:"from_status" db:"from_status"`
	ToStatus   FirmwareStatus `json:"to_status" db:"to_status"`
	Source     string         `json:"source" db:"source"` // admin, device, system
	Reason     *string        `json:"reason,omitempty" db:"reason"`
	Metadata   string         `json:"metadata" db:"metadata"` // JSONB
	CreatedAt  time.Time      `json:"created_at" db:"created_at"`
}

// OTAReportStatus 设备进度上报的合法状态
type OTAReportStatus string

const (
	OTAReportDownloading OTAReportStatus = "downloading"
	OTAReportUpdating    OTAReportStatus = "updating"
	OTAReportSuccess     OTAReportStatus = "success"
	OTAReportFailed      OTAReportStatus = "failed"
)

// Valid 判断上报状态是否在固定词表内
func (s OTAReportStatus) Valid() bool {
	switch s {
	case OTAReportDownloading, OTAReportUpdating, OTAReportSuccess, OTAReportFailed:
		return true
	}
	return false
}
