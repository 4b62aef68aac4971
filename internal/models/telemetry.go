package models

import (
	"encoding/json"
	"time"
)

// TelemetryEvent 设备上报的原始遥测事件（对应 device_telemetry 表）
type TelemetryEvent struct {
	ID                int64           `json:"id" db:"id"`
	DeviceID          string          `json:"device_id" db:"device_id"`
	Timestamp         time.Time       `json:"timestamp" db:"timestamp"`
	TimestampProvided bool            `json:"timestamp_provided" db:"timestamp_provided"`
	Metrics           json.RawMessage `json:"metrics" db:"metrics"` // JSONB，原始字段名（厂家别名）
	CreatedAt         time.Time       `json:"created_at" db:"created_at"`
}

// TelemetryEnvelope MQTT 遥测消息格式
// 主题格式: telemetry/{device_id}/data
type TelemetryEnvelope struct {
	Timestamp         *int64                 `json:"timestamp,omitempty"` // Unix 秒
	TimestampProvided bool                   `json:"timestamp_provided"`
	Metrics           map[string]interface{} `json:"metrics"`
}

// Device 设备基础信息（对应 devices 表）
type Device struct {
	DeviceID     string    `json:"device_id" db:"device_id"`
	DeviceName   string    `json:"device_name" db:"device_name"`
	SerialNumber string    `json:"serial_number" db:"serial_number"`
	DeviceType   string    `json:"device_type" db:"device_type"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}
