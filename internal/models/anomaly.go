package models

import (
	"strings"
	"time"
)

// RiskLevel 模型输出的分类风险等级
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// Valid 判断风险等级是否在固定词表内
func (r RiskLevel) Valid() bool {
	switch r {
	case RiskLow, RiskMedium, RiskHigh:
		return true
	}
	return false
}

// Decision 策略决策结果（应用于固件下发）
type Decision string

const (
	DecisionAllow Decision = "allow"
	DecisionDelay Decision = "delay"
	DecisionBlock Decision = "block"
)

// Valid 判断决策是否在固定词表内
func (d Decision) Valid() bool {
	switch d {
	case DecisionAllow, DecisionDelay, DecisionBlock:
		return true
	}
	return false
}

// AnomalyState 设备当前异常状态（对应 device_anomaly_state 表）
// 每个设备唯一一条记录，由每次成功的 infer 原子覆写
type AnomalyState struct {
	DeviceID      string    `json:"device_id" db:"device_id"`
	Score         float64   `json:"score" db:"score"`
	RiskLevel     RiskLevel `json:"risk_level" db:"risk_level"`
	Decision      Decision  `json:"decision" db:"decision"`
	Threshold     float64   `json:"threshold" db:"threshold"`
	SoftThreshold float64   `json:"soft_threshold" db:"soft_threshold"`
	UpdatedAt     time.Time `json:"updated_at" db:"updated_at"`
}

// AnomalyEvent 异常决策历史事件（对应 anomaly_events 表）
// 追加型：永不修改、永不删除；每次完成的 infer 追加一条
type AnomalyEvent struct {
	EventID       string    `json:"event_id" db:"event_id"`
	DeviceID      string    `json:"device_id" db:"device_id"`
	Score         *float64  `json:"score,omitempty" db:"score"`
	RiskLevel     RiskLevel `json:"risk_level" db:"risk_level"`
	Decision      Decision  `json:"decision" db:"decision"`
	Action        string    `json:"action,omitempty" db:"action"` // 决策的大写形式（ALLOW/DELAY/BLOCK）
	Threshold     float64   `json:"threshold" db:"threshold"`
	SoftThreshold float64   `json:"soft_threshold" db:"soft_threshold"`
	Source        string    `json:"source" db:"source"`
	DecidedAt     time.Time `json:"decided_at" db:"decided_at"`
}

// ResolvedAction 解析事件的动作：优先显式 action 字段，否则取 decision 的大写
func (e *AnomalyEvent) ResolvedAction() string {
	if e.Action != "" {
		return e.Action
	}
	return strings.ToUpper(string(e.Decision))
}

// ScoreResult 外部 Scorer 的评分结果（经过形状校验后的结构）
type ScoreResult struct {
	Score         float64   `json:"score"`
	RiskLevel     RiskLevel `json:"risk_level"`
	Threshold     float64   `json:"threshold"`
	SoftThreshold float64   `json:"soft_threshold"`
}
