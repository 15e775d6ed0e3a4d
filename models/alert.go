package models

import (
	"time"
)

// AlertType represents different kinds of driving alerts
type AlertType string

const (
	AlertSpeedDanger      AlertType = "speed_danger"
	AlertSpeedWarning     AlertType = "speed_warning"
	AlertDriverDrowsy     AlertType = "driver_drowsy"
	AlertSteeringInactive AlertType = "steering_inactive"
	AlertRollover         AlertType = "rollover_detected"
)

// AlertSeverity ranks alerts for notifiers
type AlertSeverity string

const (
	SeverityCritical AlertSeverity = "critical"
	SeverityHigh     AlertSeverity = "high"
	SeverityMedium   AlertSeverity = "medium"
	SeverityLow      AlertSeverity = "low"
)

// Alert represents a detected driving alert
type Alert struct {
	Type        AlertType     `json:"type"`
	Severity    AlertSeverity `json:"severity"`
	Value       float64       `json:"value"`
	Threshold   float64       `json:"threshold"`
	VehicleID   string        `json:"vehicle_id"`
	SessionID   string        `json:"session_id"`
	Timestamp   time.Time     `json:"timestamp"`
	Description string        `json:"description"`
}

// GetAlertEmoji returns appropriate emoji for alert type
func (a *Alert) GetAlertEmoji() string {
	switch a.Type {
	case AlertSpeedDanger:
		return "🚨"
	case AlertSpeedWarning:
		return "⚠️"
	case AlertDriverDrowsy:
		return "😴"
	case AlertSteeringInactive:
		return "🛞"
	case AlertRollover:
		return "🔄"
	default:
		return "⚠️"
	}
}

// GetSeverityColor returns color for Telegram formatting
func (a *Alert) GetSeverityColor() string {
	switch a.Severity {
	case SeverityCritical:
		return "🔴"
	case SeverityHigh:
		return "🟠"
	case SeverityMedium:
		return "🟡"
	default:
		return "⚪"
	}
}
