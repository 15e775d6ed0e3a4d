package models

import (
	"time"
)

// ConnectionStatus represents the state of the push channel as seen by the dashboard
type ConnectionStatus string

const (
	StatusConnecting ConnectionStatus = "connecting"
	StatusLive       ConnectionStatus = "live"
	StatusFallback   ConnectionStatus = "fallback"
	StatusOffline    ConnectionStatus = "offline"
)

// HistoryEntry is one recorded reading
type HistoryEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Reading   Reading   `json:"reading"`
}

// SessionState is the presentation-facing snapshot of a telemetry session
type SessionState struct {
	SessionID      string           `json:"session_id"`
	VehicleID      string           `json:"vehicle_id"`
	Source         string           `json:"source"`
	Status         ConnectionStatus `json:"status"`
	Reading        *Reading         `json:"reading"`
	Classification Classification   `json:"classification"`
	History        []HistoryEntry   `json:"history"`
	StartedAt      time.Time        `json:"started_at"`
	LastUpdate     *time.Time       `json:"last_update"`
}

// SessionEventType tells listeners what changed
type SessionEventType string

const (
	EventStatus   SessionEventType = "status"
	EventReading  SessionEventType = "reading"
	EventFallback SessionEventType = "fallback"
	EventHistory  SessionEventType = "history"
)

// SessionEvent is emitted by the session controller after every state change
type SessionEvent struct {
	Type  SessionEventType `json:"type"`
	State SessionState     `json:"state"`
	// Entry is set for EventHistory
	Entry *HistoryEntry `json:"entry,omitempty"`
}

// HistoryRecord ties a history entry to the vehicle and session that produced it
type HistoryRecord struct {
	VehicleID string    `json:"vehicle_id"`
	SessionID string    `json:"session_id"`
	Timestamp time.Time `json:"timestamp"`
	Reading   Reading   `json:"reading"`
}
