package services

import (
	"github.com/prometheus/client_golang/prometheus"

	"drivewatch/models"
)

var (
	// MessagesTotal counts inbound payloads by outcome: valid, empty, malformed
	MessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drivewatch_messages_total",
			Help: "Inbound telemetry payloads by decode outcome.",
		},
		[]string{"result"},
	)

	// FallbacksTotal counts fallback substitutions by reason
	FallbacksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drivewatch_fallbacks_total",
			Help: "Fallback readings applied, by reason.",
		},
		[]string{"reason"},
	)

	HistoryWritesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drivewatch_history_writes_total",
			Help: "History insert attempts: appended or throttled.",
		},
		[]string{"result"},
	)

	HistorySize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "drivewatch_history_size",
			Help: "Number of entries in the session history.",
		},
	)

	// ConnectionStatus is 1 for the current status and 0 for the others
	ConnectionStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "drivewatch_connection_status",
			Help: "Current push channel status (1 = active).",
		},
		[]string{"status"},
	)

	EventsDroppedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drivewatch_session_events_dropped_total",
			Help: "Session events dropped because a consumer was not keeping up.",
		},
		[]string{"consumer"},
	)

	AlertsSentTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drivewatch_alerts_sent_total",
			Help: "Alert notifications by notifier and result.",
		},
		[]string{"notifier", "result"},
	)

	ArchiveFlushesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drivewatch_archive_flushes_total",
			Help: "History archive batch writes by result.",
		},
		[]string{"result"},
	)
)

func init() {
	prometheus.MustRegister(
		MessagesTotal,
		FallbacksTotal,
		HistoryWritesTotal,
		HistorySize,
		ConnectionStatus,
		EventsDroppedTotal,
		AlertsSentTotal,
		ArchiveFlushesTotal,
	)
}

var allStatuses = []models.ConnectionStatus{
	models.StatusConnecting,
	models.StatusLive,
	models.StatusFallback,
	models.StatusOffline,
}

func recordStatus(current models.ConnectionStatus) {
	for _, s := range allStatuses {
		v := 0.0
		if s == current {
			v = 1
		}
		ConnectionStatus.WithLabelValues(string(s)).Set(v)
	}
}
