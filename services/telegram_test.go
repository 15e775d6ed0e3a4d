package services

import (
	"strings"
	"testing"
	"time"

	"drivewatch/models"
)

func TestFormatAlertMessage(t *testing.T) {
	at := time.Date(2025, 3, 1, 8, 30, 0, 0, time.UTC)
	alerts := []*models.Alert{
		{
			Type:        models.AlertSpeedDanger,
			Severity:    models.SeverityCritical,
			Timestamp:   at,
			Description: "Speed 126 km/h exceeds danger threshold of 120 km/h",
		},
		{
			Type:        models.AlertDriverDrowsy,
			Severity:    models.SeverityHigh,
			Timestamp:   at,
			Description: "Driver eyes closing, drowsiness detected",
		},
	}
	reading := &models.Reading{
		Speed:     models.Float(126),
		RPM:       models.Float(8000),
		EyeDrowsy: models.Bool(true),
	}

	msg := formatAlertMessage("vehicle-test", alerts, reading)

	for _, want := range []string{
		"vehicle-test",
		"2025-03-01 08:30:00",
		"Speed: 126 km/h (danger)",
		"RPM: 8000",
		"Driver: drowsy",
		"Steering: unknown",
		"Dangerous Speed",
		"Driver Drowsiness",
		"exceeds danger threshold",
	} {
		if !strings.Contains(msg, want) {
			t.Errorf("Expected message to contain %q, got:\n%s", want, msg)
		}
	}
}

func TestFormatAlertMessageWithoutReading(t *testing.T) {
	msg := formatAlertMessage("vehicle-test", []*models.Alert{{Type: models.AlertRollover}}, nil)

	if !strings.Contains(msg, "Speed: N/A (unknown)") {
		t.Errorf("Expected unknown speed, got:\n%s", msg)
	}
	if !strings.Contains(msg, "Rollover Detected") {
		t.Errorf("Expected rollover title, got:\n%s", msg)
	}
}
