package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"drivewatch/models"

	"go.uber.org/zap"
)

// HardwareAlertService drives in-cabin alert hardware (buzzer, lights)
// through an HTTP webhook
type HardwareAlertService struct {
	logger     *zap.Logger
	apiURL     string
	vehicleID  string
	httpClient *http.Client
}

// HardwareAlertPayload represents the payload sent to hardware alert API
type HardwareAlertPayload struct {
	VehicleID string          `json:"vehicle_id"`
	Reading   *models.Reading `json:"reading"`
	Alerts    []*models.Alert `json:"alerts"`
	Severity  string          `json:"severity"`
	AlertType string          `json:"alert_type"`
}

// NewHardwareAlertService creates a new hardware alert service
func NewHardwareAlertService(logger *zap.Logger, apiURL, vehicleID string) *HardwareAlertService {
	return &HardwareAlertService{
		logger:    logger,
		apiURL:    apiURL,
		vehicleID: vehicleID,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (h *HardwareAlertService) Name() string { return "hardware" }

// Notify sends alert to hardware service via HTTP POST
func (h *HardwareAlertService) Notify(ctx context.Context, alerts []*models.Alert, reading *models.Reading) error {
	if len(alerts) == 0 {
		return nil
	}

	severity := determineSeverity(alerts)

	payload := HardwareAlertPayload{
		VehicleID: h.vehicleID,
		Reading:   reading,
		Alerts:    alerts,
		Severity:  string(severity),
		AlertType: "vehicle_alert",
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	endpoint := fmt.Sprintf("%s/api/v1/hardware-alert", h.apiURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "DriveWatch-Dashboard/1.0")

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		h.logger.Debug("Hardware alert accepted",
			zap.String("vehicle_id", h.vehicleID),
			zap.String("severity", string(severity)),
			zap.Int("status_code", resp.StatusCode))
		return nil
	}

	return fmt.Errorf("hardware alert API error: %s", resp.Status)
}

// determineSeverity returns the most severe level among alerts
func determineSeverity(alerts []*models.Alert) models.AlertSeverity {
	rank := map[models.AlertSeverity]int{
		models.SeverityLow:      0,
		models.SeverityMedium:   1,
		models.SeverityHigh:     2,
		models.SeverityCritical: 3,
	}

	worst := models.SeverityLow
	for _, a := range alerts {
		if rank[a.Severity] > rank[worst] {
			worst = a.Severity
		}
	}
	return worst
}
