package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"drivewatch/config"
	"drivewatch/models"

	"go.uber.org/zap"
	"k8s.io/utils/clock"
)

type AlertDetector struct {
	config *config.Config
}

func NewAlertDetector(cfg *config.Config) *AlertDetector {
	return &AlertDetector{
		config: cfg,
	}
}

// DetectAlerts analyzes a live reading and returns any driving alerts.
// Fallback readings never raise alerts.
func (ad *AlertDetector) DetectAlerts(reading *models.Reading, sessionID string, at time.Time) []*models.Alert {
	if reading == nil || reading.Fallback {
		return nil
	}

	var alerts []*models.Alert
	newAlert := func(t models.AlertType, severity models.AlertSeverity, value, threshold float64, description string) {
		alerts = append(alerts, &models.Alert{
			Type:        t,
			Severity:    severity,
			Value:       value,
			Threshold:   threshold,
			VehicleID:   ad.config.VehicleID,
			SessionID:   sessionID,
			Timestamp:   at,
			Description: description,
		})
	}

	// Check speed tiers
	if reading.Speed != nil {
		speed := *reading.Speed
		switch models.ClassifySpeed(speed) {
		case models.SpeedDanger:
			newAlert(models.AlertSpeedDanger, models.SeverityCritical, speed, models.SpeedDangerThreshold,
				fmt.Sprintf("Speed %.0f km/h exceeds danger threshold of %.0f km/h", speed, models.SpeedDangerThreshold))
		case models.SpeedWarning:
			newAlert(models.AlertSpeedWarning, models.SeverityMedium, speed, models.SpeedWarningThreshold,
				fmt.Sprintf("Speed %.0f km/h exceeds warning threshold of %.0f km/h", speed, models.SpeedWarningThreshold))
		}
	}

	if reading.EyeDrowsy != nil && *reading.EyeDrowsy {
		newAlert(models.AlertDriverDrowsy, models.SeverityHigh, 1, 0, "Driver eyes closing, drowsiness detected")
	}

	if reading.SteerInactive != nil && *reading.SteerInactive {
		newAlert(models.AlertSteeringInactive, models.SeverityHigh, 1, 0, "No steering input detected")
	}

	if reading.RolloverDetected != nil && *reading.RolloverDetected {
		newAlert(models.AlertRollover, models.SeverityCritical, 1, 0, "Vehicle rollover detected")
	}

	return alerts
}

// Notifier delivers alerts to one outside channel
type Notifier interface {
	Name() string
	Notify(ctx context.Context, alerts []*models.Alert, reading *models.Reading) error
}

// AlertService evaluates live readings and fans alerts out to notifiers,
// throttling repeats of the same alert type
type AlertService struct {
	detector  *AlertDetector
	notifiers []Notifier
	throttle  time.Duration
	clock     clock.PassiveClock
	logger    *zap.Logger

	mu       sync.Mutex
	lastSent map[models.AlertType]time.Time
}

// NewAlertService creates a new alert service
func NewAlertService(cfg *config.Config, logger *zap.Logger, notifiers ...Notifier) *AlertService {
	return &AlertService{
		detector:  NewAlertDetector(cfg),
		notifiers: notifiers,
		throttle:  cfg.AlertThrottle,
		clock:     clock.RealClock{},
		logger:    logger,
		lastSent:  make(map[models.AlertType]time.Time),
	}
}

// Start consumes reading events until ctx is done or the channel closes
func (s *AlertService) Start(ctx context.Context, events <-chan models.SessionEvent) {
	s.logger.Info("Starting alert service",
		zap.Int("notifiers", len(s.notifiers)),
		zap.Duration("throttle", s.throttle))

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Alert service stopped")
			return
		case event, ok := <-events:
			if !ok {
				s.logger.Info("Alert event channel closed")
				return
			}
			if event.Type != models.EventReading {
				continue
			}
			s.Process(ctx, event.State)
		}
	}
}

// Process evaluates one session snapshot and notifies about unthrottled alerts
func (s *AlertService) Process(ctx context.Context, state models.SessionState) []*models.Alert {
	at := s.clock.Now()
	if state.LastUpdate != nil {
		at = *state.LastUpdate
	}

	alerts := s.filterThrottled(s.detector.DetectAlerts(state.Reading, state.SessionID, at))
	if len(alerts) == 0 {
		return nil
	}

	s.logger.Warn("Driving alerts detected",
		zap.String("vehicle_id", state.VehicleID),
		zap.String("session_id", state.SessionID),
		zap.Int("alert_count", len(alerts)))

	for _, n := range s.notifiers {
		if err := n.Notify(ctx, alerts, state.Reading); err != nil {
			AlertsSentTotal.WithLabelValues(n.Name(), "failed").Inc()
			s.logger.Error("Failed to send alert",
				zap.String("notifier", n.Name()),
				zap.String("vehicle_id", state.VehicleID),
				zap.Error(err))
			continue
		}
		AlertsSentTotal.WithLabelValues(n.Name(), "sent").Inc()
		s.logger.Info("Alert sent",
			zap.String("notifier", n.Name()),
			zap.String("vehicle_id", state.VehicleID),
			zap.Int("alert_count", len(alerts)))
	}

	return alerts
}

// filterThrottled drops alert types that were sent within the throttle window
func (s *AlertService) filterThrottled(alerts []*models.Alert) []*models.Alert {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	var out []*models.Alert
	for _, a := range alerts {
		if last, exists := s.lastSent[a.Type]; exists && now.Sub(last) < s.throttle {
			s.logger.Debug("Throttling alert", zap.String("type", string(a.Type)))
			continue
		}
		s.lastSent[a.Type] = now
		out = append(out, a)
	}
	return out
}
