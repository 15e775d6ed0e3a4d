package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"drivewatch/config"
	"drivewatch/models"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"
	clocktesting "k8s.io/utils/clock/testing"
)

type fakeNotifier struct {
	name string
	err  error

	mu    sync.Mutex
	calls [][]*models.Alert
}

func (f *fakeNotifier) Name() string { return f.name }

func (f *fakeNotifier) Notify(_ context.Context, alerts []*models.Alert, _ *models.Reading) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, alerts)
	return f.err
}

func (f *fakeNotifier) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func alertTypes(alerts []*models.Alert) map[models.AlertType]models.AlertSeverity {
	out := make(map[models.AlertType]models.AlertSeverity, len(alerts))
	for _, a := range alerts {
		out[a.Type] = a.Severity
	}
	return out
}

func TestDetectAlerts(t *testing.T) {
	detector := NewAlertDetector(&config.Config{VehicleID: "vehicle-test"})
	at := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		reading  *models.Reading
		expected map[models.AlertType]models.AlertSeverity
	}{
		{
			name:     "nil reading",
			reading:  nil,
			expected: map[models.AlertType]models.AlertSeverity{},
		},
		{
			name: "fallback reading",
			reading: func() *models.Reading {
				r := models.FallbackReading()
				return &r
			}(),
			expected: map[models.AlertType]models.AlertSeverity{},
		},
		{
			name:     "safe speed",
			reading:  &models.Reading{Speed: models.Float(80), EyeDrowsy: models.Bool(false)},
			expected: map[models.AlertType]models.AlertSeverity{},
		},
		{
			name:    "warning speed",
			reading: &models.Reading{Speed: models.Float(95)},
			expected: map[models.AlertType]models.AlertSeverity{
				models.AlertSpeedWarning: models.SeverityMedium,
			},
		},
		{
			name: "everything at once",
			reading: &models.Reading{
				Speed:            models.Float(130),
				EyeDrowsy:        models.Bool(true),
				SteerInactive:    models.Bool(true),
				RolloverDetected: models.Bool(true),
			},
			expected: map[models.AlertType]models.AlertSeverity{
				models.AlertSpeedDanger:      models.SeverityCritical,
				models.AlertDriverDrowsy:     models.SeverityHigh,
				models.AlertSteeringInactive: models.SeverityHigh,
				models.AlertRollover:         models.SeverityCritical,
			},
		},
		{
			name:     "unknown speed raises nothing",
			reading:  &models.Reading{ReportedSpeed: models.Float(200)},
			expected: map[models.AlertType]models.AlertSeverity{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			alerts := detector.DetectAlerts(tt.reading, "session-1", at)
			got := alertTypes(alerts)

			if len(got) != len(tt.expected) {
				t.Fatalf("Expected alerts %v, got %v", tt.expected, got)
			}
			for typ, severity := range tt.expected {
				if got[typ] != severity {
					t.Errorf("Expected %s with severity %s, got %q", typ, severity, got[typ])
				}
			}
			for _, a := range alerts {
				if a.VehicleID != "vehicle-test" || a.SessionID != "session-1" || !a.Timestamp.Equal(at) {
					t.Errorf("Expected alert to carry session context, got %+v", a)
				}
			}
		})
	}
}

func TestAlertServiceThrottlesRepeats(t *testing.T) {
	cfg := &config.Config{VehicleID: "vehicle-test", AlertThrottle: 15 * time.Second}
	notifier := &fakeNotifier{name: "fake"}
	service := NewAlertService(cfg, zap.NewNop(), notifier)
	fakeClock := clocktesting.NewFakePassiveClock(time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC))
	service.clock = fakeClock

	state := models.SessionState{
		VehicleID: "vehicle-test",
		SessionID: "session-1",
		Reading:   &models.Reading{Speed: models.Float(130)},
	}

	if alerts := service.Process(context.Background(), state); len(alerts) != 1 {
		t.Fatalf("Expected 1 alert, got %d", len(alerts))
	}

	fakeClock.SetTime(fakeClock.Now().Add(5 * time.Second))
	if alerts := service.Process(context.Background(), state); len(alerts) != 0 {
		t.Errorf("Expected repeat inside the throttle window to be dropped, got %d", len(alerts))
	}

	// A different alert type is not throttled by the first one
	state.Reading = &models.Reading{Speed: models.Float(130), EyeDrowsy: models.Bool(true)}
	alerts := service.Process(context.Background(), state)
	if len(alerts) != 1 || alerts[0].Type != models.AlertDriverDrowsy {
		t.Errorf("Expected only the drowsy alert, got %v", alertTypes(alerts))
	}

	fakeClock.SetTime(fakeClock.Now().Add(15 * time.Second))
	if alerts := service.Process(context.Background(), state); len(alerts) != 2 {
		t.Errorf("Expected both alerts after the window, got %d", len(alerts))
	}

	if got := notifier.callCount(); got != 3 {
		t.Errorf("Expected 3 notifications, got %d", got)
	}
}

func TestAlertServiceContinuesAfterNotifierFailure(t *testing.T) {
	cfg := &config.Config{VehicleID: "vehicle-test", AlertThrottle: time.Minute}
	failing := &fakeNotifier{name: "failing", err: errors.New("unavailable")}
	working := &fakeNotifier{name: "working"}
	service := NewAlertService(cfg, zap.NewNop(), failing, working)

	failed := testutil.ToFloat64(AlertsSentTotal.WithLabelValues("failing", "failed"))

	service.Process(context.Background(), models.SessionState{
		Reading: &models.Reading{RolloverDetected: models.Bool(true)},
	})

	if failing.callCount() != 1 || working.callCount() != 1 {
		t.Errorf("Expected both notifiers to be called, got %d and %d", failing.callCount(), working.callCount())
	}
	if got := testutil.ToFloat64(AlertsSentTotal.WithLabelValues("failing", "failed")) - failed; got != 1 {
		t.Errorf("Expected 1 failed notification counted, got %v", got)
	}
}

func TestAlertServiceConsumesReadingEvents(t *testing.T) {
	cfg := &config.Config{VehicleID: "vehicle-test", AlertThrottle: time.Minute}
	notifier := &fakeNotifier{name: "fake"}
	service := NewAlertService(cfg, zap.NewNop(), notifier)

	events := make(chan models.SessionEvent, 4)
	danger := models.SessionState{Reading: &models.Reading{Speed: models.Float(150)}}
	events <- models.SessionEvent{Type: models.EventHistory, State: danger}
	events <- models.SessionEvent{Type: models.EventReading, State: danger}
	close(events)

	done := make(chan struct{})
	go func() {
		service.Start(context.Background(), events)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Alert service did not stop when the channel closed")
	}

	if got := notifier.callCount(); got != 1 {
		t.Errorf("Expected only the reading event to notify, got %d", got)
	}
}
