package services

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"drivewatch/models"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

type staticSession struct {
	state models.SessionState
}

func (s *staticSession) State() models.SessionState { return s.state }

func (s *staticSession) History() []models.HistoryEntry { return s.state.History }

func newTestDashboard(state models.SessionState) (*DashboardServer, *httptest.Server) {
	d := NewDashboardServer(":0", &staticSession{state: state}, zap.NewNop())
	return d, httptest.NewServer(d.Handler())
}

func TestDashboardSession(t *testing.T) {
	reading := models.Reading{Speed: models.Float(130), RPM: models.Float(8200)}
	_, server := newTestDashboard(models.SessionState{
		SessionID:      "session-1",
		VehicleID:      "vehicle-test",
		Status:         models.StatusLive,
		Reading:        &reading,
		Classification: models.Classify(&reading),
	})
	defer server.Close()

	resp, err := http.Get(server.URL + "/api/session")
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Expected application/json, got %s", ct)
	}

	var state models.SessionState
	if err := json.NewDecoder(resp.Body).Decode(&state); err != nil {
		t.Fatalf("Failed to decode session: %v", err)
	}
	if state.Status != models.StatusLive {
		t.Errorf("Expected status %s, got %s", models.StatusLive, state.Status)
	}
	if state.Classification.Speed != models.SpeedDanger {
		t.Errorf("Expected %s, got %s", models.SpeedDanger, state.Classification.Speed)
	}
}

func TestDashboardHistory(t *testing.T) {
	_, server := newTestDashboard(models.SessionState{})
	defer server.Close()

	resp, err := http.Get(server.URL + "/api/history")
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if strings.TrimSpace(string(body)) != "[]" {
		t.Errorf("Expected empty JSON array, got %s", body)
	}
}

func TestDashboardHealthAndMetrics(t *testing.T) {
	_, server := newTestDashboard(models.SessionState{SessionID: "session-1", Status: models.StatusFallback})
	defer server.Close()

	resp, err := http.Get(server.URL + "/healthz")
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	var health map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		t.Fatalf("Failed to decode health: %v", err)
	}
	resp.Body.Close()
	if health["status"] != "ok" || health["channel"] != string(models.StatusFallback) {
		t.Errorf("Unexpected health response %v", health)
	}

	resp, err = http.Get(server.URL + "/metrics")
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "go_goroutines") {
		t.Errorf("Expected prometheus exposition, got %.200s", body)
	}

	resp, err = http.Post(server.URL+"/api/session", "application/json", nil)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("Expected 405 for POST, got %d", resp.StatusCode)
	}
}

func TestDashboardWebsocket(t *testing.T) {
	d, server := newTestDashboard(models.SessionState{SessionID: "session-1", Status: models.StatusConnecting})
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.broadcast(ctx)

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var snapshot models.SessionEvent
	if err := conn.ReadJSON(&snapshot); err != nil {
		t.Fatalf("Failed to read snapshot: %v", err)
	}
	if snapshot.State.SessionID != "session-1" || snapshot.State.Status != models.StatusConnecting {
		t.Errorf("Expected initial snapshot, got %+v", snapshot.State)
	}

	waitFor(t, "client registration", func() bool { return d.ClientCount() == 1 })

	reading := models.Reading{RPM: models.Float(2500), Speed: models.Float(40)}
	d.Listener()(models.SessionEvent{
		Type: models.EventReading,
		State: models.SessionState{
			SessionID: "session-1",
			Status:    models.StatusLive,
			Reading:   &reading,
			History:   []models.HistoryEntry{{Reading: reading}},
		},
	})

	var event models.SessionEvent
	if err := conn.ReadJSON(&event); err != nil {
		t.Fatalf("Failed to read event: %v", err)
	}
	if event.Type != models.EventReading || event.State.Status != models.StatusLive {
		t.Errorf("Expected live reading event, got %+v", event)
	}
	if event.State.History != nil {
		t.Errorf("Expected history to be stripped from streamed events, got %d entries", len(event.State.History))
	}

	conn.Close()
	waitFor(t, "client removal", func() bool { return d.ClientCount() == 0 })
}
