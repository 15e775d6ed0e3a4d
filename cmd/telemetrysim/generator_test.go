package main

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"drivewatch/models"

	"go.uber.org/zap"
)

func TestGeneratorProducesDecodablePayloads(t *testing.T) {
	gen := NewGenerator("vehicle-test", 0.2, 0.3, 42)

	var valid, empty int
	for i := 0; i < 500; i++ {
		data, err := json.Marshal(gen.Next())
		if err != nil {
			t.Fatalf("Failed to marshal payload: %v", err)
		}

		reading, ok, err := models.DecodePayload(data)
		if err != nil {
			t.Fatalf("Generated payload %s does not decode: %v", data, err)
		}
		if !ok {
			empty++
			continue
		}
		valid++
		if reading.RPM == nil || reading.Speed == nil {
			t.Fatalf("Expected rpm in %s", data)
		}
		if reading.Extra["vehicleId"] != "vehicle-test" {
			t.Errorf("Expected vehicleId pass-through, got %v", reading.Extra["vehicleId"])
		}
	}

	if empty == 0 || valid == 0 {
		t.Errorf("Expected a mix of empty and valid payloads, got %d empty and %d valid", empty, valid)
	}
}

func TestGeneratorWithoutNoise(t *testing.T) {
	gen := NewGenerator("vehicle-test", 0, 0, 7)

	for i := 0; i < 200; i++ {
		data, _ := json.Marshal(gen.Next())
		reading, ok, err := models.DecodePayload(data)
		if err != nil || !ok {
			t.Fatalf("Expected valid payload, got %s", data)
		}
		if *reading.EyeDrowsy || *reading.SteerInactive || *reading.RolloverDetected {
			t.Errorf("Expected no hazards without danger probability, got %s", data)
		}
		if tier := models.ClassifySpeed(*reading.Speed); tier == models.SpeedDanger {
			t.Errorf("Expected cruising speed, got %v", *reading.Speed)
		}
	}
}

func TestBroadcasterStreamsEvents(t *testing.T) {
	b := NewBroadcaster(zap.NewNop())
	server := httptest.NewServer(b)
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, server.URL, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Fatalf("Expected event stream, got %s", ct)
	}

	deadline := time.Now().Add(2 * time.Second)
	for b.ClientCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("Client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if n := b.Publish([]byte(`{"rpm":2500}`)); n != 1 {
		t.Fatalf("Expected delivery to 1 client, got %d", n)
	}

	line, err := bufio.NewReader(resp.Body).ReadString('\n')
	if err != nil {
		t.Fatalf("Failed to read event: %v", err)
	}
	if line != "data: {\"rpm\":2500}\n" {
		t.Errorf("Expected data line, got %q", line)
	}
}
