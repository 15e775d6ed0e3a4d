package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// RPMToSpeedFactor converts engine RPM into an approximate road speed in km/h.
const RPMToSpeedFactor = 0.0158

// Wire keys of the push payload
const (
	KeySpeed            = "speed"
	KeyRPM              = "rpm"
	KeyEyeDrowsy        = "eyeDrowsy"
	KeyEyeClose         = "eyeClose"
	KeySteerInactive    = "steerInactive"
	KeyRolloverDetected = "rolloverDetected"
)

// trackedKeys decide whether a payload carries any telemetry at all
var trackedKeys = []string{KeySpeed, KeyRPM, KeyEyeDrowsy, KeyEyeClose, KeySteerInactive, KeyRolloverDetected}

// Reading is a snapshot of vehicle sensor values at one point in time.
// A nil field means the value is unknown, not zero or false.
// Readings are never mutated after construction.
type Reading struct {
	Speed            *float64 `json:"speed"`
	RPM              *float64 `json:"rpm"`
	EyeDrowsy        *bool    `json:"eyeDrowsy"`
	SteerInactive    *bool    `json:"steerInactive"`
	RolloverDetected *bool    `json:"rolloverDetected"`

	// ReportedSpeed is the speed value the vehicle put on the wire. It is kept
	// for display only; Speed is always derived from RPM.
	ReportedSpeed *float64 `json:"reportedSpeed,omitempty"`

	// Extra holds payload keys the dashboard does not interpret.
	Extra map[string]any `json:"extra,omitempty"`

	// Fallback marks the safe default substituted for missing or failed data.
	Fallback bool `json:"fallback"`
}

// FallbackReading returns the safe default reading shown when live data is
// empty, errored or never arrives.
func FallbackReading() Reading {
	return Reading{
		Speed:            Float(0),
		RPM:              Float(0),
		EyeDrowsy:        Bool(false),
		SteerInactive:    Bool(false),
		RolloverDetected: Bool(false),
		Fallback:         true,
	}
}

// SpeedFromRPM derives road speed from engine RPM, rounded to the nearest km/h.
func SpeedFromRPM(rpm float64) float64 {
	return math.Round(rpm * RPMToSpeedFactor)
}

// DecodePayload parses one push payload.
//
// err is non-nil when the payload is not JSON or not a JSON object; such
// payloads must be discarded. valid is false when none of the tracked keys
// carries a non-null value, in which case the caller applies the fallback.
func DecodePayload(payload []byte) (reading Reading, valid bool, err error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 {
		return Reading{}, false, fmt.Errorf("empty payload")
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &raw); err != nil {
		return Reading{}, false, fmt.Errorf("failed to decode payload: %w", err)
	}

	for _, key := range trackedKeys {
		if present(raw, key) {
			valid = true
			break
		}
	}
	if !valid {
		return Reading{}, false, nil
	}

	if rpm, ok := numeric(raw[KeyRPM]); ok {
		reading.RPM = Float(rpm)
		reading.Speed = Float(SpeedFromRPM(rpm))
	}
	if speed, ok := numeric(raw[KeySpeed]); ok {
		reading.ReportedSpeed = Float(speed)
	}

	reading.EyeDrowsy = boolean(raw[KeyEyeDrowsy])
	if reading.EyeDrowsy == nil {
		reading.EyeDrowsy = boolean(raw[KeyEyeClose])
	}
	reading.SteerInactive = boolean(raw[KeySteerInactive])
	reading.RolloverDetected = boolean(raw[KeyRolloverDetected])

	for key, value := range raw {
		if isTracked(key) {
			continue
		}
		var v any
		if err := json.Unmarshal(value, &v); err != nil {
			continue
		}
		if reading.Extra == nil {
			reading.Extra = make(map[string]any)
		}
		reading.Extra[key] = v
	}

	return reading, true, nil
}

func present(raw map[string]json.RawMessage, key string) bool {
	value, ok := raw[key]
	if !ok {
		return false
	}
	return !bytes.Equal(bytes.TrimSpace(value), []byte("null"))
}

func isTracked(key string) bool {
	for _, k := range trackedKeys {
		if k == key {
			return true
		}
	}
	return false
}

// numeric accepts JSON numbers and strings holding a finite number
func numeric(value json.RawMessage) (float64, bool) {
	if len(value) == 0 {
		return 0, false
	}

	var n float64
	if err := json.Unmarshal(value, &n); err == nil {
		return n, true
	}

	var s string
	if err := json.Unmarshal(value, &s); err != nil {
		return 0, false
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(n) || math.IsInf(n, 0) {
		return 0, false
	}
	return n, true
}

func boolean(value json.RawMessage) *bool {
	if len(value) == 0 {
		return nil
	}
	var b bool
	if err := json.Unmarshal(value, &b); err != nil {
		return nil
	}
	return &b
}

// Float returns a pointer to v.
func Float(v float64) *float64 { return &v }

// Bool returns a pointer to v.
func Bool(v bool) *bool { return &v }
