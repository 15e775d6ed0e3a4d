package main

import (
	"math"
	"math/rand"
	"strconv"
)

// Generator produces synthetic vehicle payloads the way the in-car unit
// emits them: a flat JSON object keyed by sensor name.
type Generator struct {
	vehicleID   string
	emptyProb   float64
	dangerProb  float64
	stringRPM   float64
	rng         *rand.Rand
	baseRPM     float64
	drowsyTicks int
}

func NewGenerator(vehicleID string, emptyProb, dangerProb float64, seed int64) *Generator {
	return &Generator{
		vehicleID:  vehicleID,
		emptyProb:  emptyProb,
		dangerProb: dangerProb,
		stringRPM:  0.1,
		rng:        rand.New(rand.NewSource(seed)),
		baseRPM:    3500, // ~55 km/h
	}
}

// Next returns the next payload. Empty payloads carry only nulls so the
// dashboard exercises its fallback path.
func (g *Generator) Next() map[string]any {
	if g.rng.Float64() < g.emptyProb {
		return map[string]any{
			"rpm":              nil,
			"eyeDrowsy":        nil,
			"steerInactive":    nil,
			"rolloverDetected": nil,
		}
	}

	isDanger := g.rng.Float64() < g.dangerProb

	// Drift around the cruising rpm
	g.baseRPM += (g.rng.Float64() - 0.5) * 400
	g.baseRPM = math.Max(800, math.Min(g.baseRPM, 6500))
	rpm := g.baseRPM

	if isDanger && g.rng.Float64() < 0.5 {
		rpm = 7700 + g.rng.Float64()*1500 // > 120 km/h
	}

	// Drowsiness comes in short episodes rather than single samples
	if isDanger && g.rng.Float64() < 0.3 {
		g.drowsyTicks = 3 + g.rng.Intn(5)
	}
	drowsy := g.drowsyTicks > 0
	if g.drowsyTicks > 0 {
		g.drowsyTicks--
	}

	payload := map[string]any{
		"vehicleId":        g.vehicleID,
		"eyeDrowsy":        drowsy,
		"steerInactive":    isDanger && g.rng.Float64() < 0.3,
		"rolloverDetected": isDanger && g.rng.Float64() < 0.05,
	}

	rounded := math.Round(rpm)
	if g.rng.Float64() < g.stringRPM {
		// Some firmware revisions send rpm as a string
		payload["rpm"] = strconv.FormatFloat(rounded, 'f', -1, 64)
	} else {
		payload["rpm"] = rounded
	}

	return payload
}
