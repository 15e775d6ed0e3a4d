package models

// Speed tier boundaries in km/h
const (
	SpeedWarningThreshold = 80.0
	SpeedDangerThreshold  = 120.0
)

// SpeedTier is the alert tier of a speed value
type SpeedTier string

const (
	SpeedUnknown SpeedTier = "unknown"
	SpeedSafe    SpeedTier = "safe"
	SpeedWarning SpeedTier = "warning"
	SpeedDanger  SpeedTier = "danger"
)

// DrowsinessState describes the driver's eye state
type DrowsinessState string

const (
	DrowsinessUnknown DrowsinessState = "unknown"
	DriverDrowsy      DrowsinessState = "drowsy"
	DriverAlert       DrowsinessState = "alert"
)

// SteeringState describes steering wheel activity
type SteeringState string

const (
	SteeringUnknown  SteeringState = "unknown"
	SteeringInactive SteeringState = "inactive"
	SteeringActive   SteeringState = "active"
)

// RolloverState describes the rollover sensor
type RolloverState string

const (
	RolloverUnknown  RolloverState = "unknown"
	RolloverDetected RolloverState = "detected"
	RolloverNormal   RolloverState = "normal"
)

// Classification groups the presentation tiers of one reading.
type Classification struct {
	Speed      SpeedTier       `json:"speed"`
	Drowsiness DrowsinessState `json:"drowsiness"`
	Steering   SteeringState   `json:"steering"`
	Rollover   RolloverState   `json:"rollover"`
}

// ClassifySpeed maps a speed in km/h onto its tier. 80 is still safe and
// 120 is still a warning.
func ClassifySpeed(speed float64) SpeedTier {
	switch {
	case speed > SpeedDangerThreshold:
		return SpeedDanger
	case speed > SpeedWarningThreshold:
		return SpeedWarning
	default:
		return SpeedSafe
	}
}

// Classify derives every presentation tier of r. A nil reading is unknown
// across the board.
func Classify(r *Reading) Classification {
	c := Classification{
		Speed:      SpeedUnknown,
		Drowsiness: DrowsinessUnknown,
		Steering:   SteeringUnknown,
		Rollover:   RolloverUnknown,
	}
	if r == nil {
		return c
	}

	if r.Speed != nil {
		c.Speed = ClassifySpeed(*r.Speed)
	}

	if r.EyeDrowsy != nil {
		c.Drowsiness = DriverAlert
		if *r.EyeDrowsy {
			c.Drowsiness = DriverDrowsy
		}
	}

	if r.SteerInactive != nil {
		c.Steering = SteeringActive
		if *r.SteerInactive {
			c.Steering = SteeringInactive
		}
	}

	if r.RolloverDetected != nil {
		c.Rollover = RolloverNormal
		if *r.RolloverDetected {
			c.Rollover = RolloverDetected
		}
	}

	return c
}
