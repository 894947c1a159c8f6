package telemetry

import (
	"time"
)

// Provider returns the current station telemetry.
type Provider interface {
	Get() *Telemetry
}

// Static is a Provider for a fixed station.
type Static struct {
	Latitude    *float64
	Longitude   *float64
	Altitude    *float64
	Description string
}

func (s *Static) Get() *Telemetry {
	return &Telemetry{
		Timestamp:   time.Now(),
		Latitude:    s.Latitude,
		Longitude:   s.Longitude,
		Altitude:    s.Altitude,
		Description: s.Description,
	}
}
