package telemetry

import (
	"fmt"
	"strings"
	"time"
)

// Telemetry is the station position at the time of a detection
type Telemetry struct {
	Timestamp   time.Time `json:"timestamp"`             // Timestamp of the reading
	Latitude    *float64  `json:"latitude,omitempty"`    // Latitude in degrees
	Longitude   *float64  `json:"longitude,omitempty"`   // Longitude in degrees
	Altitude    *float64  `json:"altitude,omitempty"`    // Altitude in meters
	Description string    `json:"description,omitempty"` // Free text, e.g. "rooftop, Sydney"
}

// LocationHint renders t as the free text location passed to the analysis
// collaborator. It returns an empty string when nothing is known.
func LocationHint(t *Telemetry) string {
	if t == nil {
		return ""
	}

	var parts []string
	if t.Description != "" {
		parts = append(parts, t.Description)
	}
	if t.Latitude != nil && t.Longitude != nil {
		parts = append(parts, fmt.Sprintf("lat %.5f, lon %.5f", *t.Latitude, *t.Longitude))
	}
	if t.Altitude != nil {
		parts = append(parts, fmt.Sprintf("altitude %.0f m", *t.Altitude))
	}

	return strings.Join(parts, "; ")
}
