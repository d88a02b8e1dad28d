package model

import "time"

// Quality tags the provenance of a location.
type Quality string

const (
	// QualityFreshSensor marks coordinates acquired from the device sensor
	// during this resolution.
	QualityFreshSensor Quality = "gps_fresh"
	// QualityCachedSensor marks coordinates replayed from a previous
	// sensor acquisition.
	QualityCachedSensor Quality = "gps_cached"
	// QualityFallback marks the hardcoded default location.
	QualityFallback Quality = "fallback"
)

// Location is a resolved geographic position. Owned by the location
// resolver; after construction the only permitted mutation is the geocoding
// enrichment that fills City/Country.
type Location struct {
	Latitude       float64   `json:"latitude"`
	Longitude      float64   `json:"longitude"`
	City           string    `json:"city,omitempty"`
	Country        string    `json:"country,omitempty"`
	Quality        Quality   `json:"quality"`
	Timestamp      time.Time `json:"timestamp"`
	IsExpired      bool      `json:"is_expired,omitempty"`
	FallbackReason string    `json:"fallback_reason,omitempty"`
}

// Age returns how long ago the location was acquired.
func (l *Location) Age(now time.Time) time.Duration {
	return now.Sub(l.Timestamp)
}

// Place is a reverse-geocoded place name.
type Place struct {
	City    string `json:"city"`
	Country string `json:"country"`
}
