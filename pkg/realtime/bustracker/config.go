package bustracker

import (
	"os"
	"strconv"
	"time"
)

// TrackerConfig holds the classification policy constants. Values are
// tunable through the environment without touching classification logic.
type TrackerConfig struct {
	// DefaultGeofenceRadiusMetres applies when a stop carries no radius of its own
	DefaultGeofenceRadiusMetres float64

	// GeofenceDebounceSamples is how many consecutive updates must land
	// inside a stop's geo-fence before it counts as an arrival
	GeofenceDebounceSamples int

	// IdleTimeout evicts a journey that has stopped receiving updates
	IdleTimeout time.Duration

	// DelayThreshold is how far behind an expected arrival must be before a
	// distinct delay event is emitted alongside the arrival
	DelayThreshold time.Duration

	// SpeedSmoothingFactor is the exponential moving average weight applied
	// to new speed samples when estimating arrival times
	SpeedSmoothingFactor float64
}

var defaultTrackerConfig = TrackerConfig{
	DefaultGeofenceRadiusMetres: 100,
	GeofenceDebounceSamples:     2,
	IdleTimeout:                 10 * time.Minute,
	DelayThreshold:              5 * time.Minute,
	SpeedSmoothingFactor:        0.3,
}

// GetTrackerConfig returns the tracker configuration from environment
// variables or defaults
func GetTrackerConfig() TrackerConfig {
	config := defaultTrackerConfig

	if val := os.Getenv("SCHOOLRUN_GEOFENCE_RADIUS_METERS"); val != "" {
		if parsed, err := strconv.ParseFloat(val, 64); err == nil {
			config.DefaultGeofenceRadiusMetres = parsed
		}
	}

	if val := os.Getenv("SCHOOLRUN_GEOFENCE_DEBOUNCE_SAMPLES"); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil && parsed > 0 {
			config.GeofenceDebounceSamples = parsed
		}
	}

	if val := os.Getenv("SCHOOLRUN_IDLE_TIMEOUT"); val != "" {
		if parsed, err := time.ParseDuration(val); err == nil {
			config.IdleTimeout = parsed
		}
	}

	if val := os.Getenv("SCHOOLRUN_DELAY_THRESHOLD"); val != "" {
		if parsed, err := time.ParseDuration(val); err == nil {
			config.DelayThreshold = parsed
		}
	}

	if val := os.Getenv("SCHOOLRUN_SPEED_SMOOTHING_FACTOR"); val != "" {
		if parsed, err := strconv.ParseFloat(val, 64); err == nil && parsed > 0 && parsed <= 1 {
			config.SpeedSmoothingFactor = parsed
		}
	}

	return config
}
