package alerts

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Thresholds are the alerting rules. The zero value is not usable; start
// from DefaultThresholds or LoadThresholds.
type Thresholds struct {
	OccupancyCapacity int
	TemperatureMin    float64
	TemperatureMax    float64
	HumidityMax       float64
	DelayThreshold    time.Duration
	TelemetryCadence  time.Duration
	ResolveHold       time.Duration
}

// thresholdsFile is the YAML wire form, durations in seconds.
type thresholdsFile struct {
	OccupancyCapacity   int     `yaml:"occupancy_capacity" validate:"gt=0"`
	TemperatureMin      float64 `yaml:"temperature_min"`
	TemperatureMax      float64 `yaml:"temperature_max" validate:"gtfield=TemperatureMin"`
	HumidityMax         float64 `yaml:"humidity_max" validate:"gt=0,lte=100"`
	DelaySeconds        int     `yaml:"delay_seconds" validate:"gt=0"`
	TelemetryCadenceSec int     `yaml:"telemetry_cadence_seconds" validate:"gt=0"`
	ResolveHoldSec      int     `yaml:"resolve_hold_seconds" validate:"gte=0"`
}

// DefaultThresholds are conservative values for a sheltered urban stop.
func DefaultThresholds() Thresholds {
	return Thresholds{
		OccupancyCapacity: 40,
		TemperatureMin:    -20,
		TemperatureMax:    50,
		HumidityMax:       98,
		DelayThreshold:    5 * time.Minute,
		TelemetryCadence:  3 * time.Minute,
		ResolveHold:       2 * time.Minute,
	}
}

// LoadThresholds reads threshold configuration from a YAML file. An empty
// path returns the defaults.
func LoadThresholds(path string) (Thresholds, error) {
	if path == "" {
		return DefaultThresholds(), nil
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return Thresholds{}, fmt.Errorf("read alert config: %w", err)
	}

	var file thresholdsFile
	if err := yaml.Unmarshal(b, &file); err != nil {
		return Thresholds{}, fmt.Errorf("parse alert config: %w", err)
	}

	if err := validator.New().Struct(file); err != nil {
		return Thresholds{}, fmt.Errorf("invalid alert config: %w", err)
	}

	return Thresholds{
		OccupancyCapacity: file.OccupancyCapacity,
		TemperatureMin:    file.TemperatureMin,
		TemperatureMax:    file.TemperatureMax,
		HumidityMax:       file.HumidityMax,
		DelayThreshold:    time.Duration(file.DelaySeconds) * time.Second,
		TelemetryCadence:  time.Duration(file.TelemetryCadenceSec) * time.Second,
		ResolveHold:       time.Duration(file.ResolveHoldSec) * time.Second,
	}, nil
}
