package appconf

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Environment is the operating environment for the application.
type Environment int

const (
	Development Environment = iota
	Test
	Production
)

// EnvFlagToEnvironment converts an environment flag value to an Environment.
func EnvFlagToEnvironment(flag string) Environment {
	switch strings.ToLower(strings.TrimSpace(flag)) {
	case "production":
		return Production
	case "test":
		return Test
	default:
		return Development
	}
}

func (e Environment) String() string {
	switch e {
	case Production:
		return "production"
	case Test:
		return "test"
	default:
		return "development"
	}
}

// Config holds all the configuration settings for the application: the HTTP
// listen port, operating environment, API keys, and the knobs for the
// schedule feed, storage, broadcasting and alerting subsystems.
type Config struct {
	Port      int
	Env       Environment
	ApiKeys   []string
	RateLimit int

	GtfsURL             string
	ScheduleRefresh     time.Duration
	DatabaseURL         string
	NATSURL             string
	WebhookURL          string
	AlertConfigPath     string
	MetricsAddr         string
	VehicleFreshness    time.Duration
	PredictInterval     time.Duration
	TelemetryCadence    time.Duration
	AlertResolveHold    time.Duration
	DelayAlertThreshold time.Duration
}

// LoadEnv loads a .env file into the process environment when present.
// Missing files are not an error; explicit environment always wins.
func LoadEnv() {
	_ = godotenv.Load()
}

// GetenvDefault returns the value of the named variable, or def when unset.
func GetenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// GetenvDuration parses the named variable as seconds, or returns def when
// unset. Invalid values produce an error instead of a silent default.
func GetenvDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	sec, err := strconv.Atoi(v)
	if err != nil || sec <= 0 {
		return 0, fmt.Errorf("invalid %s: %q", key, v)
	}
	return time.Duration(sec) * time.Second, nil
}
