package gtfs

import "time"

type Config struct {
	// GtfsURL is a static GTFS zip, either an http(s) URL or a local path.
	GtfsURL string

	// RefreshInterval controls how often a remote feed is re-fetched.
	RefreshInterval time.Duration

	// FetchTimeout bounds a single feed download.
	FetchTimeout time.Duration

	Verbose bool
}

func (config Config) refreshInterval() time.Duration {
	if config.RefreshInterval > 0 {
		return config.RefreshInterval
	}
	return 24 * time.Hour
}

func (config Config) fetchTimeout() time.Duration {
	if config.FetchTimeout > 0 {
		return config.FetchTimeout
	}
	return 60 * time.Second
}
