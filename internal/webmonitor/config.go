package webmonitor

import (
	"time"
)

// Config defines the runtime configuration for the web monitor server.
type Config struct {
	Addr           string
	AllowedOrigins []string
	StreamInterval time.Duration
	ResultInterval time.Duration
	JPEGQuality    int
	StampLatest    bool
}

// DefaultConfig returns a config aligned with the dashboard defaults.
func DefaultConfig() Config {
	return Config{
		Addr:           ":8000",
		AllowedOrigins: []string{"http://localhost:3000", "http://127.0.0.1:3000"},
		StreamInterval: 33 * time.Millisecond,
		ResultInterval: 200 * time.Millisecond,
		JPEGQuality:    80,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.StreamInterval <= 0 {
		c.StreamInterval = def.StreamInterval
	}
	if c.ResultInterval <= 0 {
		c.ResultInterval = def.ResultInterval
	}
	if c.JPEGQuality <= 0 || c.JPEGQuality > 100 {
		c.JPEGQuality = def.JPEGQuality
	}
	if c.AllowedOrigins == nil {
		c.AllowedOrigins = def.AllowedOrigins
	}
	return c
}
