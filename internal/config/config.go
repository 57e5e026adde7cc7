package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Config holds all application configuration, loaded from environment variables.
type Config struct {
	// Server
	Host string `env:"ECLOSION_HOST" envDefault:"0.0.0.0"`
	Port int    `env:"ECLOSION_PORT" envDefault:"8080"`

	// Storage
	DatabasePath string `env:"DATABASE_PATH" envDefault:"./eclosion.db"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	// Telemetry
	MetricsPath string `env:"METRICS_PATH" envDefault:"/metrics"`

	// CORS
	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envDefault:"*" envSeparator:","`

	// Passphrase crypto (§4.1)
	ScryptN int `env:"SCRYPT_N" envDefault:"32768"`
	ScryptR int `env:"SCRYPT_R" envDefault:"8"`
	ScryptP int `env:"SCRYPT_P" envDefault:"1"`

	// Scheduler (§4.5)
	FullSyncInterval  string `env:"FULL_SYNC_INTERVAL" envDefault:"60m"`
	LightSyncInterval string `env:"LIGHT_SYNC_INTERVAL" envDefault:"15m"`

	// Security & lockout (§4.6)
	LockoutThreshold    int    `env:"LOCKOUT_THRESHOLD" envDefault:"10"`
	LockoutDuration     string `env:"LOCKOUT_DURATION" envDefault:"15m"`
	SecurityEventRetain string `env:"SECURITY_EVENT_RETENTION" envDefault:"2160h"` // 90 days
	GeolocationEndpoint string `env:"GEOLOCATION_ENDPOINT" envDefault:"http://ip-api.com/json/"`
	GeolocationTimeout  string `env:"GEOLOCATION_TIMEOUT" envDefault:"5s"`
	GeolocationCacheTTL string `env:"GEOLOCATION_CACHE_TTL" envDefault:"168h"` // 7 days
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing config from env: %w", err)
	}
	return cfg, nil
}

// ListenAddr returns the address the HTTP server should listen on.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
