package api

import (
	"time"

	"github.com/Netflix/go-env"
)

// Config holds crate-syncd settings, loaded from the environment.
type Config struct {
	ListenAddr            string `env:"CRATE_SYNCD_LISTEN_ADDR,default=0.0.0.0:8080"`
	DBPath                string `env:"CRATE_SYNCD_DB_PATH,default=data/crate-syncd.db"`
	AccessTokenTTLSeconds int    `env:"CRATE_SYNCD_ACCESS_TOKEN_TTL,default=900"`
	CORSOrigins           string `env:"CRATE_SYNCD_CORS_ORIGINS,default=*"`
	MaxPushOps            int    `env:"CRATE_SYNCD_MAX_PUSH_OPS,default=500"`
	MaxPullLimit          int    `env:"CRATE_SYNCD_MAX_PULL_LIMIT,default=500"`
	LogLevel              string `env:"CRATE_SYNCD_LOG_LEVEL,default=info"`
	LogFormat             string `env:"CRATE_SYNCD_LOG_FORMAT,default=json"`
	ShutdownTimeoutSec    int    `env:"CRATE_SYNCD_SHUTDOWN_TIMEOUT,default=10"`
}

// NewConfig loads the configuration from environment variables.
func NewConfig() (*Config, error) {
	var config Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return nil, err
	}
	return &config, nil
}

// AccessTokenTTL returns the configured bearer token lifetime.
func (c *Config) AccessTokenTTL() time.Duration {
	return time.Duration(c.AccessTokenTTLSeconds) * time.Second
}

// ShutdownTimeout returns how long graceful shutdown may take.
func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutSec) * time.Second
}
