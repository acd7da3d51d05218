// Package config reads service configuration from flags and environment
// variables. Environment takes precedence over flags.
package config

import (
	"flag"
	"fmt"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	RunAddress           string   `env:"RUN_ADDRESS"`
	DatabaseURI          string   `env:"DATABASE_URI"`
	JWTSecret            string   `env:"JWT_SECRET"`
	PayoutGatewayAddress string   `env:"PAYOUT_GATEWAY_ADDRESS"`
	CORSAllowedOrigins   []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:","`
}

// Parse reads configuration from command-line flags and the environment.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envJWTSecret := cfg.JWTSecret
	envPayoutGateway := cfg.PayoutGatewayAddress

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.JWTSecret, "s", "", "JWT signing secret")
	flag.StringVar(&cfg.PayoutGatewayAddress, "p", "", "payout gateway address")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envJWTSecret != "" {
		cfg.JWTSecret = envJWTSecret
	}
	if envPayoutGateway != "" {
		cfg.PayoutGatewayAddress = envPayoutGateway
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}
	if cfg.JWTSecret == "" {
		cfg.JWTSecret = "devsecret"
	}

	return cfg, nil
}
