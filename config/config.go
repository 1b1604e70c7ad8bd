// Package config loads process configuration from the environment, the way
// AdGuardDNS's internal/cmd/env.go loads its environment struct.
package config

import (
	"fmt"

	env "github.com/caarlos0/env/v7"

	"github.com/codeRisshi25/dns-forwarder/upstream"
)

// environment is the raw struct-tagged shape read from the process
// environment.
type environment struct {
	DNSPort       int    `env:"DNS_PORT" envDefault:"8053"`
	BindAddress   string `env:"BIND_ADDRESS" envDefault:"0.0.0.0"`
	RedisHost     string `env:"REDIS_HOST" envDefault:"127.0.0.1"`
	RedisPort     int    `env:"REDIS_PORT" envDefault:"6379"`
	NodeEnv       string `env:"NODE_ENV" envDefault:"development"`
	LocalZoneFile string `env:"LOCAL_ZONE_FILE"`
}

// Config is the fully resolved configuration for the process, including
// the hard-coded upstream pool, which is deliberately kept out of the
// environment.
type Config struct {
	BindAddress string
	DNSPort     int
	RedisHost   string
	RedisPort   int
	NodeEnv     string

	// LocalZoneFile is an optional path to a curated local-zone JSON file.
	// Empty disables the synthesizer.
	LocalZoneFile string

	// Upstreams is the ordered, finite upstream pool. It is hard-coded
	// configuration, not environment-driven; additional endpoints may be
	// appended here without touching the forwarder.
	Upstreams []upstream.Endpoint
}

// DefaultUpstreams is the default upstream pool.
func DefaultUpstreams() []upstream.Endpoint {
	return []upstream.Endpoint{
		{IP: "8.8.8.8", Port: 53, Name: "Google"},
		{IP: "1.1.1.1", Port: 53, Name: "Cloudflare"},
		{IP: "9.9.9.9", Port: 53, Name: "Quad9"},
	}
}

// Load reads the environment and returns a resolved Config.
func Load() (*Config, error) {
	var e environment
	if err := env.Parse(&e); err != nil {
		return nil, fmt.Errorf("config: parsing environment: %w", err)
	}

	return &Config{
		BindAddress:   e.BindAddress,
		DNSPort:       e.DNSPort,
		RedisHost:     e.RedisHost,
		RedisPort:     e.RedisPort,
		NodeEnv:       e.NodeEnv,
		LocalZoneFile: e.LocalZoneFile,
		Upstreams:     DefaultUpstreams(),
	}, nil
}

// IsProduction reports whether NODE_ENV is exactly "production"; any other
// value, including unset, is treated as development.
func (c *Config) IsProduction() bool {
	return c.NodeEnv == "production"
}
