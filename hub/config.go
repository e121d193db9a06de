// Copyright 2025 Lawliet Project
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package hub

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the hub service configuration. Values come from an optional
// YAML file (HUB_CONFIG) with environment variables taking priority.
type Config struct {
	// Port the HTTP server listens on.
	Port string `yaml:"port"`

	// DatabaseURL is the PostgreSQL connection string for the application
	// store (users, lab catalog).
	DatabaseURL string `yaml:"database_url"`

	// GuacamoleDatabaseURL is the MySQL DSN for the gateway store
	// (connections, parameters, permissions, identities).
	GuacamoleDatabaseURL string `yaml:"guacamole_database_url"`

	// APIServerHost is the base URL of the container orchestration backend.
	APIServerHost string `yaml:"api_server_host"`

	// RedisURL enables the catalog/status cache when set.
	RedisURL string `yaml:"redis_url"`

	// JWTSecret signs and verifies session tokens from the web layer.
	JWTSecret string `yaml:"jwt_secret"`

	// GuacHostname is the gateway-side proxy host that connection hostname
	// parameters point at. It is the address of the container access proxy,
	// not of the lab image.
	GuacHostname string `yaml:"guac_hostname"`

	// BackendTimeout bounds every outbound call to the container backend.
	BackendTimeout time.Duration `yaml:"backend_timeout"`

	// DefaultMaxLabs is the per-user concurrent lab quota applied when the
	// user row carries none.
	DefaultMaxLabs int `yaml:"default_max_labs"`
}

// LoadConfig builds the configuration from HUB_CONFIG (if set) and the
// environment.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Port:           "8080",
		APIServerHost:  "http://lawliet-k8s-api-server",
		GuacHostname:   "lawliet-ssh",
		BackendTimeout: 10 * time.Second,
		DefaultMaxLabs: 3,
	}

	if path := os.Getenv("HUB_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	// Environment overrides
	overrideString(&cfg.Port, "PORT")
	overrideString(&cfg.DatabaseURL, "DATABASE_URL")
	overrideString(&cfg.GuacamoleDatabaseURL, "GUACAMOLE_DATABASE_URL")
	overrideString(&cfg.APIServerHost, "HUB_API_SERVER")
	overrideString(&cfg.RedisURL, "REDIS_URL")
	overrideString(&cfg.JWTSecret, "JWT_SECRET")
	overrideString(&cfg.GuacHostname, "GUAC_HOSTNAME")

	if v := os.Getenv("BACKEND_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("invalid BACKEND_TIMEOUT %q: %w", v, err)
		}
		cfg.BackendTimeout = d
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.GuacamoleDatabaseURL == "" {
		return nil, fmt.Errorf("GUACAMOLE_DATABASE_URL is required")
	}

	return cfg, nil
}

func overrideString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}
