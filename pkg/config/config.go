/*
 * Copyright 2025 AudioRack Live.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package config loads server configuration from YAML and environment.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/audiorack/gearsync/pkg/logger"
	"github.com/audiorack/gearsync/pkg/models"
)

// Config is the full server configuration.
type Config struct {
	ListenAddr string        `json:"listen_addr" yaml:"listen_addr" env:"LISTEN_ADDR" env-default:":8090"`
	CORS       CORS          `json:"cors" yaml:"cors"`
	Database   Database      `json:"database" yaml:"database"`
	NATS       NATS          `json:"nats" yaml:"nats"`
	Auth       Auth          `json:"auth" yaml:"auth"`
	Logging    logger.Config `json:"logging" yaml:"logging"`
}

// CORS mirrors models.CORSConfig with env bindings.
type CORS struct {
	AllowedOrigins   []string `json:"allowed_origins" yaml:"allowed_origins" env:"CORS_ALLOWED_ORIGINS" env-default:"*"`
	AllowCredentials bool     `json:"allow_credentials" yaml:"allow_credentials" env:"CORS_ALLOW_CREDENTIALS" env-default:"true"`
}

// Model converts to the shared CORS model.
func (c CORS) Model() models.CORSConfig {
	return models.CORSConfig{
		AllowedOrigins:   c.AllowedOrigins,
		AllowCredentials: c.AllowCredentials,
	}
}

// Database holds the PostgreSQL connection settings.
type Database struct {
	Host            string        `json:"host" yaml:"host" env:"DB_HOST" env-default:"localhost"`
	Port            int           `json:"port" yaml:"port" env:"DB_PORT" env-default:"5432"`
	Database        string        `json:"database" yaml:"database" env:"DB_NAME" env-default:"gearsync"`
	Username        string        `json:"username" yaml:"username" env:"DB_USER" env-default:"gearsync"`
	Password        string        `json:"password" yaml:"password" env:"DB_PASSWORD"`
	SSLMode         string        `json:"ssl_mode" yaml:"ssl_mode" env:"DB_SSL_MODE" env-default:"disable"`
	MaxConnections  int32         `json:"max_connections" yaml:"max_connections" env:"DB_MAX_CONNS" env-default:"8"`
	MinConnections  int32         `json:"min_connections" yaml:"min_connections" env:"DB_MIN_CONNS" env-default:"0"`
	MaxConnLifetime time.Duration `json:"max_conn_lifetime" yaml:"max_conn_lifetime" env:"DB_MAX_CONN_LIFETIME" env-default:"30m"`
	ApplicationName string        `json:"application_name" yaml:"application_name" env-default:"gearsync"`
}

// NATS configures the optional broadcast backplane. Empty URL disables it and
// fan-out stays in-process.
type NATS struct {
	URL           string `json:"url" yaml:"url" env:"NATS_URL"`
	SubjectPrefix string `json:"subject_prefix" yaml:"subject_prefix" env:"NATS_SUBJECT_PREFIX" env-default:"gearsync.sync"`
}

// Auth configures token issuance.
type Auth struct {
	JWTSecret string        `json:"jwt_secret" yaml:"jwt_secret" env:"JWT_SECRET"`
	TokenTTL  time.Duration `json:"token_ttl" yaml:"token_ttl" env:"TOKEN_TTL" env-default:"720h"`
}

var (
	errNoJWTSecret = errors.New("auth.jwt_secret is required")
	errNoDatabase  = errors.New("database.database is required")
)

// Validate checks invariants that would otherwise only fail at first use.
func (c *Config) Validate() error {
	if c.Auth.JWTSecret == "" {
		return errNoJWTSecret
	}

	if c.Database.Database == "" {
		return errNoDatabase
	}

	if c.Database.Port <= 0 || c.Database.Port > 65535 {
		return fmt.Errorf("database.port out of range: %d", c.Database.Port)
	}

	return nil
}
