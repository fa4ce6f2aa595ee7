// Edgewatch - IoT Security Telemetry Pipeline
// Copyright 2026 Edgewatch Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/edgewatch/edgewatch

// Package config loads Edgewatch configuration with layered sources:
// built-in defaults, an optional YAML file, then environment variables
// (highest priority). Loaded configuration is validated before use.
package config

import (
	"fmt"
	"time"
)

// Config is the complete Edgewatch configuration.
type Config struct {
	Broker  BrokerConfig  `koanf:"broker"`
	Model   ModelConfig   `koanf:"model"`
	Store   StoreConfig   `koanf:"store"`
	Server  ServerConfig  `koanf:"server"`
	Windows WindowConfig  `koanf:"windows"`
	Logging LoggingConfig `koanf:"logging"`
}

// BrokerConfig configures the MQTT transport collaborator.
type BrokerConfig struct {
	// URL is the broker address, e.g. tcp://broker.hivemq.com:1883.
	URL string `koanf:"url" validate:"required"`

	// Topic is the telemetry subscription topic.
	Topic string `koanf:"topic" validate:"required"`

	// ClientID identifies this subscriber to the broker. A random suffix
	// is appended at connect time to avoid session collisions.
	ClientID string `koanf:"client_id" validate:"required"`

	// QoS is the MQTT quality-of-service level for the subscription.
	QoS byte `koanf:"qos" validate:"lte=2"`

	// ConnectTimeout bounds the initial broker connection.
	ConnectTimeout time.Duration `koanf:"connect_timeout" validate:"gt=0"`

	// KeepAlive is the MQTT keep-alive interval.
	KeepAlive time.Duration `koanf:"keep_alive" validate:"gt=0"`
}

// ModelConfig configures the anomaly model collaborator.
type ModelConfig struct {
	// Path is the ONNX model file. The ONNX Runtime shared library is
	// expected alongside it.
	Path string `koanf:"path" validate:"required"`

	// BreakerFailures is the consecutive-failure count that opens the
	// scoring circuit breaker.
	BreakerFailures uint32 `koanf:"breaker_failures" validate:"gte=1"`

	// BreakerTimeout is how long the breaker stays open before probing.
	BreakerTimeout time.Duration `koanf:"breaker_timeout" validate:"gt=0"`
}

// StoreConfig configures the durable decision log and its staging WAL.
type StoreConfig struct {
	// LogPath is the append-only decision log (CSV).
	LogPath string `koanf:"log_path" validate:"required"`

	// WALPath is the BadgerDB directory staging records before appends.
	WALPath string `koanf:"wal_path" validate:"required"`

	// WALSyncWrites forces fsync on every WAL write.
	WALSyncWrites bool `koanf:"wal_sync_writes"`

	// RetryBackoff is the wait before the single append retry.
	RetryBackoff time.Duration `koanf:"retry_backoff" validate:"gt=0"`
}

// ServerConfig configures the read-side HTTP API.
type ServerConfig struct {
	Host string `koanf:"host" validate:"required"`
	Port int    `koanf:"port" validate:"gte=1,lte=65535"`

	// Timeout applies to reads, writes, and shutdown.
	Timeout time.Duration `koanf:"timeout" validate:"gt=0"`

	// RateLimit is the per-client request ceiling per minute; 0 disables
	// rate limiting.
	RateLimit int `koanf:"rate_limit" validate:"gte=0"`
}

// WindowConfig configures rolling-window metrics.
type WindowConfig struct {
	// Sizes are the window sizes computed per refresh.
	Sizes []int `koanf:"sizes" validate:"required,min=1,dive,gt=0"`

	// ReportLimit caps each report view to the most recent N records.
	ReportLimit int `koanf:"report_limit" validate:"gt=0"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"required,oneof=trace debug info warn warning error fatal disabled"`
	Format string `koanf:"format" validate:"required,oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// defaultConfig returns the built-in defaults, overridden by config file
// and environment variables.
func defaultConfig() *Config {
	return &Config{
		Broker: BrokerConfig{
			URL:            "tcp://broker.hivemq.com:1883",
			Topic:          "iot/security/anomaly",
			ClientID:       "edgewatch",
			QoS:            1,
			ConnectTimeout: 30 * time.Second,
			KeepAlive:      60 * time.Second,
		},
		Model: ModelConfig{
			Path:            "/data/models/anomaly.onnx",
			BreakerFailures: 5,
			BreakerTimeout:  30 * time.Second,
		},
		Store: StoreConfig{
			LogPath:       "/data/logs/decisions.csv",
			WALPath:       "/data/wal",
			WALSyncWrites: true,
			RetryBackoff:  2 * time.Second,
		},
		Server: ServerConfig{
			Host:      "0.0.0.0",
			Port:      8380,
			Timeout:   30 * time.Second,
			RateLimit: 100,
		},
		Windows: WindowConfig{
			Sizes:       []int{10, 20, 50, 100},
			ReportLimit: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Validate checks the configuration beyond struct tags.
func (c *Config) Validate() error {
	if err := validateStruct(c); err != nil {
		return err
	}
	if c.Store.LogPath == c.Store.WALPath {
		return fmt.Errorf("store.log_path and store.wal_path must differ")
	}
	return nil
}
