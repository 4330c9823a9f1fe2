// Package config provides configuration loading for utdns using Viper.
// Configuration is loaded from an optional YAML file with automatic
// environment variable binding, and is then further overridden by CLI
// flags (see cmd/utdns). This precedence (flags > env >
// file > defaults) covers the settings surface the translator actually
// has: a listener, an upstream, the transaction table's resource
// limits, logging, and the optional admin surface.
//
// Environment variables use the UTDNS_ prefix and underscore-separated
// keys, e.g. UTDNS_LISTEN_PORT -> listen.port.
package config

// ListenConfig controls the UDP listener.
type ListenConfig struct {
	IPv4Only bool `yaml:"ipv4_only" mapstructure:"ipv4_only"`
	Port     int  `yaml:"port"      mapstructure:"port"`
}

// UpstreamConfig identifies the single recursive resolver the
// translator forwards every query to. The TCP port is always 53:
// only the address is configurable.
type UpstreamConfig struct {
	Address string `yaml:"address" mapstructure:"address"`
}

// LimitsConfig bounds the transaction table.
type LimitsConfig struct {
	MaxTrx         int `yaml:"max_trx"         mapstructure:"max_trx"`
	TimeoutSeconds int `yaml:"timeout_seconds" mapstructure:"timeout_seconds"`
}

// LoggingConfig controls the structured logger (internal/logging).
type LoggingConfig struct {
	Level  string `yaml:"level"  mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"` // "text" or "json"
	// Syslog switches the log sink to syslog instead of stderr; set
	// by the "-b" (background) flag.
	Syslog bool `yaml:"syslog" mapstructure:"syslog"`
}

// AdminConfig controls the optional observability HTTP surface.
type AdminConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Address string `yaml:"address" mapstructure:"address"`
}

// Config is the root configuration structure.
type Config struct {
	Listen   ListenConfig   `yaml:"listen"   mapstructure:"listen"`
	Upstream UpstreamConfig `yaml:"upstream" mapstructure:"upstream"`
	Limits   LimitsConfig   `yaml:"limits"   mapstructure:"limits"`
	Logging  LoggingConfig  `yaml:"logging"  mapstructure:"logging"`
	Admin    AdminConfig    `yaml:"admin"    mapstructure:"admin"`
}

// Load loads configuration from an optional YAML file with
// environment variable overrides. CLI flags are applied on top of the
// returned Config by the caller (cmd/utdns), since flag parsing needs
// to know which flags were explicitly set to preserve the documented
// precedence order.
func Load(path string) (*Config, error) {
	return loadFromSource(path)
}
