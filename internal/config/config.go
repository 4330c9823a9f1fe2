package config

import (
	"fmt"
	"net"
	"os"
	"strings"

	"github.com/spf13/viper"

	"github.com/rahra/utdns/internal/dispatch"
)

// ResolveConfigPath determines the config file path from flag or environment.
func ResolveConfigPath(flagValue string) string {
	if strings.TrimSpace(flagValue) != "" {
		return flagValue
	}
	if v := strings.TrimSpace(os.Getenv("UTDNS_CONFIG")); v != "" {
		return v
	}
	return ""
}

// initConfig sets up the config loader with defaults, env binding, and config file.
func initConfig(configPath string) (*viper.Viper, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("UTDNS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	return v, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("listen.ipv4_only", false)
	v.SetDefault("listen.port", 53)

	v.SetDefault("upstream.address", "")

	v.SetDefault("limits.max_trx", 512)
	v.SetDefault("limits.timeout_seconds", 10)

	v.SetDefault("logging.level", "INFO")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.syslog", false)

	v.SetDefault("admin.enabled", false)
	v.SetDefault("admin.address", "127.0.0.1:8080")
}

func loadFromSource(configPath string) (*Config, error) {
	v, err := initConfig(configPath)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Listen: ListenConfig{
			IPv4Only: v.GetBool("listen.ipv4_only"),
			Port:     v.GetInt("listen.port"),
		},
		Upstream: UpstreamConfig{
			Address: strings.TrimSpace(v.GetString("upstream.address")),
		},
		Limits: LimitsConfig{
			MaxTrx:         v.GetInt("limits.max_trx"),
			TimeoutSeconds: v.GetInt("limits.timeout_seconds"),
		},
		Logging: LoggingConfig{
			Level:  strings.ToUpper(v.GetString("logging.level")),
			Format: strings.ToLower(v.GetString("logging.format")),
			Syslog: v.GetBool("logging.syslog"),
		},
		Admin: AdminConfig{
			Enabled: v.GetBool("admin.enabled"),
			Address: v.GetString("admin.address"),
		},
	}

	if err := normalizeConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// normalizeConfig validates and fills in defaults the zero value can't
// express (e.g. an explicit file value of 0 should still mean "use the
// default").
func normalizeConfig(cfg *Config) error {
	if cfg.Listen.Port <= 0 || cfg.Listen.Port > 65535 {
		return fmt.Errorf("%w: listen.port must be 1..65535", dispatch.ErrConfigInvalid)
	}
	if cfg.Limits.MaxTrx <= 0 {
		cfg.Limits.MaxTrx = 512
	}
	if cfg.Limits.TimeoutSeconds <= 0 {
		cfg.Limits.TimeoutSeconds = 10
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "INFO"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
	if cfg.Admin.Address == "" {
		cfg.Admin.Address = "127.0.0.1:8080"
	}
	if cfg.Admin.Enabled {
		if _, _, err := net.SplitHostPort(cfg.Admin.Address); err != nil {
			return fmt.Errorf("%w: admin.address must be host:port: %v", dispatch.ErrConfigInvalid, err)
		}
	}
	return nil
}
