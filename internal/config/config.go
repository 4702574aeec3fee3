// Package config provides configuration loading and validation for
// shroudns.
//
// Configuration is loaded with the following priority (highest to lowest):
//  1. Environment variables (SHROUDNS_* prefix)
//  2. YAML config file (if specified with --config)
//  3. Hardcoded defaults
//
// Environment variables are mapped from SHROUDNS_CATEGORY_SETTING format,
// e.g., SHROUDNS_UDP_ADDR maps to udp.addr in YAML.
//
// All configuration is validated during Load() to ensure correctness early.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

func initConfig(configPath string) (*viper.Viper, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("SHROUDNS")
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
	v.SetDefault("udp.enabled", true)
	v.SetDefault("udp.addr", "0.0.0.0:53")
	v.SetDefault("udp.sockets", 0)

	v.SetDefault("tcp.enabled", true)
	v.SetDefault("tcp.addr", "0.0.0.0:53")
	v.SetDefault("tcp.max_conns_per_ip", 32)
	v.SetDefault("tcp.idle_timeout", "120s")

	v.SetDefault("doh.enabled", true)
	v.SetDefault("doh.addr", "0.0.0.0:443")
	v.SetDefault("doh.cert_path", "resources/public.pem")
	v.SetDefault("doh.key_path", "resources/private.pem")

	v.SetDefault("upstream.endpoint", "https://1.1.1.1/dns-query")
	v.SetDefault("upstream.dial_timeout", "10s")
	v.SetDefault("upstream.request_timeout", "5s")

	v.SetDefault("blocklist.path", "resources/ads.txt")
	v.SetDefault("blocklist.format", "hosts")
	v.SetDefault("blocklist.refresh_interval", "24h")

	v.SetDefault("logging.level", "INFO")
	v.SetDefault("logging.structured", false)
	v.SetDefault("logging.structured_format", "json")
	v.SetDefault("logging.include_pid", false)
	v.SetDefault("logging.extra_fields", map[string]string{})

	v.SetDefault("admin.enabled", false)
	v.SetDefault("admin.host", "127.0.0.1")
	v.SetDefault("admin.port", 8080)
	v.SetDefault("admin.api_key", "")

	v.SetDefault("store.enabled", false)
	v.SetDefault("store.path", "shroudns.db")
}

func loadFromSource(configPath string) (*Config, error) {
	v, err := initConfig(configPath)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}

	loadUDPConfig(v, cfg)
	loadTCPConfig(v, cfg)
	loadDoHConfig(v, cfg)
	loadUpstreamConfig(v, cfg)
	loadBlocklistConfig(v, cfg)
	loadLoggingConfig(v, cfg)
	loadAdminConfig(v, cfg)
	loadStoreConfig(v, cfg)

	if err := normalizeConfig(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func loadUDPConfig(v *viper.Viper, cfg *Config) {
	cfg.UDP.Enabled = v.GetBool("udp.enabled")
	cfg.UDP.Addr = v.GetString("udp.addr")
	cfg.UDP.Sockets = v.GetInt("udp.sockets")
}

func loadTCPConfig(v *viper.Viper, cfg *Config) {
	cfg.TCP.Enabled = v.GetBool("tcp.enabled")
	cfg.TCP.Addr = v.GetString("tcp.addr")
	cfg.TCP.MaxConnsPerIP = v.GetInt("tcp.max_conns_per_ip")
	cfg.TCP.IdleTimeoutRaw = v.GetString("tcp.idle_timeout")
}

func loadDoHConfig(v *viper.Viper, cfg *Config) {
	cfg.DoH.Enabled = v.GetBool("doh.enabled")
	cfg.DoH.Addr = v.GetString("doh.addr")
	cfg.DoH.CertPath = v.GetString("doh.cert_path")
	cfg.DoH.KeyPath = v.GetString("doh.key_path")
}

func loadUpstreamConfig(v *viper.Viper, cfg *Config) {
	cfg.Upstream.Endpoint = v.GetString("upstream.endpoint")
	cfg.Upstream.DialTimeout = v.GetString("upstream.dial_timeout")
	cfg.Upstream.RequestTimeout = v.GetString("upstream.request_timeout")
}

func loadBlocklistConfig(v *viper.Viper, cfg *Config) {
	cfg.Blocklist.Path = v.GetString("blocklist.path")
	cfg.Blocklist.Format = v.GetString("blocklist.format")
	cfg.Blocklist.RefreshInterval = v.GetString("blocklist.refresh_interval")
}

func loadLoggingConfig(v *viper.Viper, cfg *Config) {
	cfg.Logging.Level = strings.ToUpper(v.GetString("logging.level"))
	cfg.Logging.Structured = v.GetBool("logging.structured")
	cfg.Logging.StructuredFormat = v.GetString("logging.structured_format")
	cfg.Logging.IncludePID = v.GetBool("logging.include_pid")
	cfg.Logging.ExtraFields = v.GetStringMapString("logging.extra_fields")
}

func loadAdminConfig(v *viper.Viper, cfg *Config) {
	cfg.Admin.Enabled = v.GetBool("admin.enabled")
	cfg.Admin.Host = v.GetString("admin.host")
	cfg.Admin.Port = v.GetInt("admin.port")
	cfg.Admin.APIKey = v.GetString("admin.api_key")
}

func loadStoreConfig(v *viper.Viper, cfg *Config) {
	cfg.Store.Enabled = v.GetBool("store.enabled")
	cfg.Store.Path = v.GetString("store.path")
}

// normalizeConfig validates and normalizes the configuration, and parses
// duration strings eagerly so bad values fail at startup rather than at
// first use.
func normalizeConfig(cfg *Config) error {
	if cfg.UDP.Enabled && cfg.UDP.Addr == "" {
		return errors.New("udp.addr must be set when udp.enabled")
	}
	if cfg.TCP.Enabled && cfg.TCP.Addr == "" {
		return errors.New("tcp.addr must be set when tcp.enabled")
	}
	if cfg.DoH.Enabled {
		if cfg.DoH.Addr == "" {
			return errors.New("doh.addr must be set when doh.enabled")
		}
		if cfg.DoH.CertPath == "" || cfg.DoH.KeyPath == "" {
			return errors.New("doh.cert_path and doh.key_path must be set when doh.enabled")
		}
	}

	if cfg.Upstream.Endpoint == "" {
		return errors.New("upstream.endpoint must be set")
	}
	if _, err := parseDurationDefault(cfg.Upstream.DialTimeout, 10*time.Second); err != nil {
		return fmt.Errorf("upstream.dial_timeout: %w", err)
	}
	if _, err := parseDurationDefault(cfg.Upstream.RequestTimeout, 5*time.Second); err != nil {
		return fmt.Errorf("upstream.request_timeout: %w", err)
	}

	if cfg.Blocklist.Format == "" {
		cfg.Blocklist.Format = "hosts"
	}
	if _, err := parseDurationDefault(cfg.Blocklist.RefreshInterval, 24*time.Hour); err != nil {
		return fmt.Errorf("blocklist.refresh_interval: %w", err)
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "INFO"
	}
	if cfg.Logging.StructuredFormat == "" {
		cfg.Logging.StructuredFormat = "json"
	}
	if cfg.Logging.ExtraFields == nil {
		cfg.Logging.ExtraFields = map[string]string{}
	}

	if cfg.Admin.Host == "" {
		cfg.Admin.Host = "127.0.0.1"
	}
	if cfg.Admin.Enabled && (cfg.Admin.Port <= 0 || cfg.Admin.Port > 65535) {
		return errors.New("admin.port must be 1..65535")
	}

	if cfg.Store.Enabled && cfg.Store.Path == "" {
		return errors.New("store.path must be set when store.enabled")
	}

	return nil
}

// parseDurationDefault parses s, or returns def when s is empty.
func parseDurationDefault(s string, def time.Duration) (time.Duration, error) {
	if strings.TrimSpace(s) == "" {
		return def, nil
	}
	return time.ParseDuration(s)
}

// UpstreamDialTimeout returns the parsed dial timeout, or its default.
func (c *Config) UpstreamDialTimeout() time.Duration {
	d, _ := parseDurationDefault(c.Upstream.DialTimeout, 10*time.Second)
	return d
}

// UpstreamRequestTimeout returns the parsed request timeout, or its default.
func (c *Config) UpstreamRequestTimeout() time.Duration {
	d, _ := parseDurationDefault(c.Upstream.RequestTimeout, 5*time.Second)
	return d
}

// BlocklistRefreshInterval returns the parsed refresh interval, or its default.
func (c *Config) BlocklistRefreshInterval() time.Duration {
	d, _ := parseDurationDefault(c.Blocklist.RefreshInterval, 24*time.Hour)
	return d
}

// TCPIdleTimeout returns the parsed idle timeout, or its default.
func (c *Config) TCPIdleTimeout() time.Duration {
	d, _ := parseDurationDefault(c.TCP.IdleTimeoutRaw, 120*time.Second)
	return d
}
