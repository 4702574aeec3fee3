// Package config provides configuration loading for shroudns using Viper.
// Configuration is loaded from YAML files with automatic environment
// variable binding.
//
// Environment variables use the SHROUDNS_ prefix and underscore-separated
// keys:
//   - SHROUDNS_UDP_ADDR -> udp.addr
//   - SHROUDNS_UPSTREAM_ENDPOINT -> upstream.endpoint
//   - SHROUDNS_BLOCKLIST_PATH -> blocklist.path
package config

import (
	"os"
	"strings"
)

// UDPConfig controls the plain-DNS UDP listener.
type UDPConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Addr    string `yaml:"addr"    mapstructure:"addr"`
	Sockets int    `yaml:"sockets" mapstructure:"sockets"` // SO_REUSEPORT socket count, 0 = auto
}

// TCPConfig controls the DNS-over-TCP listener.
type TCPConfig struct {
	Enabled        bool   `yaml:"enabled"          mapstructure:"enabled"`
	Addr           string `yaml:"addr"             mapstructure:"addr"`
	MaxConnsPerIP  int    `yaml:"max_conns_per_ip" mapstructure:"max_conns_per_ip"`
	IdleTimeoutRaw string `yaml:"idle_timeout"     mapstructure:"idle_timeout"`
}

// DoHConfig controls the DNS-over-HTTPS listener.
type DoHConfig struct {
	Enabled  bool   `yaml:"enabled"   mapstructure:"enabled"`
	Addr     string `yaml:"addr"      mapstructure:"addr"`
	CertPath string `yaml:"cert_path" mapstructure:"cert_path"`
	KeyPath  string `yaml:"key_path"  mapstructure:"key_path"`
}

// UpstreamConfig controls the single upstream DoH resolver the proxy
// forwards unfiltered queries to.
type UpstreamConfig struct {
	Endpoint       string `yaml:"endpoint"        mapstructure:"endpoint"`
	DialTimeout    string `yaml:"dial_timeout"    mapstructure:"dial_timeout"`
	RequestTimeout string `yaml:"request_timeout" mapstructure:"request_timeout"`
}

// BlocklistConfig controls the domain blocklist source.
type BlocklistConfig struct {
	Path            string `yaml:"path"             mapstructure:"path"`
	Format          string `yaml:"format"            mapstructure:"format"` // "auto", "hosts", "domains", "adblock"
	RefreshInterval string `yaml:"refresh_interval"  mapstructure:"refresh_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level            string            `yaml:"level"             mapstructure:"level"`
	Structured       bool              `yaml:"structured"        mapstructure:"structured"`
	StructuredFormat string            `yaml:"structured_format" mapstructure:"structured_format"`
	IncludePID       bool              `yaml:"include_pid"       mapstructure:"include_pid"`
	ExtraFields      map[string]string `yaml:"extra_fields"      mapstructure:"extra_fields"`
}

// AdminConfig contains management API settings.
//
// Note: APIKey is intentionally treated as a secret and should not be
// returned by API endpoints.
type AdminConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Host    string `yaml:"host"    mapstructure:"host"`
	Port    int    `yaml:"port"    mapstructure:"port"`
	APIKey  string `yaml:"api_key" mapstructure:"api_key"`
}

// StoreConfig controls the persisted query/block counter database.
type StoreConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Path    string `yaml:"path"    mapstructure:"path"`
}

// Config is the root configuration structure.
type Config struct {
	UDP       UDPConfig       `yaml:"udp"       mapstructure:"udp"`
	TCP       TCPConfig       `yaml:"tcp"       mapstructure:"tcp"`
	DoH       DoHConfig       `yaml:"doh"       mapstructure:"doh"`
	Upstream  UpstreamConfig  `yaml:"upstream"  mapstructure:"upstream"`
	Blocklist BlocklistConfig `yaml:"blocklist" mapstructure:"blocklist"`
	Logging   LoggingConfig   `yaml:"logging"   mapstructure:"logging"`
	Admin     AdminConfig     `yaml:"admin"     mapstructure:"admin"`
	Store     StoreConfig     `yaml:"store"     mapstructure:"store"`
}

// ResolveConfigPath determines the config file path from flag or environment.
func ResolveConfigPath(flagValue string) string {
	if strings.TrimSpace(flagValue) != "" {
		return flagValue
	}
	if v := strings.TrimSpace(os.Getenv("SHROUDNS_CONFIG")); v != "" {
		return v
	}
	return ""
}

// Load loads configuration from a YAML file with environment variable
// overrides. This is the main entry point for loading configuration.
//
// Configuration priority (highest to lowest):
//  1. Environment variables (SHROUDNS_*)
//  2. Config file values
//  3. Default values
func Load(path string) (*Config, error) {
	return loadFromSource(path)
}
