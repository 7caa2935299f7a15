package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Config struct {
	DBPath         string         `yaml:"db_path"`
	Listen         string         `yaml:"listen"`
	RetentionDays  int            `yaml:"retention_days"`
	LogLevel       string         `yaml:"log_level"`
	LogFormat      string         `yaml:"log_format"`
	GeoIPASNPath   string         `yaml:"geoip_asn_path"`
	MaxUploadBytes int64          `yaml:"max_upload_bytes"`
	Limits         LimitsConfig   `yaml:"limits"`
	Sources        []SourceConfig `yaml:"sources"`
}

// DefaultMaxUploadBytes caps upload request bodies when max_upload_bytes is unset.
const DefaultMaxUploadBytes = 64 << 20

// LimitsConfig caps the number of rows per report section.
type LimitsConfig struct {
	UserAgents    int `yaml:"user_agents"`
	Pages         int `yaml:"pages"`
	Referrers     int `yaml:"referrers"`
	Errors        int `yaml:"errors"`
	IPs           int `yaml:"ips"`
	BandwidthDays int `yaml:"bandwidth_days"`
}

type SourceConfig struct {
	Path     string `yaml:"path"`
	Hostname string `yaml:"hostname"`
	Follow   bool   `yaml:"follow"`
}

func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads a YAML config file. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &cfg, nil
}

func (cfg *Config) applyDefaults() {
	if cfg.Listen == "" {
		cfg.Listen = ":8080"
	}
	if cfg.DBPath == "" {
		cfg.DBPath = "./data/access.db"
	}
	if cfg.RetentionDays < 0 {
		cfg.RetentionDays = 0
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if cfg.LogFormat == "" {
		cfg.LogFormat = "text"
	}
	l := &cfg.Limits
	for _, n := range []*int{&l.UserAgents, &l.Pages, &l.Referrers, &l.Errors, &l.IPs} {
		if *n <= 0 {
			*n = 20
		}
	}
	if l.BandwidthDays <= 0 {
		l.BandwidthDays = 30
	}
}

func (cfg *Config) validate() error {
	switch cfg.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("log_format must be text or json, got %q", cfg.LogFormat)
	}
	for i, src := range cfg.Sources {
		if src.Path == "" {
			return fmt.Errorf("sources[%d]: path is required", i)
		}
		if src.Hostname == "" {
			return fmt.Errorf("sources[%d]: hostname is required", i)
		}
	}
	return nil
}
