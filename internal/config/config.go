package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"gopkg.in/yaml.v3"
)

// StoreConfig selects and parameterizes the document-store backend.
type StoreConfig struct {
	// Backend is one of "memory", "sqlite" or "mongo".
	Backend string `yaml:"backend" json:"backend"`
	// SQLitePath is the database file used by the sqlite backend.
	SQLitePath string `yaml:"sqlite_path" json:"sqlite_path"`
	// MongoURI and MongoDatabase configure the mongo backend.
	MongoURI      string `yaml:"mongo_uri" json:"mongo_uri"`
	MongoDatabase string `yaml:"mongo_database" json:"mongo_database"`
}

// NotifyConfig controls push-notification planning and delivery.
type NotifyConfig struct {
	// SweepCron is the cron expression driving the delivery sweep.
	SweepCron string `yaml:"sweep_cron" json:"sweep_cron"`
	// HorizonDays bounds how far ahead sends are materialized.
	HorizonDays int `yaml:"horizon_days" json:"horizon_days"`
}

// Config is the top-level server configuration.
type Config struct {
	// Listen is the HTTP listen address.
	Listen string `yaml:"listen" json:"listen"`
	// Timezone is the IANA zone used when a subject profile carries none.
	Timezone string `yaml:"timezone" json:"timezone"`
	// LogLevel is a logrus level name.
	LogLevel string `yaml:"log_level" json:"log_level"`

	Store         StoreConfig  `yaml:"store" json:"store"`
	Notifications NotifyConfig `yaml:"notifications" json:"notifications"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Listen:   ":8080",
		Timezone: "UTC",
		LogLevel: "info",
		Store: StoreConfig{
			Backend:       "memory",
			SQLitePath:    "mindlogger.db",
			MongoDatabase: "mindlogger",
		},
		Notifications: NotifyConfig{
			SweepCron:   "* * * * *",
			HorizonDays: 30,
		},
	}
}

// Load reads a YAML config file, filling unset fields from Default. A
// missing file is not an error; the defaults apply.
func Load(path string) (*Config, error) {
	cfg := Default()
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Store.Backend {
	case "memory", "sqlite", "mongo":
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}
	if c.Store.Backend == "mongo" && c.Store.MongoURI == "" {
		return errors.New("mongo backend requires mongo_uri")
	}
	return nil
}
