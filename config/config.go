package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port" validate:"gt=0,lte=65535"`
	ReadTimeout     time.Duration `yaml:"readTimeout" validate:"gte=0"`
	WriteTimeout    time.Duration `yaml:"writeTimeout" validate:"gte=0"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout" validate:"gte=0"`

	// Number of minute values in short responses
	ShortCount int `yaml:"shortCount" validate:"gt=0"`
}

// MTAConfig contains realtime feed configuration
type MTAConfig struct {
	// Optional. Sent as x-api-key.
	APIKey string `yaml:"apiKey"`

	// Overrides feed URLs by feed ID, e.g. nqrw.
	FeedURLs map[string]string `yaml:"feedURLs" validate:"dive,keys,required,endkeys,url"`

	RealtimeTTL  time.Duration `yaml:"realtimeTTL" validate:"gt=0"`
	Timeout      time.Duration `yaml:"timeout" validate:"gt=0"`
	MaxStaleness time.Duration `yaml:"maxStaleness" validate:"gte=0"`

	// Zero fetches feeds on demand only.
	PollInterval time.Duration `yaml:"pollInterval" validate:"gte=0"`
}

// StorageConfig selects where stations are stored
type StorageConfig struct {
	Backend     string `yaml:"backend" validate:"oneof=memory sqlite postgres"`
	SQLiteDir   string `yaml:"sqliteDir"`
	PostgresDSN string `yaml:"postgresDSN" validate:"required_if=Backend postgres"`
}

// StationsConfig contains station index configuration
type StationsConfig struct {
	Set string `yaml:"set" validate:"required"`

	// Optional CSV file imported into Set on startup.
	CSV string `yaml:"csv" validate:"omitempty,file"`

	// Optional GTFS static stops.txt the CSV's stop IDs are
	// checked against.
	Stops string `yaml:"stops" validate:"omitempty,file"`
}

// LogConfig contains logging configuration
type LogConfig struct {
	Level       string `yaml:"level" validate:"oneof=debug info warn error"`
	Development bool   `yaml:"development"`
}

// Config is the root configuration structure
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	MTA      MTAConfig      `yaml:"mta"`
	Storage  StorageConfig  `yaml:"storage"`
	Stations StationsConfig `yaml:"stations"`
	Log      LogConfig      `yaml:"log"`
}

func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8000,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			ShortCount:      3,
		},
		MTA: MTAConfig{
			FeedURLs:     map[string]string{},
			RealtimeTTL:  30 * time.Second,
			Timeout:      15 * time.Second,
			MaxStaleness: 5 * time.Minute,
		},
		Storage: StorageConfig{
			Backend: "memory",
		},
		Stations: StationsConfig{
			Set: "default",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load builds the configuration from defaults, the YAML file at path
// (if path is non-empty), and environment variables, in that order.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	envStr("MTA_API_KEY", &c.MTA.APIKey)
	envStr("ARRIVALS_STORAGE_BACKEND", &c.Storage.Backend)
	envStr("ARRIVALS_SQLITE_DIR", &c.Storage.SQLiteDir)
	envStr("ARRIVALS_POSTGRES_DSN", &c.Storage.PostgresDSN)
	envStr("ARRIVALS_STATION_SET", &c.Stations.Set)
	envStr("ARRIVALS_STATIONS_CSV", &c.Stations.CSV)
	envStr("ARRIVALS_STOPS_TXT", &c.Stations.Stops)
	envStr("ARRIVALS_LOG_LEVEL", &c.Log.Level)

	// PORT is what container platforms set
	if err := envInt("PORT", &c.Server.Port); err != nil {
		return err
	}
	if err := envInt("ARRIVALS_SHORT_COUNT", &c.Server.ShortCount); err != nil {
		return err
	}
	if err := envDuration("ARRIVALS_REALTIME_TTL", &c.MTA.RealtimeTTL); err != nil {
		return err
	}
	if err := envDuration("ARRIVALS_POLL_INTERVAL", &c.MTA.PollInterval); err != nil {
		return err
	}
	if err := envDuration("ARRIVALS_MAX_STALENESS", &c.MTA.MaxStaleness); err != nil {
		return err
	}

	return nil
}

func envStr(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("parsing %s: %w", key, err)
	}
	*dst = n
	return nil
}

func envDuration(key string, dst *time.Duration) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("parsing %s: %w", key, err)
	}
	*dst = d
	return nil
}
