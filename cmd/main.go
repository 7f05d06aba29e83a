package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"subwaytime.dev/arrivals"
	"subwaytime.dev/arrivals/config"
	"subwaytime.dev/arrivals/storage"
)

var rootCmd = &cobra.Command{
	Use:          "arrivals",
	Short:        "NYC subway arrivals",
	Long:         "Serves and prints real-time NYC subway arrivals from the MTA's GTFS-realtime feeds",
	SilenceUsage: true,
}

var (
	configPath string
	logLevel   string
	debug      bool
	apiKey     string
	headers    []string
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML config file")
	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVarP(&debug, "debug", "", false, "Human readable debug logging")
	rootCmd.PersistentFlags().StringVarP(&apiKey, "api-key", "", "", "MTA API key, sent as x-api-key")
	rootCmd.PersistentFlags().StringSliceVarP(
		&headers,
		"header",
		"",
		[]string{},
		"Additional feed HTTP header",
	)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(arrivalsCmd)
	rootCmd.AddCommand(stationsCmd)
	rootCmd.AddCommand(importStationsCmd)
	rootCmd.AddCommand(decodeCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func parseHeaders(headers []string) (map[string]string, error) {
	parsed := map[string]string{}
	for _, header := range headers {
		parts := strings.SplitN(header, ":", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("'%s' is not on form <key>:<value>", header)
		}
		parsed[strings.TrimSpace(parts[0])] = strings.TrimSpace(parts[1])
	}
	return parsed, nil
}

// Loads config and applies command line overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if debug {
		cfg.Log.Development = true
		cfg.Log.Level = "debug"
	}
	if apiKey != "" {
		cfg.MTA.APIKey = apiKey
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func buildLogger(cfg config.LogConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("parsing log level: %w", err)
	}

	zc := zap.NewProductionConfig()
	if cfg.Development {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)

	return zc.Build()
}

func openStorage(cfg config.StorageConfig) (storage.Storage, error) {
	switch cfg.Backend {
	case "sqlite":
		if cfg.SQLiteDir == "" {
			return storage.NewSQLiteStorage()
		}
		return storage.NewSQLiteStorage(storage.SQLiteConfig{OnDisk: true, Directory: cfg.SQLiteDir})
	case "postgres":
		return storage.NewPSQLStorage(cfg.PostgresDSN, false)
	case "memory", "":
		return storage.NewMemoryStorage(), nil
	}
	return nil, fmt.Errorf("unknown storage backend '%s'", cfg.Backend)
}

// Builds a Manager from config. The caller picks the Downloader.
func buildManager(cfg *config.Config, logger *zap.Logger) (*arrivals.Manager, error) {
	m := arrivals.NewManager(logger)
	m.RealtimeTTL = cfg.MTA.RealtimeTTL
	m.RealtimeTimeout = cfg.MTA.Timeout
	m.MaxStaleness = cfg.MTA.MaxStaleness
	m.PollInterval = cfg.MTA.PollInterval

	for feedID, url := range cfg.MTA.FeedURLs {
		m.FeedURLs[feedID] = url
	}

	extra, err := parseHeaders(headers)
	if err != nil {
		return nil, fmt.Errorf("invalid header: %w", err)
	}
	for k, v := range extra {
		m.Headers[k] = v
	}
	if cfg.MTA.APIKey != "" {
		m.Headers["x-api-key"] = cfg.MTA.APIKey
	}

	return m, nil
}

// Opens storage and loads the configured station set, importing the
// configured CSV first if there is one.
func loadStations(cfg *config.Config, logger *zap.Logger) (storage.Storage, *arrivals.StationIndex, error) {
	s, err := openStorage(cfg.Storage)
	if err != nil {
		return nil, nil, fmt.Errorf("opening storage: %w", err)
	}

	if cfg.Stations.CSV != "" {
		n, err := importStations(s, cfg.Stations.Set, cfg.Stations.CSV, cfg.Stations.Stops)
		if err != nil {
			s.Close()
			return nil, nil, fmt.Errorf("importing stations: %w", err)
		}
		logger.Info("imported stations",
			zap.String("csv", cfg.Stations.CSV),
			zap.String("set", cfg.Stations.Set),
			zap.Int("count", n),
		)
	}

	index, err := arrivals.LoadStationIndex(s, cfg.Stations.Set)
	if err != nil {
		s.Close()
		return nil, nil, fmt.Errorf("loading stations: %w", err)
	}

	return s, index, nil
}
