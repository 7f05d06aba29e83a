package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"subwaytime.dev/arrivals"
	"subwaytime.dev/arrivals/api"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serves the arrivals API",
	Args:  cobra.NoArgs,
	RunE:  serve,
}

var port int

func init() {
	serveCmd.Flags().IntVarP(&port, "port", "p", 0, "Port to listen on (overrides config and PORT)")
}

func serve(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if port != 0 {
		cfg.Server.Port = port
	}

	logger, err := buildLogger(cfg.Log)
	if err != nil {
		return err
	}
	defer logger.Sync()

	s, stations, err := loadStations(cfg, logger)
	if err != nil {
		return err
	}
	defer s.Close()

	m, err := buildManager(cfg, logger)
	if err != nil {
		return err
	}

	// Only poll the feeds our stations need
	m.PollFeeds, err = arrivals.FeedsForRoutes(m.RouteFeeds, stations.RouteIDs()...)
	if err != nil {
		return fmt.Errorf("resolving feeds: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := m.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error("feed polling stopped", zap.Error(err))
		}
	}()

	server, err := api.NewServer(m, stations, logger)
	if err != nil {
		return err
	}
	server.ShortCount = cfg.Server.ShortCount
	server.ReadTimeout = cfg.Server.ReadTimeout
	server.WriteTimeout = cfg.Server.WriteTimeout
	server.ShutdownTimeout = cfg.Server.ShutdownTimeout

	logger.Info("starting",
		zap.Int("port", cfg.Server.Port),
		zap.Strings("stations", stations.Keys()),
		zap.Strings("feeds", m.PollFeeds),
		zap.Duration("poll_interval", m.PollInterval),
	)

	return server.ListenAndServe(ctx, fmt.Sprintf(":%d", cfg.Server.Port))
}
