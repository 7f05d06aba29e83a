package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"subwaytime.dev/arrivals"
	"subwaytime.dev/arrivals/model"
	"subwaytime.dev/arrivals/parse"
)

const (
	DefaultShortCount      = 3
	DefaultReadTimeout     = 10 * time.Second
	DefaultWriteTimeout    = 30 * time.Second
	DefaultShutdownTimeout = 10 * time.Second
)

// Provides feed snapshots. Implemented by arrivals.Manager.
type SnapshotSource interface {
	SnapshotForStation(ctx context.Context, station model.Station) (*arrivals.Snapshot, error)
	LastRetrieved() map[string]time.Time
}

// Serves the arrivals REST API.
type Server struct {
	// Number of minute values in short responses.
	ShortCount int

	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration

	Logger  *zap.Logger
	TimeNow func() time.Time

	source   SnapshotSource
	stations *arrivals.StationIndex
	location *time.Location
}

func NewServer(source SnapshotSource, stations *arrivals.StationIndex, logger *zap.Logger) (*Server, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	location, err := time.LoadLocation(parse.FeedTimezone)
	if err != nil {
		return nil, fmt.Errorf("loading timezone: %w", err)
	}

	return &Server{
		ShortCount:      DefaultShortCount,
		ReadTimeout:     DefaultReadTimeout,
		WriteTimeout:    DefaultWriteTimeout,
		ShutdownTimeout: DefaultShutdownTimeout,
		Logger:          logger,
		TimeNow:         time.Now,
		source:          source,
		stations:        stations,
		location:        location,
	}, nil
}

func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(s.requestLogger)

	r.HandleFunc("/", s.handleRoot).Methods(http.MethodGet)
	r.HandleFunc("/arrivals", s.handleArrivals).Methods(http.MethodGet)
	r.HandleFunc("/stations", s.handleStations).Methods(http.MethodGet)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/docs", s.handleDocs).Methods(http.MethodGet)
	r.HandleFunc("/openapi.json", s.handleOpenAPIJSON).Methods(http.MethodGet)
	r.HandleFunc("/openapi.yaml", s.handleOpenAPIYAML).Methods(http.MethodGet)

	r.NotFoundHandler = s.requestLogger(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "Not Found")
	}))
	r.MethodNotAllowedHandler = s.requestLogger(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "Method Not Allowed")
	}))

	return r
}

// Serves on addr until the context is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       s.ReadTimeout,
		WriteTimeout:      s.WriteTimeout,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()
	s.Logger.Info("server listening", zap.String("addr", addr))

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serving: %w", err)
	case <-ctx.Done():
	}

	s.Logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down: %w", err)
	}

	return nil
}
