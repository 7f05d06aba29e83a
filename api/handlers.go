package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"subwaytime.dev/arrivals"
	"subwaytime.dev/arrivals/model"
)

const serviceName = "NYC MTA Train Arrivals API"

type errorResponse struct {
	Detail string `json:"detail"`
}

type rootResponse struct {
	Message           string            `json:"message"`
	Endpoints         map[string]string `json:"endpoints"`
	AvailableStations []string          `json:"available_stations"`
}

type healthResponse struct {
	Status string            `json:"status"`
	Feeds  map[string]string `json:"feeds"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, errorResponse{Detail: detail})
}

func (s *Server) handleArrivals(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	key := query.Get("station")
	if strings.TrimSpace(key) == "" {
		writeError(w, http.StatusUnprocessableEntity, "Missing required query parameter 'station'")
		return
	}

	format := model.ParseFormat(query.Get("config"))

	station, err := s.stations.Lookup(key)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf(
			"Invalid station '%s'. Available stations: %s",
			key, strings.Join(s.stations.Keys(), ", "),
		))
		return
	}

	snap, err := s.source.SnapshotForStation(r.Context(), station)
	if err != nil {
		if errors.Is(err, arrivals.ErrUnknownFeed) {
			s.Logger.Error("station has no feed", zap.String("station", station.Key), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "No realtime feed configured for station")
			return
		}
		s.Logger.Warn("realtime data unavailable", zap.String("station", station.Key), zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "Realtime data unavailable, try again shortly")
		return
	}

	routeID := strings.ToUpper(strings.TrimSpace(query.Get("route")))
	upcoming := arrivals.NextArrivals(station, snap, s.TimeNow(), routeID)

	if format == model.FormatShort {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(FormatShort(upcoming, s.ShortCount)))
		return
	}

	resp := FormatFull(station, snap, upcoming, s.location)
	// Echo the station as requested
	resp.Station = key
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, rootResponse{
		Message: serviceName,
		Endpoints: map[string]string{
			"/arrivals": "Get train arrival times for a station",
			"/stations": "List available stations",
			"/health":   "Feed freshness",
			"/docs":     "Interactive API documentation",
		},
		AvailableStations: s.stations.Keys(),
	})
}

func (s *Server) handleStations(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.stations.Stations())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	feeds := map[string]string{}
	for feedID, retrievedAt := range s.source.LastRetrieved() {
		feeds[feedID] = retrievedAt.In(s.location).Format(time.RFC3339)
	}
	writeJSON(w, http.StatusOK, healthResponse{
		Status: "ok",
		Feeds:  feeds,
	})
}
