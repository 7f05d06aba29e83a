package api

import (
	"strconv"
	"strings"
	"time"

	"subwaytime.dev/arrivals"
	"subwaytime.dev/arrivals/model"
)

type ArrivalJSON struct {
	ArrivalTime         string `json:"arrival_time"`
	MinutesUntilArrival int    `json:"minutes_until_arrival"`
	RouteID             string `json:"route_id"`
	TripID              string `json:"trip_id"`
}

type ArrivalsResponse struct {
	Station   string        `json:"station"`
	StopName  string        `json:"stop_name"`
	Count     int           `json:"count"`
	UpdatedAt string        `json:"updated_at"`
	Arrivals  []ArrivalJSON `json:"arrivals"`
}

// Minutes until the first n arrivals, separated by spaces.
func FormatShort(arrivals []model.Arrival, n int) string {
	if n <= 0 {
		return ""
	}
	if n < len(arrivals) {
		arrivals = arrivals[:n]
	}
	minutes := make([]string, 0, len(arrivals))
	for _, a := range arrivals {
		minutes = append(minutes, strconv.Itoa(a.Minutes))
	}
	return strings.Join(minutes, " ")
}

// Full JSON representation of a station's arrivals. Times are
// rendered in loc.
func FormatFull(
	station model.Station,
	snap *arrivals.Snapshot,
	upcoming []model.Arrival,
	loc *time.Location,
) ArrivalsResponse {
	resp := ArrivalsResponse{
		Station:  station.Key,
		StopName: station.StopName,
		Count:    len(upcoming),
		Arrivals: make([]ArrivalJSON, 0, len(upcoming)),
	}

	if snap != nil {
		updated := snap.Timestamp
		if updated.IsZero() {
			updated = snap.RetrievedAt
		}
		resp.UpdatedAt = updated.In(loc).Format(time.RFC3339)
	}

	for _, a := range upcoming {
		resp.Arrivals = append(resp.Arrivals, ArrivalJSON{
			ArrivalTime:         a.Time.In(loc).Format(time.RFC3339),
			MinutesUntilArrival: a.Minutes,
			RouteID:             a.RouteID,
			TripID:              a.TripID,
		})
	}

	return resp
}
