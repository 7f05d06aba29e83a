package arrivals

import (
	"math"
	"sort"
	"time"

	"subwaytime.dev/arrivals/model"
)

// Computes upcoming arrivals at a station from a snapshot.
//
// Only trips that are underway count. Each contributes the predicted
// arrival at its first stop time update for the station's stop.
// Updates without an arrival time (e.g. at a trip's origin) and
// arrivals before now are dropped. If routeID is non-empty, only trips on that route are
// included.
//
// Results are ordered by time, then route and trip ID.
func NextArrivals(station model.Station, snap *Snapshot, now time.Time, routeID string) []model.Arrival {
	arrivals := []model.Arrival{}
	if snap == nil {
		return arrivals
	}

	for _, trip := range snap.TripsHeadedFor(station.StopID) {
		if !trip.Underway {
			continue
		}
		if snap.CanceledTrips[trip.TripID] {
			continue
		}
		if routeID != "" && trip.RouteID != routeID {
			continue
		}

		for _, update := range trip.StopTimeUpdates {
			if update.StopID != station.StopID {
				continue
			}

			t := update.ArrivalTime
			if !t.IsZero() && !t.Before(now) {
				arrivals = append(arrivals, model.Arrival{
					StationKey: station.Key,
					RouteID:    trip.RouteID,
					TripID:     trip.TripID,
					StopID:     update.StopID,
					Time:       t,
					Minutes:    MinutesUntil(t, now),
				})
			}

			// Only the first visit counts
			break
		}
	}

	sort.SliceStable(arrivals, func(i, j int) bool {
		a, b := arrivals[i], arrivals[j]
		if !a.Time.Equal(b.Time) {
			return a.Time.Before(b.Time)
		}
		if a.RouteID != b.RouteID {
			return a.RouteID < b.RouteID
		}
		return a.TripID < b.TripID
	})

	return arrivals
}

// Whole minutes from now until t, rounded down.
func MinutesUntil(t time.Time, now time.Time) int {
	return int(math.Floor(t.Sub(now).Minutes()))
}
