package arrivals

import (
	"context"
	"fmt"
	"time"

	"subwaytime.dev/arrivals/model"
	"subwaytime.dev/arrivals/parse"
)

// The decoded contents of a realtime feed at one point in time.
//
// Snapshots are never modified after construction. Refreshing a feed
// produces a new Snapshot.
type Snapshot struct {
	FeedID string

	// Time the feed was generated, per its header. Zero if not
	// provided.
	Timestamp time.Time

	// Time the feed was downloaded.
	RetrievedAt time.Time

	Trips         []*model.TripUpdate
	CanceledTrips map[string]bool

	tripsByStop map[string][]*model.TripUpdate
}

func NewSnapshot(ctx context.Context, feedID string, feeds [][]byte, retrievedAt time.Time) (*Snapshot, error) {
	realtime, err := parse.ParseRealtime(ctx, feeds)
	if err != nil {
		return nil, fmt.Errorf("parsing feeds: %w", err)
	}

	snap := &Snapshot{
		FeedID:        feedID,
		RetrievedAt:   retrievedAt,
		Trips:         realtime.Trips,
		CanceledTrips: realtime.CanceledTrips,
		tripsByStop:   map[string][]*model.TripUpdate{},
	}

	if realtime.Timestamp != 0 {
		snap.Timestamp = time.Unix(int64(realtime.Timestamp), 0).UTC()
	}

	for _, trip := range realtime.Trips {
		seen := map[string]bool{}
		for _, update := range trip.StopTimeUpdates {
			if seen[update.StopID] {
				continue
			}
			seen[update.StopID] = true
			snap.tripsByStop[update.StopID] = append(snap.tripsByStop[update.StopID], trip)
		}
	}

	return snap, nil
}

// Trips with a stop time update for the given stop, in feed order.
func (s *Snapshot) TripsHeadedFor(stopID string) []*model.TripUpdate {
	return s.tripsByStop[stopID]
}

// Age of the snapshot at the given time.
func (s *Snapshot) Age(now time.Time) time.Duration {
	return now.Sub(s.RetrievedAt)
}
