package parse

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	gtfsproto "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	proto "google.golang.org/protobuf/proto"

	"subwaytime.dev/arrivals/model"
)

// Timezone of the MTA feeds. Trip start dates and times are local.
const FeedTimezone = "America/New_York"

// Contains key data from a GTFS Realtime feed
type Realtime struct {
	// Timestamp of the feed. If loaded from multiple feeds, the
	// last one wins.
	Timestamp uint64

	// Trip updates in feed order. Canceled trips are excluded.
	Trips         []*model.TripUpdate
	CanceledTrips map[string]bool

	// These exist to simplify debugging down the road
	NumScheduledTrips   int
	NumAddedTrips       int
	NumUnscheduledTrips int
	NumCanceledTrips    int
	NumDuplicatedTrips  int
	NumVehicles         int
}

func ParseRealtime(ctx context.Context, feeds [][]byte) (*Realtime, error) {
	location, err := time.LoadLocation(FeedTimezone)
	if err != nil {
		return nil, fmt.Errorf("loading feed timezone: %w", err)
	}

	rt := &Realtime{
		Trips:         []*model.TripUpdate{},
		CanceledTrips: map[string]bool{},
	}

	vehicleTrips := map[string]bool{}

	for _, feed := range feeds {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		// Unmarshal proto
		f := &gtfsproto.FeedMessage{}
		err := proto.Unmarshal(feed, f)
		if err != nil {
			return nil, fmt.Errorf("unmarshaling protobuf: %w", err)
		}

		// Header
		header := f.GetHeader()

		version := header.GetGtfsRealtimeVersion()
		if version != "2.0" && version != "1.0" {
			return nil, fmt.Errorf("version %s not supported", version)
		}

		if header.GetIncrementality() != gtfsproto.FeedHeader_FULL_DATASET {
			return nil, fmt.Errorf("feed incrementality %s not supported", header.GetIncrementality())
		}

		rt.Timestamp = header.GetTimestamp()

		// Process the feed entities
		err = processEntities(rt, location, vehicleTrips, f.GetEntity())
		if err != nil {
			return nil, fmt.Errorf("processing entities: %w", err)
		}
	}

	// A trip is underway once a vehicle reports on it, or once
	// its scheduled start has passed.
	var feedTime time.Time
	if rt.Timestamp != 0 {
		feedTime = time.Unix(int64(rt.Timestamp), 0).UTC()
	}
	for _, trip := range rt.Trips {
		if vehicleTrips[trip.TripID] {
			trip.Underway = true
			continue
		}
		if !feedTime.IsZero() && !trip.StartTime.IsZero() && !trip.StartTime.After(feedTime) {
			trip.Underway = true
		}
	}

	return rt, nil
}

func processEntities(
	rt *Realtime,
	location *time.Location,
	vehicleTrips map[string]bool,
	entities []*gtfsproto.FeedEntity,
) error {
	for _, entity := range entities {
		if vehicle := entity.GetVehicle(); vehicle != nil {
			if tripID := vehicle.GetTrip().GetTripId(); tripID != "" {
				vehicleTrips[tripID] = true
				rt.NumVehicles++
			}
		}

		if entity.TripUpdate == nil {
			continue
		}

		trip := entity.TripUpdate.Trip
		if trip == nil {
			return fmt.Errorf("trip_update missing trip")
		}

		// Blank trip ID is allowed by GTFS-rt for frequency
		// based trips. MTA doesn't use them, and neither do
		// we.
		if trip.GetTripId() == "" {
			continue
		}

		switch sr := trip.GetScheduleRelationship(); sr {

		case gtfsproto.TripDescriptor_CANCELED:
			rt.CanceledTrips[trip.GetTripId()] = true
			rt.NumCanceledTrips++
			continue

		case gtfsproto.TripDescriptor_SCHEDULED:
			rt.NumScheduledTrips++

		case gtfsproto.TripDescriptor_ADDED:
			// MTA marks trains not in the static schedule
			// as added. They still run, so keep them.
			rt.NumAddedTrips++

		case gtfsproto.TripDescriptor_UNSCHEDULED:
			rt.NumUnscheduledTrips++

		case gtfsproto.TripDescriptor_DUPLICATED:
			rt.NumDuplicatedTrips++
		}

		tu := &model.TripUpdate{
			TripID:    trip.GetTripId(),
			RouteID:   trip.GetRouteId(),
			StartTime: tripStartTime(trip, location),
		}

		for _, update := range entity.TripUpdate.GetStopTimeUpdate() {
			stu, ok := processStopTimeUpdate(update)
			if !ok {
				continue
			}
			tu.StopTimeUpdates = append(tu.StopTimeUpdates, stu)
		}

		rt.Trips = append(rt.Trips, tu)
	}

	return nil
}

func processStopTimeUpdate(update *gtfsproto.TripUpdate_StopTimeUpdate) (model.StopTimeUpdate, bool) {
	if update.GetStopId() == "" {
		return model.StopTimeUpdate{}, false
	}

	stu := model.StopTimeUpdate{
		StopID:       update.GetStopId(),
		StopSequence: update.GetStopSequence(),
	}

	switch update.GetScheduleRelationship() {
	case gtfsproto.TripUpdate_StopTimeUpdate_SKIPPED:
		// Train won't stop here
		return model.StopTimeUpdate{}, false

	case gtfsproto.TripUpdate_StopTimeUpdate_NO_DATA:
		// Train stops here, but there's no prediction
		return stu, true
	}

	if update.Arrival != nil {
		if arrivalUnix := update.GetArrival().GetTime(); arrivalUnix != 0 {
			stu.ArrivalTime = time.Unix(arrivalUnix, 0).UTC()
		}
	}

	if update.Departure != nil {
		if departureUnix := update.GetDeparture().GetTime(); departureUnix != 0 {
			stu.DepartureTime = time.Unix(departureUnix, 0).UTC()
		}
	}

	return stu, true
}

// Computes the trip's scheduled start from start_date and
// start_time. MTA feeds frequently omit start_time, but encode the
// origin time in the trip ID, in hundredths of a minute past
// midnight: "036000_R..N03R" departs at 06:00.
func tripStartTime(trip *gtfsproto.TripDescriptor, location *time.Location) time.Time {
	date, err := time.ParseInLocation("20060102", trip.GetStartDate(), location)
	if err != nil {
		return time.Time{}
	}

	offset, ok := parseStartTime(trip.GetStartTime())
	if !ok {
		offset, ok = parseTripIDOrigin(trip.GetTripId())
		if !ok {
			return time.Time{}
		}
	}

	// Offsets are relative to noon minus 12h, which keeps the
	// wall clock right across DST switches.
	noon := time.Date(date.Year(), date.Month(), date.Day(), 12, 0, 0, 0, location)
	return noon.Add(-12 * time.Hour).Add(offset).UTC()
}

// Parses HH:MM:SS, where HH may exceed 23.
func parseStartTime(s string) (time.Duration, bool) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return 0, false
	}
	h, errH := strconv.Atoi(parts[0])
	m, errM := strconv.Atoi(parts[1])
	sec, errS := strconv.Atoi(parts[2])
	if errH != nil || errM != nil || errS != nil || h < 0 || m < 0 || m > 59 || sec < 0 || sec > 59 {
		return 0, false
	}
	return time.Duration(h)*time.Hour + time.Duration(m)*time.Minute + time.Duration(sec)*time.Second, true
}

func parseTripIDOrigin(tripID string) (time.Duration, bool) {
	prefix, _, found := strings.Cut(tripID, "_")
	if !found || len(prefix) != 6 {
		return 0, false
	}
	hundredths, err := strconv.Atoi(prefix)
	if err != nil || hundredths < 0 {
		return 0, false
	}
	return time.Duration(hundredths) * time.Minute / 100, true
}
