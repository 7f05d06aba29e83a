package arrivals

import (
	"errors"
	"fmt"
	"sort"

	"subwaytime.dev/arrivals/model"
	"subwaytime.dev/arrivals/storage"
)

var ErrUnknownStation = errors.New("unknown station")

// Stations available out of the box.
var DefaultStations = []model.Station{
	{
		Key:       "eightysixth_st_southbound",
		RouteID:   "1",
		StopID:    "121S",
		StopName:  "86th St",
		Direction: model.DirectionSouthbound,
	},
	{
		Key:       "grand_army_northbound",
		RouteID:   "2",
		StopID:    "237N",
		StopName:  "Grand Army Plaza",
		Direction: model.DirectionNorthbound,
	},
	{
		Key:       "court_st_northbound",
		RouteID:   "R",
		StopID:    "R28N",
		StopName:  "Court St",
		Direction: model.DirectionNorthbound,
	},
	{
		Key:       "canal_st_southbound",
		RouteID:   "R",
		StopID:    "R23S",
		StopName:  "Canal St",
		Direction: model.DirectionSouthbound,
	},
}

// Maps station keys to stations. Immutable once loaded.
type StationIndex struct {
	stations map[string]model.Station
	keys     []string
}

func NewStationIndex(stations []model.Station) (*StationIndex, error) {
	idx := &StationIndex{
		stations: make(map[string]model.Station, len(stations)),
	}

	for _, st := range stations {
		key := model.NormalizeStationKey(st.Key)
		if key == "" {
			return nil, fmt.Errorf("station with empty key")
		}
		if st.StopID == "" {
			return nil, fmt.Errorf("station '%s' has no stop_id", key)
		}
		if _, found := idx.stations[key]; found {
			return nil, fmt.Errorf("repeated station key '%s'", key)
		}

		st.Key = key
		st.Direction = model.DirectionFromStopID(st.StopID)
		idx.stations[key] = st
		idx.keys = append(idx.keys, key)
	}

	sort.Strings(idx.keys)

	return idx, nil
}

// Loads the index from a station set in storage. The default set is
// seeded with DefaultStations if empty.
func LoadStationIndex(s storage.Storage, set string) (*StationIndex, error) {
	reader, err := s.GetReader(set)
	if err != nil {
		return nil, fmt.Errorf("getting reader: %w", err)
	}

	stations, err := reader.Stations()
	if err != nil {
		return nil, fmt.Errorf("reading stations: %w", err)
	}

	if len(stations) == 0 && set == storage.DefaultStationSet {
		err = WriteStations(s, set, DefaultStations)
		if err != nil {
			return nil, fmt.Errorf("seeding default stations: %w", err)
		}
		stations = DefaultStations
	}

	return NewStationIndex(stations)
}

// Replaces the contents of a station set.
func WriteStations(s storage.Storage, set string, stations []model.Station) error {
	writer, err := s.GetWriter(set)
	if err != nil {
		return fmt.Errorf("getting writer: %w", err)
	}

	for _, st := range stations {
		err = writer.WriteStation(st)
		if err != nil {
			writer.Abort()
			return fmt.Errorf("writing station: %w", err)
		}
	}

	err = writer.Close()
	if err != nil {
		return fmt.Errorf("closing writer: %w", err)
	}

	return nil
}

// Looks up a station by key, ignoring case.
func (idx *StationIndex) Lookup(key string) (model.Station, error) {
	st, found := idx.stations[model.NormalizeStationKey(key)]
	if !found {
		return model.Station{}, fmt.Errorf("%w: '%s'", ErrUnknownStation, key)
	}
	return st, nil
}

// All station keys, sorted.
func (idx *StationIndex) Keys() []string {
	keys := make([]string, len(idx.keys))
	copy(keys, idx.keys)
	return keys
}

// All stations, sorted by key.
func (idx *StationIndex) Stations() []model.Station {
	stations := make([]model.Station, 0, len(idx.keys))
	for _, key := range idx.keys {
		stations = append(stations, idx.stations[key])
	}
	return stations
}

// Route IDs of all stations.
func (idx *StationIndex) RouteIDs() []string {
	routes := []string{}
	for _, key := range idx.keys {
		routes = append(routes, idx.stations[key].RouteID)
	}
	return routes
}
