package parse

import (
	"io"

	"github.com/gocarina/gocsv"
	"github.com/pkg/errors"
	"github.com/spkg/bom"

	"subwaytime.dev/arrivals/model"
	"subwaytime.dev/arrivals/storage"
)

// Location types from GTFS static stops.txt.
const (
	LocationTypeStop         = 0
	LocationTypeStation      = 1
	LocationTypeEntranceExit = 2
	LocationTypeGenericNode  = 3
	LocationTypeBoardingArea = 4
)

type StopCSV struct {
	ID            string `csv:"stop_id"`
	Name          string `csv:"stop_name"`
	LocationType  int8   `csv:"location_type"`
	ParentStation string `csv:"parent_station"`
}

// Parses a GTFS static stops.txt, such as the one in the MTA's
// subway GTFS, into a map by stop_id.
func ParseStops(data io.Reader) (map[string]*StopCSV, error) {
	stopCsv := []*StopCSV{}
	err := gocsv.UnmarshalCSV(gocsv.LazyCSVReader(bom.NewReader(data)), &stopCsv)
	if err != nil {
		return nil, errors.Wrap(err, "unmarshaling stops csv")
	}

	stops := map[string]*StopCSV{}
	for _, st := range stopCsv {
		if st.ID == "" {
			return nil, errors.New("empty stop_id")
		}
		if stops[st.ID] != nil {
			return nil, errors.Errorf("repeated stop_id '%s'", st.ID)
		}

		// stop_name is "[o]ptional for locations which are
		// generic nodes (location_type=3) or boarding areas
		// (location_type=4)" and otherwise required
		if st.LocationType != LocationTypeGenericNode &&
			st.LocationType != LocationTypeBoardingArea &&
			st.Name == "" {
			return nil, errors.Errorf("empty stop_name for stop_id '%s'", st.ID)
		}

		stops[st.ID] = st
	}

	// verify stops referenced by parent_station exist
	for _, st := range stops {
		if st.ParentStation != "" && stops[st.ParentStation] == nil {
			return nil, errors.Errorf(
				"stop '%s' references unknown parent_station '%s'",
				st.ID, st.ParentStation,
			)
		}
	}

	return stops, nil
}

// Wraps a StationWriter, rejecting stations whose stop_id is not a
// boarding location in stops, and filling in missing stop names from
// the stop or its parent station.
func CheckStops(writer storage.StationWriter, stops map[string]*StopCSV) storage.StationWriter {
	return &stopCheckingWriter{StationWriter: writer, stops: stops}
}

type stopCheckingWriter struct {
	storage.StationWriter
	stops map[string]*StopCSV
}

func (w *stopCheckingWriter) WriteStation(station model.Station) error {
	stop := w.stops[station.StopID]
	if stop == nil {
		return errors.Errorf("station '%s' references unknown stop_id '%s'", station.Key, station.StopID)
	}
	if stop.LocationType != LocationTypeStop {
		return errors.Errorf(
			"station '%s' references stop_id '%s' with location_type %d",
			station.Key, station.StopID, stop.LocationType,
		)
	}

	if station.StopName == "" {
		station.StopName = stop.Name
		if parent := w.stops[stop.ParentStation]; parent != nil && parent.Name != "" {
			station.StopName = parent.Name
		}
	}

	return w.StationWriter.WriteStation(station)
}
