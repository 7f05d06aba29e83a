package parse

import (
	"io"

	"github.com/gocarina/gocsv"
	"github.com/pkg/errors"
	"github.com/spkg/bom"

	"subwaytime.dev/arrivals/model"
	"subwaytime.dev/arrivals/storage"
)

type StationCSV struct {
	Key      string `csv:"station_key"`
	RouteID  string `csv:"route_id"`
	StopID   string `csv:"stop_id"`
	StopName string `csv:"stop_name"`
}

// Parses a station CSV and writes the stations to the writer. If
// routes is non-nil, every station's route_id must be in it.
//
// Returns the set of station keys written.
func ParseStations(writer storage.StationWriter, data io.Reader, routes map[string]bool) (map[string]bool, error) {
	// LazyCSVReader required (at least) to survive sloppy use of
	// quotes. The BOM reader strips unicode BOMs if present.
	reader := gocsv.LazyCSVReader(bom.NewReader(data))

	stationCsv := []*StationCSV{}
	if err := gocsv.UnmarshalCSV(reader, &stationCsv); err != nil {
		return nil, errors.Wrap(err, "unmarshaling stations csv")
	}

	keys := map[string]bool{}
	for i, st := range stationCsv {
		key := model.NormalizeStationKey(st.Key)
		if key == "" {
			return nil, errors.Errorf("empty station_key on row %d", i+1)
		}
		if keys[key] {
			return nil, errors.Errorf("repeated station_key '%s'", key)
		}
		keys[key] = true

		if st.StopID == "" {
			return nil, errors.Errorf("empty stop_id for station_key '%s'", key)
		}

		if st.RouteID == "" {
			return nil, errors.Errorf("empty route_id for station_key '%s'", key)
		}
		if routes != nil && !routes[st.RouteID] {
			return nil, errors.Errorf("unknown route_id '%s' for station_key '%s'", st.RouteID, key)
		}

		err := writer.WriteStation(model.Station{
			Key:       key,
			RouteID:   st.RouteID,
			StopID:    st.StopID,
			StopName:  st.StopName,
			Direction: model.DirectionFromStopID(st.StopID),
		})
		if err != nil {
			return nil, errors.Wrapf(err, "writing station '%s'", key)
		}
	}

	return keys, nil
}
