package storage

import (
	"subwaytime.dev/arrivals/model"
)

// Name of the station set used when none is configured.
const DefaultStationSet = "default"

// Persists station sets. A set is a named collection of stations,
// e.g. the built-in defaults or a CSV import. Keys are unique within
// a set.
type Storage interface {
	// Gets a reader for the station set with the given name. An
	// unknown set reads as empty.
	GetReader(set string) (StationReader, error)

	// Gets a writer for the station set with the given name. The
	// written stations replace the set's previous contents when
	// the writer is closed.
	GetWriter(set string) (StationWriter, error)

	Close() error
}

type StationWriter interface {
	WriteStation(station model.Station) error

	// Commits all written stations.
	Close() error

	// Discards all written stations, leaving the set as it was.
	Abort() error
}

type StationReader interface {
	// All stations in the set, ordered by key.
	Stations() ([]model.Station, error)
}
