package storage

import (
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"subwaytime.dev/arrivals/model"
)

type PSQLStorage struct {
	db *sql.DB
}

// Buffers stations, which are then COPY:ed in a single transaction
// on Close.
type PSQLStationWriter struct {
	set        string
	db         *sql.DB
	stationBuf []model.Station
	closed     bool
}

type PSQLStationReader struct {
	set string
	db  *sql.DB
}

// Creates a new Postgres Storage using the provided connection string.
//
// If clearDB is true, the database will be cleared on startup. You
// probably only want this for testing.
func NewPSQLStorage(connStr string, clearDB bool) (*PSQLStorage, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}

	if clearDB {
		_, err = db.Exec(`DROP TABLE IF EXISTS station;`)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("clearing db: %w", err)
		}
	}

	_, err = db.Exec(`
CREATE TABLE IF NOT EXISTS station (
    station_set TEXT NOT NULL,
    key TEXT NOT NULL,
    route_id TEXT NOT NULL,
    stop_id TEXT NOT NULL,
    stop_name TEXT NOT NULL,
    PRIMARY KEY (station_set, key)
);`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating station table: %w", err)
	}

	return &PSQLStorage{
		db: db,
	}, nil
}

func (s *PSQLStorage) Close() error {
	err := s.db.Close()
	if err != nil {
		return fmt.Errorf("failed to close db: %w", err)
	}
	return nil
}

func (s *PSQLStorage) GetReader(set string) (StationReader, error) {
	return &PSQLStationReader{
		set: set,
		db:  s.db,
	}, nil
}

func (s *PSQLStorage) GetWriter(set string) (StationWriter, error) {
	return &PSQLStationWriter{
		set: set,
		db:  s.db,
	}, nil
}

func (w *PSQLStationWriter) WriteStation(station model.Station) error {
	if w.closed {
		return fmt.Errorf("writer closed")
	}
	w.stationBuf = append(w.stationBuf, station)
	return nil
}

func (w *PSQLStationWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	tx, err := w.db.Begin()
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	// In case set already exists, delete all records
	_, err = tx.Exec(`DELETE FROM station WHERE station_set = $1`, w.set)
	if err != nil {
		return fmt.Errorf("deleting station records: %w", err)
	}

	stmt, err := tx.Prepare(pq.CopyIn(
		"station", "station_set", "key", "route_id", "stop_id", "stop_name",
	))
	if err != nil {
		return fmt.Errorf("preparing statement: %w", err)
	}
	defer stmt.Close()

	for _, st := range w.stationBuf {
		_, err = stmt.Exec(w.set, st.Key, st.RouteID, st.StopID, st.StopName)
		if err != nil {
			return fmt.Errorf("COPY station: %w", err)
		}
	}

	_, err = stmt.Exec()
	if err != nil {
		return fmt.Errorf("executing statement: %w", err)
	}

	err = tx.Commit()
	if err != nil {
		return fmt.Errorf("committing: %w", err)
	}

	w.stationBuf = nil

	return nil
}

func (w *PSQLStationWriter) Abort() error {
	w.closed = true
	w.stationBuf = nil
	return nil
}

func (r *PSQLStationReader) Stations() ([]model.Station, error) {
	rows, err := r.db.Query(`
SELECT key, route_id, stop_id, stop_name
FROM station
WHERE station_set = $1
ORDER BY key`, r.set)
	if err != nil {
		return nil, fmt.Errorf("querying stations: %w", err)
	}
	defer rows.Close()

	stations := []model.Station{}
	for rows.Next() {
		var st model.Station
		err := rows.Scan(&st.Key, &st.RouteID, &st.StopID, &st.StopName)
		if err != nil {
			return nil, fmt.Errorf("scanning station: %w", err)
		}
		st.Direction = model.DirectionFromStopID(st.StopID)
		stations = append(stations, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating stations: %w", err)
	}

	return stations, nil
}
