package storage

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"subwaytime.dev/arrivals/model"
)

type SQLiteConfig struct {
	OnDisk    bool
	Directory string
}

type SQLiteStorage struct {
	SQLiteConfig

	db *sql.DB
}

type SQLiteStationWriter struct {
	set  string
	tx   *sql.Tx
	stmt *sql.Stmt
}

type SQLiteStationReader struct {
	set string
	db  *sql.DB
}

func NewSQLiteStorage(cfg ...SQLiteConfig) (*SQLiteStorage, error) {
	onDisk := false
	directory := ""
	if len(cfg) > 0 {
		onDisk = cfg[0].OnDisk
		directory = cfg[0].Directory
	}

	sourceName := ":memory:"
	if onDisk {
		sourceName = directory + "/stations.db"
	}

	db, err := sql.Open("sqlite3", sourceName)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Each connection to :memory: is a separate database, and
	// sqlite serializes writers anyway.
	db.SetMaxOpenConns(1)

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

	return &SQLiteStorage{
		SQLiteConfig: SQLiteConfig{
			OnDisk:    onDisk,
			Directory: directory,
		},
		db: db,
	}, nil
}

func (s *SQLiteStorage) Close() error {
	err := s.db.Close()
	if err != nil {
		return fmt.Errorf("closing db: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) GetReader(set string) (StationReader, error) {
	return &SQLiteStationReader{
		set: set,
		db:  s.db,
	}, nil
}

// The returned writer holds the database's only connection until
// closed.
func (s *SQLiteStorage) GetWriter(set string) (StationWriter, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("starting transaction: %w", err)
	}

	// In case set already exists, delete all records
	_, err = tx.Exec(`DELETE FROM station WHERE station_set = ?`, set)
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("deleting station records: %w", err)
	}

	stmt, err := tx.Prepare(`
INSERT INTO station (station_set, key, route_id, stop_id, stop_name)
VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("preparing statement: %w", err)
	}

	return &SQLiteStationWriter{
		set:  set,
		tx:   tx,
		stmt: stmt,
	}, nil
}

func (w *SQLiteStationWriter) WriteStation(station model.Station) error {
	_, err := w.stmt.Exec(
		w.set,
		station.Key,
		station.RouteID,
		station.StopID,
		station.StopName,
	)
	if err != nil {
		return fmt.Errorf("inserting station '%s': %w", station.Key, err)
	}
	return nil
}

func (w *SQLiteStationWriter) Close() error {
	if w.tx == nil {
		return nil
	}
	tx := w.tx
	w.tx = nil

	w.stmt.Close()

	err := tx.Commit()
	if err != nil {
		return fmt.Errorf("committing: %w", err)
	}
	return nil
}

func (w *SQLiteStationWriter) Abort() error {
	if w.tx == nil {
		return nil
	}
	tx := w.tx
	w.tx = nil

	w.stmt.Close()

	return tx.Rollback()
}

func (r *SQLiteStationReader) Stations() ([]model.Station, error) {
	rows, err := r.db.Query(`
SELECT key, route_id, stop_id, stop_name
FROM station
WHERE station_set = ?
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
