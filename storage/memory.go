package storage

import (
	"fmt"
	"sort"
	"sync"

	"subwaytime.dev/arrivals/model"
)

// In memory implementation of Storage below

type MemoryStorage struct {
	Sets map[string]map[string]model.Station

	mutex sync.RWMutex
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		Sets: map[string]map[string]model.Station{},
	}
}

func (s *MemoryStorage) GetReader(set string) (StationReader, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	// Readers see the set as of this call. Writers replace the
	// map wholesale, so no copy is needed.
	stations, ok := s.Sets[set]
	if !ok {
		stations = map[string]model.Station{}
	}
	return &MemoryStationReader{stations: stations}, nil
}

func (s *MemoryStorage) GetWriter(set string) (StationWriter, error) {
	return &MemoryStationWriter{
		storage:  s,
		set:      set,
		stations: map[string]model.Station{},
	}, nil
}

func (s *MemoryStorage) Close() error {
	return nil
}

type MemoryStationWriter struct {
	storage  *MemoryStorage
	set      string
	stations map[string]model.Station
	closed   bool
}

func (w *MemoryStationWriter) WriteStation(station model.Station) error {
	if w.closed {
		return fmt.Errorf("writer closed")
	}
	if _, found := w.stations[station.Key]; found {
		return fmt.Errorf("repeated station key '%s'", station.Key)
	}
	station.Direction = model.DirectionFromStopID(station.StopID)
	w.stations[station.Key] = station
	return nil
}

func (w *MemoryStationWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	w.storage.mutex.Lock()
	defer w.storage.mutex.Unlock()
	w.storage.Sets[w.set] = w.stations

	return nil
}

func (w *MemoryStationWriter) Abort() error {
	w.closed = true
	w.stations = nil
	return nil
}

type MemoryStationReader struct {
	stations map[string]model.Station
}

func (r *MemoryStationReader) Stations() ([]model.Station, error) {
	stations := make([]model.Station, 0, len(r.stations))
	for _, station := range r.stations {
		stations = append(stations, station)
	}
	sort.Slice(stations, func(i, j int) bool {
		return stations[i].Key < stations[j].Key
	})
	return stations, nil
}
