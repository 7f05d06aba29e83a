package model

import (
	"strings"
	"time"
)

// Holds all external facing types and constants.

type Direction string

const (
	DirectionUnknown    Direction = ""
	DirectionNorthbound Direction = "N"
	DirectionSouthbound Direction = "S"
)

// MTA platform stop IDs carry the direction as a trailing N or S,
// e.g. R23S is the southbound platform of stop R23.
func DirectionFromStopID(stopID string) Direction {
	if len(stopID) < 2 {
		return DirectionUnknown
	}
	switch stopID[len(stopID)-1] {
	case 'N':
		return DirectionNorthbound
	case 'S':
		return DirectionSouthbound
	}
	return DirectionUnknown
}

func (d Direction) String() string {
	switch d {
	case DirectionNorthbound:
		return "northbound"
	case DirectionSouthbound:
		return "southbound"
	}
	return "unknown"
}

// A station as exposed by the API. Key is the human-readable
// identifier used in requests, e.g. canal_st_southbound.
type Station struct {
	Key       string    `json:"key"`
	RouteID   string    `json:"route_id"`
	StopID    string    `json:"stop_id"`
	StopName  string    `json:"stop_name"`
	Direction Direction `json:"direction"`
}

func NormalizeStationKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}

// Predicted arrival and departure of a trip at a stop. Zero times
// mean the feed didn't provide them.
type StopTimeUpdate struct {
	StopID        string
	StopSequence  uint32
	ArrivalTime   time.Time
	DepartureTime time.Time
}


type TripUpdate struct {
	TripID          string
	RouteID         string
	StartTime       time.Time
	Underway        bool
	StopTimeUpdates []StopTimeUpdate
}

// A train arriving at a station.
type Arrival struct {
	StationKey string
	RouteID    string
	TripID     string
	StopID     string
	Time       time.Time
	Minutes    int
}

// Response formats supported by the arrivals endpoint.
type Format string

const (
	FormatFull  Format = "full"
	FormatShort Format = "short"
)

// Anything but short (in any case) is full.
func ParseFormat(s string) Format {
	if strings.EqualFold(strings.TrimSpace(s), string(FormatShort)) {
		return FormatShort
	}
	return FormatFull
}
