package arrivals

import (
	"fmt"
	"sort"
)

// Base URL of the MTA's subway GTFS-realtime feeds. Individual
// feeds append a suffix naming the lines they cover.
const MTAFeedBaseURL = "https://api-endpoint.mta.info/Dataservice/mtagtfsfeeds/nyct%2Fgtfs"

const (
	FeedNumbered = "gtfs"
	FeedACE      = "ace"
	FeedBDFM     = "bdfm"
	FeedG        = "g"
	FeedJZ       = "jz"
	FeedL        = "l"
	FeedNQRW     = "nqrw"
	FeedSI       = "si"
)

// Public feed URLs by feed ID.
var DefaultFeedURLs = map[string]string{
	FeedNumbered: MTAFeedBaseURL,
	FeedACE:      MTAFeedBaseURL + "-ace",
	FeedBDFM:     MTAFeedBaseURL + "-bdfm",
	FeedG:        MTAFeedBaseURL + "-g",
	FeedJZ:       MTAFeedBaseURL + "-jz",
	FeedL:        MTAFeedBaseURL + "-l",
	FeedNQRW:     MTAFeedBaseURL + "-nqrw",
	FeedSI:       MTAFeedBaseURL + "-si",
}

// Feed carrying realtime data for each route ID.
var DefaultRouteFeeds = map[string]string{
	"1":   FeedNumbered,
	"2":   FeedNumbered,
	"3":   FeedNumbered,
	"4":   FeedNumbered,
	"5":   FeedNumbered,
	"5X":  FeedNumbered,
	"6":   FeedNumbered,
	"6X":  FeedNumbered,
	"7":   FeedNumbered,
	"7X":  FeedNumbered,
	"S":   FeedNumbered,
	"GS":  FeedNumbered,
	"A":   FeedACE,
	"C":   FeedACE,
	"E":   FeedACE,
	"H":   FeedACE,
	"FS":  FeedACE,
	"B":   FeedBDFM,
	"D":   FeedBDFM,
	"F":   FeedBDFM,
	"FX":  FeedBDFM,
	"M":   FeedBDFM,
	"G":   FeedG,
	"J":   FeedJZ,
	"Z":   FeedJZ,
	"L":   FeedL,
	"N":   FeedNQRW,
	"Q":   FeedNQRW,
	"R":   FeedNQRW,
	"W":   FeedNQRW,
	"SI":  FeedSI,
	"SIR": FeedSI,
}

// Set of route IDs with a known feed.
func KnownRoutes(routeFeeds map[string]string) map[string]bool {
	routes := make(map[string]bool, len(routeFeeds))
	for route := range routeFeeds {
		routes[route] = true
	}
	return routes
}

// Distinct feed IDs serving the given routes, sorted.
func FeedsForRoutes(routeFeeds map[string]string, routeIDs ...string) ([]string, error) {
	seen := map[string]bool{}
	feeds := []string{}
	for _, routeID := range routeIDs {
		feedID, ok := routeFeeds[routeID]
		if !ok {
			return nil, fmt.Errorf("%w: route %s", ErrUnknownFeed, routeID)
		}
		if !seen[feedID] {
			seen[feedID] = true
			feeds = append(feeds, feedID)
		}
	}
	sort.Strings(feeds)
	return feeds, nil
}
