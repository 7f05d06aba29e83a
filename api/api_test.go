package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"subwaytime.dev/arrivals"
	"subwaytime.dev/arrivals/model"
	"subwaytime.dev/arrivals/testutil"
)

type fakeSource struct {
	snap *arrivals.Snapshot
	err  error

	requested []string
}

func (f *fakeSource) SnapshotForStation(ctx context.Context, station model.Station) (*arrivals.Snapshot, error) {
	f.requested = append(f.requested, station.Key)
	if f.err != nil {
		return nil, f.err
	}
	return f.snap, nil
}

func (f *fakeSource) LastRetrieved() map[string]time.Time {
	if f.snap == nil {
		return map[string]time.Time{}
	}
	return map[string]time.Time{f.snap.FeedID: f.snap.RetrievedAt}
}

var testNow = time.Date(2024, 3, 15, 14, 0, 0, 0, time.UTC)

func testSnapshot(t *testing.T) *arrivals.Snapshot {
	feed := testutil.BuildFeed(t, testNow.Add(-20*time.Second),
		testutil.Trip{
			TripID: "r1", RouteID: "R", Vehicle: true,
			Stops: []testutil.Stop{{StopID: "R23S", Arrival: testNow.Add(5*time.Minute + 10*time.Second)}},
		},
		testutil.Trip{
			TripID: "w1", RouteID: "W", Vehicle: true,
			Stops: []testutil.Stop{{StopID: "R23S", Arrival: testNow.Add(12 * time.Minute)}},
		},
		testutil.Trip{
			TripID: "r2", RouteID: "R", Vehicle: true,
			Stops: []testutil.Stop{{StopID: "R23S", Arrival: testNow.Add(18*time.Minute + 59*time.Second)}},
		},
		testutil.Trip{
			TripID: "r3", RouteID: "R", Vehicle: true,
			Stops: []testutil.Stop{{StopID: "R23S", Arrival: testNow.Add(25 * time.Minute)}},
		},
		testutil.Trip{
			TripID: "r4", RouteID: "R", Vehicle: true,
			Stops: []testutil.Stop{{StopID: "R28N", Arrival: testNow.Add(3 * time.Minute)}},
		},
	)

	snap, err := arrivals.NewSnapshot(context.Background(), arrivals.FeedNQRW, [][]byte{feed}, testNow.Add(-10*time.Second))
	require.NoError(t, err)
	return snap
}

func newTestServer(t *testing.T, source SnapshotSource) *httptest.Server {
	stations, err := arrivals.NewStationIndex(arrivals.DefaultStations)
	require.NoError(t, err)

	s, err := NewServer(source, stations, zaptest.NewLogger(t))
	require.NoError(t, err)
	s.TimeNow = func() time.Time { return testNow }

	server := httptest.NewServer(s.Handler())
	t.Cleanup(server.Close)
	return server
}

func get(t *testing.T, server *httptest.Server, path string) (*http.Response, []byte) {
	resp, err := http.Get(server.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, body
}

func detail(t *testing.T, body []byte) string {
	e := errorResponse{}
	require.NoError(t, json.Unmarshal(body, &e))
	return e.Detail
}

func TestArrivalsShort(t *testing.T) {
	server := newTestServer(t, &fakeSource{snap: testSnapshot(t)})

	resp, body := get(t, server, "/arrivals?station=canal_st_southbound&config=short")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.HasPrefix(resp.Header.Get("Content-Type"), "text/plain"))
	assert.Equal(t, "5 12 18", string(body))

	// Keys and config are case-insensitive
	resp, body = get(t, server, "/arrivals?station=CANAL_ST_SOUTHBOUND&config=SHORT")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "5 12 18", string(body))

	// Route filter
	resp, body = get(t, server, "/arrivals?station=canal_st_southbound&config=short&route=W")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "12", string(body))

	_, body = get(t, server, "/arrivals?station=canal_st_southbound&config=short&route=w")
	assert.Equal(t, "12", string(body))

	// No trains
	resp, body = get(t, server, "/arrivals?station=eightysixth_st_southbound&config=short")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "", string(body))
}

func TestArrivalsFull(t *testing.T) {
	snap := testSnapshot(t)
	server := newTestServer(t, &fakeSource{snap: snap})

	for _, path := range []string{
		"/arrivals?station=canal_st_southbound",
		"/arrivals?station=canal_st_southbound&config=full",
	} {
		resp, body := get(t, server, path)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

		r := ArrivalsResponse{}
		require.NoError(t, json.Unmarshal(body, &r))

		assert.Equal(t, "canal_st_southbound", r.Station)
		assert.Equal(t, "Canal St", r.StopName)
		assert.Equal(t, 4, r.Count)
		assert.Equal(t, "2024-03-15T09:59:40-04:00", r.UpdatedAt)
		require.Equal(t, 4, len(r.Arrivals))
		assert.Equal(t, ArrivalJSON{
			ArrivalTime:         "2024-03-15T10:05:10-04:00",
			MinutesUntilArrival: 5,
			RouteID:             "R",
			TripID:              "r1",
		}, r.Arrivals[0])
		assert.Equal(t, "w1", r.Arrivals[1].TripID)
		assert.Equal(t, 12, r.Arrivals[1].MinutesUntilArrival)
		assert.Equal(t, 25, r.Arrivals[3].MinutesUntilArrival)
	}

	// Station is echoed back as given
	_, body := get(t, server, "/arrivals?station=Canal_St_Southbound")
	r := ArrivalsResponse{}
	require.NoError(t, json.Unmarshal(body, &r))
	assert.Equal(t, "Canal_St_Southbound", r.Station)
	assert.Equal(t, "Canal St", r.StopName)
	assert.Equal(t, 4, r.Count)

	// Unrecognized config means full
	for _, config := range []string{"json", "verbose", "FULL"} {
		resp, body := get(t, server, "/arrivals?station=canal_st_southbound&config="+config)
		assert.Equal(t, http.StatusOK, resp.StatusCode, config)
		assert.Equal(t, "application/json", resp.Header.Get("Content-Type"), config)
		r := ArrivalsResponse{}
		require.NoError(t, json.Unmarshal(body, &r), config)
		assert.Equal(t, 4, r.Count, config)
	}

	// Empty list, not null
	_, body = get(t, server, "/arrivals?station=grand_army_northbound")
	assert.Contains(t, string(body), `"arrivals":[]`)
	assert.Contains(t, string(body), `"count":0`)
}

func TestArrivalsErrors(t *testing.T) {
	source := &fakeSource{snap: testSnapshot(t)}
	server := newTestServer(t, source)

	resp, body := get(t, server, "/arrivals")
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Contains(t, detail(t, body), "station")

	resp, body = get(t, server, "/arrivals?station=")
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	resp, body = get(t, server, "/arrivals?station=times_sq")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t,
		"Invalid station 'times_sq'. Available stations: canal_st_southbound, court_st_northbound, eightysixth_st_southbound, grand_army_northbound",
		detail(t, body),
	)

	// None of the above reached the feeds
	assert.Equal(t, 0, len(source.requested))
}

func TestArrivalsUnavailable(t *testing.T) {
	server := newTestServer(t, &fakeSource{
		err: fmt.Errorf("%w: connection refused", arrivals.ErrStaleSnapshot),
	})

	resp, body := get(t, server, "/arrivals?station=canal_st_southbound&config=short")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	assert.NotEqual(t, "", detail(t, body))

	server = newTestServer(t, &fakeSource{
		err: fmt.Errorf("%w: nqrw", arrivals.ErrUnknownFeed),
	})
	resp, _ = get(t, server, "/arrivals?station=canal_st_southbound")
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

func TestArrivalsWithManager(t *testing.T) {
	now := time.Now()
	feeds := testutil.NewFeedServer(t)
	feeds.SetFeed("/nqrw", testutil.BuildFeed(t, now,
		testutil.Trip{
			TripID: "r1", RouteID: "R", Vehicle: true,
			Stops: []testutil.Stop{{StopID: "R28N", Arrival: now.Add(7*time.Minute + 30*time.Second)}},
		},
	))

	m := arrivals.NewManager(zaptest.NewLogger(t))
	m.FeedURLs = map[string]string{arrivals.FeedNQRW: feeds.URL("/nqrw")}

	stations, err := arrivals.NewStationIndex(arrivals.DefaultStations)
	require.NoError(t, err)
	s, err := NewServer(m, stations, zaptest.NewLogger(t))
	require.NoError(t, err)
	s.TimeNow = func() time.Time { return now }

	server := httptest.NewServer(s.Handler())
	defer server.Close()

	resp, body := get(t, server, "/arrivals?station=court_st_northbound&config=short")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "7", string(body))

	// The 1 train's feed isn't configured
	resp, _ = get(t, server, "/arrivals?station=eightysixth_st_southbound")
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)

	resp, body = get(t, server, "/health")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	h := healthResponse{}
	require.NoError(t, json.Unmarshal(body, &h))
	assert.Contains(t, h.Feeds, arrivals.FeedNQRW)
}

func TestRoot(t *testing.T) {
	server := newTestServer(t, &fakeSource{})

	resp, body := get(t, server, "/")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	r := rootResponse{}
	require.NoError(t, json.Unmarshal(body, &r))
	assert.Equal(t, "NYC MTA Train Arrivals API", r.Message)
	assert.Contains(t, r.Endpoints, "/arrivals")
	assert.Contains(t, r.Endpoints, "/docs")
	assert.Equal(t, []string{
		"canal_st_southbound",
		"court_st_northbound",
		"eightysixth_st_southbound",
		"grand_army_northbound",
	}, r.AvailableStations)
}

func TestStations(t *testing.T) {
	server := newTestServer(t, &fakeSource{})

	resp, body := get(t, server, "/stations")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	stations := []model.Station{}
	require.NoError(t, json.Unmarshal(body, &stations))
	require.Equal(t, 4, len(stations))
	assert.Equal(t, model.Station{
		Key:       "canal_st_southbound",
		RouteID:   "R",
		StopID:    "R23S",
		StopName:  "Canal St",
		Direction: model.DirectionSouthbound,
	}, stations[0])
}

func TestHealth(t *testing.T) {
	snap := testSnapshot(t)
	server := newTestServer(t, &fakeSource{snap: snap})

	resp, body := get(t, server, "/health")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	h := healthResponse{}
	require.NoError(t, json.Unmarshal(body, &h))
	assert.Equal(t, "ok", h.Status)
	assert.Equal(t, map[string]string{"nqrw": "2024-03-15T09:59:50-04:00"}, h.Feeds)
}

func TestOpenAPI(t *testing.T) {
	server := newTestServer(t, &fakeSource{snap: testSnapshot(t)})

	resp, body := get(t, server, "/openapi.json")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	doc, err := openapi3.NewLoader().LoadFromData(body)
	require.NoError(t, err)
	require.NoError(t, doc.Validate(context.Background()))
	assert.Equal(t, "3.0.3", doc.OpenAPI)
	require.NotNil(t, doc.Paths.Value("/arrivals"))
	require.NotNil(t, doc.Paths.Value("/stations"))
	require.NotNil(t, doc.Paths.Value("/health"))

	station := doc.Paths.Value("/arrivals").Get.Parameters.GetByInAndName("query", "station")
	require.NotNil(t, station)
	assert.True(t, station.Required)
	assert.Contains(t, station.Schema.Value.Enum, "canal_st_southbound")

	// Unknown config values mean full, so there's no enum to reject them
	config := doc.Paths.Value("/arrivals").Get.Parameters.GetByInAndName("query", "config")
	require.NotNil(t, config)
	assert.Empty(t, config.Schema.Value.Enum)
	assert.Equal(t, "full", config.Schema.Value.Default)

	resp, body = get(t, server, "/openapi.yaml")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/yaml", resp.Header.Get("Content-Type"))
	yamlDoc, err := openapi3.NewLoader().LoadFromData(body)
	require.NoError(t, err)
	require.NoError(t, yamlDoc.Validate(context.Background()))
	assert.Equal(t, "3.0.3", yamlDoc.OpenAPI)

	resp, body = get(t, server, "/docs")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.HasPrefix(resp.Header.Get("Content-Type"), "text/html"))
	assert.Contains(t, string(body), "/openapi.json")
}

// Responses must match the schemas the document advertises.
func TestOpenAPIMatchesResponses(t *testing.T) {
	server := newTestServer(t, &fakeSource{snap: testSnapshot(t)})

	_, body := get(t, server, "/openapi.json")
	doc, err := openapi3.NewLoader().LoadFromData(body)
	require.NoError(t, err)

	for _, tc := range []struct {
		path   string
		schema *openapi3.Schema
	}{
		{"/arrivals?station=canal_st_southbound", doc.Components.Schemas["Arrivals"].Value},
		{"/arrivals?station=eightysixth_st_southbound", doc.Components.Schemas["Arrivals"].Value},
		{"/arrivals?station=times_sq", doc.Components.Schemas["Error"].Value},
		{"/arrivals", doc.Components.Schemas["Error"].Value},
		{"/stations", doc.Paths.Value("/stations").Get.Responses.Status(http.StatusOK).Value.Content.Get("application/json").Schema.Value},
		{"/health", doc.Components.Schemas["Health"].Value},
	} {
		t.Run(tc.path, func(t *testing.T) {
			_, body := get(t, server, tc.path)
			var value interface{}
			require.NoError(t, json.Unmarshal(body, &value))
			assert.NoError(t, tc.schema.VisitJSON(value))
		})
	}
}

func TestNotFound(t *testing.T) {
	server := newTestServer(t, &fakeSource{})

	resp, body := get(t, server, "/trains")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "Not Found", detail(t, body))

	r, err := http.Post(server.URL+"/arrivals", "application/json", nil)
	require.NoError(t, err)
	r.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, r.StatusCode)
}

func TestFormatShort(t *testing.T) {
	upcoming := []model.Arrival{{Minutes: 0}, {Minutes: 4}, {Minutes: 9}, {Minutes: 15}}

	assert.Equal(t, "0 4 9", FormatShort(upcoming, 3))
	assert.Equal(t, "0 4 9 15", FormatShort(upcoming, 10))
	assert.Equal(t, "0", FormatShort(upcoming, 1))
	assert.Equal(t, "", FormatShort(nil, 3))
	assert.Equal(t, "", FormatShort(upcoming, 0))
	assert.Equal(t, "", FormatShort(upcoming, -1))
}

func TestFormatFullRetrievedAtFallback(t *testing.T) {
	snap := &arrivals.Snapshot{RetrievedAt: testNow}
	station := model.Station{Key: "x", StopName: "X"}

	r := FormatFull(station, snap, nil, time.UTC)
	assert.Equal(t, "2024-03-15T14:00:00Z", r.UpdatedAt)
	assert.Equal(t, 0, r.Count)
	assert.Equal(t, []ArrivalJSON{}, r.Arrivals)
}
