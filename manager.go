package arrivals

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"subwaytime.dev/arrivals/downloader"
	"subwaytime.dev/arrivals/model"
)

const (
	DefaultRealtimeTTL     = 30 * time.Second
	DefaultRealtimeTimeout = 15 * time.Second
	DefaultRealtimeMaxSize = 4 << 20 // 4 MB
	DefaultMaxStaleness    = 5 * time.Minute
	DefaultPollInterval    = 0
)

var (
	ErrUnknownFeed = errors.New("unknown feed")

	// Returned when a feed can't be refreshed and no recent
	// enough snapshot is available.
	ErrStaleSnapshot = errors.New("no recent snapshot available")
)

// Manager downloads and decodes realtime feeds, keeping the latest
// Snapshot of each in memory.
type Manager struct {
	RealtimeTTL     time.Duration
	RealtimeTimeout time.Duration
	RealtimeMaxSize int

	// How old a snapshot may be and still be served when a
	// refresh fails.
	MaxStaleness time.Duration

	// How often Run() refreshes feeds. Zero disables polling, in
	// which case feeds are fetched on demand.
	PollInterval time.Duration

	// Feed URLs by feed ID, and feed ID by route ID.
	FeedURLs   map[string]string
	RouteFeeds map[string]string

	// Feeds refreshed by Run(). All of FeedURLs if empty.
	PollFeeds []string

	// Sent with every feed request, e.g. x-api-key.
	Headers map[string]string

	Downloader downloader.Downloader
	Logger     *zap.Logger
	TimeNow    func() time.Time

	mutex     sync.RWMutex
	snapshots map[string]*Snapshot
	group     singleflight.Group
}

// Creates a new Manager for the public MTA feeds.
//
// By default, the manager uses an in memory cache for feed data,
// with failed downloads retried.
func NewManager(logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Manager{
		RealtimeTTL:     DefaultRealtimeTTL,
		RealtimeTimeout: DefaultRealtimeTimeout,
		RealtimeMaxSize: DefaultRealtimeMaxSize,
		MaxStaleness:    DefaultMaxStaleness,
		PollInterval:    DefaultPollInterval,

		FeedURLs:   copyMap(DefaultFeedURLs),
		RouteFeeds: copyMap(DefaultRouteFeeds),
		Headers:    map[string]string{},

		Downloader: downloader.NewRetrying(downloader.NewMemory(), logger),
		Logger:     logger,
		TimeNow:    time.Now,

		snapshots: map[string]*Snapshot{},
	}
}

// Feed ID for a route.
func (m *Manager) FeedForRoute(routeID string) (string, error) {
	feedID, ok := m.RouteFeeds[routeID]
	if !ok {
		return "", fmt.Errorf("%w: no feed for route %s", ErrUnknownFeed, routeID)
	}
	if _, ok := m.FeedURLs[feedID]; !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownFeed, feedID)
	}
	return feedID, nil
}

// Snapshot of the feed serving a station.
func (m *Manager) SnapshotForStation(ctx context.Context, station model.Station) (*Snapshot, error) {
	feedID, err := m.FeedForRoute(station.RouteID)
	if err != nil {
		return nil, err
	}
	return m.Snapshot(ctx, feedID)
}

// Returns the current snapshot of a feed.
//
// A cached snapshot younger than RealtimeTTL is returned as is.
// Otherwise the feed is downloaded and decoded, with concurrent
// callers sharing a single download. If that fails, a previous
// snapshot no older than MaxStaleness is returned instead.
func (m *Manager) Snapshot(ctx context.Context, feedID string) (*Snapshot, error) {
	if _, ok := m.FeedURLs[feedID]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFeed, feedID)
	}

	cached := m.cached(feedID)
	if cached != nil && cached.Age(m.TimeNow()) < m.RealtimeTTL {
		return cached, nil
	}

	snap, err := m.refresh(ctx, feedID, true)
	if err == nil {
		return snap, nil
	}

	if cached != nil && cached.Age(m.TimeNow()) <= m.MaxStaleness {
		m.Logger.Warn("serving stale snapshot",
			zap.String("feed", feedID),
			zap.Duration("age", cached.Age(m.TimeNow())),
			zap.Error(err),
		)
		return cached, nil
	}

	return nil, errors.Join(ErrStaleSnapshot, err)
}

// Refreshes the given feeds, or all of FeedURLs if none are given.
func (m *Manager) Refresh(ctx context.Context, feedIDs ...string) error {
	if len(feedIDs) == 0 {
		feedIDs = m.feedIDs()
	}

	errs := []error{}
	for _, feedID := range feedIDs {
		if _, ok := m.FeedURLs[feedID]; !ok {
			errs = append(errs, fmt.Errorf("%w: %s", ErrUnknownFeed, feedID))
			continue
		}
		_, err := m.refresh(ctx, feedID, false)
		if err != nil {
			errs = append(errs, fmt.Errorf("refreshing feed %s: %w", feedID, err))
		}
	}

	return errors.Join(errs...)
}

// Refreshes PollFeeds every PollInterval until the context is
// cancelled. Returns immediately if PollInterval is zero.
func (m *Manager) Run(ctx context.Context) error {
	if m.PollInterval <= 0 {
		return nil
	}

	feeds := m.PollFeeds
	if len(feeds) == 0 {
		feeds = m.feedIDs()
	}

	m.Logger.Info("polling feeds",
		zap.Strings("feeds", feeds),
		zap.Duration("interval", m.PollInterval),
	)

	ticker := time.NewTicker(m.PollInterval)
	defer ticker.Stop()

	for {
		if err := m.Refresh(ctx, feeds...); err != nil {
			m.Logger.Error("refreshing feeds", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Retrieval time of each feed's current snapshot.
func (m *Manager) LastRetrieved() map[string]time.Time {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	retrieved := make(map[string]time.Time, len(m.snapshots))
	for feedID, snap := range m.snapshots {
		retrieved[feedID] = snap.RetrievedAt
	}
	return retrieved
}

func (m *Manager) cached(feedID string) *Snapshot {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.snapshots[feedID]
}

// Downloads and decodes a feed. Concurrent callers share one
// download, which runs detached from any single caller's context
// and is bounded by RealtimeTimeout instead. Each caller stops
// waiting when its own context is done.
func (m *Manager) refresh(ctx context.Context, feedID string, cache bool) (*Snapshot, error) {
	ch := m.group.DoChan(feedID, func() (interface{}, error) {
		ctx := context.WithoutCancel(ctx)
		if m.RealtimeTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, m.RealtimeTimeout)
			defer cancel()
		}

		url := m.FeedURLs[feedID]

		started := m.TimeNow()
		body, err := m.Downloader.Get(
			ctx,
			url,
			m.Headers,
			downloader.GetOptions{
				Cache:    cache,
				CacheTTL: m.RealtimeTTL,
				Timeout:  m.RealtimeTimeout,
				MaxSize:  m.RealtimeMaxSize,
			},
		)
		if err != nil {
			return nil, fmt.Errorf("downloading realtime: %w", err)
		}

		snap, err := NewSnapshot(ctx, feedID, [][]byte{body}, m.TimeNow())
		if err != nil {
			return nil, fmt.Errorf("creating snapshot: %w", err)
		}

		m.mutex.Lock()
		m.snapshots[feedID] = snap
		m.mutex.Unlock()

		m.Logger.Debug("refreshed feed",
			zap.String("feed", feedID),
			zap.Int("trips", len(snap.Trips)),
			zap.Int("canceled", len(snap.CanceledTrips)),
			zap.Time("feed_timestamp", snap.Timestamp),
			zap.Duration("took", m.TimeNow().Sub(started)),
		)

		return snap, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Snapshot), nil
	case <-ctx.Done():
		return nil, fmt.Errorf("waiting for feed %s: %w", feedID, ctx.Err())
	}
}

func (m *Manager) feedIDs() []string {
	ids := make([]string, 0, len(m.FeedURLs))
	for id := range m.FeedURLs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func copyMap(m map[string]string) map[string]string {
	c := make(map[string]string, len(m))
	for k, v := range m {
		c[k] = v
	}
	return c
}
