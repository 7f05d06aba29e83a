package downloader_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bluele/gcache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"subwaytime.dev/arrivals/downloader"
)

type countingServer struct {
	Server   *httptest.Server
	Requests atomic.Int32
	Status   atomic.Int32
	Body     []byte
	Headers  atomic.Value
}

func newCountingServer(t *testing.T, body string) *countingServer {
	s := &countingServer{Body: []byte(body)}
	s.Status.Store(http.StatusOK)
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.Requests.Add(1)
		s.Headers.Store(r.Header.Clone())
		w.WriteHeader(int(s.Status.Load()))
		w.Write(s.Body)
	}))
	t.Cleanup(s.Server.Close)
	return s
}

func TestHTTPGetSendsHeaders(t *testing.T) {
	s := newCountingServer(t, "feed")

	body, err := downloader.HTTPGet(
		context.Background(),
		s.Server.URL,
		map[string]string{"x-api-key": "secret"},
		downloader.GetOptions{Timeout: time.Second},
	)
	require.NoError(t, err)
	assert.Equal(t, []byte("feed"), body)
	assert.Equal(t, "secret", s.Headers.Load().(http.Header).Get("x-api-key"))
}

func TestHTTPGetStatusError(t *testing.T) {
	s := newCountingServer(t, "nope")
	s.Status.Store(http.StatusForbidden)

	_, err := downloader.HTTPGet(context.Background(), s.Server.URL, nil, downloader.GetOptions{})
	require.Error(t, err)

	var statusErr *downloader.StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusForbidden, statusErr.StatusCode)
	assert.False(t, statusErr.Temporary())
}

func TestHTTPGetMaxSize(t *testing.T) {
	s := newCountingServer(t, "0123456789")

	_, err := downloader.HTTPGet(context.Background(), s.Server.URL, nil, downloader.GetOptions{MaxSize: 5})
	assert.Error(t, err)

	body, err := downloader.HTTPGet(context.Background(), s.Server.URL, nil, downloader.GetOptions{MaxSize: 10})
	require.NoError(t, err)
	assert.Equal(t, "0123456789", string(body))
}

func TestMemoryCachesUntilTTL(t *testing.T) {
	s := newCountingServer(t, "feed")
	clock := gcache.NewFakeClock()
	d := downloader.NewMemoryWithClock(clock)

	opts := downloader.GetOptions{Cache: true, CacheTTL: time.Minute}

	for i := 0; i < 3; i++ {
		body, err := d.Get(context.Background(), s.Server.URL, nil, opts)
		require.NoError(t, err)
		assert.Equal(t, "feed", string(body))
	}
	assert.Equal(t, int32(1), s.Requests.Load())

	clock.Advance(61 * time.Second)
	_, err := d.Get(context.Background(), s.Server.URL, nil, opts)
	require.NoError(t, err)
	assert.Equal(t, int32(2), s.Requests.Load())
}

func TestMemoryNoCache(t *testing.T) {
	s := newCountingServer(t, "feed")
	d := downloader.NewMemory()

	for i := 0; i < 3; i++ {
		_, err := d.Get(context.Background(), s.Server.URL, nil, downloader.GetOptions{})
		require.NoError(t, err)
	}
	assert.Equal(t, int32(3), s.Requests.Load())
}

type slowUpstream struct {
	slowURL string
	release chan struct{}
	started chan struct{}
}

func (u *slowUpstream) Get(ctx context.Context, url string, headers map[string]string, options downloader.GetOptions) ([]byte, error) {
	if url == u.slowURL {
		close(u.started)
		<-u.release
	}
	return []byte(url), nil
}

func TestMemorySlowURLDoesNotBlockOthers(t *testing.T) {
	upstream := &slowUpstream{
		slowURL: "http://feeds/nqrw",
		release: make(chan struct{}),
		started: make(chan struct{}),
	}
	d := downloader.NewMemory()
	d.Upstream = upstream

	opts := downloader.GetOptions{Cache: true, CacheTTL: time.Minute}

	slowDone := make(chan []byte)
	go func() {
		body, err := d.Get(context.Background(), "http://feeds/nqrw", nil, opts)
		assert.NoError(t, err)
		slowDone <- body
	}()
	<-upstream.started

	fastDone := make(chan []byte)
	go func() {
		body, err := d.Get(context.Background(), "http://feeds/gtfs", nil, opts)
		assert.NoError(t, err)
		fastDone <- body
	}()

	select {
	case body := <-fastDone:
		assert.Equal(t, "http://feeds/gtfs", string(body))
	case <-time.After(2 * time.Second):
		t.Fatal("gtfs download waited on nqrw")
	}

	close(upstream.release)
	assert.Equal(t, "http://feeds/nqrw", string(<-slowDone))
}

func TestFilesystemPersistsAcrossInstances(t *testing.T) {
	s := newCountingServer(t, "feed")
	path := filepath.Join(t.TempDir(), "cache.json")
	opts := downloader.GetOptions{Cache: true, CacheTTL: time.Minute}

	fs, err := downloader.NewFilesystem(path)
	require.NoError(t, err)
	_, err = fs.Get(context.Background(), s.Server.URL, nil, opts)
	require.NoError(t, err)

	fs2, err := downloader.NewFilesystem(path)
	require.NoError(t, err)
	body, err := fs2.Get(context.Background(), s.Server.URL, nil, opts)
	require.NoError(t, err)
	assert.Equal(t, "feed", string(body))
	assert.Equal(t, int32(1), s.Requests.Load())

	// Expired
	fs2.TimeNow = func() time.Time { return time.Now().Add(2 * time.Minute) }
	_, err = fs2.Get(context.Background(), s.Server.URL, nil, opts)
	require.NoError(t, err)
	assert.Equal(t, int32(2), s.Requests.Load())
}

type flakyDownloader struct {
	failures int
	err      error
	calls    int
}

func (f *flakyDownloader) Get(ctx context.Context, url string, headers map[string]string, options downloader.GetOptions) ([]byte, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, f.err
	}
	return []byte("ok"), nil
}

func TestRetryingRecoversFromTemporaryErrors(t *testing.T) {
	flaky := &flakyDownloader{
		failures: 2,
		err:      &downloader.StatusError{URL: "u", StatusCode: http.StatusBadGateway},
	}
	r := downloader.NewRetrying(flaky, nil)
	r.InitialInterval = time.Millisecond

	body, err := r.Get(context.Background(), "u", nil, downloader.GetOptions{})
	require.NoError(t, err)
	assert.Equal(t, "ok", string(body))
	assert.Equal(t, 3, flaky.calls)
}

func TestRetryingGivesUpOnClientErrors(t *testing.T) {
	flaky := &flakyDownloader{
		failures: 5,
		err:      &downloader.StatusError{URL: "u", StatusCode: http.StatusUnauthorized},
	}
	r := downloader.NewRetrying(flaky, nil)
	r.InitialInterval = time.Millisecond

	_, err := r.Get(context.Background(), "u", nil, downloader.GetOptions{})
	require.Error(t, err)
	assert.Equal(t, 1, flaky.calls)

	var statusErr *downloader.StatusError
	assert.ErrorAs(t, err, &statusErr)
}
