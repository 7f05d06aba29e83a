package downloader

import (
	"context"
	"errors"
	"sync"

	"github.com/bluele/gcache"
)

const DefaultMemoryCacheSize = 64

// Caches downloaded feeds in memory
type Memory struct {
	// Performs the actual download on cache miss. Defaults to HTTP.
	Upstream Downloader

	mutex sync.Mutex
	locks map[string]*sync.Mutex
	cache gcache.Cache
}

func NewMemory() *Memory {
	return NewMemoryWithClock(gcache.NewRealClock())
}

// Same as NewMemory, but with control over the clock used for
// expiring entries. Mostly useful in tests.
func NewMemoryWithClock(clock gcache.Clock) *Memory {
	return &Memory{
		Upstream: HTTP{},
		locks:    map[string]*sync.Mutex{},
		cache:    gcache.New(DefaultMemoryCacheSize).LRU().Clock(clock).Build(),
	}
}

func (d *Memory) Get(
	ctx context.Context,
	url string,
	headers map[string]string,
	options GetOptions,
) ([]byte, error) {
	if !options.Cache {
		return d.Upstream.Get(ctx, url, headers, options)
	}

	// Held across the download so concurrent callers for an
	// expired URL trigger a single request. Other URLs don't wait.
	lock := d.lock(url)
	lock.Lock()
	defer lock.Unlock()

	value, err := d.cache.Get(url)
	if err == nil {
		return value.([]byte), nil
	}
	if !errors.Is(err, gcache.KeyNotFoundError) {
		return nil, err
	}

	body, err := d.Upstream.Get(ctx, url, headers, options)
	if err != nil {
		return nil, err
	}

	if options.CacheTTL > 0 {
		err = d.cache.SetWithExpire(url, body, options.CacheTTL)
		if err != nil {
			return nil, err
		}
	}

	return body, nil
}

func (d *Memory) lock(url string) *sync.Mutex {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	lock, ok := d.locks[url]
	if !ok {
		lock = &sync.Mutex{}
		d.locks[url] = lock
	}
	return lock
}
