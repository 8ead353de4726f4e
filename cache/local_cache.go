package cache

import (
	"context"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/nodegeo/nodegeo/utils"
)

const (
	DefaultTTL  = time.Hour
	DefaultSize = 4096
)

type entry struct {
	result     utils.GeoResult
	insertedAt time.Time
}

// LocalCache keeps resolutions in memory for a fixed TTL. Expired entries
// are only dropped when they are read; there is no background sweep.
type LocalCache struct {
	mu    sync.Mutex
	cache *lru.ARCCache
	ttl   time.Duration
	clock clockwork.Clock
}

func NewLocalCache(ctx context.Context, size int, ttl time.Duration, clock clockwork.Clock) (*LocalCache, error) {
	if size <= 0 {
		size = DefaultSize
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	cache, err := lru.NewARC(size)
	if err != nil {
		return nil, err
	}

	return &LocalCache{
		cache: cache,
		ttl:   ttl,
		clock: clock,
	}, nil
}

func (lc *LocalCache) Fetch(ctx context.Context, address string) (*utils.GeoResult, bool) {
	lc.mu.Lock()
	defer lc.mu.Unlock()

	value, ok := lc.cache.Get(address)
	if !ok {
		return nil, false
	}

	e := value.(entry)
	if lc.clock.Since(e.insertedAt) >= lc.ttl {
		log.Trace().Str("address", address).Msg("cached value expired")
		lc.cache.Remove(address)
		return nil, false
	}

	result := e.result
	return &result, true
}

func (lc *LocalCache) Add(ctx context.Context, address string, result *utils.GeoResult) {
	if result == nil {
		return
	}

	lc.mu.Lock()
	defer lc.mu.Unlock()

	lc.cache.Add(address, entry{result: *result, insertedAt: lc.clock.Now()})
}

func (lc *LocalCache) Clear(ctx context.Context) {
	lc.mu.Lock()
	defer lc.mu.Unlock()

	lc.cache.Purge()
}

func (lc *LocalCache) Len() int {
	lc.mu.Lock()
	defer lc.mu.Unlock()

	return lc.cache.Len()
}
