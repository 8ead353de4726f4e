package resolver

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/nodegeo/nodegeo/cache"
	"github.com/nodegeo/nodegeo/provider"
	"github.com/nodegeo/nodegeo/utils"
)

// LocalLookup is the local database as seen by the resolver.
type LocalLookup interface {
	Available() bool
	Lookup(ctx context.Context, address string) provider.LookupResult
	Metadata() (provider.Metadata, bool)
	Stats() provider.LocalStats
	Refresh(ctx context.Context) error
	Close() error
}

// OnlineLookup is the online cascade as seen by the resolver.
type OnlineLookup interface {
	ResolveWithRetry(ctx context.Context, address string, maxAttempts int) (*utils.GeoResult, error)
}

type QueryOptions struct {
	// ForceOnline skips the cache read and the local database
	ForceOnline bool
	// EnableFallback allows an online lookup when the local database has no city
	EnableFallback bool
}

type Options struct {
	Cache         cache.CacheProvider
	Local         LocalLookup
	Online        OnlineLookup
	Clock         clockwork.Clock
	Metrics       *Metrics
	Cooldown      time.Duration
	OnlineEnabled bool
	MaxAttempts   int
}

// Resolver answers "where is this IP" from the cache, the local database and
// the online cascade, in that order. It is safe for concurrent use.
type Resolver struct {
	cache       cache.CacheProvider
	local       LocalLookup
	online      OnlineLookup
	clock       clockwork.Clock
	gate        *CooldownGate
	stats       *StatsCollector
	metrics     *Metrics
	maxAttempts int

	localAvailable atomic.Bool
	onlineEnabled  atomic.Bool
}

func New(ctx context.Context, opts Options) (*Resolver, error) {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Metrics == nil {
		opts.Metrics = NewMetricsForTesting()
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = provider.DefaultMaxAttempts
	}
	if opts.Cache == nil {
		c, err := cache.NewLocalCache(ctx, cache.DefaultSize, cache.DefaultTTL, opts.Clock)
		if err != nil {
			return nil, err
		}
		opts.Cache = c
	}

	r := &Resolver{
		cache:       opts.Cache,
		local:       opts.Local,
		online:      opts.Online,
		clock:       opts.Clock,
		gate:        NewCooldownGate(opts.Clock, opts.Cooldown),
		stats:       NewStatsCollector(opts.Metrics),
		metrics:     opts.Metrics,
		maxAttempts: opts.MaxAttempts,
	}

	r.setLocalAvailable(opts.Local != nil && opts.Local.Available())
	r.EnableOnlineServices(opts.OnlineEnabled && opts.Online != nil)

	log.Info().
		Bool("local", r.localAvailable.Load()).
		Bool("online", r.onlineEnabled.Load()).
		Dur("cooldown", r.gate.Cooldown()).
		Msg("resolver ready")

	return r, nil
}

func (r *Resolver) setLocalAvailable(available bool) {
	r.localAvailable.Store(available)
	r.metrics.LocalAvailable.Set(boolGauge(available))
}

// Query resolves address. It never fails: the worst outcome is nil.
func (r *Resolver) Query(ctx context.Context, address string, opts QueryOptions) *utils.GeoResult {
	start := r.clock.Now()
	defer func() {
		r.metrics.QueryDuration.Observe(r.clock.Since(start).Seconds())
	}()

	r.stats.queryStarted()

	if !opts.ForceOnline {
		if cached, ok := r.cache.Fetch(ctx, address); ok {
			r.stats.cacheLookup(true)
			return cached
		}
		r.stats.cacheLookup(false)
	}

	var fallback *utils.GeoResult

	if !opts.ForceOnline && r.localAvailable.Load() {
		res := r.local.Lookup(ctx, address)
		r.stats.localLookup(res)

		switch res.Status {
		case provider.Found:
			if res.Result.HasCity {
				r.cache.Add(ctx, address, res.Result)
				return res.Result
			}
			fallback = res.Result
		case provider.Failed:
			log.Error().Err(res.Err).Str("address", address).Msg("local database lookup failed")
		default:
			log.Debug().Str("address", address).Str("status", res.Status.String()).Msg("no local answer")
		}
	}

	attempt := false
	switch {
	case opts.ForceOnline:
		attempt = r.online != nil
		if attempt {
			r.gate.Mark()
		}
	case opts.EnableFallback && r.onlineEnabled.Load():
		attempt = r.gate.TryAcquire()
		if !attempt {
			r.stats.onlineSkipped()
			log.Debug().Str("address", address).Msg("online fallback skipped, cooldown active")
		}
	}

	if attempt {
		online, err := r.online.ResolveWithRetry(ctx, address, r.maxAttempts)
		if err == nil && online != nil {
			r.stats.onlineLookup(true)

			result := *online
			if fallback != nil {
				result = Merge(*fallback, result)
			}
			r.cache.Add(ctx, address, &result)
			return &result
		}

		r.stats.onlineLookup(false)
		log.Warn().Err(err).Str("address", address).Msg("online lookup failed")
	}

	if fallback == nil {
		return nil
	}

	result := *fallback
	result.FallbackAttempted = attempt
	result.FallbackAvailable = r.onlineEnabled.Load()

	return &result
}

// QueryWithFallback is the usual entry point: local first, online when the
// local database has no city.
func (r *Resolver) QueryWithFallback(ctx context.Context, address string) *utils.GeoResult {
	return r.Query(ctx, address, QueryOptions{EnableFallback: true})
}

func (r *Resolver) QueryForceOnline(ctx context.Context, address string) *utils.GeoResult {
	return r.Query(ctx, address, QueryOptions{ForceOnline: true})
}

func (r *Resolver) Stats() Stats {
	stats := r.stats.Snapshot()
	stats.CacheSize = r.cache.Len()
	stats.LocalAvailable = r.localAvailable.Load()
	stats.OnlineEnabled = r.onlineEnabled.Load()
	stats.FallbackCooldown = r.gate.Cooldown().Seconds()

	if r.local != nil && stats.LocalAvailable {
		local := r.local.Stats()
		stats.Local = &local
	}

	return stats
}

// ProviderUsage returns per-provider usage when the online lookup tracks it.
func (r *Resolver) ProviderUsage() []*provider.UsageStats {
	tracked, ok := r.online.(interface{ Usage() []*provider.UsageStats })
	if !ok {
		return nil
	}
	return tracked.Usage()
}

func (r *Resolver) ResetStats() {
	r.stats.Reset()
	if resettable, ok := r.local.(interface{ ResetStats() }); ok {
		resettable.ResetStats()
	}
}

func (r *Resolver) ClearCache(ctx context.Context) {
	r.cache.Clear(ctx)
	log.Info().Msg("result cache cleared")
}

func (r *Resolver) EnableOnlineServices(enabled bool) {
	if enabled && r.online == nil {
		log.Warn().Msg("no online providers configured, online services stay disabled")
		enabled = false
	}

	r.onlineEnabled.Store(enabled)
	r.metrics.OnlineEnabled.Set(boolGauge(enabled))
}

func (r *Resolver) SetFallbackCooldown(cooldown time.Duration) {
	r.gate.SetCooldown(cooldown)
}

// LocalDatabaseInfo returns the local database metadata; false when no
// database is loaded.
func (r *Resolver) LocalDatabaseInfo() (provider.Metadata, bool) {
	if r.local == nil || !r.localAvailable.Load() {
		return provider.Metadata{}, false
	}
	return r.local.Metadata()
}

// RefreshLocal reopens the local database, typically after a download.
func (r *Resolver) RefreshLocal(ctx context.Context) error {
	if r.local == nil {
		return utils.DatabaseUnavailableError{}
	}

	err := r.local.Refresh(ctx)
	r.setLocalAvailable(r.local.Available())

	return err
}

func (r *Resolver) Close() error {
	if r.local == nil {
		return nil
	}

	r.setLocalAvailable(false)
	return r.local.Close()
}
