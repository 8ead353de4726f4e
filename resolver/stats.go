package resolver

import (
	"sync"

	"github.com/nodegeo/nodegeo/provider"
	"github.com/nodegeo/nodegeo/utils"
)

type Stats struct {
	TotalQueries     uint64 `json:"total_queries"`
	CacheHits        uint64 `json:"cache_hits"`
	LocalWithCity    uint64 `json:"local_with_city"`
	LocalWithoutCity uint64 `json:"local_without_city"`
	OnlineSuccess    uint64 `json:"online_success"`
	OnlineFailed     uint64 `json:"online_failed"`

	// percentages
	LocalSuccessRate       float64 `json:"local_success_rate"`
	LocalCityAvailableRate float64 `json:"local_city_available_rate"`
	OnlineFallbackRate     float64 `json:"online_fallback_rate"`
	OnlineSuccessRate      float64 `json:"online_success_rate"`

	CacheSize        int                  `json:"cache_size"`
	LocalAvailable   bool                 `json:"local_available"`
	OnlineEnabled    bool                 `json:"online_enabled"`
	FallbackCooldown float64              `json:"fallback_cooldown_seconds"`
	Local            *provider.LocalStats `json:"local,omitempty"`
}

// StatsCollector keeps the resolver counters. Every update is mirrored into
// Metrics.
type StatsCollector struct {
	mu               sync.Mutex
	total            uint64
	cacheHits        uint64
	localWithCity    uint64
	localWithoutCity uint64
	onlineSuccess    uint64
	onlineFailure    uint64

	metrics *Metrics
}

func NewStatsCollector(metrics *Metrics) *StatsCollector {
	if metrics == nil {
		metrics = NewMetricsForTesting()
	}
	return &StatsCollector{metrics: metrics}
}

func (s *StatsCollector) update(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn()
}

func (s *StatsCollector) queryStarted() {
	s.update(func() { s.total++ })
	s.metrics.Queries.Inc()
}

func (s *StatsCollector) cacheLookup(hit bool) {
	if hit {
		s.update(func() { s.cacheHits++ })
		s.metrics.CacheLookups.WithLabelValues("hit").Inc()
		return
	}
	s.metrics.CacheLookups.WithLabelValues("miss").Inc()
}

func (s *StatsCollector) localLookup(res provider.LookupResult) {
	outcome := res.Status.String()

	if res.Status == provider.Found {
		if res.Result.HasCity {
			outcome = "city"
			s.update(func() { s.localWithCity++ })
		} else {
			outcome = "no_city"
			s.update(func() { s.localWithoutCity++ })
		}
	}

	s.metrics.LocalLookups.WithLabelValues(outcome).Inc()
}

func (s *StatsCollector) onlineLookup(ok bool) {
	if ok {
		s.update(func() { s.onlineSuccess++ })
		s.metrics.OnlineLookups.WithLabelValues("success").Inc()
		return
	}
	s.update(func() { s.onlineFailure++ })
	s.metrics.OnlineLookups.WithLabelValues("failure").Inc()
}

func (s *StatsCollector) onlineSkipped() {
	s.metrics.OnlineLookups.WithLabelValues("skipped").Inc()
}

// Snapshot returns the counters with the derived rates.
func (s *StatsCollector) Snapshot() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	localTotal := s.localWithCity + s.localWithoutCity
	onlineTotal := s.onlineSuccess + s.onlineFailure

	return Stats{
		TotalQueries:           s.total,
		CacheHits:              s.cacheHits,
		LocalWithCity:          s.localWithCity,
		LocalWithoutCity:       s.localWithoutCity,
		OnlineSuccess:          s.onlineSuccess,
		OnlineFailed:           s.onlineFailure,
		LocalSuccessRate:       utils.Percent(localTotal, s.total),
		LocalCityAvailableRate: utils.Percent(s.localWithCity, localTotal),
		OnlineFallbackRate:     utils.Percent(s.onlineSuccess, s.total),
		OnlineSuccessRate:      utils.Percent(s.onlineSuccess, onlineTotal),
	}
}

// Reset zeroes the counters. Prometheus counters are monotonic and are left
// alone.
func (s *StatsCollector) Reset() {
	s.update(func() {
		s.total = 0
		s.cacheHits = 0
		s.localWithCity = 0
		s.localWithoutCity = 0
		s.onlineSuccess = 0
		s.onlineFailure = 0
	})
}
