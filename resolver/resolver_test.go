package resolver

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"

	"github.com/nodegeo/nodegeo/cache"
	"github.com/nodegeo/nodegeo/provider"
	"github.com/nodegeo/nodegeo/utils"
)

type mockLocal struct {
	mock.Mock
}

func (m *mockLocal) Available() bool {
	return m.Called().Bool(0)
}

func (m *mockLocal) Lookup(ctx context.Context, address string) provider.LookupResult {
	return m.Called(ctx, address).Get(0).(provider.LookupResult)
}

func (m *mockLocal) Metadata() (provider.Metadata, bool) {
	args := m.Called()
	return args.Get(0).(provider.Metadata), args.Bool(1)
}

func (m *mockLocal) Stats() provider.LocalStats {
	return m.Called().Get(0).(provider.LocalStats)
}

func (m *mockLocal) Refresh(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *mockLocal) Close() error {
	return m.Called().Error(0)
}

func localRecord(address, country, code, city string) provider.LookupResult {
	result := utils.GeoResult{
		Address:           address,
		Country:           country,
		CountryCode:       code,
		City:              city,
		Source:            utils.SourceLocal,
		FromLocalDatabase: true,
	}.Finalize(utils.AccuracyLow)

	return provider.LookupResult{Status: provider.Found, Result: &result}
}

// countingProvider answers from a fixed raw result and counts its calls
type countingProvider struct {
	calls atomic.Int32
	raw   *provider.RawResult
	err   error
}

func (p *countingProvider) descriptor() provider.Descriptor {
	return provider.Descriptor{Name: "counting", Tier: provider.TierPrimary, Invoke: func(context.Context, string) (*provider.RawResult, error) {
		p.calls.Add(1)
		if p.err != nil {
			return nil, p.err
		}
		raw := *p.raw
		return &raw, nil
	}}
}

type resolverTestSuite struct {
	suite.Suite

	ctx     context.Context
	clock   *clockwork.FakeClock
	local   *mockLocal
	online  *countingProvider
	metrics *Metrics
	cache   *cache.LocalCache
}

func (suite *resolverTestSuite) SetupTest() {
	suite.ctx = context.Background()
	suite.clock = clockwork.NewFakeClock()
	suite.local = &mockLocal{}
	suite.online = &countingProvider{raw: &provider.RawResult{CountryCode: "DE", City: "Berlin"}}
	suite.metrics = NewMetricsForTesting()

	c, err := cache.NewLocalCache(suite.ctx, 0, time.Hour, suite.clock)
	suite.Require().NoError(err)
	suite.cache = c
}

func (suite *resolverTestSuite) newResolver(localAvailable bool) *Resolver {
	suite.local.On("Available").Return(localAvailable)
	suite.local.On("Stats").Return(provider.LocalStats{}).Maybe()

	cascade, err := provider.NewCascade(suite.ctx, []provider.Descriptor{suite.online.descriptor()}, provider.CascadeOptions{
		Clock:   suite.clock,
		Timeout: time.Second,
	})
	suite.Require().NoError(err)

	r, err := New(suite.ctx, Options{
		Cache:         suite.cache,
		Local:         suite.local,
		Online:        cascade,
		Clock:         suite.clock,
		Metrics:       suite.metrics,
		Cooldown:      DefaultFallbackCooldown,
		OnlineEnabled: true,
		MaxAttempts:   1,
	})
	suite.Require().NoError(err)

	return r
}

func (suite *resolverTestSuite) TestRepeatedQueryHitsCache() {
	suite.local.On("Lookup", mock.Anything, "8.8.8.8").Return(localRecord("8.8.8.8", "United States", "US", "Mountain View")).Once()
	r := suite.newResolver(true)

	first := r.QueryWithFallback(suite.ctx, "8.8.8.8")
	second := r.QueryWithFallback(suite.ctx, "8.8.8.8")

	suite.Require().NotNil(first)
	suite.Equal(*first, *second)
	suite.Equal("Mountain View", second.City)
	suite.local.AssertNumberOfCalls(suite.T(), "Lookup", 1)
	suite.Zero(suite.online.calls.Load())

	stats := r.Stats()
	suite.EqualValues(2, stats.TotalQueries)
	suite.EqualValues(1, stats.CacheHits)
	suite.EqualValues(1, stats.LocalWithCity)
	suite.Equal(1, stats.CacheSize)

	suite.Equal(1.0, testutil.ToFloat64(suite.metrics.CacheLookups.WithLabelValues("hit")))
	suite.Equal(2.0, testutil.ToFloat64(suite.metrics.Queries))
}

func (suite *resolverTestSuite) TestCacheEntryExpires() {
	suite.local.On("Lookup", mock.Anything, "8.8.8.8").Return(localRecord("8.8.8.8", "United States", "US", "Mountain View"))
	r := suite.newResolver(true)

	r.QueryWithFallback(suite.ctx, "8.8.8.8")
	suite.clock.Advance(time.Hour - time.Second)
	r.QueryWithFallback(suite.ctx, "8.8.8.8")
	suite.local.AssertNumberOfCalls(suite.T(), "Lookup", 1)

	suite.clock.Advance(time.Second)
	r.QueryWithFallback(suite.ctx, "8.8.8.8")
	suite.local.AssertNumberOfCalls(suite.T(), "Lookup", 2)
}

func (suite *resolverTestSuite) TestLocalWithoutCityIsMergedWithOnline() {
	suite.local.On("Lookup", mock.Anything, "5.9.0.1").Return(localRecord("5.9.0.1", "Germany", "DE", ""))
	r := suite.newResolver(true)

	result := r.QueryWithFallback(suite.ctx, "5.9.0.1")
	suite.Require().NotNil(result)
	suite.Equal("Berlin", result.City)
	suite.Equal("Germany", result.Country)
	suite.Equal("DE", result.CountryCode)
	suite.True(result.HasCity)
	suite.True(result.Combined)
	suite.False(result.LocalHadCity)
	suite.False(result.FromLocalDatabase)
	suite.Equal(utils.AccuracyHigh, result.Accuracy)

	// the merged answer is cached
	again := r.QueryWithFallback(suite.ctx, "5.9.0.1")
	suite.Equal(*result, *again)
	suite.EqualValues(1, suite.online.calls.Load())

	stats := r.Stats()
	suite.EqualValues(1, stats.LocalWithoutCity)
	suite.EqualValues(1, stats.OnlineSuccess)
	suite.Equal(50.0, stats.OnlineFallbackRate)
	suite.Equal(100.0, stats.OnlineSuccessRate)
}

func (suite *resolverTestSuite) TestCooldownSkipsFallback() {
	for _, address := range []string{"5.9.0.1", "5.9.0.2", "5.9.0.3"} {
		suite.local.On("Lookup", mock.Anything, address).Return(localRecord(address, "Germany", "DE", ""))
	}
	r := suite.newResolver(true)

	first := r.QueryWithFallback(suite.ctx, "5.9.0.1")
	suite.True(first.HasCity)

	skipped := r.QueryWithFallback(suite.ctx, "5.9.0.2")
	suite.Require().NotNil(skipped)
	suite.False(skipped.HasCity)
	suite.False(skipped.FallbackAttempted)
	suite.True(skipped.FallbackAvailable)
	suite.Equal(utils.AccuracyLow, skipped.Accuracy)
	suite.EqualValues(1, suite.online.calls.Load())
	suite.Equal(1.0, testutil.ToFloat64(suite.metrics.OnlineLookups.WithLabelValues("skipped")))

	suite.clock.Advance(DefaultFallbackCooldown)
	third := r.QueryWithFallback(suite.ctx, "5.9.0.3")
	suite.True(third.HasCity)
	suite.EqualValues(2, suite.online.calls.Load())
}

func (suite *resolverTestSuite) TestOnlineFailureKeepsLocal() {
	suite.online.err = errors.New("provider down")
	suite.local.On("Lookup", mock.Anything, "5.9.0.1").Return(localRecord("5.9.0.1", "Germany", "DE", ""))
	r := suite.newResolver(true)

	result := r.QueryWithFallback(suite.ctx, "5.9.0.1")
	suite.Require().NotNil(result)
	suite.Equal("Germany", result.Country)
	suite.True(result.FallbackAttempted)
	suite.True(result.FromLocalDatabase)

	// a fallback record is not cached
	suite.Zero(suite.cache.Len())
	suite.EqualValues(1, r.Stats().OnlineFailed)
}

func (suite *resolverTestSuite) TestUnavailableLocalGoesOnline() {
	r := suite.newResolver(false)

	result := r.QueryWithFallback(suite.ctx, "5.9.0.1")
	suite.Require().NotNil(result)
	suite.Equal("Berlin", result.City)
	suite.False(result.Combined)
	suite.local.AssertNotCalled(suite.T(), "Lookup", mock.Anything, mock.Anything)

	_, ok := r.LocalDatabaseInfo()
	suite.False(ok)
	suite.False(r.Stats().LocalAvailable)
}

func (suite *resolverTestSuite) TestOnlineDisabled() {
	suite.local.On("Lookup", mock.Anything, "5.9.0.1").Return(localRecord("5.9.0.1", "Germany", "DE", ""))
	suite.local.On("Lookup", mock.Anything, "4.4.4.4").Return(provider.LookupResult{Status: provider.NotFound, Err: utils.AddressNotFoundError{}})
	r := suite.newResolver(true)
	r.EnableOnlineServices(false)

	result := r.QueryWithFallback(suite.ctx, "5.9.0.1")
	suite.Require().NotNil(result)
	suite.False(result.FallbackAttempted)
	suite.False(result.FallbackAvailable)

	suite.Nil(r.QueryWithFallback(suite.ctx, "4.4.4.4"))
	suite.Zero(suite.online.calls.Load())
	suite.Equal(0.0, testutil.ToFloat64(suite.metrics.OnlineEnabled))
}

func (suite *resolverTestSuite) TestForceOnlineBypassesCacheAndLocal() {
	suite.cache.Add(suite.ctx, "8.8.8.8", &utils.GeoResult{Address: "8.8.8.8", City: "Stale", HasCity: true})
	r := suite.newResolver(true)

	result := r.QueryForceOnline(suite.ctx, "8.8.8.8")
	suite.Require().NotNil(result)
	suite.Equal("Berlin", result.City)
	suite.local.AssertNotCalled(suite.T(), "Lookup", mock.Anything, mock.Anything)

	cached, ok := suite.cache.Fetch(suite.ctx, "8.8.8.8")
	suite.True(ok)
	suite.Equal("Berlin", cached.City)

	// forced lookups ignore the cooldown
	r.QueryForceOnline(suite.ctx, "8.8.8.8")
	suite.EqualValues(2, suite.online.calls.Load())
}

func (suite *resolverTestSuite) TestConcurrentQueries() {
	for i := 0; i < 100; i++ {
		address := fmt.Sprintf("10.0.%d.%d", i/256, i%256)
		city := ""
		if i < 60 {
			city = "City"
		}
		suite.local.On("Lookup", mock.Anything, address).Return(localRecord(address, "Country", "CC", city))
	}
	r := suite.newResolver(true)
	r.EnableOnlineServices(false)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r.QueryWithFallback(suite.ctx, fmt.Sprintf("10.0.%d.%d", i/256, i%256))
		}(i)
	}
	wg.Wait()

	stats := r.Stats()
	suite.EqualValues(100, stats.TotalQueries)
	suite.EqualValues(60, stats.LocalWithCity)
	suite.EqualValues(40, stats.LocalWithoutCity)
	suite.Equal(100.0, stats.LocalSuccessRate)
	suite.Equal(60.0, stats.LocalCityAvailableRate)
}

func (suite *resolverTestSuite) TestResetAndClear() {
	suite.local.On("Lookup", mock.Anything, "8.8.8.8").Return(localRecord("8.8.8.8", "United States", "US", "Mountain View"))
	suite.local.On("Stats").Return(provider.LocalStats{TotalQueries: 1})
	r := suite.newResolver(true)

	r.QueryWithFallback(suite.ctx, "8.8.8.8")
	suite.Require().NotNil(r.Stats().Local)

	r.ResetStats()
	suite.Zero(r.Stats().TotalQueries)
	suite.Equal(1, r.Stats().CacheSize)

	r.ClearCache(suite.ctx)
	suite.Zero(r.Stats().CacheSize)

	r.QueryWithFallback(suite.ctx, "8.8.8.8")
	suite.local.AssertNumberOfCalls(suite.T(), "Lookup", 2)
}

func (suite *resolverTestSuite) TestCooldownSetting() {
	r := suite.newResolver(false)

	r.SetFallbackCooldown(2 * time.Second)
	suite.Equal(2.0, r.Stats().FallbackCooldown)

	r.SetFallbackCooldown(-time.Second)
	suite.Zero(r.Stats().FallbackCooldown)
}

func (suite *resolverTestSuite) TestRefreshLocal() {
	suite.local.On("Refresh", mock.Anything).Return(nil)
	suite.local.On("Metadata").Return(provider.Metadata{DatabaseType: "GeoLite2-City"}, true)
	suite.local.On("Close").Return(nil)

	suite.local.On("Available").Return(false).Once()
	r := suite.newResolver(true)
	suite.False(r.Stats().LocalAvailable)

	suite.NoError(r.RefreshLocal(suite.ctx))
	suite.True(r.Stats().LocalAvailable)

	meta, ok := r.LocalDatabaseInfo()
	suite.True(ok)
	suite.Equal("GeoLite2-City", meta.DatabaseType)

	suite.NoError(r.Close())
	suite.False(r.Stats().LocalAvailable)
}

func TestResolverTestSuite(t *testing.T) {
	suite.Run(t, new(resolverTestSuite))
}
