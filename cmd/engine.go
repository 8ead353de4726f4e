package cmd

import (
	"context"
	"net/http"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	"github.com/nodegeo/nodegeo/cache"
	"github.com/nodegeo/nodegeo/provider"
	"github.com/nodegeo/nodegeo/resolver"
)

// apiKeys reads every provider key by its full name so that
// NODEGEO_ONLINE_KEYS_<NAME> overrides the config file.
func apiKeys() map[string]string {
	keys := make(map[string]string, len(provider.APIKeyNames))
	for _, name := range provider.APIKeyNames {
		if key := viper.GetString("online.keys." + name); key != "" {
			keys[name] = key
		}
	}

	return keys
}

func serviceOptions() provider.ServiceOptions {
	return provider.ServiceOptions{
		Client:       &http.Client{Timeout: viper.GetDuration("online.timeout")},
		RateInterval: viper.GetDuration("online.rate"),
		RateBurst:    viper.GetInt("online.burst"),
		APIKeys:      apiKeys(),
	}
}

func newCascade(ctx context.Context, clock clockwork.Clock) (*provider.Cascade, error) {
	descriptors := provider.NewOnlineDescriptors(serviceOptions())

	return provider.NewCascade(ctx, descriptors, provider.CascadeOptions{
		Timeout:     viper.GetDuration("online.timeout"),
		BackoffStep: viper.GetDuration("online.backoff"),
		Clock:       clock,
	})
}

func newLocalDatabase(ctx context.Context) *provider.LocalDatabase {
	local := provider.NewLocalDatabase(provider.OpenMaxMind, viper.GetString("local.locale"))
	if err := local.Open(ctx, viper.GetStringSlice("local.paths")); err != nil {
		log.Warn().Err(err).Msg("starting without a local database")
	}

	return local
}

// newEngine builds the resolver from the current configuration. Only one
// engine is built per process; commands pass it to whatever needs it.
func newEngine(ctx context.Context, metrics *resolver.Metrics) (*resolver.Resolver, *provider.Cascade, error) {
	clock := clockwork.NewRealClock()

	resultCache, err := cache.NewLocalCache(ctx, viper.GetInt("cache.size"), viper.GetDuration("cache.ttl"), clock)
	if err != nil {
		return nil, nil, err
	}

	cascade, err := newCascade(ctx, clock)
	if err != nil {
		return nil, nil, err
	}

	engine, err := resolver.New(ctx, resolver.Options{
		Cache:         resultCache,
		Local:         newLocalDatabase(ctx),
		Online:        cascade,
		Clock:         clock,
		Metrics:       metrics,
		Cooldown:      viper.GetDuration("online.cooldown"),
		OnlineEnabled: viper.GetBool("online.enabled"),
		MaxAttempts:   viper.GetInt("online.attempts"),
	})
	if err != nil {
		return nil, nil, err
	}

	onReload(func(_ context.Context) {
		engine.EnableOnlineServices(viper.GetBool("online.enabled"))
		engine.SetFallbackCooldown(viper.GetDuration("online.cooldown"))
		log.Info().
			Bool("online", viper.GetBool("online.enabled")).
			Dur("cooldown", viper.GetDuration("online.cooldown")).
			Msg("resolver settings reloaded")
	})

	return engine, cascade, nil
}
