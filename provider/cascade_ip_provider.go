package provider

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"

	"github.com/nodegeo/nodegeo/utils"
)

const (
	DefaultMaxAttempts = 3
	DefaultBackoffStep = 2 * time.Second
)

type CascadeOptions struct {
	// Timeout bounds a single provider call
	Timeout     time.Duration
	BackoffStep time.Duration
	Clock       clockwork.Clock
	// Shuffle reorders a tier before each pass. It must not modify its input.
	Shuffle func([]Descriptor) []Descriptor
}

// Cascade queries online providers tier by tier and returns the first
// acceptable answer. Tiers are fixed at construction.
type Cascade struct {
	tiers       [][]Descriptor
	all         []Descriptor
	usage       map[string]*UsageStats
	timeout     time.Duration
	backoffStep time.Duration
	clock       clockwork.Clock
	shuffle     func([]Descriptor) []Descriptor
}

func shuffleTier(tier []Descriptor) []Descriptor {
	return lo.Shuffle(slices.Clone(tier))
}

func NewCascade(ctx context.Context, descriptors []Descriptor, opts CascadeOptions) (*Cascade, error) {
	if len(descriptors) == 0 {
		return nil, errors.New("no online providers configured")
	}

	if opts.Timeout <= 0 {
		opts.Timeout = DefaultProviderTimeout
	}
	if opts.BackoffStep <= 0 {
		opts.BackoffStep = DefaultBackoffStep
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Shuffle == nil {
		opts.Shuffle = shuffleTier
	}

	c := &Cascade{
		all:         slices.Clone(descriptors),
		usage:       map[string]*UsageStats{},
		timeout:     opts.Timeout,
		backoffStep: opts.BackoffStep,
		clock:       opts.Clock,
		shuffle:     opts.Shuffle,
	}

	for _, tier := range []Tier{TierPrimary, TierSecondary, TierTertiary} {
		members := lo.Filter(descriptors, func(d Descriptor, _ int) bool {
			return d.Tier == tier && d.Unavailable == nil && d.Invoke != nil
		})
		c.tiers = append(c.tiers, members)

		log.Debug().
			Str("tier", tier.String()).
			Strs("providers", lo.Map(members, func(d Descriptor, _ int) string { return d.Name })).
			Msg("online tier configured")
	}

	for _, d := range descriptors {
		if _, ok := c.usage[d.Name]; ok {
			return nil, fmt.Errorf("duplicate online provider %s", d.Name)
		}
		c.usage[d.Name] = newUsageStats(d, c.clock)
	}

	return c, nil
}

// Resolve runs one pass over all tiers. Provider errors never abort the
// pass; they are logged and the next provider is tried.
func (c *Cascade) Resolve(ctx context.Context, address string) (*utils.GeoResult, error) {
	for idx, tier := range c.tiers {
		for _, d := range c.shuffle(tier) {
			if err := ctx.Err(); err != nil {
				return nil, err
			}

			raw, err := c.invoke(ctx, d, address)
			c.usage[d.Name].Used(err)
			if err != nil {
				log.Debug().Err(err).Str("provider", d.Name).Str("address", address).Msg("online provider failed, moving on to next provider")
				continue
			}

			if raw == nil {
				continue
			}

			if d.Tier.strict() && firstNonEmpty(raw.CountryCode) == "" {
				log.Debug().Str("provider", d.Name).Str("address", address).Msg("online answer without country code rejected")
				continue
			}

			result := Normalize(raw, d.Name)
			if result.Address == "" {
				result.Address = address
			}

			log.Debug().
				Str("provider", d.Name).
				Int("tier", idx+1).
				Str("address", address).
				Str("city", result.City).
				Msg("online lookup succeeded")

			return &result, nil
		}
	}

	return nil, utils.CascadeExhaustedError{Attempts: 1}
}

type invokeOutcome struct {
	raw *RawResult
	err error
}

// invoke calls one provider under the cascade timeout. A provider that
// ignores its context is abandoned once the timeout expires.
func (c *Cascade) invoke(ctx context.Context, d Descriptor, address string) (*RawResult, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	done := make(chan invokeOutcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- invokeOutcome{err: utils.ProviderError{Provider: d.Name, Err: fmt.Errorf("panic: %v", r)}}
			}
		}()

		raw, err := d.Invoke(ctx, address)
		done <- invokeOutcome{raw: raw, err: err}
	}()

	select {
	case out := <-done:
		return out.raw, out.err
	case <-ctx.Done():
		return nil, utils.ProviderError{Provider: d.Name, Err: ctx.Err()}
	}
}

// ResolveWithRetry repeats Resolve up to maxAttempts times. The wait before
// attempt n+1 is n times the backoff step.
func (c *Cascade) ResolveWithRetry(ctx context.Context, address string, maxAttempts int) (*utils.GeoResult, error) {
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var (
		result   *utils.GeoResult
		attempts int
	)

	operation := func() error {
		attempts++
		r, err := c.Resolve(ctx, address)
		if err != nil {
			return err
		}
		result = r
		return nil
	}

	notify := func(err error, wait time.Duration) {
		log.Debug().Err(err).Str("address", address).Int("attempt", attempts).Dur("wait", wait).Msg("all online providers failed, retrying")
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(&linearBackOff{step: c.backoffStep}, uint64(maxAttempts-1)),
		ctx,
	)

	if err := backoff.RetryNotifyWithTimer(operation, policy, notify, &clockTimer{clock: c.clock}); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		log.Warn().Str("address", address).Int("attempts", attempts).Msg("all online providers failed")
		return nil, utils.CascadeExhaustedError{Attempts: attempts}
	}

	return result, nil
}

// Providers returns every configured provider, unavailable ones included.
func (c *Cascade) Providers() []Descriptor {
	return slices.Clone(c.all)
}

func (c *Cascade) Usage() []*UsageStats {
	return lo.Map(c.all, func(d Descriptor, _ int) *UsageStats {
		return c.usage[d.Name]
	})
}

type linearBackOff struct {
	step    time.Duration
	attempt int
}

func (b *linearBackOff) NextBackOff() time.Duration {
	b.attempt++
	return time.Duration(b.attempt) * b.step
}

func (b *linearBackOff) Reset() {
	b.attempt = 0
}

// clockTimer drives backoff waits from a clockwork clock.
type clockTimer struct {
	clock clockwork.Clock
	timer clockwork.Timer
}

func (t *clockTimer) Start(duration time.Duration) {
	t.Stop()
	t.timer = t.clock.NewTimer(duration)
}

func (t *clockTimer) Stop() {
	if t.timer != nil {
		t.timer.Stop()
	}
}

func (t *clockTimer) C() <-chan time.Time {
	return t.timer.Chan()
}
