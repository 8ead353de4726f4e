package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/nodegeo/nodegeo/utils"
)

const (
	DefaultProviderTimeout = 8 * time.Second
	DefaultRateInterval    = time.Second
	DefaultRateBurst       = 5

	maxResponseSize = 1 << 20
)

var ErrRateLimited = errors.New("provider rate limit reached")

// ServiceOptions configure the built-in online providers. Each provider gets
// its own rate limiter built from RateInterval and RateBurst.
type ServiceOptions struct {
	Client       *http.Client
	RateInterval time.Duration
	RateBurst    int
	APIKeys      map[string]string
}

func (o ServiceOptions) withDefaults() ServiceOptions {
	if o.Client == nil {
		o.Client = &http.Client{Timeout: DefaultProviderTimeout}
	}
	if o.RateInterval <= 0 {
		o.RateInterval = DefaultRateInterval
	}
	if o.RateBurst <= 0 {
		o.RateBurst = DefaultRateBurst
	}
	if o.APIKeys == nil {
		o.APIKeys = map[string]string{}
	}

	return o
}

type decodeFunc func(body []byte) (*RawResult, error)

// jsonDecoder decodes a provider payload and converts it. convert returns nil
// when the payload says the provider has nothing for the address.
func jsonDecoder[T any](convert func(*T) *RawResult) decodeFunc {
	return func(body []byte) (*RawResult, error) {
		var payload T
		if err := json.Unmarshal(body, &payload); err != nil {
			return nil, fmt.Errorf("cannot parse a response: %w", err)
		}

		return convert(&payload), nil
	}
}

type httpService struct {
	name     string
	tier     Tier
	keyed    bool
	key      string
	client   *http.Client
	limiter  *rate.Limiter
	endpoint func(address, key string) string
	decode   decodeFunc
}

func (s *httpService) descriptor() Descriptor {
	d := Descriptor{Name: s.name, Tier: s.tier, Invoke: s.lookup}
	if s.keyed && s.key == "" {
		d.Unavailable = utils.ProviderUnavailableError{Provider: s.name}
	}

	return d
}

func (s *httpService) lookup(ctx context.Context, address string) (*RawResult, error) {
	if s.keyed && s.key == "" {
		return nil, utils.ProviderUnavailableError{Provider: s.name}
	}

	// a cancelled call must not spend rate limit budget
	if err := ctx.Err(); err != nil {
		return nil, utils.ProviderError{Provider: s.name, Err: err}
	}

	if !s.limiter.Allow() {
		return nil, utils.ProviderError{Provider: s.name, Err: ErrRateLimited}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.endpoint(address, s.key), nil)
	if err != nil {
		return nil, utils.ProviderError{Provider: s.name, Err: fmt.Errorf("cannot build a request: %w", err)}
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", utils.UserAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, utils.ProviderError{Provider: s.name, Err: fmt.Errorf("cannot send a request: %w", err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, utils.ProviderError{Provider: s.name, Err: fmt.Errorf("cannot read a response: %w", err)}
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, utils.ProviderError{Provider: s.name, Err: ErrRateLimited}
	case resp.StatusCode != http.StatusOK:
		return nil, utils.ProviderError{Provider: s.name, Err: fmt.Errorf("unexpected status code: %d", resp.StatusCode)}
	}

	raw, err := s.decode(body)
	if err != nil {
		return nil, utils.ProviderError{Provider: s.name, Err: err}
	}
	if raw == nil {
		return nil, nil
	}

	raw.IP = firstNonEmpty(raw.IP, address)
	raw.Source = s.name

	return raw, nil
}
