package provider

import (
	"context"

	"github.com/qioalice/ipstack"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/nodegeo/nodegeo/utils"
)

type ipStackProvider struct {
	cli     *ipstack.Client
	limiter *rate.Limiter
}

// newIPStackDescriptor wraps the ipstack client. The client does not take a
// context, the cascade bounds the call with its own timeout.
func newIPStackDescriptor(apiKey string, opts ServiceOptions) Descriptor {
	d := Descriptor{Name: NameIPStack, Tier: TierTertiary}

	if apiKey == "" {
		d.Unavailable = utils.ProviderUnavailableError{Provider: NameIPStack}
		d.Invoke = func(context.Context, string) (*RawResult, error) { return nil, d.Unavailable }
		return d
	}

	cli, err := ipstack.New(
		ipstack.ParamToken(apiKey),
		ipstack.ParamUseHTTPS(true),
	)
	if err != nil {
		log.Warn().Err(err).Msg("failed to create IpStack client. Have you remembered to set the API key? You can use the NODEGEO_ONLINE_KEYS_IPSTACK environment variable or online.keys.ipstack in the config file")
		d.Unavailable = utils.ProviderError{Provider: NameIPStack, Err: err}
		d.Invoke = func(context.Context, string) (*RawResult, error) { return nil, d.Unavailable }
		return d
	}

	provider := &ipStackProvider{
		cli:     cli,
		limiter: rate.NewLimiter(rate.Every(opts.RateInterval), opts.RateBurst),
	}
	d.Invoke = provider.Lookup

	return d
}

func (provider *ipStackProvider) Lookup(_ context.Context, address string) (*RawResult, error) {
	if !provider.limiter.Allow() {
		return nil, utils.ProviderError{Provider: NameIPStack, Err: ErrRateLimited}
	}

	ipInfo, err := provider.cli.IP(address)
	if err != nil {
		return nil, utils.ProviderError{Provider: NameIPStack, Err: err}
	}

	if ipInfo.CountryCode == "" {
		return nil, nil
	}

	return &RawResult{
		IP:          ipInfo.IP,
		CountryCode: ipInfo.CountryCode,
		CountryName: ipInfo.CountryName,
		City:        ipInfo.City,
		RegionName:  ipInfo.RegionName,
		ISP:         ipInfo.Connection.ISP,
		Lat:         float64(ipInfo.Latitide),
		Lon:         float64(ipInfo.Longitude),
		Timezone:    ipInfo.Timezone.ID,
		PostalCode:  ipInfo.Zip,
		Source:      NameIPStack,
	}, nil
}
