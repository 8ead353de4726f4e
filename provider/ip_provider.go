package provider

import (
	"context"
	"fmt"
)

// Tier is the priority group of an online provider. Lower tiers are tried
// first and must return a country code to count as an answer.
type Tier int

const (
	TierPrimary   Tier = 1
	TierSecondary Tier = 2
	TierTertiary  Tier = 3
)

func (t Tier) String() string {
	return fmt.Sprintf("tier-%d", int(t))
}

// strict tiers reject answers without a country code
func (t Tier) strict() bool {
	return t != TierTertiary
}

// LookupFunc queries one online provider. A nil result with a nil error
// means the provider answered but had nothing for the address.
type LookupFunc func(ctx context.Context, address string) (*RawResult, error)

// Descriptor is a named online provider. Unavailable descriptors (a keyed
// provider without a key) are kept for reporting but never invoked.
type Descriptor struct {
	Name        string
	Tier        Tier
	Invoke      LookupFunc
	Unavailable error
}

type Connection struct {
	ISP          string `json:"isp"`
	Organization string `json:"organization"`
}

// RawResult is a provider answer before normalization. Providers disagree on
// field names, so several alternatives are kept side by side.
type RawResult struct {
	IP          string
	CountryCode string
	Country     string
	CountryName string
	City        string
	Region      string
	RegionName  string
	ISP         string
	Org         string
	Connection  Connection
	Lat         any
	Lon         any
	Timezone    string
	PostalCode  string
	Source      string
}
