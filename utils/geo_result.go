package utils

import "strings"

type Accuracy string

const (
	AccuracyHigh   Accuracy = "high"
	AccuracyMedium Accuracy = "medium"
	AccuracyLow    Accuracy = "low"
)

const (
	SourceLocal     = "local-geolite2"
	SourcePrivateIP = "private_ip"
)

// GeoResult is the location record returned by the resolver. Values are
// treated as immutable once returned; HasCity always follows City.
type GeoResult struct {
	Address           string   `json:"address"`
	Country           string   `json:"country"`
	CountryCode       string   `json:"country_code"`
	City              string   `json:"city"`
	CityLocalized     string   `json:"city_localized"`
	Region            string   `json:"region"`
	RegionCode        string   `json:"region_code,omitempty"`
	Continent         string   `json:"continent,omitempty"`
	ContinentCode     string   `json:"continent_code,omitempty"`
	IsInEuropeanUnion bool     `json:"is_in_european_union"`
	Latitude          float64  `json:"latitude"`
	Longitude         float64  `json:"longitude"`
	ISP               string   `json:"isp"`
	Timezone          string   `json:"timezone"`
	PostalCode        string   `json:"postal_code"`
	Source            string   `json:"source"`
	FromLocalDatabase bool     `json:"from_local_database"`
	HasCity           bool     `json:"has_city"`
	Accuracy          Accuracy `json:"accuracy"`

	// merge and fallback annotations
	Combined          bool `json:"combined,omitempty"`
	LocalHadCity      bool `json:"local_had_city,omitempty"`
	FallbackAttempted bool `json:"fallback_attempted"`
	FallbackAvailable bool `json:"fallback_available"`
	IsPrivate         bool `json:"is_private,omitempty"`
}

// CityPresent reports whether a city name carries any non-whitespace text.
func CityPresent(city string) bool {
	return strings.TrimSpace(city) != ""
}

// Finalize recomputes HasCity from City and derives the accuracy. Records
// without a city get noCity as their accuracy.
func (g GeoResult) Finalize(noCity Accuracy) GeoResult {
	g.HasCity = CityPresent(g.City)
	if g.HasCity {
		g.Accuracy = AccuracyHigh
	} else {
		g.Accuracy = noCity
	}

	return g
}

// WithCity returns a copy with the city replaced and HasCity recomputed.
func (g GeoResult) WithCity(city string) GeoResult {
	g.City = city
	g.HasCity = CityPresent(city)
	if g.HasCity {
		g.Accuracy = AccuracyHigh
	} else if g.Accuracy == AccuracyHigh || g.Accuracy == "" {
		g.Accuracy = AccuracyLow
	}

	return g
}

// UnknownLocation is the record callers hand back for addresses that are
// never submitted for lookup (private, loopback, unresolvable...).
func UnknownLocation(address string) *GeoResult {
	result := GeoResult{
		Address:   address,
		Country:   "Unknown",
		City:      "",
		Source:    SourcePrivateIP,
		IsPrivate: true,
	}.Finalize(AccuracyLow)

	return &result
}
