package provider

import (
	"strings"

	"github.com/samber/lo"
	"github.com/spf13/cast"

	"github.com/nodegeo/nodegeo/utils"
)

func firstNonEmpty(values ...string) string {
	v, _ := lo.Find(values, func(v string) bool { return strings.TrimSpace(v) != "" })
	return strings.TrimSpace(v)
}

// Normalize maps a provider answer onto the canonical record. Coordinates
// that cannot be parsed become 0.
func Normalize(raw *RawResult, providerName string) utils.GeoResult {
	if raw == nil {
		return utils.GeoResult{Source: providerName}.Finalize(utils.AccuracyMedium)
	}

	city := strings.TrimSpace(raw.City)

	result := utils.GeoResult{
		Address:       raw.IP,
		Country:       firstNonEmpty(raw.CountryName, raw.Country),
		CountryCode:   strings.ToUpper(strings.TrimSpace(raw.CountryCode)),
		City:          city,
		CityLocalized: city,
		Region:        firstNonEmpty(raw.Region, raw.RegionName),
		Latitude:      cast.ToFloat64(raw.Lat),
		Longitude:     cast.ToFloat64(raw.Lon),
		ISP:           firstNonEmpty(raw.ISP, raw.Org, raw.Connection.ISP, raw.Connection.Organization),
		Timezone:      raw.Timezone,
		PostalCode:    raw.PostalCode,
		Source:        firstNonEmpty(raw.Source, providerName),
	}

	return result.Finalize(utils.AccuracyMedium)
}
