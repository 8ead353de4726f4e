package resolver

import (
	"strings"

	"github.com/nodegeo/nodegeo/utils"
)

// Merge combines an online answer with the local record kept as fallback.
// The online answer wins; its empty city and country fields are taken from
// the local record.
func Merge(local, online utils.GeoResult) utils.GeoResult {
	merged := online

	if !utils.CityPresent(merged.City) && utils.CityPresent(local.City) {
		merged = merged.WithCity(local.City)
		if !utils.CityPresent(merged.CityLocalized) {
			merged.CityLocalized = local.CityLocalized
		}
	}

	if strings.TrimSpace(merged.Country) == "" {
		merged.Country = local.Country
	}
	if strings.TrimSpace(merged.CountryCode) == "" {
		merged.CountryCode = local.CountryCode
	}

	merged.Combined = true
	merged.LocalHadCity = local.HasCity

	return merged.Finalize(merged.Accuracy)
}
