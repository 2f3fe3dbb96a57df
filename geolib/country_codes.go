package geolib

import (
	"strings"

	"github.com/pariz/gountries"
)

var countryCodeQuery = gountries.New()

// NormalizeAlpha2Code returns a normalized 2-letter ISO3166 code.
// Normalized code is uppercased with some additional mapping. For
// example, some databases return ZZ as 'unknown' country. This function
// returns "" instead. Some databases still map Serbia to YU. This
// correctly maps YU to CS.
//
// So, whenever you want to use 2-letter ISO3166 code and it is coming
// from unknown source, it is recommended to normalize it with this
// function.
func NormalizeAlpha2Code(alpha2 string) string {
	alpha2 = strings.ToUpper(strings.TrimSpace(alpha2))

	if len(alpha2) != 2 {
		return ""
	}

	switch alpha2 {
	case "ZZ", "AP", "EU", "XX":
		return ""
	case "YU":
		return "CS"
	case "FX":
		return "FR"
	case "UK":
		return "GB"
	default:
		return alpha2
	}
}

// CountryName returns a common english name of the country for a given
// 2-letter code. Returns "" if code is unknown.
func CountryName(alpha2 string) string {
	alpha2 = NormalizeAlpha2Code(alpha2)
	if alpha2 == "" {
		return ""
	}

	country, err := countryCodeQuery.FindCountryByAlpha(alpha2)
	if err != nil {
		return ""
	}

	return country.Name.Common
}
