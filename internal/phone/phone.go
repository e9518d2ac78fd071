// Package phone holds the single-market phone number convention shared by
// the client and the backend.
package phone

import (
	"strings"

	"github.com/nyaruka/phonenumbers"
)

// CountryPrefix is the only calling code the app serves.
const CountryPrefix = "+91"

const region = "IN"

// Normalize prefixes +91 unless the value already starts with it. Other
// country codes are not recognised and get the prefix too.
func Normalize(p string) string {
	if strings.HasPrefix(p, CountryPrefix) {
		return p
	}
	return CountryPrefix + p
}

// IsValid reports whether p parses as a valid Indian number. It is advisory
// only; callers never change behaviour based on it besides logging.
func IsValid(p string) bool {
	num, err := phonenumbers.Parse(p, region)
	if err != nil {
		return false
	}
	return phonenumbers.GetRegionCodeForNumber(num) == region && phonenumbers.IsValidNumber(num)
}

// E164 parses p (defaulting to India) and formats it as E.164.
func E164(p string) (string, bool) {
	num, err := phonenumbers.Parse(p, region)
	if err != nil || !phonenumbers.IsValidNumber(num) {
		return "", false
	}
	return phonenumbers.Format(num, phonenumbers.E164), true
}
