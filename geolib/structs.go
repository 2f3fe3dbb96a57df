package geolib

import "encoding/json"

// Unknown is a sentinel for fields a provider knows nothing about.
const Unknown = "unknown"

// Result is a normalized geolocation record for a single address.
//
// String fields are never empty: if provider has no data, they are set
// to Unknown. Coordinates and accuracy radius are pointers and nil if
// absent because 0 is a perfectly valid value for them.
//
// If Error is not empty, this is an error record: all descriptive fields
// are Unknown and Error explains why.
type Result struct {
	IP             string   `json:"ip"`
	CountryName    string   `json:"country"`
	CountryCode    string   `json:"country_code"`
	RegionName     string   `json:"region"`
	RegionCode     string   `json:"region_code"`
	City           string   `json:"city"`
	PostalCode     string   `json:"postal_code"`
	Latitude       *float64 `json:"latitude"`
	Longitude      *float64 `json:"longitude"`
	Timezone       string   `json:"timezone"`
	AccuracyRadius *uint16  `json:"accuracy_radius"`
	ISP            string   `json:"isp"`
	Organization   string   `json:"organization"`
	Error          string   `json:"error,omitempty"`

	notFound bool
}

// OK tells if this result carries some geolocation data.
func (r Result) OK() bool {
	return r.Error == ""
}

// NotFound tells if this is an error record produced because provider
// has no data for the address.
func (r Result) NotFound() bool {
	return r.notFound
}

func newErrorRecord(ip, reason string) Result {
	return Result{
		IP:           ip,
		CountryName:  Unknown,
		CountryCode:  Unknown,
		RegionName:   Unknown,
		RegionCode:   Unknown,
		City:         Unknown,
		PostalCode:   Unknown,
		Timezone:     Unknown,
		ISP:          Unknown,
		Organization: Unknown,
		Error:        reason,
	}
}

func newNotFoundRecord(ip string) Result {
	rv := newErrorRecord(ip, "address is not found in geolocation database")
	rv.notFound = true

	return rv
}

// BatchItem is a single slot of LookupBatch output.
//
// Input is a trimmed string given by caller. Result is always set: for
// failed lookups it is an error record. Err is nil for successful
// lookups (including not found ones) and wraps ErrInvalidAddress or
// ErrLookupFailed otherwise.
type BatchItem struct {
	Input  string
	Result Result
	Err    error
}

// MarshalJSON is to conform json.Marshaller interface. Only result is
// serialized; error records have their own error field.
func (b BatchItem) MarshalJSON() ([]byte, error) {
	return json.Marshal(b.Result)
}

// ProviderRecord is what providers return. Empty strings and nil
// pointers are absent values. LookupCache normalizes it into Result.
type ProviderRecord struct {
	CountryName    string
	CountryCode    string
	RegionName     string
	RegionCode     string
	City           string
	PostalCode     string
	Latitude       *float64
	Longitude      *float64
	Timezone       string
	AccuracyRadius *uint16
	ISP            string
	Organization   string
}
