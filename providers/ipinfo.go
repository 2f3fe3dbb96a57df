package providers

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/9seconds/ipgeo/geolib"
)

const ipinfoBaseURL = "https://ipinfo.io/"

type ipinfoResponse struct {
	City     string `json:"city"`
	Region   string `json:"region"`
	Country  string `json:"country"`
	Loc      string `json:"loc"`
	Org      string `json:"org"`
	Postal   string `json:"postal"`
	Timezone string `json:"timezone"`
	Bogon    bool   `json:"bogon"`
}

type ipinfoProvider struct {
	authToken string
	client    geolib.HTTPClient
}

func (i ipinfoProvider) Name() string {
	return NameIPInfo
}

func (i ipinfoProvider) Ready() error {
	return nil
}

func (i ipinfoProvider) Lookup(ctx context.Context, addr geolib.Address) (geolib.ProviderRecord, error) {
	result := geolib.ProviderRecord{}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ipinfoBaseURL+addr.String(), nil)
	if err != nil {
		return result, fmt.Errorf("cannot build a request: %w", err)
	}

	req.Header.Set("Accept", "application/json")

	if i.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+i.authToken)
	}

	resp, err := i.client.Do(req)
	if err != nil {
		return result, fmt.Errorf("cannot send a request: %w", err)
	}

	defer flushResponse(resp)

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return result, geolib.ErrNotFound
	default:
		return result, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	jsonResponse := ipinfoResponse{}
	jsonDecoder := json.NewDecoder(bufio.NewReader(resp.Body))

	if err := jsonDecoder.Decode(&jsonResponse); err != nil {
		return result, fmt.Errorf("cannot parse a response: %w", err)
	}

	if jsonResponse.Bogon {
		return result, geolib.ErrNotFound
	}

	result.City = jsonResponse.City
	result.RegionName = jsonResponse.Region
	result.CountryCode = jsonResponse.Country
	result.PostalCode = jsonResponse.Postal
	result.Timezone = jsonResponse.Timezone
	result.Latitude, result.Longitude = ipinfoParseLocation(jsonResponse.Loc)
	result.ISP, result.Organization = ipinfoParseOrg(jsonResponse.Org)

	return result, nil
}

// ipinfoParseLocation parses "lat,lon" string. Both coordinates are
// either set or absent.
func ipinfoParseLocation(loc string) (*float64, *float64) {
	chunks := strings.Split(loc, ",")
	if len(chunks) != 2 {
		return nil, nil
	}

	lat, err := strconv.ParseFloat(strings.TrimSpace(chunks[0]), 64)
	if err != nil {
		return nil, nil
	}

	lon, err := strconv.ParseFloat(strings.TrimSpace(chunks[1]), 64)
	if err != nil {
		return nil, nil
	}

	return &lat, &lon
}

// ipinfoParseOrg splits "AS14618 Amazon.com, Inc." into a name of the
// network and the whole string.
func ipinfoParseOrg(org string) (string, string) {
	org = strings.TrimSpace(org)

	if strings.HasPrefix(org, "AS") {
		if _, name, ok := strings.Cut(org, " "); ok {
			return strings.TrimSpace(name), org
		}
	}

	return org, org
}

// NewIPInfo returns a provider for ipinfo.io. Token is optional: free
// tier works without it, with lower rate limits.
func NewIPInfo(client geolib.HTTPClient, authToken string) geolib.Provider {
	return ipinfoProvider{
		authToken: authToken,
		client:    client,
	}
}
