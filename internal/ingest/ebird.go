package ingest

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/chrispt/Birding-Fallout-Predictor/internal/models"
)

const (
	DefaultEBirdURL = "https://api.ebird.org/v2"
	maxEBirdDistKm  = 50
)

// EBirdClient reads hotspot reference data from the eBird API.
type EBirdClient struct {
	baseURL string
	fetcher
}

func NewEBirdClient(baseURL, apiKey string) *EBirdClient {
	if baseURL == "" {
		baseURL = DefaultEBirdURL
	}
	f := newFetcher("ebird")
	f.header.Set("X-eBirdApiToken", apiKey)
	return &EBirdClient{baseURL: strings.TrimRight(baseURL, "/"), fetcher: f}
}

type ebirdHotspot struct {
	LocID            string  `json:"locId"`
	LocName          string  `json:"locName"`
	CountryCode      string  `json:"countryCode"`
	Subnational1Code string  `json:"subnational1Code"`
	Subnational2Code string  `json:"subnational2Code"`
	Lat              float64 `json:"lat"`
	Lng              float64 `json:"lng"`
}

// NearbyHotspots returns the eBird hotspots within distKm of a point. The
// distance is capped at the API maximum of 50 km.
func (c *EBirdClient) NearbyHotspots(ctx context.Context, lat, lon float64, distKm int) ([]models.Hotspot, *FetchResult, error) {
	q := url.Values{}
	q.Set("lat", strconv.FormatFloat(lat, 'f', 4, 64))
	q.Set("lng", strconv.FormatFloat(lon, 'f', 4, 64))
	q.Set("dist", strconv.Itoa(max(1, min(distKm, maxEBirdDistKm))))
	q.Set("fmt", "json")

	result := &FetchResult{}
	body, err := c.get(ctx, c.baseURL+"/ref/hotspot/geo?"+q.Encode(), result)
	if err != nil {
		return nil, result, err
	}

	var data []ebirdHotspot
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, result, fmt.Errorf("unmarshal: %w", err)
	}

	hotspots := make([]models.Hotspot, 0, len(data))
	var skipped []string
	for i, h := range data {
		if h.LocID == "" || h.LocName == "" {
			skipped = append(skipped, fmt.Sprintf("hotspot[%d]: missing locId or locName", i))
			continue
		}
		hotspots = append(hotspots, models.Hotspot{
			EBirdLocID:  h.LocID,
			Name:        h.LocName,
			Latitude:    h.Lat,
			Longitude:   h.Lng,
			CountryCode: optional(h.CountryCode),
			StateCode:   optional(h.Subnational1Code),
			CountyCode:  optional(h.Subnational2Code),
		})
	}

	result.RecordCount = len(hotspots)
	if len(skipped) > 0 {
		result.ParseErrors = len(skipped)
		result.ParseError = fmt.Sprintf("%d parse errors: %s", len(skipped), skipped[0])
	}
	return hotspots, result, nil
}

func optional(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
