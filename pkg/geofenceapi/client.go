// Package geofenceapi fetches geofence definitions from an external
// zone-management API so operations can edit fences without redeploying.
package geofenceapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"freightwatch/internal/domain"
)

type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func New(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

type apiResponse struct {
	Geofences json.RawMessage `json:"geofences"`
	Error     string          `json:"error,omitempty"`
}

type apiCoord struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

type apiGeofence struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	Kind         string         `json:"kind"`
	Rings        [][]apiCoord   `json:"rings,omitempty"`
	Center       *apiCoord      `json:"center,omitempty"`
	RadiusMeters float64        `json:"radiusMeters,omitempty"`
	Attributes   map[string]any `json:"attributes,omitempty"`
}

func (c *Client) Fetch(ctx context.Context) ([]domain.Geofence, error) {
	params := url.Values{}
	params.Set("apikey", c.apiKey)

	reqURL := fmt.Sprintf("%s?%s", c.baseURL, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	var apiResp apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}

	if apiResp.Error != "" {
		return nil, fmt.Errorf("API error: %s", apiResp.Error)
	}

	var fences []apiGeofence
	if err := json.Unmarshal(apiResp.Geofences, &fences); err != nil {
		return nil, fmt.Errorf("decoding geofences: %w", err)
	}

	return toDomain(fences), nil
}

func toDomain(fences []apiGeofence) []domain.Geofence {
	result := make([]domain.Geofence, 0, len(fences))

	for _, f := range fences {
		if f.ID == "" {
			continue
		}

		g := domain.Geofence{
			ID:           f.ID,
			Name:         f.Name,
			Kind:         domain.GeofenceKind(f.Kind),
			RadiusMeters: f.RadiusMeters,
			Attributes:   f.Attributes,
		}
		if f.Center != nil {
			g.Center = &domain.LatLng{Lat: f.Center.Lat, Lng: f.Center.Lng}
		}
		for _, ring := range f.Rings {
			converted := make([]domain.LatLng, 0, len(ring))
			for _, p := range ring {
				converted = append(converted, domain.LatLng{Lat: p.Lat, Lng: p.Lng})
			}
			g.Rings = append(g.Rings, converted)
		}

		result = append(result, g)
	}

	return result
}
