// Package geocode resolves location strings to coordinates through an
// external geocoding API, with a process-local cache. Failed lookups cache a
// null result so the same bad address is never re-queried.
package geocode

import (
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/sync/errgroup"
)

const (
	// requestTimeout bounds each geocoding API call.
	requestTimeout = 5 * time.Second
	// maxConcurrentLookups bounds parallel outbound requests per batch.
	maxConcurrentLookups = 10
	// earthRadiusMiles is the Haversine Earth radius.
	earthRadiusMiles = 3959.0
)

// Point is a geocoded coordinate.
type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Client geocodes location strings with caching.
type Client struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client

	mu    sync.RWMutex
	cache map[string]*Point // nil value = cached miss
}

// NewClient creates a geocoding client for the given endpoint.
func NewClient(endpoint, apiKey string) *Client {
	return &Client{
		endpoint:   endpoint,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: requestTimeout},
		cache:      make(map[string]*Point),
	}
}

// BuildLocationKey picks the geocoding key for an account's address parts, in
// order of preference: "zip, state, USA", "city, state, USA", "zip, USA".
// Returns "" when no usable key exists.
func BuildLocationKey(city, state, zip string) string {
	city = strings.TrimSpace(city)
	state = strings.TrimSpace(state)
	zip = strings.TrimSpace(zip)
	switch {
	case zip != "" && state != "":
		return fmt.Sprintf("%s, %s, USA", zip, state)
	case city != "" && state != "":
		return fmt.Sprintf("%s, %s, USA", city, state)
	case zip != "":
		return fmt.Sprintf("%s, USA", zip)
	default:
		return ""
	}
}

// Lookup resolves a single location key, consulting the cache first. A nil
// Point with a nil error means the location could not be geocoded.
func (c *Client) Lookup(ctx context.Context, key string) (*Point, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, nil
	}

	c.mu.RLock()
	point, cached := c.cache[key]
	c.mu.RUnlock()
	if cached {
		return point, nil
	}

	point = c.fetch(ctx, key)

	c.mu.Lock()
	c.cache[key] = point
	c.mu.Unlock()

	return point, nil
}

// LookupBatch resolves a set of location keys with bounded concurrency and
// returns the resulting map. Entries that failed to geocode map to nil.
func (c *Client) LookupBatch(ctx context.Context, keys []string) map[string]*Point {
	results := make(map[string]*Point, len(keys))
	var resultsMu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentLookups)

	seen := make(map[string]bool, len(keys))
	for _, key := range keys {
		key := strings.TrimSpace(key)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true

		g.Go(func() error {
			point, _ := c.Lookup(gctx, key)
			resultsMu.Lock()
			results[key] = point
			resultsMu.Unlock()
			return nil
		})
	}

	// workers never return errors; misses are cached as nil
	_ = g.Wait()
	return results
}

// fetch calls the geocoding API. Any failure yields nil so the miss is cached.
func (c *Client) fetch(ctx context.Context, key string) *Point {
	reqURL := fmt.Sprintf("%s?address=%s", c.endpoint, url.QueryEscape(key))
	if c.apiKey != "" {
		reqURL += "&key=" + url.QueryEscape(c.apiKey)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil
	}

	if status := gjson.GetBytes(body, "status").String(); status != "" && status != "OK" {
		return nil
	}

	lat := gjson.GetBytes(body, "results.0.geometry.location.lat")
	lng := gjson.GetBytes(body, "results.0.geometry.location.lng")
	if !lat.Exists() || !lng.Exists() {
		return nil
	}

	return &Point{Lat: lat.Float(), Lng: lng.Float()}
}

// CacheSize returns the number of cached entries, including null-hits.
func (c *Client) CacheSize() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.cache)
}

// DistanceMiles computes the Haversine distance between two points in miles.
func DistanceMiles(a, b Point) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLng := (b.Lng - a.Lng) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return earthRadiusMiles * 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}
