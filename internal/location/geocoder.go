package location

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"maktaba-api/internal/cache"
	"maktaba-api/internal/cachekey"
	"maktaba-api/internal/model"
)

// GeocodingError reports that every relay attempt failed. Callers degrade
// to an "Unknown" place name; the negative result is never cached so a
// later retry is not suppressed.
type GeocodingError struct {
	Attempts int
	LastErr  error
}

func (e *GeocodingError) Error() string {
	return fmt.Sprintf("geocoding failed after %d relay attempts: %v", e.Attempts, e.LastErr)
}

func (e *GeocodingError) Unwrap() error { return e.LastErr }

// GeocoderConfig holds relay policy. Ordering and timeouts are policy
// constants copied from observed behavior, not contracts; both are
// configurable.
type GeocoderConfig struct {
	ReverseURL     string
	Relays         []string
	AttemptTimeout time.Duration
	CacheTTL       time.Duration
}

// Geocoder resolves coordinates to a place name through an ordered list of
// relay endpoints, caching successes under the geocode namespace. Place
// names rarely change, so the cache TTL is long (default 7 days).
type Geocoder struct {
	cfg    GeocoderConfig
	cache  *cache.Tiered
	client *http.Client
}

// NewGeocoder creates a geocoder over the given cache.
func NewGeocoder(cfg GeocoderConfig, c *cache.Tiered) *Geocoder {
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = 5 * time.Second
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 7 * 24 * time.Hour
	}
	if len(cfg.Relays) == 0 {
		// Single direct attempt when no relays are configured.
		cfg.Relays = []string{""}
	}
	return &Geocoder{cfg: cfg, cache: c, client: &http.Client{}}
}

type nominatimResponse struct {
	Address struct {
		City    string `json:"city"`
		Town    string `json:"town"`
		Village string `json:"village"`
		County  string `json:"county"`
		Country string `json:"country"`
	} `json:"address"`
}

// Reverse returns the place name for the given coordinates. Cache hits are
// keyed by rounded coordinates; on miss each relay is tried in order with
// its own timeout, stopping at the first success.
func (g *Geocoder) Reverse(ctx context.Context, lat, lon float64) (model.Place, error) {
	key := cachekey.MakeLocation(cachekey.NamespaceGeocode, lat, lon)

	if data, err := g.cache.Get(ctx, key); err == nil {
		var place model.Place
		if err := json.Unmarshal(data, &place); err == nil {
			return place, nil
		}
		// Unreadable cached payload: drop it and re-geocode.
		_ = g.cache.Delete(ctx, key)
	}

	target := fmt.Sprintf("%s?format=json&lat=%s&lon=%s",
		g.cfg.ReverseURL, cachekey.FormatCoordinate(lat), cachekey.FormatCoordinate(lon))

	var lastErr error
	attempts := 0
	for _, relay := range g.cfg.Relays {
		attempts++
		place, err := g.fetchOne(ctx, relayURL(relay, target))
		if err != nil {
			lastErr = err
			log.Printf("[Geocoder] Relay attempt %d failed: %v", attempts, err)
			continue
		}

		if data, err := json.Marshal(place); err == nil {
			_ = g.cache.Set(ctx, key, data, g.cfg.CacheTTL)
		}
		return place, nil
	}

	return model.Place{City: "Unknown", Country: "Unknown"},
		&GeocodingError{Attempts: attempts, LastErr: lastErr}
}

func (g *Geocoder) fetchOne(ctx context.Context, u string) (model.Place, error) {
	ctx, cancel := context.WithTimeout(ctx, g.cfg.AttemptTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return model.Place{}, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return model.Place{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return model.Place{}, fmt.Errorf("status %d", resp.StatusCode)
	}

	var body nominatimResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return model.Place{}, err
	}

	city := body.Address.City
	if city == "" {
		city = body.Address.Town
	}
	if city == "" {
		city = body.Address.Village
	}
	if city == "" {
		city = body.Address.County
	}
	if city == "" && body.Address.Country == "" {
		return model.Place{}, fmt.Errorf("empty address in response")
	}
	if city == "" {
		city = "Unknown"
	}

	country := body.Address.Country
	if country == "" {
		country = "Unknown"
	}

	return model.Place{City: city, Country: country}, nil
}
