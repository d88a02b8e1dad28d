package location

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/sync/singleflight"

	"maktaba-api/internal/cache"
	"maktaba-api/internal/cachekey"
	"maktaba-api/internal/model"
)

// currentKey is the fixed cache key for the most recent resolved location.
var currentKey = cachekey.Make(cachekey.NamespaceLocation, "current")

// Resolution states.
type State string

const (
	StateIdle      State = "idle"
	StateResolving State = "resolving"
	StateResolved  State = "resolved"
)

// ResolverConfig holds resolver policy.
type ResolverConfig struct {
	// SensorTimeout bounds one device acquisition.
	SensorTimeout time.Duration
	// CacheTTL bounds how long a fresh fix stays valid.
	CacheTTL time.Duration
	// DefaultMaxAge is the staleness bound applied when Resolve is called
	// without one.
	DefaultMaxAge time.Duration
	// Fallback is the hardcoded default location.
	Fallback FallbackLocation
}

// FallbackLocation is the last link of the chain.
type FallbackLocation struct {
	Latitude  float64
	Longitude float64
	City      string
	Country   string
}

// ResolveOptions tune one Resolve call.
type ResolveOptions struct {
	// ForceRefresh skips the cached-location fast path.
	ForceRefresh bool
	// MaxAge overrides the configured staleness bound when > 0.
	MaxAge time.Duration
}

// Resolver acquires a location through the chain
// fresh sensor → cached-but-fresh → cached-but-expired → hardcoded default.
// Resolve always produces a usable location; sensor failures are absorbed
// into the chain and only surface as the quality tag and fallback reason.
type Resolver struct {
	cfg      ResolverConfig
	cache    *cache.Tiered
	sensor   Sensor
	geocoder *Geocoder

	group singleflight.Group

	mu         sync.RWMutex
	state      State
	onEnriched func(model.Location)
}

// NewResolver creates a resolver. geocoder may be nil, disabling place-name
// enrichment.
func NewResolver(cfg ResolverConfig, c *cache.Tiered, sensor Sensor, geocoder *Geocoder) *Resolver {
	if cfg.SensorTimeout <= 0 {
		cfg.SensorTimeout = 10 * time.Second
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 30 * time.Minute
	}
	if cfg.DefaultMaxAge <= 0 {
		cfg.DefaultMaxAge = cfg.CacheTTL
	}
	return &Resolver{
		cfg:      cfg,
		cache:    c,
		sensor:   sensor,
		geocoder: geocoder,
		state:    StateIdle,
	}
}

// OnEnriched registers the callback fired when asynchronous geocoding
// fills in a location's place name.
func (r *Resolver) OnEnriched(fn func(model.Location)) {
	r.mu.Lock()
	r.onEnriched = fn
	r.mu.Unlock()
}

// State reports the resolver's current phase.
func (r *Resolver) State() State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

func (r *Resolver) setState(s State) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
}

// Resolve walks the fallback chain and returns a location. Concurrent
// callers with identical options share one resolution.
func (r *Resolver) Resolve(ctx context.Context, opts ResolveOptions) model.Location {
	maxAge := opts.MaxAge
	if maxAge <= 0 {
		maxAge = r.cfg.DefaultMaxAge
	}

	key := "resolve"
	if opts.ForceRefresh {
		key = "resolve-force"
	}
	loc, _, _ := r.group.Do(key, func() (any, error) {
		return r.resolve(ctx, opts.ForceRefresh, maxAge), nil
	})
	return loc.(model.Location)
}

func (r *Resolver) resolve(ctx context.Context, force bool, maxAge time.Duration) model.Location {
	r.setState(StateResolving)
	defer r.setState(StateResolved)

	// Read the cached fix once, bypassing TTL enforcement: the TTL-checking
	// read path deletes expired entries as a side effect, and an expired
	// fix is exactly what the failure branch below wants to replay.
	cached, cachedValid := r.loadCachedFix(ctx)

	if !force && cached != nil && cachedValid &&
		cached.Quality != model.QualityFallback && cached.Age(time.Now()) < maxAge {
		replay := *cached
		replay.Quality = model.QualityCachedSensor
		return replay
	}

	pos, err := r.sensor.CurrentPosition(ctx, Options{
		HighAccuracy: false,
		Timeout:      r.cfg.SensorTimeout,
		MaxAge:       maxAge,
	})
	if err != nil {
		log.Printf("[LocationResolver] Sensor acquisition failed: %v", err)
		return r.afterSensorFailure(cached, cachedValid, err)
	}

	loc := model.Location{
		Latitude:  pos.Latitude,
		Longitude: pos.Longitude,
		Quality:   model.QualityFreshSensor,
		Timestamp: time.Now(),
	}
	r.cacheLocation(ctx, loc)
	r.enrichInBackground(loc)
	return loc
}

// loadCachedFix reads the persisted fix regardless of TTL. The bool
// reports whether the entry is still TTL-valid. Falls back to the memory
// tier (valid entries only) when the persistent tier has nothing.
func (r *Resolver) loadCachedFix(ctx context.Context) (*model.Location, bool) {
	if entry, err := r.cache.GetExpired(ctx, currentKey); err == nil {
		var loc model.Location
		if err := json.Unmarshal(entry.Value, &loc); err != nil {
			log.Printf("[LocationResolver] Warning: unreadable cached location: %v", err)
			return nil, false
		}
		return &loc, !entry.Expired(time.Now())
	}

	data, err := r.cache.Get(ctx, currentKey)
	if err != nil {
		return nil, false
	}
	var loc model.Location
	if err := json.Unmarshal(data, &loc); err != nil {
		return nil, false
	}
	return &loc, true
}

// afterSensorFailure serves the tail of the chain: the expired cached fix,
// then the hardcoded default.
func (r *Resolver) afterSensorFailure(cached *model.Location, cachedValid bool, sensorErr error) model.Location {
	if cached != nil && cached.Quality != model.QualityFallback {
		loc := *cached
		loc.Quality = model.QualityCachedSensor
		loc.IsExpired = !cachedValid
		log.Printf("[LocationResolver] Using cached location from %s (expired=%v)", loc.Timestamp.Format(time.RFC3339), loc.IsExpired)
		return loc
	}

	reason := "location unavailable"
	var locErr *LocationError
	if errors.As(sensorErr, &locErr) {
		switch locErr.Reason {
		case ReasonPermissionDenied:
			reason = "location permission denied"
		case ReasonTimeout:
			reason = "location request timed out"
		}
	}

	fb := r.cfg.Fallback
	return model.Location{
		Latitude:       fb.Latitude,
		Longitude:      fb.Longitude,
		City:           fb.City,
		Country:        fb.Country,
		Quality:        model.QualityFallback,
		Timestamp:      time.Now(),
		FallbackReason: reason,
	}
}

func (r *Resolver) cacheLocation(ctx context.Context, loc model.Location) {
	data, err := json.Marshal(loc)
	if err != nil {
		log.Printf("[LocationResolver] Warning: marshal location: %v", err)
		return
	}
	_ = r.cache.Set(ctx, currentKey, data, r.cfg.CacheTTL)
}

// enrichInBackground fills City/Country asynchronously. Callers already
// hold usable coordinates; the enriched location re-enters the cache and
// fires the OnEnriched callback when done.
func (r *Resolver) enrichInBackground(loc model.Location) {
	if r.geocoder == nil {
		return
	}

	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				log.Printf("[LocationResolver] Enrichment panicked: %v", rec)
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		place, err := r.geocoder.Reverse(ctx, loc.Latitude, loc.Longitude)
		if err != nil {
			log.Printf("[LocationResolver] Enrichment degraded: %v", err)
			return
		}
		loc.City = place.City
		loc.Country = place.Country
		r.cacheLocation(ctx, loc)

		r.mu.RLock()
		fn := r.onEnriched
		r.mu.RUnlock()
		if fn != nil {
			fn(loc)
		}
	}()
}
