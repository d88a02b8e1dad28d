// Package location acquires the user's geographic position through a
// prioritized fallback chain and enriches it with a reverse-geocoded place
// name. A failed chain never surfaces an error: it degrades to an expired
// cached position, then to the hardcoded default.
package location

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/goccy/go-json"
)

// Position is a raw sensor fix.
type Position struct {
	Latitude  float64
	Longitude float64
}

// Options bound a sensor acquisition.
type Options struct {
	HighAccuracy bool
	Timeout      time.Duration
	MaxAge       time.Duration
}

// Sensor is the device-position collaborator. Production uses IPSensor;
// tests substitute fakes.
type Sensor interface {
	CurrentPosition(ctx context.Context, opts Options) (Position, error)
}

// Sensor failure reasons, mirrored into LocationError.Reason.
const (
	ReasonPermissionDenied = "permission_denied"
	ReasonTimeout          = "timeout"
	ReasonUnavailable      = "position_unavailable"
)

// LocationError reports a failed sensor acquisition. It never reaches the
// UI: the resolver absorbs it into the fallback chain.
type LocationError struct {
	Reason string
	Err    error
}

func (e *LocationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("location %s: %v", e.Reason, e.Err)
	}
	return "location " + e.Reason
}

func (e *LocationError) Unwrap() error { return e.Err }

// IPSensor resolves a coarse position from the caller's public IP. It is
// the service-side stand-in for a device GPS: fast, low accuracy, no
// permissions involved.
type IPSensor struct {
	Endpoint string
	Client   *http.Client
}

// NewIPSensor creates an IP-based sensor against the given endpoint
// (ip-api.com compatible JSON shape).
func NewIPSensor(endpoint string) *IPSensor {
	return &IPSensor{
		Endpoint: endpoint,
		Client:   &http.Client{},
	}
}

type ipAPIResponse struct {
	Status  string  `json:"status"`
	Message string  `json:"message"`
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
}

// CurrentPosition queries the IP-geolocation endpoint within opts.Timeout.
func (s *IPSensor) CurrentPosition(ctx context.Context, opts Options) (Position, error) {
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.Endpoint, nil)
	if err != nil {
		return Position{}, &LocationError{Reason: ReasonUnavailable, Err: err}
	}

	resp, err := s.Client.Do(req)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return Position{}, &LocationError{Reason: ReasonTimeout, Err: err}
		}
		return Position{}, &LocationError{Reason: ReasonUnavailable, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusTooManyRequests {
		return Position{}, &LocationError{Reason: ReasonPermissionDenied, Err: fmt.Errorf("status %d", resp.StatusCode)}
	}
	if resp.StatusCode != http.StatusOK {
		return Position{}, &LocationError{Reason: ReasonUnavailable, Err: fmt.Errorf("status %d", resp.StatusCode)}
	}

	var body ipAPIResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Position{}, &LocationError{Reason: ReasonUnavailable, Err: err}
	}
	if body.Status != "success" {
		return Position{}, &LocationError{Reason: ReasonUnavailable, Err: fmt.Errorf("lookup failed: %s", body.Message)}
	}

	return Position{Latitude: body.Lat, Longitude: body.Lon}, nil
}

// relayURL wraps a target URL in a CORS-style relay prefix. An empty relay
// means a direct call.
func relayURL(relay, target string) string {
	if relay == "" {
		return target
	}
	return relay + url.QueryEscape(target)
}
