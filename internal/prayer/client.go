// Package prayer fetches and serves the daily prayer schedule: an HTTP
// client for the timings API and a long-lived service that owns location
// resolution, caching, the next-prayer countdown and subscriber
// notifications.
package prayer

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"maktaba-api/internal/model"
)

// ScheduleFetchError reports a failed or malformed timings fetch. Unlike
// store and location failures it propagates: there is no safe synthetic
// schedule to fall back to.
type ScheduleFetchError struct {
	Err error
}

func (e *ScheduleFetchError) Error() string {
	return fmt.Sprintf("schedule fetch: %v", e.Err)
}

func (e *ScheduleFetchError) Unwrap() error { return e.Err }

// ClientConfig holds timings API settings.
type ClientConfig struct {
	// BaseURL is the API root, e.g. "https://api.aladhan.com/v1".
	BaseURL string
	// Method is the calculation method passed through to the API.
	Method int
	// Timeout bounds one request.
	Timeout time.Duration
}

// Client calls the Aladhan-style timings API:
// GET <base>/timings/<DD-MM-YYYY>?latitude&longitude&method.
type Client struct {
	cfg  ClientConfig
	http *http.Client
}

// NewClient creates a timings client.
func NewClient(cfg ClientConfig) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &Client{cfg: cfg, http: &http.Client{}}
}

type timingsResponse struct {
	Code int `json:"code"`
	Data struct {
		Timings map[string]string `json:"timings"`
	} `json:"data"`
}

// Timings fetches the schedule for the given calendar day and coordinates.
func (c *Client) Timings(ctx context.Context, date time.Time, lat, lon float64) (model.Schedule, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	q := url.Values{}
	q.Set("latitude", fmt.Sprintf("%f", lat))
	q.Set("longitude", fmt.Sprintf("%f", lon))
	q.Set("method", fmt.Sprintf("%d", c.cfg.Method))
	u := fmt.Sprintf("%s/timings/%s?%s", c.cfg.BaseURL, date.Format("02-01-2006"), q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return model.Schedule{}, &ScheduleFetchError{Err: err}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return model.Schedule{}, &ScheduleFetchError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return model.Schedule{}, &ScheduleFetchError{Err: fmt.Errorf("status %d", resp.StatusCode)}
	}

	var body timingsResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return model.Schedule{}, &ScheduleFetchError{Err: err}
	}
	if body.Code != 200 {
		return model.Schedule{}, &ScheduleFetchError{Err: fmt.Errorf("api code %d", body.Code)}
	}

	schedule := model.Schedule{
		Fajr:    cleanTime(body.Data.Timings["Fajr"]),
		Dhuhr:   cleanTime(body.Data.Timings["Dhuhr"]),
		Asr:     cleanTime(body.Data.Timings["Asr"]),
		Maghrib: cleanTime(body.Data.Timings["Maghrib"]),
		Isha:    cleanTime(body.Data.Timings["Isha"]),
	}
	for _, t := range schedule.Times() {
		if t == "" {
			return model.Schedule{}, &ScheduleFetchError{Err: fmt.Errorf("incomplete timings in response")}
		}
	}
	return schedule, nil
}

// cleanTime strips timezone suffixes like "05:01 (EET)" down to "HH:MM".
func cleanTime(s string) string {
	if i := strings.IndexByte(s, ' '); i > 0 {
		s = s[:i]
	}
	return s
}
