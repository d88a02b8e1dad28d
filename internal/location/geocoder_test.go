package location

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"maktaba-api/internal/cache"
)

func geocoderFixture(t *testing.T, relays []string) *Geocoder {
	t.Helper()
	return NewGeocoder(GeocoderConfig{
		ReverseURL:     "https://geocode.example/reverse",
		Relays:         relays,
		AttemptTimeout: time.Second,
	}, cache.NewTiered(nil))
}

const addressJSON = `{"address":{"city":"Cairo","country":"Egypt"}}`

func TestReverseFirstRelayWins(t *testing.T) {
	var first, second atomic.Int32
	srvA := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		first.Add(1)
		w.Write([]byte(addressJSON))
	}))
	defer srvA.Close()
	srvB := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		second.Add(1)
		w.Write([]byte(addressJSON))
	}))
	defer srvB.Close()

	g := geocoderFixture(t, []string{srvA.URL + "/?u=", srvB.URL + "/?u="})

	place, err := g.Reverse(context.Background(), 30.0444, 31.2357)
	require.NoError(t, err)
	assert.Equal(t, "Cairo", place.City)
	assert.Equal(t, "Egypt", place.Country)
	assert.Equal(t, int32(1), first.Load())
	assert.Equal(t, int32(0), second.Load())
}

func TestReverseAdvancesPastFailingRelay(t *testing.T) {
	srvBad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srvBad.Close()
	srvGood := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(addressJSON))
	}))
	defer srvGood.Close()

	g := geocoderFixture(t, []string{srvBad.URL + "/?u=", srvGood.URL + "/?u="})

	place, err := g.Reverse(context.Background(), 30.0444, 31.2357)
	require.NoError(t, err)
	assert.Equal(t, "Cairo", place.City)
}

func TestReverseExhaustionReturnsUnknownUncached(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	g := geocoderFixture(t, []string{srv.URL + "/?u="})

	place, err := g.Reverse(context.Background(), 30.0444, 31.2357)
	var geoErr *GeocodingError
	require.ErrorAs(t, err, &geoErr)
	assert.Equal(t, "Unknown", place.City)
	assert.Equal(t, "Unknown", place.Country)

	// The negative result was not cached: a retry hits the relay again.
	_, err = g.Reverse(context.Background(), 30.0444, 31.2357)
	require.Error(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestReverseCachesSuccess(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte(addressJSON))
	}))
	defer srv.Close()

	g := geocoderFixture(t, []string{srv.URL + "/?u="})
	ctx := context.Background()

	_, err := g.Reverse(ctx, 30.0444, 31.2357)
	require.NoError(t, err)

	// Coordinates inside the same 4-decimal cell share the cached entry.
	place, err := g.Reverse(ctx, 30.04441, 31.23571)
	require.NoError(t, err)
	assert.Equal(t, "Cairo", place.City)
	assert.Equal(t, int32(1), calls.Load())
}

func TestReverseTownFallsBackWhenNoCity(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"address":{"town":"Zamalek","country":"Egypt"}}`))
	}))
	defer srv.Close()

	g := geocoderFixture(t, []string{srv.URL + "/?u="})

	place, err := g.Reverse(context.Background(), 30.06, 31.22)
	require.NoError(t, err)
	assert.Equal(t, "Zamalek", place.City)
}
