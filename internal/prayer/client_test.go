package prayer

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const timingsJSON = `{
	"code": 200,
	"status": "OK",
	"data": {
		"timings": {
			"Fajr": "05:00",
			"Sunrise": "06:30",
			"Dhuhr": "12:00",
			"Asr": "15:30",
			"Maghrib": "18:00",
			"Isha": "19:15"
		}
	}
}`

func TestTimings(t *testing.T) {
	var gotPath string
	var gotQuery map[string][]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.Query()
		w.Write([]byte(timingsJSON))
	}))
	defer srv.Close()

	c := NewClient(ClientConfig{BaseURL: srv.URL, Method: 5})
	date := time.Date(2024, 3, 9, 10, 0, 0, 0, time.UTC)

	schedule, err := c.Timings(context.Background(), date, 30.0444, 31.2357)
	require.NoError(t, err)
	assert.Equal(t, "05:00", schedule.Fajr)
	assert.Equal(t, "12:00", schedule.Dhuhr)
	assert.Equal(t, "15:30", schedule.Asr)
	assert.Equal(t, "18:00", schedule.Maghrib)
	assert.Equal(t, "19:15", schedule.Isha)

	// Date is day-month-year as the API expects.
	assert.Equal(t, "/timings/09-03-2024", gotPath)
	assert.Equal(t, []string{"5"}, gotQuery["method"])
	require.Len(t, gotQuery["latitude"], 1)
}

func TestTimingsStripsTimezoneSuffix(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":200,"data":{"timings":{
			"Fajr":"05:00 (EET)","Dhuhr":"12:00 (EET)","Asr":"15:30 (EET)",
			"Maghrib":"18:00 (EET)","Isha":"19:15 (EET)"}}}`))
	}))
	defer srv.Close()

	c := NewClient(ClientConfig{BaseURL: srv.URL})
	schedule, err := c.Timings(context.Background(), time.Now(), 30, 31)
	require.NoError(t, err)
	assert.Equal(t, "05:00", schedule.Fajr)
	assert.Equal(t, "19:15", schedule.Isha)
}

func TestTimingsAPIErrorCode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":500,"data":{}}`))
	}))
	defer srv.Close()

	c := NewClient(ClientConfig{BaseURL: srv.URL})
	_, err := c.Timings(context.Background(), time.Now(), 30, 31)

	var fetchErr *ScheduleFetchError
	assert.ErrorAs(t, err, &fetchErr)
}

func TestTimingsHTTPFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(ClientConfig{BaseURL: srv.URL})
	_, err := c.Timings(context.Background(), time.Now(), 30, 31)

	var fetchErr *ScheduleFetchError
	assert.ErrorAs(t, err, &fetchErr)
}

func TestTimingsIncompleteResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":200,"data":{"timings":{"Fajr":"05:00"}}}`))
	}))
	defer srv.Close()

	c := NewClient(ClientConfig{BaseURL: srv.URL})
	_, err := c.Timings(context.Background(), time.Now(), 30, 31)

	var fetchErr *ScheduleFetchError
	assert.ErrorAs(t, err, &fetchErr)
}
