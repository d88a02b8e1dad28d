package handler

import (
	"net/http"

	"maktaba-api/internal/prayer"
	"maktaba-api/pkg/apierror"
	"maktaba-api/pkg/response"
)

// PrayerHandler exposes the prayer-times oracle over HTTP.
type PrayerHandler struct {
	oracle *prayer.Service
}

// NewPrayerHandler creates a prayer handler.
func NewPrayerHandler(oracle *prayer.Service) *PrayerHandler {
	return &PrayerHandler{oracle: oracle}
}

// GetState handles GET /api/v1/prayer/state
func (h *PrayerHandler) GetState(w http.ResponseWriter, r *http.Request) {
	response.OK(w, h.oracle.State())
}

// GetNext handles GET /api/v1/prayer/next
func (h *PrayerHandler) GetNext(w http.ResponseWriter, r *http.Request) {
	snap := h.oracle.State()
	if snap.NextPrayer == nil {
		response.Error(w, apierror.NotFound("prayer times unavailable"))
		return
	}
	response.OK(w, snap.NextPrayer)
}

// Refresh handles POST /api/v1/prayer/refresh - forces a re-resolution of
// the location and a re-fetch of today's schedule. A fetch failure still
// returns the current state so stale data keeps rendering.
func (h *PrayerHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	if err := h.oracle.Refresh(r.Context()); err != nil {
		response.JSON(w, http.StatusBadGateway, h.oracle.State())
		return
	}
	response.OK(w, h.oracle.State())
}

// Wake handles POST /api/v1/prayer/wake - the client tab became visible
// again; re-check the calendar day and schedule freshness.
func (h *PrayerHandler) Wake(w http.ResponseWriter, r *http.Request) {
	h.oracle.Wake(r.Context())
	response.OK(w, h.oracle.State())
}
