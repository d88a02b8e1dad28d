package handler

import (
	"net/http"

	"maktaba-api/internal/cache"
	"maktaba-api/pkg/apierror"
	"maktaba-api/pkg/response"
)

// AdminHandler exposes cache diagnostics and maintenance operations.
type AdminHandler struct {
	cache *cache.Tiered
}

// NewAdminHandler creates an admin handler.
func NewAdminHandler(c *cache.Tiered) *AdminHandler {
	return &AdminHandler{cache: c}
}

// GetCacheStats handles GET /api/v1/admin/cache/stats
func (h *AdminHandler) GetCacheStats(w http.ResponseWriter, r *http.Request) {
	response.OK(w, h.cache.Stats(r.Context()))
}

// SweepCache handles POST /api/v1/admin/cache/sweep
func (h *AdminHandler) SweepCache(w http.ResponseWriter, r *http.Request) {
	removed, err := h.cache.ClearExpired(r.Context())
	if err != nil {
		response.Error(w, apierror.InternalError("cache sweep failed"))
		return
	}
	response.OK(w, map[string]int{"removed": removed})
}

// InvalidateNamespace handles POST /api/v1/admin/cache/invalidate?namespace=
func (h *AdminHandler) InvalidateNamespace(w http.ResponseWriter, r *http.Request) {
	namespace := r.URL.Query().Get("namespace")
	if namespace == "" {
		response.Error(w, apierror.BadRequest("namespace query parameter is required"))
		return
	}

	if err := h.cache.InvalidateNamespace(r.Context(), namespace); err != nil {
		response.Error(w, apierror.InternalError("namespace invalidation failed"))
		return
	}
	response.NoContent(w)
}
