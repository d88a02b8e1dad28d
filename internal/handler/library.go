package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"maktaba-api/internal/service"
	"maktaba-api/pkg/apierror"
	"maktaba-api/pkg/response"
)

// LibraryHandler exposes the document library over HTTP.
type LibraryHandler struct {
	library *service.LibraryService
}

// NewLibraryHandler creates a library handler.
func NewLibraryHandler(library *service.LibraryService) *LibraryHandler {
	return &LibraryHandler{library: library}
}

// ListInstitutions handles GET /api/v1/institutions
func (h *LibraryHandler) ListInstitutions(w http.ResponseWriter, r *http.Request) {
	institutions, err := h.library.Institutions(r.Context())
	if err != nil {
		response.Error(w, apierror.ServiceUnavailable("institutions unavailable"))
		return
	}
	response.OK(w, institutions)
}

// ListJurisdictions handles GET /api/v1/institutions/{institution_id}/jurisdictions
func (h *LibraryHandler) ListJurisdictions(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "institution_id")
	if err != nil {
		response.Error(w, apierror.BadRequest("invalid institution id"))
		return
	}

	jurisdictions, err := h.library.Jurisdictions(r.Context(), id)
	if err != nil {
		response.Error(w, apierror.ServiceUnavailable("jurisdictions unavailable"))
		return
	}
	response.OK(w, jurisdictions)
}

// ListDocuments handles GET /api/v1/jurisdictions/{jurisdiction_id}/documents
func (h *LibraryHandler) ListDocuments(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "jurisdiction_id")
	if err != nil {
		response.Error(w, apierror.BadRequest("invalid jurisdiction id"))
		return
	}

	documents, err := h.library.Documents(r.Context(), id)
	if err != nil {
		response.Error(w, apierror.ServiceUnavailable("documents unavailable"))
		return
	}
	response.OK(w, documents)
}

// GetDocument handles GET /api/v1/documents/{document_id}
func (h *LibraryHandler) GetDocument(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "document_id")
	if err != nil {
		response.Error(w, apierror.BadRequest("invalid document id"))
		return
	}

	doc, err := h.library.Document(r.Context(), id)
	if err != nil {
		response.Error(w, apierror.NotFound("document not found"))
		return
	}
	response.OK(w, doc)
}

// ListFeatured handles GET /api/v1/documents/featured
func (h *LibraryHandler) ListFeatured(w http.ResponseWriter, r *http.Request) {
	limit := 10
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 50 {
			limit = n
		}
	}

	documents, err := h.library.FeaturedDocuments(r.Context(), limit)
	if err != nil {
		response.Error(w, apierror.ServiceUnavailable("featured documents unavailable"))
		return
	}
	response.OK(w, documents)
}

func pathID(r *http.Request, param string) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, param), 10, 64)
}
