package service

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"maktaba-api/internal/cache"
	"maktaba-api/internal/cachekey"
	"maktaba-api/internal/model"
	"maktaba-api/internal/repository"
)

// LibraryTTL bounds how long library listings serve from cache. Reads go
// through stale-while-revalidate, so an aging listing still answers
// instantly while a refresh runs behind it.
const LibraryTTL = 15 * time.Minute

// LibraryService serves the document library with all reads routed through
// the tiered cache under the library namespace.
type LibraryService struct {
	repo  repository.LibraryRepository
	cache *cache.Tiered
}

// NewLibraryService creates a library service. repo may be nil: the service
// then errors on uncached reads but still serves whatever the cache holds.
func NewLibraryService(repo repository.LibraryRepository, c *cache.Tiered) *LibraryService {
	return &LibraryService{repo: repo, cache: c}
}

// Institutions lists all institutions.
func (s *LibraryService) Institutions(ctx context.Context) ([]model.Institution, error) {
	return cachedList[model.Institution](ctx, s, cachekey.Make(cachekey.NamespaceLibrary, "institutions"),
		func(ctx context.Context) ([]model.Institution, error) {
			return s.repo.ListInstitutions(ctx)
		})
}

// Jurisdictions lists the jurisdictions of one institution.
func (s *LibraryService) Jurisdictions(ctx context.Context, institutionID int64) ([]model.Jurisdiction, error) {
	return cachedList[model.Jurisdiction](ctx, s, cachekey.Make(cachekey.NamespaceLibrary, "jurisdictions", institutionID),
		func(ctx context.Context) ([]model.Jurisdiction, error) {
			return s.repo.ListJurisdictions(ctx, institutionID)
		})
}

// Documents lists the documents of one jurisdiction.
func (s *LibraryService) Documents(ctx context.Context, jurisdictionID int64) ([]model.Document, error) {
	return cachedList[model.Document](ctx, s, cachekey.Make(cachekey.NamespaceLibrary, "documents", jurisdictionID),
		func(ctx context.Context) ([]model.Document, error) {
			return s.repo.ListDocuments(ctx, jurisdictionID)
		})
}

// FeaturedDocuments lists the carousel documents.
func (s *LibraryService) FeaturedDocuments(ctx context.Context, limit int) ([]model.Document, error) {
	return cachedList[model.Document](ctx, s, cachekey.Make(cachekey.NamespaceLibrary, "featured", limit),
		func(ctx context.Context) ([]model.Document, error) {
			return s.repo.ListFeaturedDocuments(ctx, limit)
		})
}

// Document returns one document by id.
func (s *LibraryService) Document(ctx context.Context, id int64) (*model.Document, error) {
	if s.repo == nil {
		return nil, fmt.Errorf("library repository unavailable")
	}

	key := cachekey.Make(cachekey.NamespaceLibrary, "document", id)
	data, err := s.cache.GetOrFetchStale(ctx, key, LibraryTTL, 0, func(ctx context.Context) ([]byte, error) {
		doc, err := s.repo.GetDocument(ctx, id)
		if err != nil {
			return nil, err
		}
		if doc == nil {
			return nil, fmt.Errorf("document %d not found", id)
		}
		return json.Marshal(doc)
	})
	if err != nil {
		return nil, err
	}

	var doc model.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// Invalidate drops every cached library listing, for use after an import.
func (s *LibraryService) Invalidate(ctx context.Context) error {
	return s.cache.InvalidateNamespace(ctx, cachekey.NamespaceLibrary)
}

func cachedList[T any](ctx context.Context, s *LibraryService, key string, fetch func(context.Context) ([]T, error)) ([]T, error) {
	if s.repo == nil {
		// Degraded mode: serve the cache or nothing.
		data, err := s.cache.Get(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("library repository unavailable")
		}
		var out []T
		if err := json.Unmarshal(data, &out); err != nil {
			return nil, err
		}
		return out, nil
	}

	data, err := s.cache.GetOrFetchStale(ctx, key, LibraryTTL, 0, func(ctx context.Context) ([]byte, error) {
		items, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		return json.Marshal(items)
	})
	if err != nil {
		return nil, err
	}

	var out []T
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}
