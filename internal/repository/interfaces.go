package repository

import (
	"context"

	"maktaba-api/internal/model"
)

// LibraryRepository defines document-library data access methods.
// From the cache core's point of view the library is an opaque remote table
// store: an async data source whose responses get cached upstream.
type LibraryRepository interface {
	// ListInstitutions returns all institutions ordered by name.
	ListInstitutions(ctx context.Context) ([]model.Institution, error)

	// ListJurisdictions returns the jurisdictions of one institution.
	ListJurisdictions(ctx context.Context, institutionID int64) ([]model.Jurisdiction, error)

	// ListDocuments returns the documents of one jurisdiction, newest first.
	ListDocuments(ctx context.Context, jurisdictionID int64) ([]model.Document, error)

	// GetDocument returns one document by id.
	GetDocument(ctx context.Context, id int64) (*model.Document, error)

	// ListFeaturedDocuments returns the carousel documents, newest first.
	ListFeaturedDocuments(ctx context.Context, limit int) ([]model.Document, error)

	// Close closes the repository connection.
	Close() error
}
