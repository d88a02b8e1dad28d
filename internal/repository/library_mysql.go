package repository

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"maktaba-api/internal/model"

	_ "github.com/go-sql-driver/mysql"
)

// MySQLLibraryRepository implements LibraryRepository using MySQL.
type MySQLLibraryRepository struct {
	db *sql.DB
}

// NewMySQLLibraryRepository connects to MySQL and verifies the connection.
func NewMySQLLibraryRepository(dsn string) (*MySQLLibraryRepository, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open MySQL: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping MySQL: %w", err)
	}

	log.Printf("[LibraryRepository] MySQL connection established")
	return &MySQLLibraryRepository{db: db}, nil
}

// ListInstitutions returns all institutions ordered by name.
func (r *MySQLLibraryRepository) ListInstitutions(ctx context.Context) ([]model.Institution, error) {
	query := `SELECT id, slug, name, country, created_at FROM institutions ORDER BY name`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list institutions: %w", err)
	}
	defer rows.Close()

	var out []model.Institution
	for rows.Next() {
		var inst model.Institution
		var country sql.NullString
		if err := rows.Scan(&inst.ID, &inst.Slug, &inst.Name, &country, &inst.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan institution: %w", err)
		}
		inst.Country = country.String
		out = append(out, inst)
	}
	return out, rows.Err()
}

// ListJurisdictions returns the jurisdictions of one institution.
func (r *MySQLLibraryRepository) ListJurisdictions(ctx context.Context, institutionID int64) ([]model.Jurisdiction, error) {
	query := `SELECT id, institution_id, slug, name FROM jurisdictions WHERE institution_id = ? ORDER BY name`

	rows, err := r.db.QueryContext(ctx, query, institutionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list jurisdictions: %w", err)
	}
	defer rows.Close()

	var out []model.Jurisdiction
	for rows.Next() {
		var j model.Jurisdiction
		if err := rows.Scan(&j.ID, &j.InstitutionID, &j.Slug, &j.Name); err != nil {
			return nil, fmt.Errorf("failed to scan jurisdiction: %w", err)
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

const documentColumns = `id, jurisdiction_id, title, summary, file_url, language, featured, published_at`

// ListDocuments returns the documents of one jurisdiction, newest first.
func (r *MySQLLibraryRepository) ListDocuments(ctx context.Context, jurisdictionID int64) ([]model.Document, error) {
	query := `SELECT ` + documentColumns + ` FROM documents WHERE jurisdiction_id = ? ORDER BY published_at DESC`

	rows, err := r.db.QueryContext(ctx, query, jurisdictionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()
	return scanDocuments(rows)
}

// GetDocument returns one document by id, nil when absent.
func (r *MySQLLibraryRepository) GetDocument(ctx context.Context, id int64) (*model.Document, error) {
	query := `SELECT ` + documentColumns + ` FROM documents WHERE id = ? LIMIT 1`

	row := r.db.QueryRowContext(ctx, query, id)
	doc, err := scanDocument(row.Scan)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	return doc, nil
}

// ListFeaturedDocuments returns the carousel documents, newest first.
func (r *MySQLLibraryRepository) ListFeaturedDocuments(ctx context.Context, limit int) ([]model.Document, error) {
	query := `SELECT ` + documentColumns + ` FROM documents WHERE featured = 1 ORDER BY published_at DESC LIMIT ?`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list featured documents: %w", err)
	}
	defer rows.Close()
	return scanDocuments(rows)
}

func scanDocuments(rows *sql.Rows) ([]model.Document, error) {
	var out []model.Document
	for rows.Next() {
		doc, err := scanDocument(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		out = append(out, *doc)
	}
	return out, rows.Err()
}

func scanDocument(scan func(dest ...any) error) (*model.Document, error) {
	var doc model.Document
	var summary, language sql.NullString
	if err := scan(&doc.ID, &doc.JurisdictionID, &doc.Title, &summary,
		&doc.FileURL, &language, &doc.Featured, &doc.PublishedAt); err != nil {
		return nil, err
	}
	doc.Summary = summary.String
	doc.Language = language.String
	return &doc, nil
}

// Close closes the database connection.
func (r *MySQLLibraryRepository) Close() error {
	return r.db.Close()
}
