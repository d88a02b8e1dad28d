package model

import "time"

// Institution is a publishing body whose documents the library carries.
type Institution struct {
	ID        int64     `json:"id"`
	Slug      string    `json:"slug"`
	Name      string    `json:"name"`
	Country   string    `json:"country,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Jurisdiction is a legal/regional grouping under an institution.
type Jurisdiction struct {
	ID            int64  `json:"id"`
	InstitutionID int64  `json:"institution_id"`
	Slug          string `json:"slug"`
	Name          string `json:"name"`
}

// Document is one library entry.
type Document struct {
	ID             int64     `json:"id"`
	JurisdictionID int64     `json:"jurisdiction_id"`
	Title          string    `json:"title"`
	Summary        string    `json:"summary,omitempty"`
	FileURL        string    `json:"file_url"`
	Language       string    `json:"language,omitempty"`
	Featured       bool      `json:"featured"`
	PublishedAt    time.Time `json:"published_at"`
}
