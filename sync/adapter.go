// ABOUTME: Source adapter and outbound target interfaces
// ABOUTME: Defines the normalized record shape every provider adapter produces
package sync

import (
	"context"

	"github.com/contactbridge/contactbridge/models"
)

// ExternalRecord is the normalized form of one external row or object.
// It exists only for the duration of a run.
type ExternalRecord struct {
	// ExternalID is the provider-assigned id (CRM object id, or the data
	// row number for spreadsheets). Drives selective sync; persisted as a
	// contact mapping only when the adapter's ids are stable.
	ExternalID string

	// MatchKey is the normalized phone number, the durable identity of a
	// contact within a company. Records with an empty match key cannot be
	// reconciled and are counted as skipped.
	MatchKey string

	// Fields holds canonical field names (phone, name, email, company,
	// notes) mapped to values.
	Fields map[string]string
}

// SourceAdapter reads an external system's records into normalized form.
// Implementations must be idempotent-readable: repeated calls with the
// same selector return the same logical data modulo external changes.
type SourceAdapter interface {
	// Name is the integration tag, also used as the source of contacts
	// the adapter creates.
	Name() string

	// StableIDs reports whether external ids identify the same record
	// across runs. CRM object ids are stable; spreadsheet row numbers are
	// positional and shift when rows are inserted or deleted, so they are
	// never persisted as contact mappings and never consulted for match
	// resolution.
	StableIDs() bool

	// ListRecords fetches records for a link. When ids is non-empty only
	// those external ids are fetched (selective sync).
	ListRecords(ctx context.Context, link *models.Link, ids []string) ([]ExternalRecord, error)
}

// OutboundTarget writes internal contacts back out to the external system.
// Only adapters for writable providers (spreadsheets) implement it.
type OutboundTarget interface {
	// WriteAll replaces the external content with the given contacts and
	// returns the number of data rows written.
	WriteAll(ctx context.Context, link *models.Link, contacts []models.Contact) (int, error)

	// WriteOne upserts a single contact by phone match.
	WriteOne(ctx context.Context, link *models.Link, contact *models.Contact) error
}
