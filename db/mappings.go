// ABOUTME: Contact mapping database operations
// ABOUTME: Bridges external object ids to internal contact ids per integration link
package db

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// UpsertContactMapping records that an external object id maps to an
// internal contact, refreshing last_synced_at on conflict.
func UpsertContactMapping(db *sql.DB, linkID uuid.UUID, externalID string, contactID uuid.UUID) error {
	_, err := db.Exec(`
		INSERT INTO contact_mappings (link_id, external_id, contact_id, last_synced_at)
		VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(link_id, external_id) DO UPDATE SET
			contact_id = excluded.contact_id,
			last_synced_at = CURRENT_TIMESTAMP
	`, linkID.String(), externalID, contactID.String())

	if err != nil {
		if isMissingTable(err) {
			return nil
		}
		return fmt.Errorf("failed to upsert contact mapping: %w", err)
	}

	return nil
}

// FindContactIDByExternalID returns uuid.Nil when no mapping exists.
func FindContactIDByExternalID(db *sql.DB, linkID uuid.UUID, externalID string) (uuid.UUID, error) {
	var contactID string
	err := db.QueryRow(`
		SELECT contact_id FROM contact_mappings
		WHERE link_id = ? AND external_id = ?
	`, linkID.String(), externalID).Scan(&contactID)

	if err == sql.ErrNoRows {
		return uuid.Nil, nil
	}
	if err != nil {
		if isMissingTable(err) {
			return uuid.Nil, nil
		}
		return uuid.Nil, fmt.Errorf("failed to look up contact mapping: %w", err)
	}

	id, err := uuid.Parse(contactID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid contact id %q in mapping: %w", contactID, err)
	}
	return id, nil
}

// FindContactIDsByExternalIDs resolves a batch of external ids in one query,
// keyed by external id. Unmapped ids are absent from the map.
func FindContactIDsByExternalIDs(db *sql.DB, linkID uuid.UUID, externalIDs []string) (map[string]uuid.UUID, error) {
	mappings := make(map[string]uuid.UUID)
	if len(externalIDs) == 0 {
		return mappings, nil
	}

	placeholders := make([]string, len(externalIDs))
	args := make([]interface{}, 0, len(externalIDs)+1)
	args = append(args, linkID.String())
	for i, id := range externalIDs {
		placeholders[i] = "?"
		args = append(args, id)
	}

	rows, err := db.Query(`
		SELECT external_id, contact_id FROM contact_mappings
		WHERE link_id = ? AND external_id IN (`+strings.Join(placeholders, ", ")+`)
	`, args...)
	if err != nil {
		if isMissingTable(err) {
			return mappings, nil
		}
		return nil, fmt.Errorf("failed to query contact mappings: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var externalID, contactID string
		if err := rows.Scan(&externalID, &contactID); err != nil {
			return nil, err
		}
		id, err := uuid.Parse(contactID)
		if err != nil {
			return nil, fmt.Errorf("invalid contact id %q in mapping: %w", contactID, err)
		}
		mappings[externalID] = id
	}

	return mappings, rows.Err()
}

// isMissingTable detects deployments that predate the contact_mappings
// migration; the engine degrades to phone-match-only mode rather than
// failing the run.
func isMissingTable(err error) bool {
	return err != nil && strings.Contains(err.Error(), "no such table")
}
