// ABOUTME: Link database operations
// ABOUTME: Manages which external spreadsheet or CRM object is linked to which company
package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/contactbridge/contactbridge/models"
	"github.com/google/uuid"
)

const linkColumns = "id, company_id, integration, external_object_id, external_tab, field_mapping, direction, active, last_synced_at, last_sync_row_count, created_at, updated_at"

// CreateOrUpdateLink upserts a link keyed by (company_id, external_object_id)
// so linking the same external object twice is idempotent. Re-linking a
// deactivated object reactivates it.
func CreateOrUpdateLink(db *sql.DB, link *models.Link) error {
	if link.ID == uuid.Nil {
		link.ID = uuid.New()
	}
	if link.Direction == "" {
		link.Direction = models.DirectionInbound
	}
	link.Active = true
	now := time.Now()
	link.CreatedAt = now
	link.UpdatedAt = now

	mapping, err := marshalFieldMapping(link.FieldMapping)
	if err != nil {
		return err
	}

	_, err = db.Exec(`
		INSERT INTO links (id, company_id, integration, external_object_id, external_tab, field_mapping, direction, active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, 1, ?, ?)
		ON CONFLICT(company_id, external_object_id) DO UPDATE SET
			integration = excluded.integration,
			external_tab = excluded.external_tab,
			field_mapping = excluded.field_mapping,
			direction = excluded.direction,
			active = 1,
			updated_at = excluded.updated_at
	`, link.ID.String(), link.CompanyID.String(), link.Integration, link.ExternalObjectID,
		link.ExternalTab, mapping, link.Direction, link.CreatedAt, link.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert link: %w", err)
	}

	// The upsert may have kept the original row id; read it back so the
	// caller holds the persisted identity.
	persisted, err := FindLinkByExternalObject(db, link.CompanyID, link.ExternalObjectID)
	if err != nil {
		return err
	}
	if persisted != nil {
		*link = *persisted
	}

	return nil
}

func GetLink(db *sql.DB, id uuid.UUID) (*models.Link, error) {
	row := db.QueryRow(`SELECT `+linkColumns+` FROM links WHERE id = ?`, id.String())

	link, err := scanLink(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return link, nil
}

func FindLinkByExternalObject(db *sql.DB, companyID uuid.UUID, externalObjectID string) (*models.Link, error) {
	row := db.QueryRow(`
		SELECT `+linkColumns+` FROM links
		WHERE company_id = ? AND external_object_id = ?
	`, companyID.String(), externalObjectID)

	link, err := scanLink(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return link, nil
}

func ListActiveLinks(db *sql.DB, companyID uuid.UUID) ([]models.Link, error) {
	rows, err := db.Query(`
		SELECT `+linkColumns+` FROM links
		WHERE company_id = ? AND active = 1
		ORDER BY created_at ASC
	`, companyID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to list links: %w", err)
	}
	defer rows.Close()

	var links []models.Link
	for rows.Next() {
		link, err := scanLink(rows)
		if err != nil {
			return nil, err
		}
		links = append(links, *link)
	}

	return links, rows.Err()
}

// DeactivateLink soft-deletes a link. Sync for a deactivated link is
// refused; its run logs are retained for audit.
func DeactivateLink(db *sql.DB, id uuid.UUID) error {
	_, err := db.Exec(`
		UPDATE links SET active = 0, updated_at = ? WHERE id = ?
	`, time.Now(), id.String())
	return err
}

// TouchLinkSynced records a successful run's timestamp and row count.
func TouchLinkSynced(db *sql.DB, id uuid.UUID, syncedAt time.Time, rowCount int) error {
	_, err := db.Exec(`
		UPDATE links
		SET last_synced_at = ?, last_sync_row_count = ?, updated_at = ?
		WHERE id = ?
	`, syncedAt, rowCount, time.Now(), id.String())
	return err
}

func scanLink(row rowScanner) (*models.Link, error) {
	link := &models.Link{}
	var id, companyID string
	var externalTab, fieldMapping sql.NullString
	var lastSyncedAt sql.NullTime
	var active int

	err := row.Scan(&id, &companyID, &link.Integration, &link.ExternalObjectID,
		&externalTab, &fieldMapping, &link.Direction, &active, &lastSyncedAt,
		&link.LastSyncRowCount, &link.CreatedAt, &link.UpdatedAt)
	if err != nil {
		return nil, err
	}

	link.ID, err = uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("invalid link id %q: %w", id, err)
	}
	link.CompanyID, err = uuid.Parse(companyID)
	if err != nil {
		return nil, fmt.Errorf("invalid company id %q: %w", companyID, err)
	}

	link.ExternalTab = externalTab.String
	link.Active = active != 0
	if lastSyncedAt.Valid {
		link.LastSyncedAt = &lastSyncedAt.Time
	}

	if fieldMapping.Valid && fieldMapping.String != "" {
		if err := json.Unmarshal([]byte(fieldMapping.String), &link.FieldMapping); err != nil {
			return nil, fmt.Errorf("invalid field mapping for link %s: %w", id, err)
		}
	}

	return link, nil
}

func marshalFieldMapping(mapping map[string]string) (string, error) {
	if len(mapping) == 0 {
		return "", nil
	}
	data, err := json.Marshal(mapping)
	if err != nil {
		return "", fmt.Errorf("failed to marshal field mapping: %w", err)
	}
	return string(data), nil
}
