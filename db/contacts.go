// ABOUTME: Contact database operations
// ABOUTME: Handles CRUD, batched phone lookups, and bulk inserts for sync runs
package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/contactbridge/contactbridge/models"
	"github.com/google/uuid"
)

const contactColumns = "id, company_id, phone_number, name, email, company_name, notes, source, custom_fields, created_at, updated_at"

// updatableContactColumns are the only columns UpdateContactFields will touch.
// company_id is the match scope, never a mutable attribute.
var updatableContactColumns = map[string]bool{
	"phone_number":  true,
	"name":          true,
	"email":         true,
	"company_name":  true,
	"notes":         true,
	"source":        true,
	"custom_fields": true,
}

func CreateContact(db *sql.DB, contact *models.Contact) error {
	if contact.ID == uuid.Nil {
		contact.ID = uuid.New()
	}
	now := time.Now()
	contact.CreatedAt = now
	contact.UpdatedAt = now

	custom, err := marshalCustomFields(contact.CustomFields)
	if err != nil {
		return err
	}

	_, err = db.Exec(`
		INSERT INTO contacts (`+contactColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, contact.ID.String(), contact.CompanyID.String(), contact.PhoneNumber, contact.Name,
		contact.Email, contact.CompanyName, contact.Notes, contact.Source, custom,
		contact.CreatedAt, contact.UpdatedAt)

	return err
}

// BulkInsertContacts inserts a batch in a single statement. The whole
// statement fails if any row violates a constraint; callers retry row by
// row to isolate the bad row.
func BulkInsertContacts(db *sql.DB, contacts []*models.Contact) error {
	if len(contacts) == 0 {
		return nil
	}

	now := time.Now()
	placeholders := make([]string, 0, len(contacts))
	args := make([]interface{}, 0, len(contacts)*11)

	for _, c := range contacts {
		if c.ID == uuid.Nil {
			c.ID = uuid.New()
		}
		c.CreatedAt = now
		c.UpdatedAt = now

		custom, err := marshalCustomFields(c.CustomFields)
		if err != nil {
			return err
		}

		placeholders = append(placeholders, "(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)")
		args = append(args, c.ID.String(), c.CompanyID.String(), c.PhoneNumber, c.Name,
			c.Email, c.CompanyName, c.Notes, c.Source, custom, c.CreatedAt, c.UpdatedAt)
	}

	query := "INSERT INTO contacts (" + contactColumns + ") VALUES " + strings.Join(placeholders, ", ")
	_, err := db.Exec(query, args...)
	return err
}

func GetContact(db *sql.DB, id uuid.UUID) (*models.Contact, error) {
	row := db.QueryRow(`SELECT `+contactColumns+` FROM contacts WHERE id = ?`, id.String())

	contact, err := scanContact(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return contact, nil
}

// FindContactsByPhones resolves a batch of normalized phone numbers in one
// query, keyed by phone number. Phones with no match are absent from the map.
func FindContactsByPhones(db *sql.DB, companyID uuid.UUID, phones []string) (map[string]*models.Contact, error) {
	matches := make(map[string]*models.Contact)
	if len(phones) == 0 {
		return matches, nil
	}

	placeholders := make([]string, len(phones))
	args := make([]interface{}, 0, len(phones)+1)
	args = append(args, companyID.String())
	for i, p := range phones {
		placeholders[i] = "?"
		args = append(args, p)
	}

	rows, err := db.Query(`
		SELECT `+contactColumns+` FROM contacts
		WHERE company_id = ? AND phone_number IN (`+strings.Join(placeholders, ", ")+`)
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query contacts by phone: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		contact, err := scanContact(rows)
		if err != nil {
			return nil, err
		}
		matches[contact.PhoneNumber] = contact
	}

	return matches, rows.Err()
}

// GetContactsByIDs loads a batch of contacts in one query, keyed by id.
func GetContactsByIDs(db *sql.DB, ids []uuid.UUID) (map[uuid.UUID]*models.Contact, error) {
	matches := make(map[uuid.UUID]*models.Contact)
	if len(ids) == 0 {
		return matches, nil
	}

	placeholders := make([]string, len(ids))
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id.String()
	}

	rows, err := db.Query(`
		SELECT `+contactColumns+` FROM contacts
		WHERE id IN (`+strings.Join(placeholders, ", ")+`)
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query contacts by id: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		contact, err := scanContact(rows)
		if err != nil {
			return nil, err
		}
		matches[contact.ID] = contact
	}

	return matches, rows.Err()
}

func ListContactsByCompany(db *sql.DB, companyID uuid.UUID) ([]models.Contact, error) {
	rows, err := db.Query(`
		SELECT `+contactColumns+` FROM contacts
		WHERE company_id = ?
		ORDER BY created_at ASC
	`, companyID.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var contacts []models.Contact
	for rows.Next() {
		contact, err := scanContact(rows)
		if err != nil {
			return nil, err
		}
		contacts = append(contacts, *contact)
	}

	return contacts, rows.Err()
}

// UpdateContactFields applies a partial update. Keys must be updatable
// column names; anything else is rejected rather than silently dropped.
func UpdateContactFields(db *sql.DB, id uuid.UUID, fields map[string]string) error {
	if len(fields) == 0 {
		return nil
	}

	setClauses := make([]string, 0, len(fields)+1)
	args := make([]interface{}, 0, len(fields)+2)

	for column, value := range fields {
		if !updatableContactColumns[column] {
			return fmt.Errorf("column %q is not updatable", column)
		}
		setClauses = append(setClauses, column+" = ?")
		args = append(args, value)
	}

	setClauses = append(setClauses, "updated_at = ?")
	args = append(args, time.Now(), id.String())

	_, err := db.Exec(`UPDATE contacts SET `+strings.Join(setClauses, ", ")+` WHERE id = ?`, args...)
	return err
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanContact(row rowScanner) (*models.Contact, error) {
	contact := &models.Contact{}
	var id, companyID string
	var name, email, companyName, notes, custom sql.NullString

	err := row.Scan(&id, &companyID, &contact.PhoneNumber, &name, &email, &companyName,
		&notes, &contact.Source, &custom, &contact.CreatedAt, &contact.UpdatedAt)
	if err != nil {
		return nil, err
	}

	contact.ID, err = uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("invalid contact id %q: %w", id, err)
	}
	contact.CompanyID, err = uuid.Parse(companyID)
	if err != nil {
		return nil, fmt.Errorf("invalid company id %q: %w", companyID, err)
	}

	contact.Name = name.String
	contact.Email = email.String
	contact.CompanyName = companyName.String
	contact.Notes = notes.String

	if custom.Valid && custom.String != "" {
		if err := json.Unmarshal([]byte(custom.String), &contact.CustomFields); err != nil {
			return nil, fmt.Errorf("invalid custom fields for contact %s: %w", id, err)
		}
	}

	return contact, nil
}

func marshalCustomFields(fields map[string]string) (string, error) {
	if len(fields) == 0 {
		return "", nil
	}
	data, err := json.Marshal(fields)
	if err != nil {
		return "", fmt.Errorf("failed to marshal custom fields: %w", err)
	}
	return string(data), nil
}
