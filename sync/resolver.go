// ABOUTME: Match resolution between external records and internal contacts
// ABOUTME: Resolves whole batches with single queries to keep large imports tractable
package sync

import (
	"database/sql"
	"fmt"

	"github.com/contactbridge/contactbridge/db"
	"github.com/contactbridge/contactbridge/models"
	"github.com/google/uuid"
)

type MatchResolver struct {
	db *sql.DB
}

func NewMatchResolver(database *sql.DB) *MatchResolver {
	return &MatchResolver{db: database}
}

// ResolveBatch finds the existing contact for each record in a batch, or
// nil where no match exists. When useMappings is true, contact mappings by
// external id are consulted first (authoritative); records never mapped
// before fall back to the phone-number match. Adapters with positional ids
// pass false and resolve by phone only. Each lookup is one query for the
// whole batch, never one per record.
func (r *MatchResolver) ResolveBatch(link *models.Link, records []ExternalRecord, useMappings bool) ([]*models.Contact, error) {
	resolved := make([]*models.Contact, len(records))
	if len(records) == 0 {
		return resolved, nil
	}

	mapped := map[string]uuid.UUID{}
	byID := map[uuid.UUID]*models.Contact{}

	if useMappings {
		externalIDs := make([]string, 0, len(records))
		for _, rec := range records {
			if rec.ExternalID != "" {
				externalIDs = append(externalIDs, rec.ExternalID)
			}
		}

		var err error
		mapped, err = db.FindContactIDsByExternalIDs(r.db, link.ID, externalIDs)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve contact mappings: %w", err)
		}

		contactIDs := make([]uuid.UUID, 0, len(mapped))
		for _, id := range mapped {
			contactIDs = append(contactIDs, id)
		}
		byID, err = db.GetContactsByIDs(r.db, contactIDs)
		if err != nil {
			return nil, fmt.Errorf("failed to load mapped contacts: %w", err)
		}
	}

	// Phone fallback for everything the mapping table didn't cover.
	phones := make([]string, 0, len(records))
	for i, rec := range records {
		if id, ok := mapped[rec.ExternalID]; ok && rec.ExternalID != "" {
			if contact, ok := byID[id]; ok {
				resolved[i] = contact
				continue
			}
		}
		if rec.MatchKey != "" {
			phones = append(phones, rec.MatchKey)
		}
	}

	byPhone, err := db.FindContactsByPhones(r.db, link.CompanyID, phones)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve contacts by phone: %w", err)
	}

	for i, rec := range records {
		if resolved[i] != nil {
			continue
		}
		contact, ok := byPhone[rec.MatchKey]
		if !ok {
			continue
		}
		// One pointer per contact across the batch, whichever lookup
		// found it, so in-batch updates fold into a single snapshot.
		if prior, ok := byID[contact.ID]; ok {
			contact = prior
		}
		resolved[i] = contact
	}

	return resolved, nil
}
