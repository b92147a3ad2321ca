// ABOUTME: Generic CRM source adapter over typed provider records
// ABOUTME: Converts provider objects into normalized records at the adapter boundary
package sync

import (
	"context"
	"fmt"

	"github.com/contactbridge/contactbridge/models"
)

// CRMRecord is the typed shape a provider client decodes its API payloads
// into. The engine never sees provider JSON; decoding happens once, here
// at the boundary.
type CRMRecord struct {
	ID      string
	Name    string
	Email   string
	Phone   string
	Company string
	Notes   string
}

// CRMClient fetches contact-like objects from one provider. The HTTP
// client behind it (auth, retries, rate limits) is an external
// collaborator; implementations wrap it per provider.
type CRMClient interface {
	// ListContacts returns all records, or only the given ids when ids
	// is non-empty.
	ListContacts(ctx context.Context, ids []string) ([]CRMRecord, error)
}

// CRMAdapter adapts any CRMClient to the engine's SourceAdapter interface.
// One instance per provider, tagged with the provider name ("salesforce",
// "hubspot", ...) which becomes the source of contacts it creates.
type CRMAdapter struct {
	name   string
	client CRMClient
}

func NewCRMAdapter(name string, client CRMClient) *CRMAdapter {
	return &CRMAdapter{name: name, client: client}
}

func (a *CRMAdapter) Name() string {
	return a.name
}

// StableIDs is true: provider object ids survive across runs, so they are
// persisted as contact mappings and consulted before the phone match.
func (a *CRMAdapter) StableIDs() bool {
	return true
}

func (a *CRMAdapter) ListRecords(ctx context.Context, link *models.Link, ids []string) ([]ExternalRecord, error) {
	crmRecords, err := a.client.ListContacts(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s contacts: %w", a.name, err)
	}

	records := make([]ExternalRecord, 0, len(crmRecords))
	for _, r := range crmRecords {
		records = append(records, convertCRMRecord(r))
	}

	return records, nil
}

// convertCRMRecord maps one typed provider record to the canonical shape.
func convertCRMRecord(r CRMRecord) ExternalRecord {
	fields := make(map[string]string)
	if r.Phone != "" {
		fields[FieldPhone] = r.Phone
	}
	if r.Name != "" {
		fields[FieldName] = r.Name
	}
	if r.Email != "" {
		fields[FieldEmail] = r.Email
	}
	if r.Company != "" {
		fields[FieldCompany] = r.Company
	}
	if r.Notes != "" {
		fields[FieldNotes] = r.Notes
	}

	return ExternalRecord{
		ExternalID: r.ID,
		MatchKey:   NormalizePhone(r.Phone),
		Fields:     fields,
	}
}
