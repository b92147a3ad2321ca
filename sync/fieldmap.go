// ABOUTME: Field mapping resolution for tabular sources
// ABOUTME: Resolves which external column holds each canonical contact field
package sync

import (
	"errors"
	"strings"
)

// Canonical contact fields the engine understands.
const (
	FieldPhone   = "phone"
	FieldName    = "name"
	FieldEmail   = "email"
	FieldCompany = "company"
	FieldNotes   = "notes"
)

// ErrMissingPhoneField is returned when no external column can be resolved
// for the phone field. Phone is the match key and the only required field;
// the run aborts before any write.
var ErrMissingPhoneField = errors.New("no column could be resolved for the phone field")

// fieldSynonyms drives the name-based fallback: the first header whose
// lowercased text contains one of these substrings wins. Kept as package
// configuration so deployments can tune it.
var fieldSynonyms = map[string][]string{
	FieldPhone:   {"phone", "tel", "mobile", "cell"},
	FieldName:    {"name", "contact"},
	FieldEmail:   {"email", "e-mail", "mail"},
	FieldCompany: {"company", "organization", "organisation", "employer"},
	FieldNotes:   {"notes", "comment", "description", "memo"},
}

// canonicalFields fixes resolution order so explicit-mapping collisions are
// deterministic.
var canonicalFields = []string{FieldPhone, FieldName, FieldEmail, FieldCompany, FieldNotes}

// FieldMap holds the resolved column index for each canonical field.
type FieldMap struct {
	indexes map[string]int
}

// ResolveFieldMap resolves each canonical field against the header row.
// An explicit mapping entry (canonical field -> external header) wins when
// its header exists (case-insensitive exact match); otherwise the synonym
// fallback applies. Every field except phone is optional.
func ResolveFieldMap(headers []string, explicit map[string]string) (*FieldMap, error) {
	lowered := make([]string, len(headers))
	for i, h := range headers {
		lowered[i] = strings.ToLower(strings.TrimSpace(h))
	}

	fm := &FieldMap{indexes: make(map[string]int)}

	for _, field := range canonicalFields {
		if wanted, ok := explicit[field]; ok {
			if idx := indexOfHeader(lowered, wanted); idx >= 0 {
				fm.indexes[field] = idx
				continue
			}
		}
		if idx := indexBySynonym(lowered, fieldSynonyms[field]); idx >= 0 {
			fm.indexes[field] = idx
		}
	}

	if _, ok := fm.indexes[FieldPhone]; !ok {
		return nil, ErrMissingPhoneField
	}

	return fm, nil
}

// Index returns the resolved column for a canonical field, or -1.
func (fm *FieldMap) Index(field string) int {
	idx, ok := fm.indexes[field]
	if !ok {
		return -1
	}
	return idx
}

// Extract pulls the resolved canonical fields out of one row. Unresolved
// fields and columns past the end of a ragged row are simply absent.
func (fm *FieldMap) Extract(row []string) map[string]string {
	fields := make(map[string]string)
	for field, idx := range fm.indexes {
		if idx < len(row) {
			value := strings.TrimSpace(row[idx])
			if value != "" {
				fields[field] = value
			}
		}
	}
	return fields
}

func indexOfHeader(lowered []string, wanted string) int {
	target := strings.ToLower(strings.TrimSpace(wanted))
	for i, h := range lowered {
		if h == target {
			return i
		}
	}
	return -1
}

func indexBySynonym(lowered []string, synonyms []string) int {
	for i, h := range lowered {
		for _, syn := range synonyms {
			if strings.Contains(h, syn) {
				return i
			}
		}
	}
	return -1
}
