package sync

import (
	"testing"
	"time"

	"github.com/contactbridge/contactbridge/models"
)

func TestSerializeContactColumnOrder(t *testing.T) {
	created := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	c := &models.Contact{
		Name:        "Jane Doe",
		PhoneNumber: "5550100",
		Email:       "jane@x.com",
		CompanyName: "Acme",
		Notes:       "vip",
		CustomFields: map[string]string{
			"status":    "active",
			"sentiment": "positive",
		},
		CreatedAt: created,
		UpdatedAt: created,
	}

	row := serializeContact(c)
	if len(row) != len(outboundHeaders) {
		t.Fatalf("row has %d cells, headers have %d", len(row), len(outboundHeaders))
	}

	if row[0] != "Jane Doe" || row[outboundPhoneColumn] != "5550100" || row[2] != "jane@x.com" {
		t.Errorf("unexpected leading cells: %v", row[:3])
	}
	if row[4] != "active" || row[8] != "positive" {
		t.Errorf("custom field cells out of position: %v", row)
	}
	// Unset custom fields serialize as empty cells, not missing ones
	if row[5] != "" || row[6] != "" {
		t.Errorf("expected empty cells for unset call fields: %v", row)
	}
	if row[11] != "2026-03-01T10:00:00Z" {
		t.Errorf("unexpected created at cell: %v", row[11])
	}
}

func TestHeaderRowMatchesLayout(t *testing.T) {
	row := headerRow()
	if len(row) != len(outboundHeaders) {
		t.Fatalf("header row has %d cells, want %d", len(row), len(outboundHeaders))
	}
	if row[outboundPhoneColumn] != "Phone" {
		t.Errorf("phone column constant out of sync with headers: %v", row[outboundPhoneColumn])
	}
}

func TestStringifyRow(t *testing.T) {
	row := stringifyRow([]interface{}{"Jane", nil, 42, true})
	want := []string{"Jane", "", "42", "true"}

	if len(row) != len(want) {
		t.Fatalf("expected %d cells, got %d", len(want), len(row))
	}
	for i := range want {
		if row[i] != want[i] {
			t.Errorf("cell %d = %q, want %q", i, row[i], want[i])
		}
	}
}

func TestPhoneColumn(t *testing.T) {
	// Resolvable headers win
	if got := phoneColumn([]string{"Name", "Email", "Mobile"}, nil); got != 2 {
		t.Errorf("expected resolved phone column 2, got %d", got)
	}

	// Explicit mapping overrides the synonym scan
	if got := phoneColumn([]string{"Phone", "Direct Line"}, map[string]string{FieldPhone: "Direct Line"}); got != 1 {
		t.Errorf("expected mapped phone column 1, got %d", got)
	}

	// Headers without a phone column fall back to the outbound layout
	if got := phoneColumn([]string{"Name", "Email"}, nil); got != outboundPhoneColumn {
		t.Errorf("expected fallback column %d, got %d", outboundPhoneColumn, got)
	}
}
