// ABOUTME: Google Sheets source adapter and outbound writer
// ABOUTME: Reads sheet rows into normalized records and pushes contacts back out
package sync

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/contactbridge/contactbridge/models"
	"google.golang.org/api/sheets/v4"
)

// outboundHeaders is the fixed column order for pushed sheets. Downstream
// consumers rely on column position, so the order is part of the contract.
var outboundHeaders = []string{
	"Name", "Phone", "Email", "Company", "Status",
	"Last Call Outcome", "Last Call Date", "Call Duration",
	"Sentiment", "Tags", "Notes", "Created At", "Updated At",
}

// outboundPhoneColumn is Phone's position in outboundHeaders.
const outboundPhoneColumn = 1

type SheetsAdapter struct {
	svc *sheets.Service
}

func NewSheetsAdapter(svc *sheets.Service) *SheetsAdapter {
	return &SheetsAdapter{svc: svc}
}

func (a *SheetsAdapter) Name() string {
	return models.SourceGoogleSheets
}

// StableIDs is false: sheet row numbers shift whenever a human inserts or
// deletes a row, so they only identify records within a single run.
func (a *SheetsAdapter) StableIDs() bool {
	return false
}

// ListRecords reads the linked tab. The first row is the header row; data
// rows get 1-based row numbers as their external ids, which is also what
// selective sync selects on.
func (a *SheetsAdapter) ListRecords(ctx context.Context, link *models.Link, ids []string) ([]ExternalRecord, error) {
	resp, err := a.svc.Spreadsheets.Values.Get(link.ExternalObjectID, a.readRange(link)).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet: %w", err)
	}

	if len(resp.Values) == 0 {
		return nil, nil
	}

	headers := stringifyRow(resp.Values[0])
	fm, err := ResolveFieldMap(headers, link.FieldMapping)
	if err != nil {
		return nil, err
	}

	var wanted map[string]bool
	if len(ids) > 0 {
		wanted = make(map[string]bool, len(ids))
		for _, id := range ids {
			wanted[id] = true
		}
	}

	var records []ExternalRecord
	for i, raw := range resp.Values[1:] {
		externalID := strconv.Itoa(i + 1)
		if wanted != nil && !wanted[externalID] {
			continue
		}

		fields := fm.Extract(stringifyRow(raw))
		records = append(records, ExternalRecord{
			ExternalID: externalID,
			MatchKey:   NormalizePhone(fields[FieldPhone]),
			Fields:     fields,
		})
	}

	return records, nil
}

// WriteAll clears the linked tab and rewrites it: header row plus one row
// per contact, in one update call. Destructive to existing sheet content
// by design; the engine only invokes it for outbound-capable links.
func (a *SheetsAdapter) WriteAll(ctx context.Context, link *models.Link, contacts []models.Contact) (int, error) {
	_, err := a.svc.Spreadsheets.Values.
		Clear(link.ExternalObjectID, a.readRange(link), &sheets.ClearValuesRequest{}).
		Context(ctx).Do()
	if err != nil {
		return 0, fmt.Errorf("failed to clear sheet: %w", err)
	}

	values := make([][]interface{}, 0, len(contacts)+1)
	values = append(values, headerRow())
	for i := range contacts {
		values = append(values, serializeContact(&contacts[i]))
	}

	_, err = a.svc.Spreadsheets.Values.
		Update(link.ExternalObjectID, a.cellRange(link, "A1"), &sheets.ValueRange{Values: values}).
		ValueInputOption("RAW").
		Context(ctx).Do()
	if err != nil {
		return 0, fmt.Errorf("failed to write sheet: %w", err)
	}

	// Header styling is cosmetic; failure must not fail the run.
	if err := a.boldHeaderRow(ctx, link); err != nil {
		log.Printf("sheet header styling failed (non-fatal): %v", err)
	}

	return len(contacts), nil
}

// WriteOne upserts a single contact: overwrite the row whose phone column
// matches (digits-only comparison), append otherwise, writing the header
// first when the sheet is empty.
func (a *SheetsAdapter) WriteOne(ctx context.Context, link *models.Link, contact *models.Contact) error {
	resp, err := a.svc.Spreadsheets.Values.Get(link.ExternalObjectID, a.readRange(link)).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("failed to read sheet: %w", err)
	}

	row := serializeContact(contact)

	if len(resp.Values) == 0 {
		_, err = a.svc.Spreadsheets.Values.
			Update(link.ExternalObjectID, a.cellRange(link, "A1"), &sheets.ValueRange{Values: [][]interface{}{headerRow(), row}}).
			ValueInputOption("RAW").
			Context(ctx).Do()
		if err != nil {
			return fmt.Errorf("failed to write sheet: %w", err)
		}
		return nil
	}

	phoneCol := phoneColumn(stringifyRow(resp.Values[0]), link.FieldMapping)

	for i, raw := range resp.Values[1:] {
		cells := stringifyRow(raw)
		if phoneCol >= len(cells) {
			continue
		}
		if NormalizePhone(cells[phoneCol]) == contact.PhoneNumber {
			// Sheet rows are 1-based and row 1 is the header.
			target := a.cellRange(link, fmt.Sprintf("A%d", i+2))
			_, err = a.svc.Spreadsheets.Values.
				Update(link.ExternalObjectID, target, &sheets.ValueRange{Values: [][]interface{}{row}}).
				ValueInputOption("RAW").
				Context(ctx).Do()
			if err != nil {
				return fmt.Errorf("failed to update sheet row: %w", err)
			}
			return nil
		}
	}

	_, err = a.svc.Spreadsheets.Values.
		Append(link.ExternalObjectID, a.readRange(link), &sheets.ValueRange{Values: [][]interface{}{row}}).
		ValueInputOption("RAW").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("failed to append sheet row: %w", err)
	}

	return nil
}

func (a *SheetsAdapter) readRange(link *models.Link) string {
	if link.ExternalTab != "" {
		return link.ExternalTab + "!A:ZZ"
	}
	return "A:ZZ"
}

func (a *SheetsAdapter) cellRange(link *models.Link, cell string) string {
	if link.ExternalTab != "" {
		return link.ExternalTab + "!" + cell
	}
	return cell
}

func (a *SheetsAdapter) boldHeaderRow(ctx context.Context, link *models.Link) error {
	sheetID, err := a.sheetID(ctx, link)
	if err != nil {
		return err
	}

	req := &sheets.BatchUpdateSpreadsheetRequest{
		Requests: []*sheets.Request{{
			RepeatCell: &sheets.RepeatCellRequest{
				Range: &sheets.GridRange{
					SheetId:       sheetID,
					StartRowIndex: 0,
					EndRowIndex:   1,
				},
				Cell: &sheets.CellData{
					UserEnteredFormat: &sheets.CellFormat{
						TextFormat: &sheets.TextFormat{Bold: true},
					},
				},
				Fields: "userEnteredFormat.textFormat.bold",
			},
		}},
	}

	_, err = a.svc.Spreadsheets.BatchUpdate(link.ExternalObjectID, req).Context(ctx).Do()
	return err
}

func (a *SheetsAdapter) sheetID(ctx context.Context, link *models.Link) (int64, error) {
	if link.ExternalTab == "" {
		return 0, nil
	}

	meta, err := a.svc.Spreadsheets.Get(link.ExternalObjectID).Fields("sheets.properties").Context(ctx).Do()
	if err != nil {
		return 0, err
	}

	for _, sheet := range meta.Sheets {
		if sheet.Properties != nil && sheet.Properties.Title == link.ExternalTab {
			return sheet.Properties.SheetId, nil
		}
	}

	return 0, fmt.Errorf("tab %q not found", link.ExternalTab)
}

// phoneColumn finds the phone column in an existing sheet's header row,
// falling back to the fixed outbound layout when resolution fails.
func phoneColumn(headers []string, mapping map[string]string) int {
	if fm, err := ResolveFieldMap(headers, mapping); err == nil {
		return fm.Index(FieldPhone)
	}
	return outboundPhoneColumn
}

func headerRow() []interface{} {
	row := make([]interface{}, len(outboundHeaders))
	for i, h := range outboundHeaders {
		row[i] = h
	}
	return row
}

// serializeContact produces one data row in the outboundHeaders order.
// Call-related columns come from custom fields populated by the calling
// subsystem.
func serializeContact(c *models.Contact) []interface{} {
	return []interface{}{
		c.Name,
		c.PhoneNumber,
		c.Email,
		c.CompanyName,
		c.CustomFields["status"],
		c.CustomFields["last_call_outcome"],
		c.CustomFields["last_call_at"],
		c.CustomFields["call_duration"],
		c.CustomFields["sentiment"],
		c.CustomFields["tags"],
		c.Notes,
		c.CreatedAt.Format(time.RFC3339),
		c.UpdatedAt.Format(time.RFC3339),
	}
}

func stringifyRow(raw []interface{}) []string {
	row := make([]string, len(raw))
	for i, cell := range raw {
		if cell == nil {
			continue
		}
		row[i] = fmt.Sprint(cell)
	}
	return row
}
