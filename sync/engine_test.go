package sync

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/contactbridge/contactbridge/db"
	"github.com/contactbridge/contactbridge/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeAdapter serves canned records and honors the selective-sync id
// subset. Its external ids are row-number-like (positional) unless stable
// is set.
type fakeAdapter struct {
	name    string
	records []ExternalRecord
	stable  bool
	err     error
	calls   int
}

func (f *fakeAdapter) Name() string {
	if f.name == "" {
		return models.SourceGoogleSheets
	}
	return f.name
}

func (f *fakeAdapter) StableIDs() bool { return f.stable }

func (f *fakeAdapter) ListRecords(_ context.Context, _ *models.Link, ids []string) ([]ExternalRecord, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if len(ids) == 0 {
		return f.records, nil
	}

	wanted := make(map[string]bool, len(ids))
	for _, id := range ids {
		wanted[id] = true
	}

	var out []ExternalRecord
	for _, rec := range f.records {
		if wanted[rec.ExternalID] {
			out = append(out, rec)
		}
	}
	return out, nil
}

// fakeTarget captures outbound writes.
type fakeTarget struct {
	written []models.Contact
	err     error
}

func (f *fakeTarget) WriteAll(_ context.Context, _ *models.Link, contacts []models.Contact) (int, error) {
	if f.err != nil {
		return 0, f.err
	}
	f.written = contacts
	return len(contacts), nil
}

func (f *fakeTarget) WriteOne(_ context.Context, _ *models.Link, contact *models.Contact) error {
	if f.err != nil {
		return f.err
	}
	f.written = append(f.written, *contact)
	return nil
}

func newTestEngine(t *testing.T) (*Engine, *sql.DB) {
	t.Helper()

	database, err := db.OpenDatabase(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	return NewEngine(database), database
}

func makeLink(t *testing.T, database *sql.DB, direction string) *models.Link {
	t.Helper()

	link := &models.Link{
		CompanyID:        uuid.New(),
		Integration:      models.SourceGoogleSheets,
		ExternalObjectID: "sheet-1",
		Direction:        direction,
	}
	require.NoError(t, db.CreateOrUpdateLink(database, link))
	return link
}

// sheetRecords builds records the way the sheets adapter does, so engine
// tests exercise the field mapper too.
func sheetRecords(t *testing.T, headers []string, rows [][]string) []ExternalRecord {
	t.Helper()

	fm, err := ResolveFieldMap(headers, nil)
	require.NoError(t, err)

	records := make([]ExternalRecord, 0, len(rows))
	for i, row := range rows {
		fields := fm.Extract(row)
		records = append(records, ExternalRecord{
			ExternalID: fmt.Sprintf("%d", i+1),
			MatchKey:   NormalizePhone(fields[FieldPhone]),
			Fields:     fields,
		})
	}
	return records
}

func TestInboundCreatesContact(t *testing.T) {
	engine, database := newTestEngine(t)
	link := makeLink(t, database, models.DirectionInbound)

	adapter := &fakeAdapter{records: sheetRecords(t,
		[]string{"Name", "Phone", "Email"},
		[][]string{{"Jane Doe", "555-0100", "jane@x.com"}},
	)}

	result, err := engine.RunInbound(context.Background(), link, adapter, Options{})
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, 1, result.Created)
	assert.Equal(t, 0, result.Updated)
	assert.Equal(t, 0, result.Skipped)
	assert.Equal(t, 1, result.Total)
	assert.Empty(t, result.Errors)

	contacts, err := db.ListContactsByCompany(database, link.CompanyID)
	require.NoError(t, err)
	require.Len(t, contacts, 1)
	assert.Equal(t, "5550100", contacts[0].PhoneNumber)
	assert.Equal(t, "Jane Doe", contacts[0].Name)
	assert.Equal(t, "jane@x.com", contacts[0].Email)
	assert.Equal(t, models.SourceGoogleSheets, contacts[0].Source)

	runs, err := db.ListRuns(database, link.ID, 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, models.RunStatusCompleted, runs[0].Status)
	assert.Equal(t, models.SyncTypeFull, runs[0].SyncType)
}

func TestInboundIdempotent(t *testing.T) {
	engine, database := newTestEngine(t)
	link := makeLink(t, database, models.DirectionInbound)

	adapter := &fakeAdapter{records: sheetRecords(t,
		[]string{"Name", "Phone", "Email"},
		[][]string{
			{"Jane Doe", "555-0100", "jane@x.com"},
			{"Bob Roe", "555-0101", "bob@x.com"},
		},
	)}

	first, err := engine.RunInbound(context.Background(), link, adapter, Options{})
	require.NoError(t, err)
	assert.Equal(t, 2, first.Created)

	// No external changes between runs: nothing to create, nothing to write
	second, err := engine.RunInbound(context.Background(), link, adapter, Options{})
	require.NoError(t, err)
	assert.Equal(t, 0, second.Created)
	assert.Equal(t, 0, second.Updated)
	assert.Equal(t, 0, second.Skipped)

	contacts, err := db.ListContactsByCompany(database, link.CompanyID)
	require.NoError(t, err)
	assert.Len(t, contacts, 2)
}

func TestDuplicatePhoneUpsertsIntoMatchingRow(t *testing.T) {
	engine, database := newTestEngine(t)
	link := makeLink(t, database, models.DirectionInbound)

	adapter := &fakeAdapter{records: sheetRecords(t,
		[]string{"Name", "Phone", "Email"},
		[][]string{{"Jane Doe", "555-0100", "jane@x.com"}},
	)}
	_, err := engine.RunInbound(context.Background(), link, adapter, Options{})
	require.NoError(t, err)

	// The sheet gains a second row with the same phone; its fields
	// overwrite the matching contact rather than creating a duplicate
	adapter.records = sheetRecords(t,
		[]string{"Name", "Phone", "Email"},
		[][]string{
			{"Jane Doe", "555-0100", "jane@x.com"},
			{"John Roe", "555-0100", "john@y.com"},
		},
	)

	result, err := engine.RunInbound(context.Background(), link, adapter, Options{})
	require.NoError(t, err)
	assert.Equal(t, 0, result.Created)
	assert.Equal(t, 1, result.Updated)

	contacts, err := db.ListContactsByCompany(database, link.CompanyID)
	require.NoError(t, err)
	require.Len(t, contacts, 1)
	assert.Equal(t, "John Roe", contacts[0].Name)
	assert.Equal(t, "john@y.com", contacts[0].Email)
	assert.Equal(t, "5550100", contacts[0].PhoneNumber)
}

func TestRowInsertAboveDoesNotRebindContacts(t *testing.T) {
	engine, database := newTestEngine(t)
	link := makeLink(t, database, models.DirectionInbound)

	adapter := &fakeAdapter{records: sheetRecords(t,
		[]string{"Name", "Phone"},
		[][]string{{"Jane Doe", "555-0100"}},
	)}
	_, err := engine.RunInbound(context.Background(), link, adapter, Options{})
	require.NoError(t, err)

	// A human inserts a new row above Jane; every row number shifts by
	// one. Row 1 is now Bob, who must become a new contact, not a
	// rewrite of Jane.
	adapter.records = sheetRecords(t,
		[]string{"Name", "Phone"},
		[][]string{
			{"Bob Roe", "555-0200"},
			{"Jane Doe", "555-0100"},
		},
	)

	result, err := engine.RunInbound(context.Background(), link, adapter, Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Created)
	assert.Equal(t, 0, result.Updated)

	contacts, err := db.ListContactsByCompany(database, link.CompanyID)
	require.NoError(t, err)
	require.Len(t, contacts, 2)

	names := map[string]string{}
	for _, c := range contacts {
		names[c.PhoneNumber] = c.Name
	}
	assert.Equal(t, "Jane Doe", names["5550100"])
	assert.Equal(t, "Bob Roe", names["5550200"])

	// Positional row ids never become persistent mappings
	found, err := db.FindContactIDByExternalID(database, link.ID, "1")
	require.NoError(t, err)
	assert.Equal(t, uuid.Nil, found)
}

func TestLastSeenWinsWithinBatch(t *testing.T) {
	engine, database := newTestEngine(t)
	link := makeLink(t, database, models.DirectionInbound)

	seed := &models.Contact{
		CompanyID:   link.CompanyID,
		PhoneNumber: "5550100",
		Name:        "Jane Doe",
		Source:      models.SourceManual,
	}
	require.NoError(t, db.CreateContact(database, seed))

	// Two rows for the same contact in one batch: the first renames, the
	// second restores the stored name. The later row must win even though
	// its values equal the pre-batch state.
	adapter := &fakeAdapter{records: sheetRecords(t,
		[]string{"Name", "Phone"},
		[][]string{
			{"Janet Doe", "555-0100"},
			{"Jane Doe", "555-0100"},
		},
	)}

	result, err := engine.RunInbound(context.Background(), link, adapter, Options{})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Updated)

	loaded, err := db.GetContact(database, seed.ID)
	require.NoError(t, err)
	assert.Equal(t, "Jane Doe", loaded.Name)
}

func TestSourceProtection(t *testing.T) {
	engine, database := newTestEngine(t)
	link := makeLink(t, database, models.DirectionInbound)

	salesforce := &models.Contact{
		CompanyID:   link.CompanyID,
		PhoneNumber: "5550100",
		Name:        "Jane Doe",
		Source:      "salesforce",
	}
	require.NoError(t, db.CreateContact(database, salesforce))

	manual := &models.Contact{
		CompanyID:   link.CompanyID,
		PhoneNumber: "5550101",
		Name:        "Bob Roe",
		Source:      models.SourceManual,
	}
	require.NoError(t, db.CreateContact(database, manual))

	adapter := &fakeAdapter{records: sheetRecords(t,
		[]string{"Name", "Phone", "Email"},
		[][]string{
			{"Jane Updated", "555-0100", "jane@new.com"},
			{"Bob Updated", "555-0101", "bob@new.com"},
		},
	)}

	result, err := engine.RunInbound(context.Background(), link, adapter, Options{})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Updated)

	// Every field except source is updated on the salesforce-owned contact
	loaded, err := db.GetContact(database, salesforce.ID)
	require.NoError(t, err)
	assert.Equal(t, "Jane Updated", loaded.Name)
	assert.Equal(t, "jane@new.com", loaded.Email)
	assert.Equal(t, "salesforce", loaded.Source)

	// Manual contacts are fair game: the integration takes ownership
	loaded, err = db.GetContact(database, manual.ID)
	require.NoError(t, err)
	assert.Equal(t, "Bob Updated", loaded.Name)
	assert.Equal(t, models.SourceGoogleSheets, loaded.Source)
}

func TestBatchFailureIsolation(t *testing.T) {
	engine, database := newTestEngine(t)
	link := makeLink(t, database, models.DirectionInbound)

	// Rows 3 and 4 share a phone: the batch bulk insert fails wholesale,
	// the row-at-a-time retry isolates the bad row as skipped
	adapter := &fakeAdapter{records: sheetRecords(t,
		[]string{"Name", "Phone"},
		[][]string{
			{"A", "555-0100"},
			{"B", "555-0101"},
			{"C", "555-0102"},
			{"C2", "555-0102"},
			{"D", "555-0103"},
		},
	)}

	result, err := engine.RunInbound(context.Background(), link, adapter, Options{})
	require.NoError(t, err)

	assert.Equal(t, 4, result.Created)
	assert.Equal(t, 1, result.Skipped)
	assert.NotEmpty(t, result.Errors)

	contacts, err := db.ListContactsByCompany(database, link.CompanyID)
	require.NoError(t, err)
	assert.Len(t, contacts, 4)

	runs, err := db.ListRuns(database, link.ID, 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, models.RunStatusCompletedWithErrors, runs[0].Status)
}

func TestSelectiveSyncTouchesOnlySubset(t *testing.T) {
	engine, database := newTestEngine(t)
	link := makeLink(t, database, models.DirectionInbound)

	adapter := &fakeAdapter{records: sheetRecords(t,
		[]string{"Name", "Phone"},
		[][]string{
			{"A", "555-0100"},
			{"B", "555-0101"},
			{"C", "555-0102"},
			{"D", "555-0103"},
		},
	)}

	result, err := engine.RunInbound(context.Background(), link, adapter, Options{IDs: []string{"2", "3"}})
	require.NoError(t, err)

	assert.Equal(t, 2, result.Created)
	assert.Equal(t, 2, result.Total)

	contacts, err := db.ListContactsByCompany(database, link.CompanyID)
	require.NoError(t, err)
	assert.Len(t, contacts, 2)

	runs, err := db.ListRuns(database, link.ID, 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, models.SyncTypeSelective, runs[0].SyncType)
}

func TestReadFailureAbortsWithZeroWrites(t *testing.T) {
	engine, database := newTestEngine(t)
	link := makeLink(t, database, models.DirectionInbound)

	adapter := &fakeAdapter{err: errors.New("sheet unreachable")}

	var phases []string
	result, err := engine.RunInbound(context.Background(), link, adapter, Options{
		Progress: func(p models.Progress) { phases = append(phases, p.Phase) },
	})
	require.Error(t, err)
	require.NotNil(t, result)

	assert.False(t, result.Success)
	assert.Equal(t, 0, result.Created)
	assert.NotEmpty(t, result.Errors)
	assert.Equal(t, []string{models.PhaseReading, models.PhaseError}, phases)

	contacts, dbErr := db.ListContactsByCompany(database, link.CompanyID)
	require.NoError(t, dbErr)
	assert.Empty(t, contacts)

	runs, dbErr := db.ListRuns(database, link.ID, 0)
	require.NoError(t, dbErr)
	require.Len(t, runs, 1)
	assert.Equal(t, models.RunStatusFailed, runs[0].Status)
}

func TestRecordWithoutPhoneSkipped(t *testing.T) {
	engine, database := newTestEngine(t)
	link := makeLink(t, database, models.DirectionInbound)

	adapter := &fakeAdapter{records: sheetRecords(t,
		[]string{"Name", "Phone"},
		[][]string{
			{"Jane", "555-0100"},
			{"No Phone", ""},
		},
	)}

	result, err := engine.RunInbound(context.Background(), link, adapter, Options{})
	require.NoError(t, err)

	assert.Equal(t, 1, result.Created)
	assert.Equal(t, 1, result.Skipped)
	assert.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "no phone number")
}

func TestInactiveLinkRefused(t *testing.T) {
	engine, database := newTestEngine(t)
	link := makeLink(t, database, models.DirectionInbound)
	require.NoError(t, db.DeactivateLink(database, link.ID))
	link.Active = false

	_, err := engine.RunInbound(context.Background(), link, &fakeAdapter{}, Options{})
	assert.ErrorIs(t, err, ErrLinkInactive)
}

func TestDirectionEnforced(t *testing.T) {
	engine, database := newTestEngine(t)

	inboundOnly := makeLink(t, database, models.DirectionInbound)
	_, err := engine.RunOutbound(context.Background(), inboundOnly, &fakeTarget{}, Options{})
	assert.ErrorIs(t, err, ErrDirectionNotAllowed)

	outboundOnly := &models.Link{
		CompanyID:        uuid.New(),
		Integration:      models.SourceGoogleSheets,
		ExternalObjectID: "sheet-2",
		Direction:        models.DirectionOutbound,
	}
	require.NoError(t, db.CreateOrUpdateLink(database, outboundOnly))
	_, err = engine.RunInbound(context.Background(), outboundOnly, &fakeAdapter{}, Options{})
	assert.ErrorIs(t, err, ErrDirectionNotAllowed)

	_, err = engine.RunBidirectional(context.Background(), inboundOnly, &fakeAdapter{}, &fakeTarget{}, Options{})
	assert.ErrorIs(t, err, ErrDirectionNotAllowed)
}

func TestConcurrentRunRefused(t *testing.T) {
	engine, database := newTestEngine(t)
	link := makeLink(t, database, models.DirectionInbound)

	// Simulate a run in flight by holding the advisory lock
	require.True(t, engine.locks.tryAcquire(link.ID))
	defer engine.locks.release(link.ID)

	_, err := engine.RunInbound(context.Background(), link, &fakeAdapter{}, Options{})
	assert.ErrorIs(t, err, ErrRunInProgress)
}

func TestProgressAcrossBatches(t *testing.T) {
	engine, database := newTestEngine(t)
	link := makeLink(t, database, models.DirectionInbound)

	rows := make([][]string, 5)
	for i := range rows {
		rows[i] = []string{fmt.Sprintf("Contact %d", i), fmt.Sprintf("555-01%02d", i)}
	}
	adapter := &fakeAdapter{records: sheetRecords(t, []string{"Name", "Phone"}, rows)}

	var updates []models.Progress
	result, err := engine.RunInbound(context.Background(), link, adapter, Options{
		BatchSize: 2,
		Progress:  func(p models.Progress) { updates = append(updates, p) },
	})
	require.NoError(t, err)
	assert.Equal(t, 5, result.Created)

	// reading, one importing per batch (ceil(5/2) = 3), then complete
	require.Len(t, updates, 5)
	assert.Equal(t, models.PhaseReading, updates[0].Phase)
	for _, p := range updates[1:4] {
		assert.Equal(t, models.PhaseImporting, p.Phase)
	}
	assert.Equal(t, models.PhaseComplete, updates[4].Phase)

	assert.Equal(t, 2, updates[1].Processed)
	assert.Equal(t, 5, updates[3].Processed)
	assert.Equal(t, 5, updates[4].Created)
}

func TestLinkTouchedAfterRun(t *testing.T) {
	engine, database := newTestEngine(t)
	link := makeLink(t, database, models.DirectionInbound)

	adapter := &fakeAdapter{records: sheetRecords(t,
		[]string{"Name", "Phone"},
		[][]string{{"Jane", "555-0100"}, {"Bob", "555-0101"}},
	)}

	_, err := engine.RunInbound(context.Background(), link, adapter, Options{})
	require.NoError(t, err)

	loaded, err := db.GetLink(database, link.ID)
	require.NoError(t, err)
	require.NotNil(t, loaded.LastSyncedAt)
	assert.Equal(t, 2, loaded.LastSyncRowCount)
}

func TestOutboundRun(t *testing.T) {
	engine, database := newTestEngine(t)
	link := makeLink(t, database, models.DirectionOutbound)

	for i := 0; i < 3; i++ {
		c := &models.Contact{
			CompanyID:   link.CompanyID,
			PhoneNumber: fmt.Sprintf("555010%d", i),
			Source:      models.SourceManual,
		}
		require.NoError(t, db.CreateContact(database, c))
	}

	target := &fakeTarget{}
	result, err := engine.RunOutbound(context.Background(), link, target, Options{})
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, 3, result.Total)
	assert.Len(t, target.written, 3)

	loaded, err := db.GetLink(database, link.ID)
	require.NoError(t, err)
	require.NotNil(t, loaded.LastSyncedAt)
	assert.Equal(t, 3, loaded.LastSyncRowCount)

	runs, err := db.ListRuns(database, link.ID, 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, models.DirectionOutbound, runs[0].Direction)
}

// sheetLike is an adapter that can also be written to, like the real
// sheets adapter.
type sheetLike struct {
	fakeAdapter
	fakeTarget
}

func TestBidirectionalInboundFirst(t *testing.T) {
	engine, database := newTestEngine(t)
	link := makeLink(t, database, models.DirectionBidirectional)

	both := &sheetLike{fakeAdapter: fakeAdapter{records: sheetRecords(t,
		[]string{"Name", "Phone"},
		[][]string{{"Jane", "555-0100"}},
	)}}

	result, err := engine.RunBidirectional(context.Background(), link, both, both, Options{})
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, 1, result.Inbound.Created)

	// The outbound half sees the contact created by the inbound half
	assert.Equal(t, 1, result.Outbound.Total)
	require.Len(t, both.written, 1)
	assert.Equal(t, "5550100", both.written[0].PhoneNumber)
}

func TestCRMMappingAuthoritative(t *testing.T) {
	engine, database := newTestEngine(t)

	link := &models.Link{
		CompanyID:        uuid.New(),
		Integration:      "salesforce",
		ExternalObjectID: "conn-1",
		Direction:        models.DirectionInbound,
	}
	require.NoError(t, db.CreateOrUpdateLink(database, link))

	client := &fakeCRMClient{records: []CRMRecord{
		{ID: "sf-001", Name: "Jane Doe", Phone: "555-0100"},
	}}
	adapter := NewCRMAdapter("salesforce", client)

	_, err := engine.RunInbound(context.Background(), link, adapter, Options{})
	require.NoError(t, err)

	contacts, err := db.ListContactsByCompany(database, link.CompanyID)
	require.NoError(t, err)
	require.Len(t, contacts, 1)
	contactID := contacts[0].ID

	// The provider changes the record's phone number. The mapping by
	// external id still resolves to the same contact; no duplicate.
	client.records = []CRMRecord{
		{ID: "sf-001", Name: "Jane Doe", Phone: "555-0199"},
	}

	result, err := engine.RunInbound(context.Background(), link, adapter, Options{})
	require.NoError(t, err)
	assert.Equal(t, 0, result.Created)
	assert.Equal(t, 1, result.Updated)

	contacts, err = db.ListContactsByCompany(database, link.CompanyID)
	require.NoError(t, err)
	require.Len(t, contacts, 1)
	assert.Equal(t, contactID, contacts[0].ID)
	assert.Equal(t, "5550199", contacts[0].PhoneNumber)
}
