// ABOUTME: Reconciliation engine for inbound and outbound sync runs
// ABOUTME: Batches external records, resolves matches, decides create vs update, and tallies results
package sync

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/contactbridge/contactbridge/db"
	"github.com/contactbridge/contactbridge/models"
	"github.com/google/uuid"
)

// DefaultBatchSize is the number of external records reconciled per
// round trip. Named configuration per deployment tuning.
const DefaultBatchSize = 200

var (
	// ErrLinkInactive is returned when sync is triggered for a
	// deactivated link.
	ErrLinkInactive = errors.New("link is deactivated")

	// ErrRunInProgress is returned when a run for the same link is
	// already holding the advisory lock.
	ErrRunInProgress = errors.New("a sync run for this link is already in progress")

	// ErrDirectionNotAllowed is returned when the requested run does not
	// match the link's configured direction.
	ErrDirectionNotAllowed = errors.New("sync direction not allowed for this link")
)

// Options tunes a single run.
type Options struct {
	// IDs restricts the run to an explicit subset of external ids
	// (selective sync). Empty means full sync.
	IDs []string

	// Progress receives per-batch updates. May be nil.
	Progress models.ProgressFunc

	// BatchSize overrides DefaultBatchSize when positive.
	BatchSize int
}

type Engine struct {
	db       *sql.DB
	resolver *MatchResolver
	notifier Notifier
	locks    *linkLocks
}

func NewEngine(database *sql.DB) *Engine {
	return &Engine{
		db:       database,
		resolver: NewMatchResolver(database),
		notifier: nopNotifier{},
		locks:    newLinkLocks(),
	}
}

// SetNotifier installs the notifier that receives final tallies.
func (e *Engine) SetNotifier(n Notifier) {
	if n != nil {
		e.notifier = n
	}
}

// RunInbound pulls external records through the adapter and reconciles
// them into the contact store.
func (e *Engine) RunInbound(ctx context.Context, link *models.Link, adapter SourceAdapter, opts Options) (*models.SyncResult, error) {
	if err := e.checkLink(link, models.DirectionInbound); err != nil {
		return nil, err
	}
	if !e.locks.tryAcquire(link.ID) {
		return nil, ErrRunInProgress
	}
	defer e.locks.release(link.ID)

	return e.runInboundLocked(ctx, link, adapter, opts)
}

// RunOutbound pushes the company's contacts out through the target.
func (e *Engine) RunOutbound(ctx context.Context, link *models.Link, target OutboundTarget, opts Options) (*models.SyncResult, error) {
	if err := e.checkLink(link, models.DirectionOutbound); err != nil {
		return nil, err
	}
	if !e.locks.tryAcquire(link.ID) {
		return nil, ErrRunInProgress
	}
	defer e.locks.release(link.ID)

	return e.runOutboundLocked(ctx, link, target, opts)
}

// RunBidirectional runs inbound first, then outbound, so the pushed sheet
// reflects contacts created by the inbound half of the same run.
func (e *Engine) RunBidirectional(ctx context.Context, link *models.Link, adapter SourceAdapter, target OutboundTarget, opts Options) (*models.BidirectionalResult, error) {
	if link == nil || !link.Active {
		return nil, ErrLinkInactive
	}
	if link.Direction != models.DirectionBidirectional {
		return nil, ErrDirectionNotAllowed
	}
	if !e.locks.tryAcquire(link.ID) {
		return nil, ErrRunInProgress
	}
	defer e.locks.release(link.ID)

	result := &models.BidirectionalResult{}

	inbound, err := e.runInboundLocked(ctx, link, adapter, opts)
	if inbound != nil {
		result.Inbound = *inbound
	}
	if err != nil {
		return result, err
	}

	outbound, err := e.runOutboundLocked(ctx, link, target, opts)
	if outbound != nil {
		result.Outbound = *outbound
	}
	if err != nil {
		return result, err
	}

	result.Success = result.Inbound.Success && result.Outbound.Success
	return result, nil
}

// PushContact upserts one contact into the external sheet, outside a full
// run (e.g. after a manual edit).
func (e *Engine) PushContact(ctx context.Context, link *models.Link, target OutboundTarget, contact *models.Contact) error {
	if err := e.checkLink(link, models.DirectionOutbound); err != nil {
		return err
	}

	if err := target.WriteOne(ctx, link, contact); err != nil {
		return fmt.Errorf("failed to push contact: %w", err)
	}

	return db.TouchLinkSynced(e.db, link.ID, time.Now(), link.LastSyncRowCount)
}

func (e *Engine) checkLink(link *models.Link, direction string) error {
	if link == nil || !link.Active {
		return ErrLinkInactive
	}
	if link.Direction != direction && link.Direction != models.DirectionBidirectional {
		return ErrDirectionNotAllowed
	}
	return nil
}

// runState carries the running tally across batches.
type runState struct {
	created int
	updated int
	skipped int
	errs    []string
}

func (st *runState) result(success bool, total int) *models.SyncResult {
	return &models.SyncResult{
		Success: success,
		Created: st.created,
		Updated: st.updated,
		Skipped: st.skipped,
		Total:   total,
		Errors:  st.errs,
	}
}

func (e *Engine) runInboundLocked(ctx context.Context, link *models.Link, adapter SourceAdapter, opts Options) (*models.SyncResult, error) {
	syncType := models.SyncTypeFull
	if len(opts.IDs) > 0 {
		syncType = models.SyncTypeSelective
	}

	runID, err := db.StartRun(e.db, link.ID, syncType, models.DirectionInbound)
	if err != nil {
		return nil, err
	}

	st := &runState{}
	report := func(phase string, processed, total int, message string) {
		if opts.Progress != nil {
			opts.Progress(models.Progress{
				Phase:     phase,
				Processed: processed,
				Total:     total,
				Created:   st.created,
				Updated:   st.updated,
				Skipped:   st.skipped,
				Message:   message,
			})
		}
	}

	// Read phase: any failure here aborts with zero writes.
	report(models.PhaseReading, 0, 0, fmt.Sprintf("Reading records from %s", adapter.Name()))

	records, err := adapter.ListRecords(ctx, link, opts.IDs)
	if err != nil {
		message := fmt.Sprintf("failed to read from %s: %v", adapter.Name(), err)
		_ = db.FailRun(e.db, runID, 0, 0, 0, message)
		report(models.PhaseError, 0, 0, message)
		st.errs = append(st.errs, message)
		return st.result(false, 0), fmt.Errorf("failed to read from %s: %w", adapter.Name(), err)
	}

	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	total := len(records)
	processed := 0

	for start := 0; start < total; start += batchSize {
		end := start + batchSize
		if end > total {
			end = total
		}

		if err := e.importBatch(link, adapter.Name(), adapter.StableIDs(), records[start:end], start, st); err != nil {
			// Infrastructure failure escaping the batch loop: abort,
			// keeping counters from completed batches.
			message := fmt.Sprintf("sync run aborted: %v", err)
			_ = db.FailRun(e.db, runID, st.created, st.updated, st.skipped, message)
			report(models.PhaseError, processed, total, message)
			st.errs = append(st.errs, message)
			return st.result(false, total), err
		}

		processed = end
		report(models.PhaseImporting, processed, total,
			fmt.Sprintf("Imported %d of %d records", processed, total))
	}

	now := time.Now()
	if err := db.TouchLinkSynced(e.db, link.ID, now, total); err != nil {
		message := fmt.Sprintf("sync run aborted: %v", err)
		_ = db.FailRun(e.db, runID, st.created, st.updated, st.skipped, message)
		report(models.PhaseError, processed, total, message)
		st.errs = append(st.errs, message)
		return st.result(false, total), err
	}
	link.LastSyncedAt = &now
	link.LastSyncRowCount = total

	if err := db.CompleteRun(e.db, runID, st.created, st.updated, st.skipped, st.errs); err != nil {
		return st.result(false, total), err
	}

	report(models.PhaseComplete, processed, total,
		fmt.Sprintf("Sync complete: %d created, %d updated, %d skipped", st.created, st.updated, st.skipped))

	result := st.result(len(st.errs) == 0, total)
	e.notifier.SyncCompleted(link, result)
	return result, nil
}

// importBatch reconciles one batch. Per-record failures are downgraded to
// skipped; only infrastructure failures return an error. Contact mappings
// are written and consulted only for adapters with stable external ids;
// positional ids (sheet row numbers) resolve by phone alone.
func (e *Engine) importBatch(link *models.Link, sourceTag string, stableIDs bool, batch []ExternalRecord, baseIndex int, st *runState) error {
	resolved, err := e.resolver.ResolveBatch(link, batch, stableIDs)
	if err != nil {
		return err
	}

	saveMapping := func(rec ExternalRecord, contactID uuid.UUID) {
		if stableIDs {
			e.recordMapping(link, rec, contactID, st)
		}
	}

	type updateItem struct {
		contact *models.Contact
		record  ExternalRecord
	}

	var toCreate []*models.Contact
	createRecords := make(map[*models.Contact]ExternalRecord)
	var toUpdate []updateItem

	for i, rec := range batch {
		if rec.MatchKey == "" {
			st.skipped++
			st.errs = append(st.errs, fmt.Sprintf("%s: no phone number, cannot match", recordLabel(rec, baseIndex+i)))
			continue
		}

		if existing := resolved[i]; existing != nil {
			toUpdate = append(toUpdate, updateItem{contact: existing, record: rec})
			continue
		}

		contact := &models.Contact{
			CompanyID:   link.CompanyID,
			PhoneNumber: rec.MatchKey,
			Source:      sourceTag,
		}
		applyFields(contact, rec.Fields)

		toCreate = append(toCreate, contact)
		createRecords[contact] = rec
	}

	// One bulk insert for the whole batch. If it fails as a whole (e.g.
	// one row violates a constraint), degrade to row-at-a-time so a
	// single bad row becomes skipped instead of sinking the batch.
	if len(toCreate) > 0 {
		if err := db.BulkInsertContacts(e.db, toCreate); err != nil {
			for _, contact := range toCreate {
				if rowErr := db.CreateContact(e.db, contact); rowErr != nil {
					st.skipped++
					st.errs = append(st.errs, fmt.Sprintf("%s: insert failed: %v", recordLabel(createRecords[contact], -1), rowErr))
					continue
				}
				st.created++
				saveMapping(createRecords[contact], contact.ID)
			}
		} else {
			st.created += len(toCreate)
			for _, contact := range toCreate {
				saveMapping(createRecords[contact], contact.ID)
			}
		}
	}

	// Updates target distinct existing rows, so they go out one statement
	// per row, sequentially, keeping write order and error attribution
	// deterministic.
	for _, item := range toUpdate {
		payload := updatePayload(item.contact, item.record, sourceTag)
		if len(payload) == 0 {
			// Nothing would change; a re-run with no external edits
			// writes nothing and counts nothing.
			saveMapping(item.record, item.contact.ID)
			continue
		}
		if err := db.UpdateContactFields(e.db, item.contact.ID, payload); err != nil {
			st.skipped++
			st.errs = append(st.errs, fmt.Sprintf("%s: update failed: %v", recordLabel(item.record, -1), err))
			continue
		}
		// Fold the write back into the snapshot so a later record in the
		// same batch resolving to this contact diffs against current
		// values, not resolve-time state. Last-seen wins.
		applyPayload(item.contact, payload)
		st.updated++
		saveMapping(item.record, item.contact.ID)
	}

	return nil
}

// updatePayload builds the column map for an update, dropping entries that
// already match the stored row so an unchanged re-run writes nothing. The
// company id is the match scope and never part of the payload. The source
// column is included only when the stored source is this integration's own
// tag or manual; an inbound sync never reassigns ownership of a record
// another integration created.
func updatePayload(existing *models.Contact, rec ExternalRecord, sourceTag string) map[string]string {
	payload := make(map[string]string)

	put := func(column, value, current string) {
		if value != current {
			payload[column] = value
		}
	}

	put("phone_number", rec.MatchKey, existing.PhoneNumber)
	if v, ok := rec.Fields[FieldName]; ok {
		put("name", v, existing.Name)
	}
	if v, ok := rec.Fields[FieldEmail]; ok {
		put("email", v, existing.Email)
	}
	if v, ok := rec.Fields[FieldCompany]; ok {
		put("company_name", v, existing.CompanyName)
	}
	if v, ok := rec.Fields[FieldNotes]; ok {
		put("notes", v, existing.Notes)
	}

	if existing.Source == sourceTag || existing.Source == models.SourceManual {
		put("source", sourceTag, existing.Source)
	}

	return payload
}

// applyPayload mirrors a successful column update onto the in-memory
// contact. The resolver hands the same pointer to every record that matched
// this contact, so later records see the folded-in state.
func applyPayload(contact *models.Contact, payload map[string]string) {
	for column, value := range payload {
		switch column {
		case "phone_number":
			contact.PhoneNumber = value
		case "name":
			contact.Name = value
		case "email":
			contact.Email = value
		case "company_name":
			contact.CompanyName = value
		case "notes":
			contact.Notes = value
		case "source":
			contact.Source = value
		}
	}
}

func applyFields(contact *models.Contact, fields map[string]string) {
	if v, ok := fields[FieldName]; ok {
		contact.Name = v
	}
	if v, ok := fields[FieldEmail]; ok {
		contact.Email = v
	}
	if v, ok := fields[FieldCompany]; ok {
		contact.CompanyName = v
	}
	if v, ok := fields[FieldNotes]; ok {
		contact.Notes = v
	}
}

// recordMapping persists the external-id bridge for providers that assign
// ids. Mapping failures don't sink the record; the next run falls back to
// the phone match.
func (e *Engine) recordMapping(link *models.Link, rec ExternalRecord, contactID uuid.UUID, st *runState) {
	if rec.ExternalID == "" {
		return
	}
	if err := db.UpsertContactMapping(e.db, link.ID, rec.ExternalID, contactID); err != nil {
		st.errs = append(st.errs, fmt.Sprintf("%s: mapping not saved: %v", recordLabel(rec, -1), err))
	}
}

func recordLabel(rec ExternalRecord, index int) string {
	if rec.ExternalID != "" {
		return fmt.Sprintf("record %s", rec.ExternalID)
	}
	if index >= 0 {
		return fmt.Sprintf("record %d", index+1)
	}
	return "record"
}

func (e *Engine) runOutboundLocked(ctx context.Context, link *models.Link, target OutboundTarget, opts Options) (*models.SyncResult, error) {
	runID, err := db.StartRun(e.db, link.ID, models.SyncTypeFull, models.DirectionOutbound)
	if err != nil {
		return nil, err
	}

	st := &runState{}
	report := func(phase string, processed, total int, message string) {
		if opts.Progress != nil {
			opts.Progress(models.Progress{
				Phase:     phase,
				Processed: processed,
				Total:     total,
				Message:   message,
			})
		}
	}

	report(models.PhaseReading, 0, 0, "Loading contacts")

	contacts, err := db.ListContactsByCompany(e.db, link.CompanyID)
	if err != nil {
		message := fmt.Sprintf("failed to load contacts: %v", err)
		_ = db.FailRun(e.db, runID, 0, 0, 0, message)
		report(models.PhaseError, 0, 0, message)
		st.errs = append(st.errs, message)
		return st.result(false, 0), err
	}

	report(models.PhaseImporting, 0, len(contacts), fmt.Sprintf("Writing %d contacts", len(contacts)))

	rowCount, err := target.WriteAll(ctx, link, contacts)
	if err != nil {
		message := fmt.Sprintf("failed to write contacts: %v", err)
		_ = db.FailRun(e.db, runID, 0, 0, 0, message)
		report(models.PhaseError, 0, len(contacts), message)
		st.errs = append(st.errs, message)
		return st.result(false, 0), fmt.Errorf("failed to write contacts: %w", err)
	}

	now := time.Now()
	if err := db.TouchLinkSynced(e.db, link.ID, now, rowCount); err != nil {
		message := fmt.Sprintf("sync run aborted: %v", err)
		_ = db.FailRun(e.db, runID, 0, 0, 0, message)
		report(models.PhaseError, rowCount, rowCount, message)
		st.errs = append(st.errs, message)
		return st.result(false, rowCount), err
	}
	link.LastSyncedAt = &now
	link.LastSyncRowCount = rowCount

	if err := db.CompleteRun(e.db, runID, 0, 0, 0, nil); err != nil {
		return st.result(false, rowCount), err
	}

	report(models.PhaseComplete, rowCount, rowCount, fmt.Sprintf("Pushed %d contacts", rowCount))

	result := st.result(true, rowCount)
	e.notifier.SyncCompleted(link, result)
	return result, nil
}
