// ABOUTME: Data models for contact sync entities
// ABOUTME: Defines Contact, Link, ContactMapping, SyncRunLog and sync result shapes
package models

import (
	"time"

	"github.com/google/uuid"
)

type Contact struct {
	ID           uuid.UUID         `json:"id"`
	CompanyID    uuid.UUID         `json:"company_id"`
	PhoneNumber  string            `json:"phone_number"` // normalized, digits only
	Name         string            `json:"name,omitempty"`
	Email        string            `json:"email,omitempty"`
	CompanyName  string            `json:"company_name,omitempty"`
	Notes        string            `json:"notes,omitempty"`
	Source       string            `json:"source"`
	CustomFields map[string]string `json:"custom_fields,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

type Link struct {
	ID               uuid.UUID         `json:"id"`
	CompanyID        uuid.UUID         `json:"company_id"`
	Integration      string            `json:"integration"`
	ExternalObjectID string            `json:"external_object_id"`
	ExternalTab      string            `json:"external_tab,omitempty"`
	FieldMapping     map[string]string `json:"field_mapping,omitempty"`
	Direction        string            `json:"direction"`
	Active           bool              `json:"active"`
	LastSyncedAt     *time.Time        `json:"last_synced_at,omitempty"`
	LastSyncRowCount int               `json:"last_sync_row_count"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

type ContactMapping struct {
	LinkID       uuid.UUID `json:"link_id"`
	ExternalID   string    `json:"external_id"`
	ContactID    uuid.UUID `json:"contact_id"`
	LastSyncedAt time.Time `json:"last_synced_at"`
}

type SyncRunLog struct {
	ID          string     `json:"id"`
	LinkID      uuid.UUID  `json:"link_id"`
	SyncType    string     `json:"sync_type"`
	Direction   string     `json:"direction"`
	Created     int        `json:"created"`
	Updated     int        `json:"updated"`
	Skipped     int        `json:"skipped"`
	Errors      []string   `json:"errors,omitempty"`
	Status      string     `json:"status"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Contact source constants. CRM integrations use their integration tag
// (e.g. "salesforce") as the source.
const (
	SourceManual       = "manual"
	SourceGoogleSheets = "google_sheets"
)

// Sync direction constants.
const (
	DirectionInbound       = "inbound"
	DirectionOutbound      = "outbound"
	DirectionBidirectional = "bidirectional"
)

// Sync type constants.
const (
	SyncTypeFull      = "full"
	SyncTypeSelective = "selective"
)

// Run status constants.
const (
	RunStatusRunning             = "running"
	RunStatusCompleted           = "completed"
	RunStatusCompletedWithErrors = "completed_with_errors"
	RunStatusFailed              = "failed"
)

// Progress phase constants.
const (
	PhaseReading   = "reading"
	PhaseImporting = "importing"
	PhaseComplete  = "complete"
	PhaseError     = "error"
)

type SyncResult struct {
	Success bool     `json:"success"`
	Created int      `json:"created"`
	Updated int      `json:"updated"`
	Skipped int      `json:"skipped"`
	Total   int      `json:"total"`
	Errors  []string `json:"errors,omitempty"`
}

// BidirectionalResult nests the two halves of a bidirectional run.
// Inbound always runs first so the outbound half sees its writes.
type BidirectionalResult struct {
	Success  bool       `json:"success"`
	Inbound  SyncResult `json:"inbound"`
	Outbound SyncResult `json:"outbound"`
}

type Progress struct {
	Phase     string `json:"phase"`
	Processed int    `json:"processed"`
	Total     int    `json:"total"`
	Created   int    `json:"created"`
	Updated   int    `json:"updated"`
	Skipped   int    `json:"skipped"`
	Message   string `json:"message"`
}

// ProgressFunc receives progress updates during a sync run. May be nil.
type ProgressFunc func(Progress)
