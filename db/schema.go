// ABOUTME: Database schema definitions and migrations
// ABOUTME: Handles SQLite table creation for contacts, links, mappings, and run logs
package db

import (
	"database/sql"
)

const schema = `
CREATE TABLE IF NOT EXISTS contacts (
	id TEXT PRIMARY KEY,
	company_id TEXT NOT NULL,
	phone_number TEXT NOT NULL,
	name TEXT,
	email TEXT,
	company_name TEXT,
	notes TEXT,
	source TEXT NOT NULL DEFAULT 'manual',
	custom_fields TEXT,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL,
	UNIQUE(company_id, phone_number)
);

CREATE INDEX IF NOT EXISTS idx_contacts_company ON contacts(company_id);
CREATE INDEX IF NOT EXISTS idx_contacts_phone ON contacts(company_id, phone_number);

CREATE TABLE IF NOT EXISTS links (
	id TEXT PRIMARY KEY,
	company_id TEXT NOT NULL,
	integration TEXT NOT NULL,
	external_object_id TEXT NOT NULL,
	external_tab TEXT,
	field_mapping TEXT,
	direction TEXT NOT NULL DEFAULT 'inbound' CHECK(direction IN ('inbound', 'outbound', 'bidirectional')),
	active INTEGER NOT NULL DEFAULT 1,
	last_synced_at DATETIME,
	last_sync_row_count INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL,
	UNIQUE(company_id, external_object_id)
);

CREATE INDEX IF NOT EXISTS idx_links_company ON links(company_id);

CREATE TABLE IF NOT EXISTS contact_mappings (
	link_id TEXT NOT NULL,
	external_id TEXT NOT NULL,
	contact_id TEXT NOT NULL,
	last_synced_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (link_id, external_id),
	FOREIGN KEY (link_id) REFERENCES links(id) ON DELETE CASCADE,
	FOREIGN KEY (contact_id) REFERENCES contacts(id)
);

CREATE INDEX IF NOT EXISTS idx_contact_mappings_contact ON contact_mappings(contact_id);

CREATE TABLE IF NOT EXISTS sync_run_logs (
	id TEXT PRIMARY KEY,
	link_id TEXT NOT NULL,
	sync_type TEXT NOT NULL CHECK(sync_type IN ('full', 'selective')),
	direction TEXT NOT NULL CHECK(direction IN ('inbound', 'outbound', 'bidirectional')),
	created INTEGER NOT NULL DEFAULT 0,
	updated INTEGER NOT NULL DEFAULT 0,
	skipped INTEGER NOT NULL DEFAULT 0,
	errors TEXT,
	status TEXT NOT NULL DEFAULT 'running' CHECK(status IN ('running', 'completed', 'completed_with_errors', 'failed')),
	started_at DATETIME NOT NULL,
	completed_at DATETIME
);

CREATE INDEX IF NOT EXISTS idx_sync_run_logs_link ON sync_run_logs(link_id, started_at DESC);
`

func InitSchema(db *sql.DB) error {
	_, err := db.Exec(schema)
	return err
}
