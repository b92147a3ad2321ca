// ABOUTME: Sync completion notifications
// ABOUTME: Hands the final tally to whatever surfaces it to the user
package sync

import (
	"log"

	"github.com/contactbridge/contactbridge/models"
)

// Notifier receives the final tally of a completed run. Delivery mechanics
// (email, webhooks, in-app) live behind this boundary.
type Notifier interface {
	SyncCompleted(link *models.Link, result *models.SyncResult)
}

// LogNotifier is the default notifier; it writes the tally to the process log.
type LogNotifier struct{}

func (LogNotifier) SyncCompleted(link *models.Link, result *models.SyncResult) {
	log.Printf("sync %s (%s): %d created, %d updated, %d skipped of %d",
		link.Integration, link.ExternalObjectID,
		result.Created, result.Updated, result.Skipped, result.Total)
}

type nopNotifier struct{}

func (nopNotifier) SyncCompleted(*models.Link, *models.SyncResult) {}
