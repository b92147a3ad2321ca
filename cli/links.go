// ABOUTME: Link management CLI commands
// ABOUTME: Creates, lists, and removes links between companies and external objects
package cli

import (
	"database/sql"
	"flag"
	"fmt"

	"github.com/contactbridge/contactbridge/db"
	"github.com/contactbridge/contactbridge/models"
	"github.com/google/uuid"
)

// LinkCreateCommand links an external spreadsheet or CRM object to a company.
func LinkCreateCommand(database *sql.DB, args []string) error {
	fs := flag.NewFlagSet("create", flag.ExitOnError)
	companyID := fs.String("company", "", "Company ID (required)")
	integration := fs.String("integration", models.SourceGoogleSheets, "Integration tag")
	objectID := fs.String("object", "", "External object ID, e.g. spreadsheet ID (required)")
	tab := fs.String("tab", "", "Sheet tab name")
	direction := fs.String("direction", models.DirectionInbound, "Sync direction: inbound, outbound, or bidirectional")
	_ = fs.Parse(args)

	company, err := uuid.Parse(*companyID)
	if err != nil {
		return fmt.Errorf("invalid company id: %w", err)
	}
	if *objectID == "" {
		return fmt.Errorf("object is required")
	}

	link := &models.Link{
		CompanyID:        company,
		Integration:      *integration,
		ExternalObjectID: *objectID,
		ExternalTab:      *tab,
		Direction:        *direction,
	}

	if err := db.CreateOrUpdateLink(database, link); err != nil {
		return fmt.Errorf("failed to create link: %w", err)
	}

	fmt.Printf("✓ Linked %s (%s) to company %s\n", link.ExternalObjectID, link.Integration, link.CompanyID)
	fmt.Printf("  Link ID: %s\n", link.ID)
	return nil
}

// LinkListCommand lists a company's active links.
func LinkListCommand(database *sql.DB, args []string) error {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	companyID := fs.String("company", "", "Company ID (required)")
	_ = fs.Parse(args)

	company, err := uuid.Parse(*companyID)
	if err != nil {
		return fmt.Errorf("invalid company id: %w", err)
	}

	links, err := db.ListActiveLinks(database, company)
	if err != nil {
		return fmt.Errorf("failed to list links: %w", err)
	}

	if len(links) == 0 {
		fmt.Println("No active links.")
		return nil
	}

	for _, link := range links {
		fmt.Printf("%s  %s  %s  %s", link.ID, link.Integration, link.ExternalObjectID, link.Direction)
		if link.LastSyncedAt != nil {
			fmt.Printf("  last synced %s (%d rows)", link.LastSyncedAt.Format("2006-01-02 15:04"), link.LastSyncRowCount)
		}
		fmt.Println()
	}
	return nil
}

// LinkRemoveCommand deactivates a link. Run logs are kept for audit.
func LinkRemoveCommand(database *sql.DB, args []string) error {
	fs := flag.NewFlagSet("rm", flag.ExitOnError)
	_ = fs.Parse(args)

	if fs.NArg() == 0 {
		return fmt.Errorf("usage: link rm <link-id>")
	}

	id, err := uuid.Parse(fs.Arg(0))
	if err != nil {
		return fmt.Errorf("invalid link id: %w", err)
	}

	if err := db.DeactivateLink(database, id); err != nil {
		return fmt.Errorf("failed to deactivate link: %w", err)
	}

	fmt.Printf("✓ Link %s deactivated\n", id)
	return nil
}
