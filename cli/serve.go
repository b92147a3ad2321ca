// ABOUTME: HTTP API server CLI command
// ABOUTME: Wires adapters into the engine and serves the link management API
package cli

import (
	"context"
	"database/sql"
	"flag"
	"fmt"

	syncpkg "github.com/contactbridge/contactbridge/sync"
	"github.com/contactbridge/contactbridge/web"
)

// ServeCommand starts the link management HTTP API.
func ServeCommand(database *sql.DB, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	port := fs.Int("port", 8090, "Port to listen on")
	_ = fs.Parse(args)

	engine := syncpkg.NewEngine(database)
	engine.SetNotifier(syncpkg.LogNotifier{})

	server := web.NewServer(database, engine)

	// Sheets is the only adapter wired by default; CRM adapters register
	// here once their provider clients are configured.
	if token, err := syncpkg.LoadToken(); err == nil {
		svc, err := syncpkg.NewSheetsService(context.Background(), token)
		if err != nil {
			return fmt.Errorf("failed to create Sheets client: %w", err)
		}
		server.RegisterAdapter(syncpkg.NewSheetsAdapter(svc))
	} else {
		fmt.Println("No Google token found; sheet sync disabled until 'sync init' runs.")
	}

	return server.Start(*port)
}
