// ABOUTME: Entry point for the contactbridge CLI
// ABOUTME: Routes to link, sync, and serve commands and opens the database
package main

import (
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/adrg/xdg"
	"github.com/contactbridge/contactbridge/cli"
	"github.com/contactbridge/contactbridge/db"
	"github.com/joho/godotenv"
)

const version = "0.1.0"

func main() {
	// .env carries the Google OAuth client credentials in development
	_ = godotenv.Load()

	showVersion := flag.Bool("version", false, "Show version and exit")
	dbPath := flag.String("db-path", "", "Database path (default: ~/.local/share/contactbridge/contactbridge.db)")
	_ = flag.CommandLine.Parse(os.Args[1:])

	if *showVersion {
		fmt.Printf("contactbridge version %s\n", version)
		os.Exit(0)
	}

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(0)
	}

	database, err := db.OpenDatabase(getDatabasePath(*dbPath))
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer database.Close()

	command := args[0]
	commandArgs := args[1:]

	switch command {
	case "link":
		if err := runLinkCommand(database, commandArgs); err != nil {
			log.Fatalf("link command failed: %v", err)
		}

	case "sync":
		if err := runSyncCommand(database, commandArgs); err != nil {
			log.Fatalf("sync command failed: %v", err)
		}

	case "serve":
		if err := cli.ServeCommand(database, commandArgs); err != nil {
			log.Fatalf("serve failed: %v", err)
		}

	default:
		fmt.Printf("Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}
}

func runLinkCommand(database *sql.DB, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: link <create|list|rm>")
	}
	switch args[0] {
	case "create":
		return cli.LinkCreateCommand(database, args[1:])
	case "list":
		return cli.LinkListCommand(database, args[1:])
	case "rm":
		return cli.LinkRemoveCommand(database, args[1:])
	default:
		return fmt.Errorf("unknown link subcommand: %s", args[0])
	}
}

func runSyncCommand(database *sql.DB, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: sync <init|run|runs>")
	}
	switch args[0] {
	case "init":
		return cli.SyncInitCommand(database, args[1:])
	case "run":
		return cli.SyncRunCommand(database, args[1:])
	case "runs":
		return cli.SyncRunsCommand(database, args[1:])
	default:
		return fmt.Errorf("unknown sync subcommand: %s", args[0])
	}
}

func getDatabasePath(override string) string {
	if override != "" {
		return override
	}
	if envPath := os.Getenv("CONTACTBRIDGE_DB_PATH"); envPath != "" {
		return envPath
	}
	return filepath.Join(xdg.DataHome, "contactbridge", "contactbridge.db")
}

func printUsage() {
	fmt.Println("contactbridge - keep contacts in sync with spreadsheets and CRMs")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  contactbridge link create --company <id> --object <spreadsheet-id> [--tab Sheet1] [--direction inbound]")
	fmt.Println("  contactbridge link list --company <id>")
	fmt.Println("  contactbridge link rm <link-id>")
	fmt.Println("  contactbridge sync init")
	fmt.Println("  contactbridge sync run --link <id> [--ids 1,2,3]")
	fmt.Println("  contactbridge sync runs --link <id>")
	fmt.Println("  contactbridge serve [--port 8090]")
}
