// ABOUTME: Sync CLI commands
// ABOUTME: Handles OAuth setup and triggering sync runs with progress output
package cli

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"net/http"
	"os/exec"
	"runtime"
	"strings"

	"github.com/contactbridge/contactbridge/db"
	"github.com/contactbridge/contactbridge/models"
	syncpkg "github.com/contactbridge/contactbridge/sync"
	"github.com/google/uuid"
	"golang.org/x/oauth2"
)

// SyncInitCommand handles OAuth setup for the Google Sheets integration.
func SyncInitCommand(database *sql.DB, args []string) error {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	_ = fs.Parse(args)

	ctx := context.Background()
	config := syncpkg.NewOAuthConfig()

	// Start local server for OAuth callback
	callbackChan := make(chan *oauth2.Token)
	errChan := make(chan error)

	http.HandleFunc("/oauth/callback", func(w http.ResponseWriter, r *http.Request) {
		code := r.URL.Query().Get("code")
		if code == "" {
			errChan <- fmt.Errorf("no authorization code received")
			return
		}

		token, err := config.Exchange(ctx, code)
		if err != nil {
			errChan <- fmt.Errorf("failed to exchange code: %w", err)
			return
		}

		callbackChan <- token
		_, _ = fmt.Fprintf(w, "Authorization successful! You can close this window.")
	})

	server := &http.Server{Addr: ":8080"}
	go func() {
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	authURL := config.AuthCodeURL("state", oauth2.AccessTypeOffline)

	fmt.Println("Opening browser for Google OAuth...")
	fmt.Printf("\nIf browser doesn't open, visit this URL:\n%s\n\n", authURL)

	_ = openBrowser(authURL)

	select {
	case token := <-callbackChan:
		_ = server.Shutdown(ctx)

		if err := syncpkg.SaveToken(token); err != nil {
			return fmt.Errorf("failed to save token: %w", err)
		}

		fmt.Printf("\n✓ Authenticated successfully\n")
		fmt.Printf("✓ Tokens saved to %s\n\n", syncpkg.TokenPath())
		fmt.Println("Ready to sync! Run 'contactbridge sync run --link <id>' to start.")
		return nil

	case err := <-errChan:
		_ = server.Shutdown(ctx)
		return fmt.Errorf("OAuth flow failed: %w", err)
	}
}

// SyncRunCommand triggers a sync run for a link.
func SyncRunCommand(database *sql.DB, args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	linkID := fs.String("link", "", "Link ID (required)")
	idsFlag := fs.String("ids", "", "Comma-separated external ids for a selective sync")
	_ = fs.Parse(args)

	id, err := uuid.Parse(*linkID)
	if err != nil {
		return fmt.Errorf("invalid link id: %w", err)
	}

	link, err := db.GetLink(database, id)
	if err != nil {
		return fmt.Errorf("failed to load link: %w", err)
	}
	if link == nil {
		return fmt.Errorf("link %s not found", id)
	}

	ctx := context.Background()

	token, err := syncpkg.LoadToken()
	if err != nil {
		return fmt.Errorf("no authentication token found. Run 'contactbridge sync init' first: %w", err)
	}

	svc, err := syncpkg.NewSheetsService(ctx, token)
	if err != nil {
		return fmt.Errorf("failed to create Sheets client: %w", err)
	}
	adapter := syncpkg.NewSheetsAdapter(svc)

	engine := syncpkg.NewEngine(database)
	engine.SetNotifier(syncpkg.LogNotifier{})

	opts := syncpkg.Options{Progress: printProgress}
	if *idsFlag != "" {
		opts.IDs = strings.Split(*idsFlag, ",")
	}

	switch link.Direction {
	case models.DirectionBidirectional:
		result, err := engine.RunBidirectional(ctx, link, adapter, adapter, opts)
		if err != nil {
			return fmt.Errorf("sync failed: %w", err)
		}
		printResult("inbound", &result.Inbound)
		printResult("outbound", &result.Outbound)

	case models.DirectionOutbound:
		result, err := engine.RunOutbound(ctx, link, adapter, opts)
		if err != nil {
			return fmt.Errorf("sync failed: %w", err)
		}
		printResult("outbound", result)

	default:
		result, err := engine.RunInbound(ctx, link, adapter, opts)
		if err != nil {
			return fmt.Errorf("sync failed: %w", err)
		}
		printResult("inbound", result)
	}

	return nil
}

// SyncRunsCommand shows recent runs for a link.
func SyncRunsCommand(database *sql.DB, args []string) error {
	fs := flag.NewFlagSet("runs", flag.ExitOnError)
	linkID := fs.String("link", "", "Link ID (required)")
	limit := fs.Int("limit", 10, "How many runs to show")
	_ = fs.Parse(args)

	id, err := uuid.Parse(*linkID)
	if err != nil {
		return fmt.Errorf("invalid link id: %w", err)
	}

	runs, err := db.ListRuns(database, id, *limit)
	if err != nil {
		return fmt.Errorf("failed to list runs: %w", err)
	}

	if len(runs) == 0 {
		fmt.Println("No runs yet.")
		return nil
	}

	for _, run := range runs {
		fmt.Printf("%s  %s/%s  %s  created=%d updated=%d skipped=%d",
			run.ID, run.SyncType, run.Direction, run.Status, run.Created, run.Updated, run.Skipped)
		if len(run.Errors) > 0 {
			fmt.Printf("  errors=%d", len(run.Errors))
		}
		fmt.Println()
	}
	return nil
}

func printProgress(p models.Progress) {
	switch p.Phase {
	case models.PhaseReading:
		fmt.Printf("  → %s\n", p.Message)
	case models.PhaseImporting:
		fmt.Printf("  → %s\n", p.Message)
	case models.PhaseComplete:
		fmt.Printf("  ✓ %s\n", p.Message)
	case models.PhaseError:
		fmt.Printf("  ✗ %s\n", p.Message)
	}
}

func printResult(label string, result *models.SyncResult) {
	fmt.Printf("\n✓ %s: %d created, %d updated, %d skipped of %d\n",
		label, result.Created, result.Updated, result.Skipped, result.Total)
	for _, e := range result.Errors {
		fmt.Printf("  ✗ %s\n", e)
	}
}

// openBrowser attempts to open URL in default browser
func openBrowser(url string) error {
	var cmd string
	var args []string

	switch runtime.GOOS {
	case "darwin":
		cmd = "open"
		args = []string{url}
	case "windows":
		cmd = "cmd"
		args = []string{"/c", "start", url}
	default:
		cmd = "xdg-open"
		args = []string{url}
	}

	command := exec.Command(cmd, args...)
	return command.Start()
}
