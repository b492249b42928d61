package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/driftnote/driftnote/internal/watch"
)

// Sync runs one reconciliation pass and prints its report.
func Sync(ctx context.Context) {
	app, err := OpenApp(true)
	if err != nil {
		HandleError(err)
	}
	defer app.Close()

	report, err := app.Orch.SyncNow(ctx)
	if err != nil {
		HandleError(err)
	}

	if app.Config.VaultID == "" && report.Vault != nil {
		app.Config.VaultID = report.Vault.ID
		if err := app.Config.Save(app.Root); err != nil {
			fmt.Fprintf(os.Stderr, "warning: could not pin vault id: %s\n", err)
		}
	}

	if _, err := app.Orch.SyncPreferences(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "warning: preferences sync failed: %s\n", err)
	}

	if report.Clean() {
		fmt.Println("Already in sync")
		return
	}
	printList("Uploaded", report.Uploaded)
	printList("Downloaded", report.Downloaded)
	printList("Deleted remotely", report.DeletedRemote)
	printList("Deleted locally", report.DeletedLocal)
	printList("Skipped (IO errors)", report.SkippedIO)
	printList("Failed to publish", report.FailedPublish)
}

func printList(label string, paths []string) {
	if len(paths) == 0 {
		return
	}
	fmt.Printf("%s:\n", label)
	for _, p := range paths {
		fmt.Printf("  %s\n", p)
	}
}

// Status shows the vault state without syncing.
func Status(ctx context.Context) {
	app, err := OpenApp(true)
	if err != nil {
		HandleError(err)
	}
	defer app.Close()

	status, syncErr := app.Orch.Status()
	fmt.Printf("Vault: %s\n", app.Root)
	fmt.Printf("Identity: %s\n", app.Signer.PublicKey())
	fmt.Printf("Sync: %s\n", status)
	if syncErr != nil {
		fmt.Printf("Last error: %s\n", syncErr)
	}

	snap, err := app.Store.LoadSnapshot(app.Signer.PublicKey())
	if err != nil {
		HandleError(err)
	}
	if snap == nil {
		fmt.Println("No sync has completed yet")
		return
	}
	fmt.Printf("Last sync: %s\n", time.Unix(snap.SyncedAt, 0).Format(time.RFC3339))
	fmt.Printf("Remote files: %d (tombstones: %d)\n", snap.Files, snap.Deleted)

	shares, err := app.Orch.PollShares(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: could not fetch shares: %s\n", err)
		return
	}
	unread := 0
	for _, sh := range shares {
		if !sh.Read {
			unread++
		}
	}
	if unread > 0 {
		fmt.Printf("Unread shares: %d (run 'driftnote shares')\n", unread)
	}
}

// Watch runs continuous sync: a debounced filesystem watcher plus a
// polling ticker for shares and preferences.
func Watch(ctx context.Context) {
	app, err := OpenApp(true)
	if err != nil {
		HandleError(err)
	}
	defer app.Close()

	trigger := func() {
		if _, err := app.Orch.SyncNow(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "sync failed: %s\n", err)
		}
	}

	w, err := watch.New(app.Root, app.Config.Extensions, app.Config.Debounce, trigger, app.Logger)
	if err != nil {
		HandleError(err)
	}
	defer w.Close()

	// Initial pass before settling into watch mode.
	trigger()

	go func() {
		ticker := time.NewTicker(app.Config.PollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				trigger()
				if _, err := app.Orch.SyncPreferences(ctx); err != nil {
					fmt.Fprintf(os.Stderr, "preferences sync failed: %s\n", err)
				}
			}
		}
	}()

	fmt.Printf("Watching %s (Ctrl-C to stop)\n", app.Root)
	if err := w.Run(ctx); err != nil && ctx.Err() == nil {
		HandleError(err)
	}
}

// Diff prints unified diffs between local files and their remote
// records.
func Diff(ctx context.Context) {
	app, err := OpenApp(true)
	if err != nil {
		HandleError(err)
	}
	defer app.Close()

	if err := app.Orch.Diff(ctx, os.Stdout); err != nil {
		HandleError(err)
	}
}

// Search scans tracked files for a query string.
func Search(query string) {
	app, err := OpenApp(false)
	if err != nil {
		HandleError(err)
	}
	defer app.Close()

	hits, err := app.FS.Search(query)
	if err != nil {
		HandleError(err)
	}
	if len(hits) == 0 {
		fmt.Println("No matches")
		return
	}
	for _, hit := range hits {
		fmt.Printf("%s:%d: %s\n", hit.Path, hit.Line, hit.Text)
	}
}
