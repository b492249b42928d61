package cmd

import (
	"context"
	"fmt"
)

// Prefs syncs preferences and prints the merged result.
func Prefs(ctx context.Context) {
	app, err := OpenApp(true)
	if err != nil {
		HandleError(err)
	}
	defer app.Close()

	merged, err := app.Orch.SyncPreferences(ctx)
	if err != nil {
		HandleError(err)
	}
	if merged == nil {
		fmt.Println("No preferences saved yet")
		return
	}

	fmt.Println("Bookmarks:")
	if len(merged.Bookmarks) == 0 {
		fmt.Println("  (none)")
	}
	for _, b := range merged.Bookmarks {
		fmt.Printf("  %s\n", b)
	}
	fmt.Println("Saved searches:")
	if len(merged.SavedSearches) == 0 {
		fmt.Println("  (none)")
	}
	for _, s := range merged.SavedSearches {
		fmt.Printf("  %s\n", s)
	}
}

// Bookmark adds a bookmark and publishes the updated preferences.
func Bookmark(ctx context.Context, path string) {
	app, err := OpenApp(true)
	if err != nil {
		HandleError(err)
	}
	defer app.Close()

	if err := app.Orch.AddBookmark(ctx, path); err != nil {
		HandleError(err)
	}
	fmt.Printf("Bookmarked %s\n", path)
}

// SavedSearch saves a search query and publishes the updated
// preferences.
func SavedSearch(ctx context.Context, query string) {
	app, err := OpenApp(true)
	if err != nil {
		HandleError(err)
	}
	defer app.Close()

	if err := app.Orch.AddSavedSearch(ctx, query); err != nil {
		HandleError(err)
	}
	fmt.Printf("Saved search %q\n", query)
}
