package cmd

import (
	"context"
	"fmt"
	"time"
)

// Share encrypts a vault file to a recipient and publishes it.
func Share(ctx context.Context, path, recipient string) {
	app, err := OpenApp(true)
	if err != nil {
		HandleError(err)
	}
	defer app.Close()

	content, err := app.FS.Read(path)
	if err != nil {
		HandleError(fmt.Errorf("cannot read %s: %w", path, err))
	}

	eventID, err := app.Shares.ShareFile(ctx, path, string(content), recipient)
	if err != nil {
		HandleError(err)
	}
	fmt.Printf("Shared %s with %s\n", path, recipient)
	fmt.Printf("Share id: %s\n", eventID)
}

// Shares lists received shares, or sent shares with sent=true.
func Shares(ctx context.Context, sent bool) {
	app, err := OpenApp(true)
	if err != nil {
		HandleError(err)
	}
	defer app.Close()

	if sent {
		shares, err := app.Shares.FetchSentShares(ctx)
		if err != nil {
			HandleError(err)
		}
		if len(shares) == 0 {
			fmt.Println("No sent shares")
			return
		}
		for _, sh := range shares {
			fmt.Printf("%s  %s -> %s  (%s)\n",
				sh.EventID, sh.Path, sh.Recipient,
				time.Unix(sh.CreatedAt, 0).Format(time.RFC3339))
		}
		return
	}

	shares, err := app.Orch.PollShares(ctx)
	if err != nil {
		HandleError(err)
	}
	if len(shares) == 0 {
		fmt.Println("No shares")
		return
	}
	for _, sh := range shares {
		marker := " "
		if !sh.Read {
			marker = "*"
		}
		fmt.Printf("%s %s  %s from %s  (%s)\n",
			marker, sh.EventID, sh.Path, sh.Sender,
			time.Unix(sh.CreatedAt, 0).Format(time.RFC3339))
	}
}

// Read prints a received share's content and marks it read.
func Read(ctx context.Context, eventID string) {
	app, err := OpenApp(true)
	if err != nil {
		HandleError(err)
	}
	defer app.Close()

	shares, err := app.Orch.PollShares(ctx)
	if err != nil {
		HandleError(err)
	}
	for _, sh := range shares {
		if sh.EventID != eventID {
			continue
		}
		fmt.Printf("From: %s\nPath: %s\n\n%s\n", sh.Sender, sh.Path, sh.Content)
		if err := app.Shares.MarkShareAsRead(eventID); err != nil {
			HandleError(err)
		}
		return
	}
	fmt.Printf("No share with id %s\n", eventID)
}

// Revoke withdraws a share this identity sent.
func Revoke(ctx context.Context, eventID string) {
	app, err := OpenApp(true)
	if err != nil {
		HandleError(err)
	}
	defer app.Close()

	if err := app.Shares.RevokeShare(ctx, eventID); err != nil {
		HandleError(err)
	}
	fmt.Printf("Revoked %s\n", eventID)
}

// Import publishes a received share into the vault. The next sync
// downloads it into the local tree.
func Import(ctx context.Context, eventID string) {
	app, err := OpenApp(true)
	if err != nil {
		HandleError(err)
	}
	defer app.Close()

	// Sync first so the vault index is current, then supersede an
	// existing logical file when the shared path is already in it.
	if _, err := app.Orch.SyncNow(ctx); err != nil {
		HandleError(err)
	}
	session := app.Orch.Session()

	existingD := ""
	version := 0
	shares, err := app.Orch.PollShares(ctx)
	if err != nil {
		HandleError(err)
	}
	for _, sh := range shares {
		if sh.EventID == eventID {
			if rec, ok := session.Vault.Files[sh.Path]; ok {
				existingD = rec.D
				version = rec.Version
			}
			break
		}
	}

	if err := app.Shares.ImportSharedDocument(ctx, eventID, session.Vault.ID, existingD, version); err != nil {
		HandleError(err)
	}
	fmt.Println("Imported; run 'driftnote sync' to pull it into the vault")
}
