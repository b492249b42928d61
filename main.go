package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/driftnote/driftnote/cmd"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "init":
		runInit(ctx, os.Args[2:])
	case "sync":
		runSync(ctx, os.Args[2:])
	case "status":
		runStatus(ctx, os.Args[2:])
	case "watch":
		runWatch(ctx, os.Args[2:])
	case "diff":
		runDiff(ctx, os.Args[2:])
	case "search":
		runSearch(ctx, os.Args[2:])
	case "share":
		runShare(ctx, os.Args[2:])
	case "shares":
		runShares(ctx, os.Args[2:])
	case "read":
		runRead(ctx, os.Args[2:])
	case "revoke":
		runRevoke(ctx, os.Args[2:])
	case "import":
		runImport(ctx, os.Args[2:])
	case "mute":
		runMute(ctx, os.Args[2:])
	case "mutes":
		runMutes(ctx, os.Args[2:])
	case "prefs":
		runPrefs(ctx, os.Args[2:])
	case "bookmark":
		runBookmark(ctx, os.Args[2:])
	case "saved-search":
		runSavedSearch(ctx, os.Args[2:])
	case "identity":
		runIdentity(ctx, os.Args[2:])
	case "help", "-h", "--help":
		if len(os.Args) <= 2 {
			printUsage()
			return
		}
		printCommandHelp(os.Args[2])
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func runInit(_ context.Context, args []string) {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}

	cmd.Init()
}

func runSync(ctx context.Context, args []string) {
	fs := flag.NewFlagSet("sync", flag.ExitOnError)
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}

	cmd.Sync(ctx)
}

func runStatus(ctx context.Context, args []string) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}

	cmd.Status(ctx)
}

func runWatch(ctx context.Context, args []string) {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}

	cmd.Watch(ctx)
}

func runDiff(ctx context.Context, args []string) {
	fs := flag.NewFlagSet("diff", flag.ExitOnError)
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}

	cmd.Diff(ctx)
}

func runSearch(_ context.Context, args []string) {
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Usage: driftnote search <query>")
		os.Exit(1)
	}

	cmd.Search(fs.Arg(0))
}

func runShare(ctx context.Context, args []string) {
	fs := flag.NewFlagSet("share", flag.ExitOnError)
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
	if fs.NArg() < 2 {
		fmt.Fprintln(os.Stderr, "Usage: driftnote share <path> <recipient-pubkey>")
		os.Exit(1)
	}

	cmd.Share(ctx, fs.Arg(0), fs.Arg(1))
}

func runShares(ctx context.Context, args []string) {
	fs := flag.NewFlagSet("shares", flag.ExitOnError)
	sent := fs.Bool("sent", false, "List shares you sent instead of received")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}

	cmd.Shares(ctx, *sent)
}

func runRead(ctx context.Context, args []string) {
	fs := flag.NewFlagSet("read", flag.ExitOnError)
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Usage: driftnote read <share-id>")
		os.Exit(1)
	}

	cmd.Read(ctx, fs.Arg(0))
}

func runRevoke(ctx context.Context, args []string) {
	fs := flag.NewFlagSet("revoke", flag.ExitOnError)
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Usage: driftnote revoke <share-id>")
		os.Exit(1)
	}

	cmd.Revoke(ctx, fs.Arg(0))
}

func runImport(ctx context.Context, args []string) {
	fs := flag.NewFlagSet("import", flag.ExitOnError)
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Usage: driftnote import <share-id>")
		os.Exit(1)
	}

	cmd.Import(ctx, fs.Arg(0))
}

func runMute(ctx context.Context, args []string) {
	fs := flag.NewFlagSet("mute", flag.ExitOnError)
	private := fs.Bool("private", false, "Keep the muted key encrypted in the published list")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Usage: driftnote mute [--private] <pubkey>")
		os.Exit(1)
	}

	cmd.Mute(ctx, fs.Arg(0), *private)
}

func runMutes(ctx context.Context, args []string) {
	fs := flag.NewFlagSet("mutes", flag.ExitOnError)
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}

	cmd.Mutes(ctx)
}

func runPrefs(ctx context.Context, args []string) {
	fs := flag.NewFlagSet("prefs", flag.ExitOnError)
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}

	cmd.Prefs(ctx)
}

func runBookmark(ctx context.Context, args []string) {
	fs := flag.NewFlagSet("bookmark", flag.ExitOnError)
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Usage: driftnote bookmark <path>")
		os.Exit(1)
	}

	cmd.Bookmark(ctx, fs.Arg(0))
}

func runSavedSearch(ctx context.Context, args []string) {
	fs := flag.NewFlagSet("saved-search", flag.ExitOnError)
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Usage: driftnote saved-search <query>")
		os.Exit(1)
	}

	cmd.SavedSearch(ctx, fs.Arg(0))
}

func runIdentity(_ context.Context, args []string) {
	if len(args) == 0 {
		cmd.IdentityShow()
		return
	}
	switch args[0] {
	case "export":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "Usage: driftnote identity export <file>")
			os.Exit(1)
		}
		cmd.IdentityExport(args[1])
	case "import":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "Usage: driftnote identity import <file>")
			os.Exit(1)
		}
		cmd.IdentityImport(args[1])
	default:
		fmt.Fprintf(os.Stderr, "Unknown identity subcommand: %s\n", args[0])
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("driftnote - Peer-synchronized markdown vault")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  driftnote <command> [arguments]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  init          Prepare this directory as a vault and create an identity")
	fmt.Println("  sync          Reconcile the vault with its relays")
	fmt.Println("  status        Show vault and sync state")
	fmt.Println("  watch         Sync continuously on file changes")
	fmt.Println("  diff          Show differences between local files and remote records")
	fmt.Println("  search        Search tracked files")
	fmt.Println("  share         Send an encrypted document to a peer")
	fmt.Println("  shares        List received (or --sent) shares")
	fmt.Println("  read          Show a received share and mark it read")
	fmt.Println("  revoke        Withdraw a share you sent")
	fmt.Println("  import        Pull a received share into the vault")
	fmt.Println("  mute          Mute a sender")
	fmt.Println("  mutes         Show the mute list")
	fmt.Println("  prefs         Sync and show bookmarks and saved searches")
	fmt.Println("  bookmark      Bookmark a note")
	fmt.Println("  saved-search  Save a search query")
	fmt.Println("  identity      Show, export or import the identity")
	fmt.Println("  help          Show help for a command")
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  driftnote init                       # Set up this directory")
	fmt.Println("  driftnote sync                       # One reconciliation pass")
	fmt.Println("  driftnote share notes/a.md <pubkey>  # Share a note")
	fmt.Println("  driftnote watch                      # Continuous sync")
	fmt.Println()
	fmt.Println("Use 'driftnote help <command>' for more information about a command.")
}

func printCommandHelp(command string) {
	switch command {
	case "init":
		fmt.Println("driftnote init")
		fmt.Println()
		fmt.Println("Writes the vault config file and creates a signing identity when")
		fmt.Println("none exists. The identity seed goes to the OS keyring, or to a")
		fmt.Println("passphrase-encrypted file when no keyring is available.")
	case "sync":
		fmt.Println("driftnote sync")
		fmt.Println()
		fmt.Println("Runs one reconciliation pass: uploads local changes, downloads")
		fmt.Println("remote changes, publishes tombstones for deleted files and merges")
		fmt.Println("preferences. Conflicts resolve by modification time; on a tie the")
		fmt.Println("local copy wins.")
	case "status":
		fmt.Println("driftnote status")
		fmt.Println()
		fmt.Println("Shows the identity, last sync summary and unread share count.")
	case "watch":
		fmt.Println("driftnote watch")
		fmt.Println()
		fmt.Println("Watches the vault and syncs after each debounced burst of file")
		fmt.Println("changes, plus on a polling interval. Stop with Ctrl-C.")
	case "diff":
		fmt.Println("driftnote diff")
		fmt.Println()
		fmt.Println("Prints unified diffs between local files and their remote records")
		fmt.Println("without changing anything.")
	case "search":
		fmt.Println("driftnote search <query>")
		fmt.Println()
		fmt.Println("Case-insensitive search over tracked files.")
	case "share":
		fmt.Println("driftnote share <path> <recipient-pubkey>")
		fmt.Println()
		fmt.Println("Encrypts the file to the recipient and publishes it. Only the")
		fmt.Println("recipient can decrypt the content.")
	case "shares":
		fmt.Println("driftnote shares [--sent]")
		fmt.Println()
		fmt.Println("Lists shares addressed to you (unread marked with *), or shares")
		fmt.Println("you sent with --sent. Muted senders are filtered out.")
	case "read":
		fmt.Println("driftnote read <share-id>")
		fmt.Println()
		fmt.Println("Prints a received share and marks it read.")
	case "revoke":
		fmt.Println("driftnote revoke <share-id>")
		fmt.Println()
		fmt.Println("Publishes a revocation for a share you sent. Revoked shares no")
		fmt.Println("longer appear in 'shares --sent'.")
	case "import":
		fmt.Println("driftnote import <share-id>")
		fmt.Println()
		fmt.Println("Publishes a received share's content into your vault. The next")
		fmt.Println("sync writes it to the local tree.")
	case "mute":
		fmt.Println("driftnote mute [--private] <pubkey>")
		fmt.Println()
		fmt.Println("Adds a sender to the mute list; their shares stop appearing.")
		fmt.Println("With --private the entry is encrypted so only you can see it.")
	case "mutes":
		fmt.Println("driftnote mutes")
		fmt.Println()
		fmt.Println("Shows public and private mute entries.")
	case "prefs":
		fmt.Println("driftnote prefs")
		fmt.Println()
		fmt.Println("Merges remote preferences into local state and prints the result.")
		fmt.Println("The merge is a union; entries added on any device propagate.")
	case "bookmark":
		fmt.Println("driftnote bookmark <path>")
	case "saved-search":
		fmt.Println("driftnote saved-search <query>")
	case "identity":
		fmt.Println("driftnote identity [export <file> | import <file>]")
		fmt.Println()
		fmt.Println("Without arguments prints the public key. Export writes a")
		fmt.Println("passphrase-encrypted backup of the private key; import restores")
		fmt.Println("one, replacing the current identity.")
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		printUsage()
	}
}
