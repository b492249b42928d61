package cmd

import (
	"errors"
	"fmt"
	"os"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/driftnote/driftnote/internal/config"
	"github.com/driftnote/driftnote/internal/crypto"
	"github.com/driftnote/driftnote/internal/identity"
	"github.com/driftnote/driftnote/internal/prefs"
	"github.com/driftnote/driftnote/internal/relay"
	"github.com/driftnote/driftnote/internal/share"
	"github.com/driftnote/driftnote/internal/state"
	syncpkg "github.com/driftnote/driftnote/internal/sync"
	"github.com/driftnote/driftnote/internal/vaultfs"
)

// App holds the wired engine stack for one vault directory.
type App struct {
	Root   string
	Config *config.Config
	FS     *vaultfs.OSFS
	Store  *state.Store
	Relay  relay.Client
	Signer *identity.LocalSigner
	Shares *share.Engine
	Orch   *syncpkg.Orchestrator
	Logger *zap.Logger

	fileRelays []*relay.FileRelay
}

// OpenApp builds the stack for the current directory. With
// requireIdentity the stored identity must exist and load.
func OpenApp(requireIdentity bool) (*App, error) {
	root, err := os.Getwd()
	if err != nil {
		return nil, err
	}

	cfg, err := config.Load(root)
	if err != nil {
		return nil, err
	}

	logger := zap.NewNop()
	if os.Getenv("DRIFTNOTE_DEBUG") != "" {
		logger, err = zap.NewDevelopment()
		if err != nil {
			return nil, err
		}
	}

	app := &App{Root: root, Config: cfg, Logger: logger}

	app.FS, err = vaultfs.New(root, cfg.Extensions)
	if err != nil {
		return nil, err
	}

	app.Store, err = state.Open(stateFilePath(root))
	if err != nil {
		app.Close()
		return nil, err
	}

	var clients []relay.Client
	for _, path := range cfg.Relays {
		fr, err := relay.OpenFileRelay(path)
		if err != nil {
			app.Close()
			return nil, fmt.Errorf("relay %s: %w", path, err)
		}
		app.fileRelays = append(app.fileRelays, fr)
		clients = append(clients, fr)
	}
	app.Relay, err = relay.NewMulti(clients...)
	if err != nil {
		app.Close()
		return nil, err
	}

	idStore := identity.NewStore(root)
	idStore.Passphrase = func() ([]byte, error) {
		return ReadPassphrase("Identity passphrase: ")
	}
	app.Signer, err = idStore.Load()
	if err != nil {
		if requireIdentity || !errors.Is(err, identity.ErrNoIdentity) {
			app.Close()
			return nil, err
		}
	}

	var signer identity.Signer
	if app.Signer != nil {
		signer = app.Signer
	}
	app.Shares = share.New(signer, app.Relay, app.Store, logger)
	engine := syncpkg.NewEngine(signer, app.Relay, app.FS, app.Store, cfg.VaultID, logger)
	prefsSync := prefs.New(signer, app.Relay, logger)
	app.Orch = syncpkg.NewOrchestrator(engine, app.Shares, prefsSync, app.Store, signer, logger)

	return app, nil
}

func stateFilePath(root string) string {
	return root + string(os.PathSeparator) + state.DefaultFile
}

// Close releases every handle the app opened. Safe on a partially built
// app.
func (a *App) Close() {
	for _, fr := range a.fileRelays {
		fr.Close()
	}
	if a.Store != nil {
		a.Store.Close()
	}
	if a.FS != nil {
		a.FS.Close()
	}
}

// ReadPassphrase prompts on the terminal without echo. The caller clears
// the returned bytes.
func ReadPassphrase(prompt string) ([]byte, error) {
	fmt.Print(prompt)
	pass, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		return nil, fmt.Errorf("failed to read passphrase: %w", err)
	}
	return pass, nil
}

// ReadPassphraseConfirm prompts twice and verifies both entries match.
func ReadPassphraseConfirm() ([]byte, error) {
	pass, err := ReadPassphrase("Passphrase: ")
	if err != nil {
		return nil, err
	}
	again, err := ReadPassphrase("Confirm passphrase: ")
	if err != nil {
		return nil, err
	}
	if !crypto.ConstantTimeCompare(pass, again) {
		crypto.ClearBytes(pass)
		crypto.ClearBytes(again)
		return nil, errors.New("passphrases do not match")
	}
	crypto.ClearBytes(again)
	return pass, nil
}

// HandleError prints a friendly message for sentinel errors and exits.
func HandleError(err error) {
	switch {
	case errors.Is(err, identity.ErrNoIdentity):
		fmt.Fprintf(os.Stderr, "Error: no identity found\n")
		fmt.Fprintf(os.Stderr, "Run 'driftnote init' first\n")
	case errors.Is(err, identity.ErrNotAuthenticated):
		fmt.Fprintf(os.Stderr, "Error: not authenticated\n")
		fmt.Fprintf(os.Stderr, "Run 'driftnote init' first\n")
	case errors.Is(err, syncpkg.ErrSyncInProgress):
		fmt.Fprintf(os.Stderr, "Error: a sync is already running\n")
	case errors.Is(err, syncpkg.ErrNotInitialized):
		fmt.Fprintf(os.Stderr, "Error: vault not synced yet\n")
		fmt.Fprintf(os.Stderr, "Run 'driftnote sync' first\n")
	case errors.Is(err, share.ErrEncryption):
		fmt.Fprintf(os.Stderr, "Error: could not encrypt for that recipient; check the public key\n")
	case errors.Is(err, share.ErrShareNotFound):
		fmt.Fprintf(os.Stderr, "Error: no such share\n")
	default:
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
	}
	os.Exit(1)
}
