package sync

import (
	"context"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/driftnote/driftnote/internal/event"
	"github.com/driftnote/driftnote/internal/identity"
	"github.com/driftnote/driftnote/internal/prefs"
	"github.com/driftnote/driftnote/internal/share"
	"github.com/driftnote/driftnote/internal/state"
	"github.com/driftnote/driftnote/internal/vault"
)

// Status of the orchestrator as reported to the UI.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusSyncing Status = "syncing"
	StatusError   Status = "error"
)

// ErrorCooldown is how long a failed sync keeps Status at error before
// reverting to idle.
const ErrorCooldown = 30 * time.Second

// VaultSession is the cached view of the last completed sync. Readers
// get clones; the orchestrator is the only writer.
type VaultSession struct {
	Vault    *vault.Vault
	Report   *Report
	SyncedAt time.Time
}

// Orchestrator serializes sync passes for one vault and sequences the
// secondary flows (shares, preferences) around them.
type Orchestrator struct {
	engine *Engine
	shares *share.Engine
	prefs  *prefs.Sync
	store  *state.Store
	signer identity.Signer
	logger *zap.Logger

	syncMu sync.Mutex // held for the duration of a pass

	mu      sync.Mutex // guards the fields below
	session *VaultSession
	syncing bool
	lastErr error
	errorAt time.Time
}

// NewOrchestrator wires the engines together.
func NewOrchestrator(engine *Engine, shares *share.Engine, prefsSync *prefs.Sync, store *state.Store, signer identity.Signer, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		engine: engine,
		shares: shares,
		prefs:  prefsSync,
		store:  store,
		signer: signer,
		logger: logger,
	}
}

// SyncNow runs one reconciliation pass. Sync is single-flight per vault:
// a trigger that arrives while a pass is running returns
// ErrSyncInProgress without doing any work.
func (o *Orchestrator) SyncNow(ctx context.Context) (*Report, error) {
	if !o.syncMu.TryLock() {
		return nil, ErrSyncInProgress
	}
	defer o.syncMu.Unlock()

	o.setSyncing(true)
	report, err := o.engine.Reconcile(ctx)
	o.setSyncing(false)

	if err != nil {
		o.setError(err)
		return report, err
	}

	o.mu.Lock()
	o.session = &VaultSession{
		Vault:    report.Vault.Clone(),
		Report:   report,
		SyncedAt: time.Now(),
	}
	o.lastErr = nil
	o.mu.Unlock()

	o.logger.Info("sync complete",
		zap.Int("uploaded", len(report.Uploaded)),
		zap.Int("downloaded", len(report.Downloaded)),
		zap.Int("deleted_remote", len(report.DeletedRemote)),
		zap.Int("deleted_local", len(report.DeletedLocal)),
		zap.Int("skipped_io", len(report.SkippedIO)),
		zap.Int("failed_publish", len(report.FailedPublish)))
	return report, nil
}

func (o *Orchestrator) setSyncing(on bool) {
	o.mu.Lock()
	o.syncing = on
	o.mu.Unlock()
}

func (o *Orchestrator) setError(err error) {
	o.mu.Lock()
	o.lastErr = err
	o.errorAt = time.Now()
	o.mu.Unlock()
}

// Status reports the current sync state. An error state reverts to idle
// after ErrorCooldown so a transient failure does not stick forever.
func (o *Orchestrator) Status() (Status, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.syncing {
		return StatusSyncing, nil
	}
	if o.lastErr != nil && time.Since(o.errorAt) < ErrorCooldown {
		return StatusError, o.lastErr
	}
	return StatusIdle, nil
}

// Session returns a clone of the last completed sync's cached state, or
// nil when no sync has completed in this process.
func (o *Orchestrator) Session() *VaultSession {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.session == nil {
		return nil
	}
	return &VaultSession{
		Vault:    o.session.Vault.Clone(),
		Report:   o.session.Report,
		SyncedAt: o.session.SyncedAt,
	}
}

// Diff writes unified diffs for files that differ from their remote
// records. Read-only; it can run alongside a sync.
func (o *Orchestrator) Diff(ctx context.Context, w io.Writer) error {
	return o.engine.Diff(ctx, w)
}

// PollShares fetches the current mute-filtered incoming shares.
func (o *Orchestrator) PollShares(ctx context.Context) ([]share.IncomingShare, error) {
	return o.shares.FetchSharedWithMe(ctx)
}

// SyncPreferences merges the remote preference blob into local state.
// The merge is a union; it applies only when the remote record is newer
// than the last merge, and republishes when the union adds entries the
// remote does not have.
func (o *Orchestrator) SyncPreferences(ctx context.Context) (*event.PreferencesRecord, error) {
	if o.signer == nil {
		return nil, identity.ErrNotAuthenticated
	}
	pubkey := o.signer.PublicKey()

	local, err := o.store.LocalPreferences(pubkey)
	if err != nil {
		return nil, err
	}
	remote, err := o.prefs.Fetch(ctx)
	if err != nil {
		return nil, err
	}

	if remote == nil {
		if local != nil {
			if err := o.prefs.Save(ctx, local); err != nil {
				return nil, err
			}
		}
		return local, nil
	}

	mergedAt, err := o.store.MergedAt(pubkey)
	if err != nil {
		return nil, err
	}
	if remote.UpdatedAt <= mergedAt {
		return local, nil
	}

	merged := prefs.Union(local, remote)
	if err := o.store.SaveLocalPreferences(pubkey, merged); err != nil {
		return nil, err
	}
	if err := o.store.SetMergedAt(pubkey, remote.UpdatedAt); err != nil {
		return nil, err
	}
	if !prefs.Equal(merged, remote) {
		merged.UpdatedAt = time.Now().Unix()
		if err := o.prefs.Save(ctx, merged); err != nil {
			return nil, err
		}
	}
	return merged, nil
}

// AddBookmark adds a bookmark locally and publishes the updated blob.
func (o *Orchestrator) AddBookmark(ctx context.Context, path string) error {
	return o.addPreference(ctx, path, "")
}

// AddSavedSearch adds a saved search locally and publishes the updated
// blob.
func (o *Orchestrator) AddSavedSearch(ctx context.Context, query string) error {
	return o.addPreference(ctx, "", query)
}

func (o *Orchestrator) addPreference(ctx context.Context, bookmark, search string) error {
	if o.signer == nil {
		return identity.ErrNotAuthenticated
	}
	pubkey := o.signer.PublicKey()

	local, err := o.store.LocalPreferences(pubkey)
	if err != nil {
		return err
	}
	addition := &event.PreferencesRecord{}
	if bookmark != "" {
		addition.Bookmarks = []string{bookmark}
	}
	if search != "" {
		addition.SavedSearches = []string{search}
	}

	merged := prefs.Union(local, addition)
	merged.UpdatedAt = time.Now().Unix()
	if err := o.store.SaveLocalPreferences(pubkey, merged); err != nil {
		return err
	}
	if err := o.prefs.Save(ctx, merged); err != nil {
		return err
	}
	return o.store.SetMergedAt(pubkey, merged.UpdatedAt)
}
