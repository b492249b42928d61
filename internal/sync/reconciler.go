// Package sync reconciles the local vault directory against the remote
// event store: one reconciliation pass per call, per-file failure
// isolation, and an orchestrator that serializes passes and owns the
// cached session state.
package sync

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/driftnote/driftnote/internal/event"
	"github.com/driftnote/driftnote/internal/identity"
	"github.com/driftnote/driftnote/internal/relay"
	"github.com/driftnote/driftnote/internal/state"
	"github.com/driftnote/driftnote/internal/vault"
	"github.com/driftnote/driftnote/internal/vaultfs"
)

var (
	ErrSyncInProgress = errors.New("sync already in progress")
	ErrNotInitialized = errors.New("vault not initialized")
)

// Report summarizes one reconciliation pass. IO failures and rejected
// publishes are counted per file; neither aborts the pass.
type Report struct {
	Uploaded      []string
	Downloaded    []string
	DeletedRemote []string
	DeletedLocal  []string
	SkippedIO     []string
	FailedPublish []string

	Vault *vault.Vault
}

// Clean reports whether the pass changed nothing and hit no failures.
func (r *Report) Clean() bool {
	return len(r.Uploaded) == 0 && len(r.Downloaded) == 0 &&
		len(r.DeletedRemote) == 0 && len(r.DeletedLocal) == 0 &&
		len(r.SkippedIO) == 0 && len(r.FailedPublish) == 0
}

// Engine runs reconciliation passes for one vault.
type Engine struct {
	signer identity.Signer
	client relay.Client
	fs     vaultfs.FS
	store  *state.Store
	logger *zap.Logger

	// vaultID pins the vault this engine syncs; empty adopts the first
	// manifest found (or creates one).
	vaultID string
}

// NewEngine creates a reconciliation engine.
func NewEngine(signer identity.Signer, client relay.Client, fs vaultfs.FS, store *state.Store, vaultID string, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		signer:  signer,
		client:  client,
		fs:      fs,
		store:   store,
		logger:  logger,
		vaultID: vaultID,
	}
}

// Reconcile runs one full pass and returns its report. The pass is
// resumable: every completed publish and download holds even if a later
// step fails or the context is cancelled. Cancellation is honored
// between per-file steps, never mid-write.
func (e *Engine) Reconcile(ctx context.Context) (*Report, error) {
	if e.signer == nil {
		return nil, identity.ErrNotAuthenticated
	}

	v, err := e.fetchOrCreateVault(ctx)
	if err != nil {
		return nil, err
	}
	report := &Report{Vault: v}
	pubkey := e.signer.PublicKey()

	entries, err := e.fs.List()
	if err != nil {
		return nil, err
	}
	local := make(map[string]vaultfs.Entry, len(entries))
	for _, entry := range entries {
		local[entry.Path] = entry
	}

	manifestDirty := false

	// Phase 1: local files, both-sides conflicts and fresh uploads.
	for _, path := range sortedKeys(local) {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		entry := local[path]

		content, err := e.fs.Read(path)
		if err != nil {
			e.logger.Warn("cannot read local file", zap.String("path", path), zap.Error(err))
			report.SkippedIO = append(report.SkippedIO, path)
			continue
		}
		checksum := vault.Checksum(content)

		rec, known := v.Files[path]
		if !known {
			// A local file the remote index does not list. A covering
			// tombstone that postdates the local copy means a peer
			// deleted it; otherwise this is a new file (or a recreation,
			// which lifts the tombstone and cancels any pending
			// deletion).
			if t, ok := v.TombstoneFor(path); ok && t.DeletedAt >= entry.ModTime.Unix() {
				if err := e.fs.Remove(path); err != nil {
					e.logger.Warn("cannot delete local file", zap.String("path", path), zap.Error(err))
					report.SkippedIO = append(report.SkippedIO, path)
					continue
				}
				report.DeletedLocal = append(report.DeletedLocal, path)
				continue
			}
			if err := e.store.RemovePendingDeletion(pubkey, path); err != nil {
				return report, err
			}
			if v.Shadowed(path) {
				v.RemoveTombstone(path)
				manifestDirty = true
			}
			e.uploadNew(ctx, v, path, content, checksum, entry.ModTime, report)
			continue
		}

		if rec.Checksum == checksum {
			continue
		}

		cached, err := e.store.Version(pubkey, rec.D)
		if err != nil {
			return report, err
		}
		localModified := entry.ModTime.Unix()
		if rec.Modified > localModified && rec.Version >= cached {
			// Remote strictly newer, download.
			if err := e.fs.Write(path, []byte(rec.Content)); err != nil {
				e.logger.Warn("cannot write local file", zap.String("path", path), zap.Error(err))
				report.SkippedIO = append(report.SkippedIO, path)
				continue
			}
			if err := e.store.SetVersion(pubkey, rec.D, rec.Version); err != nil {
				return report, err
			}
			report.Downloaded = append(report.Downloaded, path)
			continue
		}

		// Local newer, or equal timestamps: local wins.
		next := &event.FileRecord{
			D:        rec.D,
			VaultID:  v.ID,
			Path:     path,
			Content:  string(content),
			Checksum: checksum,
			Version:  rec.Version + 1,
			Modified: localModified,
		}
		if err := e.publishRecord(ctx, next); err != nil {
			e.logger.Warn("upload rejected", zap.String("path", path), zap.Error(err))
			report.FailedPublish = append(report.FailedPublish, path)
			continue
		}
		v.Files[path] = next
		if err := e.store.SetVersion(pubkey, next.D, next.Version); err != nil {
			return report, err
		}
		report.Uploaded = append(report.Uploaded, path)
	}

	// Phase 2: remote records with no local counterpart. A file we
	// synced before (version cached) that vanished locally is a local
	// deletion; everything else is a download candidate.
	remotePaths := sortedKeys(v.Files)
	for _, path := range remotePaths {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if _, exists := local[path]; exists {
			continue
		}
		rec := v.Files[path]

		cached, err := e.store.Version(pubkey, rec.D)
		if err != nil {
			return report, err
		}
		if cached > 0 {
			if err := e.store.AddPendingDeletion(pubkey, path, time.Now().Unix()); err != nil {
				return report, err
			}
			continue
		}

		pending, err := e.store.PendingDeletions(pubkey)
		if err != nil {
			return report, err
		}
		if coveredByAny(path, pending) {
			continue
		}

		if err := e.fs.Write(path, []byte(rec.Content)); err != nil {
			e.logger.Warn("cannot write local file", zap.String("path", path), zap.Error(err))
			report.SkippedIO = append(report.SkippedIO, path)
			continue
		}
		if err := e.store.SetVersion(pubkey, rec.D, rec.Version); err != nil {
			return report, err
		}
		report.Downloaded = append(report.Downloaded, path)
	}

	// Phase 3: turn pending deletions into tombstones and republish the
	// manifest once. A failed publish keeps every path pending for the
	// next pass.
	pending, err := e.store.PendingDeletions(pubkey)
	if err != nil {
		return report, err
	}
	var tombstoned []string
	for _, t := range pending {
		if e.fs.Exists(t.Path) {
			// Recreated since it was recorded.
			if err := e.store.RemovePendingDeletion(pubkey, t.Path); err != nil {
				return report, err
			}
			continue
		}
		v.AddTombstone(t)
		tombstoned = append(tombstoned, t.Path)
		manifestDirty = true
	}

	if manifestDirty {
		if err := e.publishManifest(ctx, v); err != nil {
			e.logger.Warn("manifest publish rejected", zap.Error(err))
			report.FailedPublish = append(report.FailedPublish, "manifest")
		} else {
			for _, path := range tombstoned {
				if err := e.store.RemovePendingDeletion(pubkey, path); err != nil {
					return report, err
				}
				report.DeletedRemote = append(report.DeletedRemote, path)
			}
		}
	}

	if err := e.saveSnapshot(v); err != nil {
		return report, err
	}
	return report, nil
}

// uploadNew publishes a brand-new file record; failures are recorded in
// the report.
func (e *Engine) uploadNew(ctx context.Context, v *vault.Vault, path string, content []byte, checksum string, modTime time.Time, report *Report) {
	d, err := vault.NewID()
	if err != nil {
		report.FailedPublish = append(report.FailedPublish, path)
		return
	}
	rec := &event.FileRecord{
		D:        d,
		VaultID:  v.ID,
		Path:     path,
		Content:  string(content),
		Checksum: checksum,
		Version:  1,
		Modified: modTime.Unix(),
	}
	if err := e.publishRecord(ctx, rec); err != nil {
		e.logger.Warn("upload rejected", zap.String("path", path), zap.Error(err))
		report.FailedPublish = append(report.FailedPublish, path)
		return
	}
	v.Files[path] = rec
	if err := e.store.SetVersion(e.signer.PublicKey(), d, 1); err != nil {
		e.logger.Warn("uploaded but version cache write failed", zap.String("path", path), zap.Error(err))
	}
	report.Uploaded = append(report.Uploaded, path)
}

func (e *Engine) publishRecord(ctx context.Context, rec event.Record) error {
	env, err := event.Encode(rec)
	if err != nil {
		return err
	}
	env.CreatedAt = time.Now().Unix()
	if err := identity.SignEnvelope(e.signer, env); err != nil {
		return err
	}
	_, err = e.client.Publish(ctx, env)
	return err
}

func (e *Engine) publishManifest(ctx context.Context, v *vault.Vault) error {
	return e.publishRecord(ctx, v.Manifest())
}

// fetchManifest loads the vault manifest from the relay, or nil when
// the vault has never been published.
func (e *Engine) fetchManifest(ctx context.Context) (*event.VaultRecord, error) {
	filter := relay.Filter{
		Authors: []string{e.signer.PublicKey()},
		Kinds:   []int{event.KindVaultManifest},
	}
	if e.vaultID != "" {
		filter.DTags = []string{e.vaultID}
	}
	manifests, err := e.client.Query(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch vault manifest: %w", err)
	}

	for _, env := range manifests {
		rec, err := event.Decode(env)
		if err != nil {
			e.logger.Warn("skipping undecodable manifest", zap.String("event_id", env.ID))
			continue
		}
		return rec.(*event.VaultRecord), nil
	}
	return nil, nil
}

// loadIndex fetches the vault's file records and materializes the index.
func (e *Engine) loadIndex(ctx context.Context, manifest *event.VaultRecord) (*vault.Vault, error) {
	e.vaultID = manifest.ID

	recordEvents, err := e.client.Query(ctx, relay.Filter{
		Authors: []string{e.signer.PublicKey()},
		Kinds:   []int{event.KindFileRecord},
		VTags:   []string{manifest.ID},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch file records: %w", err)
	}

	var records []*event.FileRecord
	for _, env := range recordEvents {
		rec, err := event.Decode(env)
		if err != nil {
			e.logger.Warn("skipping undecodable file record", zap.String("event_id", env.ID))
			continue
		}
		records = append(records, rec.(*event.FileRecord))
	}
	return vault.BuildIndex(manifest, records), nil
}

// fetchVault is the read-only counterpart of fetchOrCreateVault, for
// inspection paths that must never publish. Returns ErrNotInitialized
// when the vault has never been synced.
func (e *Engine) fetchVault(ctx context.Context) (*vault.Vault, error) {
	manifest, err := e.fetchManifest(ctx)
	if err != nil {
		return nil, err
	}
	if manifest == nil {
		return nil, ErrNotInitialized
	}
	return e.loadIndex(ctx, manifest)
}

// fetchOrCreateVault loads the vault manifest and file records from the
// relay, creating and publishing a fresh manifest when none exists.
func (e *Engine) fetchOrCreateVault(ctx context.Context) (*vault.Vault, error) {
	manifest, err := e.fetchManifest(ctx)
	if err != nil {
		return nil, err
	}

	if manifest == nil {
		id := e.vaultID
		if id == "" {
			if id, err = vault.NewID(); err != nil {
				return nil, err
			}
		}
		manifest = &event.VaultRecord{
			ID:     id,
			Author: e.signer.PublicKey(),
			Name:   filepath.Base(e.fs.Root()),
		}
		if err := e.publishRecord(ctx, manifest); err != nil {
			return nil, fmt.Errorf("failed to publish vault manifest: %w", err)
		}
		e.logger.Info("created vault", zap.String("vault_id", id), zap.String("name", manifest.Name))
	}
	return e.loadIndex(ctx, manifest)
}

func (e *Engine) saveSnapshot(v *vault.Vault) error {
	checksums := make(map[string]string, len(v.Files))
	for path, rec := range v.Files {
		checksums[path] = rec.Checksum
	}
	return e.store.SaveSnapshot(e.signer.PublicKey(), &state.Snapshot{
		VaultID:  v.ID,
		Name:     v.Name,
		Files:    len(v.Files),
		Deleted:  len(v.Deleted),
		SyncedAt: time.Now().Unix(),
		Checksum: checksums,
	})
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func coveredByAny(path string, tombstones []event.Tombstone) bool {
	for _, t := range tombstones {
		if vault.Covers(t.Path, path) {
			return true
		}
	}
	return false
}
