package sync

import (
	"context"
	"errors"
	"testing"

	"github.com/driftnote/driftnote/internal/event"
	"github.com/driftnote/driftnote/internal/identity"
	"github.com/driftnote/driftnote/internal/prefs"
	"github.com/driftnote/driftnote/internal/relay"
	"github.com/driftnote/driftnote/internal/share"
	"github.com/driftnote/driftnote/internal/state"
)

type orchHarness struct {
	orch   *Orchestrator
	rep    *replica
	signer identity.Signer
	prefs  *prefs.Sync
	store  *state.Store
}

func newOrchestrator(t *testing.T, signer identity.Signer, client relay.Client) *orchHarness {
	t.Helper()
	rep := newReplica(t, signer, client)
	prefsSync := prefs.New(signer, client, nil)
	shares := share.New(signer, client, rep.store, nil)
	return &orchHarness{
		orch:   NewOrchestrator(rep.engine, shares, prefsSync, rep.store, signer, nil),
		rep:    rep,
		signer: signer,
		prefs:  prefsSync,
		store:  rep.store,
	}
}

func TestSyncNowUpdatesSession(t *testing.T) {
	h := newOrchestrator(t, newSigner(t), relay.NewMemoryRelay())
	ctx := context.Background()

	if h.orch.Session() != nil {
		t.Fatal("session before first sync")
	}

	h.rep.write(t, "a.md", "alpha")
	report, err := h.orch.SyncNow(ctx)
	if err != nil {
		t.Fatalf("SyncNow failed: %v", err)
	}
	if len(report.Uploaded) != 1 {
		t.Fatalf("report = %+v", report)
	}

	session := h.orch.Session()
	if session == nil || session.Vault == nil {
		t.Fatal("no session after sync")
	}
	if _, ok := session.Vault.Files["a.md"]; !ok {
		t.Fatalf("session vault missing the file: %+v", session.Vault.Files)
	}

	// Sessions are clones; mutating one must not leak back.
	delete(session.Vault.Files, "a.md")
	if _, ok := h.orch.Session().Vault.Files["a.md"]; !ok {
		t.Fatal("session mutation leaked into the orchestrator")
	}

	status, err := h.orch.Status()
	if err != nil || status != StatusIdle {
		t.Fatalf("status = %v, %v", status, err)
	}
}

func TestStatusErrorAfterFailedSync(t *testing.T) {
	h := newOrchestrator(t, nil, relay.NewMemoryRelay())

	_, err := h.orch.SyncNow(context.Background())
	if !errors.Is(err, identity.ErrNotAuthenticated) {
		t.Fatalf("error = %v", err)
	}

	status, err := h.orch.Status()
	if status != StatusError || err == nil {
		t.Fatalf("status = %v, %v", status, err)
	}
}

// gatedClient blocks the first Query until released, letting a test hold
// a sync pass open.
type gatedClient struct {
	relay.Client
	enter   chan struct{}
	release chan struct{}
}

func (g *gatedClient) Query(ctx context.Context, f relay.Filter) ([]*event.Envelope, error) {
	select {
	case g.enter <- struct{}{}:
		<-g.release
	default:
	}
	return g.Client.Query(ctx, f)
}

func TestSyncNowSingleFlight(t *testing.T) {
	gate := &gatedClient{
		Client:  relay.NewMemoryRelay(),
		enter:   make(chan struct{}),
		release: make(chan struct{}),
	}
	h := newOrchestrator(t, newSigner(t), gate)
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		_, err := h.orch.SyncNow(ctx)
		done <- err
	}()

	<-gate.enter

	if _, err := h.orch.SyncNow(ctx); !errors.Is(err, ErrSyncInProgress) {
		t.Fatalf("concurrent sync error = %v, want ErrSyncInProgress", err)
	}
	status, _ := h.orch.Status()
	if status != StatusSyncing {
		t.Fatalf("status mid-pass = %v", status)
	}

	close(gate.release)
	if err := <-done; err != nil {
		t.Fatalf("first sync failed: %v", err)
	}
	status, _ = h.orch.Status()
	if status != StatusIdle {
		t.Fatalf("status after pass = %v", status)
	}
}

func TestSyncPreferencesPublishesLocalWhenRemoteEmpty(t *testing.T) {
	client := relay.NewMemoryRelay()
	h := newOrchestrator(t, newSigner(t), client)
	ctx := context.Background()

	got, err := h.orch.SyncPreferences(ctx)
	if err != nil || got != nil {
		t.Fatalf("empty identity: %+v, %v", got, err)
	}

	local := &event.PreferencesRecord{Bookmarks: []string{"local.md"}, UpdatedAt: 10}
	if err := h.store.SaveLocalPreferences(h.signer.PublicKey(), local); err != nil {
		t.Fatal(err)
	}

	got, err = h.orch.SyncPreferences(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || len(got.Bookmarks) != 1 {
		t.Fatalf("merged = %+v", got)
	}

	remote, err := h.prefs.Fetch(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if remote == nil || !prefs.Equal(remote, local) {
		t.Fatalf("local blob not republished: %+v", remote)
	}
}

func TestSyncPreferencesUnionAndRepublish(t *testing.T) {
	client := relay.NewMemoryRelay()
	h := newOrchestrator(t, newSigner(t), client)
	ctx := context.Background()
	pubkey := h.signer.PublicKey()

	if err := h.store.SaveLocalPreferences(pubkey, &event.PreferencesRecord{
		Bookmarks: []string{"local.md"},
		UpdatedAt: 10,
	}); err != nil {
		t.Fatal(err)
	}
	// Another device published a different blob.
	if err := h.prefs.Save(ctx, &event.PreferencesRecord{
		Bookmarks: []string{"remote.md"},
		UpdatedAt: 20,
	}); err != nil {
		t.Fatal(err)
	}

	merged, err := h.orch.SyncPreferences(ctx)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"local.md", "remote.md"}
	if len(merged.Bookmarks) != 2 || merged.Bookmarks[0] != want[0] || merged.Bookmarks[1] != want[1] {
		t.Fatalf("merged = %v, want %v", merged.Bookmarks, want)
	}

	// The union had entries the remote lacked, so it was republished.
	remote, err := h.prefs.Fetch(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !prefs.Equal(remote, merged) {
		t.Fatalf("remote after merge = %+v", remote)
	}

	// The merge point is recorded; an unchanged remote is not re-merged.
	mergedAt, err := h.store.MergedAt(pubkey)
	if err != nil || mergedAt == 0 {
		t.Fatalf("MergedAt = %d, %v", mergedAt, err)
	}
}

func TestSyncPreferencesSkipsStaleRemote(t *testing.T) {
	client := relay.NewMemoryRelay()
	h := newOrchestrator(t, newSigner(t), client)
	ctx := context.Background()
	pubkey := h.signer.PublicKey()

	if err := h.prefs.Save(ctx, &event.PreferencesRecord{
		Bookmarks: []string{"remote.md"},
		UpdatedAt: 20,
	}); err != nil {
		t.Fatal(err)
	}
	if err := h.store.SetMergedAt(pubkey, 20); err != nil {
		t.Fatal(err)
	}
	local := &event.PreferencesRecord{Bookmarks: []string{"local.md"}, UpdatedAt: 30}
	if err := h.store.SaveLocalPreferences(pubkey, local); err != nil {
		t.Fatal(err)
	}

	got, err := h.orch.SyncPreferences(ctx)
	if err != nil {
		t.Fatal(err)
	}
	// Already merged at 20, so the local blob stands untouched.
	if !prefs.Equal(got, local) {
		t.Fatalf("stale remote was merged: %+v", got)
	}
}

func TestAddBookmark(t *testing.T) {
	client := relay.NewMemoryRelay()
	h := newOrchestrator(t, newSigner(t), client)
	ctx := context.Background()

	if err := h.orch.AddBookmark(ctx, "notes/a.md"); err != nil {
		t.Fatalf("AddBookmark failed: %v", err)
	}
	if err := h.orch.AddSavedSearch(ctx, "todo"); err != nil {
		t.Fatalf("AddSavedSearch failed: %v", err)
	}

	remote, err := h.prefs.Fetch(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if remote == nil {
		t.Fatal("nothing published")
	}
	if len(remote.Bookmarks) != 1 || remote.Bookmarks[0] != "notes/a.md" {
		t.Fatalf("bookmarks = %v", remote.Bookmarks)
	}
	if len(remote.SavedSearches) != 1 || remote.SavedSearches[0] != "todo" {
		t.Fatalf("saved searches = %v", remote.SavedSearches)
	}
}
