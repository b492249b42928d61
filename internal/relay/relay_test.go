package relay

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/driftnote/driftnote/internal/event"
	"github.com/driftnote/driftnote/internal/identity"
)

func newSigner(t *testing.T) *identity.LocalSigner {
	t.Helper()
	signer, err := identity.Generate()
	if err != nil {
		t.Fatal(err)
	}
	return signer
}

func signedEnv(t *testing.T, signer identity.Signer, kind int, createdAt int64, tags [][]string, content string) *event.Envelope {
	t.Helper()
	env := &event.Envelope{
		CreatedAt: createdAt,
		Kind:      kind,
		Tags:      tags,
		Content:   content,
	}
	if err := identity.SignEnvelope(signer, env); err != nil {
		t.Fatal(err)
	}
	return env
}

func TestMemoryRelayRejectsUnsigned(t *testing.T) {
	m := NewMemoryRelay()
	env := signedEnv(t, newSigner(t), event.KindShare, 1, [][]string{{"p", "x"}}, "c")
	env.Sig = ""
	if _, err := m.Publish(context.Background(), env); err != ErrUnsigned {
		t.Fatalf("expected ErrUnsigned, got %v", err)
	}
}

func TestPublishRejectsTamperedEvents(t *testing.T) {
	ctx := context.Background()
	signer := newSigner(t)

	// Content altered after signing.
	forged := signedEnv(t, signer, event.KindShare, 1, [][]string{{"p", "x"}}, "c")
	forged.Content = "altered"
	forged.ID = event.ComputeID(forged)

	// Signature from a different key.
	stolen := signedEnv(t, signer, event.KindShare, 2, [][]string{{"p", "x"}}, "c")
	stolen.PubKey = newSigner(t).PublicKey()
	stolen.ID = event.ComputeID(stolen)

	m := NewMemoryRelay()
	fr, err := OpenFileRelay(filepath.Join(t.TempDir(), "relay.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer fr.Close()

	for _, client := range []Client{m, fr} {
		for _, env := range []*event.Envelope{forged, stolen} {
			if _, err := client.Publish(ctx, env); !errors.Is(err, identity.ErrBadSignature) {
				t.Fatalf("expected ErrBadSignature, got %v", err)
			}
		}
		got, err := client.Query(ctx, Filter{Kinds: []int{event.KindShare}})
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != 0 {
			t.Fatalf("rejected event was stored: %d events", len(got))
		}
	}
}

func TestAddressableSupersession(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryRelay()
	signer := newSigner(t)

	old := signedEnv(t, signer, event.KindFileRecord, 100, [][]string{{"d", "f1"}}, "v1")
	newer := signedEnv(t, signer, event.KindFileRecord, 200, [][]string{{"d", "f1"}}, "v2")
	other := signedEnv(t, signer, event.KindFileRecord, 150, [][]string{{"d", "f2"}}, "x")

	for _, env := range []*event.Envelope{old, newer, other} {
		if _, err := m.Publish(ctx, env); err != nil {
			t.Fatalf("Publish failed: %v", err)
		}
	}

	got, err := m.Query(ctx, Filter{Kinds: []int{event.KindFileRecord}, DTags: []string{"f1"}})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(got) != 1 || got[0].Content != "v2" {
		t.Fatalf("expected only the newer f1 event, got %d events", len(got))
	}

	// A stale publish must not clobber the stored newer event.
	stale := signedEnv(t, signer, event.KindFileRecord, 50, [][]string{{"d", "f1"}}, "old")
	if _, err := m.Publish(ctx, stale); err != nil {
		t.Fatalf("stale publish errored: %v", err)
	}
	got, _ = m.Query(ctx, Filter{Kinds: []int{event.KindFileRecord}, DTags: []string{"f1"}})
	if len(got) != 1 || got[0].Content != "v2" {
		t.Fatalf("stale publish superseded a newer event")
	}
}

func TestReplaceablePerAuthor(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryRelay()
	signer := newSigner(t)
	otherSigner := newSigner(t)

	first := signedEnv(t, signer, event.KindMuteList, 100, [][]string{{"p", "a"}}, "")
	second := signedEnv(t, signer, event.KindMuteList, 200, [][]string{{"p", "a"}, {"p", "b"}}, "")
	otherAuthor := signedEnv(t, otherSigner, event.KindMuteList, 150, nil, "")

	for _, env := range []*event.Envelope{first, second, otherAuthor} {
		if _, err := m.Publish(ctx, env); err != nil {
			t.Fatalf("Publish failed: %v", err)
		}
	}

	got, err := m.Query(ctx, Filter{Kinds: []int{event.KindMuteList}})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected one mute list per author, got %d", len(got))
	}
}

func TestImmutableKindsAccumulate(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryRelay()
	signer := newSigner(t)

	for i := 0; i < 3; i++ {
		env := signedEnv(t, signer, event.KindShare, int64(100+i), [][]string{{"p", "rcpt"}}, fmt.Sprintf("c%d", i))
		if _, err := m.Publish(ctx, env); err != nil {
			t.Fatalf("Publish failed: %v", err)
		}
	}

	got, err := m.Query(ctx, Filter{PTags: []string{"rcpt"}})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 shares, got %d", len(got))
	}
	// Newest first.
	if got[0].Content != "c2" {
		t.Fatalf("expected newest first, got %s", got[0].Content)
	}
}

func TestFilterSince(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryRelay()
	signer := newSigner(t)
	for i := int64(1); i <= 3; i++ {
		env := signedEnv(t, signer, event.KindShare, i*100, [][]string{{"p", "r"}}, "")
		if _, err := m.Publish(ctx, env); err != nil {
			t.Fatal(err)
		}
	}
	got, _ := m.Query(ctx, Filter{Since: 200})
	if len(got) != 2 {
		t.Fatalf("Since filter returned %d events, want 2", len(got))
	}
}

func TestFileRelayPersistence(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "relay.db")
	signer := newSigner(t)

	fr, err := OpenFileRelay(path)
	if err != nil {
		t.Fatalf("OpenFileRelay failed: %v", err)
	}
	env := signedEnv(t, signer, event.KindFileRecord, 100, [][]string{{"d", "f1"}}, "v1")
	if _, err := fr.Publish(ctx, env); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if err := fr.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	fr, err = OpenFileRelay(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer fr.Close()

	got, err := fr.Query(ctx, Filter{Authors: []string{signer.PublicKey()}})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(got) != 1 || got[0].Content != "v1" {
		t.Fatalf("event did not survive reopen")
	}

	// Supersession across restarts.
	newer := signedEnv(t, signer, event.KindFileRecord, 200, [][]string{{"d", "f1"}}, "v2")
	if _, err := fr.Publish(ctx, newer); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	got, _ = fr.Query(ctx, Filter{DTags: []string{"f1"}})
	if len(got) != 1 || got[0].Content != "v2" {
		t.Fatalf("supersession failed after reopen, got %d events", len(got))
	}
}

func TestMultiDedup(t *testing.T) {
	ctx := context.Background()
	a := NewMemoryRelay()
	b := NewMemoryRelay()
	multi, err := NewMulti(a, b)
	if err != nil {
		t.Fatalf("NewMulti failed: %v", err)
	}

	env := signedEnv(t, newSigner(t), event.KindShare, 100, [][]string{{"p", "r"}}, "c")
	if _, err := multi.Publish(ctx, env); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	got, err := multi.Query(ctx, Filter{PTags: []string{"r"}})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected deduplicated result, got %d", len(got))
	}

	if _, err := NewMulti(); err != ErrNoRelays {
		t.Fatalf("expected ErrNoRelays, got %v", err)
	}
}
