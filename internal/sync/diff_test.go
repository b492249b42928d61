package sync

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/driftnote/driftnote/internal/relay"
)

func TestDetectText(t *testing.T) {
	cases := []struct {
		name string
		data []byte
		want bool
	}{
		{"empty", nil, true},
		{"plain markdown", []byte("# Title\n\nsome text\n"), true},
		{"null byte", []byte("abc\x00def"), false},
		{"invalid utf8", []byte{0xff, 0xfe, 0x41}, false},
		{"mostly control chars", bytes.Repeat([]byte{1, 2, 'a'}, 100), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := detectText(tc.data); got != tc.want {
				t.Errorf("detectText = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestGenerateUnifiedDiff(t *testing.T) {
	diff, err := GenerateUnifiedDiff("a.md", []byte("one\ntwo\n"), []byte("one\ntwo\n"))
	if err != nil || diff != "" {
		t.Fatalf("identical content: %q, %v", diff, err)
	}

	diff, err = GenerateUnifiedDiff("a.md", []byte("one\ntwo\n"), []byte("one\nthree\n"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(diff, "--- remote/a.md") || !strings.Contains(diff, "+++ local/a.md") {
		t.Fatalf("missing headers:\n%s", diff)
	}

	diff, err = GenerateUnifiedDiff("img.md", []byte{0x00, 0x01}, []byte("text"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(diff, "Binary file") {
		t.Fatalf("binary content not flagged: %q", diff)
	}
}

func TestDiffOnFreshVaultPublishesNothing(t *testing.T) {
	signer := newSigner(t)
	client := relay.NewMemoryRelay()
	a := newReplica(t, signer, client)
	a.write(t, "a.md", "alpha")
	ctx := context.Background()

	var buf bytes.Buffer
	if err := a.engine.Diff(ctx, &buf); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("error = %v, want ErrNotInitialized", err)
	}

	// Inspection must leave the relay untouched.
	events, err := client.Query(ctx, relay.Filter{Authors: []string{signer.PublicKey()}})
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 0 {
		t.Fatalf("diff published %d events", len(events))
	}
}

func TestEngineDiff(t *testing.T) {
	signer := newSigner(t)
	client := relay.NewMemoryRelay()
	a := newReplica(t, signer, client)

	a.write(t, "same.md", "unchanged\n")
	a.write(t, "edited.md", "original\n")
	a.write(t, "gone.md", "will vanish\n")
	a.sync(t)

	a.write(t, "edited.md", "modified\n")
	a.write(t, "extra.md", "never synced\n")
	if err := a.fs.Remove("gone.md"); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	if err := a.engine.Diff(context.Background(), &buf); err != nil {
		t.Fatalf("Diff failed: %v", err)
	}
	out := buf.String()

	if strings.Contains(out, "same.md") {
		t.Errorf("unchanged file in output:\n%s", out)
	}
	if !strings.Contains(out, "--- remote/edited.md") {
		t.Errorf("edited file missing:\n%s", out)
	}
	if !strings.Contains(out, "Only remote: gone.md") {
		t.Errorf("remote-only file missing:\n%s", out)
	}
	if !strings.Contains(out, "Only local: extra.md") {
		t.Errorf("local-only file missing:\n%s", out)
	}
}
