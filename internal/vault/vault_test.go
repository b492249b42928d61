package vault

import (
	"testing"

	"github.com/driftnote/driftnote/internal/event"
)

func TestChecksum(t *testing.T) {
	a := Checksum([]byte("hello"))
	b := Checksum([]byte("hello"))
	c := Checksum([]byte("other"))
	if a != b {
		t.Fatal("checksum not deterministic")
	}
	if a == c {
		t.Fatal("different content, same checksum")
	}
	if len(a) != 64 {
		t.Fatalf("expected hex sha256, got %d chars", len(a))
	}
}

func TestShadowed(t *testing.T) {
	v := New("v1", "pk", "notes")
	v.Deleted = []event.Tombstone{{Path: "notes", DeletedAt: 10}, {Path: "solo.md", DeletedAt: 20}}

	cases := []struct {
		path string
		want bool
	}{
		{"notes", true},
		{"notes/a.md", true},
		{"notes/sub/b.md", true},
		{"notes2/a.md", false}, // prefix match must respect the separator
		{"solo.md", true},
		{"solo.md.bak", false},
		{"other.md", false},
	}
	for _, tc := range cases {
		if got := v.Shadowed(tc.path); got != tc.want {
			t.Errorf("Shadowed(%q) = %v, want %v", tc.path, got, tc.want)
		}
	}
}

func TestCovers(t *testing.T) {
	cases := []struct {
		tombstone, path string
		want            bool
	}{
		{"a.md", "a.md", true},
		{"notes", "notes/a.md", true},
		{"notes", "notes2/a.md", false},
		{"notes/a.md", "notes", false},
	}
	for _, tc := range cases {
		if got := Covers(tc.tombstone, tc.path); got != tc.want {
			t.Errorf("Covers(%q, %q) = %v, want %v", tc.tombstone, tc.path, got, tc.want)
		}
	}
}

func TestAddTombstoneDropsCoveredFiles(t *testing.T) {
	v := New("v1", "pk", "notes")
	v.Files["notes/a.md"] = &event.FileRecord{D: "d1", Path: "notes/a.md"}
	v.Files["notes/sub/b.md"] = &event.FileRecord{D: "d2", Path: "notes/sub/b.md"}
	v.Files["keep.md"] = &event.FileRecord{D: "d3", Path: "keep.md"}

	v.AddTombstone(event.Tombstone{Path: "notes", DeletedAt: 100})

	if len(v.Files) != 1 {
		t.Fatalf("expected only keep.md to survive, got %v", v.Files)
	}
	// A path never appears both in Files and Deleted.
	for path := range v.Files {
		if v.Shadowed(path) {
			t.Fatalf("%s is both live and tombstoned", path)
		}
	}

	// Duplicate tombstones are ignored.
	v.AddTombstone(event.Tombstone{Path: "notes", DeletedAt: 200})
	if len(v.Deleted) != 1 {
		t.Fatalf("duplicate tombstone added: %+v", v.Deleted)
	}
}

func TestRemoveTombstone(t *testing.T) {
	v := New("v1", "pk", "notes")
	v.AddTombstone(event.Tombstone{Path: "notes", DeletedAt: 10})
	v.AddTombstone(event.Tombstone{Path: "x.md", DeletedAt: 20})

	v.RemoveTombstone("notes/a.md")

	if v.Shadowed("notes/a.md") {
		t.Fatal("tombstone still covers the path")
	}
	if !v.Shadowed("x.md") {
		t.Fatal("unrelated tombstone removed")
	}
}

func TestTombstoneFor(t *testing.T) {
	v := New("v1", "pk", "notes")
	v.Deleted = []event.Tombstone{
		{Path: "notes", DeletedAt: 10},
		{Path: "notes/a.md", DeletedAt: 50},
	}

	ts, ok := v.TombstoneFor("notes/a.md")
	if !ok || ts.DeletedAt != 50 {
		t.Fatalf("expected the newest covering tombstone, got %+v %v", ts, ok)
	}
	if _, ok := v.TombstoneFor("other.md"); ok {
		t.Fatal("uncovered path reported a tombstone")
	}
}

func TestBuildIndexWinnerPerD(t *testing.T) {
	manifest := &event.VaultRecord{ID: "v1", Author: "pk", Name: "notes"}
	records := []*event.FileRecord{
		{D: "d1", Path: "a.md", Version: 1, Modified: 100, Content: "old"},
		{D: "d1", Path: "a.md", Version: 3, Modified: 150, Content: "new"},
		{D: "d1", Path: "a.md", Version: 2, Modified: 999, Content: "mid"},
		{D: "d2", Path: "b.md", Version: 1, Modified: 100},
	}

	v := BuildIndex(manifest, records)

	if len(v.Files) != 2 {
		t.Fatalf("expected 2 files, got %d", len(v.Files))
	}
	if v.Files["a.md"].Content != "new" || v.Files["a.md"].Version != 3 {
		t.Fatalf("highest version did not win: %+v", v.Files["a.md"])
	}
}

func TestBuildIndexTieBreakByModified(t *testing.T) {
	manifest := &event.VaultRecord{ID: "v1", Author: "pk"}
	records := []*event.FileRecord{
		{D: "d1", Path: "a.md", Version: 2, Modified: 100, Content: "older"},
		{D: "d1", Path: "a.md", Version: 2, Modified: 200, Content: "newer"},
	}
	v := BuildIndex(manifest, records)
	if v.Files["a.md"].Content != "newer" {
		t.Fatalf("modified tie-break failed: %+v", v.Files["a.md"])
	}
}

func TestBuildIndexDropsShadowed(t *testing.T) {
	manifest := &event.VaultRecord{
		ID:      "v1",
		Deleted: []event.Tombstone{{Path: "notes", DeletedAt: 100}},
	}
	records := []*event.FileRecord{
		{D: "d1", Path: "notes/a.md", Version: 1},
		{D: "d2", Path: "live.md", Version: 1},
	}
	v := BuildIndex(manifest, records)
	if _, ok := v.Files["notes/a.md"]; ok {
		t.Fatal("tombstoned record materialized")
	}
	if _, ok := v.Files["live.md"]; !ok {
		t.Fatal("live record missing")
	}
}

func TestCloneIsDeep(t *testing.T) {
	v := New("v1", "pk", "notes")
	v.Files["a.md"] = &event.FileRecord{D: "d1", Path: "a.md", Version: 1}
	v.Deleted = []event.Tombstone{{Path: "x.md", DeletedAt: 1}}

	cp := v.Clone()
	cp.Files["a.md"].Version = 99
	cp.Deleted[0].Path = "changed"

	if v.Files["a.md"].Version != 1 {
		t.Fatal("clone shares file records")
	}
	if v.Deleted[0].Path != "x.md" {
		t.Fatal("clone shares tombstones")
	}
}

func TestNewID(t *testing.T) {
	a, err := NewID()
	if err != nil {
		t.Fatal(err)
	}
	b, _ := NewID()
	if a == b {
		t.Fatal("ids collide")
	}
	if len(a) != 32 {
		t.Fatalf("expected 32 hex chars, got %d", len(a))
	}
}
