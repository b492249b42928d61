// Package vault models the remote view of a vault: the manifest, the
// winning file record per logical file, and the tombstone list.
package vault

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/driftnote/driftnote/internal/crypto"
	"github.com/driftnote/driftnote/internal/event"
)

// NewID generates a random hex identifier, used for vault ids and the
// stable address of new file records.
func NewID() (string, error) {
	b, err := crypto.GenerateRandom(16)
	if err != nil {
		return "", fmt.Errorf("failed to generate id: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// Vault is the materialized remote state for one vault.
type Vault struct {
	ID          string
	Author      string
	Name        string
	Description string
	// Files maps vault-relative path to its winning record.
	Files map[string]*event.FileRecord
	// Deleted lists tombstoned paths. A path never appears both here and
	// in Files.
	Deleted []event.Tombstone
}

// New creates an empty vault.
func New(id, author, name string) *Vault {
	return &Vault{
		ID:     id,
		Author: author,
		Name:   name,
		Files:  make(map[string]*event.FileRecord),
	}
}

// Checksum returns the hex SHA-256 of content, the checksum format used
// in file records.
func Checksum(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// Shadowed reports whether a tombstone covers the path. A tombstone for
// "notes" shadows "notes" itself and everything under "notes/".
func (v *Vault) Shadowed(path string) bool {
	for _, t := range v.Deleted {
		if Covers(t.Path, path) {
			return true
		}
	}
	return false
}

// Covers reports whether a tombstone path covers the given path: an
// exact match, or the path sits under the tombstoned folder.
func Covers(tombstone, path string) bool {
	if tombstone == path {
		return true
	}
	return len(path) > len(tombstone) &&
		path[:len(tombstone)] == tombstone &&
		path[len(tombstone)] == '/'
}

// TombstoneFor returns the covering tombstone with the latest deletion
// time, if any.
func (v *Vault) TombstoneFor(path string) (event.Tombstone, bool) {
	var best event.Tombstone
	found := false
	for _, t := range v.Deleted {
		if Covers(t.Path, path) && (!found || t.DeletedAt > best.DeletedAt) {
			best = t
			found = true
		}
	}
	return best, found
}

// AddTombstone records a deletion, dropping any file entries the new
// tombstone shadows. Duplicate tombstones are ignored.
func (v *Vault) AddTombstone(t event.Tombstone) {
	for _, existing := range v.Deleted {
		if existing.Path == t.Path {
			return
		}
	}
	v.Deleted = append(v.Deleted, t)
	for path := range v.Files {
		if Covers(t.Path, path) {
			delete(v.Files, path)
		}
	}
}

// RemoveTombstone drops tombstones covering the path. Called when a path
// reappears locally and is re-uploaded.
func (v *Vault) RemoveTombstone(path string) {
	kept := v.Deleted[:0]
	for _, t := range v.Deleted {
		if !Covers(t.Path, path) {
			kept = append(kept, t)
		}
	}
	v.Deleted = kept
}

// Manifest returns the vault manifest record for publishing.
func (v *Vault) Manifest() *event.VaultRecord {
	return &event.VaultRecord{
		ID:          v.ID,
		Author:      v.Author,
		Name:        v.Name,
		Description: v.Description,
		Deleted:     append([]event.Tombstone(nil), v.Deleted...),
	}
}

// Clone returns a deep copy. The orchestrator hands clones to readers so
// a running sync never mutates a snapshot someone else holds.
func (v *Vault) Clone() *Vault {
	cp := &Vault{
		ID:          v.ID,
		Author:      v.Author,
		Name:        v.Name,
		Description: v.Description,
		Files:       make(map[string]*event.FileRecord, len(v.Files)),
		Deleted:     append([]event.Tombstone(nil), v.Deleted...),
	}
	for path, rec := range v.Files {
		recCopy := *rec
		cp.Files[path] = &recCopy
	}
	return cp
}

// BuildIndex materializes a vault from its manifest and file record
// events. For each logical file (d address) the highest version wins,
// ties broken by the newer modified time. Records shadowed by a
// tombstone are dropped; when two d addresses claim the same path the
// same rule picks the winner.
func BuildIndex(manifest *event.VaultRecord, records []*event.FileRecord) *Vault {
	v := &Vault{
		ID:          manifest.ID,
		Author:      manifest.Author,
		Name:        manifest.Name,
		Description: manifest.Description,
		Files:       make(map[string]*event.FileRecord),
		Deleted:     append([]event.Tombstone(nil), manifest.Deleted...),
	}

	byD := make(map[string]*event.FileRecord)
	for _, rec := range records {
		if current, ok := byD[rec.D]; !ok || newer(rec, current) {
			byD[rec.D] = rec
		}
	}

	for _, rec := range byD {
		if v.Shadowed(rec.Path) {
			continue
		}
		if current, ok := v.Files[rec.Path]; !ok || newer(rec, current) {
			v.Files[rec.Path] = rec
		}
	}
	return v
}

func newer(a, b *event.FileRecord) bool {
	if a.Version != b.Version {
		return a.Version > b.Version
	}
	return a.Modified > b.Modified
}
