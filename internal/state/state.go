// Package state persists the engine's local bookkeeping in a bbolt
// database inside the vault root: pending deletions, the preferences
// merge timestamp, share read flags, sent-share metadata, per-file
// version cache and the last vault snapshot. Every key is scoped by the
// identity pubkey so switching identities never bleeds state. All writes
// are synchronous transactions.
package state

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	bolt "go.etcd.io/bbolt"

	"github.com/driftnote/driftnote/internal/event"
)

// DefaultFile is the state database filename inside the vault root.
const DefaultFile = ".driftnote.db"

// Bucket names
var (
	pendingBucket  = []byte("pending")  // pubkey|path -> deleted_at (8 bytes)
	prefsBucket    = []byte("prefs")    // pubkey -> local preferences JSON; pubkey|merged_at -> ts
	flagsBucket    = []byte("flags")    // pubkey|event_id -> 1 (share read flags)
	sharesBucket   = []byte("shares")   // pubkey|event_id -> sent share JSON
	versionsBucket = []byte("versions") // pubkey|d -> version (8 bytes)
	snapshotBucket = []byte("snapshot") // pubkey -> vault snapshot JSON
)

// Store is the local state database.
type Store struct {
	db *bolt.DB
}

// Open opens or creates the state database at path.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open state database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{pendingBucket, prefsBucket, flagsBucket, sharesBucket, versionsBucket, snapshotBucket}
		for _, bucket := range buckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func scoped(pubkey, key string) []byte {
	return []byte(pubkey + "|" + key)
}

// AddPendingDeletion records a local deletion awaiting tombstone publish.
// It survives restarts so the deletion is retried on the next sync.
func (s *Store) AddPendingDeletion(pubkey, path string, deletedAt int64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		val := make([]byte, 8)
		binary.BigEndian.PutUint64(val, uint64(deletedAt))
		return tx.Bucket(pendingBucket).Put(scoped(pubkey, path), val)
	})
}

// RemovePendingDeletion clears one pending deletion, either after its
// tombstone published or because the file reappeared locally.
func (s *Store) RemovePendingDeletion(pubkey, path string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(pendingBucket).Delete(scoped(pubkey, path))
	})
}

// PendingDeletions returns the pending tombstones for the identity.
func (s *Store) PendingDeletions(pubkey string) ([]event.Tombstone, error) {
	prefix := []byte(pubkey + "|")
	var out []event.Tombstone
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(pendingBucket).Cursor()
		for k, v := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = c.Next() {
			out = append(out, event.Tombstone{
				Path:      string(k[len(prefix):]),
				DeletedAt: int64(binary.BigEndian.Uint64(v)),
			})
		}
		return nil
	})
	return out, err
}

func hasPrefix(k, prefix []byte) bool {
	return len(k) >= len(prefix) && string(k[:len(prefix)]) == string(prefix)
}

const mergedAtKey = "merged_at"

// SetMergedAt records the timestamp of the last applied preferences merge.
func (s *Store) SetMergedAt(pubkey string, ts int64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		val := make([]byte, 8)
		binary.BigEndian.PutUint64(val, uint64(ts))
		return tx.Bucket(prefsBucket).Put(scoped(pubkey, mergedAtKey), val)
	})
}

// MergedAt returns the last preferences merge timestamp, zero when no
// merge has been applied yet.
func (s *Store) MergedAt(pubkey string) (int64, error) {
	var ts int64
	err := s.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(prefsBucket).Get(scoped(pubkey, mergedAtKey)); v != nil {
			ts = int64(binary.BigEndian.Uint64(v))
		}
		return nil
	})
	return ts, err
}

// SaveLocalPreferences persists the local preference sets.
func (s *Store) SaveLocalPreferences(pubkey string, prefs *event.PreferencesRecord) error {
	data, err := json.Marshal(prefs)
	if err != nil {
		return fmt.Errorf("failed to encode preferences: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(prefsBucket).Put([]byte(pubkey), data)
	})
}

// LocalPreferences returns the stored local preferences, or nil when none
// have been saved.
func (s *Store) LocalPreferences(pubkey string) (*event.PreferencesRecord, error) {
	var prefs *event.PreferencesRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(prefsBucket).Get([]byte(pubkey))
		if data == nil {
			return nil
		}
		prefs = &event.PreferencesRecord{}
		return json.Unmarshal(data, prefs)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to decode preferences: %w", err)
	}
	return prefs, nil
}

// MarkShareRead flags a received share as read. Idempotent.
func (s *Store) MarkShareRead(pubkey, eventID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(flagsBucket).Put(scoped(pubkey, eventID), []byte{1})
	})
}

// ShareRead reports whether a share has been marked read.
func (s *Store) ShareRead(pubkey, eventID string) (bool, error) {
	var read bool
	err := s.db.View(func(tx *bolt.Tx) error {
		read = tx.Bucket(flagsBucket).Get(scoped(pubkey, eventID)) != nil
		return nil
	})
	return read, err
}

// SentShare is the local record of a share this identity published. The
// payload on the relay is encrypted to the recipient, so the metadata
// needed to list sent shares lives here.
type SentShare struct {
	EventID   string `json:"event_id"`
	Recipient string `json:"recipient"`
	Path      string `json:"path"`
	CreatedAt int64  `json:"created_at"`
	Revoked   bool   `json:"revoked,omitempty"`
}

// AddSentShare records a share after its publish succeeded.
func (s *Store) AddSentShare(pubkey string, share SentShare) error {
	data, err := json.Marshal(share)
	if err != nil {
		return fmt.Errorf("failed to encode sent share: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(sharesBucket).Put(scoped(pubkey, share.EventID), data)
	})
}

// MarkShareRevoked flags a sent share as revoked.
func (s *Store) MarkShareRevoked(pubkey, eventID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(sharesBucket)
		data := bucket.Get(scoped(pubkey, eventID))
		if data == nil {
			return nil
		}
		var share SentShare
		if err := json.Unmarshal(data, &share); err != nil {
			return fmt.Errorf("corrupt sent share record: %w", err)
		}
		share.Revoked = true
		updated, err := json.Marshal(share)
		if err != nil {
			return err
		}
		return bucket.Put(scoped(pubkey, eventID), updated)
	})
}

// SentShares returns every share this identity has published.
func (s *Store) SentShares(pubkey string) ([]SentShare, error) {
	prefix := []byte(pubkey + "|")
	var out []SentShare
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(sharesBucket).Cursor()
		for k, v := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = c.Next() {
			var share SentShare
			if err := json.Unmarshal(v, &share); err != nil {
				return fmt.Errorf("corrupt sent share record: %w", err)
			}
			out = append(out, share)
		}
		return nil
	})
	return out, err
}

// SetVersion caches the last seen version for a logical file.
func (s *Store) SetVersion(pubkey, d string, version int) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		val := make([]byte, 8)
		binary.BigEndian.PutUint64(val, uint64(version))
		return tx.Bucket(versionsBucket).Put(scoped(pubkey, d), val)
	})
}

// Version returns the cached version for a logical file, zero when the
// file has never been seen.
func (s *Store) Version(pubkey, d string) (int, error) {
	var version int
	err := s.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(versionsBucket).Get(scoped(pubkey, d)); v != nil {
			version = int(binary.BigEndian.Uint64(v))
		}
		return nil
	})
	return version, err
}

// Snapshot is the persisted summary of the last synced vault state, used
// by the status command between runs.
type Snapshot struct {
	VaultID  string            `json:"vault_id"`
	Name     string            `json:"name"`
	Files    int               `json:"files"`
	Deleted  int               `json:"deleted"`
	SyncedAt int64             `json:"synced_at"`
	Checksum map[string]string `json:"checksums,omitempty"` // path -> checksum
}

// SaveSnapshot persists the post-sync vault summary.
func (s *Store) SaveSnapshot(pubkey string, snap *Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(snapshotBucket).Put([]byte(pubkey), data)
	})
}

// LoadSnapshot returns the last saved vault summary, nil when none.
func (s *Store) LoadSnapshot(pubkey string) (*Snapshot, error) {
	var snap *Snapshot
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(snapshotBucket).Get([]byte(pubkey))
		if data == nil {
			return nil
		}
		snap = &Snapshot{}
		return json.Unmarshal(data, snap)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	return snap, nil
}
