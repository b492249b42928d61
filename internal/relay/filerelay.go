package relay

import (
	"context"
	"encoding/json"
	"fmt"

	bolt "go.etcd.io/bbolt"

	"github.com/driftnote/driftnote/internal/event"
	"github.com/driftnote/driftnote/internal/identity"
)

// Bucket names
var (
	eventsBucket  = []byte("events")  // event id -> envelope JSON
	replaceBucket = []byte("replace") // replaceKey -> live event id
)

// FileRelay is a Client backed by a bbolt database file. Pointing several
// vaults at the same file (a network share, a synced folder) gives them a
// common store without a network transport.
type FileRelay struct {
	db *bolt.DB
}

// OpenFileRelay opens or creates a relay database at path.
func OpenFileRelay(path string) (*FileRelay, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open relay database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{eventsBucket, replaceBucket} {
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

	return &FileRelay{db: db}, nil
}

// Close closes the database.
func (r *FileRelay) Close() error {
	return r.db.Close()
}

// Publish stores the event, superseding any older event at the same
// replaceable address. Supersession and insert happen in one transaction.
func (r *FileRelay) Publish(_ context.Context, env *event.Envelope) (string, error) {
	if env.ID == "" || env.Sig == "" {
		return "", ErrUnsigned
	}
	if err := identity.VerifyEnvelope(env); err != nil {
		return "", err
	}

	data, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("failed to encode event: %w", err)
	}

	err = r.db.Update(func(tx *bolt.Tx) error {
		events := tx.Bucket(eventsBucket)
		replace := tx.Bucket(replaceBucket)

		if key := replaceKey(env); key != "" {
			if oldID := replace.Get([]byte(key)); oldID != nil {
				if old := events.Get(oldID); old != nil {
					var prev event.Envelope
					if err := json.Unmarshal(old, &prev); err == nil && prev.CreatedAt > env.CreatedAt {
						// Stale publish; the stored event is newer.
						return nil
					}
				}
				if err := events.Delete(oldID); err != nil {
					return err
				}
			}
			if err := replace.Put([]byte(key), []byte(env.ID)); err != nil {
				return err
			}
		}

		return events.Put([]byte(env.ID), data)
	})
	if err != nil {
		return "", fmt.Errorf("failed to store event: %w", err)
	}
	return env.ID, nil
}

// Query returns matching events, newest first.
func (r *FileRelay) Query(_ context.Context, filter Filter) ([]*event.Envelope, error) {
	var out []*event.Envelope
	err := r.db.View(func(tx *bolt.Tx) error {
		events := tx.Bucket(eventsBucket)
		return events.ForEach(func(k, v []byte) error {
			var env event.Envelope
			if err := json.Unmarshal(v, &env); err != nil {
				// Corrupt row; skip rather than fail the query.
				return nil
			}
			if filter.Match(&env) {
				out = append(out, &env)
			}
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}

	sortNewestFirst(out)
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}
