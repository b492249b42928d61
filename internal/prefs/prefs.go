// Package prefs synchronizes the per-identity preference blob (bookmarks
// and saved searches) through the relay. The merge is union-only: entries
// added anywhere propagate everywhere, deletions do not. A tombstone
// model for bookmark removals would change that, but the current format
// has no place to carry one.
package prefs

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/driftnote/driftnote/internal/event"
	"github.com/driftnote/driftnote/internal/identity"
	"github.com/driftnote/driftnote/internal/relay"
)

// Sync publishes and fetches the preferences record for one identity.
type Sync struct {
	signer identity.Signer
	client relay.Client
	logger *zap.Logger
}

// New creates a preferences syncer.
func New(signer identity.Signer, client relay.Client, logger *zap.Logger) *Sync {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sync{signer: signer, client: client, logger: logger}
}

// Save publishes the preferences, superseding the previous record.
func (s *Sync) Save(ctx context.Context, prefs *event.PreferencesRecord) error {
	if s.signer == nil {
		return identity.ErrNotAuthenticated
	}
	if prefs.UpdatedAt == 0 {
		prefs.UpdatedAt = time.Now().Unix()
	}

	env, err := event.Encode(prefs)
	if err != nil {
		return err
	}
	env.CreatedAt = time.Now().Unix()
	if err := identity.SignEnvelope(s.signer, env); err != nil {
		return err
	}
	if _, err := s.client.Publish(ctx, env); err != nil {
		return fmt.Errorf("failed to publish preferences: %w", err)
	}
	s.logger.Debug("published preferences",
		zap.Int("bookmarks", len(prefs.Bookmarks)),
		zap.Int("saved_searches", len(prefs.SavedSearches)))
	return nil
}

// Fetch returns the current remote preferences, or nil when the identity
// has never published any.
func (s *Sync) Fetch(ctx context.Context) (*event.PreferencesRecord, error) {
	if s.signer == nil {
		return nil, identity.ErrNotAuthenticated
	}

	events, err := s.client.Query(ctx, relay.Filter{
		Authors: []string{s.signer.PublicKey()},
		Kinds:   []int{event.KindPreferences},
		DTags:   []string{event.PreferencesAddress},
		Limit:   1,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch preferences: %w", err)
	}
	if len(events) == 0 {
		return nil, nil
	}

	rec, err := event.Decode(events[0])
	if err != nil {
		s.logger.Warn("skipping undecodable preferences event", zap.Error(err))
		return nil, nil
	}
	return rec.(*event.PreferencesRecord), nil
}

// Union merges two preference records, keeping every entry from both.
// The result is sorted so Equal comparisons are stable.
func Union(a, b *event.PreferencesRecord) *event.PreferencesRecord {
	out := &event.PreferencesRecord{
		Bookmarks:     unionStrings(get(a).Bookmarks, get(b).Bookmarks),
		SavedSearches: unionStrings(get(a).SavedSearches, get(b).SavedSearches),
	}
	if get(a).UpdatedAt > out.UpdatedAt {
		out.UpdatedAt = get(a).UpdatedAt
	}
	if get(b).UpdatedAt > out.UpdatedAt {
		out.UpdatedAt = get(b).UpdatedAt
	}
	return out
}

func get(p *event.PreferencesRecord) *event.PreferencesRecord {
	if p == nil {
		return &event.PreferencesRecord{}
	}
	return p
}

func unionStrings(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	var out []string
	for _, s := range a {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	for _, s := range b {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}

// Equal reports whether two records hold the same entries, ignoring
// timestamps and ordering.
func Equal(a, b *event.PreferencesRecord) bool {
	return sameSet(get(a).Bookmarks, get(b).Bookmarks) &&
		sameSet(get(a).SavedSearches, get(b).SavedSearches)
}

func sameSet(a, b []string) bool {
	if len(unionStrings(a, nil)) != len(unionStrings(b, nil)) {
		return false
	}
	set := make(map[string]bool, len(a))
	for _, s := range a {
		set[s] = true
	}
	for _, s := range b {
		if !set[s] {
			return false
		}
	}
	return true
}
