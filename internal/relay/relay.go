// Package relay provides the event store the sync engine publishes to and
// queries from. Client is the abstraction the engine consumes; the memory
// implementation backs tests and the bbolt-backed FileRelay mirrors a
// vault through a shared database file. Network transports are out of
// scope and plug in behind the same interface.
package relay

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/driftnote/driftnote/internal/event"
	"github.com/driftnote/driftnote/internal/identity"
)

var (
	ErrUnsigned = errors.New("event is not signed")
	ErrNoRelays = errors.New("no relays configured")
)

// Filter selects events from a relay. Zero fields match everything.
type Filter struct {
	IDs     []string
	Authors []string
	Kinds   []int
	DTags   []string
	PTags   []string
	ETags   []string
	VTags   []string
	Since   int64
	Limit   int
}

// Match reports whether the envelope satisfies every set constraint.
func (f *Filter) Match(env *event.Envelope) bool {
	if len(f.IDs) > 0 && !contains(f.IDs, env.ID) {
		return false
	}
	if len(f.Authors) > 0 && !contains(f.Authors, env.PubKey) {
		return false
	}
	if len(f.Kinds) > 0 {
		found := false
		for _, k := range f.Kinds {
			if k == env.Kind {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if len(f.DTags) > 0 && !contains(f.DTags, env.Tag(event.TagAddress)) {
		return false
	}
	if len(f.PTags) > 0 && !anyOverlap(f.PTags, env.TagValues(event.TagRecipient)) {
		return false
	}
	if len(f.ETags) > 0 && !anyOverlap(f.ETags, env.TagValues(event.TagEvent)) {
		return false
	}
	if len(f.VTags) > 0 && !contains(f.VTags, env.Tag(event.TagVault)) {
		return false
	}
	if f.Since > 0 && env.CreatedAt < f.Since {
		return false
	}
	return true
}

func contains(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

func anyOverlap(want, have []string) bool {
	for _, h := range have {
		if contains(want, h) {
			return true
		}
	}
	return false
}

// Client publishes and queries signed events. Each call is a single
// attempt; retry policy belongs to the implementation or the caller.
type Client interface {
	// Publish stores the event and returns its id. Addressable and
	// replaceable kinds supersede the prior event with the same address.
	Publish(ctx context.Context, env *event.Envelope) (string, error)

	// Query returns events matching the filter, newest first.
	Query(ctx context.Context, filter Filter) ([]*event.Envelope, error)
}

// replaceKey is the supersession address for replaceable kinds, or ""
// for immutable kinds.
func replaceKey(env *event.Envelope) string {
	switch {
	case event.Addressable(env.Kind):
		return fmt.Sprintf("%s|%d|%s", env.PubKey, env.Kind, env.Tag(event.TagAddress))
	case event.Replaceable(env.Kind):
		return fmt.Sprintf("%s|%d", env.PubKey, env.Kind)
	default:
		return ""
	}
}

// MemoryRelay is an in-memory Client, safe for concurrent use.
type MemoryRelay struct {
	mu      sync.RWMutex
	events  map[string]*event.Envelope
	current map[string]string // replaceKey -> live event id
}

// NewMemoryRelay creates an empty in-memory relay.
func NewMemoryRelay() *MemoryRelay {
	return &MemoryRelay{
		events:  make(map[string]*event.Envelope),
		current: make(map[string]string),
	}
}

// Publish stores the event, superseding any older event at the same
// replaceable address. Events with a missing or invalid signature are
// rejected.
func (m *MemoryRelay) Publish(_ context.Context, env *event.Envelope) (string, error) {
	if env.ID == "" || env.Sig == "" {
		return "", ErrUnsigned
	}
	if err := identity.VerifyEnvelope(env); err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if key := replaceKey(env); key != "" {
		if oldID, ok := m.current[key]; ok {
			if old := m.events[oldID]; old != nil && old.CreatedAt > env.CreatedAt {
				// Stale publish; the stored event is newer.
				return env.ID, nil
			}
			delete(m.events, oldID)
		}
		m.current[key] = env.ID
	}

	cp := *env
	m.events[env.ID] = &cp
	return env.ID, nil
}

// Query returns matching events, newest first.
func (m *MemoryRelay) Query(_ context.Context, filter Filter) ([]*event.Envelope, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*event.Envelope
	for _, env := range m.events {
		if filter.Match(env) {
			cp := *env
			out = append(out, &cp)
		}
	}
	sortNewestFirst(out)
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func sortNewestFirst(events []*event.Envelope) {
	sort.Slice(events, func(i, j int) bool {
		if events[i].CreatedAt != events[j].CreatedAt {
			return events[i].CreatedAt > events[j].CreatedAt
		}
		return events[i].ID < events[j].ID
	})
}

// Multi fans publishes out to every relay and merges query results,
// deduplicating by event id. A publish succeeds if any relay accepts it;
// a query succeeds if any relay answers.
type Multi struct {
	clients []Client
}

// NewMulti wraps a set of relays as one Client.
func NewMulti(clients ...Client) (*Multi, error) {
	if len(clients) == 0 {
		return nil, ErrNoRelays
	}
	return &Multi{clients: clients}, nil
}

func (m *Multi) Publish(ctx context.Context, env *event.Envelope) (string, error) {
	var firstErr error
	accepted := false
	for _, c := range m.clients {
		if _, err := c.Publish(ctx, env); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		accepted = true
	}
	if !accepted {
		return "", fmt.Errorf("publish rejected by all relays: %w", firstErr)
	}
	return env.ID, nil
}

func (m *Multi) Query(ctx context.Context, filter Filter) ([]*event.Envelope, error) {
	seen := make(map[string]bool)
	var merged []*event.Envelope
	var firstErr error
	answered := false

	for _, c := range m.clients {
		events, err := c.Query(ctx, filter)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		answered = true
		for _, env := range events {
			if !seen[env.ID] {
				seen[env.ID] = true
				merged = append(merged, env)
			}
		}
	}
	if !answered {
		return nil, fmt.Errorf("query failed on all relays: %w", firstErr)
	}
	sortNewestFirst(merged)
	if filter.Limit > 0 && len(merged) > filter.Limit {
		merged = merged[:filter.Limit]
	}
	return merged, nil
}
