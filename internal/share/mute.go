package share

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/driftnote/driftnote/internal/event"
	"github.com/driftnote/driftnote/internal/identity"
	"github.com/driftnote/driftnote/internal/relay"
)

// MuteList is the decrypted view of the identity's mute list.
type MuteList struct {
	Public  []string
	Private []string
}

// All returns every muted pubkey.
func (m *MuteList) All() []string {
	return append(append([]string(nil), m.Public...), m.Private...)
}

func (e *Engine) fetchMuteList(ctx context.Context) (*MuteList, error) {
	events, err := e.client.Query(ctx, relay.Filter{
		Authors: []string{e.signer.PublicKey()},
		Kinds:   []int{event.KindMuteList},
		Limit:   1,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch mute list: %w", err)
	}

	list := &MuteList{}
	if len(events) == 0 {
		return list, nil
	}
	rec, err := event.Decode(events[0])
	if err != nil {
		return nil, err
	}
	mute := rec.(*event.MuteListRecord)
	list.Public = mute.Public

	if mute.Private != "" {
		// Private entries are encrypted to the author, so decryption uses
		// our own public key on both sides.
		plain, err := e.signer.Decrypt(mute.Private, e.signer.PublicKey())
		if err != nil {
			e.logger.Warn("cannot decrypt private mute entries", zap.Error(err))
		} else if err := json.Unmarshal(plain, &list.Private); err != nil {
			e.logger.Warn("malformed private mute entries", zap.Error(err))
		}
	}
	return list, nil
}

// FetchMuteList returns the current mute list, decrypting the private
// section.
func (e *Engine) FetchMuteList(ctx context.Context) (*MuteList, error) {
	if e.signer == nil {
		return nil, identity.ErrNotAuthenticated
	}
	return e.fetchMuteList(ctx)
}

// AddToMuteList adds a pubkey to the mute list and republishes it.
// Private entries travel encrypted to the author; public ones are plain
// p tags visible to anyone. Idempotent for already-muted keys.
func (e *Engine) AddToMuteList(ctx context.Context, pubkey string, private bool) error {
	if e.signer == nil {
		return identity.ErrNotAuthenticated
	}

	list, err := e.fetchMuteList(ctx)
	if err != nil {
		return err
	}
	for _, existing := range list.All() {
		if existing == pubkey {
			return nil
		}
	}
	if private {
		list.Private = append(list.Private, pubkey)
	} else {
		list.Public = append(list.Public, pubkey)
	}

	rec := &event.MuteListRecord{Public: list.Public}
	if len(list.Private) > 0 {
		plain, err := json.Marshal(list.Private)
		if err != nil {
			return fmt.Errorf("failed to encode private mute entries: %w", err)
		}
		encrypted, err := e.signer.Encrypt(plain, e.signer.PublicKey())
		if err != nil {
			return fmt.Errorf("%w: %v", ErrEncryption, err)
		}
		rec.Private = encrypted
	}

	env, err := event.Encode(rec)
	if err != nil {
		return err
	}
	env.CreatedAt = time.Now().Unix()
	if err := identity.SignEnvelope(e.signer, env); err != nil {
		return err
	}
	if _, err := e.client.Publish(ctx, env); err != nil {
		return fmt.Errorf("failed to publish mute list: %w", err)
	}

	e.InvalidateMuteCache()
	return nil
}

// Muted returns the cached set of muted pubkeys, fetching it on first
// use after an invalidation.
func (e *Engine) Muted(ctx context.Context) (map[string]bool, error) {
	e.muteMu.Lock()
	defer e.muteMu.Unlock()

	if e.muteCache != nil {
		return e.muteCache, nil
	}
	list, err := e.fetchMuteList(ctx)
	if err != nil {
		return nil, err
	}
	cache := make(map[string]bool)
	for _, pk := range list.All() {
		cache[pk] = true
	}
	e.muteCache = cache
	return cache, nil
}

// InvalidateMuteCache drops the cached mute set so the next Muted call
// refetches it.
func (e *Engine) InvalidateMuteCache() {
	e.muteMu.Lock()
	e.muteCache = nil
	e.muteMu.Unlock()
}
