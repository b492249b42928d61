// Package share implements peer-to-peer document sharing: encrypting a
// document to a recipient, listing received and sent shares, revocation,
// importing a received document into the vault, and the mute list that
// filters unwanted senders.
package share

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/driftnote/driftnote/internal/event"
	"github.com/driftnote/driftnote/internal/identity"
	"github.com/driftnote/driftnote/internal/relay"
	"github.com/driftnote/driftnote/internal/state"
	"github.com/driftnote/driftnote/internal/vault"
)

var (
	ErrEncryption    = errors.New("failed to encrypt share")
	ErrShareNotFound = errors.New("share not found")
)

// payload is the plaintext carried inside a share event.
type payload struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// IncomingShare is a decrypted share addressed to this identity.
type IncomingShare struct {
	EventID   string
	Sender    string
	Path      string
	Content   string
	CreatedAt int64
	Read      bool
}

// Engine is the sharing engine for one identity.
type Engine struct {
	signer identity.Signer
	client relay.Client
	store  *state.Store
	logger *zap.Logger

	muteMu    sync.Mutex
	muteCache map[string]bool
}

// New creates a sharing engine.
func New(signer identity.Signer, client relay.Client, store *state.Store, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{signer: signer, client: client, store: store, logger: logger}
}

// ShareFile encrypts the document to the recipient and publishes it.
// A malformed recipient key fails with ErrEncryption before anything is
// published. Returns the share event id.
func (e *Engine) ShareFile(ctx context.Context, path, content, recipientPub string) (string, error) {
	if e.signer == nil {
		return "", identity.ErrNotAuthenticated
	}

	plain, err := json.Marshal(payload{Path: path, Content: content})
	if err != nil {
		return "", fmt.Errorf("failed to encode share payload: %w", err)
	}
	encrypted, err := e.signer.Encrypt(plain, recipientPub)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrEncryption, err)
	}

	env, err := event.Encode(&event.ShareRecord{
		Recipient: recipientPub,
		Payload:   encrypted,
	})
	if err != nil {
		return "", err
	}
	env.CreatedAt = time.Now().Unix()
	if err := identity.SignEnvelope(e.signer, env); err != nil {
		return "", err
	}
	if _, err := e.client.Publish(ctx, env); err != nil {
		return "", fmt.Errorf("failed to publish share: %w", err)
	}

	// The relay copy is opaque to us, so the metadata for listing sent
	// shares is kept locally.
	err = e.store.AddSentShare(e.signer.PublicKey(), state.SentShare{
		EventID:   env.ID,
		Recipient: recipientPub,
		Path:      path,
		CreatedAt: env.CreatedAt,
	})
	if err != nil {
		e.logger.Warn("share published but local record failed", zap.Error(err))
	}

	e.logger.Info("shared document",
		zap.String("path", path),
		zap.String("recipient", recipientPub),
		zap.String("event_id", env.ID))
	return env.ID, nil
}

// FetchSharedWithMe returns decrypted shares addressed to this identity,
// newest first. Shares from muted senders, shares the sender revoked,
// undecryptable payloads and malformed events are dropped silently.
func (e *Engine) FetchSharedWithMe(ctx context.Context) ([]IncomingShare, error) {
	if e.signer == nil {
		return nil, identity.ErrNotAuthenticated
	}

	events, err := e.client.Query(ctx, relay.Filter{
		Kinds: []int{event.KindShare},
		PTags: []string{e.signer.PublicKey()},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch shares: %w", err)
	}

	muted, err := e.Muted(ctx)
	if err != nil {
		return nil, err
	}
	revoked, err := e.revokedRefs(ctx, events)
	if err != nil {
		return nil, err
	}

	var out []IncomingShare
	for _, env := range events {
		rec, err := event.Decode(env)
		if err != nil {
			e.logger.Debug("skipping undecodable share", zap.String("event_id", env.ID))
			continue
		}
		sh := rec.(*event.ShareRecord)
		if muted[sh.Sender] {
			continue
		}
		// Only a revocation authored by the sender withdraws the share.
		if revoked[sh.Sender+"|"+sh.EventID] {
			continue
		}

		plain, err := e.signer.Decrypt(sh.Payload, sh.Sender)
		if err != nil {
			e.logger.Debug("skipping undecryptable share",
				zap.String("event_id", sh.EventID),
				zap.String("sender", sh.Sender))
			continue
		}
		var p payload
		if err := json.Unmarshal(plain, &p); err != nil {
			continue
		}

		read, err := e.store.ShareRead(e.signer.PublicKey(), sh.EventID)
		if err != nil {
			return nil, err
		}
		out = append(out, IncomingShare{
			EventID:   sh.EventID,
			Sender:    sh.Sender,
			Path:      p.Path,
			Content:   p.Content,
			CreatedAt: sh.CreatedAt,
			Read:      read,
		})
	}
	return out, nil
}

// revokedRefs collects revocations referencing the given share events,
// keyed by author + "|" + referenced event id. Matching on the author
// lets the caller ignore revocations published by anyone but the share's
// sender.
func (e *Engine) revokedRefs(ctx context.Context, shares []*event.Envelope) (map[string]bool, error) {
	revoked := make(map[string]bool)
	if len(shares) == 0 {
		return revoked, nil
	}

	ids := make([]string, 0, len(shares))
	for _, env := range shares {
		ids = append(ids, env.ID)
	}
	events, err := e.client.Query(ctx, relay.Filter{
		Kinds: []int{event.KindRevocation},
		ETags: ids,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch revocations: %w", err)
	}
	for _, env := range events {
		rec, err := event.Decode(env)
		if err != nil {
			continue
		}
		rev := rec.(*event.RevocationRecord)
		for _, ref := range rev.Refs {
			revoked[rev.Author+"|"+ref] = true
		}
	}
	return revoked, nil
}

// MarkShareAsRead flags a received share as read. Safe to call twice.
func (e *Engine) MarkShareAsRead(eventID string) error {
	if e.signer == nil {
		return identity.ErrNotAuthenticated
	}
	return e.store.MarkShareRead(e.signer.PublicKey(), eventID)
}

// RevokeShare publishes a revocation for a share this identity sent.
func (e *Engine) RevokeShare(ctx context.Context, eventID string) error {
	if e.signer == nil {
		return identity.ErrNotAuthenticated
	}

	env, err := event.Encode(&event.RevocationRecord{Refs: []string{eventID}})
	if err != nil {
		return err
	}
	env.CreatedAt = time.Now().Unix()
	if err := identity.SignEnvelope(e.signer, env); err != nil {
		return err
	}
	if _, err := e.client.Publish(ctx, env); err != nil {
		return fmt.Errorf("failed to publish revocation: %w", err)
	}

	if err := e.store.MarkShareRevoked(e.signer.PublicKey(), eventID); err != nil {
		e.logger.Warn("revocation published but local record failed", zap.Error(err))
	}
	return nil
}

// FetchSentShares lists shares this identity sent, excluding revoked
// ones. Revocations published from another device are folded in from the
// relay.
func (e *Engine) FetchSentShares(ctx context.Context) ([]state.SentShare, error) {
	if e.signer == nil {
		return nil, identity.ErrNotAuthenticated
	}

	revoked := make(map[string]bool)
	events, err := e.client.Query(ctx, relay.Filter{
		Authors: []string{e.signer.PublicKey()},
		Kinds:   []int{event.KindRevocation},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch revocations: %w", err)
	}
	for _, env := range events {
		rec, err := event.Decode(env)
		if err != nil {
			continue
		}
		for _, ref := range rec.(*event.RevocationRecord).Refs {
			revoked[ref] = true
		}
	}

	shares, err := e.store.SentShares(e.signer.PublicKey())
	if err != nil {
		return nil, err
	}
	var out []state.SentShare
	for _, sh := range shares {
		if sh.Revoked || revoked[sh.EventID] {
			continue
		}
		out = append(out, sh)
	}
	return out, nil
}

// ImportSharedDocument publishes a received share's content as a file
// record in the given vault. existingD supersedes an existing logical
// file; leave it empty to create a new one. The local tree is untouched;
// the next sync downloads the file.
func (e *Engine) ImportSharedDocument(ctx context.Context, eventID, vaultID, existingD string, version int) error {
	if e.signer == nil {
		return identity.ErrNotAuthenticated
	}

	shares, err := e.FetchSharedWithMe(ctx)
	if err != nil {
		return err
	}
	var found *IncomingShare
	for i := range shares {
		if shares[i].EventID == eventID {
			found = &shares[i]
			break
		}
	}
	if found == nil {
		return ErrShareNotFound
	}

	d := existingD
	if d == "" {
		if d, err = vault.NewID(); err != nil {
			return err
		}
		version = 0
	}

	env, err := event.Encode(&event.FileRecord{
		D:        d,
		VaultID:  vaultID,
		Path:     found.Path,
		Content:  found.Content,
		Checksum: vault.Checksum([]byte(found.Content)),
		Version:  version + 1,
		Modified: time.Now().Unix(),
	})
	if err != nil {
		return err
	}
	env.CreatedAt = time.Now().Unix()
	if err := identity.SignEnvelope(e.signer, env); err != nil {
		return err
	}
	if _, err := e.client.Publish(ctx, env); err != nil {
		return fmt.Errorf("failed to publish imported document: %w", err)
	}

	e.logger.Info("imported shared document",
		zap.String("path", found.Path),
		zap.String("sender", found.Sender))
	return nil
}
