// Package event defines the signed-event envelope and the typed records
// this system publishes through it: vault manifests, file records, peer
// shares, revocations, preference blobs and mute lists. The codec is pure
// and stateless; signing and encryption live in the identity package.
package event

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Event kinds. Kinds in the 30000 range are addressable: a later event
// with the same (pubkey, kind, d-tag) supersedes the earlier one at the
// relay. The mute list (10000) is replaceable per author.
const (
	KindRevocation    = 5
	KindMuteList      = 10000
	KindShare         = 1059
	KindVaultManifest = 30170
	KindFileRecord    = 30171
	KindPreferences   = 30172
)

// Well-known tag names.
const (
	TagAddress   = "d" // stable address of an addressable record
	TagRecipient = "p" // recipient pubkey
	TagEvent     = "e" // referenced event id
	TagVault     = "v" // owning vault id
)

// PreferencesAddress is the fixed d-tag of the per-identity preferences
// record. One record per identity, replaced on every save.
const PreferencesAddress = "preferences"

// Envelope is the generic signed-event wire format.
type Envelope struct {
	ID        string     `json:"id"`
	PubKey    string     `json:"pubkey"`
	CreatedAt int64      `json:"created_at"`
	Kind      int        `json:"kind"`
	Tags      [][]string `json:"tags"`
	Content   string     `json:"content"`
	Sig       string     `json:"sig"`
}

// Tag returns the first value of the named tag, or "" if absent.
func (e *Envelope) Tag(name string) string {
	for _, t := range e.Tags {
		if len(t) >= 2 && t[0] == name {
			return t[1]
		}
	}
	return ""
}

// TagValues returns every value of the named tag.
func (e *Envelope) TagValues(name string) []string {
	var vals []string
	for _, t := range e.Tags {
		if len(t) >= 2 && t[0] == name {
			vals = append(vals, t[1])
		}
	}
	return vals
}

// ComputeID returns the canonical event id: the hex SHA-256 of the
// serialized [0, pubkey, created_at, kind, tags, content] array.
func ComputeID(e *Envelope) string {
	tags := e.Tags
	if tags == nil {
		tags = [][]string{}
	}
	canonical, _ := json.Marshal([]any{0, e.PubKey, e.CreatedAt, e.Kind, tags, e.Content})
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:])
}

// Addressable reports whether the kind uses d-tag supersession.
func Addressable(kind int) bool {
	return kind >= 30000 && kind < 40000
}

// Replaceable reports whether the kind is replaced per author without a
// d-tag (one live event per pubkey+kind).
func Replaceable(kind int) bool {
	return kind >= 10000 && kind < 20000
}

// DecodeError marks a remote event that cannot be interpreted. Callers
// must treat it as "skip this event", never as fatal.
type DecodeError struct {
	Kind   int
	Reason string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("cannot decode kind %d event: %s", e.Kind, e.Reason)
}

func decodeErr(kind int, reason string) *DecodeError {
	return &DecodeError{Kind: kind, Reason: reason}
}

// Record is any typed record carried by an envelope.
type Record interface {
	Kind() int
}

// Tombstone marks a path as intentionally deleted from a vault. A
// tombstone for a directory path shadows every file under it.
type Tombstone struct {
	Path      string `json:"path"`
	DeletedAt int64  `json:"deleted_at"`
}

// VaultRecord is the vault manifest: identity-owned name, description and
// tombstone list. The file set is materialized separately from file
// record events.
type VaultRecord struct {
	ID          string      `json:"-"`
	Author      string      `json:"-"`
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	Deleted     []Tombstone `json:"deleted,omitempty"`
}

func (*VaultRecord) Kind() int { return KindVaultManifest }

// FileRecord is the latest known remote state of one file. D addresses
// successive versions of the same logical file; publishing a new version
// with the same D supersedes the prior one.
type FileRecord struct {
	D        string `json:"-"`
	VaultID  string `json:"-"`
	Author   string `json:"-"`
	EventID  string `json:"-"`
	Path     string `json:"path"`
	Content  string `json:"content"`
	Checksum string `json:"checksum"`
	Version  int    `json:"version"`
	Modified int64  `json:"modified"`
}

func (*FileRecord) Kind() int { return KindFileRecord }

// PreferencesRecord is the per-identity replaceable preference blob.
type PreferencesRecord struct {
	Author        string   `json:"-"`
	Bookmarks     []string `json:"bookmarks,omitempty"`
	SavedSearches []string `json:"saved_searches,omitempty"`
	UpdatedAt     int64    `json:"updated_at"`
}

func (*PreferencesRecord) Kind() int { return KindPreferences }

// ShareRecord is a peer-addressed encrypted document. Payload stays
// opaque at this layer; the sharing engine decrypts it.
type ShareRecord struct {
	EventID   string
	Sender    string
	Recipient string
	CreatedAt int64
	Payload   string // encrypted, base64
}

func (*ShareRecord) Kind() int { return KindShare }

// RevocationRecord withdraws previously published events by reference.
type RevocationRecord struct {
	EventID string
	Author  string
	Refs    []string
}

func (*RevocationRecord) Kind() int { return KindRevocation }

// MuteListRecord is the per-identity block list. Public entries are plain
// p-tags; private entries travel encrypted to the author in the content.
type MuteListRecord struct {
	Author    string
	CreatedAt int64
	Public    []string
	Private   string // encrypted, base64; empty when no private entries
}

func (*MuteListRecord) Kind() int { return KindMuteList }

// Encode builds an unsigned envelope for the record. PubKey, CreatedAt,
// ID and Sig are filled by the signer.
func Encode(r Record) (*Envelope, error) {
	switch rec := r.(type) {
	case *VaultRecord:
		if rec.ID == "" {
			return nil, fmt.Errorf("vault record has no id")
		}
		content, err := json.Marshal(rec)
		if err != nil {
			return nil, fmt.Errorf("failed to encode vault manifest: %w", err)
		}
		return &Envelope{
			Kind:    KindVaultManifest,
			Tags:    [][]string{{TagAddress, rec.ID}},
			Content: string(content),
		}, nil

	case *FileRecord:
		if rec.D == "" {
			return nil, fmt.Errorf("file record has no d address")
		}
		content, err := json.Marshal(rec)
		if err != nil {
			return nil, fmt.Errorf("failed to encode file record: %w", err)
		}
		tags := [][]string{{TagAddress, rec.D}}
		if rec.VaultID != "" {
			tags = append(tags, []string{TagVault, rec.VaultID})
		}
		return &Envelope{Kind: KindFileRecord, Tags: tags, Content: string(content)}, nil

	case *PreferencesRecord:
		content, err := json.Marshal(rec)
		if err != nil {
			return nil, fmt.Errorf("failed to encode preferences: %w", err)
		}
		return &Envelope{
			Kind:    KindPreferences,
			Tags:    [][]string{{TagAddress, PreferencesAddress}},
			Content: string(content),
		}, nil

	case *ShareRecord:
		if rec.Recipient == "" {
			return nil, fmt.Errorf("share record has no recipient")
		}
		return &Envelope{
			Kind:    KindShare,
			Tags:    [][]string{{TagRecipient, rec.Recipient}},
			Content: rec.Payload,
		}, nil

	case *RevocationRecord:
		if len(rec.Refs) == 0 {
			return nil, fmt.Errorf("revocation references no events")
		}
		tags := make([][]string, 0, len(rec.Refs))
		for _, ref := range rec.Refs {
			tags = append(tags, []string{TagEvent, ref})
		}
		return &Envelope{Kind: KindRevocation, Tags: tags}, nil

	case *MuteListRecord:
		tags := make([][]string, 0, len(rec.Public))
		for _, pk := range rec.Public {
			tags = append(tags, []string{TagRecipient, pk})
		}
		return &Envelope{Kind: KindMuteList, Tags: tags, Content: rec.Private}, nil

	default:
		return nil, fmt.Errorf("unsupported record type %T", r)
	}
}

// Decode parses an envelope into its typed record. Malformed payloads,
// unknown kinds and missing required tags yield a *DecodeError.
func Decode(env *Envelope) (Record, error) {
	switch env.Kind {
	case KindVaultManifest:
		id := env.Tag(TagAddress)
		if id == "" {
			return nil, decodeErr(env.Kind, "missing d tag")
		}
		var rec VaultRecord
		if err := json.Unmarshal([]byte(env.Content), &rec); err != nil {
			return nil, decodeErr(env.Kind, "malformed manifest payload")
		}
		rec.ID = id
		rec.Author = env.PubKey
		return &rec, nil

	case KindFileRecord:
		d := env.Tag(TagAddress)
		if d == "" {
			return nil, decodeErr(env.Kind, "missing d tag")
		}
		var rec FileRecord
		if err := json.Unmarshal([]byte(env.Content), &rec); err != nil {
			return nil, decodeErr(env.Kind, "malformed file payload")
		}
		if rec.Path == "" {
			return nil, decodeErr(env.Kind, "file record has no path")
		}
		rec.D = d
		rec.VaultID = env.Tag(TagVault)
		rec.Author = env.PubKey
		rec.EventID = env.ID
		return &rec, nil

	case KindPreferences:
		var rec PreferencesRecord
		if err := json.Unmarshal([]byte(env.Content), &rec); err != nil {
			return nil, decodeErr(env.Kind, "malformed preferences payload")
		}
		rec.Author = env.PubKey
		return &rec, nil

	case KindShare:
		recipient := env.Tag(TagRecipient)
		if recipient == "" {
			return nil, decodeErr(env.Kind, "missing recipient tag")
		}
		return &ShareRecord{
			EventID:   env.ID,
			Sender:    env.PubKey,
			Recipient: recipient,
			CreatedAt: env.CreatedAt,
			Payload:   env.Content,
		}, nil

	case KindRevocation:
		refs := env.TagValues(TagEvent)
		if len(refs) == 0 {
			return nil, decodeErr(env.Kind, "missing event reference")
		}
		return &RevocationRecord{EventID: env.ID, Author: env.PubKey, Refs: refs}, nil

	case KindMuteList:
		return &MuteListRecord{
			Author:    env.PubKey,
			CreatedAt: env.CreatedAt,
			Public:    env.TagValues(TagRecipient),
			Private:   env.Content,
		}, nil

	default:
		return nil, decodeErr(env.Kind, "unknown kind")
	}
}
