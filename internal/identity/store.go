package identity

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/zalando/go-keyring"

	"github.com/driftnote/driftnote/internal/crypto"
)

const (
	serviceName = "driftnote"
	accountName = "identity"

	// fallbackFile holds the passphrase-encrypted seed when no OS keyring
	// is available (headless machines, CI).
	fallbackFile = ".driftnote.key"
)

// Store loads and saves the identity seed. Keyring first; the encrypted
// fallback file is used only when the keyring is unavailable.
type Store struct {
	vaultPath string

	// Passphrase supplies the fallback-file passphrase on demand. Only
	// called when the keyring cannot be used.
	Passphrase func() ([]byte, error)
}

// NewStore creates a Store rooted at the vault directory.
func NewStore(vaultPath string) *Store {
	return &Store{vaultPath: vaultPath}
}

func (st *Store) fallbackPath() string {
	return filepath.Join(st.vaultPath, fallbackFile)
}

// Load reads the seed and returns a ready signer. ErrNoIdentity means no
// identity has been created yet.
func (st *Store) Load() (*LocalSigner, error) {
	encoded, err := keyring.Get(serviceName, accountName)
	if err == nil {
		seed, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, fmt.Errorf("corrupt keyring entry: %w", err)
		}
		defer crypto.ClearBytes(seed)
		return NewLocalSigner(seed)
	}
	if !errors.Is(err, keyring.ErrNotFound) {
		// Keyring broken or absent; try the fallback file.
		return st.loadFallback()
	}

	if _, statErr := os.Stat(st.fallbackPath()); statErr == nil {
		return st.loadFallback()
	}
	return nil, ErrNoIdentity
}

func (st *Store) loadFallback() (*LocalSigner, error) {
	blob, err := os.ReadFile(st.fallbackPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoIdentity
		}
		return nil, fmt.Errorf("failed to read identity file: %w", err)
	}
	if st.Passphrase == nil {
		return nil, fmt.Errorf("identity file present but no passphrase source: %w", ErrNotAuthenticated)
	}
	pass, err := st.Passphrase()
	if err != nil {
		return nil, err
	}
	defer crypto.ClearBytes(pass)

	seed, err := crypto.Open(pass, blob)
	if err != nil {
		return nil, fmt.Errorf("failed to unlock identity: %w", err)
	}
	defer crypto.ClearBytes(seed)
	return NewLocalSigner(seed)
}

// Save persists the signer's seed to the keyring, falling back to the
// passphrase-encrypted file when the keyring is unavailable.
func (st *Store) Save(s *LocalSigner) error {
	encoded := base64.StdEncoding.EncodeToString(s.seed)
	if err := keyring.Set(serviceName, accountName, encoded); err == nil {
		return nil
	}

	if st.Passphrase == nil {
		return fmt.Errorf("keyring unavailable and no passphrase source configured")
	}
	pass, err := st.Passphrase()
	if err != nil {
		return err
	}
	defer crypto.ClearBytes(pass)

	blob, err := crypto.Seal(pass, s.seed)
	if err != nil {
		return fmt.Errorf("failed to encrypt identity: %w", err)
	}
	if err := os.WriteFile(st.fallbackPath(), blob, 0600); err != nil {
		return fmt.Errorf("failed to write identity file: %w", err)
	}
	return nil
}

// Delete removes the stored identity from the keyring and the fallback
// file. Missing entries are not an error.
func (st *Store) Delete() error {
	if err := keyring.Delete(serviceName, accountName); err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("failed to remove keyring entry: %w", err)
	}
	if err := os.Remove(st.fallbackPath()); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove identity file: %w", err)
	}
	return nil
}

// Export writes a passphrase-encrypted backup of the seed.
func Export(s *LocalSigner, passphrase []byte, path string) error {
	blob, err := crypto.Seal(passphrase, s.seed)
	if err != nil {
		return fmt.Errorf("failed to encrypt backup: %w", err)
	}
	if err := os.WriteFile(path, blob, 0600); err != nil {
		return fmt.Errorf("failed to write backup: %w", err)
	}
	return nil
}

// Import reads a backup produced by Export and returns the signer.
func Import(passphrase []byte, path string) (*LocalSigner, error) {
	blob, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read backup: %w", err)
	}
	seed, err := crypto.Open(passphrase, blob)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt backup: %w", err)
	}
	defer crypto.ClearBytes(seed)
	return NewLocalSigner(seed)
}
