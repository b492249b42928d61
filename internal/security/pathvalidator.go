package security

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var (
	ErrPathEscapes  = errors.New("path escapes vault")
	ErrAbsolutePath = errors.New("absolute paths are not allowed")
	ErrEmptyPath    = errors.New("empty path not allowed")
)

// PathValidator provides secure path validation and file operations
// confined to the vault root using Go 1.24's os.Root API. Every path that
// arrives from a remote event passes through here before it touches the
// local tree.
type PathValidator struct {
	vaultRoot *os.Root
	vaultPath string
}

// New creates a PathValidator for the vault at the given path. The
// validator uses os.Root so file operations cannot traverse outside the
// vault, even for hostile stored paths.
func New(vaultPath string) (*PathValidator, error) {
	absPath, err := filepath.Abs(vaultPath)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path: %w", err)
	}

	root, err := os.OpenRoot(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open vault root: %w", err)
	}

	return &PathValidator{
		vaultRoot: root,
		vaultPath: absPath,
	}, nil
}

// Close releases resources held by the PathValidator.
func (pv *PathValidator) Close() error {
	if pv.vaultRoot != nil {
		return pv.vaultRoot.Close()
	}
	return nil
}

// VaultPath returns the absolute vault root path.
func (pv *PathValidator) VaultPath() string {
	return pv.vaultPath
}

// ValidateAndNormalize validates a path and returns the normalized
// slash-separated relative form used in events and state. It rejects
// empty paths, absolute paths, and paths that escape the vault.
func (pv *PathValidator) ValidateAndNormalize(userPath string) (string, error) {
	if userPath == "" {
		return "", ErrEmptyPath
	}

	if !filepath.IsLocal(userPath) {
		if filepath.IsAbs(userPath) {
			return "", fmt.Errorf("%w: %s", ErrAbsolutePath, userPath)
		}
		return "", fmt.Errorf("%w: %s", ErrPathEscapes, userPath)
	}

	cleanPath := filepath.Clean(userPath)
	if !filepath.IsLocal(cleanPath) {
		return "", fmt.Errorf("%w: %s", ErrPathEscapes, cleanPath)
	}

	absPath := filepath.Join(pv.vaultPath, cleanPath)
	relPath, err := filepath.Rel(pv.vaultPath, absPath)
	if err != nil {
		return "", fmt.Errorf("failed to compute relative path: %w", err)
	}
	if strings.HasPrefix(relPath, "..") || filepath.IsAbs(relPath) {
		return "", fmt.Errorf("%w: %s", ErrPathEscapes, userPath)
	}

	return filepath.ToSlash(relPath), nil
}

// ValidateStoredPath validates a path that arrived from a remote event.
// Remote authors are not trusted; the same rules apply as for user input.
func (pv *PathValidator) ValidateStoredPath(storedPath string) (string, error) {
	return pv.ValidateAndNormalize(filepath.FromSlash(storedPath))
}

// WriteFileInRoot writes a file inside the vault via os.Root, creating
// parent directories as needed.
func (pv *PathValidator) WriteFileInRoot(path string, data []byte, perm os.FileMode) error {
	if _, err := pv.ValidateStoredPath(path); err != nil {
		return fmt.Errorf("invalid path: %w", err)
	}

	platformPath := filepath.FromSlash(path)
	if dir := filepath.Dir(platformPath); dir != "." {
		if err := pv.MkdirAllInRoot(filepath.ToSlash(dir), 0750); err != nil {
			return fmt.Errorf("failed to create parent directories: %w", err)
		}
	}
	return pv.vaultRoot.WriteFile(platformPath, data, perm)
}

// MkdirAllInRoot creates directories inside the vault via os.Root.
func (pv *PathValidator) MkdirAllInRoot(path string, perm os.FileMode) error {
	if _, err := pv.ValidateStoredPath(path); err != nil {
		return fmt.Errorf("invalid path: %w", err)
	}
	return pv.vaultRoot.MkdirAll(filepath.FromSlash(path), perm)
}

// ReadFileInRoot reads a file inside the vault via os.Root.
func (pv *PathValidator) ReadFileInRoot(path string) ([]byte, error) {
	if _, err := pv.ValidateStoredPath(path); err != nil {
		return nil, fmt.Errorf("invalid path: %w", err)
	}
	return pv.vaultRoot.ReadFile(filepath.FromSlash(path))
}

// StatInRoot stats a file inside the vault via os.Root.
func (pv *PathValidator) StatInRoot(path string) (os.FileInfo, error) {
	if _, err := pv.ValidateStoredPath(path); err != nil {
		return nil, fmt.Errorf("invalid path: %w", err)
	}
	return pv.vaultRoot.Stat(filepath.FromSlash(path))
}

// RemoveInRoot removes a file inside the vault via os.Root.
func (pv *PathValidator) RemoveInRoot(path string) error {
	if _, err := pv.ValidateStoredPath(path); err != nil {
		return fmt.Errorf("invalid path: %w", err)
	}
	return pv.vaultRoot.Remove(filepath.FromSlash(path))
}
