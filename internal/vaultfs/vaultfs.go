// Package vaultfs is the filesystem collaborator for a vault directory:
// listing tracked files, reading and writing content, and searching. Only
// files with a tracked extension are visible; dot-files and dot-folders
// are always skipped. Every write and delete is confined to the vault
// root by the path validator.
package vaultfs

import (
	"bufio"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/driftnote/driftnote/internal/security"
)

// DefaultExtensions is the tracked-extension list used when none is
// configured.
var DefaultExtensions = []string{".md"}

// Entry is one tracked file in the local tree.
type Entry struct {
	Path    string // slash-separated, vault-relative
	ModTime time.Time
}

// SearchHit is one matching line from Search.
type SearchHit struct {
	Path string
	Line int
	Text string
}

// FS is the filesystem surface the sync engine depends on.
type FS interface {
	List() ([]Entry, error)
	Read(path string) ([]byte, error)
	Write(path string, data []byte) error
	Exists(path string) bool
	ModTime(path string) (time.Time, error)
	Remove(path string) error
	Root() string
}

// OSFS implements FS over a real vault directory.
type OSFS struct {
	validator  *security.PathValidator
	extensions []string
}

// New opens the vault directory at root. extensions may be nil for the
// default set.
func New(root string, extensions []string) (*OSFS, error) {
	validator, err := security.New(root)
	if err != nil {
		return nil, err
	}
	if len(extensions) == 0 {
		extensions = DefaultExtensions
	}
	return &OSFS{validator: validator, extensions: extensions}, nil
}

// Close releases the vault root handle.
func (o *OSFS) Close() error {
	return o.validator.Close()
}

// Root returns the absolute vault root path.
func (o *OSFS) Root() string {
	return o.validator.VaultPath()
}

func (o *OSFS) tracked(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, e := range o.extensions {
		if ext == e {
			return true
		}
	}
	return false
}

// List walks the vault and returns every tracked file. Hidden files and
// directories (leading dot) are skipped, which also excludes the state
// database and config file.
func (o *OSFS) List() ([]Entry, error) {
	root := o.Root()
	var entries []Entry

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		name := d.Name()
		if strings.HasPrefix(name, ".") && path != root {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || !o.tracked(name) {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		entries = append(entries, Entry{
			Path:    filepath.ToSlash(rel),
			ModTime: info.ModTime(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list vault: %w", err)
	}
	return entries, nil
}

// Read returns the content of a tracked file.
func (o *OSFS) Read(path string) ([]byte, error) {
	return o.validator.ReadFileInRoot(path)
}

// Write stores content at the vault-relative path, creating parent
// directories as needed.
func (o *OSFS) Write(path string, data []byte) error {
	return o.validator.WriteFileInRoot(path, data, 0644)
}

// Exists reports whether the path exists inside the vault.
func (o *OSFS) Exists(path string) bool {
	_, err := o.validator.StatInRoot(path)
	return err == nil
}

// ModTime returns the modification time of a vault file.
func (o *OSFS) ModTime(path string) (time.Time, error) {
	info, err := o.validator.StatInRoot(path)
	if err != nil {
		return time.Time{}, err
	}
	return info.ModTime(), nil
}

// Remove deletes a vault file.
func (o *OSFS) Remove(path string) error {
	return o.validator.RemoveInRoot(path)
}

// MaxSearchHits caps Search output.
const MaxSearchHits = 200

// Search scans tracked files for lines containing the query,
// case-insensitively. Unreadable files are skipped.
func (o *OSFS) Search(query string) ([]SearchHit, error) {
	entries, err := o.List()
	if err != nil {
		return nil, err
	}

	needle := strings.ToLower(query)
	var hits []SearchHit
	for _, entry := range entries {
		f, err := os.Open(filepath.Join(o.Root(), filepath.FromSlash(entry.Path)))
		if err != nil {
			continue
		}
		scanner := bufio.NewScanner(f)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		line := 0
		for scanner.Scan() {
			line++
			text := scanner.Text()
			if strings.Contains(strings.ToLower(text), needle) {
				hits = append(hits, SearchHit{Path: entry.Path, Line: line, Text: text})
				if len(hits) >= MaxSearchHits {
					f.Close()
					return hits, nil
				}
			}
		}
		f.Close()
	}
	return hits, nil
}
