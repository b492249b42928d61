package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadMissingFileYieldsDefaults(t *testing.T) {
	root := t.TempDir()
	cfg, err := Load(root)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.VaultID != "" {
		t.Errorf("VaultID = %q", cfg.VaultID)
	}
	if len(cfg.Relays) != 1 || cfg.Relays[0] != filepath.Join(root, ".driftnote.relay") {
		t.Errorf("Relays = %v", cfg.Relays)
	}
	if len(cfg.Extensions) != 1 || cfg.Extensions[0] != ".md" {
		t.Errorf("Extensions = %v", cfg.Extensions)
	}
	if cfg.PollInterval != 30*time.Second || cfg.Debounce != 2*time.Second {
		t.Errorf("intervals = %v, %v", cfg.PollInterval, cfg.Debounce)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	root := t.TempDir()
	cfg := Default(root)
	cfg.VaultID = "abc123"
	cfg.Extensions = []string{".md", ".txt"}
	cfg.PollInterval = time.Minute

	if err := cfg.Save(root); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, err := Load(root)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got.VaultID != "abc123" {
		t.Errorf("VaultID = %q", got.VaultID)
	}
	if len(got.Extensions) != 2 || got.Extensions[1] != ".txt" {
		t.Errorf("Extensions = %v", got.Extensions)
	}
	if got.PollInterval != time.Minute {
		t.Errorf("PollInterval = %v", got.PollInterval)
	}
}

func TestLoadBackfillsMissingFields(t *testing.T) {
	root := t.TempDir()
	partial := "vault_id: pinned\n"
	if err := os.WriteFile(filepath.Join(root, DefaultFile), []byte(partial), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(root)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.VaultID != "pinned" {
		t.Errorf("VaultID = %q", cfg.VaultID)
	}
	if len(cfg.Relays) == 0 || len(cfg.Extensions) == 0 {
		t.Errorf("defaults not backfilled: %+v", cfg)
	}
	if cfg.Debounce != 2*time.Second {
		t.Errorf("Debounce = %v", cfg.Debounce)
	}
}

func TestLoadMalformedFile(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, DefaultFile), []byte("relays: [unclosed"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(root); err == nil {
		t.Fatal("malformed config accepted")
	}
}
