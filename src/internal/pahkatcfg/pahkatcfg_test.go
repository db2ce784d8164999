package pahkatcfg

import (
	"path/filepath"
	"testing"
)

func TestLoadOrCreateWritesDefaultConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, FileName)

	cfg, err := LoadOrCreate(path, "/cache", "/tmp")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Settings.CacheBaseDir != "/cache" || cfg.Settings.TmpDir != "/tmp" {
		t.Fatalf("unexpected defaults: %+v", cfg.Settings)
	}

	reloaded, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error reloading: %v", err)
	}
	if reloaded.Settings.CacheBaseDir != "/cache" {
		t.Fatalf("config did not round-trip: %+v", reloaded)
	}
}

func TestAddRepoDedupesByURL(t *testing.T) {
	cfg := NewDefault("/cache", "/tmp")

	if !cfg.AddRepo("https://example.invalid/repo", "stable") {
		t.Fatal("expected first add to report a change")
	}
	if cfg.AddRepo("https://example.invalid/repo", "stable") {
		t.Fatal("expected a duplicate add with the same channel to report no change")
	}
	if !cfg.AddRepo("https://example.invalid/repo", "beta") {
		t.Fatal("expected a channel change on an existing repo to report a change")
	}
	if len(cfg.Repositories) != 1 {
		t.Fatalf("expected exactly one repo entry, got %+v", cfg.Repositories)
	}
	if cfg.Repositories[0].Channel != "beta" {
		t.Fatalf("expected channel to be updated to beta, got %+v", cfg.Repositories[0])
	}
}

func TestRemoveRepo(t *testing.T) {
	cfg := NewDefault("/cache", "/tmp")
	cfg.AddRepo("https://example.invalid/repo", "")

	if !cfg.RemoveRepo("https://example.invalid/repo") {
		t.Fatal("expected RemoveRepo to report the repo was present")
	}
	if len(cfg.Repositories) != 0 {
		t.Fatalf("expected repositories to be empty, got %+v", cfg.Repositories)
	}
	if cfg.RemoveRepo("https://example.invalid/repo") {
		t.Fatal("expected a second remove to report no-op")
	}
}

func TestSaveIsAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, FileName)

	cfg := NewDefault("/cache", "/tmp")
	cfg.AddRepo("https://example.invalid/repo", "stable")
	if err := Save(path, cfg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := filepath.Glob(filepath.Join(dir, "*.tmp")); err != nil {
		t.Fatalf("unexpected glob error: %v", err)
	}
	matches, _ := filepath.Glob(filepath.Join(dir, "*.tmp"))
	if len(matches) != 0 {
		t.Fatalf("expected no leftover .tmp file after Save, found %v", matches)
	}

	reloaded, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(reloaded.Repositories) != 1 || reloaded.Repositories[0].URL != "https://example.invalid/repo" {
		t.Fatalf("unexpected reloaded config: %+v", reloaded)
	}
}

func TestUIPrefsSetAndGet(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ui.toml")

	prefs, err := OpenUIPrefs(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := prefs.Set("theme", "dark"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	reopened, err := OpenUIPrefs(path)
	if err != nil {
		t.Fatalf("unexpected error reopening: %v", err)
	}
	if got := reopened.Get("theme"); got != "dark" {
		t.Fatalf("expected theme=dark, got %v", got)
	}
}
