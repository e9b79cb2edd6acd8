package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSaveAndLoad(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")

	cfg := &Config{
		DefaultSession: "work",
		Service:        Service{AppID: "app1", Region: "eu", UserID: "u1"},
	}
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.DefaultSession != "work" {
		t.Errorf("DefaultSession = %q, want %q", loaded.DefaultSession, "work")
	}
	if loaded.Service.AppID != "app1" || loaded.Service.Region != "eu" {
		t.Errorf("Service = %+v, want app1/eu", loaded.Service)
	}
}

func TestLoadMissing(t *testing.T) {
	_, err := Load("/nonexistent/config.toml")
	if err == nil {
		t.Error("Load() expected error for missing file")
	}
}

func TestEnvOverlay(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")
	if err := Save(path, &Config{Service: Service{AuthToken: "from-file"}}); err != nil {
		t.Fatal(err)
	}

	t.Setenv("CONVO_AUTH_TOKEN", "from-env")
	t.Setenv("CONVO_PAGE_SIZE", "40")

	loaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Service.AuthToken != "from-env" {
		t.Errorf("AuthToken = %q, want env value to win", loaded.Service.AuthToken)
	}
	if loaded.Service.PageSize != 40 {
		t.Errorf("PageSize = %d, want 40", loaded.Service.PageSize)
	}
}

func TestSavePermissions(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")

	if err := Save(path, &Config{DefaultSession: "main"}); err != nil {
		t.Fatal(err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	perm := info.Mode().Perm()
	if perm != 0600 {
		t.Errorf("file permission = %o, want 0600", perm)
	}
}
