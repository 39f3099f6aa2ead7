package keystore

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestGetMissingKey(t *testing.T) {
	s := NewFileStore(filepath.Join(t.TempDir(), "keys.json"))
	if _, err := s.Get("chat_public_key"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSetGetPersistsAcrossInstances(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys.json")

	s := NewFileStore(path)
	if err := s.Set("chat_public_key", "pub-material"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := s.Set("chat_private_key", "priv-material"); err != nil {
		t.Fatalf("Set: %v", err)
	}

	reopened := NewFileStore(path)
	pub, err := reopened.Get("chat_public_key")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if pub != "pub-material" {
		t.Fatalf("expected pub-material, got %q", pub)
	}
	priv, err := reopened.Get("chat_private_key")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if priv != "priv-material" {
		t.Fatalf("expected priv-material, got %q", priv)
	}
}

func TestFilePermissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys.json")
	s := NewFileStore(path)
	if err := s.Set("chat_private_key", "secret"); err != nil {
		t.Fatalf("Set: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Fatalf("expected 0600 permissions, got %o", perm)
	}
}

func TestCorruptFileSurfacesError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	s := NewFileStore(path)
	if _, err := s.Get("chat_public_key"); err == nil {
		t.Fatal("expected error for corrupt keystore file")
	}
}
