package volvo

import (
	"os"
	"path/filepath"
	"testing"
)

func TestTokenStorageRoundTrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "tokens.json")
	want := &TokenStorage{
		AccessToken:  "access-123",
		RefreshToken: "refresh-456",
		TokenType:    "Bearer",
		ExpiresIn:    1800,
		LastRefresh:  "2026-01-12T10:00:00Z",
	}

	if err := want.SaveTokenToFile(path); err != nil {
		t.Fatalf("SaveTokenToFile() error = %v", err)
	}

	got, err := LoadTokenFromFile(path)
	if err != nil {
		t.Fatalf("LoadTokenFromFile() error = %v", err)
	}
	if got == nil {
		t.Fatal("LoadTokenFromFile() returned nil for existing file")
	}
	if *got != *want {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", got, want)
	}
}

func TestLoadTokenFromFileMissing(t *testing.T) {
	t.Parallel()

	got, err := LoadTokenFromFile(filepath.Join(t.TempDir(), "does-not-exist.json"))
	if err != nil {
		t.Fatalf("LoadTokenFromFile() error = %v, want nil for missing file", err)
	}
	if got != nil {
		t.Errorf("LoadTokenFromFile() = %+v, want nil for missing file", got)
	}
}

func TestLoadTokenFromFileCorrupt(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "tokens.json")
	if err := os.WriteFile(path, []byte("{not json"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadTokenFromFile(path); err == nil {
		t.Error("LoadTokenFromFile() error = nil, want parse error for corrupt file")
	}
}

func TestSaveTokenToFileOverwrites(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "tokens.json")
	first := &TokenStorage{AccessToken: "old", RefreshToken: "old-r"}
	if err := first.SaveTokenToFile(path); err != nil {
		t.Fatal(err)
	}

	second := &TokenStorage{AccessToken: "new", RefreshToken: "new-r", TokenType: "Bearer"}
	if err := second.SaveTokenToFile(path); err != nil {
		t.Fatal(err)
	}

	got, err := LoadTokenFromFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if got.AccessToken != "new" || got.RefreshToken != "new-r" {
		t.Errorf("after overwrite got %+v, want the second set", got)
	}

	// No temp file left behind.
	if _, err = os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Error("temporary file was not cleaned up after rename")
	}
}
