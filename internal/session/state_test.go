package session

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestStateFilePath(t *testing.T) {
	tempDir := t.TempDir()
	nested := filepath.Join(tempDir, "medq-state")

	path, err := stateFilePath(nested)
	if err != nil {
		t.Fatalf("stateFilePath(%q) error = %v", nested, err)
	}
	if filepath.Dir(path) != nested {
		t.Errorf("stateFilePath() = %q, want file under %q", path, nested)
	}
	if _, err := os.Stat(nested); err != nil {
		t.Errorf("stateFilePath() did not create directory: %v", err)
	}
}

func TestSaveAndLoadCurrentSessionID(t *testing.T) {
	t.Run("round trip", func(t *testing.T) {
		dir := t.TempDir()
		id := NewID()

		if err := SaveCurrentSessionID(dir, id); err != nil {
			t.Fatalf("SaveCurrentSessionID() error = %v", err)
		}
		got, err := LoadCurrentSessionID(dir)
		if err != nil {
			t.Fatalf("LoadCurrentSessionID() error = %v", err)
		}
		if got != id {
			t.Errorf("LoadCurrentSessionID() = %q, want %q", got, id)
		}
	})

	t.Run("missing file is not an error", func(t *testing.T) {
		got, err := LoadCurrentSessionID(t.TempDir())
		if err != nil {
			t.Fatalf("LoadCurrentSessionID() error = %v", err)
		}
		if got != "" {
			t.Errorf("LoadCurrentSessionID() = %q, want empty", got)
		}
	})

	t.Run("overwrite", func(t *testing.T) {
		dir := t.TempDir()
		first, second := NewID(), NewID()

		if err := SaveCurrentSessionID(dir, first); err != nil {
			t.Fatalf("SaveCurrentSessionID() error = %v", err)
		}
		if err := SaveCurrentSessionID(dir, second); err != nil {
			t.Fatalf("SaveCurrentSessionID() error = %v", err)
		}
		got, err := LoadCurrentSessionID(dir)
		if err != nil {
			t.Fatalf("LoadCurrentSessionID() error = %v", err)
		}
		if got != second {
			t.Errorf("LoadCurrentSessionID() = %q, want %q", got, second)
		}
	})

	t.Run("rejects invalid id on save", func(t *testing.T) {
		if err := SaveCurrentSessionID(t.TempDir(), "not a valid id"); !errors.Is(err, ErrInvalidID) {
			t.Errorf("SaveCurrentSessionID() error = %v, want ErrInvalidID", err)
		}
	})
}

func TestLoadCurrentSessionID_MalformedFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, stateFileName)
	if err := os.WriteFile(path, []byte("not/a valid id\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	if _, err := LoadCurrentSessionID(dir); !errors.Is(err, ErrInvalidID) {
		t.Errorf("LoadCurrentSessionID() error = %v, want ErrInvalidID", err)
	}
}

func TestLoadCurrentSessionID_BlankFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, stateFileName)
	if err := os.WriteFile(path, []byte("  \n"), 0o600); err != nil {
		t.Fatal(err)
	}

	got, err := LoadCurrentSessionID(dir)
	if err != nil {
		t.Fatalf("LoadCurrentSessionID() error = %v", err)
	}
	if got != "" {
		t.Errorf("LoadCurrentSessionID() = %q, want empty for blank file", got)
	}
}

func TestClearCurrentSessionID(t *testing.T) {
	dir := t.TempDir()

	if err := SaveCurrentSessionID(dir, NewID()); err != nil {
		t.Fatalf("SaveCurrentSessionID() error = %v", err)
	}
	if err := ClearCurrentSessionID(dir); err != nil {
		t.Fatalf("ClearCurrentSessionID() error = %v", err)
	}

	got, err := LoadCurrentSessionID(dir)
	if err != nil {
		t.Fatalf("LoadCurrentSessionID() error = %v", err)
	}
	if got != "" {
		t.Errorf("LoadCurrentSessionID() after clear = %q, want empty", got)
	}

	// Clearing again is a no-op.
	if err := ClearCurrentSessionID(dir); err != nil {
		t.Errorf("ClearCurrentSessionID() on empty dir error = %v", err)
	}
}
