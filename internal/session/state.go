package session

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofrs/flock"
)

const stateFileName = "current_session"

// stateFilePath returns the path of the current-session file under baseDir,
// creating baseDir when missing. An empty baseDir resolves to ~/.medq.
func stateFilePath(baseDir string) (string, error) {
	if baseDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		baseDir = filepath.Join(home, ".medq")
	}
	if err := os.MkdirAll(baseDir, 0o750); err != nil {
		return "", fmt.Errorf("create state directory: %w", err)
	}
	return filepath.Join(baseDir, stateFileName), nil
}

// SaveCurrentSessionID records sessionID as the active session for
// subsequent CLI invocations. The write is atomic (temp file + rename) and
// guarded by an advisory file lock so concurrent invocations cannot
// interleave partial writes.
func SaveCurrentSessionID(baseDir, sessionID string) error {
	id, err := NormalizeID(sessionID)
	if err != nil {
		return err
	}

	path, err := stateFilePath(baseDir)
	if err != nil {
		return err
	}

	lock := flock.New(path + ".lock")
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("lock state file: %w", err)
	}
	defer func() { _ = lock.Unlock() }()

	tmp, err := os.CreateTemp(filepath.Dir(path), stateFileName+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.WriteString(id + "\n"); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close state file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replace state file: %w", err)
	}
	return nil
}

// LoadCurrentSessionID returns the active session id, or "" when none is
// recorded. A missing state file is not an error; a malformed one is.
func LoadCurrentSessionID(baseDir string) (string, error) {
	path, err := stateFilePath(baseDir)
	if err != nil {
		return "", err
	}

	data, err := os.ReadFile(path) // #nosec G304 -- path is derived from the config dir, not user input
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("read state file: %w", err)
	}

	raw := strings.TrimSpace(string(data))
	if raw == "" {
		return "", nil
	}

	id, err := NormalizeID(raw)
	if err != nil {
		return "", fmt.Errorf("state file %s: %w", path, err)
	}
	return id, nil
}

// ClearCurrentSessionID forgets the active session. Idempotent: clearing
// when nothing is recorded is not an error.
func ClearCurrentSessionID(baseDir string) error {
	path, err := stateFilePath(baseDir)
	if err != nil {
		return err
	}

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove state file: %w", err)
	}
	return nil
}
