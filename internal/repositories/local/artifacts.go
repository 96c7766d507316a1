package local

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/cochaviz/guestctl/internal/artifacts"
)

const stagingSuffix = ".part"

var _ artifacts.Store = (*LocalArtifactStore)(nil)

// LocalArtifactStore keeps verified artifacts as plain files under BaseDir.
// Entries are written to a staging file first and renamed into place, so a
// file at a key path is always complete.
type LocalArtifactStore struct {
	BaseDir string
}

// Root returns the cache root directory.
func (store *LocalArtifactStore) Root() string {
	return store.BaseDir
}

// Path returns the location of key inside the cache, whether or not it exists.
func (store *LocalArtifactStore) Path(key artifacts.CacheKey) string {
	return filepath.Join(store.BaseDir, key.FileName())
}

// Lookup reports whether key is present. Presence is trusted without re-hashing.
func (store *LocalArtifactStore) Lookup(key artifacts.CacheKey) (string, bool, error) {
	path := store.Path(key)
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return path, false, nil
		}
		return path, false, err
	}
	if !info.Mode().IsRegular() {
		return path, false, fmt.Errorf("cache entry %s is not a regular file", path)
	}
	return path, true, nil
}

// Stage creates a uniquely named staging file in the cache root for key.
func (store *LocalArtifactStore) Stage(key artifacts.CacheKey) (*os.File, error) {
	if store.BaseDir == "" {
		return nil, errors.New("base directory is not configured")
	}
	if err := os.MkdirAll(store.BaseDir, 0o755); err != nil {
		return nil, err
	}

	name := fmt.Sprintf(".%s.%s%s", key.FileName(), uuid.NewString(), stagingSuffix)
	return os.OpenFile(filepath.Join(store.BaseDir, name), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
}

// Commit atomically moves a staged file onto the key path.
func (store *LocalArtifactStore) Commit(stagedPath string, key artifacts.CacheKey) (string, error) {
	path := store.Path(key)
	if err := os.Rename(stagedPath, path); err != nil {
		_ = os.Remove(stagedPath)
		return "", fmt.Errorf("commit %s: %w", key, err)
	}
	return path, nil
}

// Discard removes a staged file that failed verification.
func (store *LocalArtifactStore) Discard(stagedPath string) error {
	if err := os.Remove(stagedPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// Entries lists committed artifacts sorted by name. Staging files are skipped.
func (store *LocalArtifactStore) Entries() ([]artifacts.Entry, error) {
	dirEntries, err := os.ReadDir(store.BaseDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	var entries []artifacts.Entry
	for _, entry := range dirEntries {
		if entry.IsDir() || isStaging(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			return nil, err
		}
		entries = append(entries, artifacts.Entry{
			Name: entry.Name(),
			Path: filepath.Join(store.BaseDir, entry.Name()),
			Size: info.Size(),
		})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

// Clear removes the cache root and everything below it.
func (store *LocalArtifactStore) Clear() error {
	if store.BaseDir == "" {
		return errors.New("base directory is not configured")
	}
	if err := os.RemoveAll(store.BaseDir); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func isStaging(name string) bool {
	return strings.HasPrefix(name, ".") && strings.HasSuffix(name, stagingSuffix)
}
