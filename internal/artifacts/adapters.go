package artifacts

import "os"

// Store is the on-disk content cache. A path returned by Lookup is assumed
// valid; entries only become visible through Commit.
type Store interface {
	Root() string
	Path(key CacheKey) string
	Lookup(key CacheKey) (string, bool, error)
	Stage(key CacheKey) (*os.File, error)
	Commit(stagedPath string, key CacheKey) (string, error)
	Discard(stagedPath string) error
	Entries() ([]Entry, error)
	Clear() error
}
