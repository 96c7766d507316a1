package qemu

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"

	"github.com/cochaviz/guestctl/internal/build"
)

var _ build.DirectoryPreparer = (*DirectoryPreparer)(nil)

// DirectoryPreparer creates the build directory. An existing directory is
// only replaced after Confirm accepts; without a Confirm it is a conflict.
type DirectoryPreparer struct {
	Confirm build.Confirmer
	Logger  *slog.Logger
}

// Prepare returns the absolute path of a fresh, empty directory at path.
func (p *DirectoryPreparer) Prepare(path string, diskSize int64) (string, error) {
	dir, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve build dir %q: %w", path, err)
	}
	if dir == filepath.Dir(dir) {
		return "", &build.FilesystemConflictError{Path: dir, Reason: "refusing to use the filesystem root"}
	}

	info, err := os.Lstat(dir)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return "", fmt.Errorf("stat build dir %q: %w", dir, err)
	case !info.IsDir():
		return "", &build.FilesystemConflictError{Path: dir, Reason: "exists and is not a directory"}
	default:
		if err := p.replace(dir); err != nil {
			return "", err
		}
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create build dir: %w", err)
	}

	p.checkFreeSpace(dir, diskSize)
	return dir, nil
}

func (p *DirectoryPreparer) replace(dir string) error {
	if p.Confirm == nil {
		return &build.FilesystemConflictError{Path: dir, Reason: "directory already exists"}
	}

	ok, err := p.Confirm.Confirm(fmt.Sprintf("%s already exists. Remove it and its contents?", dir))
	if err != nil {
		return err
	}
	if !ok {
		return &build.FilesystemConflictError{Path: dir, Reason: "directory already exists and was not overwritten"}
	}

	p.logger().Info("removing existing build dir", "dir", dir)
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("remove build dir: %w", err)
	}
	return nil
}

// checkFreeSpace warns when the filesystem holding dir cannot fit a fully
// allocated disk. Raw images are sparse, so this is not an error.
func (p *DirectoryPreparer) checkFreeSpace(dir string, diskSize int64) {
	free, err := freeSpace(dir)
	if err != nil {
		p.logger().Debug("free space unavailable", "dir", dir, "error", err)
		return
	}
	if diskSize > 0 && free < uint64(diskSize) {
		p.logger().Warn("free space is below the requested disk size",
			"dir", dir,
			"free", humanize.IBytes(free),
			"requested", humanize.IBytes(uint64(diskSize)),
		)
	}
}

func (p *DirectoryPreparer) logger() *slog.Logger {
	if p != nil && p.Logger != nil {
		return p.Logger
	}
	return slog.Default()
}
