package build

import (
	"context"

	"github.com/cochaviz/guestctl/internal/artifacts"
)

// HostProbe checks that the emulator tooling for a profile is installed.
type HostProbe interface {
	EnsureTools(ctx context.Context, profile GuestProfile) error
}

// Confirmer asks the user before destructive operations.
type Confirmer interface {
	Confirm(prompt string) (bool, error)
}

// DirectoryPreparer produces an empty build directory at path and returns its absolute form.
type DirectoryPreparer interface {
	Prepare(path string, diskSize int64) (string, error)
}

// ArtifactAcquirer makes verified artifacts available in the content cache.
type ArtifactAcquirer interface {
	Ensure(ctx context.Context, request artifacts.Request) (string, error)
	EnsureAll(ctx context.Context, requests []artifacts.Request) ([]string, error)
}

// FirmwareMaterializer stages firmware into the build directory.
type FirmwareMaterializer interface {
	// Plan returns the download Materialize will need, if any.
	Plan(profile GuestProfile) (artifacts.Request, bool)
	Materialize(ctx context.Context, buildContext BuildContext) (string, error)
}

// DiskMaterializer produces the primary disk image inside the build directory.
type DiskMaterializer interface {
	Materialize(ctx context.Context, buildContext BuildContext) (string, error)
}

// LaunchWriter renders the launch descriptor into dir and returns the script path.
type LaunchWriter interface {
	Write(descriptor LaunchDescriptor, dir string) (string, error)
}
