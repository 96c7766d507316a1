package simple

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/cochaviz/guestctl/internal/artifacts"
	"github.com/cochaviz/guestctl/internal/artifacts/fetch"
	"github.com/cochaviz/guestctl/internal/build"
	"github.com/cochaviz/guestctl/internal/build/adapters/qemu"
	profiles "github.com/cochaviz/guestctl/internal/build/repositories"
	"github.com/cochaviz/guestctl/internal/logging"
	"github.com/cochaviz/guestctl/internal/repositories/local"
)

// Options selects the collaborators of a build. Zero fields fall back to the
// real host implementations.
type Options struct {
	CacheDir string

	Profiles   build.ProfileRepository
	HTTPClient *http.Client
	Tools      build.HostProbe
	DiskTool   qemu.DiskTool
	Installer  qemu.InstallRunner
	Confirm    build.Confirmer
	// Progress receives download and decompression progress bars. Nil disables them.
	Progress io.Writer
	Observer func(build.BuildState)
	Logger   *slog.Logger
}

// Listing is the result of List.
type Listing struct {
	CacheDir string
	Profiles []build.GuestProfile
	Entries  []artifacts.Entry
}

// DefaultPath returns the build directory used when none is given.
func DefaultPath(osID, archID string) string {
	return osID + "-" + archID
}

// Install builds the guest described by request.
func Install(ctx context.Context, opts Options, request build.BuildRequest) (build.BuildResult, error) {
	logger := logging.Ensure(opts.Logger).With("component", "config.simple")

	if opts.CacheDir == "" {
		return build.BuildResult{State: build.BuildStateFailed}, &build.ConfigurationError{Message: "cache directory is required"}
	}
	if request.Path == "" {
		request.Path = DefaultPath(request.OS, request.Arch)
	}

	store := &local.LocalArtifactStore{BaseDir: opts.CacheDir}
	acquirer := &fetch.Acquirer{
		Store:    store,
		Client:   opts.HTTPClient,
		Logger:   logger.With("service", "fetch"),
		Progress: opts.Progress,
	}

	buildService := build.BuildService{
		Logger:   logger.With("service", "build"),
		Profiles: profileRepository(opts),
		Tools:    hostProbe(opts, logger),
		Preparer: &qemu.DirectoryPreparer{
			Confirm: opts.Confirm,
			Logger:  logger.With("adapter", "prepare"),
		},
		Acquirer: acquirer,
		Firmware: &qemu.FirmwareStager{
			Acquirer: acquirer,
			Logger:   logger.With("adapter", "firmware"),
		},
		Disk: &qemu.DiskMaterializer{
			Tool:      diskTool(opts, logger),
			Acquirer:  acquirer,
			Installer: installer(opts, logger),
			Logger:    logger.With("adapter", "disk"),
			Progress:  opts.Progress,
		},
		Launch:   qemu.ScriptWriter{},
		Prefetch: true,
		Observer: opts.Observer,
	}

	logger.Debug("starting install", "os", request.OS, "arch", request.Arch, "path", request.Path, "cache", opts.CacheDir)
	return buildService.Run(ctx, &request)
}

// Clean removes every cached artifact.
func Clean(opts Options) error {
	logger := logging.Ensure(opts.Logger).With("component", "config.simple")
	if opts.CacheDir == "" {
		return &build.ConfigurationError{Message: "cache directory is required"}
	}

	store := &local.LocalArtifactStore{BaseDir: opts.CacheDir}
	if err := store.Clear(); err != nil {
		return fmt.Errorf("clean cache: %w", err)
	}
	logger.Info("cache cleared", "dir", store.Root())
	return nil
}

// List returns the supported guests and the artifacts currently cached.
func List(opts Options) (Listing, error) {
	listing := Listing{
		CacheDir: opts.CacheDir,
		Profiles: profileRepository(opts).ListAll(),
	}
	if opts.CacheDir == "" {
		return listing, nil
	}

	store := &local.LocalArtifactStore{BaseDir: opts.CacheDir}
	entries, err := store.Entries()
	if err != nil {
		return Listing{}, fmt.Errorf("list cache: %w", err)
	}
	listing.Entries = entries
	listing.CacheDir = store.Root()
	return listing, nil
}

// Cached reports whether the primary artifact of profile is in the listing.
func (l Listing) Cached(profile build.GuestProfile) bool {
	name := profile.ArtifactKey().FileName()
	for _, entry := range l.Entries {
		if entry.Name == name {
			return true
		}
	}
	return false
}

func profileRepository(opts Options) build.ProfileRepository {
	if opts.Profiles != nil {
		return opts.Profiles
	}
	return profiles.NewEmbeddedProfileRepository()
}

func hostProbe(opts Options, logger *slog.Logger) build.HostProbe {
	if opts.Tools != nil {
		return opts.Tools
	}
	return &qemu.ToolProbe{
		PackageManager: qemu.DetectPackageManager(),
		Logger:         logger.With("adapter", "host"),
	}
}

func diskTool(opts Options, logger *slog.Logger) qemu.DiskTool {
	if opts.DiskTool != nil {
		return opts.DiskTool
	}
	return &qemu.QemuImg{Logger: logger.With("adapter", "qemu-img")}
}

func installer(opts Options, logger *slog.Logger) qemu.InstallRunner {
	if opts.Installer != nil {
		return opts.Installer
	}
	return &qemu.InteractiveInstaller{Logger: logger.With("adapter", "installer")}
}
