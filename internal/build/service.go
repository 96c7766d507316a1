package build

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/cochaviz/guestctl/internal/artifacts"
)

// BuildService drives one install from profile resolution to the launch script.
type BuildService struct {
	Logger    *slog.Logger
	Profiles  ProfileRepository
	Tools     HostProbe
	Preparer  DirectoryPreparer
	Acquirer  ArtifactAcquirer
	Firmware  FirmwareMaterializer
	Disk      DiskMaterializer
	Launch    LaunchWriter
	// Prefetch downloads the disk and firmware artifacts concurrently before materializing.
	Prefetch bool
	// Observer, if set, is called on every state transition.
	Observer func(BuildState)
}

// Run executes the build. Every error aborts the whole build; nothing is retried.
func (s *BuildService) Run(ctx context.Context, request *BuildRequest) (BuildResult, error) {
	if err := s.checkConfigured(); err != nil {
		return BuildResult{State: BuildStateFailed}, err
	}
	if request == nil {
		return BuildResult{State: BuildStateFailed}, &ConfigurationError{Message: "build request is required"}
	}

	result := BuildResult{ID: uuid.NewString(), State: BuildStateIdle}
	logger := s.logger().With("build", result.ID, "os", request.OS, "arch", request.Arch)

	fail := func(err error) (BuildResult, error) {
		s.transition(&result, BuildStateFailed, logger)
		return result, err
	}

	s.transition(&result, BuildStateValidatingInputs, logger)
	profile, err := s.validate(request)
	if err != nil {
		return fail(err)
	}
	result.Profile = profile
	if err := s.Tools.EnsureTools(ctx, profile); err != nil {
		return fail(err)
	}

	s.transition(&result, BuildStatePreparingDir, logger)
	dir, err := s.Preparer.Prepare(request.Path, request.DiskSize)
	if err != nil {
		return fail(err)
	}
	result.Dir = dir
	logger.Info("build directory prepared", "dir", dir)

	buildContext := BuildContext{
		Profile: profile,
		Request: *request,
		Dir:     dir,
	}

	s.transition(&result, BuildStateAcquiringFW, logger)
	if s.Prefetch {
		if err := s.prefetch(ctx, profile, logger); err != nil {
			return fail(err)
		}
	}
	if profile.Firmware.Required {
		firmwarePath, err := s.Firmware.Materialize(ctx, buildContext)
		if err != nil {
			return fail(fmt.Errorf("stage firmware: %w", err))
		}
		buildContext.FirmwarePath = firmwarePath
		result.FirmwarePath = firmwarePath
		logger.Info("firmware staged", "path", firmwarePath)
	}

	s.transition(&result, BuildStateMaterializing, logger)
	diskPath, err := s.Disk.Materialize(ctx, buildContext)
	if err != nil {
		return fail(fmt.Errorf("materialize disk: %w", err))
	}
	result.DiskPath = diskPath
	logger.Info("disk materialized", "path", diskPath)

	s.transition(&result, BuildStateGeneratingLaunch, logger)
	descriptor := LaunchDescriptor{
		Profile:    profile,
		MemoryMiB:  request.MemoryMiB,
		CPUs:       request.CPUs,
		DiskFile:   filepath.Base(diskPath),
		DiskFormat: request.DiskFormat,
	}
	if buildContext.FirmwarePath != "" {
		descriptor.FirmwareFile = filepath.Base(buildContext.FirmwarePath)
	}
	scriptPath, err := s.Launch.Write(descriptor, dir)
	if err != nil {
		return fail(fmt.Errorf("write launch script: %w", err))
	}
	result.ScriptPath = scriptPath

	s.transition(&result, BuildStateDone, logger)
	logger.Info("build completed", "script", scriptPath)
	return result, nil
}

// validate resolves the profile and checks the request without touching the filesystem or network.
func (s *BuildService) validate(request *BuildRequest) (GuestProfile, error) {
	profile, err := s.Profiles.Resolve(request.OS, request.Arch)
	if err != nil {
		return GuestProfile{}, err
	}

	if request.DiskFormat == "" {
		request.DiskFormat = DiskFormatRaw
	}

	switch {
	case request.Path == "":
		return GuestProfile{}, &ConfigurationError{Message: "target path is required"}
	case request.DiskSize <= 0:
		return GuestProfile{}, &ConfigurationError{Message: fmt.Sprintf("disk size must be positive, got %d", request.DiskSize)}
	case request.MemoryMiB <= 0:
		return GuestProfile{}, &ConfigurationError{Message: fmt.Sprintf("memory must be positive, got %d MiB", request.MemoryMiB)}
	case request.CPUs <= 0:
		return GuestProfile{}, &ConfigurationError{Message: fmt.Sprintf("cpu count must be positive, got %d", request.CPUs)}
	case request.DiskFormat != DiskFormatRaw && request.DiskFormat != DiskFormatQCOW2:
		return GuestProfile{}, &ConfigurationError{Message: fmt.Sprintf("unsupported disk format %q (supported: raw, qcow2)", request.DiskFormat)}
	}

	return profile, nil
}

func (s *BuildService) prefetch(ctx context.Context, profile GuestProfile, logger *slog.Logger) error {
	requests := []artifacts.Request{{Source: profile.Source(), Key: profile.ArtifactKey()}}
	if profile.Firmware.Required {
		if request, ok := s.Firmware.Plan(profile); ok {
			requests = append(requests, request)
		}
	}

	logger.Info("acquiring artifacts", "count", len(requests))
	if _, err := s.Acquirer.EnsureAll(ctx, requests); err != nil {
		return err
	}
	return nil
}

func (s *BuildService) transition(result *BuildResult, state BuildState, logger *slog.Logger) {
	logger.Debug("build state", "from", result.State, "to", state)
	result.State = state
	if s.Observer != nil {
		s.Observer(state)
	}
}

func (s *BuildService) checkConfigured() error {
	var missing []error
	if s.Profiles == nil {
		missing = append(missing, errors.New("profile repository is not configured"))
	}
	if s.Tools == nil {
		missing = append(missing, errors.New("host probe is not configured"))
	}
	if s.Preparer == nil {
		missing = append(missing, errors.New("directory preparer is not configured"))
	}
	if s.Acquirer == nil {
		missing = append(missing, errors.New("artifact acquirer is not configured"))
	}
	if s.Firmware == nil {
		missing = append(missing, errors.New("firmware materializer is not configured"))
	}
	if s.Disk == nil {
		missing = append(missing, errors.New("disk materializer is not configured"))
	}
	if s.Launch == nil {
		missing = append(missing, errors.New("launch writer is not configured"))
	}
	return errors.Join(missing...)
}

func (s *BuildService) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}
