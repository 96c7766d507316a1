package build

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cochaviz/guestctl/arch"
	"github.com/cochaviz/guestctl/internal/artifacts"
)

// recorder collects the side effects of every stub in call order.
type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) add(call string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, call)
}

func (r *recorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

type stubProfiles struct {
	profiles map[string]GuestProfile
}

func (s *stubProfiles) Resolve(osID, archID string) (GuestProfile, error) {
	profile, ok := s.profiles[osID+"/"+archID]
	if !ok {
		return GuestProfile{}, &ConfigurationError{OS: osID, Arch: archID, Supported: []string{"netbsd-9/arm64"}}
	}
	return profile.Clone(), nil
}

func (s *stubProfiles) ListAll() []GuestProfile {
	var out []GuestProfile
	for _, profile := range s.profiles {
		out = append(out, profile)
	}
	return out
}

type stubProbe struct {
	rec *recorder
	err error
}

func (s *stubProbe) EnsureTools(ctx context.Context, profile GuestProfile) error {
	s.rec.add("tools")
	return s.err
}

type stubPreparer struct {
	rec *recorder
	dir string
	err error
}

func (s *stubPreparer) Prepare(path string, diskSize int64) (string, error) {
	s.rec.add("prepare")
	if s.err != nil {
		return "", s.err
	}
	return s.dir, nil
}

type stubAcquirer struct {
	rec      *recorder
	err      error
	requests []artifacts.Request
}

func (s *stubAcquirer) Ensure(ctx context.Context, request artifacts.Request) (string, error) {
	s.rec.add("ensure")
	return "/cache/" + request.Key.FileName(), s.err
}

func (s *stubAcquirer) EnsureAll(ctx context.Context, requests []artifacts.Request) ([]string, error) {
	s.rec.add("ensure-all")
	s.requests = append(s.requests, requests...)
	if s.err != nil {
		return nil, s.err
	}
	paths := make([]string, len(requests))
	for i, request := range requests {
		paths[i] = "/cache/" + request.Key.FileName()
	}
	return paths, nil
}

type stubFirmware struct {
	rec *recorder
	err error
}

func (s *stubFirmware) Plan(profile GuestProfile) (artifacts.Request, bool) {
	if profile.Firmware.SourceURL == "" {
		return artifacts.Request{}, false
	}
	return artifacts.Request{
		Source: artifacts.Source{URL: profile.Firmware.SourceURL, Checksum: profile.Firmware.Checksum},
		Key:    artifacts.FirmwareKey(profile.Arch.String()),
	}, true
}

func (s *stubFirmware) Materialize(ctx context.Context, buildContext BuildContext) (string, error) {
	s.rec.add("firmware")
	if s.err != nil {
		return "", s.err
	}
	return filepath.Join(buildContext.Dir, "flash0.img"), nil
}

type stubDisk struct {
	rec *recorder
	err error
	got BuildContext
}

func (s *stubDisk) Materialize(ctx context.Context, buildContext BuildContext) (string, error) {
	s.rec.add("disk")
	s.got = buildContext
	if s.err != nil {
		return "", s.err
	}
	return filepath.Join(buildContext.Dir, "disk.img"), nil
}

type stubLaunch struct {
	rec        *recorder
	descriptor LaunchDescriptor
}

func (s *stubLaunch) Write(descriptor LaunchDescriptor, dir string) (string, error) {
	s.rec.add("launch")
	s.descriptor = descriptor
	return filepath.Join(dir, "run.sh"), nil
}

type fixture struct {
	rec      *recorder
	service  *BuildService
	preparer *stubPreparer
	acquirer *stubAcquirer
	firmware *stubFirmware
	disk     *stubDisk
	launch   *stubLaunch
	states   []BuildState
}

func testProfile() GuestProfile {
	return GuestProfile{
		OS:             "netbsd-9",
		Arch:           arch.ARM64,
		BootKind:       BootKindPrebuiltImage,
		SourceURL:      "https://example.test/arm64.img.gz",
		Checksum:       strings.Repeat("a", 64),
		Compression:    "gzip",
		CPUModel:       "cortex-a57",
		MachineType:    "virt",
		MediaInterface: "scsi",
		Firmware: FirmwareProfile{
			Required:  true,
			SourceURL: "https://example.test/QEMU_EFI.fd",
			Checksum:  strings.Repeat("b", 64),
			FlashSize: 64 << 20,
		},
	}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	rec := &recorder{}
	f := &fixture{
		rec:      rec,
		preparer: &stubPreparer{rec: rec, dir: t.TempDir()},
		acquirer: &stubAcquirer{rec: rec},
		firmware: &stubFirmware{rec: rec},
		disk:     &stubDisk{rec: rec},
		launch:   &stubLaunch{rec: rec},
	}
	profile := testProfile()
	f.service = &BuildService{
		Profiles: &stubProfiles{profiles: map[string]GuestProfile{profile.ID(): profile}},
		Tools:    &stubProbe{rec: rec},
		Preparer: f.preparer,
		Acquirer: f.acquirer,
		Firmware: f.firmware,
		Disk:     f.disk,
		Launch:   f.launch,
		Observer: func(state BuildState) { f.states = append(f.states, state) },
	}
	return f
}

func validRequest() *BuildRequest {
	return &BuildRequest{
		OS:        "netbsd-9",
		Arch:      "arm64",
		Path:      "netbsd-9-arm64",
		DiskSize:  10 << 30,
		MemoryMiB: 1024,
		CPUs:      2,
	}
}

func TestRunWalksAllStates(t *testing.T) {
	f := newFixture(t)

	result, err := f.service.Run(context.Background(), validRequest())
	require.NoError(t, err)

	assert.Equal(t, BuildStateDone, result.State)
	assert.Equal(t, []BuildState{
		BuildStateValidatingInputs,
		BuildStatePreparingDir,
		BuildStateAcquiringFW,
		BuildStateMaterializing,
		BuildStateGeneratingLaunch,
		BuildStateDone,
	}, f.states)
	assert.Equal(t, []string{"tools", "prepare", "firmware", "disk", "launch"}, f.rec.list())
	assert.NotEmpty(t, result.ID)
	assert.Equal(t, filepath.Join(f.preparer.dir, "run.sh"), result.ScriptPath)
}

func TestRunPassesRelativeNamesToLaunchWriter(t *testing.T) {
	f := newFixture(t)

	_, err := f.service.Run(context.Background(), validRequest())
	require.NoError(t, err)

	assert.Equal(t, "disk.img", f.launch.descriptor.DiskFile)
	assert.Equal(t, "flash0.img", f.launch.descriptor.FirmwareFile)
	assert.Equal(t, DiskFormatRaw, f.launch.descriptor.DiskFormat)
	assert.Equal(t, 1024, f.launch.descriptor.MemoryMiB)
	assert.Equal(t, filepath.Join(f.preparer.dir, "flash0.img"), f.disk.got.FirmwarePath)
}

func TestRunSkipsFirmwareWhenNotRequired(t *testing.T) {
	f := newFixture(t)
	profile := testProfile()
	profile.Firmware = FirmwareProfile{}
	f.service.Profiles = &stubProfiles{profiles: map[string]GuestProfile{profile.ID(): profile}}

	result, err := f.service.Run(context.Background(), validRequest())
	require.NoError(t, err)

	assert.NotContains(t, f.rec.list(), "firmware")
	assert.Empty(t, result.FirmwarePath)
	assert.Empty(t, f.launch.descriptor.FirmwareFile)
}

func TestRunValidationFailsBeforeSideEffects(t *testing.T) {
	cases := map[string]func(*BuildRequest){
		"unknown arch": func(r *BuildRequest) { r.Arch = "aarch64" },
		"unknown os":   func(r *BuildRequest) { r.OS = "plan9" },
		"empty path":   func(r *BuildRequest) { r.Path = "" },
		"zero size":    func(r *BuildRequest) { r.DiskSize = 0 },
		"zero memory":  func(r *BuildRequest) { r.MemoryMiB = 0 },
		"zero cpus":    func(r *BuildRequest) { r.CPUs = -1 },
		"bad format":   func(r *BuildRequest) { r.DiskFormat = "vmdk" },
	}

	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t)
			request := validRequest()
			mutate(request)

			result, err := f.service.Run(context.Background(), request)

			var cfgErr *ConfigurationError
			require.True(t, errors.As(err, &cfgErr), "got %v", err)
			assert.Equal(t, BuildStateFailed, result.State)
			assert.Empty(t, f.rec.list())
		})
	}
}

func TestRunStopsOnDirectoryConflict(t *testing.T) {
	f := newFixture(t)
	f.preparer.err = &FilesystemConflictError{Path: "netbsd-9-arm64", Reason: "exists and is not a directory"}

	result, err := f.service.Run(context.Background(), validRequest())

	var conflict *FilesystemConflictError
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, BuildStateFailed, result.State)
	assert.Equal(t, []string{"tools", "prepare"}, f.rec.list())
	assert.Equal(t, BuildStateFailed, f.states[len(f.states)-1])
}

func TestRunStopsOnToolingMissing(t *testing.T) {
	f := newFixture(t)
	f.service.Tools = &stubProbe{rec: f.rec, err: &ToolingMissingError{Tool: "qemu-img"}}

	_, err := f.service.Run(context.Background(), validRequest())

	var missing *ToolingMissingError
	require.True(t, errors.As(err, &missing))
	assert.Equal(t, []string{"tools"}, f.rec.list())
}

func TestRunWrapsDiskFailure(t *testing.T) {
	f := newFixture(t)
	f.disk.err = &IntegrityError{URL: "https://example.test/arm64.img.gz", Expected: "a", Actual: "b"}

	result, err := f.service.Run(context.Background(), validRequest())

	var integrity *IntegrityError
	require.True(t, errors.As(err, &integrity))
	assert.Equal(t, BuildStateFailed, result.State)
	assert.NotContains(t, f.rec.list(), "launch")
}

func TestRunPrefetchRequestsDiskAndFirmware(t *testing.T) {
	f := newFixture(t)
	f.service.Prefetch = true

	_, err := f.service.Run(context.Background(), validRequest())
	require.NoError(t, err)

	require.Len(t, f.acquirer.requests, 2)
	assert.Equal(t, "netbsd-9-arm64.img.gz", f.acquirer.requests[0].Key.FileName())
	assert.Equal(t, "arm64-firmware.fd", f.acquirer.requests[1].Key.FileName())
	assert.Equal(t, []string{"tools", "prepare", "ensure-all", "firmware", "disk", "launch"}, f.rec.list())
}

func TestRunPrefetchFailureAbortsBuild(t *testing.T) {
	f := newFixture(t)
	f.service.Prefetch = true
	f.acquirer.err = &FetchError{URL: "https://example.test/arm64.img.gz", StatusCode: 404}

	result, err := f.service.Run(context.Background(), validRequest())

	var fetchErr *FetchError
	require.True(t, errors.As(err, &fetchErr))
	assert.Equal(t, 404, fetchErr.StatusCode)
	assert.Equal(t, BuildStateFailed, result.State)
	assert.NotContains(t, f.rec.list(), "disk")
}

func TestRunRejectsUnconfiguredService(t *testing.T) {
	service := &BuildService{}

	result, err := service.Run(context.Background(), validRequest())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "profile repository is not configured")
	assert.Contains(t, err.Error(), "launch writer is not configured")
	assert.Equal(t, BuildStateFailed, result.State)
}

func TestRunRejectsNilRequest(t *testing.T) {
	f := newFixture(t)

	_, err := f.service.Run(context.Background(), nil)

	var cfgErr *ConfigurationError
	assert.True(t, errors.As(err, &cfgErr))
}
