package qemu

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cochaviz/guestctl/internal/build"
)

func TestFirmwarePrefersHostPath(t *testing.T) {
	host := filepath.Join(t.TempDir(), "QEMU_EFI.fd")
	require.NoError(t, os.WriteFile(host, []byte("host firmware"), 0o644))

	profile := netbsdProfile()
	profile.Firmware.HostPaths = []string{filepath.Join(t.TempDir(), "missing.fd"), host}
	acquirer := &fakeAcquirer{}
	stager := &FirmwareStager{Acquirer: acquirer}

	_, planned := stager.Plan(profile)
	assert.False(t, planned)

	dir := t.TempDir()
	path, err := stager.Materialize(context.Background(), build.BuildContext{Profile: profile, Dir: dir})
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "flash0.img"), path)
	assert.Empty(t, acquirer.requests)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Len(t, data, 64<<20)
	assert.True(t, bytes.HasPrefix(data, []byte("host firmware")))
	assert.Equal(t, byte(0), data[len(data)-1])
}

func TestFirmwareDownloadsWhenHostHasNone(t *testing.T) {
	cached := filepath.Join(t.TempDir(), "arm64-firmware.fd")
	require.NoError(t, os.WriteFile(cached, []byte("downloaded firmware"), 0o644))

	profile := netbsdProfile()
	acquirer := &fakeAcquirer{paths: map[string]string{"arm64-firmware.fd": cached}}
	stager := &FirmwareStager{Acquirer: acquirer}

	request, planned := stager.Plan(profile)
	require.True(t, planned)
	assert.Equal(t, "arm64-firmware.fd", request.Key.FileName())
	assert.Equal(t, profile.Firmware.Checksum, request.Source.Checksum)

	path, err := stager.Materialize(context.Background(), build.BuildContext{Profile: profile, Dir: t.TempDir()})
	require.NoError(t, err)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.EqualValues(t, 64<<20, info.Size())
	assert.Len(t, acquirer.requests, 1)
}

func TestFirmwareRejectsOversizedImage(t *testing.T) {
	host := filepath.Join(t.TempDir(), "QEMU_EFI.fd")
	require.NoError(t, os.WriteFile(host, bytes.Repeat([]byte{1}, 4096), 0o644))

	profile := netbsdProfile()
	profile.Firmware.HostPaths = []string{host}
	profile.Firmware.FlashSize = 1024
	dir := t.TempDir()

	_, err := (&FirmwareStager{}).Materialize(context.Background(), build.BuildContext{Profile: profile, Dir: dir})
	require.Error(t, err)

	_, statErr := os.Stat(filepath.Join(dir, "flash0.img"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestFirmwareNotRequired(t *testing.T) {
	profile := netbsdProfile()
	profile.Firmware = build.FirmwareProfile{}
	stager := &FirmwareStager{}

	_, planned := stager.Plan(profile)
	assert.False(t, planned)

	path, err := stager.Materialize(context.Background(), build.BuildContext{Profile: profile, Dir: t.TempDir()})
	require.NoError(t, err)
	assert.Empty(t, path)
}
