package qemu

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"

	"github.com/cochaviz/guestctl/internal/artifacts"
	"github.com/cochaviz/guestctl/internal/build"
)

var _ build.FirmwareMaterializer = (*FirmwareStager)(nil)

// FirmwareStager copies boot firmware into the build directory as a pflash image.
type FirmwareStager struct {
	Acquirer build.ArtifactAcquirer
	Logger   *slog.Logger
}

// Plan returns the firmware download Materialize will perform. Nothing is
// downloaded when the profile needs no firmware or the host already has it.
func (f *FirmwareStager) Plan(profile build.GuestProfile) (artifacts.Request, bool) {
	fw := profile.Firmware
	if !fw.Required || fw.SourceURL == "" || hostFirmware(fw) != "" {
		return artifacts.Request{}, false
	}
	return artifacts.Request{
		Source: artifacts.Source{URL: fw.SourceURL, Checksum: fw.Checksum},
		Key:    artifacts.FirmwareKey(profile.Arch.String()),
	}, true
}

// Materialize stages the firmware as flash0.img, zero-padded to the flash size.
func (f *FirmwareStager) Materialize(ctx context.Context, buildContext build.BuildContext) (string, error) {
	fw := buildContext.Profile.Firmware
	if !fw.Required {
		return "", nil
	}
	logger := f.logger().With("arch", buildContext.Profile.Arch)

	src := hostFirmware(fw)
	if src != "" {
		logger.Info("using host firmware", "path", src)
	} else {
		request, ok := f.Plan(buildContext.Profile)
		if !ok {
			return "", &build.InvariantError{
				Message: fmt.Sprintf("profile %s requires firmware but has no source", buildContext.Profile.ID()),
			}
		}
		path, err := f.Acquirer.Ensure(ctx, request)
		if err != nil {
			return "", err
		}
		src = path
	}

	dst := filepath.Join(buildContext.Dir, firmwareFile)
	size, err := copyFile(src, dst)
	if err != nil {
		return "", fmt.Errorf("copy firmware: %w", err)
	}

	if fw.FlashSize > 0 {
		if size > fw.FlashSize {
			_ = os.Remove(dst)
			return "", &build.BuildError{Message: fmt.Sprintf(
				"firmware %s is %s, larger than the %s flash", src,
				humanize.IBytes(uint64(size)), humanize.IBytes(uint64(fw.FlashSize)),
			)}
		}
		if err := os.Truncate(dst, fw.FlashSize); err != nil {
			return "", fmt.Errorf("pad firmware: %w", err)
		}
	}
	return dst, nil
}

func (f *FirmwareStager) logger() *slog.Logger {
	if f != nil && f.Logger != nil {
		return f.Logger
	}
	return slog.Default()
}

// hostFirmware returns the first existing regular file among fw.HostPaths.
func hostFirmware(fw build.FirmwareProfile) string {
	for _, path := range fw.HostPaths {
		if info, err := os.Stat(path); err == nil && info.Mode().IsRegular() {
			return path
		}
	}
	return ""
}

func copyFile(src, dst string) (int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return 0, err
	}
	written, err := io.Copy(out, in)
	if err := errors.Join(err, out.Close()); err != nil {
		return 0, err
	}
	return written, nil
}
