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
	"github.com/kdomanski/iso9660"
	"github.com/klauspost/compress/gzip"

	"github.com/cochaviz/guestctl/internal/artifacts"
	"github.com/cochaviz/guestctl/internal/build"
	"github.com/cochaviz/guestctl/internal/progress"
)

var _ build.DiskMaterializer = (*DiskMaterializer)(nil)

// DiskMaterializer produces the primary disk of a build, either by booting
// the guest installer against a blank disk or by expanding a prebuilt image.
type DiskMaterializer struct {
	Tool      DiskTool
	Acquirer  build.ArtifactAcquirer
	Installer InstallRunner
	Logger    *slog.Logger
	// Progress receives decompression progress. Nil disables it.
	Progress io.Writer
}

// Materialize writes the disk into buildContext.Dir and returns its path.
func (m *DiskMaterializer) Materialize(ctx context.Context, buildContext build.BuildContext) (string, error) {
	profile := buildContext.Profile
	logger := m.logger().With("os", profile.OS, "arch", profile.Arch, "boot", profile.BootKind)

	switch profile.BootKind {
	case build.BootKindInstallFromISO:
		return m.installFromMedia(ctx, buildContext, logger)
	case build.BootKindPrebuiltImage:
		return m.expandImage(ctx, buildContext, logger)
	default:
		return "", &build.InvariantError{
			Message: fmt.Sprintf("profile %s has boot kind %q: nothing to download", profile.ID(), profile.BootKind),
		}
	}
}

// installFromMedia creates a blank disk in the requested format and boots
// the installer once with the disk as first drive and the media as CD-ROM.
func (m *DiskMaterializer) installFromMedia(ctx context.Context, buildContext build.BuildContext, logger *slog.Logger) (string, error) {
	profile := buildContext.Profile
	request := buildContext.Request

	diskPath := filepath.Join(buildContext.Dir, diskFileName(request.DiskFormat))
	if err := m.Tool.Create(ctx, diskPath, request.DiskFormat, request.DiskSize); err != nil {
		return "", fmt.Errorf("create blank disk: %w", err)
	}
	logger.Info("created blank disk", "path", diskPath, "size", humanize.IBytes(uint64(request.DiskSize)))

	mediaPath, err := m.Acquirer.Ensure(ctx, artifacts.Request{Source: profile.Source(), Key: profile.ArtifactKey()})
	if err != nil {
		return "", err
	}
	if err := checkInstallMedia(mediaPath, logger); err != nil {
		return "", err
	}

	spec := machineSpec{
		Profile:    profile,
		MemoryMiB:  request.MemoryMiB,
		CPUs:       request.CPUs,
		Root:       buildContext.Dir,
		DiskFile:   filepath.Base(diskPath),
		DiskFormat: request.DiskFormat,
		MediaPath:  mediaPath,
	}
	if buildContext.FirmwarePath != "" {
		spec.FirmwareFile = filepath.Base(buildContext.FirmwarePath)
	}

	accel, cpu := acceleration(profile)
	session := InstallSession{
		Binary: profile.Arch.QEMUBinary(),
		Args:   append([]string{"-accel", accel, "-cpu", cpu}, emulatorArgs(spec)...),
		Dir:    buildContext.Dir,
	}

	logger.Info("booting installer; complete the installation in the guest console and power it off", "accel", accel)
	if err := m.Installer.Install(ctx, session); err != nil {
		return "", fmt.Errorf("run installer: %w", err)
	}
	return diskPath, nil
}

// expandImage decompresses the cached image into the build directory and
// grows it to the requested size.
func (m *DiskMaterializer) expandImage(ctx context.Context, buildContext build.BuildContext, logger *slog.Logger) (string, error) {
	profile := buildContext.Profile
	request := buildContext.Request

	imagePath, err := m.Acquirer.Ensure(ctx, artifacts.Request{Source: profile.Source(), Key: profile.ArtifactKey()})
	if err != nil {
		return "", err
	}

	rawPath := filepath.Join(buildContext.Dir, diskFileName(build.DiskFormatRaw))
	written, err := m.decompress(ctx, imagePath, rawPath, profile.Compression)
	if err != nil {
		return "", err
	}
	logger.Info("expanded image", "path", rawPath, "size", humanize.IBytes(uint64(written)))

	resized, err := resizeDisk(ctx, m.Tool, rawPath, build.DiskFormatRaw, request.DiskSize)
	if err != nil {
		return "", err
	}
	if resized {
		logger.Info("resized disk", "size", humanize.IBytes(uint64(request.DiskSize)))
	}

	if request.DiskFormat != build.DiskFormatQCOW2 {
		return rawPath, nil
	}

	qcowPath := filepath.Join(buildContext.Dir, diskFileName(build.DiskFormatQCOW2))
	if err := m.Tool.Convert(ctx, rawPath, qcowPath, build.DiskFormatQCOW2); err != nil {
		return "", fmt.Errorf("convert disk: %w", err)
	}
	if err := os.Remove(rawPath); err != nil {
		return "", err
	}
	return qcowPath, nil
}

func (m *DiskMaterializer) decompress(ctx context.Context, src, dst, compression string) (int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer in.Close()

	var reader io.Reader = in
	switch compression {
	case "":
	case "gzip":
		gz, err := gzip.NewReader(in)
		if err != nil {
			return 0, fmt.Errorf("open gzip stream %s: %w", src, err)
		}
		defer gz.Close()
		reader = gz
	default:
		return 0, &build.InvariantError{Message: fmt.Sprintf("unsupported compression %q", compression)}
	}

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return 0, err
	}

	bar := progress.New(m.Progress, -1, "expand "+filepath.Base(dst))
	written, copyErr := io.Copy(io.MultiWriter(out, bar), contextReader{ctx: ctx, r: reader})
	bar.Finish()
	if err := errors.Join(copyErr, out.Close()); err != nil {
		return 0, errors.Join(fmt.Errorf("expand %s: %w", filepath.Base(src), err), os.Remove(dst))
	}
	return written, nil
}

func (m *DiskMaterializer) logger() *slog.Logger {
	if m != nil && m.Logger != nil {
		return m.Logger
	}
	return slog.Default()
}

// checkInstallMedia verifies that path holds a readable ISO9660 volume
// with at least one entry in its root directory.
func checkInstallMedia(path string, logger *slog.Logger) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	image, err := iso9660.OpenImage(file)
	if err != nil {
		return &build.BuildError{Message: fmt.Sprintf("%s is not an ISO9660 image: %v", path, err)}
	}
	root, err := image.RootDir()
	if err != nil {
		return &build.BuildError{Message: fmt.Sprintf("read root directory of %s: %v", path, err)}
	}
	children, err := root.GetChildren()
	if err != nil {
		return &build.BuildError{Message: fmt.Sprintf("list root directory of %s: %v", path, err)}
	}
	if len(children) == 0 {
		return &build.BuildError{Message: fmt.Sprintf("installation media %s is empty", path)}
	}

	label, _ := image.Label()
	logger.Debug("installation media verified", "label", label, "entries", len(children))
	return nil
}

type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
