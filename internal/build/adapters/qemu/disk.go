package qemu

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/cochaviz/guestctl/internal/build"
)

// DiskInfo is the subset of `qemu-img info` output the materializer needs.
type DiskInfo struct {
	Format      string `json:"format"`
	VirtualSize int64  `json:"virtual-size"`
	ActualSize  int64  `json:"actual-size"`
}

// DiskTool creates and modifies disk images.
type DiskTool interface {
	Create(ctx context.Context, path, format string, size int64) error
	Resize(ctx context.Context, path, format string, size int64) error
	Convert(ctx context.Context, src, dst, format string) error
	Info(ctx context.Context, path string) (DiskInfo, error)
}

var _ DiskTool = (*QemuImg)(nil)

// QemuImg implements DiskTool by running qemu-img.
type QemuImg struct {
	// Binary defaults to "qemu-img" looked up in PATH.
	Binary string
	Logger *slog.Logger
}

func (q *QemuImg) Create(ctx context.Context, path, format string, size int64) error {
	_, err := q.run(ctx, "create", "-q", "-f", format, path, strconv.FormatInt(size, 10))
	return err
}

func (q *QemuImg) Resize(ctx context.Context, path, format string, size int64) error {
	_, err := q.run(ctx, "resize", "-q", "-f", format, path, strconv.FormatInt(size, 10))
	return err
}

func (q *QemuImg) Convert(ctx context.Context, src, dst, format string) error {
	_, err := q.run(ctx, "convert", "-q", "-f", build.DiskFormatRaw, "-O", format, src, dst)
	return err
}

func (q *QemuImg) Info(ctx context.Context, path string) (DiskInfo, error) {
	out, err := q.run(ctx, "info", "--output=json", path)
	if err != nil {
		return DiskInfo{}, err
	}

	var info DiskInfo
	if err := json.Unmarshal(out, &info); err != nil {
		return DiskInfo{}, fmt.Errorf("parse qemu-img info for %s: %w", path, err)
	}
	return info, nil
}

func (q *QemuImg) run(ctx context.Context, args ...string) ([]byte, error) {
	binary := q.Binary
	if binary == "" {
		binary = "qemu-img"
	}

	q.logger().Debug("running qemu-img", "args", strings.Join(args, " "))

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, binary, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("qemu-img %s: %w (output: %s)", args[0], err, strings.TrimSpace(stderr.String()))
	}
	return stdout.Bytes(), nil
}

func (q *QemuImg) logger() *slog.Logger {
	if q != nil && q.Logger != nil {
		return q.Logger
	}
	return slog.Default()
}

// resizeDisk grows the image at path to size. Shrinking is refused and an
// image already at size is left untouched.
func resizeDisk(ctx context.Context, tool DiskTool, path, format string, size int64) (bool, error) {
	info, err := tool.Info(ctx, path)
	if err != nil {
		return false, err
	}

	switch {
	case size < info.VirtualSize:
		return false, fmt.Errorf("%w: image is %s, requested %s",
			build.ErrShrinkNotSupported,
			humanize.IBytes(uint64(info.VirtualSize)),
			humanize.IBytes(uint64(size)),
		)
	case size == info.VirtualSize:
		return false, nil
	}

	if err := tool.Resize(ctx, path, format, size); err != nil {
		return false, err
	}
	return true, nil
}
