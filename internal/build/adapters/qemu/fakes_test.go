package qemu

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/kdomanski/iso9660"

	"github.com/cochaviz/guestctl/arch"
	"github.com/cochaviz/guestctl/internal/artifacts"
	"github.com/cochaviz/guestctl/internal/build"
)

// fakeDiskTool manipulates real sparse files the way qemu-img would for raw images.
type fakeDiskTool struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakeDiskTool) record(format string, args ...any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, fmt.Sprintf(format, args...))
}

func (f *fakeDiskTool) Create(ctx context.Context, path, format string, size int64) error {
	f.record("create %s %s %d", path, format, size)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if err := file.Truncate(size); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

func (f *fakeDiskTool) Resize(ctx context.Context, path, format string, size int64) error {
	f.record("resize %s %s %d", path, format, size)
	return os.Truncate(path, size)
}

func (f *fakeDiskTool) Convert(ctx context.Context, src, dst, format string) error {
	f.record("convert %s %s %s", src, dst, format)
	_, err := copyFile(src, dst)
	return err
}

func (f *fakeDiskTool) Info(ctx context.Context, path string) (DiskInfo, error) {
	f.record("info %s", path)
	info, err := os.Stat(path)
	if err != nil {
		return DiskInfo{}, err
	}
	return DiskInfo{Format: "raw", VirtualSize: info.Size(), ActualSize: info.Size()}, nil
}

func (f *fakeDiskTool) commands() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.calls))
	for _, call := range f.calls {
		out = append(out, strings.Fields(call)[0])
	}
	return out
}

// fakeAcquirer serves artifacts from a fixed map of file names to paths.
type fakeAcquirer struct {
	paths    map[string]string
	requests []artifacts.Request
	err      error
}

func (f *fakeAcquirer) Ensure(ctx context.Context, request artifacts.Request) (string, error) {
	f.requests = append(f.requests, request)
	if f.err != nil {
		return "", f.err
	}
	path, ok := f.paths[request.Key.FileName()]
	if !ok {
		return "", &build.FetchError{URL: request.Source.URL, StatusCode: 404}
	}
	return path, nil
}

func (f *fakeAcquirer) EnsureAll(ctx context.Context, requests []artifacts.Request) ([]string, error) {
	var paths []string
	for _, request := range requests {
		path, err := f.Ensure(ctx, request)
		if err != nil {
			return nil, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}

type fakeInstaller struct {
	sessions []InstallSession
	err      error
}

func (f *fakeInstaller) Install(ctx context.Context, session InstallSession) error {
	f.sessions = append(f.sessions, session)
	return f.err
}

type fakeConfirmer struct {
	answer bool
	asked  int
}

func (f *fakeConfirmer) Confirm(prompt string) (bool, error) {
	f.asked++
	return f.answer, nil
}

func writeISO(t *testing.T, path string) {
	t.Helper()

	writer, err := iso9660.NewWriter()
	if err != nil {
		t.Fatalf("NewWriter() error = %v", err)
	}
	defer writer.Cleanup()

	if err := writer.AddFile(strings.NewReader("installer payload"), "readme.txt"); err != nil {
		t.Fatalf("AddFile() error = %v", err)
	}

	out, err := os.Create(path)
	if err != nil {
		t.Fatalf("create iso: %v", err)
	}
	defer out.Close()
	if err := writer.WriteTo(out, "INSTALLER"); err != nil {
		t.Fatalf("WriteTo() error = %v", err)
	}
}

func netbsdProfile() build.GuestProfile {
	return build.GuestProfile{
		OS:             "netbsd-9",
		Arch:           arch.ARM64,
		BootKind:       build.BootKindPrebuiltImage,
		SourceURL:      "https://example.test/arm64.img.gz",
		Checksum:       strings.Repeat("a", 64),
		Compression:    "gzip",
		CPUModel:       "cortex-a57",
		MachineType:    "virt",
		MediaInterface: "scsi",
		Firmware: build.FirmwareProfile{
			Required:  true,
			SourceURL: "https://example.test/QEMU_EFI.fd",
			Checksum:  strings.Repeat("b", 64),
			FlashSize: 64 << 20,
		},
		ExtraArgs:   []string{"-nographic"},
		Description: "NetBSD test image",
	}
}

func ubuntuProfile() build.GuestProfile {
	return build.GuestProfile{
		OS:             "ubuntu-bionic",
		Arch:           arch.ARM64,
		BootKind:       build.BootKindInstallFromISO,
		SourceURL:      "https://example.test/server-arm64.iso",
		Checksum:       strings.Repeat("c", 64),
		CPUModel:       "cortex-a57",
		MachineType:    "virt",
		MediaInterface: "scsi",
		Firmware:       netbsdProfile().Firmware,
		ExtraArgs:      []string{"-nographic"},
	}
}
