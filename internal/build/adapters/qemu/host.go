package qemu

import (
	"context"
	"log/slog"
	"os"
	"os/exec"
	"runtime"
	"strings"

	"github.com/cochaviz/guestctl/internal/build"
)

// PackageManager identifies the host package manager for remediation hints.
type PackageManager int32

const (
	PackageManagerNotFound PackageManager = iota
	PackageManagerYum
	PackageManagerAptGet
	PackageManagerApk
	PackageManagerEmerge
	PackageManagerZypp
	PackageManagerPacman
	PackageManagerDNF
	PackageManagerBrew
	PackageManagerMacPorts
)

// Release files are checked in order; the first present one wins.
var distributionReleaseFiles = []struct {
	path    string
	manager PackageManager
}{
	{"/etc/fedora-release", PackageManagerDNF},
	{"/etc/redhat-release", PackageManagerYum},
	{"/etc/debian_version", PackageManagerAptGet},
	{"/etc/alpine-release", PackageManagerApk},
	{"/etc/gentoo-release", PackageManagerEmerge},
	{"/etc/SuSE-release", PackageManagerZypp},
	{"/etc/arch-release", PackageManagerPacman},
}

// InstallQEMUCommand returns the command that installs QEMU and qemu-img.
func (pm PackageManager) InstallQEMUCommand() string {
	switch pm {
	case PackageManagerYum:
		return "yum install qemu-kvm qemu-img"
	case PackageManagerAptGet:
		return "apt-get install qemu-system qemu-utils"
	case PackageManagerApk:
		return "apk add qemu-img qemu-system-x86_64 qemu-system-aarch64"
	case PackageManagerEmerge:
		return "emerge --ask app-emulation/qemu"
	case PackageManagerZypp:
		return "zypper install qemu qemu-tools"
	case PackageManagerPacman:
		return "pacman -S qemu-full"
	case PackageManagerDNF:
		return "dnf install qemu-system-x86 qemu-system-aarch64 qemu-img"
	case PackageManagerBrew:
		return "brew install qemu"
	case PackageManagerMacPorts:
		return "sudo port install qemu"
	}
	return "see https://www.qemu.org/download"
}

// DetectPackageManager inspects the host for a known package manager.
func DetectPackageManager() PackageManager {
	switch runtime.GOOS {
	case "darwin":
		if _, err := exec.LookPath("brew"); err == nil {
			return PackageManagerBrew
		}
		if _, err := exec.LookPath("port"); err == nil {
			return PackageManagerMacPorts
		}
	case "linux":
		for _, release := range distributionReleaseFiles {
			if _, err := os.Stat(release.path); err == nil {
				return release.manager
			}
		}
	}
	return PackageManagerNotFound
}

var _ build.HostProbe = (*ToolProbe)(nil)

// ToolProbe checks for the emulator and qemu-img in PATH.
type ToolProbe struct {
	PackageManager PackageManager
	// InstallHook, if set, is given the missing tools before failing.
	InstallHook func(ctx context.Context, tools []string) error
	// LookPath defaults to exec.LookPath.
	LookPath func(file string) (string, error)
	Logger   *slog.Logger
}

// EnsureTools returns a ToolingMissingError naming every tool still missing
// after the install hook ran.
func (p *ToolProbe) EnsureTools(ctx context.Context, profile build.GuestProfile) error {
	tools := []string{profile.Arch.QEMUBinary(), "qemu-img"}

	missing := p.missing(tools)
	if len(missing) == 0 {
		return nil
	}

	if p.InstallHook != nil {
		p.logger().Info("installing missing tools", "tools", strings.Join(missing, ","))
		if err := p.InstallHook(ctx, missing); err != nil {
			p.logger().Warn("install hook failed", "error", err)
		}
		missing = p.missing(tools)
		if len(missing) == 0 {
			return nil
		}
	}

	return &build.ToolingMissingError{
		Tool: strings.Join(missing, ", "),
		Hint: p.PackageManager.InstallQEMUCommand(),
	}
}

func (p *ToolProbe) missing(tools []string) []string {
	lookPath := p.LookPath
	if lookPath == nil {
		lookPath = exec.LookPath
	}

	var missing []string
	for _, tool := range tools {
		if _, err := lookPath(tool); err != nil {
			missing = append(missing, tool)
		}
	}
	return missing
}

func (p *ToolProbe) logger() *slog.Logger {
	if p != nil && p.Logger != nil {
		return p.Logger
	}
	return slog.Default()
}
