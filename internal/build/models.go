package build

import (
	"github.com/cochaviz/guestctl/arch"
	"github.com/cochaviz/guestctl/internal/artifacts"
)

// BootKind selects how a guest's primary disk is produced.
type BootKind string

const (
	// BootKindInstallFromISO creates a blank disk and boots the guest installer from ISO media.
	BootKindInstallFromISO BootKind = "iso"
	// BootKindPrebuiltImage decompresses a published disk image and grows it.
	BootKindPrebuiltImage BootKind = "prebuilt"
)

// BuildState captures the lifecycle states of a single build.
type BuildState string

const (
	BuildStateIdle             BuildState = "idle"
	BuildStateValidatingInputs BuildState = "validating-inputs"
	BuildStatePreparingDir     BuildState = "preparing-directory"
	BuildStateAcquiringFW      BuildState = "acquiring-firmware"
	BuildStateMaterializing    BuildState = "materializing-disk"
	BuildStateGeneratingLaunch BuildState = "generating-launch-descriptor"
	BuildStateDone             BuildState = "done"
	BuildStateFailed           BuildState = "failed"
)

// Disk formats accepted for the materialized image.
const (
	DiskFormatRaw   = "raw"
	DiskFormatQCOW2 = "qcow2"
)

// FirmwareProfile describes the boot firmware an architecture needs.
type FirmwareProfile struct {
	Required bool
	// HostPaths are checked in order; the first existing file is used.
	HostPaths []string
	// SourceURL and Checksum are used when no host path exists.
	SourceURL string
	Checksum  string
	// FlashSize pads the staged image to a fixed pflash size. Zero copies as-is.
	FlashSize int64
}

// GuestProfile is the immutable description of how to provision one (os, arch) guest.
type GuestProfile struct {
	OS             string
	Arch           arch.Architecture
	BootKind       BootKind
	SourceURL      string
	Checksum       string
	Compression    string
	CPUModel       string
	MachineType    string
	MediaInterface string
	Firmware       FirmwareProfile
	ExtraArgs      []string
	Description    string
}

// ID returns the "os/arch" identifier of the profile.
func (p GuestProfile) ID() string {
	return p.OS + "/" + p.Arch.String()
}

// Source returns the primary artifact of the profile.
func (p GuestProfile) Source() artifacts.Source {
	return artifacts.Source{URL: p.SourceURL, Checksum: p.Checksum}
}

// ArtifactKey returns the cache key of the primary artifact.
func (p GuestProfile) ArtifactKey() artifacts.CacheKey {
	if p.BootKind == BootKindInstallFromISO {
		return artifacts.MediaKey(p.OS, p.Arch.String())
	}
	return artifacts.ImageKey(p.OS, p.Arch.String(), p.Compression)
}

// Clone returns a deep copy so callers cannot mutate registry state.
func (p GuestProfile) Clone() GuestProfile {
	c := p
	c.ExtraArgs = append([]string(nil), p.ExtraArgs...)
	c.Firmware.HostPaths = append([]string(nil), p.Firmware.HostPaths...)
	return c
}

// BuildRequest carries the already-parsed user input of an install.
type BuildRequest struct {
	OS         string
	Arch       string
	Path       string
	DiskSize   int64
	MemoryMiB  int
	CPUs       int
	DiskFormat string
}

// BuildContext is shared by the materializers of one build.
type BuildContext struct {
	Profile GuestProfile
	Request BuildRequest
	// Dir is the absolute, freshly prepared build directory.
	Dir string
	// FirmwarePath is the staged firmware inside Dir, if any.
	FirmwarePath string
}

// LaunchDescriptor holds the resolved runtime parameters of a finished build.
// File names are relative to the build directory.
type LaunchDescriptor struct {
	Profile      GuestProfile
	MemoryMiB    int
	CPUs         int
	DiskFile     string
	DiskFormat   string
	FirmwareFile string
}

// BuildResult reports the outcome of BuildService.Run.
type BuildResult struct {
	ID           string
	State        BuildState
	Profile      GuestProfile
	Dir          string
	DiskPath     string
	FirmwarePath string
	ScriptPath   string
}
