package repositories

import (
	"errors"
	"fmt"
	"sort"

	"github.com/cochaviz/guestctl/arch"
	"github.com/cochaviz/guestctl/internal/artifacts"
	"github.com/cochaviz/guestctl/internal/build"
)

const (
	netbsdMirror = "https://cdn.netbsd.org/pub/NetBSD/NetBSD-9.3"
	ubuntuMirror = "https://cdimage.ubuntu.com/releases/18.04/release"

	// The arm64 virt machine maps each pflash bank as a 64 MiB region.
	aarch64FlashSize = 64 << 20
)

func aarch64Firmware() build.FirmwareProfile {
	return build.FirmwareProfile{
		Required: true,
		HostPaths: []string{
			"/usr/share/qemu-efi-aarch64/QEMU_EFI.fd", // Debian package "qemu-efi-aarch64"
			"/usr/share/AAVMF/AAVMF_CODE.fd",          // Fedora package "edk2-aarch64"
			"/opt/homebrew/share/qemu/edk2-aarch64-code.fd",
			"/usr/local/share/qemu/edk2-aarch64-code.fd",
		},
		SourceURL: "https://releases.linaro.org/components/kernel/uefi-linaro/16.02/release/qemu64/QEMU_EFI.fd",
		Checksum:  "8029c10c37c1a48f65f881e35cd47fb8d9e14d3e26dfd31256a3157c9537d1a1",
		FlashSize: aarch64FlashSize,
	}
}

// EmbeddedProfileRepository is the static table of supported guests.
type EmbeddedProfileRepository struct {
	profiles map[string]build.GuestProfile
	order    []string
}

// NewEmbeddedProfileRepository constructs a repository holding the built-in guests.
func NewEmbeddedProfileRepository() *EmbeddedProfileRepository {
	repo, err := NewProfileRepository(DefaultProfiles()...)
	if err != nil {
		panic(fmt.Sprintf("built-in guest profiles: %v", err))
	}
	return repo
}

// NewProfileRepository constructs a repository from profiles after checking their invariants.
func NewProfileRepository(profiles ...build.GuestProfile) (*EmbeddedProfileRepository, error) {
	repo := &EmbeddedProfileRepository{
		profiles: make(map[string]build.GuestProfile, len(profiles)),
	}

	for _, profile := range profiles {
		if err := validateProfile(profile); err != nil {
			return nil, fmt.Errorf("profile %s: %w", profile.ID(), err)
		}
		id := profile.ID()
		if _, exists := repo.profiles[id]; exists {
			return nil, fmt.Errorf("profile %s defined twice", id)
		}
		repo.profiles[id] = profile.Clone()
		repo.order = append(repo.order, id)
	}

	return repo, nil
}

// Resolve returns the profile for the exact (os, arch) pair.
func (r *EmbeddedProfileRepository) Resolve(osID, archID string) (build.GuestProfile, error) {
	profile, ok := r.profiles[osID+"/"+archID]
	if !ok {
		return build.GuestProfile{}, &build.ConfigurationError{
			OS:        osID,
			Arch:      archID,
			Supported: r.Supported(),
		}
	}
	return profile.Clone(), nil
}

// ListAll returns every profile in declaration order.
func (r *EmbeddedProfileRepository) ListAll() []build.GuestProfile {
	profiles := make([]build.GuestProfile, 0, len(r.order))
	for _, id := range r.order {
		profiles = append(profiles, r.profiles[id].Clone())
	}
	return profiles
}

// Supported returns the sorted "os/arch" identifiers of all profiles.
func (r *EmbeddedProfileRepository) Supported() []string {
	ids := append([]string(nil), r.order...)
	sort.Strings(ids)
	return ids
}

func validateProfile(profile build.GuestProfile) error {
	if profile.OS == "" {
		return errors.New("os is required")
	}
	if !profile.Arch.IsValid() {
		return fmt.Errorf("unsupported architecture %q", profile.Arch)
	}
	switch profile.BootKind {
	case build.BootKindInstallFromISO, build.BootKindPrebuiltImage:
	default:
		return fmt.Errorf("unknown boot kind %q", profile.BootKind)
	}
	if profile.SourceURL == "" {
		return errors.New("source url is required")
	}
	if err := artifacts.ValidateChecksum(profile.Checksum); err != nil {
		return err
	}
	if profile.Compression != "" && profile.Compression != "gzip" {
		return fmt.Errorf("unsupported compression %q", profile.Compression)
	}
	if profile.MachineType == "" || profile.CPUModel == "" {
		return errors.New("machine type and cpu model are required")
	}

	fw := profile.Firmware
	if !fw.Required {
		return nil
	}
	if len(fw.HostPaths) == 0 && fw.SourceURL == "" {
		return errors.New("firmware is required but neither host paths nor a source url are set")
	}
	if fw.SourceURL != "" {
		if err := artifacts.ValidateChecksum(fw.Checksum); err != nil {
			return fmt.Errorf("firmware: %w", err)
		}
	}
	if fw.FlashSize < 0 {
		return fmt.Errorf("firmware flash size %d is negative", fw.FlashSize)
	}
	return nil
}

// DefaultProfiles returns a fresh copy of the built-in guest table.
func DefaultProfiles() []build.GuestProfile {
	return []build.GuestProfile{
		{
			OS:             "netbsd-9",
			Arch:           arch.ARM64,
			BootKind:       build.BootKindPrebuiltImage,
			SourceURL:      netbsdMirror + "/evbarm-aarch64/binary/gzimg/arm64.img.gz",
			Checksum:       "13bfb0bcbfa1b271b24a66e157d19ead86ef95d4b863ac2a4940f9ab2aa9db1d",
			Compression:    "gzip",
			CPUModel:       "cortex-a57",
			MachineType:    "virt",
			MediaInterface: "scsi",
			Firmware:       aarch64Firmware(),
			ExtraArgs:      []string{"-nographic"},
			Description:    "NetBSD 9.3 evbarm-aarch64 prebuilt image",
		},
		{
			OS:             "netbsd-9",
			Arch:           arch.AMD64,
			BootKind:       build.BootKindPrebuiltImage,
			SourceURL:      netbsdMirror + "/images/NetBSD-9.3-amd64-live.img.gz",
			Checksum:       "598f73f733d15d056f9ea6d0c139d526e1b11e69256f510873728964f5fba5b1",
			Compression:    "gzip",
			CPUModel:       "qemu64",
			MachineType:    "q35",
			MediaInterface: "ide",
			Description:    "NetBSD 9.3 amd64 live image",
		},
		{
			OS:             "ubuntu-bionic",
			Arch:           arch.ARM64,
			BootKind:       build.BootKindInstallFromISO,
			SourceURL:      ubuntuMirror + "/ubuntu-18.04.6-server-arm64.iso",
			Checksum:       "b4bfa6300ee83a767b08f63e596e5c6002253a2c37d8494b82fd83fa13cdf589",
			CPUModel:       "cortex-a57",
			MachineType:    "virt",
			MediaInterface: "scsi",
			Firmware:       aarch64Firmware(),
			ExtraArgs:      []string{"-nographic"},
			Description:    "Ubuntu 18.04 server installer",
		},
		{
			OS:             "ubuntu-bionic",
			Arch:           arch.AMD64,
			BootKind:       build.BootKindInstallFromISO,
			SourceURL:      "https://releases.ubuntu.com/18.04/ubuntu-18.04.6-live-server-amd64.iso",
			Checksum:       "6c647b1ab4318e8c560d5748f908e108be654bad1e165f7cf4f3c1fc43995934",
			CPUModel:       "qemu64",
			MachineType:    "q35",
			MediaInterface: "ide",
			Description:    "Ubuntu 18.04 live server installer",
		},
	}
}
