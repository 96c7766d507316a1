package repositories

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cochaviz/guestctl/arch"
	"github.com/cochaviz/guestctl/internal/build"
)

func TestRepositoryHasEntries(t *testing.T) {
	repo := NewEmbeddedProfileRepository()
	assert.NotEmpty(t, repo.ListAll())
}

func TestResolveIsDeterministic(t *testing.T) {
	repo := NewEmbeddedProfileRepository()

	for _, profile := range repo.ListAll() {
		first, err := repo.Resolve(profile.OS, profile.Arch.String())
		require.NoError(t, err)
		second, err := repo.Resolve(profile.OS, profile.Arch.String())
		require.NoError(t, err)
		assert.Equal(t, first, second, "profile %s", profile.ID())
	}
}

func TestResolveReturnsCopies(t *testing.T) {
	repo := NewEmbeddedProfileRepository()

	profile, err := repo.Resolve("netbsd-9", "arm64")
	require.NoError(t, err)
	profile.ExtraArgs[0] = "-mutated"
	profile.Firmware.HostPaths[0] = "/mutated"

	again, err := repo.Resolve("netbsd-9", "arm64")
	require.NoError(t, err)
	assert.Equal(t, "-nographic", again.ExtraArgs[0])
	assert.NotEqual(t, "/mutated", again.Firmware.HostPaths[0])
}

func TestResolveUnsupportedListsPairs(t *testing.T) {
	repo := NewEmbeddedProfileRepository()

	cases := [][2]string{
		{"netbsd-9", "aarch64"},
		{"NetBSD-9", "arm64"},
		{"plan9", "amd64"},
		{"", ""},
	}
	for _, c := range cases {
		_, err := repo.Resolve(c[0], c[1])
		var cfgErr *build.ConfigurationError
		require.True(t, errors.As(err, &cfgErr), "pair %v", c)
		for _, id := range repo.Supported() {
			assert.Contains(t, err.Error(), id)
		}
		assert.NotContains(t, err.Error(), "\n")
	}
}

func TestKnownScenarioProfiles(t *testing.T) {
	repo := NewEmbeddedProfileRepository()

	netbsd, err := repo.Resolve("netbsd-9", "arm64")
	require.NoError(t, err)
	assert.Equal(t, build.BootKindPrebuiltImage, netbsd.BootKind)
	assert.True(t, netbsd.Firmware.Required)
	assert.EqualValues(t, 64<<20, netbsd.Firmware.FlashSize)

	ubuntu, err := repo.Resolve("ubuntu-bionic", "arm64")
	require.NoError(t, err)
	assert.Equal(t, build.BootKindInstallFromISO, ubuntu.BootKind)
	assert.True(t, strings.HasSuffix(ubuntu.SourceURL, ".iso"))
}

func TestNewProfileRepositoryValidatesFirmware(t *testing.T) {
	profile := DefaultProfiles()[0]
	profile.Firmware.HostPaths = nil
	profile.Firmware.SourceURL = ""

	_, err := NewProfileRepository(profile)
	assert.Error(t, err)
}

func TestNewProfileRepositoryRejectsDuplicates(t *testing.T) {
	profile := DefaultProfiles()[1]
	_, err := NewProfileRepository(profile, profile)
	assert.Error(t, err)
}

func TestNewProfileRepositoryRejectsBadInput(t *testing.T) {
	base := build.GuestProfile{
		OS:          "example",
		Arch:        arch.AMD64,
		BootKind:    build.BootKindPrebuiltImage,
		SourceURL:   "https://example.test/disk.img",
		Checksum:    strings.Repeat("0", 64),
		CPUModel:    "qemu64",
		MachineType: "q35",
	}
	_, err := NewProfileRepository(base)
	require.NoError(t, err)

	mutations := map[string]func(*build.GuestProfile){
		"boot kind":   func(p *build.GuestProfile) { p.BootKind = "" },
		"checksum":    func(p *build.GuestProfile) { p.Checksum = "abc" },
		"arch":        func(p *build.GuestProfile) { p.Arch = "riscv64" },
		"compression": func(p *build.GuestProfile) { p.Compression = "xz" },
		"source":      func(p *build.GuestProfile) { p.SourceURL = "" },
	}
	for name, mutate := range mutations {
		p := base.Clone()
		mutate(&p)
		_, err := NewProfileRepository(p)
		assert.Error(t, err, name)
	}
}
