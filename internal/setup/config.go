package setup

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/docker/go-units"
	"gopkg.in/yaml.v3"
)

const appName = "guestctl"

// Settings is the content of the YAML settings file.
type Settings struct {
	CacheDir string   `yaml:"cache_dir"`
	Defaults Defaults `yaml:"defaults"`
}

// Defaults are the install flag values used when a flag is not given.
type Defaults struct {
	OS         string `yaml:"os"`
	Arch       string `yaml:"arch"`
	Size       string `yaml:"size"`
	Memory     string `yaml:"memory"`
	CPUs       int    `yaml:"cpus"`
	DiskFormat string `yaml:"disk_format"`
}

// DefaultSettings returns the built-in settings. CacheDir is left empty and
// resolved by CacheDir.
func DefaultSettings() Settings {
	return Settings{
		Defaults: Defaults{
			OS:         "netbsd-9",
			Arch:       "arm64",
			Size:       "10G",
			Memory:     "1G",
			CPUs:       2,
			DiskFormat: "raw",
		},
	}
}

// DefaultConfigPath returns $XDG_CONFIG_HOME/guestctl/config.yaml or the
// platform equivalent.
func DefaultConfigPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, appName, "config.yaml"), nil
}

// LoadSettings reads the settings file at path, or at DefaultConfigPath when
// path is empty. A missing default file yields DefaultSettings; a missing
// explicit file is an error.
func LoadSettings(path string) (Settings, error) {
	explicit := path != ""
	if !explicit {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			getLogger().Debug("no user config directory", "error", err)
			return DefaultSettings(), nil
		}
		path = defaultPath
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) && !explicit {
			return DefaultSettings(), nil
		}
		return Settings{}, fmt.Errorf("read settings: %w", err)
	}

	settings, err := ParseSettings(data)
	if err != nil {
		return Settings{}, fmt.Errorf("%s: %w", path, err)
	}
	getLogger().Debug("loaded settings", "path", path)
	return settings, nil
}

// ParseSettings decodes YAML settings over DefaultSettings. Unknown keys are rejected.
func ParseSettings(data []byte) (Settings, error) {
	settings := DefaultSettings()

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&settings); err != nil && !errors.Is(err, io.EOF) {
		return Settings{}, fmt.Errorf("parse settings: %w", err)
	}

	if err := settings.Validate(); err != nil {
		return Settings{}, err
	}
	return settings, nil
}

// Validate checks the value formats of the defaults. Whether an os/arch pair
// is supported is decided by the profile registry.
func (s Settings) Validate() error {
	if _, err := ParseSize(s.Defaults.Size); err != nil {
		return fmt.Errorf("defaults.size: %w", err)
	}
	if _, err := ParseMemoryMiB(s.Defaults.Memory); err != nil {
		return fmt.Errorf("defaults.memory: %w", err)
	}
	if s.Defaults.CPUs <= 0 {
		return fmt.Errorf("defaults.cpus must be positive, got %d", s.Defaults.CPUs)
	}
	return nil
}

// ResolveCacheDir returns the configured cache root or <user cache dir>/guestctl.
func (s Settings) ResolveCacheDir() (string, error) {
	if s.CacheDir != "" {
		return filepath.Abs(s.CacheDir)
	}
	dir, err := os.UserCacheDir()
	if err != nil {
		return "", fmt.Errorf("locate cache directory: %w", err)
	}
	return filepath.Join(dir, appName), nil
}

// ParseSize parses a human-readable size with binary units, so "10G" is 10 GiB.
func ParseSize(value string) (int64, error) {
	size, err := units.RAMInBytes(value)
	if err != nil {
		return 0, err
	}
	if size <= 0 {
		return 0, fmt.Errorf("size must be positive, got %q", value)
	}
	return size, nil
}

// ParseMemoryMiB parses a memory size and returns it in MiB. Sizes below
// 1 MiB or not a whole number of MiB are rejected.
func ParseMemoryMiB(value string) (int, error) {
	size, err := ParseSize(value)
	if err != nil {
		return 0, err
	}
	if size%units.MiB != 0 {
		return 0, fmt.Errorf("memory %q is not a whole number of MiB", value)
	}
	return int(size / units.MiB), nil
}
