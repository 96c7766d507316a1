package main

import (
	"fmt"
	"io"
	"os"

	"github.com/docker/go-units"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/term"

	simple "github.com/cochaviz/guestctl/config"
	"github.com/cochaviz/guestctl/internal/build"
	"github.com/cochaviz/guestctl/internal/setup"
)

// sizeValue is a pflag.Value accepting human-readable sizes such as "10G".
type sizeValue int64

var _ pflag.Value = (*sizeValue)(nil)

func (s *sizeValue) String() string {
	if *s == 0 {
		return ""
	}
	return units.BytesSize(float64(*s))
}

func (s *sizeValue) Set(value string) error {
	size, err := setup.ParseSize(value)
	if err != nil {
		return err
	}
	*s = sizeValue(size)
	return nil
}

func (s *sizeValue) Type() string {
	return "size"
}

type installFlags struct {
	os         string
	arch       string
	size       sizeValue
	memory     sizeValue
	cpus       int
	diskFormat string
	yes        bool
}

func newInstallCommand(a *app) *cobra.Command {
	var flags installFlags

	cmd := &cobra.Command{
		Use:   "install [path]",
		Args:  cobra.MaximumNArgs(1),
		Short: "Build a guest directory with a disk image and a launch script",
		Long: `Build a guest directory with a disk image and a launch script.

The directory defaults to <os>-<arch> under the current directory. Flags that
are not given fall back to the defaults section of the settings file.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.requireSettings(); err != nil {
				return err
			}
			request, err := flags.request(cmd.Flags(), a.settings.Defaults, args)
			if err != nil {
				return err
			}
			cacheDir, err := a.resolveCacheDir()
			if err != nil {
				return err
			}

			cmdLogger := a.logger.With("command", "install", "os", request.OS, "arch", request.Arch)
			cmdLogger.Debug("resolved install request", "path", request.Path, "size", request.DiskSize, "memory_mib", request.MemoryMiB, "cpus", request.CPUs, "cache", cacheDir)

			result, err := simple.Install(cmd.Context(), simple.Options{
				CacheDir: cacheDir,
				Confirm:  a.confirmer(flags.yes),
				Progress: a.progressWriter(),
				Logger:   cmdLogger,
			}, request)
			if err != nil {
				return err
			}

			a.printf("%s is ready in %s\n", result.Profile.ID(), result.Dir)
			a.printf("start it with: %s\n", result.ScriptPath)
			return nil
		},
	}

	flags.register(cmd.Flags())
	return cmd
}

func (f *installFlags) register(set *pflag.FlagSet) {
	set.StringVar(&f.os, "os", "", "Guest operating system (see 'guestctl list')")
	set.StringVar(&f.arch, "arch", "", "Guest architecture (amd64, arm64)")
	set.Var(&f.size, "size", "Disk size, e.g. 10G")
	set.Var(&f.memory, "memory", "Guest memory, e.g. 1G or 512M")
	set.IntVar(&f.cpus, "cpus", 0, "Number of virtual CPUs")
	set.StringVar(&f.diskFormat, "disk-format", "", "Disk image format (raw, qcow2)")
	set.BoolVarP(&f.yes, "yes", "y", false, "Replace an existing build directory without asking")
}

// request merges the given flags over defaults. Range checks are left to the build service.
func (f *installFlags) request(set *pflag.FlagSet, defaults setup.Defaults, args []string) (build.BuildRequest, error) {
	request := build.BuildRequest{
		OS:         defaults.OS,
		Arch:       defaults.Arch,
		CPUs:       defaults.CPUs,
		DiskFormat: defaults.DiskFormat,
	}

	if set.Changed("os") {
		request.OS = f.os
	}
	if set.Changed("arch") {
		request.Arch = f.arch
	}
	if set.Changed("cpus") {
		request.CPUs = f.cpus
	}
	if set.Changed("disk-format") {
		request.DiskFormat = f.diskFormat
	}

	if set.Changed("size") {
		request.DiskSize = int64(f.size)
	} else {
		size, err := setup.ParseSize(defaults.Size)
		if err != nil {
			return build.BuildRequest{}, &build.ConfigurationError{Message: fmt.Sprintf("defaults.size: %v", err)}
		}
		request.DiskSize = size
	}

	if set.Changed("memory") {
		if int64(f.memory)%units.MiB != 0 {
			return build.BuildRequest{}, &build.ConfigurationError{Message: fmt.Sprintf("memory %s is not a whole number of MiB", f.memory.String())}
		}
		request.MemoryMiB = int(int64(f.memory) / units.MiB)
	} else {
		memory, err := setup.ParseMemoryMiB(defaults.Memory)
		if err != nil {
			return build.BuildRequest{}, &build.ConfigurationError{Message: fmt.Sprintf("defaults.memory: %v", err)}
		}
		request.MemoryMiB = memory
	}

	if len(args) > 0 && args[0] != "" {
		request.Path = args[0]
	} else {
		request.Path = simple.DefaultPath(request.OS, request.Arch)
	}
	return request, nil
}

// progressWriter returns stderr when it is a terminal so bars do not end up in logs.
func (a *app) progressWriter() io.Writer {
	file, ok := a.stderr.(*os.File)
	if !ok || !term.IsTerminal(int(file.Fd())) {
		return nil
	}
	return file
}
