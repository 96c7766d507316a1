package qemu

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	"mvdan.cc/sh/v3/syntax"

	"github.com/cochaviz/guestctl/internal/build"
)

// scriptRoot stands in for the script's own directory while arguments are
// built; shellWord turns it into "$here".
const scriptRoot = "\x00here\x00"

var scriptTemplate = template.Must(template.New("run.sh").Parse(`#!/bin/sh
# Boots {{.Description}} ({{.ID}}).
# Generated by guestctl. Extra arguments are passed to {{.Binary}}.
set -eu

here=$(CDPATH= cd -- "$(dirname -- "$0")" && pwd)

accel=tcg
cpu={{.CPU}}
if [ -w /dev/kvm ] && [ "$(uname -m)" = {{.HostMachine}} ]; then
	accel=kvm
	cpu=host
fi

exec {{.Binary}} \
	-accel "$accel" \
	-cpu "$cpu" \
{{- range .Args}}
	{{.}} \
{{- end}}
	"$@"
`))

type scriptData struct {
	ID          string
	Description string
	Binary      string
	CPU         string
	HostMachine string
	Args        []string
}

var _ build.LaunchWriter = (*ScriptWriter)(nil)

// ScriptWriter renders a launch descriptor as a POSIX shell script. The
// script locates its files relative to itself, so the build directory can
// be moved or copied to another host.
type ScriptWriter struct{}

// Write renders descriptor into dir/run.sh and returns its path.
func (ScriptWriter) Write(descriptor build.LaunchDescriptor, dir string) (string, error) {
	script, err := renderScript(descriptor)
	if err != nil {
		return "", err
	}

	path := filepath.Join(dir, scriptFile)
	if err := os.WriteFile(path, script, 0o755); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	// WriteFile applies the umask; the script must be executable regardless.
	if err := os.Chmod(path, 0o755); err != nil {
		return "", err
	}
	return path, nil
}

func renderScript(descriptor build.LaunchDescriptor) ([]byte, error) {
	if descriptor.DiskFile == "" {
		return nil, errors.New("launch descriptor has no disk")
	}

	profile := descriptor.Profile
	args := emulatorArgs(machineSpec{
		Profile:      profile,
		MemoryMiB:    descriptor.MemoryMiB,
		CPUs:         descriptor.CPUs,
		Root:         scriptRoot,
		DiskFile:     descriptor.DiskFile,
		DiskFormat:   descriptor.DiskFormat,
		FirmwareFile: descriptor.FirmwareFile,
	})

	data := scriptData{
		ID:          profile.ID(),
		Description: profile.Description,
		Args:        make([]string, 0, len(args)),
	}
	if data.Description == "" {
		data.Description = profile.OS
	}

	var err error
	if data.Binary, err = shellWord(profile.Arch.QEMUBinary()); err != nil {
		return nil, err
	}
	if data.CPU, err = shellWord(profile.CPUModel); err != nil {
		return nil, err
	}
	if data.HostMachine, err = shellWord(profile.Arch.Machine()); err != nil {
		return nil, err
	}
	for _, arg := range args {
		word, err := shellWord(arg)
		if err != nil {
			return nil, err
		}
		data.Args = append(data.Args, word)
	}

	var buf bytes.Buffer
	if err := scriptTemplate.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("render launch script: %w", err)
	}
	return buf.Bytes(), nil
}

// shellWord quotes s as a single POSIX shell word, expanding each
// occurrence of scriptRoot to "$here".
func shellWord(s string) (string, error) {
	parts := strings.Split(s, scriptRoot)
	var b strings.Builder
	for i, part := range parts {
		if i > 0 {
			b.WriteString(`"$here"`)
		}
		if part == "" {
			continue
		}
		quoted, err := syntax.Quote(part, syntax.LangPOSIX)
		if err != nil {
			return "", fmt.Errorf("quote %q: %w", part, err)
		}
		b.WriteString(quoted)
	}
	if b.Len() == 0 {
		return "''", nil
	}
	return b.String(), nil
}
