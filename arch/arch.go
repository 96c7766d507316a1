package arch

import (
	"fmt"
	"os"
	"runtime"
	"sort"
	"strings"
)

// Architecture is a guest CPU architecture identifier as accepted on the command line.
type Architecture string

const (
	AMD64 Architecture = "amd64"
	ARM64 Architecture = "arm64"
)

// Supported returns the full list of supported architectures.
func Supported() []Architecture {
	return []Architecture{
		AMD64,
		ARM64,
	}
}

// IsValid reports whether a matches a supported architecture value.
func (a Architecture) IsValid() bool {
	switch a {
	case AMD64, ARM64:
		return true
	default:
		return false
	}
}

// String returns the architecture as string.
func (a Architecture) String() string {
	return string(a)
}

// QEMUBinary returns the qemu-system binary emulating a.
func (a Architecture) QEMUBinary() string {
	return "qemu-system-" + a.Machine()
}

// Machine returns the name `uname -m` reports on a host of this architecture.
func (a Architecture) Machine() string {
	switch a {
	case AMD64:
		return "x86_64"
	case ARM64:
		return "aarch64"
	default:
		return string(a)
	}
}

// Parse returns the Architecture for the provided string or an error if unsupported.
// Matching is exact; aliases such as "aarch64" are rejected.
func Parse(value string) (Architecture, error) {
	a := Architecture(value)
	if a.IsValid() {
		return a, nil
	}
	return "", fmt.Errorf("unsupported architecture %q (supported: %s)", value, strings.Join(supportedStrings(), ", "))
}

// Host returns the architecture of the running process, or "" when it is not a supported guest architecture.
func Host() Architecture {
	a := Architecture(runtime.GOARCH)
	if !a.IsValid() {
		return ""
	}
	return a
}

// KVMAvailableFor reports whether hardware acceleration can be used for a guest of architecture a.
func KVMAvailableFor(a Architecture) bool {
	if Host() != a {
		return false
	}
	f, err := os.OpenFile("/dev/kvm", os.O_WRONLY, 0)
	if err != nil {
		return false
	}
	_ = f.Close()
	return true
}

func supportedStrings() []string {
	all := Supported()
	out := make([]string, 0, len(all))
	for _, a := range all {
		out = append(out, a.String())
	}
	sort.Strings(out)
	return out
}
