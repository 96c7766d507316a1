package build

import (
	"errors"
	"fmt"
	"strings"
)

// ErrShrinkNotSupported is returned when a requested disk size is below the image's current size.
var ErrShrinkNotSupported = errors.New("shrinking a disk image is not supported")

// A BuildError represents an error that occurred during the build process.
type BuildError struct {
	Message string
}

// Error returns the error message.
func (e *BuildError) Error() string {
	return e.Message
}

// ConfigurationError reports an unsupported os/arch combination or invalid input.
type ConfigurationError struct {
	OS        string
	Arch      string
	Message   string
	Supported []string
}

func (e *ConfigurationError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("unsupported guest %s/%s (supported: %s)", e.OS, e.Arch, strings.Join(e.Supported, ", "))
}

// FetchError reports a network failure or a non-2xx response.
type FetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: unexpected status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// IntegrityError reports a checksum mismatch on a downloaded artifact.
type IntegrityError struct {
	URL      string
	Expected string
	Actual   string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("checksum mismatch for %s: expected %s, got %s", e.URL, e.Expected, e.Actual)
}

// FilesystemConflictError reports a target path that cannot be used as a build directory.
type FilesystemConflictError struct {
	Path   string
	Reason string
}

func (e *FilesystemConflictError) Error() string {
	return fmt.Sprintf("%s: %s", e.Path, e.Reason)
}

// ToolingMissingError reports a host tool that is absent and could not be installed.
type ToolingMissingError struct {
	Tool string
	Hint string
}

func (e *ToolingMissingError) Error() string {
	if e.Hint == "" {
		return fmt.Sprintf("%s not found in PATH", e.Tool)
	}
	return fmt.Sprintf("%s not found in PATH (try: %s)", e.Tool, e.Hint)
}

// InvariantError signals a defect in the profile registry. Valid configuration never produces it.
type InvariantError struct {
	Message string
}

func (e *InvariantError) Error() string {
	return "internal error: " + e.Message
}
