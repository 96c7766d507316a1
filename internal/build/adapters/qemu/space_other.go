//go:build !linux && !darwin

package qemu

import "errors"

func freeSpace(path string) (uint64, error) {
	return 0, errors.ErrUnsupported
}
