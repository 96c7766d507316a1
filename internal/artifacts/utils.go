package artifacts

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"strings"
)

// NewHash returns the digest used to verify artifacts.
func NewHash() hash.Hash {
	return sha256.New()
}

// Checksum returns the lowercase hex SHA-256 digest of r.
func Checksum(r io.Reader) (string, error) {
	h := NewHash()
	if _, err := io.Copy(h, r); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// ChecksumEqual compares two hex digests case-insensitively.
func ChecksumEqual(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

// ValidateChecksum reports whether value looks like a SHA-256 hex digest.
func ValidateChecksum(value string) error {
	if len(value) != 2*sha256.Size {
		return fmt.Errorf("checksum %q must be %d hex characters", value, 2*sha256.Size)
	}
	if _, err := hex.DecodeString(value); err != nil {
		return errors.New("checksum " + value + " is not hexadecimal")
	}
	return nil
}
