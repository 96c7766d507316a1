package artifacts

import "fmt"

// ArtifactKind distinguishes the artifacts kept in the cache.
type ArtifactKind string

const (
	MediaArtifact    ArtifactKind = "media"    // Installation media (ISO9660)
	ImageArtifact    ArtifactKind = "image"    // Prebuilt disk image, possibly compressed
	FirmwareArtifact ArtifactKind = "firmware" // Boot firmware blob
)

// CacheKey names a cache entry. Keys are derived from (os, arch) for guest
// artifacts and from arch alone for firmware.
type CacheKey struct {
	OS     string
	Arch   string
	Kind   ArtifactKind
	Suffix string
}

// MediaKey returns the key of the installation media for a guest.
func MediaKey(osID, archID string) CacheKey {
	return CacheKey{OS: osID, Arch: archID, Kind: MediaArtifact, Suffix: ".iso"}
}

// ImageKey returns the key of the prebuilt disk image for a guest.
func ImageKey(osID, archID, compression string) CacheKey {
	suffix := ".img"
	if compression == "gzip" {
		suffix += ".gz"
	}
	return CacheKey{OS: osID, Arch: archID, Kind: ImageArtifact, Suffix: suffix}
}

// FirmwareKey returns the key of the firmware shared by all guests of an architecture.
func FirmwareKey(archID string) CacheKey {
	return CacheKey{Arch: archID, Kind: FirmwareArtifact, Suffix: ".fd"}
}

// FileName returns the deterministic file name of the entry inside the cache root.
func (k CacheKey) FileName() string {
	if k.Kind == FirmwareArtifact {
		return fmt.Sprintf("%s-firmware%s", k.Arch, k.Suffix)
	}
	return fmt.Sprintf("%s-%s%s", k.OS, k.Arch, k.Suffix)
}

func (k CacheKey) String() string {
	return k.FileName()
}

// Source locates an artifact upstream together with its expected SHA-256 digest.
type Source struct {
	URL      string
	Checksum string
}

// Request asks for Source to be present in the cache under Key.
type Request struct {
	Source Source
	Key    CacheKey
}

// Entry describes a committed cache entry.
type Entry struct {
	Name string
	Path string
	Size int64
}
