package archive

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/agevault/agevault/internal/errors"
	"github.com/agevault/agevault/internal/log"
	"github.com/agevault/agevault/internal/paths"
)

// ManifestVersion is the current manifest schema version.
const ManifestVersion = 1

// EmbeddedManifestName is the entry name used when a manifest is written
// inside the tar instead of alongside the ciphertext.
const EmbeddedManifestName = "manifest.json"

// ManifestExt is appended to the ciphertext base name for external manifests.
const ManifestExt = ".manifest"

// ArchiveInfo describes the archive a manifest belongs to.
type ArchiveInfo struct {
	Path             string `json:"path"`
	Size             int64  `json:"size"`
	SHA256           string `json:"sha256"`
	UncompressedSize int64  `json:"uncompressed_size"`
	FileCount        int    `json:"file_count"`
	Compression      string `json:"compression"`
	Format           string `json:"format"`
}

// Manifest records the integrity data for an archive and its members. The
// manifest_sha256 field is computed over the JSON serialization with the hash
// field zeroed; any mutation must recompute it.
type Manifest struct {
	Version        int         `json:"version"`
	Created        time.Time   `json:"created"`
	Archive        ArchiveInfo `json:"archive"`
	Files          []FileInfo  `json:"files"`
	ManifestSHA256 string      `json:"manifest_sha256"`
}

// CreateManifestForArchive builds a manifest from a completed archive
// operation and seals it with its self-hash.
func CreateManifestForArchive(op *Op, files []FileInfo) (*Manifest, error) {
	m := &Manifest{
		Version: ManifestVersion,
		Created: time.Now().UTC(),
		Archive: ArchiveInfo{
			Path:             filepath.Base(op.ArchivePath),
			Size:             op.Size,
			SHA256:           op.SHA256,
			UncompressedSize: op.UncompressedSize,
			FileCount:        op.FileCount,
			Compression:      "gzip",
			Format:           "tar",
		},
		Files: files,
	}
	if err := m.Seal(); err != nil {
		return nil, err
	}
	return m, nil
}

// Seal recomputes the manifest self-hash.
func (m *Manifest) Seal() error {
	sum, err := m.computeSelfHash()
	if err != nil {
		return err
	}
	m.ManifestSHA256 = sum
	return nil
}

// VerifySelfHash re-derives the self-hash and compares. Must pass before any
// entry data is trusted.
func (m *Manifest) VerifySelfHash() error {
	sum, err := m.computeSelfHash()
	if err != nil {
		return err
	}
	if sum != m.ManifestSHA256 {
		return errors.Wrap(errors.ErrManifestInvalid, "manifest self-hash mismatch")
	}
	return nil
}

func (m *Manifest) computeSelfHash() (string, error) {
	clone := *m
	clone.ManifestSHA256 = ""
	data, err := json.Marshal(&clone)
	if err != nil {
		return "", fmt.Errorf("marshal manifest: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// ExternalManifestPath returns the path of the external manifest for a
// ciphertext path: "<ciphertext>.manifest" beside the .age file.
func ExternalManifestPath(ciphertextPath string) string {
	return ciphertextPath + ManifestExt
}

// WriteExternalManifest writes the manifest beside the ciphertext using an
// atomic rename.
func WriteExternalManifest(m *Manifest, ciphertextPath string) (string, error) {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal manifest: %w", err)
	}
	path := ExternalManifestPath(ciphertextPath)
	if err := paths.AtomicWrite(path, data); err != nil {
		return "", err
	}
	return path, nil
}

// ReadManifest loads and self-verifies a manifest file.
func ReadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrap(errors.ErrFileNotFound, "manifest")
		}
		return nil, errors.NewFileError("read", path, err)
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, errors.Wrap(errors.ErrManifestInvalid, "parse manifest")
	}
	if err := m.VerifySelfHash(); err != nil {
		return nil, err
	}
	return &m, nil
}

// VerifyManifest compares extracted files against the manifest: file counts,
// per-file sizes, and per-file SHA-256 must match. Permission mismatches are
// warned, not fatal.
func VerifyManifest(m *Manifest, extracted []FileInfo, cfg Config) error {
	if err := m.VerifySelfHash(); err != nil {
		return err
	}

	if len(extracted) != len(m.Files) {
		return errors.Wrap(errors.ErrIntegrityCheck,
			fmt.Sprintf("file count %d does not match manifest %d", len(extracted), len(m.Files)))
	}

	byPath := make(map[string]FileInfo, len(extracted))
	for _, f := range extracted {
		byPath[f.RelativePath] = f
	}

	for _, want := range m.Files {
		got, ok := byPath[want.RelativePath]
		if !ok {
			return errors.Wrap(errors.ErrIntegrityCheck,
				fmt.Sprintf("missing file %s", want.RelativePath))
		}
		if got.Size != want.Size {
			return errors.Wrap(errors.ErrIntegrityCheck,
				fmt.Sprintf("size mismatch for %s", want.RelativePath))
		}
		if got.SHA256 != want.SHA256 {
			return errors.Wrap(errors.ErrTamperedData,
				fmt.Sprintf("hash mismatch for %s", want.RelativePath))
		}
		if cfg.PreservePermissions && want.UnixMode != 0 && got.UnixMode != want.UnixMode {
			log.Warn("permission mismatch after extraction",
				log.String("file", want.RelativePath))
		}
	}

	return nil
}
