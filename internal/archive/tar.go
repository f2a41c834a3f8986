package archive

import (
	"archive/tar"
	"compress/gzip"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"

	"github.com/agevault/agevault/internal/errors"
	"github.com/agevault/agevault/internal/util"
)

// CreateArchive stages a selection into a tar+gzip archive at outPath,
// computing a SHA-256 per file while streaming. Returns the operation record
// including the aggregate archive hash (computed after writing).
func CreateArchive(sel Selection, outPath string, cfg Config) (*Op, error) {
	return CreateArchiveWithProgress(sel, outPath, cfg, nil, nil, nil)
}

// CreateArchiveWithProgress is CreateArchive with progress, status, and
// cancellation callbacks. On error or cancellation the partial output file is
// removed.
func CreateArchiveWithProgress(sel Selection, outPath string, cfg Config, progress ProgressFunc, status StatusFunc, cancel CancelFunc) (*Op, error) {
	entries, err := ValidateSelection(sel, cfg)
	if err != nil {
		return nil, err
	}

	var staging *StagingKey
	if cfg.EncryptStaging {
		staging, err = NewStagingKey()
		if err != nil {
			return nil, err
		}
	}

	op, err := writeArchive(entries, outPath, cfg, staging, progress, status, cancel)
	if err != nil {
		staging.Destroy()
		return nil, err
	}
	// The key stays alive so the caller can stream the staged archive back;
	// Op.Close destroys it.
	op.staging = staging
	return op, nil
}

func writeArchive(entries []entry, outPath string, cfg Config, staging *StagingKey, progress ProgressFunc, status StatusFunc, cancel CancelFunc) (*Op, error) {
	if status != nil {
		status("Creating archive...")
	}

	file, err := os.OpenFile(outPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return nil, errors.NewFileError("create", outPath, err)
	}

	cleanup := func() {
		_ = file.Close()
		_ = os.Remove(outPath)
	}

	sink, err := staging.Protect(file)
	if err != nil {
		cleanup()
		return nil, err
	}
	// The archive hash describes the plaintext tar.gz stream, taken before any
	// staging protection is applied, so manifest verification works after
	// decryption regardless of staging mode.
	archiveHasher := &hashingWriter{w: sink, h: sha256.New()}
	gz, err := gzip.NewWriterLevel(archiveHasher, cfg.compressionLevel())
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("gzip writer: %w", err)
	}
	tw := tar.NewWriter(gz)

	var totalSize int64
	for _, e := range entries {
		totalSize += e.info.Size()
	}

	var done int64
	files := make([]FileInfo, 0, len(entries))
	buf := util.GetStreamBuffer()
	defer util.PutStreamBuffer(buf)

	for i, e := range entries {
		if cancel != nil && cancel() {
			cleanup()
			return nil, errors.ErrCancelled
		}
		if progress != nil && totalSize > 0 {
			progress(float64(done)/float64(totalSize), fmt.Sprintf("%d/%d", i+1, len(entries)))
		}

		hdr, err := tar.FileInfoHeader(e.info, "")
		if err != nil {
			cleanup()
			return nil, fmt.Errorf("tar header for %s: %w", e.rel, err)
		}
		hdr.Name = e.rel
		hdr.Format = tar.FormatPAX
		if !cfg.PreservePermissions {
			hdr.Mode = 0o600
		}

		if err := tw.WriteHeader(hdr); err != nil {
			cleanup()
			return nil, fmt.Errorf("write tar header for %s: %w", e.rel, err)
		}

		fin, err := os.Open(e.path)
		if err != nil {
			cleanup()
			return nil, errors.NewFileError("open", e.path, err)
		}

		hasher := sha256.New()
		for {
			if cancel != nil && cancel() {
				_ = fin.Close()
				cleanup()
				return nil, errors.ErrCancelled
			}

			n, readErr := fin.Read(buf)
			if n > 0 {
				chunk := buf[:n]
				if _, err := tw.Write(chunk); err != nil {
					_ = fin.Close()
					cleanup()
					return nil, fmt.Errorf("write %s to archive: %w", e.rel, err)
				}
				hasher.Write(chunk)
				done += int64(n)

				if progress != nil && totalSize > 0 {
					progress(float64(done)/float64(totalSize), fmt.Sprintf("%d/%d", i+1, len(entries)))
				}
			}
			if readErr == io.EOF {
				break
			}
			if readErr != nil {
				_ = fin.Close()
				cleanup()
				return nil, errors.NewFileError("read", e.path, readErr)
			}
		}
		_ = fin.Close()

		files = append(files, FileInfo{
			RelativePath: e.rel,
			Size:         e.info.Size(),
			Modified:     e.info.ModTime().UTC(),
			SHA256:       hex.EncodeToString(hasher.Sum(nil)),
			UnixMode:     e.info.Mode().Perm(),
		})
	}

	if err := tw.Close(); err != nil {
		cleanup()
		return nil, fmt.Errorf("close tar writer: %w", err)
	}
	if err := gz.Close(); err != nil {
		cleanup()
		return nil, fmt.Errorf("close gzip writer: %w", err)
	}
	if err := file.Sync(); err != nil {
		cleanup()
		return nil, errors.NewFileError("sync", outPath, err)
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(outPath)
		return nil, errors.NewFileError("close", outPath, err)
	}

	archiveHash := hex.EncodeToString(archiveHasher.h.Sum(nil))
	archiveSize := archiveHasher.n

	if progress != nil {
		progress(1.0, fmt.Sprintf("%d/%d", len(entries), len(entries)))
	}

	return &Op{
		ArchivePath:      outPath,
		Size:             archiveSize,
		SHA256:           archiveHash,
		UncompressedSize: totalSize,
		FileCount:        len(files),
		Files:            files,
	}, nil
}

// hashingWriter counts and hashes everything written through it.
type hashingWriter struct {
	w io.Writer
	h hash.Hash
	n int64
}

func (hw *hashingWriter) Write(p []byte) (int, error) {
	n, err := hw.w.Write(p)
	if n > 0 {
		hw.h.Write(p[:n])
		hw.n += int64(n)
	}
	return n, err
}

// ReadArchiveWithSizeCheck reads a file fully after verifying it does not
// exceed max bytes. Guards decryption inputs against oversized archives.
func ReadArchiveWithSizeCheck(path string, max int64) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrap(errors.ErrFileNotFound, "archive")
		}
		return nil, errors.NewFileError("stat", path, err)
	}
	if info.Size() > max {
		return nil, errors.Wrap(errors.ErrFileTooLarge,
			fmt.Sprintf("archive is %s, limit %s", util.Sizeify(info.Size()), util.Sizeify(max)))
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.NewFileError("read", path, err)
	}
	return data, nil
}
