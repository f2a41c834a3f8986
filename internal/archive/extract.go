package archive

import (
	"archive/tar"
	"compress/gzip"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/agevault/agevault/internal/errors"
	"github.com/agevault/agevault/internal/util"
)

// ExtractArchive extracts a tar+gzip archive into outDir with
// traversal-safe semantics. Every entry path is verified to stay under the
// canonicalized output root before anything is written; a violating entry
// aborts the extraction and removes partially written files.
func ExtractArchive(archivePath, outDir string, cfg Config) ([]FileInfo, error) {
	return ExtractArchiveWithProgress(archivePath, outDir, cfg, nil, nil)
}

// ExtractArchiveWithProgress is ExtractArchive with progress and cancellation
// callbacks.
func ExtractArchiveWithProgress(archivePath, outDir string, cfg Config, progress ProgressFunc, cancel CancelFunc) (retFiles []FileInfo, retErr error) {
	f, err := os.Open(archivePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrap(errors.ErrFileNotFound, "archive")
		}
		return nil, errors.NewFileError("open", archivePath, err)
	}
	defer func() { _ = f.Close() }()

	if err := os.MkdirAll(outDir, 0o700); err != nil {
		return nil, errors.NewFileError("mkdir", outDir, err)
	}

	// Canonicalize the root once; every entry must resolve under it.
	root, err := filepath.EvalSymlinks(outDir)
	if err != nil {
		return nil, errors.NewFileError("resolve", outDir, err)
	}

	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, errors.Wrap(errors.ErrArchiveCorrupted, "gzip header")
	}
	defer func() { _ = gz.Close() }()

	tr := tar.NewReader(gz)

	var files []FileInfo
	var written []string
	var done int64

	// Abort removes everything this extraction wrote.
	abort := func(err error) ([]FileInfo, error) {
		for _, path := range written {
			_ = os.Remove(path)
		}
		return nil, err
	}

	buf := util.GetStreamBuffer()
	defer util.PutStreamBuffer(buf)

	for {
		if cancel != nil && cancel() {
			return abort(errors.ErrCancelled)
		}

		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return abort(errors.Wrap(errors.ErrArchiveCorrupted, "read tar entry"))
		}

		target, err := safeTarget(root, hdr.Name)
		if err != nil {
			return abort(err)
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o700); err != nil {
				return abort(errors.NewFileError("mkdir", target, err))
			}
			continue
		case tar.TypeReg:
			// handled below
		default:
			// Symlinks, devices, and other special entries never extract.
			return abort(errors.Wrap(errors.ErrPathValidation,
				fmt.Sprintf("unsupported entry type for %s", hdr.Name)))
		}

		if hdr.Size > util.MaxFileSize {
			return abort(errors.Wrap(errors.ErrFileTooLarge, hdr.Name))
		}

		parent := filepath.Dir(target)
		if err := os.MkdirAll(parent, 0o700); err != nil {
			return abort(errors.NewFileError("mkdir", parent, err))
		}
		// Re-canonicalize the parent after creation: a symlink planted between
		// validation and write must not redirect the output.
		resolvedParent, err := filepath.EvalSymlinks(parent)
		if err != nil {
			return abort(errors.NewFileError("resolve", parent, err))
		}
		if resolvedParent != root && !strings.HasPrefix(resolvedParent, root+string(os.PathSeparator)) {
			return abort(errors.Wrap(errors.ErrPathValidation, hdr.Name))
		}

		mode := os.FileMode(0o600)
		if cfg.PreservePermissions && hdr.Mode != 0 {
			mode = os.FileMode(hdr.Mode).Perm()
		}

		dst, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
		if err != nil {
			return abort(errors.NewFileError("create", target, err))
		}
		written = append(written, target)

		hasher := sha256.New()
		var size int64
		for {
			if cancel != nil && cancel() {
				_ = dst.Close()
				return abort(errors.ErrCancelled)
			}
			n, readErr := tr.Read(buf)
			if n > 0 {
				chunk := buf[:n]
				if _, err := dst.Write(chunk); err != nil {
					_ = dst.Close()
					return abort(errors.NewFileError("write", target, err))
				}
				hasher.Write(chunk)
				size += int64(n)
				done += int64(n)
				if progress != nil {
					progress(progressFraction(done), hdr.Name)
				}
			}
			if readErr == io.EOF {
				break
			}
			if readErr != nil {
				_ = dst.Close()
				return abort(errors.Wrap(errors.ErrArchiveCorrupted, "read entry data"))
			}
		}
		if err := dst.Close(); err != nil {
			return abort(errors.NewFileError("close", target, err))
		}

		files = append(files, FileInfo{
			RelativePath: filepath.ToSlash(hdr.Name),
			Size:         size,
			Modified:     hdr.ModTime.UTC(),
			SHA256:       hex.EncodeToString(hasher.Sum(nil)),
			UnixMode:     mode,
		})
	}

	return files, nil
}

// progressFraction maps extracted byte counts onto a bounded fraction when the
// uncompressed total is unknown up front.
func progressFraction(done int64) float64 {
	// Totals are not recorded in the gzip stream; report a conservative
	// fraction that completion overwrites with 1.0.
	f := float64(done) / float64(done+util.MiB)
	if f > 0.99 {
		f = 0.99
	}
	return f
}

// safeTarget validates an archive entry name and resolves it under root.
// Rejects absolute paths, traversal segments in any form, and entries whose
// cleaned path escapes the root.
func safeTarget(root, name string) (string, error) {
	if name == "" {
		return "", errors.Wrap(errors.ErrPathValidation, "empty entry name")
	}
	slash := filepath.ToSlash(name)
	if strings.HasPrefix(slash, "/") || filepath.IsAbs(name) {
		return "", errors.Wrap(errors.ErrPathValidation, "absolute entry path")
	}
	// Windows drive or UNC forms
	if strings.Contains(slash, ":") || strings.HasPrefix(slash, `\\`) {
		return "", errors.Wrap(errors.ErrPathValidation, "invalid entry path")
	}
	for _, seg := range strings.Split(slash, "/") {
		if seg == ".." {
			return "", errors.Wrap(errors.ErrPathValidation, "traversal segment in entry path")
		}
		if strings.ContainsRune(seg, '\x00') {
			return "", errors.Wrap(errors.ErrPathValidation, "NUL in entry path")
		}
	}

	target := filepath.Join(root, filepath.FromSlash(slash))
	cleaned := filepath.Clean(target)
	if cleaned != root && !strings.HasPrefix(cleaned, root+string(os.PathSeparator)) {
		return "", errors.Wrap(errors.ErrPathValidation, "entry escapes output root")
	}
	return cleaned, nil
}
