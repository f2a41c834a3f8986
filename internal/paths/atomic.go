package paths

import (
	"os"
	"path/filepath"

	"github.com/agevault/agevault/internal/errors"
)

// AtomicWrite writes data to path so that observers never see a partial file:
// the bytes go to a sibling temp file first, are fsynced, and the temp file is
// renamed over the destination. On POSIX the rename is atomic.
func AtomicWrite(path string, data []byte) error {
	return AtomicWriteMode(path, data, 0o600)
}

// AtomicWriteMode is AtomicWrite with an explicit file mode.
func AtomicWriteMode(path string, data []byte, mode os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return errors.NewFileError("mkdir", dir, err)
	}

	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return errors.NewFileError("create", tmp, err)
	}

	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return errors.NewFileError("write", tmp, err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return errors.NewFileError("sync", tmp, err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return errors.NewFileError("close", tmp, err)
	}

	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return errors.NewFileError("rename", path, err)
	}
	return nil
}
