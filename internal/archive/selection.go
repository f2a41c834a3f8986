package archive

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/agevault/agevault/internal/errors"
	"github.com/agevault/agevault/internal/log"
	"github.com/agevault/agevault/internal/util"
)

// entry is one validated member of a selection.
type entry struct {
	path string // absolute path on disk
	rel  string // slash-separated path inside the archive
	info os.FileInfo
}

// ValidateSelection checks a selection against the operation limits without
// creating anything. It returns the resolved entries so archive creation does
// not re-stat the tree (the metadata is obtained once and branched on, never
// re-checked later).
func ValidateSelection(sel Selection, cfg Config) ([]entry, error) {
	entries, err := resolveSelection(sel)
	if err != nil {
		return nil, err
	}

	if len(entries) == 0 {
		return nil, errors.NewValidationError("selection", "no files selected")
	}
	if len(entries) > util.MaxFilesPerOperation {
		return nil, errors.Wrap(errors.ErrTooManyFiles,
			fmt.Sprintf("%d files exceeds the limit of %d", len(entries), util.MaxFilesPerOperation))
	}

	var total int64
	for _, e := range entries {
		size := e.info.Size()
		if size > util.MaxFileSize {
			return nil, errors.Wrap(errors.ErrFileTooLarge,
				fmt.Sprintf("%s is %s", e.rel, util.Sizeify(size)))
		}
		if size > util.WarnFileSize {
			log.Warn("large file in selection", log.String("file", e.rel), log.Int64("size", size))
		}
		total += size
	}
	if total > util.MaxTotalArchiveSize {
		return nil, errors.Wrap(errors.ErrSelectionTooBig,
			fmt.Sprintf("selection totals %s", util.Sizeify(total)))
	}

	return entries, nil
}

// resolveSelection expands a selection into concrete entries. Symlinks
// anywhere in the graph are rejected; every path must resolve to an existing
// readable regular file.
func resolveSelection(sel Selection) ([]entry, error) {
	if sel.Directory != "" {
		return walkDirectory(sel.Directory)
	}

	entries := make([]entry, 0, len(sel.Files))
	for _, path := range sel.Files {
		info, err := os.Lstat(path)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, errors.Wrap(errors.ErrFileNotFound, filepath.Base(path))
			}
			return nil, errors.NewFileError("stat", path, err)
		}
		if info.Mode()&os.ModeSymlink != 0 {
			return nil, errors.Wrap(errors.ErrSymlinkInInput, filepath.Base(path))
		}
		if !info.Mode().IsRegular() {
			return nil, errors.NewValidationError("selection",
				fmt.Sprintf("%s is not a regular file", filepath.Base(path)))
		}
		entries = append(entries, entry{
			path: path,
			rel:  filepath.ToSlash(filepath.Base(path)),
			info: info,
		})
	}

	// Deterministic staging order regardless of how the caller assembled the list.
	sort.Slice(entries, func(i, j int) bool { return entries[i].rel < entries[j].rel })
	return dedupe(entries)
}

func walkDirectory(root string) ([]entry, error) {
	rootInfo, err := os.Lstat(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrap(errors.ErrFileNotFound, filepath.Base(root))
		}
		return nil, errors.NewFileError("stat", root, err)
	}
	if rootInfo.Mode()&os.ModeSymlink != 0 {
		return nil, errors.Wrap(errors.ErrSymlinkInInput, filepath.Base(root))
	}
	if !rootInfo.IsDir() {
		return nil, errors.NewValidationError("selection", "directory selection is not a directory")
	}

	var entries []entry
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return errors.NewFileError("walk", path, err)
		}
		if d.Type()&os.ModeSymlink != 0 {
			return errors.Wrap(errors.ErrSymlinkInInput, d.Name())
		}
		if d.IsDir() {
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return errors.NewFileError("stat", path, err)
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return errors.NewFileError("rel", path, err)
		}
		entries = append(entries, entry{
			path: path,
			rel:  filepath.ToSlash(filepath.Join(filepath.Base(root), rel)),
			info: info,
		})

		if len(entries) > util.MaxFilesPerOperation {
			return errors.ErrTooManyFiles
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].rel < entries[j].rel })
	return entries, nil
}

func dedupe(entries []entry) ([]entry, error) {
	seen := make(map[string]bool, len(entries))
	for _, e := range entries {
		if seen[e.rel] {
			return nil, errors.NewValidationError("selection",
				fmt.Sprintf("duplicate entry %s", e.rel))
		}
		seen[e.rel] = true
	}
	return entries, nil
}
