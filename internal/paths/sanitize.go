package paths

import (
	"strings"

	"github.com/agevault/agevault/internal/errors"
)

// MaxLabelLength caps sanitized labels so every supported filesystem accepts
// the resulting file name.
const MaxLabelLength = 200

// Label carries both the filesystem-safe form of a user-provided name and the
// original for display round-tripping.
type Label struct {
	Sanitized string `json:"sanitized"`
	Display   string `json:"display"`
}

// windowsReserved lists device names that are invalid file names on Windows
// regardless of extension.
var windowsReserved = map[string]bool{
	"CON": true, "PRN": true, "AUX": true, "NUL": true,
	"COM1": true, "COM2": true, "COM3": true, "COM4": true, "COM5": true,
	"COM6": true, "COM7": true, "COM8": true, "COM9": true,
	"LPT1": true, "LPT2": true, "LPT3": true, "LPT4": true, "LPT5": true,
	"LPT6": true, "LPT7": true, "LPT8": true, "LPT9": true,
}

// SanitizeLabel transforms a user-provided name into a filesystem- and
// cross-platform-safe label while preserving the original for display.
//
// Rules, applied in order: strip non-ASCII, replace invalid filesystem
// characters and whitespace with '-', collapse separator runs, trim leading
// and trailing separators, prefix a leading dot, cap at MaxLabelLength, and
// reject Windows reserved device names.
func SanitizeLabel(input string) (Label, error) {
	display := input
	trimmed := strings.TrimSpace(input)

	if trimmed == "" {
		return Label{}, errors.Wrap(errors.ErrInvalidLabel, "label cannot be empty")
	}

	var b strings.Builder
	b.Grow(len(trimmed))
	lastSep := false
	for _, r := range trimmed {
		if r > 127 {
			continue
		}
		c := byte(r)
		sep := c == '-' || c < 0x21 || c == 0x7f || strings.IndexByte(`/\:*?"<>|`, c) >= 0
		if sep {
			if !lastSep {
				b.WriteByte('-')
				lastSep = true
			}
			continue
		}
		b.WriteByte(c)
		lastSep = false
	}

	sanitized := strings.Trim(b.String(), "-")
	if sanitized == "" {
		return Label{}, errors.Wrap(errors.ErrInvalidLabel, "label contains only invalid characters")
	}

	// A leading dot would produce a hidden file on POSIX.
	if strings.HasPrefix(sanitized, ".") {
		sanitized = "vault-" + strings.TrimPrefix(sanitized, ".")
	}

	if len(sanitized) > MaxLabelLength {
		sanitized = strings.Trim(sanitized[:MaxLabelLength], "-")
	}

	if windowsReserved[strings.ToUpper(strings.SplitN(sanitized, ".", 2)[0])] {
		return Label{}, errors.Wrap(errors.ErrInvalidLabel, "label is a reserved name")
	}

	return Label{Sanitized: sanitized, Display: display}, nil
}

// ValidateLabel checks an already-sanitized label for use as a file name
// component. It rejects path separators, traversal segments, NUL bytes,
// wildcards, empty or whitespace-only input, and overlong labels.
func ValidateLabel(label string) error {
	if strings.TrimSpace(label) == "" {
		return errors.Wrap(errors.ErrInvalidLabel, "label cannot be empty")
	}
	if len(label) > MaxLabelLength {
		return errors.Wrap(errors.ErrInvalidLabel, "label exceeds maximum length")
	}
	if strings.ContainsAny(label, "/\\\x00*?") {
		return errors.Wrap(errors.ErrInvalidLabel, "label contains forbidden characters")
	}
	if label == "." || label == ".." {
		return errors.Wrap(errors.ErrInvalidLabel, "label is a traversal segment")
	}
	if strings.HasPrefix(label, ".") {
		return errors.Wrap(errors.ErrInvalidLabel, "label cannot start with a dot")
	}
	return nil
}
