// Package util provides common utilities and constants for agevault.
//
// This package contains:
//   - Size constants (KiB, MiB, GiB, TiB) for byte calculations
//   - Operational limits for archive creation and validation
//   - Progress/speed/time formatting functions (Statify, Timeify, Sizeify)
//   - Cryptographically secure recovery-code generation
//
// All utilities are stateless and thread-safe.
package util

import "time"

// Size constants for byte calculations
const (
	KiB = 1 << 10 // 1024
	MiB = 1 << 20 // 1,048,576
	GiB = 1 << 30 // 1,073,741,824
	TiB = 1 << 40 // 1,099,511,627,776
)

// Operational limits for archive creation and validation.
const (
	// MaxFilesPerOperation caps how many files a single vault operation may touch.
	MaxFilesPerOperation = 10_000

	// MaxFileSize is the hard per-file ceiling; WarnFileSize triggers a warning.
	MaxFileSize  = 100 * MiB
	WarnFileSize = 50 * MiB

	// MaxTotalArchiveSize caps the aggregate size of a selection.
	MaxTotalArchiveSize = 2 * GiB

	// MaxArchiveSize guards reads of untrusted archives.
	MaxArchiveSize = 2 * GiB

	// MinPassphraseLength is the minimum accepted passphrase length.
	MinPassphraseLength = 12

	// IOBufferSize is the chunk size for streaming reads and writes.
	IOBufferSize = 64 * KiB
)

// Progress emission tuning.
const (
	// ProgressDebounceInterval is the minimum gap between coalesced updates.
	ProgressDebounceInterval = 100 * time.Millisecond

	// ProgressForceEmitThreshold is the fraction delta that bypasses debouncing.
	ProgressForceEmitThreshold = 0.10
)

// Cache tuning.
const (
	// KeyCacheTTL is how long cached key listings stay fresh.
	KeyCacheTTL = 300 * time.Second

	// DirCacheTTL is how long cached directory-exists checks stay fresh.
	DirCacheTTL = 30 * time.Second
)

// Hardware token timeouts.
const (
	// PinOperationTimeout bounds the PIN entry step of a PTY operation.
	PinOperationTimeout = 10 * time.Second

	// TouchOperationTimeout bounds the touch confirmation step.
	TouchOperationTimeout = 45 * time.Second
)
