// Package progress carries operation progress updates from the pipelines to
// the host, debounced so the emission rate stays bounded.
package progress

import (
	"sync"
	"time"

	"github.com/agevault/agevault/internal/errors"
	"github.com/agevault/agevault/internal/util"
)

// Update is one progress report for an operation.
type Update struct {
	OperationID string    `json:"operation_id"`
	Fraction    float64   `json:"fraction"` // 0.0 - 1.0
	Message     string    `json:"message"`
	Details     any       `json:"details,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
	ETASeconds  int       `json:"eta_seconds,omitempty"`
}

// Detail variants carried in Update.Details.
type (
	// FileDetail reports per-file progress during staging or extraction.
	FileDetail struct {
		CurrentFile string `json:"current_file"`
		Index       int    `json:"index"`
		Total       int    `json:"total"`
	}

	// ByteDetail reports streaming byte counts.
	ByteDetail struct {
		Done      int64   `json:"done"`
		Total     int64   `json:"total"`
		SpeedMiBs float64 `json:"speed_mibs"`
	}

	// ArchiveDetail reports archive creation state.
	ArchiveDetail struct {
		ArchivePath string `json:"archive_path"`
		FileCount   int    `json:"file_count"`
	}

	// ManifestDetail reports manifest verification state.
	ManifestDetail struct {
		Verified bool `json:"verified"`
	}

	// YubiKeyDetail reports the hardware interaction phase.
	YubiKeyDetail struct {
		Phase string `json:"phase"` // "pin", "touch", "decrypting"
	}
)

// Callback receives emitted updates.
type Callback func(Update)

// Debouncer coalesces a stream of updates: start (0.0), completion (1.0), and
// jumps of at least the force-emit threshold pass through immediately; other
// updates are held until the debounce interval has passed. Flush emits any
// pending update and must be called at operation completion.
//
// The debouncer never blocks the caller.
type Debouncer struct {
	mu               sync.Mutex
	lastEmitTime     time.Time
	lastEmitFraction float64
	pending          *Update
	callback         Callback
}

// NewDebouncer creates a debouncer delivering to cb.
func NewDebouncer(cb Callback) *Debouncer {
	return &Debouncer{callback: cb}
}

// Process handles one update with debouncing.
func (d *Debouncer) Process(u Update) {
	if u.Timestamp.IsZero() {
		u.Timestamp = time.Now()
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.shouldEmitImmediately(u.Fraction) {
		d.emitLocked(u)
		return
	}

	d.pending = &u
	if time.Since(d.lastEmitTime) >= util.ProgressDebounceInterval {
		pending := *d.pending
		d.pending = nil
		d.emitLocked(pending)
	}
}

// shouldEmitImmediately mirrors the emission contract: endpoints always, big
// jumps always.
func (d *Debouncer) shouldEmitImmediately(fraction float64) bool {
	if fraction == 0.0 || fraction >= 1.0 {
		return true
	}
	delta := fraction - d.lastEmitFraction
	if delta < 0 {
		delta = -delta
	}
	return delta >= util.ProgressForceEmitThreshold
}

func (d *Debouncer) emitLocked(u Update) {
	if d.callback != nil {
		d.callback(u)
	}
	d.lastEmitTime = time.Now()
	d.lastEmitFraction = u.Fraction
	// Anything still pending is older than what was just emitted; a later
	// flush must not resurface it.
	d.pending = nil
}

// Flush emits any pending update. Call before reporting completion so the
// last coalesced value is not lost.
func (d *Debouncer) Flush() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pending != nil {
		pending := *d.pending
		d.pending = nil
		d.emitLocked(pending)
	}
}

// Tracker stores the latest update per operation id for pull-based retrieval.
type Tracker struct {
	mu     sync.RWMutex
	latest map[string]Update
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{latest: make(map[string]Update)}
}

// Record stores the update as the operation's latest state.
func (t *Tracker) Record(u Update) {
	t.mu.Lock()
	t.latest[u.OperationID] = u
	t.mu.Unlock()
}

// Get returns the latest update for an operation id. Unknown ids are a
// recoverable error.
func (t *Tracker) Get(operationID string) (Update, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	u, ok := t.latest[operationID]
	if !ok {
		return Update{}, errors.ErrOperationNotFound
	}
	return u, nil
}

// Forget drops a completed operation's state.
func (t *Tracker) Forget(operationID string) {
	t.mu.Lock()
	delete(t.latest, operationID)
	t.mu.Unlock()
}
