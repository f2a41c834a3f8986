package progress

import (
	"sync"
	"testing"
	"time"

	"github.com/agevault/agevault/internal/errors"
	"github.com/agevault/agevault/internal/util"
)

type recorder struct {
	mu      sync.Mutex
	updates []Update
}

func (r *recorder) cb(u Update) {
	r.mu.Lock()
	r.updates = append(r.updates, u)
	r.mu.Unlock()
}

func (r *recorder) all() []Update {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Update, len(r.updates))
	copy(out, r.updates)
	return out
}

func TestDebouncerEmitsEndpoints(t *testing.T) {
	rec := &recorder{}
	d := NewDebouncer(rec.cb)

	d.Process(Update{OperationID: "op", Fraction: 0.0})
	d.Process(Update{OperationID: "op", Fraction: 1.0})
	d.Flush()

	got := rec.all()
	if len(got) != 2 {
		t.Fatalf("emitted %d updates; want 2", len(got))
	}
	if got[0].Fraction != 0.0 || got[1].Fraction != 1.0 {
		t.Errorf("endpoints = %v, %v", got[0].Fraction, got[1].Fraction)
	}
}

func TestDebouncerForceEmitOnBigJump(t *testing.T) {
	rec := &recorder{}
	d := NewDebouncer(rec.cb)

	d.Process(Update{Fraction: 0.0})  // immediate (start)
	d.Process(Update{Fraction: 0.05}) // coalesced (small delta, no interval)
	d.Process(Update{Fraction: 0.20}) // immediate (>=10% jump from 0.0)

	got := rec.all()
	var fractions []float64
	for _, u := range got {
		fractions = append(fractions, u.Fraction)
	}
	if len(got) < 2 || got[len(got)-1].Fraction != 0.20 {
		t.Errorf("big jump not emitted immediately: %v", fractions)
	}
}

func TestDebouncerCoalesces(t *testing.T) {
	rec := &recorder{}
	d := NewDebouncer(rec.cb)

	d.Process(Update{Fraction: 0.0})
	// A burst of small increments inside one debounce interval: at most one
	// may pass through via the interval check.
	for f := 0.01; f < 0.09; f += 0.01 {
		d.Process(Update{Fraction: f})
	}

	got := rec.all()
	if len(got) > 3 {
		t.Errorf("burst emitted %d updates; want coalescing", len(got))
	}
}

func TestDebouncerFlushEmitsPending(t *testing.T) {
	rec := &recorder{}
	d := NewDebouncer(rec.cb)

	d.Process(Update{Fraction: 0.0})
	d.Process(Update{Fraction: 0.05}) // held as pending

	before := len(rec.all())
	d.Flush()
	after := rec.all()

	if len(after) != before+1 {
		t.Fatalf("flush emitted %d updates; want 1", len(after)-before)
	}
	if after[len(after)-1].Fraction != 0.05 {
		t.Errorf("flushed fraction = %v; want 0.05", after[len(after)-1].Fraction)
	}

	// Second flush is a no-op.
	d.Flush()
	if len(rec.all()) != len(after) {
		t.Error("double flush re-emitted")
	}
}

func TestDebounceBounds(t *testing.T) {
	rec := &recorder{}
	d := NewDebouncer(rec.cb)

	// Strictly increasing fractions including 0.0 and 1.0.
	fractions := []float64{0.0, 0.02, 0.04, 0.06, 0.08, 0.11, 0.13, 0.35, 0.36, 0.8, 0.99, 1.0}
	for _, f := range fractions {
		d.Process(Update{Fraction: f})
	}
	d.Flush()

	got := rec.all()
	if got[0].Fraction != 0.0 {
		t.Error("0.0 missing from emitted subsequence")
	}
	var saw1 bool
	for _, u := range got {
		if u.Fraction == 1.0 {
			saw1 = true
		}
	}
	if !saw1 {
		t.Error("1.0 missing from emitted subsequence")
	}

	// Every emitted pair must be separated by the interval or a big jump —
	// excluding flush-emitted leftovers.
	for i := 1; i < len(got); i++ {
		gap := got[i].Timestamp.Sub(got[i-1].Timestamp)
		delta := got[i].Fraction - got[i-1].Fraction
		endpoint := got[i].Fraction >= 1.0 || got[i].Fraction == 0.0
		if gap < util.ProgressDebounceInterval && delta < util.ProgressForceEmitThreshold && !endpoint {
			t.Errorf("%v emitted %v after %v without a big jump", got[i].Fraction, gap, got[i-1].Fraction)
		}
	}

	// Monotone non-decreasing.
	for i := 1; i < len(got); i++ {
		if got[i].Fraction < got[i-1].Fraction {
			t.Errorf("fractions not monotone: %v then %v", got[i-1].Fraction, got[i].Fraction)
		}
	}
}

func TestDebouncerIntervalRelease(t *testing.T) {
	rec := &recorder{}
	d := NewDebouncer(rec.cb)

	d.Process(Update{Fraction: 0.0})
	time.Sleep(util.ProgressDebounceInterval + 20*time.Millisecond)
	d.Process(Update{Fraction: 0.03}) // interval has passed: emitted

	got := rec.all()
	if len(got) != 2 {
		t.Fatalf("emitted %d; want 2 after interval", len(got))
	}
}

func TestTracker(t *testing.T) {
	tr := NewTracker()

	if _, err := tr.Get("unknown"); !errors.Is(err, errors.ErrOperationNotFound) {
		t.Errorf("unknown id = %v; want ErrOperationNotFound", err)
	}

	tr.Record(Update{OperationID: "op1", Fraction: 0.4, Message: "archiving"})
	u, err := tr.Get("op1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if u.Fraction != 0.4 || u.Message != "archiving" {
		t.Errorf("latest = %+v", u)
	}

	tr.Record(Update{OperationID: "op1", Fraction: 0.9})
	u, _ = tr.Get("op1")
	if u.Fraction != 0.9 {
		t.Error("Record should overwrite the latest state")
	}

	tr.Forget("op1")
	if _, err := tr.Get("op1"); !errors.Is(err, errors.ErrOperationNotFound) {
		t.Error("Forget should drop the operation")
	}
}
