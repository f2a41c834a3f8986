package yubikey

import (
	"strings"
	"time"

	"github.com/agevault/agevault/internal/errors"
	"github.com/agevault/agevault/internal/util"
)

// Action is what the PTY loop should do after feeding a chunk to the machine.
type Action int

const (
	// ActionNone: keep reading.
	ActionNone Action = iota
	// ActionSendPin: write the PIN followed by newline, then flush.
	ActionSendPin
	// ActionFail: kill the child; the machine's Err() explains why.
	ActionFail
)

// PromptMachine is the per-operation state machine over a tool's PTY output.
// It strips each raw chunk and appends to an accumulator (never re-stripping
// the whole), detects PIN and touch prompts, injects the PIN at most once,
// and classifies error output.
//
// The machine is deliberately free of any I/O so recorded byte streams can be
// fed to it in tests.
type PromptMachine struct {
	acc       strings.Builder
	pinSent   bool
	touchSeen bool
	err       error
}

// NewPromptMachine creates a machine for one PTY operation.
func NewPromptMachine() *PromptMachine {
	return &PromptMachine{}
}

// Feed processes one raw chunk of PTY output and returns the next action.
func (m *PromptMachine) Feed(chunk []byte) Action {
	if m.err != nil {
		return ActionFail
	}

	m.acc.WriteString(StripANSI(chunk))
	output := m.acc.String()

	if IsErrorOutput(output) {
		if attempts := ParsePinAttempts(output); attempts == 0 {
			m.err = errors.ErrPinBlocked
		} else if attempts > 0 {
			m.err = errors.NewPinRequiredError(attempts)
		} else {
			m.err = errors.Wrap(errors.ErrPtyOperation, firstErrorLine(output))
		}
		return ActionFail
	}

	if !m.pinSent && IsPinPrompt(output) {
		if attempts := ParsePinAttempts(output); attempts == 0 {
			m.err = errors.ErrPinBlocked
			return ActionFail
		}
		m.pinSent = true
		return ActionSendPin
	}

	if IsTouchPrompt(output) {
		m.touchSeen = true
	}

	return ActionNone
}

// Accumulated returns everything observed so far, stripped.
func (m *PromptMachine) Accumulated() string {
	return m.acc.String()
}

// PinSent reports whether the PIN injection point was reached.
func (m *PromptMachine) PinSent() bool {
	return m.pinSent
}

// TouchSeen reports whether a touch prompt was observed.
func (m *PromptMachine) TouchSeen() bool {
	return m.touchSeen
}

// Err returns the failure classified by the machine, if any.
func (m *PromptMachine) Err() error {
	return m.err
}

// Deadline returns the timeout for the current phase: the short PIN window
// before the PIN went in, the longer touch window after.
func (m *PromptMachine) Deadline() time.Duration {
	if m.pinSent || m.touchSeen {
		return util.TouchOperationTimeout
	}
	return util.PinOperationTimeout
}

// TimeoutError classifies a timeout in the current phase.
func (m *PromptMachine) TimeoutError() error {
	if m.touchSeen {
		return errors.ErrTouchTimeout
	}
	if m.pinSent {
		return errors.Wrap(errors.ErrTouchTimeout, "no confirmation after PIN entry")
	}
	return errors.Wrap(errors.ErrPtyOperation, "timed out waiting for tool output")
}

func firstErrorLine(output string) string {
	for _, line := range strings.Split(output, "\n") {
		if IsErrorOutput(line) {
			return strings.TrimSpace(line)
		}
	}
	return "tool reported an error"
}
