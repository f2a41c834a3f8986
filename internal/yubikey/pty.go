package yubikey

import (
	"context"
	"io"
	"os/exec"
	"time"

	"github.com/creack/pty"

	"github.com/agevault/agevault/internal/errors"
	"github.com/agevault/agevault/internal/log"
)

// ptyPollInterval is how often the read loop wakes to check deadlines.
const ptyPollInterval = 50 * time.Millisecond

// runUnderPTY executes cmd attached to a pseudo-terminal and drives the
// prompt machine over its output. A PIN, when required by the tool, is
// written exactly once. Phase timeouts come from the machine; exceeding one
// kills the child.
//
// Returns the stripped, accumulated output of the tool.
func runUnderPTY(ctx context.Context, cmd *exec.Cmd, pin *Pin) (string, error) {
	machine := NewPromptMachine()

	f, err := pty.Start(cmd)
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return "", errors.Wrap(errors.ErrPluginNotFound, cmd.Path)
		}
		return "", errors.Wrap(errors.ErrPtyOperation, "start pty")
	}
	defer func() { _ = f.Close() }()

	kill := func() {
		if cmd.Process != nil {
			_ = cmd.Process.Kill()
		}
		_, _ = cmd.Process.Wait()
	}

	type chunkMsg struct {
		data []byte
		err  error
	}
	chunks := make(chan chunkMsg, 8)
	go func() {
		for {
			buf := make([]byte, 4096)
			n, err := f.Read(buf)
			if n > 0 {
				chunks <- chunkMsg{data: buf[:n]}
			}
			if err != nil {
				chunks <- chunkMsg{err: err}
				return
			}
		}
	}()

	phaseStart := time.Now()
	ticker := time.NewTicker(ptyPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			kill()
			return machine.Accumulated(), errors.ErrCancelled

		case msg := <-chunks:
			if msg.err != nil {
				// EOF: the child closed its side. Reap it and let the caller
				// inspect the exit result.
				waitErr := cmd.Wait()
				if machine.Err() != nil {
					return machine.Accumulated(), machine.Err()
				}
				if waitErr != nil {
					if IsErrorOutput(machine.Accumulated()) {
						return machine.Accumulated(), errors.Wrap(errors.ErrPtyOperation, firstErrorLine(machine.Accumulated()))
					}
					return machine.Accumulated(), errors.Wrap(errors.ErrPluginExecution, "tool exited with failure")
				}
				return machine.Accumulated(), nil
			}

			switch machine.Feed(msg.data) {
			case ActionSendPin:
				if pin == nil {
					kill()
					return machine.Accumulated(), errors.NewPinRequiredError(-1)
				}
				if _, err := io.WriteString(f, pin.Expose()+"\n"); err != nil {
					kill()
					return machine.Accumulated(), errors.Wrap(errors.ErrPtyOperation, "write PIN")
				}
				log.Debug("PIN injected into PTY session")
				phaseStart = time.Now()
			case ActionFail:
				kill()
				return machine.Accumulated(), machine.Err()
			}

		case <-ticker.C:
			if time.Since(phaseStart) > machine.Deadline() {
				kill()
				return machine.Accumulated(), machine.TimeoutError()
			}
		}
	}
}
