package shell

import (
	"context"
	"errors"
	"os/exec"
	"strings"
	"sync"
)

// We prefer to return stderr over the process exit code
type ExitErrorVerbose struct {
	E exec.ExitError
}

func (e ExitErrorVerbose) Error() string {
	if len(e.E.Stderr) != 0 {
		return strings.TrimSpace(string(e.E.Stderr))
	}
	return e.E.Error()
}

func (e ExitErrorVerbose) Unwrap() error {
	return &e.E
}

// Run a program and return its stdout
func Run(name string, args ...string) (string, error) {
	return RunContext(context.Background(), name, args...)
}

// Run a program and return its stdout. The process is killed if ctx is cancelled.
func RunContext(ctx context.Context, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	out, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return "", ExitErrorVerbose{*exitErr}
		}
		return "", err
	}
	return string(out), nil
}

// TailBuffer is an io.Writer that keeps only the last Max bytes written to it.
// It is safe to write from the goroutine that os/exec uses to copy a child's stderr
// while another goroutine reads it.
type TailBuffer struct {
	Max int

	lock sync.Mutex
	buf  []byte
}

func NewTailBuffer(max int) *TailBuffer {
	return &TailBuffer{Max: max}
}

func (t *TailBuffer) Write(p []byte) (int, error) {
	t.lock.Lock()
	defer t.lock.Unlock()
	t.buf = append(t.buf, p...)
	if len(t.buf) > t.Max {
		t.buf = append(t.buf[:0], t.buf[len(t.buf)-t.Max:]...)
	}
	return len(p), nil
}

func (t *TailBuffer) String() string {
	t.lock.Lock()
	defer t.lock.Unlock()
	return strings.TrimSpace(string(t.buf))
}
