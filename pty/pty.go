// Package pty hosts the user's shell inside a pseudo-terminal and keeps its
// window size in step with the hosting terminal.
package pty

import (
	"os"
	"os/exec"
	"os/signal"
	"syscall"

	"github.com/creack/pty"
	"golang.org/x/term"

	"github.com/m4xw311/conch/errors"
)

// Host owns a child process attached to a pty master.
type Host struct {
	cmd  *exec.Cmd
	ptmx *os.File
}

// Start launches cmd on a fresh pty sized to match the terminal on stdin.
func Start(cmd *exec.Cmd) (*Host, error) {
	size, err := pty.GetsizeFull(os.Stdin)
	if err != nil {
		// Not running on a terminal; fall back to a sane default.
		size = &pty.Winsize{Rows: 24, Cols: 80}
	}
	ptmx, err := pty.StartWithSize(cmd, size)
	if err != nil {
		return nil, errors.WithKind(errors.KindSpawn, errors.Wrapf(err, "starting %s", cmd.Path))
	}
	return &Host{cmd: cmd, ptmx: ptmx}, nil
}

// Master returns the pty master. Reads drain the child's output, writes
// feed its input.
func (h *Host) Master() *os.File {
	return h.ptmx
}

// Resize propagates the hosting terminal's current size to the child.
func (h *Host) Resize() error {
	if err := pty.InheritSize(os.Stdin, h.ptmx); err != nil {
		return errors.WithKind(errors.KindIO, errors.Wrapf(err, "resizing pty"))
	}
	return nil
}

// WatchResize forwards SIGWINCH to the child until stop is closed. An
// initial resize fires immediately so the child starts with the right size.
func (h *Host) WatchResize(stop <-chan struct{}) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGWINCH)
	go func() {
		defer signal.Stop(ch)
		for {
			select {
			case <-ch:
				h.Resize()
			case <-stop:
				return
			}
		}
	}()
	ch <- syscall.SIGWINCH
}

// Wait blocks until the child exits and returns its exit error, if any.
func (h *Host) Wait() error {
	return h.cmd.Wait()
}

// Close releases the pty master. The child sees EOF/SIGHUP on its side.
func (h *Host) Close() error {
	return h.ptmx.Close()
}

// MakeRaw puts the terminal on fd into raw mode and returns a restore
// function. Callers must invoke restore before the process exits or the
// user's terminal is left unusable.
func MakeRaw(fd int) (func() error, error) {
	state, err := term.MakeRaw(fd)
	if err != nil {
		return nil, errors.WithKind(errors.KindIO, errors.Wrapf(err, "entering raw mode"))
	}
	return func() error {
		return term.Restore(fd, state)
	}, nil
}
