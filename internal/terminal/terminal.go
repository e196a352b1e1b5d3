// Package terminal hands the controlling terminal to foreground jobs and
// takes it back for the shell.
package terminal

import (
	"fmt"
	"os"
	"os/signal"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"
	"golang.org/x/term"
)

// Controller owns foreground-group changes on one terminal.
type Controller struct {
	fd          int
	shellPgid   int
	interactive bool
	log         *zap.Logger
}

// New returns a Controller for f. When f is not a terminal the controller
// only runs the wait callback and never touches process groups.
func New(f *os.File, log *zap.Logger) *Controller {
	if log == nil {
		log = zap.NewNop()
	}
	fd := int(f.Fd())
	return &Controller{
		fd:          fd,
		shellPgid:   unix.Getpgrp(),
		interactive: term.IsTerminal(fd),
		log:         log,
	}
}

// Interactive reports whether the controller manages a real terminal.
func (c *Controller) Interactive() bool {
	return c.interactive
}

// Fd returns the terminal's descriptor in this process.
func (c *Controller) Fd() int {
	return c.fd
}

// Foreground gives the terminal to pgid, runs wait, and gives the terminal
// back to the shell on every return path.
func (c *Controller) Foreground(pgid int, wait func()) error {
	if !c.interactive {
		wait()
		return nil
	}

	if err := c.setForeground(pgid); err != nil {
		// The job still runs; wait for it without terminal control.
		c.log.Warn("cannot hand terminal to job", zap.Int("pgid", pgid), zap.Error(err))
		wait()
		return err
	}
	defer c.Reclaim()

	c.log.Debug("terminal handed off", zap.Int("pgid", pgid))
	wait()
	return nil
}

// Reclaim puts the shell's own group back in the foreground. It is a no-op
// off a terminal.
func (c *Controller) Reclaim() {
	if !c.interactive {
		return
	}
	if err := c.setForeground(c.shellPgid); err != nil {
		c.log.Error("cannot reclaim terminal", zap.Error(err))
	}
}

// Owner returns the process group currently in the terminal's foreground.
func (c *Controller) Owner() (int, error) {
	return unix.IoctlGetInt(c.fd, unix.TIOCGPGRP)
}

// setForeground calls tcsetpgrp with SIGTTOU ignored for the duration of the
// ioctl, since the shell is itself a background process when it reclaims.
func (c *Controller) setForeground(pgid int) error {
	signal.Ignore(unix.SIGTTOU)
	defer signal.Reset(unix.SIGTTOU)

	if err := unix.IoctlSetPointerInt(c.fd, unix.TIOCSPGRP, pgid); err != nil {
		return fmt.Errorf("tcsetpgrp %d: %w", pgid, err)
	}
	return nil
}
