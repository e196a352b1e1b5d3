//go:build linux

// Package ttytest runs a test body in a child process whose controlling
// terminal is a fresh pseudo-terminal.
package ttytest

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"os/exec"
	"syscall"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

const childEnv = "JOBSHELL_TTYTEST_CHILD"

// InChild reports whether the running test binary was started by Run.
func InChild() bool {
	return os.Getenv(childEnv) == "1"
}

// PTY is an open pseudo-terminal pair.
type PTY struct {
	Master *os.File
	Slave  *os.File
}

// Open allocates a pseudo-terminal without making it the caller's
// controlling terminal.
func Open() (*PTY, error) {
	fd, err := unix.Open("/dev/ptmx", unix.O_RDWR|unix.O_NOCTTY|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("open ptmx: %w", err)
	}
	master := os.NewFile(uintptr(fd), "/dev/ptmx")

	if err := unix.IoctlSetPointerInt(fd, unix.TIOCSPTLCK, 0); err != nil {
		master.Close()
		return nil, fmt.Errorf("unlockpt: %w", err)
	}
	n, err := unix.IoctlGetUint32(fd, unix.TIOCGPTN)
	if err != nil {
		master.Close()
		return nil, fmt.Errorf("ptsname: %w", err)
	}
	slave, err := os.OpenFile(fmt.Sprintf("/dev/pts/%d", n), os.O_RDWR|unix.O_NOCTTY, 0)
	if err != nil {
		master.Close()
		return nil, fmt.Errorf("open pts: %w", err)
	}
	return &PTY{Master: master, Slave: slave}, nil
}

// Run re-executes the test binary with only the named test selected. The
// child leads a new session with the pty slave as its stdin and controlling
// terminal, and input is typed into the master. The test fails if the child
// does; it is skipped when no pseudo-terminal can be allocated.
func Run(t *testing.T, name, input string) {
	t.Helper()

	pty, err := Open()
	if err != nil {
		t.Skipf("no pseudo-terminal: %v", err)
	}
	defer pty.Master.Close()

	var out bytes.Buffer
	cmd := exec.Command(os.Args[0], "-test.run=^"+name+"$", "-test.v")
	cmd.Env = append(os.Environ(), childEnv+"=1")
	cmd.Stdin = pty.Slave
	cmd.Stdout = &out
	cmd.Stderr = &out
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true, Setctty: true, Ctty: 0}

	err = cmd.Start()
	pty.Slave.Close()
	require.NoError(t, err)

	// Echo goes back to the master and must not fill its buffer.
	go func() { _, _ = io.Copy(io.Discard, pty.Master) }()
	if input != "" {
		_, err = io.WriteString(pty.Master, input)
		require.NoError(t, err)
	}

	require.NoError(t, cmd.Wait(), out.String())
}
