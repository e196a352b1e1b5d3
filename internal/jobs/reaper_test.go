package jobs

import (
	"os/exec"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

// spawn starts a shell snippet in its own process group and registers it.
// The os.Process handle is released so only the reaper waits on the pid.
func spawn(t *testing.T, reg *Registry, r *Reaper, script string, opts ...Option) int {
	t.Helper()
	cmd := exec.Command("/bin/sh", "-c", script)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	require.NoError(t, cmd.Start())
	pid := cmd.Process.Pid
	require.NoError(t, cmd.Process.Release())

	reg.Register(pid, script, opts...)
	r.Kick()
	return pid
}

func startReaper(t *testing.T) (*Registry, *Reaper) {
	t.Helper()
	reg := NewRegistry()
	r := NewReaper(reg, nil)
	require.NoError(t, r.Start())
	t.Cleanup(r.Stop)
	return reg, r
}

func TestReaperRecordsExitCode(t *testing.T) {
	reg, r := startReaper(t)
	pid := spawn(t, reg, r, "exit 3")

	j, ok := reg.WaitSettled(pid)
	require.True(t, ok)
	require.Equal(t, Completed, j.State)
	require.Equal(t, 3, j.ExitStatus)
	require.False(t, j.Signaled)
}

func TestReaperRecordsTerminatingSignal(t *testing.T) {
	reg, r := startReaper(t)
	pid := spawn(t, reg, r, "sleep 30")

	require.NoError(t, unix.Kill(pid, unix.SIGKILL))

	j, ok := reg.WaitSettled(pid)
	require.True(t, ok)
	require.Equal(t, Completed, j.State)
	require.True(t, j.Signaled)
	require.Equal(t, int(unix.SIGKILL), j.ExitStatus)
}

func TestReaperRecordsStopAndContinue(t *testing.T) {
	reg, r := startReaper(t)
	pid := spawn(t, reg, r, "sleep 30", InBackground())
	t.Cleanup(func() { _ = unix.Kill(-pid, unix.SIGKILL) })

	require.NoError(t, unix.Kill(pid, unix.SIGSTOP))
	j, _ := reg.WaitSettled(pid)
	require.Equal(t, Stopped, j.State)

	notes := reg.Notices()
	require.Len(t, notes, 1)
	require.Equal(t, "stopped", notes[0].Describe())

	require.NoError(t, unix.Kill(pid, unix.SIGCONT))
	require.Eventually(t, func() bool {
		j, _ := reg.Find(pid)
		return j.State == Running
	}, 5*time.Second, 10*time.Millisecond)
}

func TestReaperToleratesOutOfOrderCompletion(t *testing.T) {
	reg, r := startReaper(t)
	slow := spawn(t, reg, r, "sleep 0.3; exit 1")
	fast := spawn(t, reg, r, "exit 2")

	j, _ := reg.WaitSettled(fast)
	require.Equal(t, 2, j.ExitStatus)

	j, _ = reg.WaitSettled(slow)
	require.Equal(t, 1, j.ExitStatus)

	require.Len(t, reg.Sweep(), 2)
	require.Empty(t, reg.List())
}

func TestReaperMarksUnknownChildCompleted(t *testing.T) {
	reg, r := startReaper(t)
	// pid 1 is never our child
	reg.Register(1, "init")
	r.Kick()

	j, ok := reg.WaitSettled(1)
	require.True(t, ok)
	require.Equal(t, Completed, j.State)
	require.Equal(t, -1, j.ExitStatus)
}

func TestReaperStartTwice(t *testing.T) {
	_, r := startReaper(t)
	require.ErrorIs(t, r.Start(), ErrReaperRunning)
}
