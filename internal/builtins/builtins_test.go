package builtins

import (
	"bytes"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"jobshell/internal/executor"
	"jobshell/internal/jobs"
	"jobshell/internal/parser"
	"jobshell/internal/terminal"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

type harness struct {
	b    *Builtins
	exec *executor.Executor
	reg  *jobs.Registry
	out  *bytes.Buffer
	dir  string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()

	null, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	require.NoError(t, err)
	t.Cleanup(func() { null.Close() })

	reg := jobs.NewRegistry()
	reaper := jobs.NewReaper(reg, nil)
	require.NoError(t, reaper.Start())
	t.Cleanup(reaper.Stop)

	e := executor.New(reg, reaper, terminal.New(null, nil), nil)
	e.Stdin, e.Stdout, e.Stderr = null, null, null

	out := &bytes.Buffer{}
	return &harness{b: New(reg, e, out), exec: e, reg: reg, out: out, dir: dir}
}

// background launches line with & and returns the terminal stage pid.
func (h *harness) background(t *testing.T, line string) int {
	t.Helper()
	p, err := parser.ParseLine(line + " &")
	require.NoError(t, err)
	res, err := h.exec.Run(p)
	require.NoError(t, err)
	t.Cleanup(func() { _ = unix.Kill(-res.Pids[0], unix.SIGKILL) })
	return res.Job.Pid
}

func (h *harness) waitState(t *testing.T, pid int, want jobs.State) {
	t.Helper()
	require.Eventually(t, func() bool {
		j, ok := h.reg.Find(pid)
		return ok && j.State == want
	}, 5*time.Second, 10*time.Millisecond)
}

func TestIsBuiltin(t *testing.T) {
	for _, name := range []string{"cd", "pwd", "jobs", "fg", "bg", "exit"} {
		require.True(t, IsBuiltin(name), name)
	}
	require.False(t, IsBuiltin("ls"))
	require.False(t, IsBuiltin("CD"))
}

func TestHandleIgnoresExternalCommands(t *testing.T) {
	h := newHarness(t)
	handled, err := h.b.Handle([]string{"ls", "-l"})
	require.NoError(t, err)
	require.False(t, handled)
}

func TestCd(t *testing.T) {
	h := newHarness(t)
	t.Chdir(h.dir)

	target := filepath.Join(h.dir, "sub")
	require.NoError(t, os.Mkdir(target, 0o755))

	handled, err := h.b.Handle([]string{"cd", target})
	require.True(t, handled)
	require.NoError(t, err)

	wd, err := os.Getwd()
	require.NoError(t, err)
	require.Equal(t, target, wd)

	_, err = h.b.Handle([]string{"pwd"})
	require.NoError(t, err)
	require.Equal(t, target+"\n", h.out.String())
}

func TestCdErrors(t *testing.T) {
	h := newHarness(t)

	_, err := h.b.Handle([]string{"cd"})
	require.ErrorIs(t, err, ErrMissingArgument)

	_, err = h.b.Handle([]string{"cd", filepath.Join(h.dir, "nope")})
	require.ErrorIs(t, err, fs.ErrNotExist)
}

func TestExit(t *testing.T) {
	h := newHarness(t)
	code := -1
	h.b.Exit = func(c int) { code = c }

	handled, err := h.b.Handle([]string{"exit", "3"})
	require.True(t, handled)
	require.NoError(t, err)
	require.Zero(t, code)
}

func TestJobsListsBackgroundJobAsRunning(t *testing.T) {
	h := newHarness(t)
	pid := h.background(t, "sleep 5")

	_, err := h.b.Handle([]string{"jobs"})
	require.NoError(t, err)
	require.Equal(t, "["+strconv.Itoa(pid)+"] running   sleep 5 &\n", h.out.String())
}

func TestFgBgArgumentErrors(t *testing.T) {
	h := newHarness(t)
	h.background(t, "sleep 5")
	before := h.reg.List()

	for _, name := range []string{"fg", "bg"} {
		_, err := h.b.Handle([]string{name})
		require.ErrorIs(t, err, ErrMissingArgument)

		_, err = h.b.Handle([]string{name, "abc"})
		require.ErrorIs(t, err, ErrInvalidPid)

		_, err = h.b.Handle([]string{name, "999999"})
		require.ErrorIs(t, err, jobs.ErrNoSuchJob)
		require.Contains(t, err.Error(), "999999")
	}

	require.Equal(t, before, h.reg.List())
}

func TestBgOnRunningJobIsNoop(t *testing.T) {
	h := newHarness(t)
	pid := h.background(t, "sleep 5")

	_, err := h.b.Handle([]string{"bg", strconv.Itoa(pid)})
	require.NoError(t, err)

	j, ok := h.reg.Find(pid)
	require.True(t, ok)
	require.Equal(t, jobs.Running, j.State)
}

func TestBgResumesStoppedJob(t *testing.T) {
	h := newHarness(t)
	pid := h.background(t, "sleep 30")

	require.NoError(t, unix.Kill(pid, unix.SIGSTOP))
	h.waitState(t, pid, jobs.Stopped)

	_, err := h.b.Handle([]string{"bg", strconv.Itoa(pid)})
	require.NoError(t, err)
	h.waitState(t, pid, jobs.Running)

	// still alive and running after the resume
	time.Sleep(50 * time.Millisecond)
	j, _ := h.reg.Find(pid)
	require.Equal(t, jobs.Running, j.State)
}

func TestFgResumesStoppedJobToCompletion(t *testing.T) {
	h := newHarness(t)
	script := filepath.Join(h.dir, "stop.sh")
	require.NoError(t, os.WriteFile(script, []byte("kill -STOP $$\nexit 7\n"), 0o644))

	pid := h.background(t, "sh "+script)
	h.waitState(t, pid, jobs.Stopped)

	_, err := h.b.Handle([]string{"fg", strconv.Itoa(pid)})
	require.NoError(t, err)

	j, ok := h.reg.Find(pid)
	require.True(t, ok)
	require.Equal(t, jobs.Completed, j.State)
	require.Equal(t, 7, j.ExitStatus)
	require.False(t, j.Background)

	// Only the stop is reported; the completion happened in the foreground.
	notes := h.reg.Notices()
	require.Len(t, notes, 1)
	require.Equal(t, "stopped", notes[0].Describe())
}

func TestFgOnRunningBackgroundPipeline(t *testing.T) {
	h := newHarness(t)
	pid := h.background(t, "sleep 0.2 | cat")

	_, err := h.b.Handle([]string{"fg", strconv.Itoa(pid)})
	require.NoError(t, err)

	j, _ := h.reg.Find(pid)
	require.Equal(t, jobs.Completed, j.State)
	require.Empty(t, h.reg.Notices())
}

func TestFgOnStoppedJobThatStopsAgain(t *testing.T) {
	h := newHarness(t)
	script := filepath.Join(h.dir, "stop2.sh")
	require.NoError(t, os.WriteFile(script, []byte("kill -STOP $$\nkill -STOP $$\n"), 0o644))

	pid := h.background(t, "sh "+script)
	h.waitState(t, pid, jobs.Stopped)

	_, err := h.b.Handle([]string{"fg", strconv.Itoa(pid)})
	require.NoError(t, err)

	j, _ := h.reg.Find(pid)
	require.Equal(t, jobs.Stopped, j.State)
	require.Equal(t, -1, h.exec.GetCurrentFgPgid())
}
