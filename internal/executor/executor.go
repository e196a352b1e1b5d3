package executor

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"

	"jobshell/internal/jobs"
	"jobshell/internal/parser"
	"jobshell/internal/terminal"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// StatusNotFound is the status of a pipeline whose command cannot be resolved.
const StatusNotFound = 127

// ErrCommandNotFound is returned when a stage's program is not on PATH.
var ErrCommandNotFound = errors.New("command not found")

// Result describes how a pipeline run returned control to the shell.
type Result struct {
	// Pids of every launched stage, in pipeline order.
	Pids []int
	// Job is the terminal stage as last observed. For background pipelines
	// it is the freshly registered Running record.
	Job    jobs.Job
	Status int
}

// Executor launches pipelines and waits for foreground jobs.
type Executor struct {
	Stdin  *os.File
	Stdout *os.File
	Stderr *os.File

	jobs   *jobs.Registry
	reaper *jobs.Reaper
	term   *terminal.Controller
	log    *zap.Logger

	fgMutex       sync.RWMutex
	currentFgPgid int
}

func New(reg *jobs.Registry, reaper *jobs.Reaper, term *terminal.Controller, log *zap.Logger) *Executor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Executor{
		Stdin:         os.Stdin,
		Stdout:        os.Stdout,
		Stderr:        os.Stderr,
		jobs:          reg,
		reaper:        reaper,
		term:          term,
		log:           log,
		currentFgPgid: -1,
	}
}

// Run launches every stage of p. Foreground pipelines block until the
// terminal stage completes or stops; background pipelines return at once.
func (e *Executor) Run(p *parser.Pipeline) (Result, error) {
	paths := make([]string, len(p.Stages))
	for i, st := range p.Stages {
		path, err := exec.LookPath(st.Args[0])
		if err != nil {
			return Result{Status: StatusNotFound}, fmt.Errorf("%s: %w", st.Args[0], ErrCommandNotFound)
		}
		paths[i] = path
	}

	var redirect *os.File
	if p.Redirect != "" {
		f, err := os.OpenFile(p.Redirect, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0666)
		if err != nil {
			return Result{Status: 1}, fmt.Errorf("output redirect: %w", err)
		}
		defer f.Close()
		redirect = f
	}

	// N stages, N-1 pipes. The parent's copies are closed once every child
	// has its own.
	readers := make([]*os.File, len(p.Stages)-1)
	writers := make([]*os.File, len(p.Stages)-1)
	defer func() {
		for i := range readers {
			closeFile(readers[i])
			closeFile(writers[i])
		}
	}()
	for i := range readers {
		r, w, err := os.Pipe()
		if err != nil {
			return Result{Status: 1}, fmt.Errorf("pipe: %w", err)
		}
		readers[i], writers[i] = r, w
	}

	pids, err := e.start(p, paths, readers, writers, redirect)

	pgid := 0
	if len(pids) > 0 {
		pgid = pids[0]
	}
	id := uuid.New()
	for i, pid := range pids {
		opts := []jobs.Option{jobs.WithGroup(pgid), jobs.WithPipeline(id)}
		if p.Background {
			opts = append(opts, jobs.InBackground())
		}
		if i < len(p.Stages)-1 {
			opts = append(opts, jobs.Interior())
		}
		e.jobs.Register(pid, p.Text, opts...)
	}
	e.reaper.Kick()

	if err != nil {
		if pgid > 0 {
			_ = unix.Kill(-pgid, unix.SIGKILL)
			if !p.Background {
				e.term.Reclaim()
			}
		}
		return Result{Pids: pids, Status: 1}, err
	}

	last := pids[len(pids)-1]
	e.log.Debug("pipeline started",
		zap.Stringer("pipeline", id), zap.Ints("pids", pids), zap.Bool("background", p.Background))

	if p.Background {
		fmt.Fprintf(e.Stdout, "[bg] pid=%d\n", last)
		j, _ := e.jobs.Find(last)
		return Result{Pids: pids, Job: j}, nil
	}

	j, err := e.Foreground(pgid, last)
	return Result{Pids: pids, Job: j, Status: exitStatus(j)}, err
}

// start launches the stages in order. It returns the pids that did start,
// even on error.
func (e *Executor) start(p *parser.Pipeline, paths []string, readers, writers []*os.File, redirect *os.File) ([]int, error) {
	var pids []int
	for i, st := range p.Stages {
		cmd := exec.Command(paths[i], st.Args[1:]...)
		cmd.Args[0] = st.Args[0]

		pgid := 0
		if len(pids) > 0 {
			pgid = pids[0]
		}
		cmd.SysProcAttr = &syscall.SysProcAttr{
			Setpgid: true,
			Pgid:    pgid,
		}
		if i == 0 && e.term.Interactive() && !p.Background {
			// The leader takes the terminal before exec, so a stage that
			// reads it at once is not stopped by SIGTTIN while the rest of
			// the pipeline is still starting.
			cmd.SysProcAttr.Foreground = true
			cmd.SysProcAttr.Ctty = e.term.Fd()
		}

		// ----- stdin -----
		if i == 0 {
			cmd.Stdin = e.Stdin
		} else {
			cmd.Stdin = readers[i-1]
		}

		// ----- stdout -----
		switch {
		case i < len(p.Stages)-1:
			cmd.Stdout = writers[i]
		case redirect != nil:
			cmd.Stdout = redirect
		default:
			cmd.Stdout = e.Stdout
		}

		cmd.Stderr = e.Stderr

		if err := cmd.Start(); err != nil {
			return pids, fmt.Errorf("start %s: %w", st.Args[0], err)
		}
		pids = append(pids, cmd.Process.Pid)

		// The reaper owns waiting on this pid from here on.
		_ = cmd.Process.Release()
	}
	return pids, nil
}

// Foreground gives the terminal to pgid and blocks until the job for pid is
// Completed or Stopped.
func (e *Executor) Foreground(pgid, pid int) (jobs.Job, error) {
	e.setCurrentFgPgid(pgid)
	defer e.setCurrentFgPgid(-1)

	var (
		j  jobs.Job
		ok bool
	)
	err := e.term.Foreground(pgid, func() {
		j, ok = e.jobs.WaitSettled(pid)
	})
	if !ok {
		return j, fmt.Errorf("%d: %w", pid, jobs.ErrNoSuchJob)
	}
	return j, err
}

func (e *Executor) setCurrentFgPgid(pgid int) {
	e.fgMutex.Lock()
	defer e.fgMutex.Unlock()
	e.currentFgPgid = pgid
}

// GetCurrentFgPgid returns the foreground job's group, or -1 when the shell
// is at the prompt.
func (e *Executor) GetCurrentFgPgid() int {
	e.fgMutex.RLock()
	defer e.fgMutex.RUnlock()
	return e.currentFgPgid
}

// SendSignalToFg forwards sig to the foreground job's group, if any.
func (e *Executor) SendSignalToFg(sig unix.Signal) bool {
	pgid := e.GetCurrentFgPgid()
	if pgid <= 0 {
		return false
	}
	_ = unix.Kill(-pgid, sig)
	return true
}

func exitStatus(j jobs.Job) int {
	switch {
	case j.State == jobs.Stopped:
		return 128 + int(unix.SIGTSTP)
	case j.Signaled:
		return 128 + j.ExitStatus
	default:
		return j.ExitStatus
	}
}

func closeFile(f *os.File) {
	if f != nil {
		_ = f.Close()
	}
}
