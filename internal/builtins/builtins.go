package builtins

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"jobshell/internal/jobs"

	"golang.org/x/sys/unix"
)

var (
	ErrMissingArgument = errors.New("missing argument")
	ErrInvalidPid      = errors.New("invalid pid")
)

// Foregrounder waits for a job while it holds the terminal.
type Foregrounder interface {
	Foreground(pgid, pid int) (jobs.Job, error)
}

// Builtins runs the commands that must execute inside the shell process.
type Builtins struct {
	Jobs *jobs.Registry
	Fg   Foregrounder
	Out  io.Writer
	// Exit terminates the shell. Defaults to os.Exit.
	Exit func(code int)
}

func New(reg *jobs.Registry, fg Foregrounder, out io.Writer) *Builtins {
	return &Builtins{Jobs: reg, Fg: fg, Out: out, Exit: os.Exit}
}

// IsBuiltin reports whether name is handled by the shell itself.
func IsBuiltin(name string) bool {
	switch name {
	case "cd", "pwd", "jobs", "fg", "bg", "exit":
		return true
	}
	return false
}

// Handle runs tokens if they name a builtin. handled is false when the first
// word is not a builtin.
func (b *Builtins) Handle(tokens []string) (handled bool, err error) {
	if len(tokens) == 0 {
		return true, nil
	}

	switch tokens[0] {
	case "cd":
		return true, cd(tokens)
	case "pwd":
		return true, b.pwd()
	case "jobs":
		return true, b.jobs()
	case "fg":
		return true, b.fg(tokens)
	case "bg":
		return true, b.bg(tokens)
	case "exit":
		b.Exit(0)
		return true, nil
	default:
		return false, nil
	}
}

func cd(tokens []string) error {
	if len(tokens) < 2 {
		return fmt.Errorf("cd: %w", ErrMissingArgument)
	}
	if err := os.Chdir(tokens[1]); err != nil {
		return fmt.Errorf("cd: %w", err)
	}
	return nil
}

func (b *Builtins) pwd() error {
	dir, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("pwd: %w", err)
	}
	fmt.Fprintln(b.Out, dir)
	return nil
}

func (b *Builtins) jobs() error {
	for _, job := range b.Jobs.List() {
		fmt.Fprintf(b.Out, "[%d] %-9s %s\n", job.Pid, job.State, job.Command)
	}
	return nil
}

func (b *Builtins) fg(tokens []string) error {
	job, err := b.lookup(tokens)
	if err != nil {
		return err
	}
	b.Jobs.Adopt(job.Pgid)
	if err := b.resume(job); err != nil {
		return fmt.Errorf("fg: %w", err)
	}
	if _, err := b.Fg.Foreground(job.Pgid, job.Pid); err != nil {
		return fmt.Errorf("fg: %w", err)
	}
	return nil
}

func (b *Builtins) bg(tokens []string) error {
	job, err := b.lookup(tokens)
	if err != nil {
		return err
	}
	if err := b.resume(job); err != nil {
		return fmt.Errorf("bg: %w", err)
	}
	return nil
}

// resume continues a stopped job's whole process group. The registry is
// updated before the signal so a stop that follows the SIGCONT cannot be
// overwritten.
func (b *Builtins) resume(job jobs.Job) error {
	if job.State != jobs.Stopped {
		return nil
	}
	b.Jobs.Resume(job.Pgid)
	return unix.Kill(-job.Pgid, unix.SIGCONT)
}

func (b *Builtins) lookup(tokens []string) (jobs.Job, error) {
	name := tokens[0]
	if len(tokens) < 2 {
		return jobs.Job{}, fmt.Errorf("%s: %w", name, ErrMissingArgument)
	}
	pid, err := strconv.Atoi(tokens[1])
	if err != nil || pid <= 0 {
		return jobs.Job{}, fmt.Errorf("%s: %s: %w", name, tokens[1], ErrInvalidPid)
	}
	job, ok := b.Jobs.Find(pid)
	if !ok {
		return jobs.Job{}, fmt.Errorf("%s: %d: %w", name, pid, jobs.ErrNoSuchJob)
	}
	return job, nil
}
