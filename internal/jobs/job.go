package jobs

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	// ErrNoSuchJob is returned when a pid is not tracked by the registry.
	ErrNoSuchJob = errors.New("no such job")
	// ErrReaperRunning is returned by Start on a reaper that is already running.
	ErrReaperRunning = errors.New("reaper already running")
)

// State is the lifecycle state of a job.
type State int

const (
	Running State = iota
	Stopped
	Completed
)

// String returns the label used by the jobs builtin.
func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case Stopped:
		return "stopped"
	case Completed:
		return "completed"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// Job is one launched process. Values handed out by the Registry are copies.
type Job struct {
	Pid        int
	Pgid       int
	PipelineID uuid.UUID
	Command    string
	State      State
	// ExitStatus is the exit code, or the signal number when Signaled.
	// Only meaningful once State is Completed.
	ExitStatus int
	Signaled   bool
	Background bool
	// Interior marks a stage other than the last of its pipeline.
	Interior bool
}

// Option configures a job at registration.
type Option func(*Job)

// WithGroup records the process group the job belongs to.
func WithGroup(pgid int) Option {
	return func(j *Job) { j.Pgid = pgid }
}

// WithPipeline links the job to the other stages of its pipeline.
func WithPipeline(id uuid.UUID) Option {
	return func(j *Job) { j.PipelineID = id }
}

// InBackground marks the job as launched with &.
func InBackground() Option {
	return func(j *Job) { j.Background = true }
}

// Interior marks the job as a non-terminal pipeline stage. Interior stages
// post no notices of their own.
func Interior() Option {
	return func(j *Job) { j.Interior = true }
}

// Describe renders the short status used by completion notices.
func (j Job) Describe() string {
	switch {
	case j.State == Stopped:
		return "stopped"
	case j.State != Completed:
		return j.State.String()
	case j.Signaled:
		return fmt.Sprintf("killed by signal %d", j.ExitStatus)
	case j.ExitStatus == 0:
		return "done"
	default:
		return fmt.Sprintf("exit %d", j.ExitStatus)
	}
}
