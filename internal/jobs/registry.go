package jobs

import (
	"slices"
	"sync"
)

// Registry owns every job record. All reads and writes of job state go
// through mu, which the reaper also holds for the whole of a reaping pass.
type Registry struct {
	mu      sync.Mutex
	settled *sync.Cond

	jobs    map[int]*Job
	order   []int // pids in registration order
	notices []Job
}

func NewRegistry() *Registry {
	r := &Registry{jobs: make(map[int]*Job)}
	r.settled = sync.NewCond(&r.mu)
	return r
}

// Register inserts a Running job for pid. An existing record for the same pid
// (a recycled pid whose old record was never swept) is replaced.
func (r *Registry) Register(pid int, command string, opts ...Option) Job {
	j := &Job{Pid: pid, Pgid: pid, Command: command, State: Running}
	for _, opt := range opts {
		opt(j)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.jobs[pid]; ok {
		r.order = slices.DeleteFunc(r.order, func(p int) bool { return p == pid })
	}
	r.jobs[pid] = j
	r.order = append(r.order, pid)
	return *j
}

func (r *Registry) Find(pid int) (Job, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	j, ok := r.jobs[pid]
	if !ok {
		return Job{}, false
	}
	return *j, true
}

// List returns every job, most recently registered first.
func (r *Registry) List() []Job {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Job, 0, len(r.order))
	for i := len(r.order) - 1; i >= 0; i-- {
		out = append(out, *r.jobs[r.order[i]])
	}
	return out
}

// Sweep removes every Completed job and returns the removed records.
// It must only be called from the control loop.
func (r *Registry) Sweep() []Job {
	r.mu.Lock()
	defer r.mu.Unlock()

	var removed []Job
	kept := r.order[:0]
	for _, pid := range r.order {
		j := r.jobs[pid]
		if j.State == Completed {
			removed = append(removed, *j)
			delete(r.jobs, pid)
			continue
		}
		kept = append(kept, pid)
	}
	r.order = kept
	return removed
}

// Resume marks every Stopped job in the process group as Running. The caller
// is responsible for having sent SIGCONT to the group.
func (r *Registry) Resume(pgid int) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, j := range r.jobs {
		if j.Pgid == pgid && j.State == Stopped {
			j.State = Running
			n++
		}
	}
	return n
}

// Adopt clears Background for every job in the process group, once fg has
// taken the group over. It returns how many changed.
func (r *Registry) Adopt(pgid int) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, j := range r.jobs {
		if j.Pgid == pgid && j.Background {
			j.Background = false
			n++
		}
	}
	return n
}

// WaitSettled blocks until the job for pid is Stopped or Completed and
// returns it. It reports false if the pid is not tracked.
func (r *Registry) WaitSettled(pid int) (Job, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for {
		j, ok := r.jobs[pid]
		if !ok {
			return Job{}, false
		}
		if j.State != Running {
			return *j, true
		}
		r.settled.Wait()
	}
}

// Notices drains the state changes posted by the reaper: stops of any
// pipeline and completions of background ones.
func (r *Registry) Notices() []Job {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := r.notices
	r.notices = nil
	return out
}

// update applies a reaped status to a job. Callers hold mu.
func (r *Registry) update(j *Job, st State, status int, signaled bool) {
	j.State = st
	if st == Completed {
		j.ExitStatus = status
		j.Signaled = signaled
	}
	if j.Interior {
		return
	}
	if st == Stopped || (st == Completed && j.Background) {
		r.notices = append(r.notices, *j)
	}
}
