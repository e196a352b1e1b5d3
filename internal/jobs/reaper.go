package jobs

import (
	"errors"
	"os"
	"os/signal"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// Reaper collects the status of registered children whenever SIGCHLD arrives.
// It only touches job records under the registry mutex and never writes to
// the shell's output streams.
type Reaper struct {
	reg *Registry
	log *zap.Logger

	sigs chan os.Signal
	kick chan struct{}

	mu      sync.Mutex
	done    chan struct{}
	stopped chan struct{}
}

func NewReaper(reg *Registry, log *zap.Logger) *Reaper {
	if log == nil {
		log = zap.NewNop()
	}
	return &Reaper{
		reg:  reg,
		log:  log,
		sigs: make(chan os.Signal, 1),
		kick: make(chan struct{}, 1),
	}
}

// Start installs SIGCHLD delivery and starts the reaping goroutine.
func (r *Reaper) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.done != nil {
		return ErrReaperRunning
	}
	r.done = make(chan struct{})
	r.stopped = make(chan struct{})

	signal.Notify(r.sigs, unix.SIGCHLD)
	go r.loop(r.done, r.stopped)
	return nil
}

// Stop uninstalls SIGCHLD delivery and waits for the goroutine to exit.
func (r *Reaper) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.done == nil {
		return
	}
	signal.Stop(r.sigs)
	close(r.done)
	<-r.stopped
	r.done = nil
}

// Kick requests a reaping pass without waiting for a signal. A child can exit
// before it is registered; its SIGCHLD then finds nothing to reap, so callers
// kick after every registration.
func (r *Reaper) Kick() {
	select {
	case r.kick <- struct{}{}:
	default:
	}
}

func (r *Reaper) loop(done, stopped chan struct{}) {
	defer close(stopped)
	for {
		select {
		case <-done:
			return
		case <-r.sigs:
		case <-r.kick:
		}
		r.Reap()
	}
}

// Reap runs one non-blocking pass over every Running or Stopped job.
func (r *Reaper) Reap() {
	r.reg.mu.Lock()
	defer r.reg.mu.Unlock()

	changed := false
	for _, pid := range r.reg.order {
		j := r.reg.jobs[pid]
		if j.State == Completed {
			continue
		}

		var ws unix.WaitStatus
		wpid, err := unix.Wait4(pid, &ws, unix.WNOHANG|unix.WUNTRACED|unix.WCONTINUED, nil)
		switch {
		case errors.Is(err, unix.ECHILD):
			r.log.Debug("child vanished", zap.Int("pid", pid))
			r.reg.update(j, Completed, -1, false)
			changed = true
		case err != nil:
			r.log.Warn("wait4 failed", zap.Int("pid", pid), zap.Error(err))
		case wpid != pid:
			// still running
		case ws.Exited():
			r.reg.update(j, Completed, ws.ExitStatus(), false)
			changed = true
		case ws.Signaled():
			r.reg.update(j, Completed, int(ws.Signal()), true)
			changed = true
		case ws.Stopped():
			r.reg.update(j, Stopped, 0, false)
			changed = true
		case ws.Continued():
			r.reg.update(j, Running, 0, false)
		}
		if wpid == pid {
			r.log.Debug("reaped", zap.Int("pid", pid), zap.Stringer("state", j.State))
		}
	}
	if changed {
		r.reg.settled.Broadcast()
	}
}
