package repl

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"

	"jobshell/internal/builtins"
	"jobshell/internal/config"
	"jobshell/internal/executor"
	"jobshell/internal/jobs"
	"jobshell/internal/parser"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// Shell is the read-eval loop around the job-control core.
type Shell struct {
	cfg      config.Config
	jobs     *jobs.Registry
	exec     *executor.Executor
	builtins *builtins.Builtins
	prompt   *Prompt
	log      *zap.Logger

	out    io.Writer
	errOut io.Writer

	// Interactive enables the prompt and the fresh line after SIGINT.
	Interactive bool
}

func New(cfg config.Config, reg *jobs.Registry, exec *executor.Executor, b *builtins.Builtins, log *zap.Logger) *Shell {
	if log == nil {
		log = zap.NewNop()
	}
	return &Shell{
		cfg:      cfg,
		jobs:     reg,
		exec:     exec,
		builtins: b,
		prompt:   NewPrompt(cfg.Prompt),
		log:      log,
		out:      exec.Stdout,
		errOut:   exec.Stderr,
	}
}

// Run reads lines from in until end of input. It returns the status the
// shell process should exit with.
func (s *Shell) Run(in io.Reader) int {
	stop := s.ForwardSignals()
	defer stop()

	reader := bufio.NewReader(in)

	for {
		s.Reap()
		if s.Interactive {
			fmt.Fprint(s.out, s.prompt.Render())
		}

		input, err := reader.ReadString('\n')
		if input != "" {
			s.Eval(input)
		}
		if err != nil {
			if s.Interactive {
				fmt.Fprintln(s.out)
			}
			return 0
		}
	}
}

// Reap prints pending background notices and sweeps completed jobs.
func (s *Shell) Reap() {
	for _, j := range s.jobs.Notices() {
		if s.cfg.Jobs.Notify {
			fmt.Fprintf(s.out, "[%d] %s  %s\n", j.Pid, j.Describe(), j.Command)
		}
	}
	for _, j := range s.jobs.Sweep() {
		s.log.Debug("swept", zap.Int("pid", j.Pid), zap.Int("status", j.ExitStatus))
	}
}

// Eval runs one input line and returns its status.
func (s *Shell) Eval(line string) int {
	p, err := parser.ParseLine(line)
	if err != nil {
		fmt.Fprintln(s.errOut, "jobshell:", err)
		return 2
	}
	if p == nil {
		return 0
	}

	if len(p.Stages) == 1 && builtins.IsBuiltin(p.Name()) {
		return s.runBuiltin(p)
	}

	res, err := s.exec.Run(p)
	if err != nil {
		fmt.Fprintln(s.errOut, err)
	}
	return res.Status
}

func (s *Shell) runBuiltin(p *parser.Pipeline) int {
	if p.Redirect != "" {
		f, err := os.OpenFile(p.Redirect, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0666)
		if err != nil {
			fmt.Fprintln(s.errOut, "output redirect:", err)
			return 1
		}
		defer f.Close()

		prev := s.builtins.Out
		s.builtins.Out = f
		defer func() { s.builtins.Out = prev }()
	}

	_, err := s.builtins.Handle(p.Stages[0].Args)
	if err != nil {
		fmt.Fprintln(s.errOut, err)
		if errors.Is(err, builtins.ErrMissingArgument) || errors.Is(err, builtins.ErrInvalidPid) {
			return 2
		}
		return 1
	}
	return 0
}

// ForwardSignals keeps SIGINT and SIGTSTP from killing or stopping the
// shell. While a job runs in the foreground they are passed on to its
// process group. At an interactive prompt SIGINT starts a fresh line. The
// returned func restores default handling.
func (s *Shell) ForwardSignals() func() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, unix.SIGINT, unix.SIGTSTP)
	done := make(chan struct{})

	go func() {
		for {
			select {
			case <-done:
				return
			case sig := <-sigChan:
				if s.exec.SendSignalToFg(sig.(unix.Signal)) {
					continue
				}
				if sig == unix.SIGINT && s.Interactive {
					fmt.Fprint(s.out, "\n"+s.prompt.Render())
				}
			}
		}
	}()

	return func() {
		signal.Stop(sigChan)
		close(done)
	}
}
