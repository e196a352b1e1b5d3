package main

import (
	"fmt"
	"os"

	"jobshell/internal/builtins"
	"jobshell/internal/config"
	"jobshell/internal/executor"
	"jobshell/internal/jobs"
	"jobshell/internal/logging"
	"jobshell/internal/repl"
	"jobshell/internal/terminal"

	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

func main() {
	flags := pflag.NewFlagSet("jobshell", pflag.ExitOnError)
	flags.String("config", "", "config file (default $HOME/.config/jobshell/config.toml)")
	flags.String("log-level", "warn", "diagnostic log level (debug, info, warn, error)")
	command := flags.StringP("command", "c", "", "run one command line and exit with its status")
	_ = flags.Parse(os.Args[1:])

	cfg, err := config.Load(flags)
	if err != nil {
		fmt.Fprintln(os.Stderr, "jobshell:", err)
		os.Exit(1)
	}

	log, err := logging.New(cfg.Log.Level)
	if err != nil {
		fmt.Fprintln(os.Stderr, "jobshell:", err)
		os.Exit(1)
	}

	reg := jobs.NewRegistry()
	reaper := jobs.NewReaper(reg, log.Named("reaper"))
	if err := reaper.Start(); err != nil {
		// job control cannot work without reaping
		fmt.Fprintln(os.Stderr, "jobshell: start reaper:", err)
		os.Exit(1)
	}

	term := terminal.New(os.Stdin, log.Named("terminal"))
	exec := executor.New(reg, reaper, term, log.Named("executor"))
	b := builtins.New(reg, exec, os.Stdout)
	sh := repl.New(cfg, reg, exec, b, log)

	if flags.Changed("command") {
		stop := sh.ForwardSignals()
		status := sh.Eval(*command)
		stop()
		reaper.Stop()
		_ = log.Sync()
		os.Exit(status)
	}

	sh.Interactive = term.Interactive()
	if sh.Interactive {
		// Started as a background job: foreground handoffs will fail.
		if owner, err := term.Owner(); err == nil && owner != unix.Getpgrp() {
			log.Warn("shell does not own the terminal", zap.Int("owner", owner), zap.Int("pgrp", unix.Getpgrp()))
		}
	}
	status := sh.Run(os.Stdin)
	reaper.Stop()
	_ = log.Sync()
	os.Exit(status)
}
