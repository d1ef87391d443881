//go:build !windows

package terminal

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/creack/pty"
)

// gracePeriod is how long a cancelled child gets between SIGTERM and the
// forced kill issued by the exec package.
const gracePeriod = 5 * time.Second

func defaultShell() string {
	if sh := os.Getenv("SHELL"); sh != "" {
		return sh
	}
	return "/bin/sh"
}

func startPty(ctx context.Context, cfg SessionConfig) (ptyHandle, childProcess, error) {
	cmd := exec.CommandContext(ctx, cfg.Shell, cfg.Args...)
	cmd.Dir = cfg.Dir
	cmd.Env = cfg.Env
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = gracePeriod

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Rows: cfg.Rows, Cols: cfg.Cols})
	if err != nil {
		return nil, nil, err
	}
	return &unixPty{ptmx}, &unixProcess{cmd: cmd}, nil
}

type unixPty struct {
	*os.File
}

func (p *unixPty) resize(rows, cols uint16) error {
	return pty.Setsize(p.File, &pty.Winsize{Rows: rows, Cols: cols})
}

type unixProcess struct {
	cmd *exec.Cmd
}

func (p *unixProcess) Wait() int {
	err := p.cmd.Wait()
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

func (p *unixProcess) Kill() error {
	return p.cmd.Process.Kill()
}

func (p *unixProcess) Pid() int {
	return p.cmd.Process.Pid
}
