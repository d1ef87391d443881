//go:build windows

package terminal

import (
	"context"
	"os"
	"syscall"

	"github.com/ActiveState/termtest/conpty"
)

func defaultShell() string {
	if comspec := os.Getenv("COMSPEC"); comspec != "" {
		return comspec
	}
	return "powershell.exe"
}

func startPty(ctx context.Context, cfg SessionConfig) (ptyHandle, childProcess, error) {
	cpty, err := conpty.New(int16(cfg.Cols), int16(cfg.Rows))
	if err != nil {
		return nil, nil, err
	}
	argv := append([]string{cfg.Shell}, cfg.Args...)
	pid, _, err := cpty.Spawn(cfg.Shell, argv, &syscall.ProcAttr{
		Dir: cfg.Dir,
		Env: cfg.Env,
	})
	if err != nil {
		_ = cpty.Close()
		return nil, nil, err
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		_ = cpty.Close()
		return nil, nil, err
	}
	go func() {
		<-ctx.Done()
		_ = proc.Kill()
	}()
	return &windowsPty{cpty: cpty}, &windowsProcess{proc: proc}, nil
}

type windowsPty struct {
	cpty *conpty.ConPty
}

func (p *windowsPty) Read(b []byte) (int, error) {
	return p.cpty.OutPipe().Read(b)
}

func (p *windowsPty) Write(b []byte) (int, error) {
	return p.cpty.InPipe().Write(b)
}

func (p *windowsPty) Close() error {
	return p.cpty.Close()
}

func (p *windowsPty) resize(rows, cols uint16) error {
	return p.cpty.Resize(cols, rows)
}

type windowsProcess struct {
	proc *os.Process
}

func (p *windowsProcess) Wait() int {
	state, err := p.proc.Wait()
	if err != nil {
		return -1
	}
	return state.ExitCode()
}

func (p *windowsProcess) Kill() error {
	return p.proc.Kill()
}

func (p *windowsProcess) Pid() int {
	return p.proc.Pid
}
