package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/codelaboratoryltd/vterm"
)

var (
	flagRows  int
	flagCols  int
	flagShell string
	flagDebug bool
	flagDump  bool
)

func main() {
	root := &cobra.Command{
		Use:   "vterm [flags] [-- command [args...]]",
		Short: "Headless terminal emulator driving a command on a pseudo-terminal",
		Long: "vterm runs a command (by default the login shell) on a pseudo-terminal,\n" +
			"feeds its output through a VT parser into an in-memory screen and mirrors\n" +
			"the raw stream to stdout.",
		Args: cobra.ArbitraryArgs,
		RunE: run,
	}
	root.Flags().IntVar(&flagRows, "rows", 24, "terminal height in rows")
	root.Flags().IntVar(&flagCols, "cols", 80, "terminal width in columns")
	root.Flags().StringVar(&flagShell, "shell", "", "shell to run when no command is given")
	root.Flags().BoolVar(&flagDebug, "debug", false, "log unrecognized sequences")
	root.Flags().BoolVar(&flagDump, "dump", true, "print the final screen contents on exit")

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	logger := log.NewWithOptions(os.Stderr, log.Options{Prefix: "vterm"})
	if flagDebug {
		logger.SetLevel(log.DebugLevel)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	screen := terminal.New(flagCols, flagRows, terminal.WithLogger(logger))
	mgr := terminal.NewManager(terminal.WithManagerLogger(logger))
	defer mgr.Close()

	cfg := terminal.SessionConfig{
		Shell: flagShell,
		Rows:  uint16(flagRows),
		Cols:  uint16(flagCols),
	}
	if len(args) > 0 {
		cfg.Shell = args[0]
		cfg.Args = args[1:]
	}

	sess, err := mgr.CreateSession(ctx, cfg)
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}

	disp := terminal.NewDispatcher(screen, terminal.WithReplyWriter(sessionInput{sess}))

	out, unsubscribe := sess.Subscribe()
	defer unsubscribe()

	go forwardStdin(sess)

	for {
		select {
		case <-ctx.Done():
			return nil
		case chunk, ok := <-out:
			if !ok {
				if flagDump {
					fmt.Println(screen.Text())
				}
				if code, exited := sess.ExitCode(); exited && code > 0 {
					os.Exit(code)
				}
				return nil
			}
			_, _ = disp.Write(chunk)
			_, _ = os.Stdout.Write(chunk)
		}
	}
}

func forwardStdin(sess *terminal.Session) {
	buf := make([]byte, 4096)
	for {
		n, err := os.Stdin.Read(buf)
		if n > 0 {
			if werr := sess.WriteInput(buf[:n]); werr != nil {
				return
			}
		}
		if err != nil {
			return
		}
	}
}

// sessionInput adapts a session's input queue to io.Writer so the
// dispatcher can deliver terminal replies to the child.
type sessionInput struct {
	s *terminal.Session
}

func (w sessionInput) Write(p []byte) (int, error) {
	if err := w.s.WriteInput(p); err != nil {
		return 0, err
	}
	return len(p), nil
}
