package qemu

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/cochaviz/guestctl/internal/build"
)

// InstallSession is a single installer boot of the emulator.
type InstallSession struct {
	Binary string
	Args   []string
	// Dir is the working directory of the emulator process.
	Dir string
}

// InstallRunner boots an installer and blocks until the emulator exits.
type InstallRunner interface {
	Install(ctx context.Context, session InstallSession) error
}

var _ InstallRunner = (*InteractiveInstaller)(nil)

// InteractiveInstaller runs the emulator attached to the user's terminal.
type InteractiveInstaller struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
	Logger *slog.Logger
}

// Install runs the session. Cancelling ctx interrupts the emulator and
// kills it if it has not exited after a grace period.
func (i *InteractiveInstaller) Install(ctx context.Context, session InstallSession) error {
	if session.Binary == "" {
		return &build.BuildError{Message: "no emulator binary provided"}
	}

	i.logger().Info("starting installer",
		"command", session.Binary+" "+strings.Join(session.Args, " "),
	)

	cmd := exec.CommandContext(ctx, session.Binary, session.Args...)
	cmd.Dir = session.Dir
	cmd.Stdin, cmd.Stdout, cmd.Stderr = os.Stdin, os.Stdout, os.Stderr
	if i.Stdin != nil {
		cmd.Stdin = i.Stdin
	}
	if i.Stdout != nil {
		cmd.Stdout = i.Stdout
	}
	if i.Stderr != nil {
		cmd.Stderr = i.Stderr
	}
	cmd.Cancel = func() error {
		return cmd.Process.Signal(os.Interrupt)
	}
	cmd.WaitDelay = 10 * time.Second

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &build.BuildError{Message: fmt.Sprintf("%s exited: %v", session.Binary, err)}
	}
	return nil
}

func (i *InteractiveInstaller) logger() *slog.Logger {
	if i != nil && i.Logger != nil {
		return i.Logger
	}
	return slog.Default()
}
