package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cochaviz/guestctl/internal/build"
	"github.com/cochaviz/guestctl/internal/logging"
	"github.com/cochaviz/guestctl/internal/setup"
)

const (
	defaultLogLevel = "info"

	exitFailure     = 1
	exitInternal    = 70
	exitInterrupted = 130
)

// app holds the state shared by all commands of one invocation.
type app struct {
	logger   *slog.Logger
	levelVar *slog.LevelVar

	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer

	configPath string
	cacheDir   string
	logLevel   string
	logFormat  string

	settings    setup.Settings
	settingsErr error
}

func main() {
	var levelVar slog.LevelVar
	levelVar.Set(slog.LevelInfo)

	logger := logging.NewCLI(os.Stderr, &levelVar)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := &app{
		logger:   logger,
		levelVar: &levelVar,
		stdin:    os.Stdin,
		stdout:   os.Stdout,
		stderr:   os.Stderr,
	}
	root := newRootCommand(a)
	if err := root.ExecuteContext(ctx); err != nil {
		code := exitCode(err)
		if code == exitInterrupted {
			a.logger.Warn("command interrupted")
		} else {
			a.logger.Error(err.Error())
		}
		os.Exit(code)
	}
}

// exitCode maps a command error onto the process exit status.
func exitCode(err error) int {
	var invariant *build.InvariantError
	switch {
	case err == nil:
		return 0
	case errors.Is(err, context.Canceled):
		return exitInterrupted
	case errors.As(err, &invariant):
		return exitInternal
	default:
		return exitFailure
	}
}

func newRootCommand(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "guestctl",
		Short:         "Provision ready-to-boot QEMU guests for emulated operating systems",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	root.SetIn(a.stdin)
	root.SetOut(a.stdout)
	root.SetErr(a.stderr)

	flags := root.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "Settings file (default: user config dir/guestctl/config.yaml)")
	flags.StringVar(&a.cacheDir, "cache-dir", "", "Artifact cache directory (default: user cache dir/guestctl)")
	flags.StringVar(&a.logLevel, "log-level", defaultLogLevel, "Set log verbosity (debug, info, warn, error)")
	flags.StringVar(&a.logFormat, "log-format", "text", "Log output format (text, json)")

	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "help" {
			return nil
		}
		return a.configure()
	}

	root.AddCommand(
		newInstallCommand(a),
		newCleanCommand(a),
		newListCommand(a),
	)
	return root
}

// configure applies the persistent flags and loads the settings file. A
// broken settings file is reported by requireSettings so that list still works.
func (a *app) configure() error {
	level, err := logging.ParseLevel(a.logLevel)
	if err != nil {
		return err
	}
	mode, err := logging.ParseMode(a.logFormat)
	if err != nil {
		return err
	}
	a.levelVar.Set(level)
	if mode != logging.ModeCLI {
		a.logger = logging.New(mode, a.stderr, a.levelVar)
		slog.SetDefault(a.logger)
	}
	setup.SetLogger(a.logger.With("component", "setup"))

	settings, err := setup.LoadSettings(a.configPath)
	if err != nil {
		a.settingsErr = &build.ConfigurationError{Message: err.Error()}
		settings = setup.DefaultSettings()
	}
	if a.cacheDir != "" {
		settings.CacheDir = a.cacheDir
	}
	a.settings = settings
	return nil
}

func (a *app) requireSettings() error {
	return a.settingsErr
}

func (a *app) resolveCacheDir() (string, error) {
	dir, err := a.settings.ResolveCacheDir()
	if err != nil {
		return "", &build.ConfigurationError{Message: err.Error()}
	}
	return dir, nil
}

func (a *app) printf(format string, args ...any) {
	fmt.Fprintf(a.stdout, format, args...)
}
