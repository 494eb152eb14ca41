// Package cli implements the sshmount command line.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/joejulian/sshmount/pkg/config"
	"github.com/joejulian/sshmount/pkg/logging"
	"github.com/joejulian/sshmount/pkg/mounter"
	"github.com/joejulian/sshmount/pkg/preflight"
	"github.com/joejulian/sshmount/pkg/remotemount"
	"github.com/joejulian/sshmount/pkg/system"
)

// Exit codes returned by Execute.
const (
	ExitOK         = 0
	ExitFailure    = 1
	ExitUsage      = 2
	ExitNotMounted = 3
)

// Set at build time with -ldflags "-X".
var (
	Version = "dev"
	Commit  = "unknown"
)

const skipConfigAnnotation = "sshmount/skip-config"

type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func usageErrorf(format string, args ...any) error {
	return &exitError{code: ExitUsage, err: fmt.Errorf(format, args...)}
}

// usageArgs marks positional argument errors as usage errors.
func usageArgs(fn cobra.PositionalArgs) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := fn(cmd, args); err != nil {
			return &exitError{code: ExitUsage, err: err}
		}
		return nil
	}
}

// ExitCode maps a command error onto the process exit status.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	if errors.Is(err, remotemount.ErrNotMounted) {
		return ExitNotMounted
	}
	if strings.HasPrefix(err.Error(), "unknown command") {
		return ExitUsage
	}
	return ExitFailure
}

// Option customizes the command tree. Tests use it to replace the platform
// mounter and the SSH check.
type Option func(*app)

func WithMounter(m mounter.Mounter) Option {
	return func(a *app) { a.mnt = m }
}

func WithPreflightCheck(fn func(context.Context, preflight.Options) (*preflight.Report, error)) Option {
	return func(a *app) { a.check = fn }
}

func WithOutput(out, errOut io.Writer) Option {
	return func(a *app) {
		a.out = out
		a.errOut = errOut
	}
}

type app struct {
	out    io.Writer
	errOut io.Writer

	configPath string
	verbose    bool

	cfg    *config.Config
	logger *zap.Logger

	mnt   mounter.Mounter
	check func(context.Context, preflight.Options) (*preflight.Report, error)
}

// NewRootCommand builds the sshmount command tree.
func NewRootCommand(opts ...Option) *cobra.Command {
	a := &app{check: preflight.Check}
	for _, o := range opts {
		o(a)
	}

	root := &cobra.Command{
		Use:   "sshmount",
		Short: "Mount, release and inspect remote directories over SSHFS",
		Long: `sshmount mounts a directory from a remote machine onto a local path with
sshfs, releases it again (forcing the release when the mount is busy), and
reports which remote mounts are present.

Mounts are described by profiles in $XDG_CONFIG_HOME/sshmount/config.yaml.
The same mount logic is exposed to Kubernetes as a CSI node plugin by
"sshmount serve".`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Annotations[skipConfigAnnotation] == "true" {
				return nil
			}
			return a.setup(cmd)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}
	if a.out != nil {
		root.SetOut(a.out)
	}
	if a.errOut != nil {
		root.SetErr(a.errOut)
	}
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &exitError{code: ExitUsage, err: err}
	})

	pf := root.PersistentFlags()
	pf.StringVarP(&a.configPath, "config", "c", "", "config file (default "+config.GetDefaultConfigPath()+")")
	pf.BoolVarP(&a.verbose, "verbose", "v", false, "enable debug logging")
	pf.String("log-level", "info", "log level (debug, info, warn, error)")
	pf.String("log-format", "json", "log format (json, console)")
	pf.String("sshfs-path", "sshfs", "sshfs binary")
	pf.Bool("mount-helper", false, "mount through mount(8) -t fuse.sshfs (Linux)")
	pf.Duration("command-timeout", config.DefaultCommandTimeout, "timeout for each external command")

	root.AddCommand(
		newMountCommand(a),
		newUnmountCommand(a),
		newStatusCommand(a),
		newCheckCommand(a),
		newServeCommand(a),
		newConfigCommand(a),
		newVersionCommand(),
	)
	return root
}

func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := config.Load(a.configPath, cmd.Flags())
	if err != nil {
		return err
	}
	a.cfg = cfg

	level := cfg.Logging.Level
	if a.verbose {
		level = zapcore.DebugLevel.String()
	}
	logger, err := logging.Build(logging.Options{Level: level, Format: cfg.Logging.Format})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	a.logger = logger
	logging.SetBase(logger)
	return nil
}

func (a *app) mounter() mounter.Mounter {
	if a.mnt != nil {
		return a.mnt
	}
	return mounter.New(mounter.Options{
		SSHFSPath:      a.cfg.SSHFSPath,
		UseMountHelper: a.cfg.MountHelper,
		Runner:         system.NewExecCmdRunner(a.cfg.CommandTimeout),
	})
}

func (a *app) preflightOptions() preflight.Options {
	return preflight.Options{
		UseAgent:              a.cfg.Preflight.UseAgent,
		KnownHostsFile:        config.ExpandHome(a.cfg.Preflight.KnownHostsFile),
		InsecureIgnoreHostKey: a.cfg.Preflight.InsecureIgnoreHostKey,
		Timeout:               a.cfg.Preflight.Timeout,
	}
}

func (a *app) manager(opts ...remotemount.Option) *remotemount.Manager {
	if a.cfg.Preflight.Enabled {
		opts = append(opts, remotemount.WithPreflight(remotemount.SSHPreflight(a.preflightOptions(), a.check)))
	}
	return remotemount.NewManager(a.mounter(), opts...)
}

// Execute runs the command line and returns the process exit code.
func Execute() int {
	root := NewRootCommand()
	err := root.ExecuteContext(context.Background())
	if err != nil {
		fmt.Fprintln(root.ErrOrStderr(), "Error:", err)
	}
	return ExitCode(err)
}

func formatDuration(d time.Duration) string {
	return d.Round(time.Millisecond).String()
}
