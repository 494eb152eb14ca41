package system

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/joejulian/sshmount/pkg/logging"
)

const (
	execErrorMsgFmt        = "running command: '%s', stdout: '%s', stderr: '%s'"
	execShortErrorMaxLines = 100
)

// ExecError is returned when a command exits non-zero.
type ExecError struct {
	Cmd        string
	Stdout     string
	Stderr     string
	ExitStatus int
	Err        error
}

func (e *ExecError) Error() string {
	return fmt.Sprintf(execErrorMsgFmt, e.Cmd, truncateLines(e.Stdout), truncateLines(e.Stderr))
}

func (e *ExecError) Unwrap() error {
	return e.Err
}

func truncateLines(in string) string {
	lines := strings.Split(strings.TrimRight(in, "\n"), "\n")
	if i := len(lines); i > execShortErrorMaxLines {
		lines = lines[i-execShortErrorMaxLines:]
	}
	return strings.Join(lines, "\n")
}

type execCmdRunner struct {
	timeout time.Duration
}

// NewExecCmdRunner returns a runner backed by os/exec. A non-zero timeout
// bounds every command in addition to the caller's context.
func NewExecCmdRunner(timeout time.Duration) CmdRunner {
	return execCmdRunner{timeout: timeout}
}

func (r execCmdRunner) RunComplexCommand(ctx context.Context, cmd Command) (string, string, int, error) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	execCmd := exec.CommandContext(ctx, cmd.Name, cmd.Args...)
	if len(cmd.Env) > 0 {
		env := os.Environ()
		for k, v := range cmd.Env {
			env = append(env, k+"="+v)
		}
		execCmd.Env = env
	}

	var stdoutBuf, stderrBuf bytes.Buffer
	execCmd.Stdout = &stdoutBuf
	execCmd.Stderr = &stderrBuf

	cmdString := strings.Join(append([]string{cmd.Name}, cmd.Args...), " ")
	logger := logging.FromContext(ctx)
	logger.Debug("running command", zap.String("command", cmdString))

	err := execCmd.Run()
	stdout := stdoutBuf.String()
	stderr := stderrBuf.String()

	exitStatus := -1
	if execCmd.ProcessState != nil {
		if ws, ok := execCmd.ProcessState.Sys().(syscall.WaitStatus); ok {
			if ws.Exited() {
				exitStatus = ws.ExitStatus()
			} else if ws.Signaled() {
				exitStatus = 128 + int(ws.Signal())
			}
		} else {
			exitStatus = execCmd.ProcessState.ExitCode()
		}
	}

	logger.Debug("command finished",
		zap.String("command", cmdString),
		zap.Int("exit_status", exitStatus),
		zap.String("stdout", stdout),
		zap.String("stderr", stderr),
	)

	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return stdout, stderr, exitStatus, fmt.Errorf("starting command %s: %w", cmdString, err)
		}
		return stdout, stderr, exitStatus, &ExecError{
			Cmd:        cmdString,
			Stdout:     stdout,
			Stderr:     stderr,
			ExitStatus: exitStatus,
			Err:        err,
		}
	}
	return stdout, stderr, exitStatus, nil
}

func (r execCmdRunner) RunCommand(ctx context.Context, cmdName string, args ...string) (string, string, int, error) {
	return r.RunComplexCommand(ctx, Command{Name: cmdName, Args: args})
}

func (r execCmdRunner) CommandExists(cmdName string) bool {
	_, err := exec.LookPath(cmdName)
	return err == nil
}
