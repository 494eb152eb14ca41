package system

import "context"

type Command struct {
	Name string
	Args []string
	Env  map[string]string
}

// CmdRunner runs external tools such as sshfs, umount and diskutil.
type CmdRunner interface {
	// If the command runs and exits with a zero exit status, err is nil.
	RunComplexCommand(ctx context.Context, cmd Command) (stdout, stderr string, exitStatus int, err error)

	RunCommand(ctx context.Context, cmdName string, args ...string) (stdout, stderr string, exitStatus int, err error)

	CommandExists(cmdName string) bool
}
