// Package mounter runs the platform tools that establish, release and list
// sshfs mounts.
package mounter

import (
	"context"
	"errors"
	"runtime"

	mount "k8s.io/mount-utils"

	"github.com/joejulian/sshmount/pkg/sshfs"
	"github.com/joejulian/sshmount/pkg/system"
	"github.com/joejulian/sshmount/pkg/util"
)

var ErrUnsupportedPlatform = errors.New("remote mounts are not supported on this platform")

// Mounter abstracts mount operations for testing.
type Mounter interface {
	Mount(ctx context.Context, target sshfs.Target) error
	// Unmount releases the mount gracefully and fails if it is in use.
	Unmount(ctx context.Context, path string) error
	// ForceUnmount detaches the mount even while files on it are open.
	ForceUnmount(ctx context.Context, path string) error
	List(ctx context.Context) ([]util.MountPoint, error)
}

type Options struct {
	// GOOS defaults to runtime.GOOS.
	GOOS      string
	SSHFSPath string
	// UseMountHelper mounts through mount(8) with type fuse.sshfs instead of
	// running sshfs directly. Linux only.
	UseMountHelper bool
	Runner         system.CmdRunner
}

// New returns the Mounter for the platform named in opts.
func New(opts Options) Mounter {
	goos := opts.GOOS
	if goos == "" {
		goos = runtime.GOOS
	}
	sshfsPath := opts.SSHFSPath
	if sshfsPath == "" {
		sshfsPath = "sshfs"
	}

	switch goos {
	case "linux":
		return &LinuxMounter{
			runner:         opts.Runner,
			kmount:         mount.New(""),
			sshfsPath:      sshfsPath,
			useMountHelper: opts.UseMountHelper,
			listMounts:     util.ReadMountInfo,
			forceUnmount:   forceUnmountSyscall,
		}
	case "darwin":
		return &DarwinMounter{runner: opts.Runner, sshfsPath: sshfsPath}
	default:
		return UnsupportedMounter{}
	}
}

// releaseCommand runs unmount tools in the C locale; busy detection
// matches their English messages.
func releaseCommand(name string, args ...string) system.Command {
	return system.Command{Name: name, Args: args, Env: map[string]string{"LC_ALL": "C"}}
}

// UnsupportedMounter is used on platforms without an sshfs integration.
type UnsupportedMounter struct{}

func (UnsupportedMounter) Mount(context.Context, sshfs.Target) error { return ErrUnsupportedPlatform }

func (UnsupportedMounter) Unmount(context.Context, string) error { return ErrUnsupportedPlatform }

func (UnsupportedMounter) ForceUnmount(context.Context, string) error { return ErrUnsupportedPlatform }

func (UnsupportedMounter) List(context.Context) ([]util.MountPoint, error) {
	return nil, ErrUnsupportedPlatform
}
