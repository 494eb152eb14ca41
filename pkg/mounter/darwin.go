package mounter

import (
	"context"
	"fmt"

	"github.com/joejulian/sshmount/pkg/sshfs"
	"github.com/joejulian/sshmount/pkg/system"
	"github.com/joejulian/sshmount/pkg/util"
)

// DarwinMounter drives sshfs on macFUSE. Graceful release uses umount(8),
// forced release uses diskutil.
type DarwinMounter struct {
	runner    system.CmdRunner
	sshfsPath string
}

func NewDarwinMounter(runner system.CmdRunner) *DarwinMounter {
	return &DarwinMounter{runner: runner, sshfsPath: "sshfs"}
}

func (m *DarwinMounter) Mount(ctx context.Context, target sshfs.Target) error {
	if _, _, _, err := m.runner.RunCommand(ctx, m.sshfsPath, target.Args("darwin")...); err != nil {
		return fmt.Errorf("sshfs: %w", err)
	}
	return nil
}

func (m *DarwinMounter) Unmount(ctx context.Context, path string) error {
	if _, _, _, err := m.runner.RunComplexCommand(ctx, releaseCommand("umount", path)); err != nil {
		return fmt.Errorf("umount: %w", err)
	}
	return nil
}

func (m *DarwinMounter) ForceUnmount(ctx context.Context, path string) error {
	if _, _, _, err := m.runner.RunComplexCommand(ctx, releaseCommand("diskutil", "unmount", "force", path)); err != nil {
		return fmt.Errorf("diskutil unmount force: %w", err)
	}
	return nil
}

func (m *DarwinMounter) List(ctx context.Context) ([]util.MountPoint, error) {
	out, _, _, err := m.runner.RunCommand(ctx, "mount")
	if err != nil {
		return nil, fmt.Errorf("mount: %w", err)
	}
	return util.ParseMountOutput(out), nil
}
