package mounter

import (
	"context"
	"errors"
	"fmt"
	"syscall"

	"go.uber.org/zap"
	mount "k8s.io/mount-utils"

	"github.com/joejulian/sshmount/pkg/logging"
	"github.com/joejulian/sshmount/pkg/sshfs"
	"github.com/joejulian/sshmount/pkg/system"
	"github.com/joejulian/sshmount/pkg/util"
)

// LinuxMounter mounts with sshfs and releases mounts with fusermount, falling
// back to umount(8) through mount-utils when fusermount is not installed.
type LinuxMounter struct {
	runner         system.CmdRunner
	kmount         mount.Interface
	sshfsPath      string
	useMountHelper bool
	listMounts     func() ([]util.MountPoint, error)
	forceUnmount   func(path string) error
}

// NewLinuxMounter builds a LinuxMounter around explicit collaborators.
func NewLinuxMounter(runner system.CmdRunner, kmount mount.Interface, listMounts func() ([]util.MountPoint, error), forceUnmount func(string) error) *LinuxMounter {
	return &LinuxMounter{
		runner:       runner,
		kmount:       kmount,
		sshfsPath:    "sshfs",
		listMounts:   listMounts,
		forceUnmount: forceUnmount,
	}
}

// WithMountHelper switches Mount to mount(8) -t fuse.sshfs.
func (m *LinuxMounter) WithMountHelper(enabled bool) *LinuxMounter {
	m.useMountHelper = enabled
	return m
}

func (m *LinuxMounter) Mount(ctx context.Context, target sshfs.Target) error {
	if m.useMountHelper {
		if err := m.kmount.Mount(target.Source(), target.MountPoint, sshfs.FSType, target.Options("linux")); err != nil {
			return fmt.Errorf("mount helper: %w", err)
		}
		return nil
	}
	if _, _, _, err := m.runner.RunCommand(ctx, m.sshfsPath, target.Args("linux")...); err != nil {
		return fmt.Errorf("sshfs: %w", err)
	}
	return nil
}

func (m *LinuxMounter) fusermount() string {
	for _, name := range []string{"fusermount3", "fusermount"} {
		if m.runner.CommandExists(name) {
			return name
		}
	}
	return ""
}

func (m *LinuxMounter) Unmount(ctx context.Context, path string) error {
	if fm := m.fusermount(); fm != "" {
		if _, _, _, err := m.runner.RunComplexCommand(ctx, releaseCommand(fm, "-u", path)); err != nil {
			return fmt.Errorf("%s: %w", fm, err)
		}
		return nil
	}
	if err := m.kmount.Unmount(path); err != nil {
		return fmt.Errorf("umount: %w", err)
	}
	return nil
}

// ForceUnmount aborts the FUSE connection and detaches the mount point. An
// unprivileged caller gets EPERM from umount2, so the setuid fusermount lazy
// unmount is used instead.
func (m *LinuxMounter) ForceUnmount(ctx context.Context, path string) error {
	err := m.forceUnmount(path)
	if err == nil {
		return nil
	}
	if !errors.Is(err, syscall.EPERM) && !errors.Is(err, ErrUnsupportedPlatform) {
		return fmt.Errorf("umount2 %s: %w", path, err)
	}

	fm := m.fusermount()
	if fm == "" {
		return fmt.Errorf("umount2 %s: %w", path, err)
	}
	logging.FromContext(ctx).Debug("forced unmount syscall refused, using lazy fusermount",
		zap.String("mount_point", path), zap.Error(err))
	if _, _, _, err := m.runner.RunComplexCommand(ctx, releaseCommand(fm, "-u", "-z", path)); err != nil {
		return fmt.Errorf("%s: %w", fm, err)
	}
	return nil
}

func (m *LinuxMounter) List(context.Context) ([]util.MountPoint, error) {
	mps, err := m.listMounts()
	if err != nil {
		return nil, fmt.Errorf("reading mount table: %w", err)
	}
	return mps, nil
}
