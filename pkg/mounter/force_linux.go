//go:build linux

package mounter

import "golang.org/x/sys/unix"

func forceUnmountSyscall(path string) error {
	return unix.Unmount(path, unix.MNT_FORCE|unix.MNT_DETACH)
}
