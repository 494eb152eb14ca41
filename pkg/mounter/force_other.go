//go:build !linux

package mounter

func forceUnmountSyscall(string) error {
	return ErrUnsupportedPlatform
}
