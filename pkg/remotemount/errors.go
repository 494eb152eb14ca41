package remotemount

import "errors"

var (
	ErrAlreadyMounted = errors.New("mount point is already mounted")
	ErrNotMounted     = errors.New("mount point is not mounted")
	// ErrBusy is returned when a graceful unmount fails because the mount is
	// in use and the forced fallback is disabled.
	ErrBusy         = errors.New("mount point is busy")
	ErrVerifyFailed = errors.New("mount did not appear in the mount table")
)
