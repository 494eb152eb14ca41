package system

import (
	"errors"
	"strings"
	"syscall"
)

// busyMarkers are the phrasings umount, fusermount and diskutil use for a
// mount point with open files. They are matched at the start of a message
// segment so a mount path that merely contains the words never matches.
var busyMarkers = []string{
	"device or resource busy",
	"resource busy",
	"target is busy",
	"dissented by",
	"unmount was dissented",
}

// IsBusy reports whether err is an unmount failure caused by open files on
// the mount point. For an ExecError only the tool's output is inspected,
// never the command line.
func IsBusy(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, syscall.EBUSY) {
		return true
	}
	var execErr *ExecError
	if errors.As(err, &execErr) {
		return reportsBusy(execErr.Stderr) || reportsBusy(execErr.Stdout)
	}
	return reportsBusy(err.Error())
}

// reportsBusy splits tool output into "prefix: message" segments and checks
// whether any segment starts with a busy marker.
func reportsBusy(out string) bool {
	for _, line := range strings.Split(strings.ToLower(out), "\n") {
		for _, seg := range strings.Split(line, ": ") {
			seg = strings.TrimSpace(seg)
			for _, m := range busyMarkers {
				if strings.HasPrefix(seg, m) {
					return true
				}
			}
		}
	}
	return false
}
