package remotemount

import (
	"errors"
	"os"
	"syscall"

	"github.com/joejulian/sshmount/pkg/util"
)

// State is the tri-state result of inspecting a mount point.
type State int

const (
	StateNotMounted State = iota
	StateActive
	// StateStale means the mount table lists the path but the remote end no
	// longer answers, typically after the SSH link dropped without reconnect.
	StateStale
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateStale:
		return "stale"
	default:
		return "not-mounted"
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Status is one mount table entry together with its health.
type Status struct {
	util.MountPoint `yaml:",inline"`
	State           State `json:"state" yaml:"state"`
}

var statPath = os.Stat

func probe(path string) State {
	if _, err := statPath(path); err != nil {
		if errors.Is(err, syscall.ENOTCONN) || errors.Is(err, syscall.EIO) ||
			errors.Is(err, syscall.ECONNABORTED) || errors.Is(err, syscall.ETIMEDOUT) {
			return StateStale
		}
	}
	return StateActive
}
