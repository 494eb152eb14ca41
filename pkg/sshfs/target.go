// Package sshfs renders the sshfs command line for a remote mount.
package sshfs

import (
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultPort                = 22
	DefaultServerAliveInterval = 15 * time.Second
	serverAliveCountMax        = 3

	// FSType is the filesystem type sshfs mounts appear with in the mount table.
	FSType = "fuse.sshfs"
)

var (
	ErrHostRequired       = errors.New("host is required")
	ErrRemotePathRequired = errors.New("remote path is required")
	ErrMountPointRequired = errors.New("mount point is required")
	ErrMountPointRelative = errors.New("mount point must be an absolute path")
	ErrInvalidPort        = errors.New("port must be between 1 and 65535")
)

// Target describes one remote directory and where it is mounted locally.
type Target struct {
	User       string
	Host       string
	Port       int
	RemotePath string
	MountPoint string

	// VolumeName is the display name of the mount. Only macFUSE uses it.
	VolumeName   string
	IdentityFile string

	AttrCache           bool
	Reconnect           bool
	ServerAliveInterval time.Duration

	ExtraOptions []string
}

func (t Target) Validate() error {
	if t.Host == "" {
		return ErrHostRequired
	}
	if t.RemotePath == "" {
		return ErrRemotePathRequired
	}
	if t.MountPoint == "" {
		return ErrMountPointRequired
	}
	if !filepath.IsAbs(t.MountPoint) {
		return fmt.Errorf("%w: %q", ErrMountPointRelative, t.MountPoint)
	}
	if t.Port < 0 || t.Port > 65535 {
		return fmt.Errorf("%w: %d", ErrInvalidPort, t.Port)
	}
	return nil
}

// Source renders the [user@]host:path argument.
func (t Target) Source() string {
	if t.User != "" {
		return t.User + "@" + t.Host + ":" + t.RemotePath
	}
	return t.Host + ":" + t.RemotePath
}

// Address is host:port for dialing the SSH server directly.
func (t Target) Address() string {
	port := t.Port
	if port == 0 {
		port = DefaultPort
	}
	host := t.Host
	if strings.Contains(host, ":") && !strings.HasPrefix(host, "[") {
		host = "[" + host + "]"
	}
	return host + ":" + strconv.Itoa(port)
}

// Options renders the -o list. goos selects platform-only options such as
// volname. Extra options override generated ones with the same key.
func (t Target) Options(goos string) []string {
	var opts []string
	if t.AttrCache {
		opts = append(opts, "auto_cache")
	}
	if t.Reconnect {
		interval := t.ServerAliveInterval
		if interval <= 0 {
			interval = DefaultServerAliveInterval
		}
		// ssh takes whole seconds and treats 0 as disabled, so round up.
		opts = append(opts,
			"reconnect",
			"ServerAliveInterval="+strconv.Itoa(int((interval+time.Second-1)/time.Second)),
			"ServerAliveCountMax="+strconv.Itoa(serverAliveCountMax),
		)
	}
	if goos == "darwin" {
		name := t.VolumeName
		if name == "" {
			name = filepath.Base(t.MountPoint)
		}
		opts = append(opts, "volname="+name)
	}
	if t.Port != 0 && t.Port != DefaultPort {
		opts = append(opts, "port="+strconv.Itoa(t.Port))
	}
	if t.IdentityFile != "" {
		opts = append(opts, "IdentityFile="+t.IdentityFile)
	}
	// Never fall back to a password prompt: the mount runs unattended.
	opts = append(opts, "BatchMode=yes")

	return mergeOptions(opts, t.ExtraOptions)
}

// Args is the argument vector passed to the sshfs binary.
func (t Target) Args(goos string) []string {
	return []string{t.Source(), t.MountPoint, "-o", strings.Join(t.Options(goos), ",")}
}

func optionKey(opt string) string {
	if i := strings.IndexByte(opt, '='); i >= 0 {
		return opt[:i]
	}
	return opt
}

func mergeOptions(base, extra []string) []string {
	if len(extra) == 0 {
		return base
	}
	index := make(map[string]int, len(base))
	for i, o := range base {
		index[optionKey(o)] = i
	}
	out := append([]string(nil), base...)
	for _, o := range extra {
		o = strings.TrimSpace(o)
		if o == "" {
			continue
		}
		k := optionKey(o)
		if i, ok := index[k]; ok {
			out[i] = o
			continue
		}
		index[k] = len(out)
		out = append(out, o)
	}
	return out
}

// SplitOptions parses a comma separated option string.
func SplitOptions(s string) []string {
	var out []string
	for _, o := range strings.Split(s, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}
