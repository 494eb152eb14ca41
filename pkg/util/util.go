package util

import (
	"os"
	"path/filepath"
	"strings"
	"syscall"
)

// MountPoint is one entry of the system mount table.
type MountPoint struct {
	Source  string   `json:"source" yaml:"source"`
	Path    string   `json:"path" yaml:"path"`
	FSType  string   `json:"fstype" yaml:"fstype"`
	Options []string `json:"options,omitempty" yaml:"options,omitempty"`
}

// IsSSHFS reports whether the entry was mounted by sshfs.
func (m MountPoint) IsSSHFS() bool {
	switch m.FSType {
	case "fuse.sshfs", "sshfs", "osxfuse", "macfuse", "fuse-t":
		return true
	}
	return strings.HasPrefix(m.Source, "sshfs#")
}

// Helper function to check if a path is a mount point
func IsMountPoint(path string) (bool, error) {
	cleaned := filepath.Clean(path)
	if mounted, err := isMountPointFromMountInfo(cleaned); err == nil {
		return mounted, nil
	}

	var stat syscall.Stat_t
	if err := syscall.Stat(path, &stat); err != nil {
		return false, err
	}

	// Get the parent directory of the path
	parent := filepath.Dir(path)
	var parentStat syscall.Stat_t
	if err := syscall.Stat(parent, &parentStat); err != nil {
		return false, err
	}

	// Compare device IDs; if they differ, the path is a mount point
	return stat.Dev != parentStat.Dev, nil
}

var mountInfoPath = "/proc/self/mountinfo"

// ReadMountInfo parses the Linux mount table of the current process.
func ReadMountInfo() ([]MountPoint, error) {
	data, err := os.ReadFile(mountInfoPath)
	if err != nil {
		return nil, err
	}
	return ParseMountInfo(data), nil
}

func isMountPointFromMountInfo(path string) (bool, error) {
	mps, err := ReadMountInfo()
	if err != nil {
		return false, err
	}
	for _, mp := range mps {
		if filepath.Clean(mp.Path) == path {
			return true, nil
		}
	}
	return false, nil
}

// ParseMountInfo parses /proc/<pid>/mountinfo content:
//
//	36 25 0:32 / /mnt/remote rw,relatime shared:1 - fuse.sshfs alice@host:/srv rw,user_id=0
func ParseMountInfo(data []byte) []MountPoint {
	var mps []MountPoint
	for _, line := range strings.Split(string(data), "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		parts := strings.SplitN(line, " - ", 2)
		fields := strings.Fields(parts[0])
		if len(fields) < 5 {
			continue
		}
		mp := MountPoint{Path: unescapeMountPath(fields[4])}
		if len(fields) > 5 {
			mp.Options = strings.Split(fields[5], ",")
		}
		if len(parts) == 2 {
			tail := strings.Fields(parts[1])
			if len(tail) > 0 {
				mp.FSType = tail[0]
			}
			if len(tail) > 1 {
				mp.Source = unescapeMountPath(tail[1])
			}
		}
		mps = append(mps, mp)
	}
	return mps
}

// ParseMountOutput parses the output of mount(8) with no arguments. Both the
// Linux form
//
//	alice@host:/srv on /mnt/remote type fuse.sshfs (rw,nosuid,nodev)
//
// and the Darwin form
//
//	alice@host:/srv on /Users/bob/mnt (macfuse, nodev, nosuid, synchronous, mounted by bob)
//
// are understood.
func ParseMountOutput(out string) []MountPoint {
	var mps []MountPoint
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		on := strings.Index(line, " on ")
		if on < 0 {
			continue
		}
		mp := MountPoint{Source: line[:on]}
		rest := line[on+len(" on "):]

		var opts string
		if open := strings.LastIndex(rest, " ("); open >= 0 && strings.HasSuffix(rest, ")") {
			opts = rest[open+2 : len(rest)-1]
			rest = rest[:open]
		}
		if i := strings.LastIndex(rest, " type "); i >= 0 {
			mp.FSType = rest[i+len(" type "):]
			rest = rest[:i]
			mp.Options = splitTrim(opts)
		} else {
			// Darwin puts the filesystem type first inside the parentheses.
			o := splitTrim(opts)
			if len(o) > 0 {
				mp.FSType = o[0]
				mp.Options = o[1:]
			}
		}
		mp.Path = rest
		mps = append(mps, mp)
	}
	return mps
}

// Filter keeps entries whose path or source contains pattern, the way
// `mount | grep pattern` would. An empty pattern keeps everything.
func Filter(mps []MountPoint, pattern string) []MountPoint {
	if pattern == "" {
		return mps
	}
	var out []MountPoint
	for _, mp := range mps {
		if strings.Contains(mp.Path, pattern) || strings.Contains(mp.Source, pattern) {
			out = append(out, mp)
		}
	}
	return out
}

// Find returns the entry mounted exactly at path.
func Find(mps []MountPoint, path string) (MountPoint, bool) {
	cleaned := filepath.Clean(path)
	for i := len(mps) - 1; i >= 0; i-- {
		if filepath.Clean(mps[i].Path) == cleaned {
			return mps[i], true
		}
	}
	return MountPoint{}, false
}

func splitTrim(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		out = append(out, strings.TrimSpace(p))
	}
	return out
}

func unescapeMountPath(path string) string {
	// mountinfo uses octal escapes for special chars.
	replacer := strings.NewReplacer(
		"\\040", " ",
		"\\011", "\t",
		"\\012", "\n",
		"\\134", "\\",
	)
	return replacer.Replace(path)
}
