package cli

import (
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/joejulian/sshmount/pkg/config"
	"github.com/joejulian/sshmount/pkg/sshfs"
)

// targetFlags are the per-invocation overrides accepted by mount and check.
type targetFlags struct {
	port         int
	identityFile string
	volumeName   string
	options      []string
	noAttrCache  bool
	noReconnect  bool
}

func (f *targetFlags) register(cmd *cobra.Command) {
	fl := cmd.Flags()
	fl.IntVarP(&f.port, "port", "p", 0, "SSH port")
	fl.StringVarP(&f.identityFile, "identity-file", "i", "", "private key to authenticate with")
	fl.StringVar(&f.volumeName, "volname", "", "volume name shown by macOS")
	fl.StringSliceVarP(&f.options, "option", "o", nil, "extra sshfs -o option (repeatable)")
	fl.BoolVar(&f.noAttrCache, "no-attr-cache", false, "disable attribute caching")
	fl.BoolVar(&f.noReconnect, "no-reconnect", false, "do not reconnect after the SSH link drops")
}

func (f *targetFlags) apply(cmd *cobra.Command, t *sshfs.Target) {
	fl := cmd.Flags()
	if fl.Changed("port") {
		t.Port = f.port
	}
	if fl.Changed("identity-file") {
		t.IdentityFile = config.ExpandHome(f.identityFile)
	}
	if fl.Changed("volname") {
		t.VolumeName = f.volumeName
	}
	t.ExtraOptions = append(t.ExtraOptions, f.options...)
	if f.noAttrCache {
		t.AttrCache = false
	}
	if f.noReconnect {
		t.Reconnect = false
	}
}

// resolveTarget turns the positional arguments of mount and check into a
// target: nothing (the only profile), a profile name, or a
// [user@]host:path source followed by a mount point.
func (a *app) resolveTarget(args []string) (sshfs.Target, error) {
	switch len(args) {
	case 0:
		names := a.cfg.ProfileNames()
		if len(names) != 1 {
			return sshfs.Target{}, usageErrorf("specify a profile (known: %s)", strings.Join(names, ", "))
		}
		return a.cfg.Profiles[names[0]].Target(names[0]), nil
	case 1:
		p, err := a.cfg.Profile(args[0])
		if err != nil {
			return sshfs.Target{}, &exitError{code: ExitUsage, err: err}
		}
		return p.Target(strings.ToLower(args[0])), nil
	default:
		t, ok := parseSource(args[0])
		if !ok {
			return sshfs.Target{}, usageErrorf("source %q is not of the form [user@]host:path", args[0])
		}
		mp, err := filepath.Abs(config.ExpandHome(args[1]))
		if err != nil {
			return sshfs.Target{}, err
		}
		t.MountPoint = mp
		t.AttrCache = true
		t.Reconnect = true
		return t, nil
	}
}

func parseSource(s string) (sshfs.Target, bool) {
	hostPart, path, ok := strings.Cut(s, ":")
	if !ok || hostPart == "" || path == "" {
		return sshfs.Target{}, false
	}
	var t sshfs.Target
	if user, host, found := strings.Cut(hostPart, "@"); found {
		t.User, hostPart = user, host
	}
	t.Host = hostPart
	t.RemotePath = path
	return t, t.Host != ""
}

// resolveMountPoint maps an unmount argument onto a local path. Arguments
// containing a path separator or starting with ~ are paths; anything else
// names a profile.
func (a *app) resolveMountPoint(args []string) (string, error) {
	var arg string
	if len(args) == 0 {
		names := a.cfg.ProfileNames()
		if len(names) != 1 {
			return "", usageErrorf("specify a profile or mount point (profiles: %s)", strings.Join(names, ", "))
		}
		arg = names[0]
	} else {
		arg = args[0]
	}

	if strings.ContainsRune(arg, filepath.Separator) || strings.HasPrefix(arg, "~") {
		return filepath.Abs(config.ExpandHome(arg))
	}
	p, err := a.cfg.Profile(arg)
	if err != nil {
		return "", &exitError{code: ExitUsage, err: err}
	}
	return filepath.Clean(config.ExpandHome(p.MountPoint)), nil
}
