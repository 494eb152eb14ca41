package node

import (
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"

	"github.com/joejulian/sshmount/pkg/sshfs"
)

// VolumeParams is the volume context of an sshfs volume. Values arrive as
// strings and are converted to the field types.
type VolumeParams struct {
	Host                string        `mapstructure:"host"`
	User                string        `mapstructure:"user"`
	Port                int           `mapstructure:"port"`
	RemotePath          string        `mapstructure:"remotePath"`
	IdentityFile        string        `mapstructure:"identityFile"`
	VolumeName          string        `mapstructure:"volumeName"`
	Options             string        `mapstructure:"options"`
	AttrCache           *bool         `mapstructure:"attrCache"`
	Reconnect           *bool         `mapstructure:"reconnect"`
	ServerAliveInterval time.Duration `mapstructure:"serverAliveInterval"`
}

func decodeVolumeParams(volumeContext map[string]string) (VolumeParams, error) {
	var p VolumeParams
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		WeaklyTypedInput: true,
		Result:           &p,
	})
	if err != nil {
		return p, err
	}
	if err := dec.Decode(volumeContext); err != nil {
		return p, fmt.Errorf("decoding volume context: %w", err)
	}
	return p, nil
}

// Target builds the mount target for volumeID at targetPath. A volume ID of
// the form [user@]host:path supplies whatever the context leaves unset.
func (p VolumeParams) Target(volumeID, targetPath string) sshfs.Target {
	host, user, remotePath := p.Host, p.User, p.RemotePath
	if idHost, idPath, ok := strings.Cut(volumeID, ":"); ok && host == "" {
		if u, h, found := strings.Cut(idHost, "@"); found {
			idHost = h
			if user == "" {
				user = u
			}
		}
		host = idHost
		if remotePath == "" {
			remotePath = idPath
		}
	}
	if remotePath == "" {
		remotePath = volumeID
	}

	t := sshfs.Target{
		User:                user,
		Host:                host,
		Port:                p.Port,
		RemotePath:          remotePath,
		MountPoint:          targetPath,
		VolumeName:          p.VolumeName,
		IdentityFile:        p.IdentityFile,
		AttrCache:           true,
		Reconnect:           true,
		ServerAliveInterval: p.ServerAliveInterval,
		ExtraOptions:        sshfs.SplitOptions(p.Options),
	}
	if p.AttrCache != nil {
		t.AttrCache = *p.AttrCache
	}
	if p.Reconnect != nil {
		t.Reconnect = *p.Reconnect
	}
	return t
}
