package config

import (
	"os"
	"time"

	"github.com/spf13/viper"
)

const (
	DefaultEndpoint       = "unix:///var/lib/kubelet/plugins/sshmount/csi.sock"
	DefaultCommandTimeout = 30 * time.Second
)

// setViperDefaults registers scalar keys so environment variables are seen
// by Unmarshal.
func setViperDefaults(v *viper.Viper) {
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("sshfs_path", "sshfs")
	v.SetDefault("mount_helper", false)
	v.SetDefault("command_timeout", DefaultCommandTimeout)
	v.SetDefault("preflight.enabled", false)
	v.SetDefault("preflight.use_agent", true)
	v.SetDefault("preflight.known_hosts_file", "")
	v.SetDefault("preflight.insecure_ignore_host_key", false)
	v.SetDefault("preflight.timeout", 10*time.Second)
	v.SetDefault("node.endpoint", DefaultEndpoint)
	v.SetDefault("node.node_id", "")
}

// ApplyDefaults fills in values left empty after loading. Explicit values
// are preserved.
func ApplyDefaults(cfg *Config) {
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.SSHFSPath == "" {
		cfg.SSHFSPath = "sshfs"
	}
	if cfg.CommandTimeout == 0 {
		cfg.CommandTimeout = DefaultCommandTimeout
	}
	if cfg.Preflight.Timeout == 0 {
		cfg.Preflight.Timeout = 10 * time.Second
	}
	if cfg.Node.Endpoint == "" {
		cfg.Node.Endpoint = DefaultEndpoint
	}
	if cfg.Node.NodeID == "" {
		if h, err := os.Hostname(); err == nil && h != "" {
			cfg.Node.NodeID = h
		} else {
			cfg.Node.NodeID = "sshmount-node"
		}
	}
	if cfg.Profiles == nil {
		cfg.Profiles = map[string]Profile{}
	}
}
