package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/joejulian/sshmount/pkg/sshfs"
)

// Config represents the complete sshmount configuration.
//
// Configuration sources (in order of precedence):
//  1. CLI flags
//  2. Environment variables (SSHMOUNT_*)
//  3. Configuration file (YAML or TOML)
//  4. Default values
type Config struct {
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// SSHFSPath is the sshfs binary to run.
	SSHFSPath string `mapstructure:"sshfs_path" yaml:"sshfs_path" validate:"required"`

	// MountHelper mounts through mount(8) -t fuse.sshfs on Linux.
	MountHelper bool `mapstructure:"mount_helper" yaml:"mount_helper"`

	// CommandTimeout bounds every external command.
	CommandTimeout time.Duration `mapstructure:"command_timeout" yaml:"command_timeout" validate:"gt=0"`

	Preflight PreflightConfig `mapstructure:"preflight" yaml:"preflight"`

	Node NodeConfig `mapstructure:"node" yaml:"node"`

	// Profiles are named remote mounts. Names are case-insensitive.
	Profiles map[string]Profile `mapstructure:"profiles" yaml:"profiles" validate:"dive"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level" validate:"required,oneof=debug info warn error"`
	Format string `mapstructure:"format" yaml:"format" validate:"required,oneof=json console"`
}

// PreflightConfig controls the SSH check run before mounting.
type PreflightConfig struct {
	Enabled               bool          `mapstructure:"enabled" yaml:"enabled"`
	UseAgent              bool          `mapstructure:"use_agent" yaml:"use_agent"`
	KnownHostsFile        string        `mapstructure:"known_hosts_file" yaml:"known_hosts_file,omitempty"`
	InsecureIgnoreHostKey bool          `mapstructure:"insecure_ignore_host_key" yaml:"insecure_ignore_host_key"`
	Timeout               time.Duration `mapstructure:"timeout" yaml:"timeout" validate:"gt=0"`
}

// NodeConfig configures the CSI node plugin.
type NodeConfig struct {
	// Endpoint is a unix:// or tcp:// URI.
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint" validate:"required,startswith=unix://|startswith=tcp://"`
	NodeID   string `mapstructure:"node_id" yaml:"node_id" validate:"required"`
}

// Profile is one named remote mount.
type Profile struct {
	Host       string `mapstructure:"host" yaml:"host" validate:"required,hostname_rfc1123|ip"`
	User       string `mapstructure:"user" yaml:"user,omitempty"`
	Port       int    `mapstructure:"port" yaml:"port,omitempty" validate:"omitempty,min=1,max=65535"`
	RemotePath string `mapstructure:"remote_path" yaml:"remote_path" validate:"required"`
	MountPoint string `mapstructure:"mount_point" yaml:"mount_point" validate:"required"`

	// VolumeName is the display name; defaults to the profile name.
	VolumeName   string `mapstructure:"volume_name" yaml:"volume_name,omitempty"`
	IdentityFile string `mapstructure:"identity_file" yaml:"identity_file,omitempty"`

	// AttrCache and Reconnect default to true.
	AttrCache           *bool         `mapstructure:"attr_cache" yaml:"attr_cache,omitempty"`
	Reconnect           *bool         `mapstructure:"reconnect" yaml:"reconnect,omitempty"`
	ServerAliveInterval time.Duration `mapstructure:"server_alive_interval" yaml:"server_alive_interval,omitempty" validate:"gte=0"`

	// Options are extra sshfs -o options.
	Options []string `mapstructure:"options" yaml:"options,omitempty"`
}

// Target converts the profile into an sshfs target. The mount point may
// start with ~/.
func (p Profile) Target(name string) sshfs.Target {
	t := sshfs.Target{
		User:                p.User,
		Host:                p.Host,
		Port:                p.Port,
		RemotePath:          p.RemotePath,
		MountPoint:          ExpandHome(p.MountPoint),
		VolumeName:          p.VolumeName,
		IdentityFile:        ExpandHome(p.IdentityFile),
		AttrCache:           p.AttrCache == nil || *p.AttrCache,
		Reconnect:           p.Reconnect == nil || *p.Reconnect,
		ServerAliveInterval: p.ServerAliveInterval,
		ExtraOptions:        p.Options,
	}
	if t.VolumeName == "" {
		t.VolumeName = name
	}
	return t
}

// Profile looks up a profile by name.
func (c *Config) Profile(name string) (Profile, error) {
	if p, ok := c.Profiles[strings.ToLower(name)]; ok {
		return p, nil
	}
	return Profile{}, fmt.Errorf("unknown profile %q (known: %s)", name, strings.Join(c.ProfileNames(), ", "))
}

// ProfileForMountPoint finds the profile whose mount point is path.
func (c *Config) ProfileForMountPoint(path string) (string, Profile, bool) {
	cleaned := filepath.Clean(path)
	for _, name := range c.ProfileNames() {
		p := c.Profiles[name]
		if filepath.Clean(ExpandHome(p.MountPoint)) == cleaned {
			return name, p, true
		}
	}
	return "", Profile{}, false
}

func (c *Config) ProfileNames() []string {
	names := make([]string, 0, len(c.Profiles))
	for n := range c.Profiles {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// flagKeys maps CLI flag names onto configuration keys.
var flagKeys = map[string]string{
	"log-level":       "logging.level",
	"log-format":      "logging.format",
	"sshfs-path":      "sshfs_path",
	"mount-helper":    "mount_helper",
	"command-timeout": "command_timeout",
	"endpoint":        "node.endpoint",
	"node-id":         "node.node_id",
}

// Load loads configuration from file, environment, flags and defaults.
// configPath may be empty to use the default location; flags may be nil.
func Load(configPath string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	setupViper(v, configPath)
	setViperDefaults(v)

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("binding flag %s: %w", name, err)
				}
			}
		}
	}

	if err := readConfigFile(v, configPath); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

func setupViper(v *viper.Viper, configPath string) {
	// Example: SSHMOUNT_LOGGING_LEVEL=debug
	v.SetEnvPrefix("SSHMOUNT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

func readConfigFile(v *viper.Viper, configPath string) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok && configPath == "" {
			// No config file at the default location is fine.
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	return nil
}

// getConfigDir returns $XDG_CONFIG_HOME/sshmount, ~/.config/sshmount, or the
// current directory as a last resort.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "sshmount")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "sshmount")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}
