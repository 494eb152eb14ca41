package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/joejulian/sshmount/pkg/config"
)

func newConfigCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the configuration file",
	}
	cmd.AddCommand(newConfigInitCommand(a))
	return cmd
}

// sampleConfig is written as plain maps so durations render as "30s".
func sampleConfig() map[string]any {
	return map[string]any{
		"logging": map[string]any{
			"level":  "info",
			"format": "console",
		},
		"sshfs_path":      "sshfs",
		"command_timeout": config.DefaultCommandTimeout.String(),
		"preflight": map[string]any{
			"enabled":   false,
			"use_agent": true,
			"timeout":   "10s",
		},
		"profiles": map[string]config.Profile{
			"media": {
				Host:       "studio.local",
				User:       os.Getenv("USER"),
				RemotePath: "/Volumes/Media",
				MountPoint: "~/Media",
				VolumeName: "Media",
			},
		},
	}
}

func newConfigInitCommand(a *app) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:         "init",
		Short:       "Write a sample configuration file",
		Args:        usageArgs(cobra.NoArgs),
		Annotations: map[string]string{skipConfigAnnotation: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			path := a.configPath
			if path == "" {
				path = config.GetDefaultConfigPath()
			}
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}

			data, err := yaml.Marshal(sampleConfig())
			if err != nil {
				return err
			}
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return err
			}
			if err := os.WriteFile(path, data, 0o600); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}
