package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newMountCommand(a *app) *cobra.Command {
	var tf targetFlags
	cmd := &cobra.Command{
		Use:   "mount [profile | [user@]host:path mountpoint]",
		Short: "Mount a remote directory over SSHFS",
		Long: `Mounts the remote directory of a profile (or of an explicit source) onto
its local mount point. The mount point directory is created when missing.

Attribute caching and automatic reconnection are enabled unless turned off.
On macOS the volume is named after the profile.

Examples:
  sshmount mount media
  sshmount mount alice@studio.local:/Volumes/Media ~/Media --port 2222`,
		Args: usageArgs(func(cmd *cobra.Command, args []string) error {
			if len(args) > 2 {
				return fmt.Errorf("accepts at most 2 arg(s), received %d", len(args))
			}
			return nil
		}),
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := a.resolveTarget(args)
			if err != nil {
				return err
			}
			tf.apply(cmd, &target)

			if err := a.manager().Mount(cmd.Context(), target); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "mounted %s at %s\n", target.Source(), target.MountPoint)
			return nil
		},
	}
	tf.register(cmd)
	return cmd
}
