package cli

import (
	"strconv"

	"github.com/spf13/cobra"

	"github.com/joejulian/sshmount/pkg/remotemount"
)

func newCheckCommand(a *app) *cobra.Command {
	var (
		tf     targetFlags
		format string
	)
	cmd := &cobra.Command{
		Use:   "check [profile | [user@]host:path mountpoint]",
		Short: "Verify that the remote host accepts passwordless SSH",
		Long: `Connects to the SSH server of a profile, authenticates with public keys
only (agent or identity file) and checks that the remote directory exists.
Nothing is mounted.`,
		Args: usageArgs(cobra.MaximumNArgs(2)),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return checkFormat(format)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := a.resolveTarget(args)
			if err != nil {
				return err
			}
			tf.apply(cmd, &target)

			report, checkErr := a.check(cmd.Context(), remotemount.PreflightOptions(a.preflightOptions(), target))
			if report != nil {
				out := cmd.OutOrStdout()
				var err error
				if format == formatTable {
					err = writeTable(out, []string{"CHECK", "RESULT"}, [][]string{
						{"address", report.Address},
						{"user", report.User},
						{"reachable", strconv.FormatBool(report.Reachable)},
						{"authenticated", strconv.FormatBool(report.Authenticated)},
						{"remote path", strconv.FormatBool(report.RemotePathChecked)},
						{"host key", report.HostKeyFingerprint},
						{"elapsed", formatDuration(report.Elapsed)},
					})
				} else {
					err = writeStructured(out, format, report)
				}
				if err != nil && checkErr == nil {
					return err
				}
			}
			return checkErr
		},
	}
	tf.register(cmd)
	cmd.Flags().StringVar(&format, "output", formatTable, "output format (table, json, yaml)")
	return cmd
}
