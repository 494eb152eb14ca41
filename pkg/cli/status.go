package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/joejulian/sshmount/pkg/remotemount"
)

var errNoMatch = errors.New("no matching mounts")

func newStatusCommand(a *app) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "status [pattern]",
		Short: "List remote mounts",
		Long: `Lists the sshfs mounts in the mount table together with their health.
A stale mount is listed by the kernel but no longer answers.

With a pattern, every mount whose path or source contains the pattern is
listed, whatever its filesystem type. Exits with status 3 when nothing
matches.`,
		Args: usageArgs(cobra.MaximumNArgs(1)),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return checkFormat(format)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			pattern := ""
			if len(args) == 1 {
				pattern = args[0]
			}
			statuses, err := a.manager().Status(cmd.Context(), pattern)
			if err != nil {
				return err
			}
			if pattern == "" {
				statuses = sshfsOnly(statuses)
			}
			if len(statuses) == 0 {
				if pattern != "" {
					return &exitError{code: ExitNotMounted, err: fmt.Errorf("%w: %q", errNoMatch, pattern)}
				}
				return &exitError{code: ExitNotMounted, err: errors.New("no sshfs mounts")}
			}

			out := cmd.OutOrStdout()
			if format != formatTable {
				return writeStructured(out, format, statuses)
			}
			rows := make([][]string, 0, len(statuses))
			for _, st := range statuses {
				profile, _, _ := a.cfg.ProfileForMountPoint(st.Path)
				rows = append(rows, []string{st.Path, st.Source, st.FSType, st.State.String(), profile})
			}
			return writeTable(out, []string{"MOUNT POINT", "SOURCE", "TYPE", "STATE", "PROFILE"}, rows)
		},
	}
	cmd.Flags().StringVarP(&format, "output", "o", formatTable, "output format (table, json, yaml)")
	return cmd
}

func sshfsOnly(in []remotemount.Status) []remotemount.Status {
	out := in[:0]
	for _, st := range in {
		if st.IsSSHFS() {
			out = append(out, st)
		}
	}
	return out
}
