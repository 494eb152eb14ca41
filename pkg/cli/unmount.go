package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/joejulian/sshmount/pkg/remotemount"
)

func newUnmountCommand(a *app) *cobra.Command {
	var (
		opts remotemount.UnmountOptions
		all  bool
	)
	cmd := &cobra.Command{
		Use:     "unmount [profile | path]",
		Aliases: []string{"umount"},
		Short:   "Release a remote mount",
		Long: `Releases the mount of a profile or at a path. When the graceful release
fails because the mount is busy, the mount is released forcibly. Forced
release can lose writes that were not yet flushed to the remote host.

Exits with status 3 when nothing is mounted at the path.`,
		Args: usageArgs(cobra.MaximumNArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			mgr := a.manager()

			if all {
				if len(args) > 0 {
					return usageErrorf("--all takes no arguments")
				}
				results, err := mgr.UnmountAll(cmd.Context(), opts)
				for _, res := range results {
					printUnmounted(out, res)
				}
				return err
			}

			path, err := a.resolveMountPoint(args)
			if err != nil {
				return err
			}
			res, err := mgr.Unmount(cmd.Context(), path, opts)
			if err != nil {
				if errors.Is(err, remotemount.ErrBusy) {
					return fmt.Errorf("%w (rerun with --force to release it anyway)", err)
				}
				return err
			}
			printUnmounted(out, res)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&opts.Force, "force", "f", false, "skip the graceful release and force it")
	cmd.Flags().BoolVar(&opts.NoFallback, "no-fallback", false, "fail instead of forcing when the mount is busy")
	cmd.Flags().BoolVarP(&all, "all", "a", false, "release every sshfs mount")
	cmd.MarkFlagsMutuallyExclusive("force", "no-fallback")
	return cmd
}

func printUnmounted(w io.Writer, res remotemount.UnmountResult) {
	if res.Forced {
		fmt.Fprintf(w, "unmounted %s (forced)\n", res.Path)
		return
	}
	fmt.Fprintf(w, "unmounted %s\n", res.Path)
}
