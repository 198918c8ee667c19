package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/nxadm/tail"
	"github.com/spf13/cobra"

	"disview/internal/logging"
)

func newLogsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "logs [file]",
		Short: "Show the newest debug log",
		Long: `Show a log written with DISVIEW_LOG_TO_FILE=1. Without a file argument the
newest disview-*-debug.log in --dir is used.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			follow, _ := cmd.Flags().GetBool("follow")
			dir, _ := cmd.Flags().GetString("dir")

			path := ""
			if len(args) == 1 {
				path = args[0]
			} else {
				latest, err := logging.LatestFile(dir)
				if err != nil {
					return err
				}
				path = latest
			}
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			return showLog(ctx, path, follow, cmd.OutOrStdout())
		},
	}
	cmd.Flags().BoolP("follow", "f", false, "Keep printing lines as they are written")
	cmd.Flags().String("dir", ".", "Directory holding the log files")
	return cmd
}

// showLog copies the log at path to w. With follow it keeps waiting for new
// lines until ctx ends.
func showLog(ctx context.Context, path string, follow bool, w io.Writer) error {
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("log file: %w", err)
	}
	t, err := tail.TailFile(path, tail.Config{
		Follow:    follow,
		ReOpen:    follow,
		MustExist: true,
		Logger:    tail.DiscardingLogger,
	})
	if err != nil {
		return fmt.Errorf("tail %s: %w", path, err)
	}
	defer t.Cleanup()
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-t.Lines:
			if !ok {
				return nil
			}
			if line.Err != nil {
				return fmt.Errorf("tail %s: %w", path, line.Err)
			}
			if _, err := fmt.Fprintln(w, line.Text); err != nil {
				return err
			}
		}
	}
}
