package cmd

import (
	"context"

	"github.com/spf13/cobra"
	"github.com/tanq16/velodown/internal/scheduler"
	"github.com/tanq16/velodown/internal/utils"
)

func newGetCmd() *cobra.Command {
	var outputPath string

	cmd := &cobra.Command{
		Use:   "get [URL] [--output OUTPUT_PATH]",
		Short: "Download a file via HTTP/HTTPS",
		Long: `Resolve the URL, add it as a task and follow it until it finishes.

Examples:
  velodown get https://example.com/file.zip
  velodown get https://example.com/file.zip -o ~/isos/
  velodown get https://example.com/file.zip -o ./renamed.zip`,
		Args: cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			req := addRequest(args[0], outputPath)
			runDownloads(func(ctx context.Context, sched *scheduler.Scheduler) []error {
				return addAll(ctx, sched, []utils.AddRequest{req})
			})
		},
	}

	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "Output file path or folder (file name is inferred if not provided)")
	return cmd
}
