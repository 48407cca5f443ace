package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/tanq16/velodown/internal/output"
	"github.com/tanq16/velodown/internal/scheduler"
	"github.com/tanq16/velodown/internal/utils"
	"gopkg.in/yaml.v3"
)

// BatchFile groups entries by link type; only http sections are downloadable.
type BatchFile map[string][]utils.BatchEntry

func newBatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batch [YAML_FILE]",
		Short: "Process multiple downloads from a YAML file",
		Long: `Add every link of a YAML batch file and follow them until they finish.

Example file:
  http:
    - link: https://example.com/a.zip
    - link: https://example.com/b.iso
      op: ./images/b.iso`,
		Args: cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			data, err := os.ReadFile(args[0])
			if err != nil {
				output.PrintError(fmt.Sprintf("Error reading YAML file: %v", err))
				os.Exit(1)
			}
			var batchFile BatchFile
			if err := yaml.Unmarshal(data, &batchFile); err != nil {
				output.PrintError(fmt.Sprintf("Error parsing YAML file: %v", err))
				os.Exit(1)
			}
			reqs := buildRequestsFromBatch(batchFile)
			if len(reqs) == 0 {
				output.PrintError("No valid entries found in the batch file")
				os.Exit(1)
			}
			runDownloads(func(ctx context.Context, sched *scheduler.Scheduler) []error {
				return addAll(ctx, sched, reqs)
			})
		},
	}
	return cmd
}

func buildRequestsFromBatch(batchFile BatchFile) []utils.AddRequest {
	var reqs []utils.AddRequest
	for section, entries := range batchFile {
		switch strings.ToLower(section) {
		case "http", "https":
		default:
			output.PrintWarning(fmt.Sprintf("Unknown section '%s', skipping...", section))
			continue
		}
		for _, entry := range entries {
			if entry.Link == "" {
				output.PrintWarning(fmt.Sprintf("Empty link found in %s section, skipping...", section))
				continue
			}
			reqs = append(reqs, addRequest(entry.Link, entry.OutputPath))
		}
	}
	return reqs
}
