package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/tanq16/velodown/internal/output"
	"github.com/tanq16/velodown/internal/scheduler"
)

func newRemoveCmd() *cobra.Command {
	var deleteFile bool

	cmd := &cobra.Command{
		Use:     "remove [ID...]",
		Aliases: []string{"rm"},
		Short:   "Remove downloads from the saved list",
		Long:    "Remove tasks from the saved list. Partial files stay on disk unless --delete-file is set.",
		Args:    cobra.MinimumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			withScheduler(func(ctx context.Context, sched *scheduler.Scheduler) error {
				var errs []error
				for _, id := range args {
					task, err := sched.GetTask(id)
					if err != nil {
						errs = append(errs, err)
						continue
					}
					if err := sched.Cancel(id); err != nil {
						errs = append(errs, err)
						continue
					}
					if deleteFile {
						if err := os.Remove(task.FilePath()); err != nil && !errors.Is(err, os.ErrNotExist) {
							errs = append(errs, fmt.Errorf("removing %s: %w", task.FilePath(), err))
						}
					}
					output.PrintSuccess(fmt.Sprintf("Removed %s (%s)", id, task.FileName))
				}
				return errors.Join(errs...)
			})
		},
	}

	cmd.Flags().BoolVar(&deleteFile, "delete-file", false, "Also delete the downloaded or partial file")
	return cmd
}
