package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/tanq16/velodown/internal/output"
	"github.com/tanq16/velodown/internal/scheduler"
	"github.com/tanq16/velodown/internal/utils"
)

func newCleanCmd() *cobra.Command {
	var failed bool

	cmd := &cobra.Command{
		Use:   "clean",
		Short: "Drop finished downloads from the saved list",
		Long:  "Drop completed tasks from the saved list. Files on disk are kept.",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			withScheduler(func(ctx context.Context, sched *scheduler.Scheduler) error {
				removed := 0
				for _, task := range sched.ListTasks() {
					if task.Status != utils.StatusCompleted && !(failed && task.Status == utils.StatusFailed) {
						continue
					}
					if err := sched.Cancel(task.ID); err != nil {
						return err
					}
					removed++
				}
				output.PrintSuccess(fmt.Sprintf("Removed %d finished download(s)", removed))
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&failed, "failed", false, "Also drop failed tasks")
	return cmd
}
