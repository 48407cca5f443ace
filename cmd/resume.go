package cmd

import (
	"context"

	"github.com/spf13/cobra"
	"github.com/tanq16/velodown/internal/scheduler"
	"github.com/tanq16/velodown/internal/utils"
)

func newResumeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resume [ID...]",
		Short: "Resume paused or failed downloads",
		Long:  "Resume the given tasks, or every unfinished task when no ID is given.",
		Args:  cobra.ArbitraryArgs,
		Run: func(cmd *cobra.Command, args []string) {
			runDownloads(func(ctx context.Context, sched *scheduler.Scheduler) []error {
				ids := args
				if len(ids) == 0 {
					for _, task := range sched.ListTasks() {
						if task.Status != utils.StatusCompleted {
							ids = append(ids, task.ID)
						}
					}
				}
				var problems []error
				for _, id := range ids {
					if err := sched.Start(id); err != nil {
						problems = append(problems, err)
					}
				}
				return problems
			})
		},
	}
}
