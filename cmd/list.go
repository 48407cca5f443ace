package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/tanq16/velodown/internal/output"
	"github.com/tanq16/velodown/internal/scheduler"
)

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List saved downloads",
		Args:    cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			withScheduler(func(ctx context.Context, sched *scheduler.Scheduler) error {
				tasks := sched.ListTasks()
				if len(tasks) == 0 {
					output.PrintInfo("No downloads saved")
					return nil
				}
				fmt.Println(output.TaskTable(tasks))
				return nil
			})
		},
	}
}
