package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/tanq16/velodown/internal/output"
	"github.com/tanq16/velodown/internal/scheduler"
	"github.com/tanq16/velodown/internal/utils"
)

var settingFlags = []string{
	"folder", "max-concurrent", "max-connections", "auto-start", "notifications",
	"auto-resume", "max-resume-attempts", "resume-delay", "min-fail-duration",
}

func newSettingsCmd() *cobra.Command {
	var (
		folder            string
		maxConcurrent     int
		maxConnections    int
		autoStart         bool
		showNotifications bool
		autoResume        bool
		maxResumeAttempts int
		resumeDelay       time.Duration
		minFailDuration   time.Duration
	)

	cmd := &cobra.Command{
		Use:   "settings [FLAGS]",
		Short: "Show or change the saved settings",
		Long: `Show the saved settings. Any flag given is written back first.

Examples:
  velodown settings
  velodown settings --max-concurrent 2 --resume-delay 30s`,
		Args: cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			withScheduler(func(ctx context.Context, sched *scheduler.Scheduler) error {
				settings := sched.Settings()
				flags := cmd.Flags()
				changed := false
				for _, name := range settingFlags {
					changed = changed || flags.Changed(name)
				}
				if !changed {
					printSettings(settings)
					return nil
				}
				if flags.Changed("folder") {
					settings.DownloadFolder = folder
				}
				if flags.Changed("max-concurrent") {
					settings.MaxConcurrentDownloads = maxConcurrent
				}
				if flags.Changed("max-connections") {
					settings.MaxConnectionsPerDownload = maxConnections
				}
				if flags.Changed("auto-start") {
					settings.AutoStart = autoStart
				}
				if flags.Changed("notifications") {
					settings.ShowNotifications = showNotifications
				}
				if flags.Changed("auto-resume") {
					settings.AutoResumeDownloads = autoResume
				}
				if flags.Changed("max-resume-attempts") {
					settings.MaxResumeAttempts = maxResumeAttempts
				}
				if flags.Changed("resume-delay") {
					settings.ResumeDelay = resumeDelay
				}
				if flags.Changed("min-fail-duration") {
					settings.MinFailDuration = minFailDuration
				}
				updated, err := sched.UpdateSettings(settings)
				if err != nil {
					return err
				}
				printSettings(updated)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&folder, "folder", "", "Default download folder")
	cmd.Flags().IntVar(&maxConcurrent, "max-concurrent", 0, "Downloads running at once (0 for no limit)")
	cmd.Flags().IntVar(&maxConnections, "max-connections", 0, "Connections recorded per download")
	cmd.Flags().BoolVar(&autoStart, "auto-start", true, "Start downloads as soon as they are added")
	cmd.Flags().BoolVar(&showNotifications, "notifications", true, "Announce finished downloads")
	cmd.Flags().BoolVar(&autoResume, "auto-resume", true, "Retry interrupted downloads automatically")
	cmd.Flags().IntVar(&maxResumeAttempts, "max-resume-attempts", 0, "Automatic retries before a download fails")
	cmd.Flags().DurationVar(&resumeDelay, "resume-delay", 0, "Wait before each automatic retry (eg. 10s)")
	cmd.Flags().DurationVar(&minFailDuration, "min-fail-duration", 0, "Retries failing faster than this stop retrying (eg. 20s)")
	return cmd
}

func printSettings(s utils.Settings) {
	rows := [][2]string{
		{"Download folder", s.DownloadFolder},
		{"Max concurrent downloads", fmt.Sprint(s.MaxConcurrentDownloads)},
		{"Max connections per download", fmt.Sprint(s.MaxConnectionsPerDownload)},
		{"Auto start", fmt.Sprint(s.AutoStart)},
		{"Show notifications", fmt.Sprint(s.ShowNotifications)},
		{"Auto resume", fmt.Sprint(s.AutoResumeDownloads)},
		{"Max resume attempts", fmt.Sprint(s.MaxResumeAttempts)},
		{"Resume delay", s.ResumeDelay.String()},
		{"Min fail duration", s.MinFailDuration.String()},
	}
	output.PrintHeader("Settings")
	for _, row := range rows {
		fmt.Printf("  %s %s\n", output.FDebug(row[0]+strings.Repeat(" ", 30-len(row[0]))), row[1])
	}
}
