package output

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/tanq16/velodown/internal/utils"
	"golang.org/x/term"
)

func PrintProgressBar(current, total int64, width int) string {
	if width <= 0 {
		width = 30
	}
	if total <= 0 {
		total = 1
	}
	current = max(0, min(current, total))
	percent := float64(current) / float64(total)
	filled := max(0, min(int(percent*float64(width)), width))
	bar := StyleSymbols["bullet"]
	bar += strings.Repeat(StyleSymbols["hline"], filled)
	if filled < width {
		bar += strings.Repeat(" ", width-filled)
	}
	bar += StyleSymbols["bullet"]
	return debugStyle.Render(fmt.Sprintf("%s %.1f%% %s ", bar, percent*100, StyleSymbols["bullet"]))
}

func getTerminalHeight() int {
	_, height, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || height <= 0 {
		return 24
	}
	return height
}

// TaskTable renders tasks as a bordered table for the list command.
func TaskTable(tasks []utils.DownloadTask) string {
	t := table.New().Headers("ID", "File", "Status", "Progress", "Size", "Attempts")
	t = t.StyleFunc(func(row, col int) lipgloss.Style {
		if row == table.HeaderRow {
			return lipgloss.NewStyle().Bold(true).Align(lipgloss.Center).Padding(0, 1)
		}
		return lipgloss.NewStyle().Padding(0, 1)
	})
	for _, task := range tasks {
		size := "unknown"
		if task.TotalSize > 0 {
			size = utils.FormatBytes(uint64(task.TotalSize))
		}
		t.Row(
			task.ID,
			task.FileName,
			statusStyle(task.Status).Render(string(task.Status)),
			fmt.Sprintf("%.1f%%", task.Progress),
			size,
			fmt.Sprint(task.ResumeAttempts),
		)
	}
	return t.String()
}

func statusStyle(status utils.Status) lipgloss.Style {
	switch status {
	case utils.StatusCompleted:
		return successStyle
	case utils.StatusFailed:
		return errorStyle
	case utils.StatusRetrying, utils.StatusPaused:
		return warningStyle
	case utils.StatusQueued:
		return pendingStyle
	case utils.StatusVerifying:
		return streamStyle
	default:
		return infoStyle
	}
}

func statusIndicator(status utils.Status) string {
	switch status {
	case utils.StatusCompleted:
		return successStyle.Render(StyleSymbols["pass"])
	case utils.StatusFailed:
		return errorStyle.Render(StyleSymbols["fail"])
	case utils.StatusRetrying:
		return warningStyle.Render(StyleSymbols["warning"])
	case utils.StatusPaused:
		return warningStyle.Render(StyleSymbols["pause"])
	case utils.StatusQueued:
		return pendingStyle.Render(StyleSymbols["pending"])
	default:
		return infoStyle.Render(StyleSymbols["bullet"])
	}
}
