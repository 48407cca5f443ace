package output

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/tanq16/velodown/internal/utils"
)

type taskOutput struct {
	Task        utils.DownloadTask
	Index       int
	StartTime   time.Time
	LastUpdated time.Time
}

// Manager renders live task progress in the terminal. It observes the
// scheduler and doubles as the completion notifier.
type Manager struct {
	outputs     map[string]*taskOutput
	mutex       sync.RWMutex
	numLines    int
	messages    []string
	doneCh      chan struct{}
	displayTick time.Duration
	taskCount   int
	displayWg   sync.WaitGroup
	out         io.Writer
}

func NewManager() *Manager {
	return &Manager{
		outputs:     make(map[string]*taskOutput),
		doneCh:      make(chan struct{}),
		displayTick: 300 * time.Millisecond,
		out:         os.Stdout,
	}
}

// Notify records the latest snapshot of a task. It never blocks on the
// terminal; rendering happens on the display ticker.
func (m *Manager) Notify(ev utils.Event) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	now := time.Now()
	if ev.Kind == utils.EventDownloadRemoved {
		delete(m.outputs, ev.ID)
		return
	}
	if ev.Task == nil {
		return
	}
	info, exists := m.outputs[ev.ID]
	if !exists {
		m.taskCount++
		info = &taskOutput{Index: m.taskCount, StartTime: now}
		m.outputs[ev.ID] = info
	}
	info.Task = *ev.Task
	info.LastUpdated = now
}

func (m *Manager) NotifyUser(title, body string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.messages = append(m.messages, fmt.Sprintf("%s: %s", title, body))
	return nil
}

func (m *Manager) sortTasks() (active, waiting, finished []*taskOutput) {
	var all []*taskOutput
	for _, info := range m.outputs {
		all = append(all, info)
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].Index < all[j].Index
	})
	for _, t := range all {
		switch {
		case t.Task.Status.Active():
			active = append(active, t)
		case t.Task.Status == utils.StatusCompleted || t.Task.Status == utils.StatusFailed:
			finished = append(finished, t)
		default:
			waiting = append(waiting, t)
		}
	}
	return active, waiting, finished
}

func taskLine(info *taskOutput) string {
	t := info.Task
	indent := strings.Repeat(" ", basePadding)
	switch t.Status {
	case utils.StatusCompleted:
		elapsed := info.LastUpdated.Sub(info.StartTime).Round(time.Second)
		return fmt.Sprintf("%s%s %s %s", indent, statusIndicator(t.Status), debugStyle.Render(elapsed.String()),
			successStyle.Render(fmt.Sprintf("Downloaded %s (%s)", t.FileName, utils.FormatBytes(uint64(t.TotalSize)))))
	case utils.StatusFailed:
		return fmt.Sprintf("%s%s %s", indent, statusIndicator(t.Status), errorStyle.Render(fmt.Sprintf("%s failed: %s", t.FileName, t.ErrorMessage)))
	case utils.StatusRetrying:
		return fmt.Sprintf("%s%s %s", indent, statusIndicator(t.Status), warningStyle.Render(fmt.Sprintf("%s: %s", t.FileName, t.ErrorMessage)))
	case utils.StatusQueued:
		return fmt.Sprintf("%s%s %s", indent, statusIndicator(t.Status), pendingStyle.Render(t.FileName+" waiting..."))
	case utils.StatusPaused:
		return fmt.Sprintf("%s%s %s", indent, statusIndicator(t.Status), warningStyle.Render(fmt.Sprintf("%s paused at %s", t.FileName, utils.FormatBytes(uint64(t.DownloadedSize)))))
	default:
		elapsed := time.Since(info.StartTime).Round(time.Second)
		return fmt.Sprintf("%s%s %s %s", indent, statusIndicator(t.Status), debugStyle.Render(elapsed.String()),
			pendingStyle.Render(fmt.Sprintf("%s %s", statusVerb(t.Status), t.FileName)))
	}
}

func statusVerb(status utils.Status) string {
	if status == utils.StatusVerifying {
		return "Verifying"
	}
	return "Downloading"
}

func progressLine(t utils.DownloadTask) string {
	indent := strings.Repeat(" ", basePadding+4)
	total := "?"
	if t.TotalSize > 0 {
		total = utils.FormatBytes(uint64(t.TotalSize))
	}
	text := fmt.Sprintf("%s / %s", utils.FormatBytes(uint64(t.DownloadedSize)), total)
	return fmt.Sprintf("%s%s%s %s %s %s %s", indent, PrintProgressBar(t.DownloadedSize, t.TotalSize, 30),
		debugStyle.Render(text), StyleSymbols["bullet"], debugStyle.Render(utils.FormatRate(t.Speed)),
		StyleSymbols["bullet"], debugStyle.Render(utils.FormatETA(t.TimeRemaining)))
}

// render lays out the current tasks within the given number of lines.
// Finished tasks are trimmed first when space runs out.
func (m *Manager) render(availableLines int) []string {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	active, waiting, finished := m.sortTasks()

	needed := 2*len(active) + len(waiting) + len(finished)
	if needed > availableLines {
		maxFinished := max(availableLines-(needed-len(finished)), 0)
		if len(finished) > maxFinished {
			finished = finished[len(finished)-maxFinished:]
		}
	}
	var lines []string
	for _, info := range active {
		lines = append(lines, taskLine(info))
		if info.Task.Status == utils.StatusDownloading {
			lines = append(lines, progressLine(info.Task))
		}
	}
	for _, info := range waiting {
		lines = append(lines, taskLine(info))
	}
	if len(finished) > 10 {
		lines = append(lines, infoStyle.Render(fmt.Sprintf("%s%d downloads finished earlier ...", strings.Repeat(" ", basePadding), len(finished)-8)))
		finished = finished[len(finished)-8:]
	}
	for _, info := range finished {
		lines = append(lines, taskLine(info))
	}
	if len(lines) > availableLines {
		lines = lines[:availableLines]
	}
	return lines
}

func (m *Manager) updateDisplay() {
	lines := m.render(getTerminalHeight() - 4)
	if msgs := m.Messages(); len(msgs) > 0 {
		// latest completion notice stays on top of the task list
		lines = append([]string{strings.Repeat(" ", basePadding) + infoStyle.Render(msgs[len(msgs)-1])}, lines...)
	}
	if m.numLines > 0 {
		fmt.Fprintf(m.out, "\033[%dA\033[J", m.numLines)
	}
	for _, line := range lines {
		fmt.Fprintln(m.out, line)
	}
	m.numLines = len(lines)
}

func (m *Manager) StartDisplay() {
	m.displayWg.Add(1)
	go func() {
		defer m.displayWg.Done()
		ticker := time.NewTicker(m.displayTick)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.updateDisplay()
			case <-m.doneCh:
				m.updateDisplay()
				m.ShowSummary()
				return
			}
		}
	}()
}

func (m *Manager) StopDisplay() {
	close(m.doneCh)
	m.displayWg.Wait()
}

// Summary counts the tracked tasks by outcome.
func (m *Manager) Summary() (completed, failed, paused, total int) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	for _, info := range m.outputs {
		switch info.Task.Status {
		case utils.StatusCompleted:
			completed++
		case utils.StatusFailed:
			failed++
		case utils.StatusPaused:
			paused++
		}
	}
	return completed, failed, paused, len(m.outputs)
}

func (m *Manager) ShowSummary() {
	completed, failed, paused, total := m.Summary()
	indent := strings.Repeat(" ", basePadding)
	fmt.Fprintln(m.out)
	fmt.Fprintln(m.out, indent+success2Style.Render(fmt.Sprintf("Completed %d of %d", completed, total)))
	if paused > 0 {
		fmt.Fprintln(m.out, indent+warningStyle.Render(fmt.Sprintf("Paused %d of %d, run resume to continue", paused, total)))
	}
	if failed > 0 {
		fmt.Fprintln(m.out, indent+errorStyle.Render(fmt.Sprintf("Failed %d of %d", failed, total)))
		m.displayErrors()
	}
	fmt.Fprintln(m.out)
}

func (m *Manager) displayErrors() {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	_, _, finished := m.sortTasks()
	fmt.Fprintln(m.out, strings.Repeat(" ", basePadding)+errorStyle.Bold(true).Render("Errors:"))
	i := 0
	for _, info := range finished {
		if info.Task.Status != utils.StatusFailed {
			continue
		}
		i++
		fmt.Fprintf(m.out, "%s%s %s %s\n",
			strings.Repeat(" ", basePadding+2),
			errorStyle.Render(fmt.Sprintf("%d.", i)),
			debugStyle.Render(fmt.Sprintf("[%s]", info.LastUpdated.Format("15:04:05"))),
			errorStyle.Render(info.Task.URL))
		fmt.Fprintf(m.out, "%s%s\n", strings.Repeat(" ", basePadding+4), errorStyle.Render("Error: "+info.Task.ErrorMessage))
	}
}

// Messages returns the completion notifications received so far.
func (m *Manager) Messages() []string {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return append([]string(nil), m.messages...)
}
