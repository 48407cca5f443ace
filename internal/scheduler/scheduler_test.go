package scheduler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tanq16/velodown/internal/utils"
)

type memoryStore struct {
	mu    sync.Mutex
	snap  utils.Snapshot
	saves int
}

func (m *memoryStore) Load(ctx context.Context) (utils.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snap, nil
}

func (m *memoryStore) Save(ctx context.Context, snap utils.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snap = snap
	m.saves++
	return nil
}

func (m *memoryStore) saved() utils.Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snap
}

type recorder struct {
	mu         sync.Mutex
	events     []utils.Event
	violations []string
}

func (r *recorder) Notify(ev utils.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	if t := ev.Task; t != nil && t.TotalSize > 0 {
		if t.DownloadedSize > t.TotalSize {
			r.violations = append(r.violations, fmt.Sprintf("downloaded %d > total %d", t.DownloadedSize, t.TotalSize))
		}
		want := float64(t.DownloadedSize) / float64(t.TotalSize) * 100
		if math.Abs(t.Progress-want) > 1e-6 {
			r.violations = append(r.violations, fmt.Sprintf("progress %f, want %f", t.Progress, want))
		}
	}
	if t := ev.Task; t != nil {
		hasErr := t.ErrorMessage != ""
		errStatus := t.Status == utils.StatusFailed || t.Status == utils.StatusRetrying
		if hasErr != errStatus {
			r.violations = append(r.violations, fmt.Sprintf("status %s with error message %q", t.Status, t.ErrorMessage))
		}
	}
}

// statuses lists the task's observed statuses with repeats collapsed.
func (r *recorder) statuses(id string) []utils.Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []utils.Status
	for _, ev := range r.events {
		if ev.ID != id || ev.Task == nil {
			continue
		}
		if len(out) == 0 || out[len(out)-1] != ev.Task.Status {
			out = append(out, ev.Task.Status)
		}
	}
	return out
}

func (r *recorder) removed(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ev := range r.events {
		if ev.ID == id && ev.Kind == utils.EventDownloadRemoved {
			return true
		}
	}
	return false
}

func (r *recorder) check(t *testing.T) {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, v := range r.violations {
		t.Errorf("invalid snapshot observed: %s", v)
	}
}

type notifications struct {
	mu     sync.Mutex
	bodies []string
}

func (n *notifications) NotifyUser(title, body string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.bodies = append(n.bodies, body)
	return nil
}

func (n *notifications) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.bodies)
}

type harness struct {
	s      *Scheduler
	obs    *recorder
	store  *memoryStore
	notify *notifications
	dir    string
}

func newHarness(t *testing.T, configure func(*utils.Settings)) *harness {
	t.Helper()
	h := &harness{obs: &recorder{}, store: &memoryStore{}, notify: &notifications{}, dir: t.TempDir()}
	h.s = New(Options{
		Store:    h.store,
		Observer: h.obs,
		Notifier: h.notify,
		Client:   utils.NewVeloHTTPClient(utils.HTTPClientConfig{Timeout: 5 * time.Second}),
	})
	settings := utils.DefaultSettings()
	settings.DownloadFolder = h.dir
	settings.ResumeDelay = 10 * time.Millisecond
	settings.MinFailDuration = 0
	if configure != nil {
		configure(&settings)
	}
	if _, err := h.s.UpdateSettings(settings); err != nil {
		t.Fatalf("UpdateSettings: %v", err)
	}
	t.Cleanup(func() {
		h.s.Close()
		h.obs.check(t)
	})
	return h
}

func (h *harness) wait(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := h.s.Wait(ctx); err != nil {
		t.Fatalf("scheduler did not become idle: %v", err)
	}
}

func (h *harness) task(t *testing.T, id string) utils.DownloadTask {
	t.Helper()
	task, err := h.s.GetTask(id)
	if err != nil {
		t.Fatalf("GetTask(%s): %v", id, err)
	}
	return task
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func fileSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return -1
	}
	return info.Size()
}

func payload(size int) []byte {
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i % 253)
	}
	return data
}

// serveRange writes data honouring an open-ended Range header.
func serveRange(w http.ResponseWriter, r *http.Request, data []byte) {
	w.Header().Set("Accept-Ranges", "bytes")
	rng := r.Header.Get("Range")
	if rng == "" {
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		w.Write(data)
		return
	}
	start, _ := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(rng, "bytes="), "-"))
	w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, len(data)-1, len(data)))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)-start))
	w.WriteHeader(http.StatusPartialContent)
	w.Write(data[start:])
}

func equalStatuses(got []utils.Status, want ...utils.Status) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

func TestAddTaskEndToEnd(t *testing.T) {
	data := payload(1000)
	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		serveRange(w, r, data)
	}))
	defer server.Close()
	h := newHarness(t, nil)

	task, err := h.s.AddTask(context.Background(), utils.AddRequest{URL: server.URL + "/file.bin"})
	if err != nil {
		t.Fatalf("AddTask: %v", err)
	}
	if task.Status != utils.StatusQueued {
		t.Errorf("expected new task to be queued, got %s", task.Status)
	}
	if task.FileName != "file.bin" || task.TotalSize != 1000 {
		t.Errorf("expected resolved name and size, got %q %d", task.FileName, task.TotalSize)
	}
	h.wait(t)

	final := h.task(t, task.ID)
	if final.Status != utils.StatusCompleted || final.Progress != 100 || final.DownloadedSize != 1000 {
		t.Errorf("unexpected final task %+v", final)
	}
	if final.CompletedAt == nil || final.Speed != 0 || final.ErrorMessage != "" {
		t.Errorf("completed task should have a completion time and no speed or error: %+v", final)
	}
	if !final.ResumeCapability {
		t.Error("expected resume capability from Accept-Ranges")
	}
	got, _ := os.ReadFile(filepath.Join(h.dir, "file.bin"))
	if !bytes.Equal(got, data) {
		t.Errorf("downloaded file mismatch, %d bytes", len(got))
	}
	statuses := h.obs.statuses(task.ID)
	if !equalStatuses(statuses, utils.StatusQueued, utils.StatusDownloading, utils.StatusVerifying, utils.StatusCompleted) {
		t.Errorf("unexpected status sequence %v", statuses)
	}
	if h.notify.count() != 1 {
		t.Errorf("expected one completion notification, got %d", h.notify.count())
	}

	before := requests.Load()
	if err := h.s.Start(task.ID); err != nil {
		t.Fatalf("Start on completed task: %v", err)
	}
	h.wait(t)
	if requests.Load() != before || h.task(t, task.ID).Status != utils.StatusCompleted {
		t.Error("starting a completed task should do nothing")
	}
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestLogsFollowRedirectAfterConstruction(t *testing.T) {
	data := payload(300)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		serveRange(w, r, data)
	}))
	defer server.Close()
	utils.InitLogger(false)
	defer utils.InitLogger(false)
	h := newHarness(t, nil)

	var logs lockedBuffer
	utils.SetLogOutput(&logs)
	if _, err := h.s.AddTask(context.Background(), utils.AddRequest{URL: server.URL + "/log.bin"}); err != nil {
		t.Fatalf("AddTask: %v", err)
	}
	h.wait(t)

	out := logs.String()
	for _, want := range []string{"Task added", "Task completed", "component=scheduler"} {
		if !strings.Contains(out, want) {
			t.Errorf("redirected log missing %q:\n%s", want, out)
		}
	}
}

func TestNotFoundFailsWithoutRetry(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	defer server.Close()
	h := newHarness(t, nil)

	task, err := h.s.AddTask(context.Background(), utils.AddRequest{URL: server.URL + "/missing.bin", FileName: "missing.bin"})
	if err != nil {
		t.Fatalf("AddTask: %v", err)
	}
	h.wait(t)

	final := h.task(t, task.ID)
	if final.Status != utils.StatusFailed {
		t.Fatalf("expected failed, got %s", final.Status)
	}
	if final.ResumeAttempts != 0 || !strings.Contains(final.ErrorMessage, "404") {
		t.Errorf("expected no attempts consumed and a 404 message, got %d %q", final.ResumeAttempts, final.ErrorMessage)
	}
	statuses := h.obs.statuses(task.ID)
	if !equalStatuses(statuses, utils.StatusQueued, utils.StatusDownloading, utils.StatusFailed) {
		t.Errorf("unexpected status sequence %v", statuses)
	}
	if h.notify.count() != 0 {
		t.Error("failed task should not notify")
	}
}

func TestServerErrorThenSuccess(t *testing.T) {
	data := payload(1000)
	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if requests.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		serveRange(w, r, data)
	}))
	defer server.Close()
	h := newHarness(t, nil)

	task, err := h.s.AddTask(context.Background(), utils.AddRequest{URL: server.URL + "/file.bin", FileName: "file.bin", TotalSize: 1000})
	if err != nil {
		t.Fatalf("AddTask: %v", err)
	}
	h.wait(t)

	final := h.task(t, task.ID)
	if final.Status != utils.StatusCompleted || final.ResumeAttempts != 1 {
		t.Errorf("expected completed after one retry, got %s with %d attempts", final.Status, final.ResumeAttempts)
	}
	statuses := h.obs.statuses(task.ID)
	if !equalStatuses(statuses, utils.StatusQueued, utils.StatusDownloading, utils.StatusRetrying,
		utils.StatusDownloading, utils.StatusVerifying, utils.StatusCompleted) {
		t.Errorf("unexpected status sequence %v", statuses)
	}
}

func TestRetryBudgetExhausted(t *testing.T) {
	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()
	h := newHarness(t, func(s *utils.Settings) { s.MaxResumeAttempts = 3 })

	task, err := h.s.AddTask(context.Background(), utils.AddRequest{URL: server.URL + "/file.bin", FileName: "file.bin"})
	if err != nil {
		t.Fatalf("AddTask: %v", err)
	}
	h.wait(t)

	final := h.task(t, task.ID)
	if final.Status != utils.StatusFailed || final.ResumeAttempts != 3 {
		t.Errorf("expected failed after 3 attempts, got %s with %d", final.Status, final.ResumeAttempts)
	}
	if n := requests.Load(); n != 4 {
		t.Errorf("expected 4 requests (first try plus 3 retries), got %d", n)
	}
	retrying := 0
	for _, st := range h.obs.statuses(task.ID) {
		if st == utils.StatusRetrying {
			retrying++
		}
	}
	if retrying != 3 {
		t.Errorf("expected 3 retry cycles, got %d", retrying)
	}
}

func TestQuickRetryFailureStops(t *testing.T) {
	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()
	h := newHarness(t, func(s *utils.Settings) { s.MinFailDuration = time.Minute })

	task, _ := h.s.AddTask(context.Background(), utils.AddRequest{URL: server.URL + "/f.bin", FileName: "f.bin"})
	h.wait(t)
	final := h.task(t, task.ID)
	if final.Status != utils.StatusFailed || final.ResumeAttempts != 1 || requests.Load() != 2 {
		t.Errorf("expected failure after one quick retry, got %s attempts=%d requests=%d", final.Status, final.ResumeAttempts, requests.Load())
	}
}

func TestManualResumeAfterFailureCountsAttempt(t *testing.T) {
	data := payload(500)
	var healthy atomic.Bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !healthy.Load() {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		serveRange(w, r, data)
	}))
	defer server.Close()
	h := newHarness(t, nil)

	task, _ := h.s.AddTask(context.Background(), utils.AddRequest{URL: server.URL + "/a.zip", FileName: "a.zip"})
	h.wait(t)
	if st := h.task(t, task.ID).Status; st != utils.StatusFailed {
		t.Fatalf("expected failed on 403, got %s", st)
	}
	if err := h.s.Pause(task.ID); err != nil || h.task(t, task.ID).Status != utils.StatusFailed {
		t.Errorf("pausing a failed task should be a no-op, err=%v", err)
	}

	healthy.Store(true)
	if err := h.s.Start(task.ID); err != nil {
		t.Fatalf("Start: %v", err)
	}
	h.wait(t)
	final := h.task(t, task.ID)
	if final.Status != utils.StatusCompleted || final.ResumeAttempts != 1 {
		t.Errorf("expected completion with one attempt counted, got %s %d", final.Status, final.ResumeAttempts)
	}
}

func TestPauseAndResumeFromOffset(t *testing.T) {
	data := payload(1000)
	var mu sync.Mutex
	var ranges []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rng := r.Header.Get("Range")
		mu.Lock()
		ranges = append(ranges, rng)
		mu.Unlock()
		if rng != "" {
			serveRange(w, r, data)
			return
		}
		w.Header().Set("Accept-Ranges", "bytes")
		w.Header().Set("Content-Length", "1000")
		w.Write(data[:400])
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer server.Close()
	h := newHarness(t, nil)

	task, err := h.s.AddTask(context.Background(), utils.AddRequest{URL: server.URL + "/movie.mp4", FileName: "movie.mp4", TotalSize: 1000})
	if err != nil {
		t.Fatalf("AddTask: %v", err)
	}
	path := filepath.Join(h.dir, "movie.mp4")
	waitFor(t, "partial data on disk", func() bool { return fileSize(path) == 400 })

	if err := h.s.Pause(task.ID); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	paused := h.task(t, task.ID)
	if paused.Status != utils.StatusPaused || paused.DownloadedSize != 400 || paused.Progress != 40 || paused.Speed != 0 {
		t.Fatalf("unexpected paused task %+v", paused)
	}

	if err := h.s.Start(task.ID); err != nil {
		t.Fatalf("Start: %v", err)
	}
	h.wait(t)
	final := h.task(t, task.ID)
	if final.Status != utils.StatusCompleted || final.ResumeAttempts != 0 {
		t.Errorf("expected completion without consuming attempts, got %s %d", final.Status, final.ResumeAttempts)
	}
	mu.Lock()
	gotRanges := append([]string(nil), ranges...)
	mu.Unlock()
	if len(gotRanges) != 2 || gotRanges[1] != "bytes=400-" {
		t.Errorf("expected resume request from byte 400, got %v", gotRanges)
	}
	got, _ := os.ReadFile(path)
	if !bytes.Equal(got, data) || int64(len(got)) != final.TotalSize {
		t.Errorf("resumed file mismatch, %d bytes", len(got))
	}
}

func TestCancelRemovesTaskAndStopsWrites(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "100000000")
		chunk := payload(100)
		for {
			select {
			case <-r.Context().Done():
				return
			default:
			}
			if _, err := w.Write(chunk); err != nil {
				return
			}
			w.(http.Flusher).Flush()
			time.Sleep(10 * time.Millisecond)
		}
	}))
	defer server.Close()
	h := newHarness(t, nil)

	task, _ := h.s.AddTask(context.Background(), utils.AddRequest{URL: server.URL + "/big.iso", FileName: "big.iso"})
	path := filepath.Join(h.dir, "big.iso")
	waitFor(t, "bytes on disk", func() bool { return fileSize(path) > 0 })

	if err := h.s.Cancel(task.ID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	size := fileSize(path)
	time.Sleep(3 * utils.SampleInterval)
	if after := fileSize(path); after != size {
		t.Errorf("file kept growing after cancel: %d -> %d", size, after)
	}
	if _, err := h.s.GetTask(task.ID); !errors.Is(err, utils.ErrTaskNotFound) {
		t.Errorf("expected task to be gone, got %v", err)
	}
	for _, listed := range h.s.ListTasks() {
		if listed.ID == task.ID {
			t.Error("cancelled task still listed")
		}
	}
	if !h.obs.removed(task.ID) {
		t.Error("expected a download_removed event")
	}
}

func TestConcurrencyLimit(t *testing.T) {
	data := payload(1000)
	release := make(chan struct{})
	var active, peak atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := active.Add(1)
		defer active.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		select {
		case <-release:
		case <-r.Context().Done():
			return
		}
		serveRange(w, r, data)
	}))
	defer server.Close()
	h := newHarness(t, func(s *utils.Settings) { s.MaxConcurrentDownloads = 1 })

	first, _ := h.s.AddTask(context.Background(), utils.AddRequest{URL: server.URL + "/one.bin", FileName: "one.bin"})
	second, _ := h.s.AddTask(context.Background(), utils.AddRequest{URL: server.URL + "/two.bin", FileName: "two.bin"})
	waitFor(t, "first request", func() bool { return active.Load() == 1 })
	time.Sleep(50 * time.Millisecond)
	if st := h.task(t, second.ID).Status; st != utils.StatusQueued {
		t.Errorf("second task should wait in the queue, got %s", st)
	}
	if err := h.s.Start(second.ID); err != nil {
		t.Fatalf("Start on waiting task: %v", err)
	}
	close(release)
	h.wait(t)

	for _, id := range []string{first.ID, second.ID} {
		if st := h.task(t, id).Status; st != utils.StatusCompleted {
			t.Errorf("task %s: expected completed, got %s", id, st)
		}
	}
	if p := peak.Load(); p != 1 {
		t.Errorf("expected at most one concurrent transfer, saw %d", p)
	}
}

func TestUnknownTask(t *testing.T) {
	h := newHarness(t, nil)
	for name, op := range map[string]func(string) error{"start": h.s.Start, "pause": h.s.Pause, "cancel": h.s.Cancel} {
		if err := op("task-missing"); !errors.Is(err, utils.ErrTaskNotFound) {
			t.Errorf("%s: expected ErrTaskNotFound, got %v", name, err)
		}
	}
}

func TestAddTaskInvalidURL(t *testing.T) {
	h := newHarness(t, nil)
	if _, err := h.s.AddTask(context.Background(), utils.AddRequest{URL: "ftp://example.test/x", FileName: "x"}); !errors.Is(err, utils.ErrInvalidURL) {
		t.Errorf("expected ErrInvalidURL, got %v", err)
	}
	if len(h.s.ListTasks()) != 0 {
		t.Error("invalid URL must not create a task")
	}
}

func TestAddTaskRenewsTakenPath(t *testing.T) {
	h := newHarness(t, func(s *utils.Settings) { s.AutoStart = false })
	os.WriteFile(filepath.Join(h.dir, "file.bin"), []byte("existing"), 0644)

	first, err := h.s.AddTask(context.Background(), utils.AddRequest{URL: "https://example.test/file.bin", FileName: "file.bin"})
	if err != nil {
		t.Fatalf("AddTask: %v", err)
	}
	second, _ := h.s.AddTask(context.Background(), utils.AddRequest{URL: "https://example.test/file.bin", FileName: "file.bin"})
	if first.FileName != "file-(1).bin" || second.FileName != "file-(2).bin" {
		t.Errorf("expected renewed names, got %q and %q", first.FileName, second.FileName)
	}
	if first.Status != utils.StatusQueued || first.Connections != 8 || first.FileType != utils.FileTypeOther {
		t.Errorf("unexpected new task %+v", first)
	}
	if err := h.s.Pause(first.ID); err != nil || h.task(t, first.ID).Status != utils.StatusQueued {
		t.Errorf("pausing an idle queued task should be a no-op, err=%v", err)
	}
}

func TestLoadNormalizesInterruptedTasks(t *testing.T) {
	created := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	settings := utils.DefaultSettings()
	settings.MaxConcurrentDownloads = 2
	downloads := []utils.DownloadTask{
		{ID: "task-a", Status: utils.StatusDownloading, Speed: 500, FileName: "a", CreatedAt: created},
		{ID: "task-b", Status: utils.StatusRetrying, ErrorMessage: "connection error", FileName: "b", CreatedAt: created},
		{ID: "task-c", Status: utils.StatusVerifying, FileName: "c", CreatedAt: created},
		{ID: "task-d", Status: utils.StatusCompleted, Progress: 100, FileName: "d", CreatedAt: created},
		{ID: "task-e", Status: utils.StatusFailed, ErrorMessage: "server returned an error: 404", FileName: "e", CreatedAt: created},
	}
	store := &memoryStore{snap: utils.Snapshot{Downloads: append([]utils.DownloadTask(nil), downloads...), Settings: settings}}
	s := New(Options{Store: store})
	t.Cleanup(func() { s.Close() })
	if err := s.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := map[string]utils.Status{
		"task-a": utils.StatusPaused, "task-b": utils.StatusPaused, "task-c": utils.StatusPaused,
		"task-d": utils.StatusCompleted, "task-e": utils.StatusFailed,
	}
	tasks := s.ListTasks()
	if len(tasks) != len(want) {
		t.Fatalf("expected %d tasks, got %d", len(want), len(tasks))
	}
	for i, task := range tasks {
		if task.ID != downloads[i].ID {
			t.Errorf("order not preserved at %d: %s", i, task.ID)
		}
		if task.Status != want[task.ID] {
			t.Errorf("%s: expected %s, got %s", task.ID, want[task.ID], task.Status)
		}
		if task.Status == utils.StatusPaused && (task.ErrorMessage != "" || task.Speed != 0) {
			t.Errorf("%s: normalized task should have no error or speed", task.ID)
		}
	}
	if s.Settings().MaxConcurrentDownloads != 2 {
		t.Error("settings were not loaded")
	}
}

func TestStatePersistedOnClose(t *testing.T) {
	store := &memoryStore{}
	s := New(Options{Store: store})
	settings := utils.DefaultSettings()
	settings.AutoStart = false
	settings.DownloadFolder = t.TempDir()
	s.UpdateSettings(settings)
	task, err := s.AddTask(context.Background(), utils.AddRequest{URL: "https://example.test/a.pdf", FileName: "a.pdf", TotalSize: 10})
	if err != nil {
		t.Fatalf("AddTask: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	snap := store.saved()
	if len(snap.Downloads) != 1 || snap.Downloads[0].ID != task.ID || snap.Settings.AutoStart {
		t.Errorf("unexpected persisted snapshot %+v", snap)
	}
	if err := s.Start(task.ID); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed after Close, got %v", err)
	}
	if _, err := s.UpdateSettings(settings); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed from UpdateSettings after Close, got %v", err)
	}
}

func TestUpdateSettingsRejectsNegativeRetryValues(t *testing.T) {
	h := newHarness(t, nil)
	settings := h.s.Settings()
	settings.ResumeDelay = -time.Second
	if _, err := h.s.UpdateSettings(settings); !errors.Is(err, utils.ErrInvalidSettings) {
		t.Fatalf("expected ErrInvalidSettings, got %v", err)
	}
	if h.s.Settings().ResumeDelay != 10*time.Millisecond {
		t.Errorf("rejected settings were applied: %v", h.s.Settings().ResumeDelay)
	}
}

// retryingTask adds a task against a server that always fails and waits
// until the task sits in its retry backoff.
func retryingTask(t *testing.T, h *harness, hits *atomic.Int32) utils.DownloadTask {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	t.Cleanup(server.Close)
	task, err := h.s.AddTask(context.Background(), utils.AddRequest{URL: server.URL + "/flaky.iso", FileName: "flaky.iso", TotalSize: 100})
	if err != nil {
		t.Fatalf("AddTask: %v", err)
	}
	waitFor(t, "retrying status", func() bool {
		got, err := h.s.GetTask(task.ID)
		return err == nil && got.Status == utils.StatusRetrying
	})
	msg := h.task(t, task.ID).ErrorMessage
	if !strings.Contains(msg, ". Retrying in 500ms (attempt 1 of 5)") {
		t.Errorf("unexpected retry message %q", msg)
	}
	return task
}

const backoffDelay = 500 * time.Millisecond

func TestPauseDuringBackoff(t *testing.T) {
	var hits atomic.Int32
	h := newHarness(t, func(s *utils.Settings) { s.ResumeDelay = backoffDelay })
	task := retryingTask(t, h, &hits)

	start := time.Now()
	if err := h.s.Pause(task.ID); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if elapsed := time.Since(start); elapsed > backoffDelay/2 {
		t.Errorf("pause waited for the backoff: %v", elapsed)
	}
	time.Sleep(backoffDelay + 200*time.Millisecond)
	if n := hits.Load(); n != 1 {
		t.Errorf("expected the pending retry to be dropped, server saw %d requests", n)
	}
	final := h.task(t, task.ID)
	if final.Status != utils.StatusPaused || final.ErrorMessage != "" {
		t.Errorf("expected paused task without error, got %s %q", final.Status, final.ErrorMessage)
	}
}

func TestCancelDuringBackoff(t *testing.T) {
	var hits atomic.Int32
	h := newHarness(t, func(s *utils.Settings) { s.ResumeDelay = backoffDelay })
	task := retryingTask(t, h, &hits)

	start := time.Now()
	if err := h.s.Cancel(task.ID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if elapsed := time.Since(start); elapsed > backoffDelay/2 {
		t.Errorf("cancel waited for the backoff: %v", elapsed)
	}
	time.Sleep(backoffDelay + 200*time.Millisecond)
	if n := hits.Load(); n != 1 {
		t.Errorf("expected the pending retry to be dropped, server saw %d requests", n)
	}
	if _, err := h.s.GetTask(task.ID); !errors.Is(err, utils.ErrTaskNotFound) {
		t.Errorf("expected task to be gone, got %v", err)
	}
	if !h.obs.removed(task.ID) {
		t.Error("expected a download_removed event")
	}
}

func TestClosePausesRunningTasks(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Accept-Ranges", "bytes")
		w.Header().Set("Content-Length", "1000")
		w.Write(payload(250))
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer server.Close()
	store := &memoryStore{}
	s := New(Options{Store: store})
	settings := utils.DefaultSettings()
	settings.DownloadFolder = t.TempDir()
	s.UpdateSettings(settings)

	task, _ := s.AddTask(context.Background(), utils.AddRequest{URL: server.URL + "/v.mkv", FileName: "v.mkv", TotalSize: 1000})
	path := filepath.Join(settings.DownloadFolder, "v.mkv")
	waitFor(t, "partial data", func() bool { return fileSize(path) == 250 })
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	snap := store.saved()
	if len(snap.Downloads) != 1 {
		t.Fatalf("expected one persisted task, got %d", len(snap.Downloads))
	}
	saved := snap.Downloads[0]
	if saved.ID != task.ID || saved.Status != utils.StatusPaused || saved.DownloadedSize != 250 {
		t.Errorf("expected paused task at 250 bytes, got %s at %d", saved.Status, saved.DownloadedSize)
	}
}
