package scheduler

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	velohttp "github.com/tanq16/velodown/internal/downloaders/http"
	"github.com/tanq16/velodown/internal/store"
	"github.com/tanq16/velodown/internal/utils"
)

var ErrClosed = utils.ErrClosed

// Observer receives every committed task mutation. Notify runs with the
// registry locked and must not block.
type Observer interface {
	Notify(ev utils.Event)
}

// Observers forwards each event to several observers in order.
type Observers []Observer

func (o Observers) Notify(ev utils.Event) {
	for _, obs := range o {
		obs.Notify(ev)
	}
}

// Notifier tells the user about finished downloads. Errors are ignored.
type Notifier interface {
	NotifyUser(title, body string) error
}

type Options struct {
	Store    store.Store
	Observer Observer
	Notifier Notifier
	Client   *utils.VeloHTTPClient
}

// execution is the handle of one running unit. A unit may only mutate its
// task while s.running[id] still points at its handle.
type execution struct {
	id     string
	cancel context.CancelFunc
	done   chan struct{}
}

type Scheduler struct {
	mu       sync.Mutex
	tasks    map[string]*utils.DownloadTask
	order    []string
	settings utils.Settings
	running  map[string]*execution
	waiting  []string
	lastDone map[string]chan struct{}
	idle     chan struct{}
	closed   bool

	store    store.Store
	observer Observer
	notifier Notifier
	client   *utils.VeloHTTPClient
	log      zerolog.Logger

	units   sync.WaitGroup
	dirty   chan struct{}
	stop    chan struct{}
	flushed chan struct{}
}

func New(opts Options) *Scheduler {
	if opts.Client == nil {
		opts.Client = utils.NewVeloHTTPClient(utils.HTTPClientConfig{})
	}
	s := &Scheduler{
		tasks:    make(map[string]*utils.DownloadTask),
		settings: utils.DefaultSettings(),
		running:  make(map[string]*execution),
		lastDone: make(map[string]chan struct{}),
		store:    opts.Store,
		observer: opts.Observer,
		notifier: opts.Notifier,
		client:   opts.Client,
		log:      utils.GetLogger("scheduler"),
		dirty:    make(chan struct{}, 1),
		stop:     make(chan struct{}),
		flushed:  make(chan struct{}),
	}
	go s.flushLoop()
	return s
}

// Resolve inspects a URL without creating a task.
func (s *Scheduler) Resolve(ctx context.Context, rawURL string) (utils.DownloadInfo, error) {
	return velohttp.Resolve(ctx, s.client, rawURL)
}

// AddTask creates a Queued task. A missing file name is resolved from the
// server first. The task starts right away when AutoStart is set.
func (s *Scheduler) AddTask(ctx context.Context, req utils.AddRequest) (utils.DownloadTask, error) {
	if _, err := velohttp.ValidateURL(req.URL); err != nil {
		return utils.DownloadTask{}, err
	}
	fileName := filepath.Base(filepath.Clean("/" + req.FileName))
	totalSize := req.TotalSize
	if req.FileName == "" || fileName == "/" {
		info, err := s.Resolve(ctx, req.URL)
		if err != nil {
			return utils.DownloadTask{}, err
		}
		fileName = info.FileName
		if totalSize <= 0 {
			totalSize = info.TotalSize
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return utils.DownloadTask{}, ErrClosed
	}
	savePath := req.SavePath
	if savePath == "" {
		savePath = s.settings.DownloadFolder
	}
	target := utils.RenewOutputPath(utils.JoinPath(savePath, fileName), s.pathInUseLocked)
	task := &utils.DownloadTask{
		ID:          "task-" + uuid.New().String(),
		URL:         req.URL,
		Status:      utils.StatusQueued,
		FileName:    filepath.Base(target),
		SavePath:    savePath,
		TotalSize:   max(totalSize, 0),
		CreatedAt:   time.Now().UTC(),
		FileType:    utils.GetFileType(fileName),
		Connections: s.settings.MaxConnectionsPerDownload,
	}
	s.tasks[task.ID] = task
	s.order = append(s.order, task.ID)
	s.commitLocked(task)
	s.log.Info().Str("id", task.ID).Str("file", task.FilePath()).Msg("Task added")
	if s.settings.AutoStart {
		s.startLocked(task)
	}
	return task.Clone(), nil
}

// Start spawns a unit for the task, or queues it when the concurrency limit
// is reached. Running, waiting and completed tasks are left alone.
func (s *Scheduler) Start(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	task, ok := s.tasks[id]
	if !ok {
		return fmt.Errorf("%w: %s", utils.ErrTaskNotFound, id)
	}
	s.startLocked(task)
	return nil
}

func (s *Scheduler) startLocked(task *utils.DownloadTask) {
	if task.Status == utils.StatusCompleted || s.running[task.ID] != nil || slices.Contains(s.waiting, task.ID) {
		return
	}
	if s.atCapacityLocked() {
		s.waiting = append(s.waiting, task.ID)
		s.busyLocked()
		s.log.Debug().Str("id", task.ID).Int("position", len(s.waiting)).Msg("Task waiting for a free slot")
		return
	}
	s.spawnLocked(task.ID)
}

func (s *Scheduler) spawnLocked(id string) {
	ctx, cancel := context.WithCancel(context.Background())
	exec := &execution{id: id, cancel: cancel, done: make(chan struct{})}
	prev := s.lastDone[id]
	s.lastDone[id] = exec.done
	s.running[id] = exec
	s.busyLocked()
	s.units.Add(1)
	go s.run(ctx, exec, prev)
}

func (s *Scheduler) atCapacityLocked() bool {
	limit := s.settings.MaxConcurrentDownloads
	return limit > 0 && len(s.running) >= limit
}

// admitLocked starts waiting tasks in arrival order while slots are free.
func (s *Scheduler) admitLocked() {
	for len(s.waiting) > 0 && !s.atCapacityLocked() && !s.closed {
		id := s.waiting[0]
		s.waiting = s.waiting[1:]
		if _, ok := s.tasks[id]; ok {
			s.spawnLocked(id)
		}
	}
	s.checkIdleLocked()
}

// Pause stops the task and keeps its record and partial file for a later
// Start. It returns once the unit has exited.
func (s *Scheduler) Pause(id string) error {
	s.mu.Lock()
	task, ok := s.tasks[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", utils.ErrTaskNotFound, id)
	}
	exec := s.running[id]
	queued := slices.Contains(s.waiting, id)
	if exec == nil && !queued {
		s.mu.Unlock()
		return nil
	}
	s.waiting = slices.DeleteFunc(s.waiting, func(w string) bool { return w == id })
	if exec != nil {
		delete(s.running, id)
		exec.cancel()
	}
	markPaused(task)
	s.commitLocked(task)
	s.admitLocked()
	s.mu.Unlock()

	if exec != nil {
		<-exec.done
		s.reconcile(id)
	}
	s.log.Info().Str("id", id).Msg("Task paused")
	return nil
}

// Cancel removes the task from the registry and stops its unit. The partial
// file stays on disk.
func (s *Scheduler) Cancel(id string) error {
	s.mu.Lock()
	if _, ok := s.tasks[id]; !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", utils.ErrTaskNotFound, id)
	}
	s.waiting = slices.DeleteFunc(s.waiting, func(w string) bool { return w == id })
	if exec := s.running[id]; exec != nil {
		delete(s.running, id)
		exec.cancel()
	}
	delete(s.tasks, id)
	s.order = slices.DeleteFunc(s.order, func(o string) bool { return o == id })
	done := s.lastDone[id]
	delete(s.lastDone, id)
	if s.observer != nil {
		s.observer.Notify(utils.Event{Kind: utils.EventDownloadRemoved, ID: id})
	}
	s.markDirty()
	s.admitLocked()
	s.mu.Unlock()

	if done != nil {
		<-done
	}
	s.log.Info().Str("id", id).Msg("Task removed")
	return nil
}

// ListTasks returns copies of all tasks in creation order.
func (s *Scheduler) ListTasks() []utils.DownloadTask {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]utils.DownloadTask, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.tasks[id].Clone())
	}
	return out
}

func (s *Scheduler) GetTask(id string) (utils.DownloadTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[id]
	if !ok {
		return utils.DownloadTask{}, fmt.Errorf("%w: %s", utils.ErrTaskNotFound, id)
	}
	return task.Clone(), nil
}

func (s *Scheduler) Settings() utils.Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings
}

// UpdateSettings replaces the settings. Running units read the new retry
// settings on their next failure and a raised limit admits waiting tasks.
func (s *Scheduler) UpdateSettings(settings utils.Settings) (utils.Settings, error) {
	if settings.MaxResumeAttempts < 0 || settings.ResumeDelay < 0 || settings.MinFailDuration < 0 {
		return utils.Settings{}, fmt.Errorf("%w: negative retry values", utils.ErrInvalidSettings)
	}
	if settings.DownloadFolder == "" {
		settings.DownloadFolder = utils.DefaultDownloadFolder()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return utils.Settings{}, ErrClosed
	}
	s.settings = settings
	s.markDirty()
	s.admitLocked()
	return s.settings, nil
}

// Wait blocks until no task is running or waiting for a slot.
func (s *Scheduler) Wait(ctx context.Context) error {
	s.mu.Lock()
	idle := s.idle
	s.mu.Unlock()
	if idle == nil {
		return nil
	}
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close pauses every active task, waits for all units to exit and writes the
// final state.
func (s *Scheduler) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	var paused []string
	for id, exec := range s.running {
		exec.cancel()
		if task, ok := s.tasks[id]; ok {
			markPaused(task)
			s.commitLocked(task)
		}
		paused = append(paused, id)
	}
	clear(s.running)
	for _, id := range s.waiting {
		if task, ok := s.tasks[id]; ok && task.Status != utils.StatusPaused {
			markPaused(task)
			s.commitLocked(task)
		}
	}
	s.waiting = nil
	s.checkIdleLocked()
	s.mu.Unlock()

	s.units.Wait()
	for _, id := range paused {
		s.reconcile(id)
	}
	close(s.stop)
	<-s.flushed
	s.log.Debug().Int("paused", len(paused)).Msg("Scheduler closed")
	return nil
}

func markPaused(task *utils.DownloadTask) {
	task.Status = utils.StatusPaused
	task.Speed = 0
	task.TimeRemaining = nil
	task.ErrorMessage = ""
}

// reconcile sets the downloaded size of a stopped task to the length of its
// partial file, which is where the next attempt resumes.
func (s *Scheduler) reconcile(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[id]
	if !ok || s.running[id] != nil || task.Status != utils.StatusPaused {
		return
	}
	info, err := os.Stat(task.FilePath())
	if err != nil {
		return
	}
	if info.Size() != task.DownloadedSize {
		task.SetDownloaded(info.Size())
		s.commitLocked(task)
	}
}

func (s *Scheduler) pathInUseLocked(path string) bool {
	for _, task := range s.tasks {
		if task.FilePath() == path {
			return true
		}
	}
	return false
}

// commitLocked publishes a mutated task to the observer and schedules a flush.
func (s *Scheduler) commitLocked(task *utils.DownloadTask) {
	if s.observer != nil {
		snap := task.Clone()
		s.observer.Notify(utils.Event{Kind: utils.EventTaskUpdated, ID: task.ID, Task: &snap})
	}
	s.markDirty()
}

func (s *Scheduler) busyLocked() {
	if s.idle == nil {
		s.idle = make(chan struct{})
	}
}

func (s *Scheduler) checkIdleLocked() {
	if s.idle != nil && len(s.running) == 0 && len(s.waiting) == 0 {
		close(s.idle)
		s.idle = nil
	}
}
