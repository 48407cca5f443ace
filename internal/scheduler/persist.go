package scheduler

import (
	"context"
	"time"

	"github.com/tanq16/velodown/internal/utils"
)

const saveTimeout = 30 * time.Second

// Load replaces the registry with the stored snapshot. A failed load leaves
// an empty registry with default settings and is returned for logging only.
// Tasks that were active when the state was written come back Paused.
func (s *Scheduler) Load(ctx context.Context) error {
	if s.store == nil {
		return nil
	}
	snap, err := s.store.Load(ctx)
	if err != nil {
		s.log.Warn().Err(err).Msg("Could not load saved state, starting empty")
		snap = utils.Snapshot{Settings: utils.DefaultSettings()}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings = snap.Settings
	clear(s.tasks)
	s.order = s.order[:0]
	normalized := 0
	for i := range snap.Downloads {
		task := snap.Downloads[i]
		if task.ID == "" {
			continue
		}
		if _, dup := s.tasks[task.ID]; dup {
			continue
		}
		if task.Status.Active() {
			markPaused(&task)
			normalized++
		}
		s.tasks[task.ID] = &task
		s.order = append(s.order, task.ID)
	}
	if normalized > 0 {
		s.markDirty()
	}
	s.log.Debug().Int("tasks", len(s.order)).Int("interrupted", normalized).Msg("State loaded")
	return err
}

func (s *Scheduler) markDirty() {
	select {
	case s.dirty <- struct{}{}:
	default:
	}
}

// flushLoop saves the registry whenever it is marked dirty. Each save takes a
// fresh snapshot, so a burst of mutations collapses into one write of the
// newest state.
func (s *Scheduler) flushLoop() {
	defer close(s.flushed)
	for {
		select {
		case <-s.dirty:
			s.flush()
		case <-s.stop:
			s.flush()
			return
		}
	}
}

func (s *Scheduler) flush() {
	if s.store == nil {
		return
	}
	snap := s.snapshot()
	ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	defer cancel()
	if err := s.store.Save(ctx, snap); err != nil {
		s.log.Error().Err(err).Msg("Failed to save state")
	}
}

func (s *Scheduler) snapshot() utils.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := utils.Snapshot{
		Downloads: make([]utils.DownloadTask, 0, len(s.order)),
		Settings:  s.settings,
	}
	for _, id := range s.order {
		snap.Downloads = append(snap.Downloads, s.tasks[id].Clone())
	}
	return snap
}
