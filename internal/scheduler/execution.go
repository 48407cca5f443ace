package scheduler

import (
	"context"
	"fmt"
	"os"
	"time"

	velohttp "github.com/tanq16/velodown/internal/downloaders/http"
	"github.com/tanq16/velodown/internal/retry"
	"github.com/tanq16/velodown/internal/utils"
)

// run drives one task until it completes, fails for good, or its handle is
// revoked. It waits for the task's previous unit so only one unit ever writes
// the destination file.
func (s *Scheduler) run(ctx context.Context, exec *execution, prev <-chan struct{}) {
	defer s.finish(exec)
	if prev != nil {
		select {
		case <-prev:
		case <-ctx.Done():
			return
		}
	}
	log := s.log.With().Str("id", exec.id).Logger()
	sink := &taskSink{s: s, exec: exec}
	for {
		attempt, ok := s.beginAttempt(exec)
		if !ok {
			return
		}
		log.Debug().Int64("offset", attempt.ResumeFrom).Msg("Starting attempt")
		started := time.Now()
		err := velohttp.Transfer(ctx, s.client, attempt, sink)
		if err == nil {
			s.notifyCompleted(exec.id)
			return
		}
		if ctx.Err() != nil {
			log.Debug().Msg("Attempt stopped")
			return
		}
		delay, retrying := s.attemptFailed(exec, err, time.Since(started))
		if !retrying {
			return
		}
		log.Info().Err(err).Dur("delay", delay).Msg("Attempt failed, retrying")
		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return
		}
	}
}

func (s *Scheduler) finish(exec *execution) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running[exec.id] == exec {
		delete(s.running, exec.id)
	}
	exec.cancel()
	close(exec.done)
	s.admitLocked()
	s.units.Done()
}

// ownedLocked returns the task only while exec still holds its capability.
func (s *Scheduler) ownedLocked(exec *execution) *utils.DownloadTask {
	if s.running[exec.id] != exec {
		return nil
	}
	return s.tasks[exec.id]
}

// beginAttempt moves the task to Downloading. Leaving Retrying or Failed
// consumes one resume attempt; leaving Queued or Paused does not. The resume
// offset is the length of the partial file on disk.
func (s *Scheduler) beginAttempt(exec *execution) (velohttp.Attempt, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	task := s.ownedLocked(exec)
	if task == nil {
		return velohttp.Attempt{}, false
	}
	if task.Status == utils.StatusRetrying || task.Status == utils.StatusFailed {
		task.ResumeAttempts++
	}
	var offset int64
	if info, err := os.Stat(task.FilePath()); err == nil && info.Mode().IsRegular() {
		offset = info.Size()
	}
	if task.TotalSize > 0 && offset >= task.TotalSize {
		// a full-length leftover cannot be resumed; fetch it again
		offset = 0
	}
	task.Status = utils.StatusDownloading
	task.ErrorMessage = ""
	task.Speed = 0
	task.TimeRemaining = nil
	task.CompletedAt = nil
	task.SetDownloaded(offset)
	s.commitLocked(task)
	return velohttp.Attempt{URL: task.URL, FilePath: task.FilePath(), ResumeFrom: offset}, true
}

// attemptFailed applies the retry policy. It reports the backoff delay and
// whether the unit should try again.
func (s *Scheduler) attemptFailed(exec *execution, err error, elapsed time.Duration) (time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	task := s.ownedLocked(exec)
	if task == nil {
		return 0, false
	}
	decision := retry.Classify(err, task.ResumeAttempts, elapsed, s.settings)
	task.Speed = 0
	task.TimeRemaining = nil
	if decision.Action == retry.FailPermanently {
		task.Status = utils.StatusFailed
		task.ErrorMessage = err.Error()
		s.commitLocked(task)
		s.log.Warn().Str("id", task.ID).Err(err).Str("reason", decision.Reason).Msg("Task failed")
		return 0, false
	}
	task.Status = utils.StatusRetrying
	task.ErrorMessage = fmt.Sprintf("%v. Retrying in %s (attempt %d of %d)",
		err, decision.Delay, task.ResumeAttempts+1, s.settings.MaxResumeAttempts)
	s.commitLocked(task)
	return decision.Delay, true
}

func (s *Scheduler) notifyCompleted(id string) {
	s.mu.Lock()
	task, ok := s.tasks[id]
	show := s.settings.ShowNotifications
	var name string
	if ok {
		ok = task.Status == utils.StatusCompleted
		name = task.FileName
	}
	s.mu.Unlock()
	if !ok || !show || s.notifier == nil {
		return
	}
	if err := s.notifier.NotifyUser("Download Complete", name+" has been downloaded successfully"); err != nil {
		s.log.Debug().Err(err).Msg("Completion notification failed")
	}
}

// taskSink applies transfer progress to the registry. Every update is
// dropped once the unit's capability is revoked.
type taskSink struct {
	s    *Scheduler
	exec *execution
}

func (k *taskSink) Started(offset, total int64, resumable bool) {
	k.s.mu.Lock()
	defer k.s.mu.Unlock()
	task := k.s.ownedLocked(k.exec)
	if task == nil {
		return
	}
	if total > 0 {
		task.TotalSize = total
	}
	task.ResumeCapability = resumable
	task.SetDownloaded(offset)
	k.s.commitLocked(task)
}

func (k *taskSink) Progress(sample velohttp.Sample) {
	k.s.mu.Lock()
	defer k.s.mu.Unlock()
	task := k.s.ownedLocked(k.exec)
	if task == nil {
		return
	}
	if sample.Total > 0 {
		task.TotalSize = sample.Total
	}
	task.SetDownloaded(sample.Downloaded)
	task.Speed = sample.Speed
	task.TimeRemaining = sample.TimeRemaining
	k.s.commitLocked(task)
}

func (k *taskSink) Verifying() {
	k.s.mu.Lock()
	defer k.s.mu.Unlock()
	task := k.s.ownedLocked(k.exec)
	if task == nil {
		return
	}
	task.Status = utils.StatusVerifying
	task.Speed = 0
	task.TimeRemaining = nil
	k.s.commitLocked(task)
}

func (k *taskSink) Completed(total int64) {
	k.s.mu.Lock()
	defer k.s.mu.Unlock()
	task := k.s.ownedLocked(k.exec)
	if task == nil {
		return
	}
	now := time.Now().UTC()
	task.Status = utils.StatusCompleted
	task.TotalSize = total
	task.DownloadedSize = total
	task.Progress = 100
	task.Speed = 0
	task.TimeRemaining = nil
	task.ErrorMessage = ""
	task.CompletedAt = &now
	k.s.commitLocked(task)
	k.s.log.Info().Str("id", task.ID).Str("file", task.FilePath()).Msg("Task completed")
}
