package utils

import "time"

type Status string

const (
	StatusQueued      Status = "queued"
	StatusDownloading Status = "downloading"
	StatusPaused      Status = "paused"
	StatusRetrying    Status = "retrying"
	StatusVerifying   Status = "verifying"
	StatusCompleted   Status = "completed"
	StatusFailed      Status = "failed"
)

// Active reports whether a task in this status is owned by a running unit.
func (s Status) Active() bool {
	return s == StatusDownloading || s == StatusRetrying || s == StatusVerifying
}

type FileType string

const (
	FileTypeVideo      FileType = "Video"
	FileTypeAudio      FileType = "Audio"
	FileTypeImage      FileType = "Image"
	FileTypeArchive    FileType = "Archive"
	FileTypeExecutable FileType = "Executable"
	FileTypeDocument   FileType = "Document"
	FileTypeOther      FileType = "Other"
)

type DownloadTask struct {
	ID               string     `json:"id" yaml:"id"`
	URL              string     `json:"url" yaml:"url"`
	Status           Status     `json:"status" yaml:"status"`
	Progress         float64    `json:"progress" yaml:"progress"`
	FileName         string     `json:"fileName" yaml:"file_name"`
	SavePath         string     `json:"savePath" yaml:"save_path"`
	TotalSize        int64      `json:"totalSize" yaml:"total_size"`
	DownloadedSize   int64      `json:"downloadedSize" yaml:"downloaded_size"`
	Speed            int64      `json:"speed" yaml:"speed"`
	TimeRemaining    *int64     `json:"timeRemaining,omitempty" yaml:"time_remaining,omitempty"`
	ResumeCapability bool       `json:"resumeCapability" yaml:"resume_capability"`
	ErrorMessage     string     `json:"errorMessage,omitempty" yaml:"error_message,omitempty"`
	CreatedAt        time.Time  `json:"createdAt" yaml:"created_at"`
	CompletedAt      *time.Time `json:"completedAt,omitempty" yaml:"completed_at,omitempty"`
	FileType         FileType   `json:"fileType" yaml:"file_type"`
	Connections      int        `json:"connections" yaml:"connections"`
	ResumeAttempts   int        `json:"resumeAttempts" yaml:"resume_attempts"`
}

// FilePath is the full destination path of the task.
func (t *DownloadTask) FilePath() string {
	return JoinPath(t.SavePath, t.FileName)
}

// Clone returns a deep copy safe to hand out of the registry.
func (t *DownloadTask) Clone() DownloadTask {
	c := *t
	if t.TimeRemaining != nil {
		v := *t.TimeRemaining
		c.TimeRemaining = &v
	}
	if t.CompletedAt != nil {
		v := *t.CompletedAt
		c.CompletedAt = &v
	}
	return c
}

// SetDownloaded updates the byte count and recomputes the percentage.
func (t *DownloadTask) SetDownloaded(downloaded int64) {
	if t.TotalSize > 0 && downloaded > t.TotalSize {
		downloaded = t.TotalSize
	}
	t.DownloadedSize = downloaded
	t.Progress = ComputeProgress(downloaded, t.TotalSize)
}

type Settings struct {
	DownloadFolder            string        `json:"downloadFolder" yaml:"download_folder"`
	MaxConcurrentDownloads    int           `json:"maxConcurrentDownloads" yaml:"max_concurrent_downloads"`
	MaxConnectionsPerDownload int           `json:"maxConnectionsPerDownload" yaml:"max_connections_per_download"`
	AutoStart                 bool          `json:"autoStart" yaml:"auto_start"`
	ShowNotifications         bool          `json:"showNotifications" yaml:"show_notifications"`
	AutoResumeDownloads       bool          `json:"autoResumeDownloads" yaml:"auto_resume_downloads"`
	MaxResumeAttempts         int           `json:"maxResumeAttempts" yaml:"max_resume_attempts"`
	ResumeDelay               time.Duration `json:"resumeDelay" yaml:"resume_delay"`
	MinFailDuration           time.Duration `json:"minFailDuration" yaml:"min_fail_duration"`
}

// Snapshot is the persisted document: every task plus the settings.
type Snapshot struct {
	Downloads []DownloadTask `json:"downloads" yaml:"downloads"`
	Settings  Settings       `json:"settings" yaml:"settings"`
}

type DownloadInfo struct {
	FinalURL  string   `json:"finalUrl"`
	FileName  string   `json:"fileName"`
	TotalSize int64    `json:"totalSize"`
	FileType  FileType `json:"fileType"`
}

type AddRequest struct {
	URL       string `json:"url" binding:"required"`
	FileName  string `json:"fileName"`
	TotalSize int64  `json:"totalSize"`
	SavePath  string `json:"savePath"`
}

type EventKind string

const (
	EventTaskUpdated     EventKind = "task_updated"
	EventDownloadRemoved EventKind = "download_removed"
)

type Event struct {
	Kind EventKind     `json:"kind"`
	ID   string        `json:"id"`
	Task *DownloadTask `json:"task,omitempty"`
}

type BatchEntry struct {
	OutputPath string `yaml:"op,omitempty"`
	Link       string `yaml:"link"`
}
