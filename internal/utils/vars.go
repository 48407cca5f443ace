package utils

import (
	"os"
	"path/filepath"
	"time"
)

const DefaultBufferSize = 64 * 1024 // 64KB read buffer per stream
const SampleInterval = 100 * time.Millisecond
const LogFile = ".velodown.log"
const StateFile = "state.yaml"
const ToolUserAgent = "velodown/1.0"

func DefaultSettings() Settings {
	return Settings{
		DownloadFolder:            DefaultDownloadFolder(),
		MaxConcurrentDownloads:    4,
		MaxConnectionsPerDownload: 8,
		AutoStart:                 true,
		ShowNotifications:         true,
		AutoResumeDownloads:       true,
		MaxResumeAttempts:         5,
		ResumeDelay:               10 * time.Second,
		MinFailDuration:           20 * time.Second,
	}
}

func DefaultDownloadFolder() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "Downloads"
	}
	return filepath.Join(home, "Downloads")
}

func DefaultStatePath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return StateFile
	}
	return filepath.Join(dir, "velodown", StateFile)
}

var extensionTypes = map[string]FileType{
	"mp4": FileTypeVideo, "avi": FileTypeVideo, "mkv": FileTypeVideo, "mov": FileTypeVideo, "wmv": FileTypeVideo,
	"mp3": FileTypeAudio, "wav": FileTypeAudio, "flac": FileTypeAudio, "aac": FileTypeAudio, "ogg": FileTypeAudio,
	"jpg": FileTypeImage, "jpeg": FileTypeImage, "png": FileTypeImage, "gif": FileTypeImage, "bmp": FileTypeImage, "svg": FileTypeImage,
	"zip": FileTypeArchive, "rar": FileTypeArchive, "7z": FileTypeArchive, "tar": FileTypeArchive, "gz": FileTypeArchive,
	"exe": FileTypeExecutable, "msi": FileTypeExecutable, "dmg": FileTypeExecutable, "deb": FileTypeExecutable, "rpm": FileTypeExecutable,
	"pdf": FileTypeDocument, "doc": FileTypeDocument, "docx": FileTypeDocument, "txt": FileTypeDocument, "odt": FileTypeDocument,
}

// Local-only User-Agent list
var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/133.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/18.3 Safari/605.1.15",
	"Mozilla/5.0 (X11; Linux x86_64; rv:136.0) Gecko/20100101 Firefox/136.0",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/132.0.0.0 Safari/537.36 Edg/132.0.0.0",
	"curl/8.5.0",
}
